// Package augment perturbs training samples with independent stochastic
// transforms. Photometric transforms touch the image only; geometric
// transforms (rotation, flip, elastic deformation) are applied identically
// to image, mask, and weight map so pixel correspondence survives. All
// randomness comes from the injected *rand.Rand, so a fixed seed reproduces
// the full transform sequence for a sample.
package augment

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"math/rand"

	"github.com/disintegration/imaging"
	"github.com/lucasb-eyer/go-colorful"

	"github.com/josegcpa/unet/internal/raster"
	"github.com/josegcpa/unet/internal/stream"
)

// Augmenter applies one profile's transforms. Not safe for concurrent use:
// it owns its rng. Fork per-worker copies for parallel streams.
type Augmenter struct {
	prof *Profile
	rng  *rand.Rand
}

// New builds an augmenter. A nil profile means all defaults.
func New(prof *Profile, rng *rand.Rand) *Augmenter {
	return &Augmenter{prof: prof, rng: rng}
}

// Fork derives an independent augmenter seeded from this one's rng, for use
// on another worker goroutine.
func (a *Augmenter) Fork() *Augmenter {
	return &Augmenter{prof: a.prof, rng: rand.New(rand.NewSource(a.rng.Int63()))}
}

// Mapper adapts the augmenter to the stream's per-sample transform type.
func (a *Augmenter) Mapper() stream.Mapper {
	return a.Apply
}

// Apply transforms one sample. Transforms compose in a fixed order:
// brightness, saturation, hue, contrast, salt-and-pepper, Gaussian noise,
// blur, JPEG degradation, then rotation, flip, elastic deformation.
func (a *Augmenter) Apply(s stream.Sample) (stream.Sample, error) {
	img, err := a.photometric(s.Image)
	if err != nil {
		return stream.Sample{}, fmt.Errorf("augment %s: %w", s.ID, err)
	}
	out := stream.Sample{ID: s.ID, Image: img, Mask: s.Mask, Weight: s.Weight}

	if a.prof.GetRot90() {
		if k := a.rng.Intn(4); k != 0 {
			out.Image = out.Image.Rot90(k)
			if out.HasMask() {
				out.Mask = out.Mask.Rot90(k)
			}
			if len(out.Weight.Pix) > 0 {
				out.Weight = out.Weight.Rot90(k)
			}
		}
	}
	if a.rng.Float64() < a.prof.GetFlipProb() {
		out.Image = out.Image.FlipH()
		if out.HasMask() {
			out.Mask = out.Mask.FlipH()
		}
		if len(out.Weight.Pix) > 0 {
			out.Weight = out.Weight.FlipH()
		}
	}
	if a.rng.Float64() < a.prof.GetElasticProb() {
		a.elastic(&out)
	}
	return out, nil
}

// photometric runs the image-only chain in 8-bit NRGBA space. Each transform
// draws its magnitude from the rng in a fixed order regardless of whether
// the draw lands near identity, keeping the draw sequence stable.
func (a *Augmenter) photometric(ps raster.Planes) (raster.Planes, error) {
	img, err := ps.ToNRGBA()
	if err != nil {
		return raster.Planes{}, err
	}

	// 1. Brightness: additive delta in [-max, max] of the [0,1] scale.
	delta := (2*a.rng.Float64() - 1) * a.prof.GetBrightnessMaxDelta()
	img = imaging.AdjustBrightness(img, delta*100)

	// 2. Saturation: multiplicative factor drawn from the configured range.
	lo, hi := a.prof.GetSaturationRange()
	img = imaging.AdjustSaturation(img, (lo+a.rng.Float64()*(hi-lo)-1)*100)

	// 3. Hue: rotation by a fraction of the hue circle.
	hueDeg := (2*a.rng.Float64() - 1) * a.prof.GetHueMaxDelta() * 360
	img = imaging.AdjustFunc(img, func(c color.NRGBA) color.NRGBA {
		h, s, l := colorful.Color{R: float64(c.R) / 255, G: float64(c.G) / 255, B: float64(c.B) / 255}.Hsl()
		h += hueDeg
		for h < 0 {
			h += 360
		}
		for h >= 360 {
			h -= 360
		}
		r, g, b := colorful.Hsl(h, s, l).Clamped().RGB255()
		return color.NRGBA{R: r, G: g, B: b, A: c.A}
	})

	// 4. Contrast.
	lo, hi = a.prof.GetContrastRange()
	img = imaging.AdjustContrast(img, (lo+a.rng.Float64()*(hi-lo)-1)*100)

	// 5. Salt-and-pepper: per-pixel corruption to full white or full black.
	salt, pepper := a.prof.GetSaltProb(), a.prof.GetPepperProb()
	if salt > 0 || pepper > 0 {
		b := img.Bounds()
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				switch u := a.rng.Float64(); {
				case u < salt:
					img.SetNRGBA(x, y, color.NRGBA{R: 255, G: 255, B: 255, A: 255})
				case u < salt+pepper:
					img.SetNRGBA(x, y, color.NRGBA{A: 255})
				}
			}
		}
	}

	// 6. Additive Gaussian noise, independent per channel.
	if stddev := a.prof.GetNoiseStddev(); stddev > 0 {
		for i := 0; i < len(img.Pix); i += 4 {
			for c := 0; c < 3; c++ {
				v := float64(img.Pix[i+c]) + a.rng.NormFloat64()*stddev*255
				img.Pix[i+c] = clamp8(v)
			}
		}
	}

	// 7. Gaussian blur, gated per image.
	if a.rng.Float64() < a.prof.GetBlurProb() {
		img = imaging.Blur(img, a.prof.GetBlurSigma())
	}

	// 8. JPEG-quality degradation: lossy encode/decode round trip.
	qLo, qHi := a.prof.GetJPEGQualityRange()
	quality := qLo + a.rng.Intn(qHi-qLo+1)
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return raster.Planes{}, fmt.Errorf("jpeg degradation encode: %w", err)
	}
	degraded, err := imaging.Decode(&buf)
	if err != nil {
		return raster.Planes{}, fmt.Errorf("jpeg degradation decode: %w", err)
	}

	return raster.FromImage(keepAlpha(degraded, img), ps.C)
}

// keepAlpha restores the pre-JPEG alpha channel; JPEG has none.
func keepAlpha(decoded image.Image, orig *image.NRGBA) image.Image {
	out := imaging.Clone(decoded)
	if len(out.Pix) == len(orig.Pix) {
		for i := 3; i < len(out.Pix); i += 4 {
			out.Pix[i] = orig.Pix[i]
		}
	}
	return out
}

func clamp8(v float64) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return uint8(v + 0.5)
}
