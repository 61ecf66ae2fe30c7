package raster

import (
	"fmt"
	"image"
	"image/color"
)

// FromImage decodes an image into a channels-deep stack with values in [0,1]
// (8-bit quantization, value/255). Supported depths: 1 (luma), 3 (RGB),
// 4 (RGBA). Bounds offsets are normalized away.
func FromImage(img image.Image, channels int) (Planes, error) {
	b := img.Bounds()
	h, w := b.Dy(), b.Dx()
	out := NewPlanes(h, w, channels)

	switch channels {
	case 1:
		for r := 0; r < h; r++ {
			for c := 0; c < w; c++ {
				g := color.GrayModel.Convert(img.At(b.Min.X+c, b.Min.Y+r)).(color.Gray)
				out.Ch[0].Pix[r*w+c] = float32(g.Y) / 255
			}
		}
	case 3, 4:
		for r := 0; r < h; r++ {
			for c := 0; c < w; c++ {
				px := color.NRGBAModel.Convert(img.At(b.Min.X+c, b.Min.Y+r)).(color.NRGBA)
				i := r*w + c
				out.Ch[0].Pix[i] = float32(px.R) / 255
				out.Ch[1].Pix[i] = float32(px.G) / 255
				out.Ch[2].Pix[i] = float32(px.B) / 255
				if channels == 4 {
					out.Ch[3].Pix[i] = float32(px.A) / 255
				}
			}
		}
	default:
		return Planes{}, fmt.Errorf("unsupported channel count %d (want 1, 3, or 4)", channels)
	}
	return out, nil
}

// ToNRGBA renders the stack as an 8-bit image, clamping values to [0,1].
// A 1-channel stack is replicated across RGB; 3 channels map to RGB with
// opaque alpha; 4 channels map to RGBA.
func (ps Planes) ToNRGBA() (*image.NRGBA, error) {
	if ps.C != 1 && ps.C != 3 && ps.C != 4 {
		return nil, fmt.Errorf("cannot render %d-channel stack as NRGBA", ps.C)
	}
	img := image.NewNRGBA(image.Rect(0, 0, ps.W, ps.H))
	for r := 0; r < ps.H; r++ {
		for c := 0; c < ps.W; c++ {
			i := r*ps.W + c
			var px color.NRGBA
			switch ps.C {
			case 1:
				v := quantize(ps.Ch[0].Pix[i])
				px = color.NRGBA{R: v, G: v, B: v, A: 255}
			case 3:
				px = color.NRGBA{
					R: quantize(ps.Ch[0].Pix[i]),
					G: quantize(ps.Ch[1].Pix[i]),
					B: quantize(ps.Ch[2].Pix[i]),
					A: 255,
				}
			case 4:
				px = color.NRGBA{
					R: quantize(ps.Ch[0].Pix[i]),
					G: quantize(ps.Ch[1].Pix[i]),
					B: quantize(ps.Ch[2].Pix[i]),
					A: quantize(ps.Ch[3].Pix[i]),
				}
			}
			img.SetNRGBA(c, r, px)
		}
	}
	return img, nil
}

// LabelsToNRGBA renders a class-index plane as a 3-channel 8-bit image with
// the raw label value replicated into R, G, and B. Values are not rescaled;
// the stitched outputs carry class indices, not display colors.
func LabelsToNRGBA(labels Plane) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, labels.W, labels.H))
	for r := 0; r < labels.H; r++ {
		for c := 0; c < labels.W; c++ {
			v := uint8(labels.Pix[r*labels.W+c])
			img.SetNRGBA(c, r, color.NRGBA{R: v, G: v, B: v, A: 255})
		}
	}
	return img
}

// LabelsToGray renders a class-index plane as a single-channel 8-bit raster.
func LabelsToGray(labels Plane) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, labels.W, labels.H))
	for r := 0; r < labels.H; r++ {
		for c := 0; c < labels.W; c++ {
			img.SetGray(c, r, color.Gray{Y: uint8(labels.Pix[r*labels.W+c])})
		}
	}
	return img
}

// quantize maps a [0,1] float to a rounded 8-bit value, clamping outliers.
func quantize(v float32) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 1 {
		return 255
	}
	return uint8(v*255 + 0.5)
}
