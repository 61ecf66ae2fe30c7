package augment

import (
	"math"

	"github.com/josegcpa/unet/internal/raster"
	"github.com/josegcpa/unet/internal/stream"
)

// elastic warps the sample with a smoothed random displacement field. The
// field is uniform noise in [-1,1] per axis, convolved with a Gaussian
// kernel and scaled to the configured displacement stddev. The image is
// resampled bilinearly; mask and weight use nearest-neighbor so one-hot
// channels and weight values pass through unchanged.
func (a *Augmenter) elastic(s *stream.Sample) {
	h, w := s.Image.H, s.Image.W
	n := h * w

	dr := make([]float32, n)
	dc := make([]float32, n)
	for i := 0; i < n; i++ {
		dr[i] = a.rng.Float32()*2 - 1
		dc[i] = a.rng.Float32()*2 - 1
	}

	kernel := gaussianKernel(a.prof.GetElasticKernel())
	scale := float32(a.prof.GetElasticStddev())
	dr = smoothField(dr, h, w, kernel)
	dc = smoothField(dc, h, w, kernel)
	for i := 0; i < n; i++ {
		dr[i] *= scale
		dc[i] *= scale
	}

	warped := raster.NewPlanes(h, w, s.Image.C)
	for ch := 0; ch < s.Image.C; ch++ {
		src := s.Image.Ch[ch]
		dst := warped.Ch[ch]
		for r := 0; r < h; r++ {
			for c := 0; c < w; c++ {
				i := r*w + c
				dst.Pix[i] = bilinear(src, float32(r)+dr[i], float32(c)+dc[i])
			}
		}
	}
	s.Image = warped

	if s.HasMask() {
		s.Mask = nearestPlanes(s.Mask, dr, dc)
	}
	if len(s.Weight.Pix) > 0 {
		s.Weight = nearestPlane(s.Weight, dr, dc)
	}
}

// gaussianKernel builds a normalized 1D kernel of odd size; sigma is tied to
// the size so wider kernels smooth proportionally more.
func gaussianKernel(size int) []float32 {
	sigma := float64(size) / 4
	half := size / 2
	kernel := make([]float32, size)
	var sum float32
	for i := range kernel {
		x := float64(i - half)
		kernel[i] = float32(math.Exp(-x * x / (2 * sigma * sigma)))
		sum += kernel[i]
	}
	for i := range kernel {
		kernel[i] /= sum
	}
	return kernel
}

// smoothField applies the kernel separably (rows then columns) with edge
// clamping.
func smoothField(field []float32, h, w int, kernel []float32) []float32 {
	half := len(kernel) / 2
	tmp := make([]float32, len(field))
	for r := 0; r < h; r++ {
		for c := 0; c < w; c++ {
			var acc float32
			for k, kv := range kernel {
				cc := clampInt(c+k-half, 0, w-1)
				acc += kv * field[r*w+cc]
			}
			tmp[r*w+c] = acc
		}
	}
	out := make([]float32, len(field))
	for r := 0; r < h; r++ {
		for c := 0; c < w; c++ {
			var acc float32
			for k, kv := range kernel {
				rr := clampInt(r+k-half, 0, h-1)
				acc += kv * tmp[rr*w+c]
			}
			out[r*w+c] = acc
		}
	}
	return out
}

// bilinear samples the plane at fractional (row, col), clamping to edges.
func bilinear(p raster.Plane, r, c float32) float32 {
	r0 := int(math.Floor(float64(r)))
	c0 := int(math.Floor(float64(c)))
	fr := r - float32(r0)
	fc := c - float32(c0)

	r0c := clampInt(r0, 0, p.H-1)
	r1c := clampInt(r0+1, 0, p.H-1)
	c0c := clampInt(c0, 0, p.W-1)
	c1c := clampInt(c0+1, 0, p.W-1)

	top := p.Pix[r0c*p.W+c0c]*(1-fc) + p.Pix[r0c*p.W+c1c]*fc
	bot := p.Pix[r1c*p.W+c0c]*(1-fc) + p.Pix[r1c*p.W+c1c]*fc
	return top*(1-fr) + bot*fr
}

// nearestPlane resamples with rounded displaced coordinates.
func nearestPlane(p raster.Plane, dr, dc []float32) raster.Plane {
	out := raster.NewPlane(p.H, p.W)
	for r := 0; r < p.H; r++ {
		for c := 0; c < p.W; c++ {
			i := r*p.W + c
			sr := clampInt(int(float32(r)+dr[i]+0.5), 0, p.H-1)
			sc := clampInt(int(float32(c)+dc[i]+0.5), 0, p.W-1)
			out.Pix[i] = p.Pix[sr*p.W+sc]
		}
	}
	return out
}

func nearestPlanes(ps raster.Planes, dr, dc []float32) raster.Planes {
	out := raster.Planes{H: ps.H, W: ps.W, C: ps.C, Ch: make([]raster.Plane, ps.C)}
	for i, ch := range ps.Ch {
		out.Ch[i] = nearestPlane(ch, dr, dc)
	}
	return out
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
