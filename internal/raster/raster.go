// Package raster holds the float32 raster types shared by the tiling,
// augmentation, inference, and reassembly stages. A Plane is a single
// channel; Planes stacks channels of equal size. Pixels are stored in
// row-major flat arrays (idx = row*W + col).
package raster

import "fmt"

// Plane is a single-channel H×W float32 raster.
type Plane struct {
	H, W int
	Pix  []float32
}

// NewPlane allocates a zeroed H×W plane.
func NewPlane(h, w int) Plane {
	return Plane{H: h, W: w, Pix: make([]float32, h*w)}
}

// At returns the value at (row, col). No bounds checking beyond the slice's.
func (p Plane) At(r, c int) float32 {
	return p.Pix[r*p.W+c]
}

// Set stores v at (row, col).
func (p Plane) Set(r, c int, v float32) {
	p.Pix[r*p.W+c] = v
}

// Clone returns a deep copy.
func (p Plane) Clone() Plane {
	out := Plane{H: p.H, W: p.W, Pix: make([]float32, len(p.Pix))}
	copy(out.Pix, p.Pix)
	return out
}

// Fill sets every pixel to v.
func (p Plane) Fill(v float32) {
	for i := range p.Pix {
		p.Pix[i] = v
	}
}

// Crop returns a copy of the h×w region whose top-left corner is (r0, c0).
func (p Plane) Crop(r0, c0, h, w int) (Plane, error) {
	// Non-positive sizes would slip past the far-edge checks below.
	if h <= 0 || w <= 0 {
		return Plane{}, fmt.Errorf("crop size %dx%d is not positive", h, w)
	}
	if r0 < 0 || c0 < 0 || r0+h > p.H || c0+w > p.W {
		return Plane{}, fmt.Errorf("crop %dx%d at (%d,%d) exceeds plane %dx%d", h, w, r0, c0, p.H, p.W)
	}
	out := NewPlane(h, w)
	for r := 0; r < h; r++ {
		src := (r0+r)*p.W + c0
		copy(out.Pix[r*w:(r+1)*w], p.Pix[src:src+w])
	}
	return out, nil
}

// Planes is a C-channel stack of equally sized planes.
type Planes struct {
	H, W, C int
	Ch      []Plane
}

// NewPlanes allocates a zeroed H×W×C stack.
func NewPlanes(h, w, c int) Planes {
	ch := make([]Plane, c)
	for i := range ch {
		ch[i] = NewPlane(h, w)
	}
	return Planes{H: h, W: w, C: c, Ch: ch}
}

// Clone returns a deep copy.
func (ps Planes) Clone() Planes {
	out := Planes{H: ps.H, W: ps.W, C: ps.C, Ch: make([]Plane, ps.C)}
	for i, ch := range ps.Ch {
		out.Ch[i] = ch.Clone()
	}
	return out
}

// Crop returns a copy of the h×w region at (r0, c0) across all channels.
func (ps Planes) Crop(r0, c0, h, w int) (Planes, error) {
	if h <= 0 || w <= 0 {
		return Planes{}, fmt.Errorf("crop size %dx%d is not positive", h, w)
	}
	out := Planes{H: h, W: w, C: ps.C, Ch: make([]Plane, ps.C)}
	for i, ch := range ps.Ch {
		cropped, err := ch.Crop(r0, c0, h, w)
		if err != nil {
			return Planes{}, fmt.Errorf("channel %d: %w", i, err)
		}
		out.Ch[i] = cropped
	}
	return out, nil
}

// Argmax returns the per-pixel index of the maximal channel. Ties resolve to
// the lowest index, matching the zero-prediction convention where uncovered
// pixels resolve to class 0.
func (ps Planes) Argmax() Plane {
	out := NewPlane(ps.H, ps.W)
	for i := 0; i < ps.H*ps.W; i++ {
		best := 0
		bestV := ps.Ch[0].Pix[i]
		for c := 1; c < ps.C; c++ {
			if v := ps.Ch[c].Pix[i]; v > bestV {
				best = c
				bestV = v
			}
		}
		out.Pix[i] = float32(best)
	}
	return out
}

// OneHot expands a label plane into a one-hot stack over classes channels.
// Label values must be integers in [0, classes).
func OneHot(labels Plane, classes int) (Planes, error) {
	out := NewPlanes(labels.H, labels.W, classes)
	for i, v := range labels.Pix {
		cls := int(v)
		if float32(cls) != v || cls < 0 || cls >= classes {
			return Planes{}, fmt.Errorf("label %v at pixel %d outside [0,%d)", v, i, classes)
		}
		out.Ch[cls].Pix[i] = 1
	}
	return out, nil
}
