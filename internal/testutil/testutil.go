// Package testutil provides shared fixtures for the pipeline tests:
// deterministic rasters, in-memory image files, and tolerance comparisons.
package testutil

import (
	"testing"

	"github.com/josegcpa/unet/internal/fsutil"
	"github.com/josegcpa/unet/internal/imageio"
	"github.com/josegcpa/unet/internal/raster"
)

// SolidPlanes returns an h×w×c stack filled with value.
func SolidPlanes(h, w, c int, value float32) raster.Planes {
	ps := raster.NewPlanes(h, w, c)
	for _, ch := range ps.Ch {
		ch.Fill(value)
	}
	return ps
}

// GradientPlanes returns a deterministic h×w×c stack whose values vary by
// position and channel, useful for detecting misaligned index remaps.
func GradientPlanes(h, w, c int) raster.Planes {
	ps := raster.NewPlanes(h, w, c)
	for ci, ch := range ps.Ch {
		for r := 0; r < h; r++ {
			for col := 0; col < w; col++ {
				ch.Pix[r*w+col] = float32((r*31+col*7+ci*13)%255) / 255
			}
		}
	}
	return ps
}

// LabelPlane builds a class-index plane from a per-pixel function.
func LabelPlane(h, w int, fn func(r, c int) int) raster.Plane {
	p := raster.NewPlane(h, w)
	for r := 0; r < h; r++ {
		for c := 0; c < w; c++ {
			p.Pix[r*w+c] = float32(fn(r, c))
		}
	}
	return p
}

// WriteImagePNG encodes the stack as an 8-bit PNG at path in fsys.
func WriteImagePNG(t *testing.T, fsys fsutil.FileSystem, path string, ps raster.Planes) {
	t.Helper()
	img, err := ps.ToNRGBA()
	if err != nil {
		t.Fatalf("render %s: %v", path, err)
	}
	if err := imageio.Save(fsys, path, img); err != nil {
		t.Fatalf("save %s: %v", path, err)
	}
}

// WriteLabelPNG encodes a class-index plane as a grayscale PNG whose raw
// pixel values are the class indices, matching the mask decode convention.
func WriteLabelPNG(t *testing.T, fsys fsutil.FileSystem, path string, labels raster.Plane) {
	t.Helper()
	ps := raster.Planes{H: labels.H, W: labels.W, C: 1, Ch: []raster.Plane{labels.Clone()}}
	for i := range ps.Ch[0].Pix {
		ps.Ch[0].Pix[i] /= 255
	}
	WriteImagePNG(t, fsys, path, ps)
}

// RequirePlanesEqual fails unless the stacks match within tol per pixel.
func RequirePlanesEqual(t *testing.T, want, got raster.Planes, tol float32) {
	t.Helper()
	if want.H != got.H || want.W != got.W || want.C != got.C {
		t.Fatalf("shape mismatch: want %dx%dx%d, got %dx%dx%d", want.H, want.W, want.C, got.H, got.W, got.C)
	}
	for c := range want.Ch {
		for i := range want.Ch[c].Pix {
			d := want.Ch[c].Pix[i] - got.Ch[c].Pix[i]
			if d < 0 {
				d = -d
			}
			if d > tol {
				t.Fatalf("channel %d pixel %d: want %v, got %v (tol %v)", c, i, want.Ch[c].Pix[i], got.Ch[c].Pix[i], tol)
			}
		}
	}
}
