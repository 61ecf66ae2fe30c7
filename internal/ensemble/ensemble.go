// Package ensemble implements the dihedral ("tumble") prediction mode: each
// input is expanded into its 8 square symmetries, all 8 run through the
// backend, each output is carried back into the input's frame by the exact
// inverse transform, and the aligned outputs are averaged. The transforms are
// pure index remaps and the mean is taken in float64, so the identity-backend
// round trip is bit-exact.
package ensemble

import (
	"context"
	"fmt"

	"github.com/josegcpa/unet/internal/model"
	"github.com/josegcpa/unet/internal/raster"
)

// variant is one dihedral symmetry: flip first (when set), then rotate by
// Rot quarter turns. The inverse rotates by -Rot, then flips.
type variant struct {
	Rot  int
	Flip bool
}

// variants fixes the expansion order: the four rotations of the original,
// then the four rotations of the horizontal mirror.
var variants = [8]variant{
	{0, false}, {1, false}, {2, false}, {3, false},
	{0, true}, {1, true}, {2, true}, {3, true},
}

// Forward applies variant v to the stack.
func forward(ps raster.Planes, v variant) raster.Planes {
	if v.Flip {
		ps = ps.FlipH()
	}
	if v.Rot != 0 {
		ps = ps.Rot90(v.Rot)
	}
	return ps
}

// Inverse undoes variant v: the reverse of the forward order with negated
// rotation. A mismatch here misaligns predictions silently, which is why the
// identity round trip is pinned by tests.
func inverse(ps raster.Planes, v variant) raster.Planes {
	if v.Rot != 0 {
		ps = ps.Rot90(-v.Rot)
	}
	if v.Flip {
		ps = ps.FlipH()
	}
	return ps
}

// Predict runs the 8-way ensemble over a batch: one backend call with all
// 8·N variants, then per-input inverse alignment and elementwise averaging.
// Inputs must be square; quarter turns of a non-square tile cannot be
// averaged back.
func Predict(ctx context.Context, backend model.Backend, inputs []raster.Planes) ([]raster.Planes, error) {
	if len(inputs) == 0 {
		return nil, nil
	}
	for i, in := range inputs {
		if in.H != in.W {
			return nil, fmt.Errorf("ensemble input %d is %dx%d; tumble mode needs square tiles", i, in.H, in.W)
		}
	}

	expanded := make([]raster.Planes, 0, 8*len(inputs))
	for _, in := range inputs {
		for _, v := range variants {
			expanded = append(expanded, forward(in, v))
		}
	}

	preds, err := backend.Infer(ctx, expanded)
	if err != nil {
		return nil, fmt.Errorf("ensemble inference: %w", err)
	}
	if len(preds) != len(expanded) {
		return nil, fmt.Errorf("ensemble inference returned %d outputs for %d inputs", len(preds), len(expanded))
	}

	out := make([]raster.Planes, len(inputs))
	for i := range inputs {
		first := inverse(preds[8*i], variants[0])
		// Accumulate per pixel in float64: eight float32 terms sum exactly
		// there, and /8 only shifts the exponent, so eight identical outputs
		// average back to the original value with no rounding.
		acc := make([][]float64, first.C)
		for c := range acc {
			acc[c] = make([]float64, len(first.Ch[c].Pix))
			for k, v := range first.Ch[c].Pix {
				acc[c][k] = float64(v)
			}
		}
		for j := 1; j < 8; j++ {
			aligned := inverse(preds[8*i+j], variants[j])
			if aligned.H != first.H || aligned.W != first.W || aligned.C != first.C {
				return nil, fmt.Errorf("ensemble input %d: variant %d realigned to %dx%dx%d, want %dx%dx%d",
					i, j, aligned.H, aligned.W, aligned.C, first.H, first.W, first.C)
			}
			for c := 0; c < first.C; c++ {
				for k, v := range aligned.Ch[c].Pix {
					acc[c][k] += float64(v)
				}
			}
		}
		mean := raster.NewPlanes(first.H, first.W, first.C)
		for c := range acc {
			for k, s := range acc[c] {
				mean.Ch[c].Pix[k] = float32(s / 8)
			}
		}
		out[i] = mean
	}
	return out, nil
}
