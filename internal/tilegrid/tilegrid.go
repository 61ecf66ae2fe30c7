// Package tilegrid computes tile placements for running a fixed-size network
// over larger images. Under valid-only convolutions every tile loses a fixed
// margin per side, so the tile stride is the surviving output size and the
// per-tile outputs butt against each other exactly; under same padding the
// stride is the full tile size. Edge tiles are anchored to the far border,
// which is the one place overlap is expected.
package tilegrid

import (
	"fmt"
	"strings"
)

// Margin is the receptive-field shrinkage per tile side under valid padding,
// fixed by the reference network's depth: 92 pixels per side, 184 per axis.
const Margin = 92

// Padding selects the convolution padding regime the tiling must match.
type Padding int

const (
	PaddingValid Padding = iota
	PaddingSame
)

// ParsePadding maps the configuration string to a Padding value.
func ParsePadding(s string) (Padding, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "VALID":
		return PaddingValid, nil
	case "SAME":
		return PaddingSame, nil
	default:
		return 0, fmt.Errorf("unknown padding mode %q (want VALID or SAME)", s)
	}
}

func (p Padding) String() string {
	if p == PaddingSame {
		return "SAME"
	}
	return "VALID"
}

// Origin is a tile's top-left corner in source-image coordinates. Because a
// valid-padding tile's output shrinks symmetrically, the same coordinates
// also locate the tile's output in the (cropped) output mosaic.
type Origin struct {
	Row, Col int
}

// Strides returns the tile step per axis: the valid output size under VALID
// padding, the tile size under SAME.
func Strides(tileH, tileW int, pad Padding) (int, int) {
	if pad == PaddingValid {
		return tileH - 2*Margin, tileW - 2*Margin
	}
	return tileH, tileW
}

// OutSize returns the per-tile output dimensions the network yields.
func OutSize(tileH, tileW int, pad Padding) (int, int) {
	if pad == PaddingValid {
		return tileH - 2*Margin, tileW - 2*Margin
	}
	return tileH, tileW
}

// OutputShape returns the stitched output dimensions for a source image:
// the input minus 2*Margin per axis under VALID, unchanged under SAME.
func OutputShape(imageH, imageW int, pad Padding) (int, int) {
	if pad == PaddingValid {
		return imageH - 2*Margin, imageW - 2*Margin
	}
	return imageH, imageW
}

// Tiles returns the row-major ordered tile origins covering an imageH×imageW
// source. Interior origins advance by the stride; when a dimension is not an
// exact multiple, one final origin anchored at imageDim−tileDim is added so
// coverage reaches the far border. That anchored tile overlaps its
// predecessor, which downstream coverage counting averages out.
func Tiles(imageH, imageW, tileH, tileW int, pad Padding) ([]Origin, error) {
	if imageH <= 0 || imageW <= 0 || tileH <= 0 || tileW <= 0 {
		return nil, fmt.Errorf("non-positive dimensions: image %dx%d, tile %dx%d", imageH, imageW, tileH, tileW)
	}
	if tileH > imageH || tileW > imageW {
		return nil, fmt.Errorf("tile %dx%d exceeds image %dx%d", tileH, tileW, imageH, imageW)
	}
	if pad == PaddingValid && (tileH <= 2*Margin || tileW <= 2*Margin) {
		return nil, fmt.Errorf("tile %dx%d leaves no valid output under VALID padding (margin %d per side)", tileH, tileW, Margin)
	}

	strideH, strideW := Strides(tileH, tileW, pad)
	rows := axisOrigins(imageH, tileH, strideH)
	cols := axisOrigins(imageW, tileW, strideW)

	origins := make([]Origin, 0, len(rows)*len(cols))
	for _, r := range rows {
		for _, c := range cols {
			origins = append(origins, Origin{Row: r, Col: c})
		}
	}
	return origins, nil
}

// axisOrigins walks one axis: regular stride steps while the tile fits, then
// a far-edge anchor when the last step fell short of the border.
func axisOrigins(imageDim, tileDim, stride int) []int {
	var out []int
	last := -1
	for o := 0; o+tileDim <= imageDim; o += stride {
		out = append(out, o)
		last = o
	}
	if last+tileDim < imageDim {
		out = append(out, imageDim-tileDim)
	}
	return out
}
