// Package mosaic stitches per-tile predictions back into full-resolution
// segmentations. An accumulator sums overlapping class probabilities and
// counts per-pixel coverage; on image boundary it normalizes, argmaxes, and
// hands the label map to the sink. Exactly one source image is in flight at
// a time, and tiles must arrive grouped by source image.
package mosaic

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/josegcpa/unet/internal/fsutil"
	"github.com/josegcpa/unet/internal/imageio"
	"github.com/josegcpa/unet/internal/monitoring"
	"github.com/josegcpa/unet/internal/raster"
	"github.com/josegcpa/unet/internal/tilegrid"
)

// ErrRegrouped reports a tile for an identifier that was already flushed.
// The upstream generator broke the grouping guarantee; continuing would
// silently corrupt a finished mosaic.
var ErrRegrouped = errors.New("tile stream regrouped")

// Tile is one network output plus the provenance needed to place it.
type Tile struct {
	ID               string
	Origin           tilegrid.Origin
	SourceH, SourceW int
	Pred             raster.Planes
}

// Sink receives finished label maps.
type Sink interface {
	WriteSegmentation(id string, labels raster.Plane) error
}

// Assembler accumulates tiles into one mosaic at a time. Single-writer: the
// caller funnels tiles in stream order, so no locking happens here.
type Assembler struct {
	classes int
	pad     tilegrid.Padding
	sink    Sink

	cur     *accumulator
	flushed map[string]bool
}

// accumulator is the per-image state: summed predictions and coverage
// counts, both sized to the source's effective output shape.
type accumulator struct {
	id       string
	mask     raster.Planes
	division raster.Plane
	tiles    int
}

// NewAssembler builds an assembler writing finished segmentations to sink.
func NewAssembler(classes int, pad tilegrid.Padding, sink Sink) *Assembler {
	return &Assembler{
		classes: classes,
		pad:     pad,
		sink:    sink,
		flushed: make(map[string]bool),
	}
}

// Add places one tile. A tile for a new identifier flushes the current
// mosaic first; a tile for an already-flushed identifier fails loudly.
func (a *Assembler) Add(t Tile) error {
	if a.cur == nil || a.cur.id != t.ID {
		if a.flushed[t.ID] {
			var cur string
			if a.cur != nil {
				cur = a.cur.id
			}
			return fmt.Errorf("tile for %q after it was flushed (current image %q): %w", t.ID, cur, ErrRegrouped)
		}
		if err := a.Flush(); err != nil {
			return err
		}
		h, w := tilegrid.OutputShape(t.SourceH, t.SourceW, a.pad)
		if h <= 0 || w <= 0 {
			return fmt.Errorf("image %s: source %dx%d leaves no output under %s padding", t.ID, t.SourceH, t.SourceW, a.pad)
		}
		a.cur = &accumulator{
			id:       t.ID,
			mask:     raster.NewPlanes(h, w, a.classes),
			division: raster.NewPlane(h, w),
		}
		monitoring.Diagf("mosaic: image %s opened, output %dx%d", t.ID, h, w)
	}
	return a.cur.add(t)
}

// add sums the tile's prediction into the mosaic and bumps coverage.
func (acc *accumulator) add(t Tile) error {
	pred := t.Pred
	if pred.H == 0 || pred.W == 0 {
		return fmt.Errorf("image %s: empty prediction at (%d,%d)", t.ID, t.Origin.Row, t.Origin.Col)
	}
	if pred.C != acc.mask.C {
		return fmt.Errorf("image %s: prediction has %d classes, mosaic has %d", t.ID, pred.C, acc.mask.C)
	}
	r0, c0 := t.Origin.Row, t.Origin.Col
	if r0 < 0 || c0 < 0 || r0+pred.H > acc.mask.H || c0+pred.W > acc.mask.W {
		return fmt.Errorf("image %s: tile %dx%d at (%d,%d) exceeds mosaic %dx%d",
			t.ID, pred.H, pred.W, r0, c0, acc.mask.H, acc.mask.W)
	}

	for r := 0; r < pred.H; r++ {
		rowOff := (r0+r)*acc.mask.W + c0
		for ch := 0; ch < pred.C; ch++ {
			dst := acc.mask.Ch[ch].Pix[rowOff : rowOff+pred.W]
			src := pred.Ch[ch].Pix[r*pred.W : (r+1)*pred.W]
			for i := range dst {
				dst[i] += src[i]
			}
		}
		div := acc.division.Pix[rowOff : rowOff+pred.W]
		for i := range div {
			div[i]++
		}
	}
	acc.tiles++
	monitoring.Tracef("mosaic: image %s tile %d at (%d,%d)", t.ID, acc.tiles, r0, c0)
	return nil
}

// Flush normalizes and emits the current mosaic, if any. Call once more at
// end of stream to release the final image.
func (a *Assembler) Flush() error {
	if a.cur == nil {
		return nil
	}
	acc := a.cur
	a.cur = nil

	// Pixels no tile covered keep their raw zero prediction; remapping the
	// zero counts to 1 keeps the division defined and resolves them to the
	// argmax of the zero vector, class 0.
	for i, d := range acc.division.Pix {
		if d == 0 {
			acc.division.Pix[i] = 1
		}
	}
	for _, ch := range acc.mask.Ch {
		for i := range ch.Pix {
			ch.Pix[i] /= acc.division.Pix[i]
		}
	}

	labels := acc.mask.Argmax()
	if err := a.sink.WriteSegmentation(acc.id, labels); err != nil {
		return fmt.Errorf("flush image %s: %w", acc.id, err)
	}
	a.flushed[acc.id] = true
	monitoring.Opsf("mosaic: image %s flushed (%d tiles, %dx%d)", acc.id, acc.tiles, labels.H, labels.W)
	return nil
}

// PNGSink writes each segmentation as a 3-channel 8-bit PNG named after the
// source image's base name.
type PNGSink struct {
	FS  fsutil.FileSystem
	Dir string
}

// WriteSegmentation renders the label map with the class index replicated
// across R, G, and B.
func (s *PNGSink) WriteSegmentation(id string, labels raster.Plane) error {
	path := filepath.Join(s.Dir, id+".png")
	return imageio.Save(s.FS, path, raster.LabelsToNRGBA(labels))
}
