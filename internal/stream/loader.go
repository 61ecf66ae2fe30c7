package stream

import (
	"fmt"

	"github.com/josegcpa/unet/internal/corpus"
	"github.com/josegcpa/unet/internal/fsutil"
	"github.com/josegcpa/unet/internal/imageio"
	"github.com/josegcpa/unet/internal/raster"
	"github.com/josegcpa/unet/internal/samplestore"
)

// weightFloor is the lower bound on inverse-frequency balance factors: an
// abundant class's 1/(n+1) factor is clamped here so its pixels never vanish
// from the loss entirely.
const weightFloor = 0.001

// FileLoader resolves corpus entries against image/mask/weight files.
type FileLoader struct {
	FS       fsutil.FileSystem
	Channels int
	Classes  int
	// Weighted enables loss weighting: explicit weight maps when the entry
	// has one, inverse class-frequency balancing otherwise.
	Weighted bool
}

// Load decodes the entry's image, mask, and weight map.
func (l *FileLoader) Load(e corpus.Entry) (Sample, error) {
	img, err := imageio.LoadPlanes(l.FS, e.Image, l.Channels)
	if err != nil {
		return Sample{}, err
	}
	s := Sample{ID: e.ID, Image: img}

	if e.Mask != "" {
		labels, err := imageio.LoadLabels(l.FS, e.Mask, l.Classes)
		if err != nil {
			return Sample{}, err
		}
		if labels.H != img.H || labels.W != img.W {
			return Sample{}, fmt.Errorf("mask %s is %dx%d, image is %dx%d", e.Mask, labels.H, labels.W, img.H, img.W)
		}
		s.Mask, err = raster.OneHot(labels, l.Classes)
		if err != nil {
			return Sample{}, fmt.Errorf("mask %s: %w", e.Mask, err)
		}

		if l.Weighted {
			if e.Weight != "" {
				s.Weight, err = imageio.LoadWeights(l.FS, e.Weight)
				if err != nil {
					return Sample{}, err
				}
				if s.Weight.H != img.H || s.Weight.W != img.W {
					return Sample{}, fmt.Errorf("weight %s is %dx%d, image is %dx%d", e.Weight, s.Weight.H, s.Weight.W, img.H, img.W)
				}
			} else {
				s.Weight = BalanceWeights(labels, l.Classes)
			}
		}
	}
	return s, nil
}

// StoreLoader resolves corpus entries against a keyed sample store; the
// entry's Image field is the store key.
type StoreLoader struct {
	Store    *samplestore.Store
	Channels int
	Classes  int
	Weighted bool
}

// Load fetches and validates the keyed record.
func (l *StoreLoader) Load(e corpus.Entry) (Sample, error) {
	rec, err := l.Store.Get(e.Image)
	if err != nil {
		return Sample{}, err
	}
	if rec.Channels != l.Channels {
		return Sample{}, fmt.Errorf("sample %s has %d channels, run expects %d", e.Image, rec.Channels, l.Channels)
	}
	s := Sample{ID: e.ID, Image: rec.Image}

	if len(rec.Mask.Pix) > 0 {
		s.Mask, err = raster.OneHot(rec.Mask, l.Classes)
		if err != nil {
			return Sample{}, fmt.Errorf("sample %s mask: %w", e.Image, err)
		}
		if l.Weighted {
			if len(rec.Weight.Pix) > 0 {
				s.Weight = rec.Weight
			} else {
				s.Weight = BalanceWeights(rec.Mask, l.Classes)
			}
		}
	}
	return s, nil
}

// BalanceWeights builds the default class-balancing weight map: every pixel
// of class c gets 1/(count_c+1), floored at 0.001 so an absent class cannot
// blow the loss up.
func BalanceWeights(labels raster.Plane, classes int) raster.Plane {
	counts := make([]int, classes)
	for _, v := range labels.Pix {
		counts[int(v)]++
	}
	factors := make([]float32, classes)
	for c, n := range counts {
		f := float32(1) / float32(n+1)
		if f < weightFloor {
			f = weightFloor
		}
		factors[c] = f
	}
	out := raster.NewPlane(labels.H, labels.W)
	for i, v := range labels.Pix {
		out.Pix[i] = factors[int(v)]
	}
	return out
}

// TruthOnly drops corpus entries whose mask has no positive pixels. The
// filter runs at corpus-build time so stream order is fixed before any
// shuffling. Only train/test corpora carry masks, so predict corpora pass
// through unchanged.
func TruthOnly(c *corpus.Corpus, loader Loader) (*corpus.Corpus, error) {
	kept := make([]corpus.Entry, 0, len(c.Entries))
	for _, e := range c.Entries {
		if e.Mask == "" {
			kept = append(kept, e)
			continue
		}
		s, err := loader.Load(e)
		if err != nil {
			return nil, fmt.Errorf("truth filter, entry %s: %w", e.ID, err)
		}
		if hasPositive(s.Mask) {
			kept = append(kept, e)
		}
	}
	if len(kept) == 0 {
		return nil, fmt.Errorf("truth filter left no entries in %s", c.Desc)
	}
	return &corpus.Corpus{Entries: kept, Desc: c.Desc}, nil
}

// hasPositive reports whether any pixel belongs to a class other than 0.
func hasPositive(mask raster.Planes) bool {
	for c := 1; c < mask.C; c++ {
		for _, v := range mask.Ch[c].Pix {
			if v > 0 {
				return true
			}
		}
	}
	return false
}
