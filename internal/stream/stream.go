// Package stream turns a resolved corpus into the sample sequences the run
// loops consume. Train streams are logically infinite (reshuffled restarts);
// test and predict streams are one-pass and order-preserving. Exhaustion is
// the typed sentinel ErrExhausted, distinct from real I/O failures, which
// always propagate wrapped with the offending entry.
package stream

import (
	"context"
	"errors"
	"fmt"
	"math/rand"

	"github.com/josegcpa/unet/internal/corpus"
	"github.com/josegcpa/unet/internal/raster"
)

// ErrExhausted signals normal end of a finite stream. Loops check it with
// errors.Is and treat it as termination; anything else is a genuine failure.
var ErrExhausted = errors.New("stream exhausted")

// Sample is one unit of work. Mask is a one-hot stack over classes and
// Weight a per-pixel loss weight; both are zero-valued in predict mode.
type Sample struct {
	ID     string
	Image  raster.Planes
	Mask   raster.Planes
	Weight raster.Plane
}

// HasMask reports whether the sample carries ground truth.
func (s Sample) HasMask() bool { return s.Mask.C > 0 }

// Batch is an ordered slice of samples. Capacity policy is the batcher's.
type Batch []Sample

// Source is the pull interface every stage implements.
type Source interface {
	Next(ctx context.Context) (Sample, error)
}

// Loader resolves one corpus entry into a sample.
type Loader interface {
	Load(entry corpus.Entry) (Sample, error)
}

// OnePass yields each corpus entry exactly once, in corpus order, then
// ErrExhausted. Test and predict modes use this directly.
type OnePass struct {
	entries []corpus.Entry
	loader  Loader
	next    int
}

// NewOnePass builds a finite order-preserving source over the corpus.
func NewOnePass(c *corpus.Corpus, loader Loader) *OnePass {
	return &OnePass{entries: c.Entries, loader: loader}
}

// Next returns the next sample or ErrExhausted.
func (s *OnePass) Next(ctx context.Context) (Sample, error) {
	if err := ctx.Err(); err != nil {
		return Sample{}, err
	}
	if s.next >= len(s.entries) {
		return Sample{}, ErrExhausted
	}
	e := s.entries[s.next]
	s.next++
	sample, err := s.loader.Load(e)
	if err != nil {
		return Sample{}, fmt.Errorf("entry %s: %w", e.ID, err)
	}
	return sample, nil
}

// Infinite yields the corpus forever: each pass visits every entry once in a
// fresh permutation drawn from the injected rng. Train mode only.
type Infinite struct {
	entries []corpus.Entry
	loader  Loader
	rng     *rand.Rand
	perm    []int
	next    int
}

// NewInfinite builds a restarting source. The rng owns all shuffle decisions;
// a fixed seed reproduces the full visit order across restarts.
func NewInfinite(c *corpus.Corpus, loader Loader, rng *rand.Rand) (*Infinite, error) {
	if c.Len() == 0 {
		return nil, errors.New("infinite stream over empty corpus")
	}
	return &Infinite{entries: c.Entries, loader: loader, rng: rng}, nil
}

// Next returns the next sample, reshuffling and restarting on exhaustion.
func (s *Infinite) Next(ctx context.Context) (Sample, error) {
	if err := ctx.Err(); err != nil {
		return Sample{}, err
	}
	if s.perm == nil || s.next >= len(s.perm) {
		s.perm = s.rng.Perm(len(s.entries))
		s.next = 0
	}
	e := s.entries[s.perm[s.next]]
	s.next++
	sample, err := s.loader.Load(e)
	if err != nil {
		return Sample{}, fmt.Errorf("entry %s: %w", e.ID, err)
	}
	return sample, nil
}

// Mapped applies fn to every sample of src. The augmentation stage uses this
// when running single-worker; Pool is the parallel equivalent.
type Mapped struct {
	src Source
	fn  func(Sample) (Sample, error)
}

// NewMapped wraps src with a per-sample transform.
func NewMapped(src Source, fn func(Sample) (Sample, error)) *Mapped {
	return &Mapped{src: src, fn: fn}
}

// Next pulls from the source and transforms.
func (m *Mapped) Next(ctx context.Context) (Sample, error) {
	s, err := m.src.Next(ctx)
	if err != nil {
		return Sample{}, err
	}
	return m.fn(s)
}
