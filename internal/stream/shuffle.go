package stream

import (
	"context"
	"errors"
	"math/rand"
)

// Shuffler reorders samples through a bounded buffer: the buffer fills from
// the source, each Next swaps out a uniformly chosen slot. A buffer as large
// as the corpus degenerates to a full shuffle; smaller buffers trade
// randomness for memory.
type Shuffler struct {
	src    Source
	rng    *rand.Rand
	buf    []Sample
	size   int
	primed bool
	done   bool
}

// NewShuffler wraps src with a shuffle buffer of the given size. Size <= 1
// returns src unchanged.
func NewShuffler(src Source, size int, rng *rand.Rand) Source {
	if size <= 1 {
		return src
	}
	return &Shuffler{src: src, rng: rng, size: size}
}

// Next fills the buffer on first use, then serves a random slot per call,
// replacing it from the source. Once the source is exhausted the buffer
// drains in random order.
func (s *Shuffler) Next(ctx context.Context) (Sample, error) {
	if !s.primed {
		if err := s.prime(ctx); err != nil {
			return Sample{}, err
		}
	}
	if len(s.buf) == 0 {
		return Sample{}, ErrExhausted
	}

	i := s.rng.Intn(len(s.buf))
	out := s.buf[i]

	if s.done {
		s.buf[i] = s.buf[len(s.buf)-1]
		s.buf = s.buf[:len(s.buf)-1]
		return out, nil
	}

	replacement, err := s.src.Next(ctx)
	if err != nil {
		if errors.Is(err, ErrExhausted) {
			s.done = true
			s.buf[i] = s.buf[len(s.buf)-1]
			s.buf = s.buf[:len(s.buf)-1]
			return out, nil
		}
		return Sample{}, err
	}
	s.buf[i] = replacement
	return out, nil
}

// prime fills the buffer up to size, tolerating early exhaustion.
func (s *Shuffler) prime(ctx context.Context) error {
	s.primed = true
	for len(s.buf) < s.size {
		sample, err := s.src.Next(ctx)
		if err != nil {
			if errors.Is(err, ErrExhausted) {
				s.done = true
				return nil
			}
			return err
		}
		s.buf = append(s.buf, sample)
	}
	return nil
}
