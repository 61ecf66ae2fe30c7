package stream

import (
	"context"
	"errors"
	"math/rand"
)

// BatchSource is the pull interface for batched stages.
type BatchSource interface {
	NextBatch(ctx context.Context) (Batch, error)
}

// Batcher groups samples into fixed-size batches. The partial-batch policy
// is explicit: with DropPartial (train) a trailing short batch is discarded
// so batch shape stays constant; without it (test/predict) the final short
// batch is emitted so one-pass coverage is complete.
type Batcher struct {
	src         Source
	size        int
	dropPartial bool
	done        bool
}

// NewBatcher wraps src. Size must be positive; the caller validates.
func NewBatcher(src Source, size int, dropPartial bool) *Batcher {
	return &Batcher{src: src, size: size, dropPartial: dropPartial}
}

// NextBatch assembles the next batch or returns ErrExhausted.
func (b *Batcher) NextBatch(ctx context.Context) (Batch, error) {
	if b.done {
		return nil, ErrExhausted
	}
	batch := make(Batch, 0, b.size)
	for len(batch) < b.size {
		s, err := b.src.Next(ctx)
		if err != nil {
			if errors.Is(err, ErrExhausted) {
				b.done = true
				if len(batch) == 0 || b.dropPartial {
					return nil, ErrExhausted
				}
				return batch, nil
			}
			return nil, err
		}
		batch = append(batch, s)
	}
	return batch, nil
}

// BatchShuffler reorders whole batches through a bounded buffer, the
// batch-level analogue of Shuffler. Train streams run it after batching so
// neighboring samples from the sample-level buffer still separate.
type BatchShuffler struct {
	src    BatchSource
	rng    *rand.Rand
	buf    []Batch
	size   int
	primed bool
	done   bool
}

// NewBatchShuffler wraps src with a batch shuffle buffer. Size <= 1 returns
// src unchanged.
func NewBatchShuffler(src BatchSource, size int, rng *rand.Rand) BatchSource {
	if size <= 1 {
		return src
	}
	return &BatchShuffler{src: src, rng: rng, size: size}
}

// NextBatch serves a random buffered batch, replacing it from the source.
func (s *BatchShuffler) NextBatch(ctx context.Context) (Batch, error) {
	if !s.primed {
		s.primed = true
		for len(s.buf) < s.size {
			batch, err := s.src.NextBatch(ctx)
			if err != nil {
				if errors.Is(err, ErrExhausted) {
					s.done = true
					break
				}
				return nil, err
			}
			s.buf = append(s.buf, batch)
		}
	}
	if len(s.buf) == 0 {
		return nil, ErrExhausted
	}

	i := s.rng.Intn(len(s.buf))
	out := s.buf[i]

	if !s.done {
		replacement, err := s.src.NextBatch(ctx)
		if err == nil {
			s.buf[i] = replacement
			return out, nil
		}
		if !errors.Is(err, ErrExhausted) {
			return nil, err
		}
		s.done = true
	}
	s.buf[i] = s.buf[len(s.buf)-1]
	s.buf = s.buf[:len(s.buf)-1]
	return out, nil
}
