package stream

import (
	"context"
	"sync"
)

// Mapper is a per-sample transform.
type Mapper func(Sample) (Sample, error)

// Pool runs a per-sample transform on a fixed set of workers while
// preserving delivery order: results come out in the order samples were
// pulled from the source, so batches stay deterministic regardless of which
// worker finishes first. The augmentation stage sits here in train mode.
// Each worker gets its own Mapper from the factory, so transforms carrying
// their own rand state stay race-free.
type Pool struct {
	src     Source
	factory func() Mapper
	workers int

	started bool
	results chan chan result
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

type result struct {
	sample Sample
	err    error
}

// NewPool wraps src with a transform running on workers goroutines. Workers
// < 2 falls back to the synchronous Mapped stage, which is also the fully
// deterministic configuration.
func NewPool(src Source, factory func() Mapper, workers int) Source {
	if workers < 2 {
		return NewMapped(src, factory())
	}
	return &Pool{src: src, factory: factory, workers: workers}
}

// Next returns the next transformed sample in source order.
func (p *Pool) Next(ctx context.Context) (Sample, error) {
	if !p.started {
		p.start(ctx)
	}
	select {
	case <-ctx.Done():
		return Sample{}, ctx.Err()
	case slot, ok := <-p.results:
		if !ok {
			return Sample{}, ErrExhausted
		}
		select {
		case <-ctx.Done():
			return Sample{}, ctx.Err()
		case res := <-slot:
			return res.sample, res.err
		}
	}
}

// Close stops the feeder and workers. Safe to call more than once.
func (p *Pool) Close() {
	if p.cancel != nil {
		p.cancel()
		p.wg.Wait()
	}
}

// start launches the feeder and workers. The feeder owns the source (sources
// are not concurrent-safe) and assigns each sample a single-use result slot;
// the slot order in p.results is the delivery order.
func (p *Pool) start(ctx context.Context) {
	p.started = true
	ctx, p.cancel = context.WithCancel(ctx)

	jobs := make(chan job, p.workers)
	p.results = make(chan chan result, 2*p.workers)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer close(jobs)
		defer close(p.results)
		for {
			s, err := p.src.Next(ctx)
			slot := make(chan result, 1)
			if err != nil {
				// Terminal condition (exhaustion or failure) rides the same
				// ordered path so it arrives after every preceding sample.
				slot <- result{err: err}
				select {
				case p.results <- slot:
				case <-ctx.Done():
				}
				return
			}
			select {
			case p.results <- slot:
			case <-ctx.Done():
				return
			}
			select {
			case jobs <- job{sample: s, slot: slot}:
			case <-ctx.Done():
				return
			}
		}
	}()

	for i := 0; i < p.workers; i++ {
		fn := p.factory()
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for j := range jobs {
				out, err := fn(j.sample)
				j.slot <- result{sample: out, err: err}
			}
		}()
	}
}

type job struct {
	sample Sample
	slot   chan result
}
