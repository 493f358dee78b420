package render

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Pool hands out whole Backends to concurrent callers so that each
// in-flight render owns a private working directory.
type Pool struct {
	backends chan *Backend
	all      []*Backend

	closeOnce sync.Once
	closeErr  error
}

// NewPool creates size backends with factory. On error every backend
// created so far is closed.
func NewPool(size int, factory func() (*Backend, error)) (*Pool, error) {
	if size < 1 {
		size = 1
	}
	p := &Pool{backends: make(chan *Backend, size)}
	for i := 0; i < size; i++ {
		b, err := factory()
		if err != nil {
			_ = p.Close()
			return nil, fmt.Errorf("render: pool backend %d: %w", i, err)
		}
		p.all = append(p.all, b)
		p.backends <- b
	}
	return p, nil
}

// Size returns the number of backends in the pool.
func (p *Pool) Size() int { return len(p.all) }

// Acquire blocks until a backend is free or ctx is done.
func (p *Pool) Acquire(ctx context.Context) (*Backend, error) {
	select {
	case b := <-p.backends:
		return b, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Release returns b to the pool.
func (p *Pool) Release(b *Backend) {
	p.backends <- b
}

// Do runs fn with an acquired backend and releases it afterwards.
func (p *Pool) Do(ctx context.Context, fn func(*Backend) error) error {
	b, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	defer p.Release(b)
	return fn(b)
}

// Stats sums the counters of every backend.
func (p *Pool) Stats() Stats {
	var s Stats
	for _, b := range p.all {
		bs := b.Stats()
		s.Hits += bs.Hits
		s.Misses += bs.Misses
	}
	return s
}

// Close closes every backend. Callers must have released all backends.
func (p *Pool) Close() error {
	p.closeOnce.Do(func() {
		var errs []error
		for _, b := range p.all {
			if err := b.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		p.closeErr = errors.Join(errs...)
	})
	return p.closeErr
}
