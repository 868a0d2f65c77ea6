// Package bufferpool provides a size-classed pool of reusable sample buffers.
//
// Buffers are grouped into power-of-two buckets between MinSize and MaxSize.
// Each bucket is a buffered channel holding at most PerBucket idle buffers, so
// Rent and Return never block and unrelated buckets never contend.
package bufferpool

import (
	"math/bits"
	"sync/atomic"

	"github.com/c43892/storyteller/internal/errors"
	"github.com/c43892/storyteller/internal/observability/metrics"
)

const (
	DefaultMinSize   = 1024
	DefaultMaxSize   = 64 * 1024
	DefaultPerBucket = 10
)

// Config controls bucket boundaries. Zero values select the defaults.
type Config struct {
	MinSize   int // smallest pooled length, power of two
	MaxSize   int // largest pooled length, power of two
	PerBucket int // idle buffers kept per bucket
}

// Stats is a snapshot of pool counters.
type Stats struct {
	Hits     uint64 // rentals served from a bucket
	Misses   uint64 // pooled-size rentals that had to allocate
	Unpooled uint64 // rentals above MaxSize
	Returned uint64 // buffers accepted back into a bucket
	Dropped  uint64 // buffers discarded because the bucket was full
}

// Pool hands out []T buffers. The zero value is not usable; call New.
type Pool[T any] struct {
	name     string
	minShift int
	maxShift int
	buckets  []chan []T
	metrics  *metrics.PipelineMetrics

	hits     atomic.Uint64
	misses   atomic.Uint64
	unpooled atomic.Uint64
	returned atomic.Uint64
	dropped  atomic.Uint64
}

// Option configures a Pool.
type Option[T any] func(*Pool[T])

// WithMetrics reports rent and return outcomes under the given pool name.
func WithMetrics[T any](m *metrics.PipelineMetrics, name string) Option[T] {
	return func(p *Pool[T]) {
		p.metrics = m
		p.name = name
	}
}

// New creates a pool. MinSize and MaxSize must be powers of two with
// MinSize <= MaxSize.
func New[T any](cfg Config, opts ...Option[T]) (*Pool[T], error) {
	if cfg.MinSize == 0 {
		cfg.MinSize = DefaultMinSize
	}
	if cfg.MaxSize == 0 {
		cfg.MaxSize = DefaultMaxSize
	}
	if cfg.PerBucket == 0 {
		cfg.PerBucket = DefaultPerBucket
	}

	if !isPowerOfTwo(cfg.MinSize) || !isPowerOfTwo(cfg.MaxSize) || cfg.MinSize > cfg.MaxSize || cfg.PerBucket < 0 {
		return nil, errors.Newf("invalid buffer pool bounds: min=%d max=%d per_bucket=%d",
			cfg.MinSize, cfg.MaxSize, cfg.PerBucket).
			Component("bufferpool").
			Category(errors.CategoryInvalidArgument).
			Context("operation", "create_pool").
			Build()
	}

	p := &Pool[T]{
		name:     "default",
		minShift: bits.TrailingZeros(uint(cfg.MinSize)),
		maxShift: bits.TrailingZeros(uint(cfg.MaxSize)),
	}
	p.buckets = make([]chan []T, p.maxShift-p.minShift+1)
	for i := range p.buckets {
		p.buckets[i] = make(chan []T, cfg.PerBucket)
	}

	for _, opt := range opts {
		opt(p)
	}

	return p, nil
}

// MustNew is New for static configurations known to be valid.
func MustNew[T any](cfg Config, opts ...Option[T]) *Pool[T] {
	p, err := New(cfg, opts...)
	if err != nil {
		panic(err)
	}
	return p
}

// MinSize returns the smallest pooled buffer length.
func (p *Pool[T]) MinSize() int { return 1 << p.minShift }

// MaxSize returns the largest pooled buffer length.
func (p *Pool[T]) MaxSize() int { return 1 << p.maxShift }

// Rent returns a buffer of at least minSize elements. Pooled sizes are rounded
// up to the next power of two within [MinSize, MaxSize]; larger requests get
// an exact, unpooled allocation. Rent(0) returns an empty buffer. The contents
// of a reused buffer are not cleared.
func (p *Pool[T]) Rent(minSize int) ([]T, error) {
	switch {
	case minSize < 0:
		return nil, errors.Newf("negative buffer size: %d", minSize).
			Component("bufferpool").
			Category(errors.CategoryInvalidArgument).
			Context("requested_size", minSize).
			Build()
	case minSize == 0:
		return []T{}, nil
	case minSize > p.MaxSize():
		p.unpooled.Add(1)
		p.metrics.RecordRent(p.name, metrics.ResultUnpooled)
		return make([]T, minSize), nil
	}

	idx := p.bucketFor(minSize)
	select {
	case buf := <-p.buckets[idx]:
		p.hits.Add(1)
		p.metrics.RecordRent(p.name, metrics.ResultHit)
		return buf, nil
	default:
		p.misses.Add(1)
		p.metrics.RecordRent(p.name, metrics.ResultMiss)
		return make([]T, 1<<(idx+p.minShift)), nil
	}
}

// Return hands a buffer back. Buffers whose capacity is not a pooled size are
// ignored; a full bucket drops the buffer.
func (p *Pool[T]) Return(buf []T) {
	c := cap(buf)
	if c == 0 || !isPowerOfTwo(c) || c < p.MinSize() || c > p.MaxSize() {
		p.metrics.RecordReturn(p.name, metrics.ResultIgnored)
		return
	}

	idx := bits.TrailingZeros(uint(c)) - p.minShift
	select {
	case p.buckets[idx] <- buf[:c]:
		p.returned.Add(1)
		p.metrics.RecordReturn(p.name, metrics.ResultPooled)
	default:
		p.dropped.Add(1)
		p.metrics.RecordReturn(p.name, metrics.ResultDropped)
	}
}

// Idle returns the number of idle buffers held for the bucket serving size.
func (p *Pool[T]) Idle(size int) int {
	if size <= 0 || size > p.MaxSize() {
		return 0
	}
	return len(p.buckets[p.bucketFor(size)])
}

// Stats returns a snapshot of the pool counters.
func (p *Pool[T]) Stats() Stats {
	return Stats{
		Hits:     p.hits.Load(),
		Misses:   p.misses.Load(),
		Unpooled: p.unpooled.Load(),
		Returned: p.returned.Load(),
		Dropped:  p.dropped.Load(),
	}
}

// bucketFor maps a size in (0, MaxSize] to its bucket index.
func (p *Pool[T]) bucketFor(size int) int {
	shift := bits.Len(uint(size - 1))
	if shift < p.minShift {
		shift = p.minShift
	}
	return shift - p.minShift
}

func isPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}
