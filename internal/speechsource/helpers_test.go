package speechsource

import (
	"sync"
	"testing"
	"time"
)

// collector records everything a source delivers.
type collector struct {
	mu      sync.Mutex
	samples []int16
	chunks  []int
	dried   int
	driedCh chan struct{}
}

func newCollector() *collector {
	return &collector{driedCh: make(chan struct{}, 8)}
}

func (c *collector) SamplesReady(samples []int16, length int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.samples = append(c.samples, samples[:length]...)
	c.chunks = append(c.chunks, length)
}

func (c *collector) Dried() {
	c.mu.Lock()
	c.dried++
	c.mu.Unlock()
	c.driedCh <- struct{}{}
}

func (c *collector) waitDried(t *testing.T) {
	t.Helper()
	select {
	case <-c.driedCh:
	case <-time.After(5 * time.Second):
		t.Fatal("source never dried")
	}
}

func (c *collector) snapshot() (samples []int16, chunks []int, dried int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int16(nil), c.samples...), append([]int(nil), c.chunks...), c.dried
}

func ramp(n int) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = int16(i % 30000)
	}
	return out
}

func s16le(samples []int16) []byte {
	out := make([]byte, 0, len(samples)*2)
	for _, s := range samples {
		out = append(out, byte(uint16(s)), byte(uint16(s)>>8))
	}
	return out
}
