// Package speechsource produces 16-bit mono audio for recognition from
// in-memory clips, byte streams and capture devices.
//
// Sources push audio to listeners: SamplesReady per chunk, then Dried once
// when a production run will never deliver more samples. The samples slice
// passed to SamplesReady is only valid for the duration of the call.
package speechsource

import (
	"slices"
	"sync"
)

// Listener receives the output of a Source. Calls are made from the source's
// producer goroutine and must not block or call StopProduce.
type Listener interface {
	SamplesReady(samples []int16, length int)
	Dried()
}

// ListenerFuncs adapts plain functions to Listener. Nil fields are skipped.
type ListenerFuncs struct {
	OnSamples func(samples []int16, length int)
	OnDried   func()
}

func (f ListenerFuncs) SamplesReady(samples []int16, length int) {
	if f.OnSamples != nil {
		f.OnSamples(samples, length)
	}
}

func (f ListenerFuncs) Dried() {
	if f.OnDried != nil {
		f.OnDried()
	}
}

// Source is a producer of audio samples.
type Source interface {
	// SampleRate is the rate of produced samples in Hz.
	SampleRate() int
	// StartProduce begins a production run.
	StartProduce() error
	// StopProduce ends the current run. No listener is called after it
	// returns.
	StopProduce()
	// Subscribe registers l and returns a function removing it.
	Subscribe(l Listener) (unsubscribe func())
}

// Faulted is implemented by sources whose run can end on an error. Err is
// read after Dried to tell a failed run from a clean end.
type Faulted interface {
	Err() error
}

type listenerEntry struct {
	id       uint64
	listener Listener
}

// emitter fans samples out to listeners, in subscription order, on behalf of
// a source. Each production run has a generation number; emissions from a
// stale generation are dropped so a stopped run can never reach listeners.
type emitter struct {
	listenersMu sync.RWMutex
	listeners   []listenerEntry
	nextID      uint64

	// gate is held while listeners run so that end() fences emission.
	gate    sync.Mutex
	gen     uint64
	counter uint64
}

// Subscribe registers l and returns a function removing it.
func (e *emitter) Subscribe(l Listener) func() {
	e.listenersMu.Lock()
	defer e.listenersMu.Unlock()

	id := e.nextID
	e.nextID++
	e.listeners = append(e.listeners, listenerEntry{id: id, listener: l})

	var once sync.Once
	return func() {
		once.Do(func() {
			e.listenersMu.Lock()
			e.listeners = slices.DeleteFunc(e.listeners, func(le listenerEntry) bool { return le.id == id })
			e.listenersMu.Unlock()
		})
	}
}

func (e *emitter) snapshot() []Listener {
	e.listenersMu.RLock()
	defer e.listenersMu.RUnlock()
	out := make([]Listener, len(e.listeners))
	for i, le := range e.listeners {
		out[i] = le.listener
	}
	return out
}

// begin starts a production run and returns its generation.
func (e *emitter) begin() uint64 {
	e.gate.Lock()
	defer e.gate.Unlock()
	e.counter++
	e.gen = e.counter
	return e.gen
}

// end stops the current run, waiting for an in-flight delivery.
func (e *emitter) end() {
	e.gate.Lock()
	e.gen = 0
	e.gate.Unlock()
}

// producing reports whether gen is the current run.
func (e *emitter) producing(gen uint64) bool {
	e.gate.Lock()
	defer e.gate.Unlock()
	return gen != 0 && e.gen == gen
}

// emitSamples delivers samples[:length] if gen is still current.
func (e *emitter) emitSamples(gen uint64, samples []int16, length int) bool {
	e.gate.Lock()
	defer e.gate.Unlock()
	if gen == 0 || e.gen != gen {
		return false
	}
	for _, l := range e.snapshot() {
		l.SamplesReady(samples, length)
	}
	return true
}

// emitDried ends run gen and tells listeners no more samples will arrive.
func (e *emitter) emitDried(gen uint64) bool {
	e.gate.Lock()
	defer e.gate.Unlock()
	if gen == 0 || e.gen != gen {
		return false
	}
	e.gen = 0
	for _, l := range e.snapshot() {
		l.Dried()
	}
	return true
}
