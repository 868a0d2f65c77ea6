package speech

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/c43892/storyteller/internal/errors"
	"github.com/c43892/storyteller/internal/recognizer"
	"github.com/c43892/storyteller/internal/speechsource"
)

// Sample values understood by fakeEngine. Any other non-zero value is speech
// and zero is silence.
const (
	boundaryMarker = 1000
	crashMarker    = -1000
)

type fakeEngine struct {
	finals   []string
	speaking bool
}

func (e *fakeEngine) AcceptWaveform(samples []int16) (bool, error) {
	if len(samples) == 0 {
		return false, nil
	}
	switch samples[0] {
	case crashMarker:
		return false, errors.NewStd("engine exploded")
	case boundaryMarker:
		return true, nil
	case 0:
		e.speaking = false
	default:
		e.speaking = true
	}
	return false, nil
}

func (e *fakeEngine) PartialResult() string {
	if e.speaking {
		return `{"partial": "speaking"}`
	}
	return `{"partial": ""}`
}

func (e *fakeEngine) Result() string {
	e.speaking = false
	if len(e.finals) == 0 {
		return `{"text": ""}`
	}
	text := e.finals[0]
	e.finals = e.finals[1:]
	return fmt.Sprintf(`{"text": %q}`, text)
}

func (e *fakeEngine) FinalResult() string { return `{"text": ""}` }

func (e *fakeEngine) Close() error { return nil }

type fakeModel struct {
	finals []string

	mu      sync.Mutex
	configs []recognizer.EngineConfig
}

func (m *fakeModel) NewEngine(cfg recognizer.EngineConfig) (recognizer.Engine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.configs = append(m.configs, cfg)
	return &fakeEngine{finals: slices.Clone(m.finals)}, nil
}

func (m *fakeModel) Close() error { return nil }

func (m *fakeModel) engineConfigs() []recognizer.EngineConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.configs)
}

type staticProvider struct {
	model recognizer.Model
}

func (p staticProvider) Model() recognizer.Model { return p.model }

func (p staticProvider) Close() error { return nil }

// events records handler calls in order.
type events struct {
	mu   sync.Mutex
	log  []string
	err  error
	done chan struct{}
}

func newEvents() *events {
	return &events{done: make(chan struct{}, 4)}
}

func (e *events) add(s string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.log = append(e.log, s)
}

func (e *events) OnPartial(res recognizer.PartialResult) { e.add("partial:" + res.Text) }

func (e *events) OnFinal(res recognizer.FinalResult) { e.add("final:" + res.Text) }

func (e *events) OnFinished() {
	e.add("finished")
	e.done <- struct{}{}
}

func (e *events) OnCrashed(err error) {
	e.mu.Lock()
	e.err = err
	e.mu.Unlock()
	e.add("crashed")
	e.done <- struct{}{}
}

func (e *events) snapshot() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.log)
}

func (e *events) wait(t *testing.T) {
	t.Helper()
	select {
	case <-e.done:
	case <-time.After(5 * time.Second):
		t.Fatalf("run did not end, events so far: %v", e.snapshot())
	}
}

// loop runs rec.Run in the background until the returned stop is called.
func loop(t *testing.T, rec *Recognizer) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(t.Context())
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		_ = rec.Run(ctx, time.Millisecond)
	}()
	return func() {
		cancel()
		<-exited
		rec.Wait()
	}
}

func clip(t *testing.T, samples ...int16) *speechsource.ClipSource {
	t.Helper()
	src, err := speechsource.NewClipSource(samples, 16000, speechsource.ClipConfig{ChunkSize: 1})
	require.NoError(t, err)
	return src
}

func recognizerPartial(text string) recognizer.PartialResult {
	return recognizer.PartialResult{Text: text}
}
