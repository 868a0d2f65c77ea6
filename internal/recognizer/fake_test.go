package recognizer

import (
	"sync"

	"github.com/c43892/storyteller/internal/errors"
)

// fakeEngine replays canned engine payloads. A chunk whose first sample is
// boundaryMarker ends an utterance; failMarker makes AcceptWaveform fail.
type fakeEngine struct {
	mu      sync.Mutex
	fed     [][]int16
	partial string
	result  string
	final   string
	closed  bool
	panicOn int16
}

const (
	boundaryMarker int16 = 1000
	failMarker     int16 = -1000
)

func (e *fakeEngine) AcceptWaveform(samples []int16) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.fed = append(e.fed, append([]int16(nil), samples...))
	if len(samples) == 0 {
		return false, nil
	}
	if e.panicOn != 0 && samples[0] == e.panicOn {
		panic("native engine crashed")
	}
	if samples[0] == failMarker {
		return false, errors.Newf("decoder failed").Category(errors.CategoryEngineFailure).Build()
	}
	return samples[0] == boundaryMarker, nil
}

func (e *fakeEngine) PartialResult() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.partial
}

func (e *fakeEngine) Result() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.result
}

func (e *fakeEngine) FinalResult() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.final
}

func (e *fakeEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

func (e *fakeEngine) fedChunks() [][]int16 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([][]int16(nil), e.fed...)
}

func (e *fakeEngine) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

type fakeModel struct {
	mu      sync.Mutex
	engine  *fakeEngine
	err     error
	configs []EngineConfig
}

func newFakeModel() *fakeModel {
	return &fakeModel{engine: &fakeEngine{
		partial: `{"partial": ""}`,
		result:  `{"text": ""}`,
		final:   `{"text": ""}`,
	}}
}

func (m *fakeModel) NewEngine(cfg EngineConfig) (Engine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.configs = append(m.configs, cfg)
	if m.err != nil {
		return nil, m.err
	}
	return m.engine, nil
}

func (m *fakeModel) Close() error { return nil }

func (m *fakeModel) lastConfig() EngineConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.configs[len(m.configs)-1]
}
