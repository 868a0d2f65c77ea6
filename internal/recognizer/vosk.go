//go:build vosk

package recognizer

import (
	"encoding/binary"
	"os"
	"sync"

	vosk "github.com/alphacep/vosk-api/go"

	"github.com/c43892/storyteller/internal/errors"
	"github.com/c43892/storyteller/internal/logger"
)

// EngineAvailable reports whether this build links a recognition engine.
const EngineAvailable = true

// voskModel owns a native Vosk model handle.
type voskModel struct {
	mu    sync.Mutex
	model *vosk.VoskModel
	path  string
}

// LoadModel loads a Vosk model directory.
func LoadModel(path string) (Model, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, errors.New(err).
			Component("recognizer").
			Category(errors.CategoryNotFound).
			FileContext(path, "load_model").
			Build()
	}

	model, err := vosk.NewModel(path)
	if err != nil {
		return nil, errors.New(err).
			Component("recognizer").
			Category(errors.CategoryEngineFailure).
			FileContext(path, "load_model").
			Build()
	}

	GetLogger().Info("model loaded", logger.String("path", path))
	return &voskModel{model: model, path: path}, nil
}

func (m *voskModel) NewEngine(cfg EngineConfig) (Engine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.model == nil {
		return nil, errors.Newf("model %s is closed", m.path).
			Component("recognizer").
			Category(errors.CategoryState).
			Build()
	}

	var (
		rec *vosk.VoskRecognizer
		err error
	)
	if cfg.Vocabulary == "" {
		rec, err = vosk.NewRecognizer(m.model, float64(cfg.SampleRate))
	} else {
		rec, err = vosk.NewRecognizerGrm(m.model, float64(cfg.SampleRate), cfg.Vocabulary)
	}
	if err != nil {
		return nil, errors.New(err).
			Component("recognizer").
			Category(errors.CategoryEngineFailure).
			Context("sample_rate", cfg.SampleRate).
			Context("restricted_vocabulary", cfg.Vocabulary != "").
			Build()
	}

	words := 0
	if cfg.Words {
		words = 1
	}
	rec.SetWords(words)
	rec.SetMaxAlternatives(cfg.MaxAlternatives)

	return &voskEngine{rec: rec}, nil
}

func (m *voskModel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.model != nil {
		m.model.Free()
		m.model = nil
	}
	return nil
}

// voskEngine adapts a Vosk recognizer to Engine.
type voskEngine struct {
	rec     *vosk.VoskRecognizer
	scratch []byte
}

func (e *voskEngine) AcceptWaveform(samples []int16) (bool, error) {
	need := len(samples) * 2
	if cap(e.scratch) < need {
		e.scratch = make([]byte, need)
	}
	buf := e.scratch[:need]
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}

	switch rc := e.rec.AcceptWaveform(buf); {
	case rc < 0:
		return false, errors.Newf("vosk rejected waveform: code %d", rc).
			Component("recognizer").
			Category(errors.CategoryEngineFailure).
			Context("samples", len(samples)).
			Build()
	default:
		return rc == 1, nil
	}
}

func (e *voskEngine) PartialResult() string { return e.rec.PartialResult() }

func (e *voskEngine) Result() string { return e.rec.Result() }

func (e *voskEngine) FinalResult() string { return e.rec.FinalResult() }

func (e *voskEngine) Close() error {
	if e.rec != nil {
		e.rec.Free()
		e.rec = nil
	}
	return nil
}
