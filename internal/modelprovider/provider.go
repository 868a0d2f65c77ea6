// Package modelprovider resolves the language model a recognition run uses.
package modelprovider

import (
	"sync"
	"time"

	"github.com/c43892/storyteller/internal/errors"
	"github.com/c43892/storyteller/internal/logger"
	"github.com/c43892/storyteller/internal/observability/metrics"
	"github.com/c43892/storyteller/internal/recognizer"
)

// Provider supplies the model for the next recognition run. Model returns
// nil until a model has been loaded.
type Provider interface {
	Model() recognizer.Model
	Close() error
}

// SingleProvider serves one model loaded from a fixed directory.
type SingleProvider struct {
	mu    sync.Mutex
	path  string
	model recognizer.Model
}

// NewSingleProvider loads the model at path with loader, which defaults to
// recognizer.LoadModel.
func NewSingleProvider(path string, loader recognizer.Loader, m *metrics.RecognizerMetrics) (*SingleProvider, error) {
	if loader == nil {
		loader = recognizer.LoadModel
	}

	start := time.Now()
	model, err := loader(path)
	if err != nil {
		return nil, errors.New(err).
			Component("modelprovider").
			Category(errors.CategoryEngineFailure).
			FileContext(path, "load_model").
			Build()
	}
	m.ObserveModelLoad(time.Since(start))

	GetLogger().Info("model ready",
		logger.String("path", path),
		logger.Duration("load_time", time.Since(start)))
	return &SingleProvider{path: path, model: model}, nil
}

// Model returns the loaded model, or nil after Close.
func (p *SingleProvider) Model() recognizer.Model {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.model
}

// Path returns the model directory.
func (p *SingleProvider) Path() string {
	return p.path
}

// Close releases the model. Further calls are no-ops.
func (p *SingleProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.model == nil {
		return nil
	}
	err := p.model.Close()
	p.model = nil
	return err
}
