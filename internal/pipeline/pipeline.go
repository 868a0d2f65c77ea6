// Package pipeline assembles the shared pieces of a recognition run from
// settings: metrics, the sample pool, the model repository and the model
// provider.
package pipeline

import (
	"context"

	"golang.org/x/text/language"

	"github.com/c43892/storyteller/internal/bufferpool"
	"github.com/c43892/storyteller/internal/conf"
	"github.com/c43892/storyteller/internal/errors"
	"github.com/c43892/storyteller/internal/logger"
	"github.com/c43892/storyteller/internal/modelprovider"
	"github.com/c43892/storyteller/internal/modelrepo"
	"github.com/c43892/storyteller/internal/observability"
	"github.com/c43892/storyteller/internal/recognizer"
	"github.com/c43892/storyteller/internal/speech"
	"github.com/c43892/storyteller/internal/speechsource"
)

// Pipeline holds what every recognizing command needs.
type Pipeline struct {
	Settings *conf.Settings
	Metrics  *observability.Metrics
	Pool     *bufferpool.Pool[int16]

	// Loader opens models, defaults to recognizer.LoadModel.
	Loader recognizer.Loader

	provider modelprovider.Provider
	language language.Tag
	log      logger.Logger
}

// New builds metrics and the sample pool. No model is loaded until LoadModel.
func New(settings *conf.Settings) (*Pipeline, error) {
	if settings == nil {
		return nil, errors.Newf("pipeline needs settings").
			Component("pipeline").
			Category(errors.CategoryInvalidArgument).
			Build()
	}

	m, err := observability.NewMetrics()
	if err != nil {
		return nil, err
	}

	pool, err := bufferpool.New[int16](bufferpool.Config{
		MinSize:   settings.Pool.MinSize,
		MaxSize:   settings.Pool.MaxSize,
		PerBucket: settings.Pool.PerBucket,
	}, bufferpool.WithMetrics[int16](m.Pipeline, "samples"))
	if err != nil {
		return nil, err
	}

	return &Pipeline{
		Settings: settings,
		Metrics:  m,
		Pool:     pool,
		Loader:   recognizer.LoadModel,
		log:      GetLogger(),
	}, nil
}

// OpenRepository opens the model repository configured in settings.
func OpenRepository(settings *conf.Settings, m *observability.Metrics) (*modelrepo.Repository, error) {
	opts := []modelrepo.Option{}
	if m != nil {
		opts = append(opts, modelrepo.WithMetrics(m.Recognizer))
	}
	return modelrepo.Open(settings.Models.Dir, opts...)
}

// LoadModel prepares the model provider. An explicit model path wins;
// otherwise the packaged model for the recognition language is installed
// into the repository if needed and loaded.
func (p *Pipeline) LoadModel(ctx context.Context) error {
	if p.provider != nil {
		return errors.Newf("model already loaded").
			Component("pipeline").
			Category(errors.CategoryState).
			Build()
	}

	if path := p.Settings.Models.ModelPath; path != "" {
		provider, err := modelprovider.NewSingleProvider(path, p.Loader, p.Metrics.Recognizer)
		if err != nil {
			return err
		}
		p.provider = provider
		return nil
	}

	lang, err := language.Parse(p.Settings.Recognition.Language)
	if err != nil {
		return errors.New(err).
			Component("pipeline").
			Category(errors.CategoryConfiguration).
			Context("language", p.Settings.Recognition.Language).
			Build()
	}

	models := make([]modelprovider.LanguageModel, 0, len(p.Settings.Models.Languages))
	for _, lm := range p.Settings.Models.Languages {
		tag, err := language.Parse(lm.Language)
		if err != nil {
			return errors.New(err).
				Component("pipeline").
				Category(errors.CategoryConfiguration).
				Context("language", lm.Language).
				Build()
		}
		models = append(models, modelprovider.LanguageModel{Language: tag, Path: lm.Path})
	}

	repo, err := OpenRepository(p.Settings, p.Metrics)
	if err != nil {
		return err
	}

	provider, err := modelprovider.NewLanguageProvider(modelprovider.LanguageConfig{
		Repository: repo,
		Models:     models,
		Archive:    p.Settings.Models.Archive,
		Loader:     p.Loader,
		Metrics:    p.Metrics.Recognizer,
	})
	if err != nil {
		return err
	}
	if err := provider.Load(ctx, lang); err != nil {
		_ = provider.Close()
		return err
	}

	p.provider = provider
	p.language = provider.Language()
	return nil
}

// Language returns the language of the loaded model, or the configured one
// when the model was given by path.
func (p *Pipeline) Language() string {
	if p.language != language.Und {
		return p.language.String()
	}
	return p.Settings.Recognition.Language
}

// NewRecognizer creates a recognizer reading from src with the configured
// recognition options.
func (p *Pipeline) NewRecognizer(src speechsource.Source) (*speech.Recognizer, error) {
	if p.provider == nil {
		return nil, errors.Newf("no model loaded").
			Component("pipeline").
			Category(errors.CategoryState).
			Build()
	}
	rs := p.Settings.Recognition
	return speech.New(speech.Config{
		Provider:           p.provider,
		Source:             src,
		Vocabulary:         rs.Vocabulary,
		Words:              rs.Words,
		MaxAlternatives:    rs.Alternatives,
		AllowEmptyPartials: rs.AllowEmptyPartials,
		Pool:               p.Pool,
		Metrics:            p.Metrics.Recognizer,
		PipelineMetrics:    p.Metrics.Pipeline,
	}), nil
}

// ServeMetrics runs the metrics endpoint until ctx is done. It returns nil
// right away when metrics are disabled.
func (p *Pipeline) ServeMetrics(ctx context.Context) error {
	if !p.Settings.Metrics.Enabled {
		return nil
	}
	endpoint, err := observability.NewEndpoint(p.Settings.Metrics.Listen, p.Metrics)
	if err != nil {
		return err
	}
	return endpoint.Run(ctx)
}

// Close releases the loaded models.
func (p *Pipeline) Close() error {
	if p.provider == nil {
		return nil
	}
	err := p.provider.Close()
	p.provider = nil
	if err != nil {
		p.log.Warn("failed to release models", logger.Error(err))
	}
	return err
}
