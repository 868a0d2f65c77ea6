package modelprovider

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/spf13/afero"
	"golang.org/x/text/language"
	"golang.org/x/text/language/display"

	"github.com/c43892/storyteller/internal/errors"
	"github.com/c43892/storyteller/internal/logger"
	"github.com/c43892/storyteller/internal/modelrepo"
	"github.com/c43892/storyteller/internal/observability/metrics"
	"github.com/c43892/storyteller/internal/recognizer"
)

// DefaultIdleTTL is how long a model that is no longer current stays loaded.
const DefaultIdleTTL = 10 * time.Minute

// LanguageModel maps a language to its packaged model. Path is a directory,
// or an entry inside LanguageConfig.Archive when an archive is configured.
type LanguageModel struct {
	Language language.Tag
	Path     string
}

// LanguageConfig configures a LanguageProvider.
type LanguageConfig struct {
	Repository *modelrepo.Repository
	Models     []LanguageModel
	// Archive is an optional zip bundling every model.
	Archive string
	// Fs holds the packaged models, defaults to the OS filesystem.
	Fs      afero.Fs
	Loader  recognizer.Loader
	IdleTTL time.Duration
	Logger  logger.Logger
	Metrics *metrics.RecognizerMetrics
}

// LanguageProvider installs packaged models into a repository on first use
// and serves the model of the last loaded language. Installs are reused as
// long as the packaged model's modification time is unchanged.
type LanguageProvider struct {
	repo    *modelrepo.Repository
	models  []LanguageModel
	archive string
	fs      afero.Fs
	loader  recognizer.Loader
	matcher language.Matcher
	log     logger.Logger
	metrics *metrics.RecognizerMetrics

	// Loaded models keyed by path. The current model never expires; others
	// are released IdleTTL after they stop being current.
	loaded *cache.Cache

	mu          sync.Mutex
	current     recognizer.Model
	currentPath string
	currentLang language.Tag
}

// NewLanguageProvider validates cfg. No model is loaded until Load.
func NewLanguageProvider(cfg LanguageConfig) (*LanguageProvider, error) {
	if cfg.Repository == nil {
		return nil, errors.Newf("language provider needs a model repository").
			Component("modelprovider").
			Category(errors.CategoryInvalidArgument).
			Build()
	}
	if len(cfg.Models) == 0 {
		return nil, errors.Newf("language provider has no models configured").
			Component("modelprovider").
			Category(errors.CategoryConfiguration).
			Build()
	}

	p := &LanguageProvider{
		repo:    cfg.Repository,
		models:  cfg.Models,
		archive: cfg.Archive,
		fs:      cfg.Fs,
		loader:  cfg.Loader,
		log:     cfg.Logger,
		metrics: cfg.Metrics,
	}
	if p.fs == nil {
		p.fs = afero.NewOsFs()
	}
	if p.loader == nil {
		p.loader = recognizer.LoadModel
	}
	if p.log == nil {
		p.log = GetLogger()
	}
	ttl := cfg.IdleTTL
	if ttl <= 0 {
		ttl = DefaultIdleTTL
	}

	tags := make([]language.Tag, len(cfg.Models))
	for i, m := range cfg.Models {
		tags[i] = m.Language
	}
	p.matcher = language.NewMatcher(tags)

	// No janitor goroutine: it cannot be stopped, expired models are swept on Load.
	p.loaded = cache.New(ttl, 0)
	p.loaded.OnEvicted(func(path string, v any) {
		if model, ok := v.(recognizer.Model); ok {
			if err := model.Close(); err != nil {
				p.log.Warn("failed to release model", logger.String("path", path), logger.Error(err))
			}
			p.log.Debug("model released", logger.String("path", path))
		}
	})

	return p, nil
}

// Languages lists the configured languages.
func (p *LanguageProvider) Languages() []language.Tag {
	tags := make([]language.Tag, len(p.models))
	for i, m := range p.models {
		tags[i] = m.Language
	}
	return tags
}

// Match returns the configured model that best serves lang.
func (p *LanguageProvider) Match(lang language.Tag) (LanguageModel, bool) {
	_, idx, conf := p.matcher.Match(lang)
	if conf == language.No {
		return LanguageModel{}, false
	}
	return p.models[idx], true
}

// Load makes the model for lang current, installing it into the repository
// if no install with a matching tag exists.
func (p *LanguageProvider) Load(ctx context.Context, lang language.Tag) error {
	entry, ok := p.Match(lang)
	if !ok {
		return errors.Newf("language %s is not supported", lang).
			Component("modelprovider").
			Category(errors.CategoryNotFound).
			Context("language", lang.String()).
			Build()
	}

	p.loaded.DeleteExpired()

	tag, err := p.tagFor(entry)
	if err != nil {
		return err
	}

	info, found := p.repo.FindByTag(tag)
	if !found {
		if info, err = p.install(ctx, entry); err != nil {
			return err
		}
		if err := p.repo.SetTag(info.ID, tag.String()); err != nil {
			return err
		}
	}

	model, err := p.modelAt(info.Path)
	if err != nil {
		return err
	}

	p.mu.Lock()
	prevModel, prevPath := p.current, p.currentPath
	p.current, p.currentPath, p.currentLang = model, info.Path, entry.Language
	p.mu.Unlock()

	if prevModel != nil && prevPath != info.Path {
		// Start the idle clock of the model that stopped being current.
		p.loaded.SetDefault(prevPath, prevModel)
	}

	p.log.Info("language model ready",
		logger.String("language", entry.Language.String()),
		logger.String("model_id", info.ID),
		logger.Bool("installed", !found))
	return nil
}

// Model returns the current model, or nil before the first Load.
func (p *LanguageProvider) Model() recognizer.Model {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// Language returns the language of the current model.
func (p *LanguageProvider) Language() language.Tag {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.currentLang
}

// Close releases every loaded model.
func (p *LanguageProvider) Close() error {
	p.mu.Lock()
	p.current, p.currentPath = nil, ""
	p.mu.Unlock()

	// Items skips expired entries and Flush skips the eviction callback.
	p.loaded.DeleteExpired()
	for path := range p.loaded.Items() {
		p.loaded.Delete(path)
	}
	return nil
}

func (p *LanguageProvider) tagFor(entry LanguageModel) (modelrepo.ModelTag, error) {
	if p.archive != "" {
		src, err := modelrepo.NewZipSource(p.fs, p.archive, entry.Path)
		if err != nil {
			return modelrepo.ModelTag{}, err
		}
		mtime, ok, err := src.EntryModTime(entry.Path)
		if err != nil {
			return modelrepo.ModelTag{}, err
		}
		if !ok {
			return modelrepo.ModelTag{}, errors.Newf("archive %s has no entry %q", p.archive, entry.Path).
				Component("modelprovider").
				Category(errors.CategoryNotFound).
				Context("language", entry.Language.String()).
				Build()
		}
		return modelrepo.NewModelTag(entry.Language, mtime), nil
	}

	info, err := p.fs.Stat(entry.Path)
	if err != nil {
		return modelrepo.ModelTag{}, errors.New(err).
			Component("modelprovider").
			Category(errors.CategoryNotFound).
			FileContext(entry.Path, "stat_model").
			Context("language", entry.Language.String()).
			Build()
	}
	return modelrepo.NewModelTag(entry.Language, info.ModTime()), nil
}

func (p *LanguageProvider) install(ctx context.Context, entry LanguageModel) (modelrepo.ModelInfo, error) {
	if p.archive != "" {
		src, err := modelrepo.NewZipSource(p.fs, p.archive, entry.Path)
		if err != nil {
			return modelrepo.ModelInfo{}, err
		}
		return p.repo.InstallModel(ctx, src)
	}
	return p.repo.AddExistingModel(entry.Path, fmt.Sprintf("Model %s", display.English.Tags().Name(entry.Language)))
}

// modelAt returns the loaded model for path, loading it on a miss. The entry
// is pinned until it stops being current.
func (p *LanguageProvider) modelAt(path string) (recognizer.Model, error) {
	if v, ok := p.loaded.Get(path); ok {
		model := v.(recognizer.Model)
		p.loaded.Set(path, model, cache.NoExpiration)
		return model, nil
	}

	start := time.Now()
	model, err := p.loader(path)
	if err != nil {
		return nil, errors.New(err).
			Component("modelprovider").
			Category(errors.CategoryEngineFailure).
			FileContext(path, "load_model").
			Build()
	}
	p.metrics.ObserveModelLoad(time.Since(start))
	p.loaded.Set(path, model, cache.NoExpiration)
	return model, nil
}
