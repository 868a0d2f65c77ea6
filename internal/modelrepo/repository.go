// Package modelrepo keeps a durable catalog of language models installed
// under one root directory.
//
// The catalog lives in CatalogFileName inside the root. It is loaded once when
// the repository is opened, entries whose directory disappeared or no longer
// holds a model are purged, and the whole file is rewritten after every
// mutation. Removing a model only forgets it; its files stay on disk.
package modelrepo

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/c43892/storyteller/internal/errors"
	"github.com/c43892/storyteller/internal/logger"
	"github.com/c43892/storyteller/internal/observability/metrics"
)

const (
	// CatalogFileName is the catalog file inside the repository root.
	CatalogFileName = ".models.json"
	// DefaultModelName names models whose source suggests no name.
	DefaultModelName = "Model"

	dirPermissions  = 0o755
	filePermissions = 0o644
)

// ModelInfo describes one installed model. ID never changes once assigned.
type ModelInfo struct {
	Name string `json:"name" yaml:"name"`
	ID   string `json:"id" yaml:"id"`
	Path string `json:"path" yaml:"path"`
	Tag  string `json:"tag" yaml:"tag"`
}

type catalog struct {
	List []ModelInfo `json:"list"`
}

// Repository is a model catalog rooted at one directory. It is safe for
// concurrent use.
type Repository struct {
	fs          afero.Fs
	root        string
	catalogPath string
	log         logger.Logger
	metrics     *metrics.RecognizerMetrics

	mu     sync.RWMutex
	models []ModelInfo
}

// Option configures a Repository.
type Option func(*Repository)

// WithFs replaces the OS filesystem, e.g. with afero.NewMemMapFs in tests.
func WithFs(fs afero.Fs) Option {
	return func(r *Repository) {
		r.fs = fs
	}
}

// WithLogger overrides the package logger.
func WithLogger(l logger.Logger) Option {
	return func(r *Repository) {
		r.log = l
	}
}

// WithMetrics records catalog operations.
func WithMetrics(m *metrics.RecognizerMetrics) Option {
	return func(r *Repository) {
		r.metrics = m
	}
}

// Open loads or creates the repository in root. A missing, empty or corrupt
// catalog is treated as empty. The cleaned catalog is written back before
// Open returns.
func Open(root string, opts ...Option) (*Repository, error) {
	r := &Repository{
		fs:  afero.NewOsFs(),
		log: GetLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, errors.New(err).
			Component("modelrepo").
			Category(errors.CategoryInvalidArgument).
			Context("root", root).
			Build()
	}
	r.root = abs
	r.catalogPath = filepath.Join(abs, CatalogFileName)

	if err := r.fs.MkdirAll(abs, dirPermissions); err != nil {
		return nil, errors.New(err).
			Component("modelrepo").
			Category(errors.CategoryFileSystem).
			FileContext(abs, "create_root").
			Build()
	}

	r.models = r.loadCatalog()
	r.purgeInvalid()

	if err := r.writeCatalog(r.models); err != nil {
		return nil, err
	}

	r.log.Debug("model repository opened",
		logger.String("root", abs),
		logger.Int("models", len(r.models)))
	return r, nil
}

// Root returns the absolute repository directory.
func (r *Repository) Root() string {
	return r.root
}

// Models returns a snapshot of the catalog in insertion order.
func (r *Repository) Models() []ModelInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.models)
}

// Get returns the model with id.
func (r *Repository) Get(id string) (ModelInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	idx, err := r.indexOf(id)
	if err != nil {
		return ModelInfo{}, err
	}
	return r.models[idx], nil
}

// FindByTag returns the first model whose tag parses to a tag equal to tag.
func (r *Repository) FindByTag(tag ModelTag) (ModelInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, m := range r.models {
		if m.Tag == "" {
			continue
		}
		parsed, err := ParseModelTag(m.Tag)
		if err != nil {
			continue
		}
		if parsed.Equal(tag) {
			return m, true
		}
	}
	return ModelInfo{}, false
}

// InstallModel extracts src into a new subdirectory of the root named after
// the source and registers it. An existing directory of that name is never
// reused; a numeric suffix is added instead.
func (r *Repository) InstallModel(ctx context.Context, src Source) (ModelInfo, error) {
	start := time.Now()

	name := sanitizeName(src.SuggestedName())
	dir, err := r.freshDir(name)
	if err != nil {
		r.metrics.RecordModelOperation("install", "error")
		return ModelInfo{}, err
	}

	r.log.Info("installing model",
		logger.String("name", name),
		logger.String("path", dir))

	if err := src.SaveTo(ctx, r.fs, dir); err != nil {
		r.metrics.RecordModelOperation("install", "error")
		r.discardDir(dir)
		if !errors.IsCategory(err, errors.CategoryFileSystem) {
			err = errors.New(err).
				Component("modelrepo").
				Category(errors.CategoryFileSystem).
				FileContext(dir, "extract_model").
				Build()
		}
		return ModelInfo{}, err
	}

	info, err := r.AddExistingModel(dir, name)
	if err != nil {
		r.metrics.RecordModelOperation("install", "error")
		r.discardDir(dir)
		return ModelInfo{}, err
	}

	r.metrics.RecordModelOperation("install", "success")
	r.log.Info("model installed",
		logger.String("id", info.ID),
		logger.String("name", info.Name),
		logger.Duration("duration", time.Since(start)))
	return info, nil
}

// AddExistingModel registers a model directory in place without moving it.
func (r *Repository) AddExistingModel(path, name string) (ModelInfo, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return ModelInfo{}, errors.New(err).
			Component("modelrepo").
			Category(errors.CategoryInvalidArgument).
			Context("path", path).
			Build()
	}

	if !dirExists(r.fs, abs) {
		r.metrics.RecordModelOperation("add", "error")
		return ModelInfo{}, errors.Newf("model directory %s not found", abs).
			Component("modelrepo").
			Category(errors.CategoryNotFound).
			FileContext(abs, "add_model").
			Build()
	}
	if !ContainsValidModelFiles(r.fs, abs) {
		r.metrics.RecordModelOperation("add", "error")
		return ModelInfo{}, errors.Newf("model directory %s lacks required files", abs).
			Component("modelrepo").
			Category(errors.CategoryInvalidFormat).
			FileContext(abs, "add_model").
			Build()
	}

	if name == "" {
		name = filepath.Base(abs)
	}
	info := ModelInfo{
		Name: name,
		ID:   uuid.NewString(),
		Path: abs,
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	next := append(slices.Clone(r.models), info)
	if err := r.writeCatalog(next); err != nil {
		r.metrics.RecordModelOperation("add", "error")
		return ModelInfo{}, err
	}
	r.models = next

	r.metrics.RecordModelOperation("add", "success")
	r.log.Info("model registered",
		logger.String("id", info.ID),
		logger.String("name", info.Name),
		logger.String("path", info.Path))
	return info, nil
}

// SetTag replaces the tag of model id.
func (r *Repository) SetTag(id, tag string) error {
	return r.update("set_tag", id, func(m *ModelInfo) { m.Tag = tag })
}

// SetName replaces the name of model id.
func (r *Repository) SetName(id, name string) error {
	return r.update("set_name", id, func(m *ModelInfo) { m.Name = name })
}

// Remove forgets model id. Its directory is left on disk.
func (r *Repository) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx, err := r.indexOf(id)
	if err != nil {
		r.metrics.RecordModelOperation("remove", "error")
		return err
	}

	next := slices.Delete(slices.Clone(r.models), idx, idx+1)
	if err := r.writeCatalog(next); err != nil {
		r.metrics.RecordModelOperation("remove", "error")
		return err
	}
	r.models = next

	r.metrics.RecordModelOperation("remove", "success")
	r.log.Info("model removed from catalog", logger.String("id", id))
	return nil
}

func (r *Repository) update(op, id string, mutate func(*ModelInfo)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx, err := r.indexOf(id)
	if err != nil {
		r.metrics.RecordModelOperation(op, "error")
		return err
	}

	next := slices.Clone(r.models)
	mutate(&next[idx])
	if err := r.writeCatalog(next); err != nil {
		r.metrics.RecordModelOperation(op, "error")
		return err
	}
	r.models = next

	r.metrics.RecordModelOperation(op, "success")
	return nil
}

// indexOf must be called with r.mu held.
func (r *Repository) indexOf(id string) (int, error) {
	idx := slices.IndexFunc(r.models, func(m ModelInfo) bool { return m.ID == id })
	if idx < 0 {
		return -1, errors.Newf("model %q not found", id).
			Component("modelrepo").
			Category(errors.CategoryNotFound).
			Context("model_id", id).
			Build()
	}
	return idx, nil
}

func (r *Repository) loadCatalog() []ModelInfo {
	data, err := afero.ReadFile(r.fs, r.catalogPath)
	if err != nil {
		if !os.IsNotExist(err) {
			r.log.Warn("failed to read model catalog, starting empty",
				logger.String("path", r.catalogPath),
				logger.Error(err))
		}
		return nil
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil
	}

	var c catalog
	if err := json.Unmarshal(data, &c); err != nil {
		r.log.Warn("model catalog is corrupt, starting empty",
			logger.String("path", r.catalogPath),
			logger.Error(err))
		return nil
	}
	return c.List
}

// purgeInvalid drops entries that are malformed or whose directory no longer
// holds a model. Called before the repository is shared.
func (r *Repository) purgeInvalid() {
	seen := make(map[string]struct{}, len(r.models))
	r.models = slices.DeleteFunc(r.models, func(m ModelInfo) bool {
		reason := ""
		switch {
		case m.ID == "" || m.Path == "":
			reason = "malformed entry"
		case !dirExists(r.fs, m.Path):
			reason = "directory missing"
		case !ContainsValidModelFiles(r.fs, m.Path):
			reason = "model files missing"
		}
		if reason == "" {
			if _, dup := seen[m.ID]; dup {
				reason = "duplicate id"
			}
		}
		if reason != "" {
			r.log.Warn("purging model from catalog",
				logger.String("id", m.ID),
				logger.String("path", m.Path),
				logger.String("reason", reason))
			return true
		}
		seen[m.ID] = struct{}{}
		return false
	})
}

// writeCatalog replaces the catalog file with models. The file is written to
// a temporary name and renamed over the old one.
func (r *Repository) writeCatalog(models []ModelInfo) error {
	if models == nil {
		models = []ModelInfo{}
	}
	data, err := json.MarshalIndent(catalog{List: models}, "", "  ")
	if err != nil {
		return errors.New(err).
			Component("modelrepo").
			Category(errors.CategoryInvalidFormat).
			Build()
	}

	tmp := r.catalogPath + ".tmp"
	if err := afero.WriteFile(r.fs, tmp, data, filePermissions); err != nil {
		return errors.New(err).
			Component("modelrepo").
			Category(errors.CategoryFileSystem).
			FileContext(tmp, "write_catalog").
			Build()
	}
	if err := r.fs.Rename(tmp, r.catalogPath); err != nil {
		_ = r.fs.Remove(tmp)
		return errors.New(err).
			Component("modelrepo").
			Category(errors.CategoryFileSystem).
			FileContext(r.catalogPath, "replace_catalog").
			Build()
	}
	return nil
}

// freshDir creates and returns a directory under root named after name that
// did not exist before.
func (r *Repository) freshDir(name string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := 0; i < 1000; i++ {
		candidate := name
		if i > 0 {
			candidate = fmt.Sprintf("%s-%d", name, i)
		}
		dir := filepath.Join(r.root, candidate)
		exists, err := afero.Exists(r.fs, dir)
		if err != nil {
			return "", errors.New(err).
				Component("modelrepo").
				Category(errors.CategoryFileSystem).
				FileContext(dir, "stat").
				Build()
		}
		if exists {
			continue
		}
		if err := r.fs.Mkdir(dir, dirPermissions); err != nil {
			return "", errors.New(err).
				Component("modelrepo").
				Category(errors.CategoryFileSystem).
				FileContext(dir, "reserve_model_dir").
				Build()
		}
		return dir, nil
	}
	return "", errors.Newf("no free directory name for model %q", name).
		Component("modelrepo").
		Category(errors.CategoryFileSystem).
		Context("root", r.root).
		Build()
}

// discardDir removes a directory reserved by a failed install.
func (r *Repository) discardDir(dir string) {
	if err := r.fs.RemoveAll(dir); err != nil {
		r.log.Warn("failed to remove partial model install", logger.String("path", dir), logger.Error(err))
	}
}

// sanitizeName reduces a suggested name to a single path element.
func sanitizeName(name string) string {
	name = strings.TrimSpace(filepath.Base(filepath.FromSlash(name)))
	switch name {
	case "", ".", "..", string(filepath.Separator), CatalogFileName:
		return DefaultModelName
	}
	return name
}
