package lightning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Stage is a step of the ingestion state machine.
type Stage int

const (
	StageFetching Stage = iota
	StageLocating
	StageMerging
	StageResolvingThumbnail
	StagePersisting
	StagePreviewing
	StageDone
	StageFailed
)

func (s Stage) String() string {
	switch s {
	case StageFetching:
		return "fetching"
	case StageLocating:
		return "locating"
	case StageMerging:
		return "merging"
	case StageResolvingThumbnail:
		return "resolving thumbnail"
	case StagePersisting:
		return "persisting"
	case StagePreviewing:
		return "previewing"
	case StageDone:
		return "done"
	case StageFailed:
		return "failed"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// StageHook observes stage transitions. It is called synchronously from the
// ingesting goroutine and must not block.
type StageHook func(source string, stage Stage)

// Dependencies are the collaborators of a Catalog. Store defaults to a
// MemoryStore; a nil Packages or Git disables the matching fetch strategy;
// a nil Objects keeps thumbnails at their local path.
type Dependencies struct {
	Store    Store
	Packages PackageManager
	Git      Cloner
	Objects  ObjectStore
	Logger   *slog.Logger
}

// Catalog ingests visualization types from registries, repositories and
// folders and persists them.
type Catalog struct {
	config     Config
	store      Store
	fetcher    *SourceFetcher
	folders    *ArtifactLocator
	modules    *ArtifactLocator
	merger     *MetadataMerger
	thumbnails *ThumbnailResolver
	logger     *slog.Logger

	hookMu sync.RWMutex
	hook   StageHook
}

// NewCatalog creates a catalog from explicit dependencies.
func NewCatalog(cfg Config, deps Dependencies) (*Catalog, error) {
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	store := deps.Store
	if store == nil {
		store = NewMemoryStore()
	}

	folders, err := NewArtifactLocator(FolderLayout)
	if err != nil {
		return nil, err
	}
	modules, err := NewArtifactLocator(ModuleLayout)
	if err != nil {
		return nil, err
	}

	return &Catalog{
		config:     cfg,
		store:      store,
		fetcher:    NewSourceFetcher(cfg, deps.Packages, deps.Git, logger),
		folders:    folders,
		modules:    modules,
		merger:     NewMetadataMerger(logger),
		thumbnails: NewThumbnailResolver(deps.Objects, logger),
		logger:     logger.With(slog.String("component", "catalog")),
	}, nil
}

// Open creates a catalog wired to the production collaborators: the
// configured store, the package manager command, go-git and, when
// credentials are present, S3.
func Open(cfg Config, logger *slog.Logger) (*Catalog, error) {
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	var store Store
	switch cfg.Store.Driver {
	case "memory":
		store = NewMemoryStore()
	default:
		s, err := NewSQLiteStore(cfg.Store)
		if err != nil {
			return nil, err
		}
		store = s
	}

	deps := Dependencies{
		Store:    store,
		Packages: NewNPMClient(cfg.Registry, logger),
		Git:      NewGoGitCloner(logger),
		Logger:   logger,
	}
	if cfg.S3.Enabled() {
		objects, err := NewS3ObjectStore(cfg.S3)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("s3: %w", err)
		}
		deps.Objects = objects
	}

	c, err := NewCatalog(cfg, deps)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return c, nil
}

// Close closes the underlying store.
func (c *Catalog) Close() error {
	return c.store.Close()
}

// Config returns the normalized configuration.
func (c *Catalog) Config() Config {
	return c.config
}

// SetStageHook installs fn as the stage observer. Pass nil to remove it.
func (c *Catalog) SetStageHook(fn StageHook) {
	c.hookMu.Lock()
	c.hook = fn
	c.hookMu.Unlock()
}

// Get returns a stored visualization type by id.
func (c *Catalog) Get(ctx context.Context, id string) (*VisualizationType, error) {
	return c.store.Get(ctx, id)
}

// GetByName returns a stored visualization type by name.
func (c *Catalog) GetByName(ctx context.Context, name string) (*VisualizationType, error) {
	return c.store.GetByName(ctx, name)
}

// List returns every stored visualization type ordered by name.
func (c *Catalog) List(ctx context.Context) ([]*VisualizationType, error) {
	return c.store.List(ctx)
}

// Save persists vt, typically a preview, as-is.
func (c *Catalog) Save(ctx context.Context, vt *VisualizationType) error {
	vt.normalize()
	return c.create(ctx, vt)
}

// ThumbnailURL returns the public thumbnail URL of vt.
func (c *Catalog) ThumbnailURL(vt *VisualizationType) string {
	return vt.ThumbnailURL(c.config.StaticURL)
}

func (c *Catalog) create(ctx context.Context, vt *VisualizationType) error {
	err := c.store.Create(ctx, vt)
	if err == nil || errors.Is(err, ErrDuplicateName) || errors.Is(err, ErrPersistence) {
		return err
	}
	return &PersistenceError{Op: "create", Name: vt.Name, Cause: err}
}

// ingestion is one initial configuration of the ingestion state machine.
type ingestion struct {
	source string

	// fetch materializes the plugin directory. release is always non-nil
	// when err is nil.
	fetch func(ctx context.Context) (dir string, release func(), err error)

	locator  *ArtifactLocator
	explicit Attributes

	// defaultName is used when no attribute or package block names the plugin.
	defaultName string

	// configBlock keeps the package "lightning" block; only registry
	// packages declare one.
	configBlock bool

	// shape applies flow-specific fields after merging.
	shape func(vt *VisualizationType)

	// commit persists the record. A nil commit makes the ingestion a preview.
	commit func(ctx context.Context, vt *VisualizationType) error

	// thumbnail reports whether a thumbnail should be resolved before commit.
	thumbnail bool

	stage Stage
}

func (c *Catalog) enter(job *ingestion, stage Stage) {
	job.stage = stage
	c.logger.Debug("ingestion stage", "source", job.source, "stage", stage.String())

	c.hookMu.RLock()
	hook := c.hook
	c.hookMu.RUnlock()
	if hook != nil {
		hook(job.source, stage)
	}
}

func (c *Catalog) fail(job *ingestion, err error) error {
	failed := job.stage
	c.enter(job, StageFailed)
	c.logger.Warn("ingestion failed", "source", job.source, "stage", failed.String(), "err", err)
	return &IngestError{Stage: failed, Source: job.source, Err: err}
}

// run drives one ingestion through Fetching, Locating, Merging, then either
// Previewing or ResolvingThumbnail and Persisting. Nothing is persisted
// unless every earlier stage succeeded.
func (c *Catalog) run(ctx context.Context, job *ingestion) (*VisualizationType, error) {
	c.enter(job, StageFetching)
	dir, release, err := job.fetch(ctx)
	if err != nil {
		return nil, c.fail(job, err)
	}
	defer release()

	c.enter(job, StageLocating)
	artifacts, err := job.locator.Locate(dir)
	if err != nil {
		return nil, c.fail(job, err)
	}

	c.enter(job, StageMerging)
	disk, err := c.merger.ReadDisk(artifacts, job.locator.Layout())
	if err != nil {
		return nil, c.fail(job, err)
	}
	pkg := c.merger.LoadPackage(artifacts.PackageMetadata)
	if pkg != nil && !job.configBlock {
		pkg.Lightning = nil
	}
	vt, err := c.merger.Merge(MergeInput{
		Explicit:    job.explicit,
		Package:     pkg,
		Disk:        disk,
		DefaultName: job.defaultName,
	})
	if err != nil {
		return nil, c.fail(job, err)
	}
	if job.shape != nil {
		job.shape(vt)
	}
	vt.normalize()

	if job.commit == nil {
		c.enter(job, StagePreviewing)
		c.enter(job, StageDone)
		return vt, nil
	}

	if job.thumbnail && vt.ThumbnailLocation == "" {
		c.enter(job, StageResolvingThumbnail)
		loc, err := c.thumbnails.Resolve(ctx, artifacts.ThumbnailDir)
		if err != nil {
			return nil, c.fail(job, err)
		}
		vt.ThumbnailLocation = loc
	}

	if err := ctx.Err(); err != nil {
		return nil, c.fail(job, err)
	}

	c.enter(job, StagePersisting)
	if err := job.commit(ctx, vt); err != nil {
		return nil, c.fail(job, err)
	}
	c.enter(job, StageDone)
	c.logger.Info("visualization type saved", "name", vt.Name, "id", vt.ID, "source", job.source)
	return vt, nil
}
