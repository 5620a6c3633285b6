package lightning

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
)

// RepoOptions configure a single-plugin repository import.
type RepoOptions struct {
	// Path selects a plugin folder inside the repository.
	Path string

	// Preview returns the record without persisting it.
	Preview bool
}

// FolderOptions configure a folder import.
type FolderOptions struct {
	Preview bool
}

// CreateFromRegistry installs a package and stores the visualization type it
// declares.
func (c *Catalog) CreateFromRegistry(ctx context.Context, name string) (*VisualizationType, error) {
	return c.run(ctx, c.moduleIngestion(name, false, c.create))
}

// PreviewFromRegistry installs a package and returns the visualization type
// it declares without storing it.
func (c *Catalog) PreviewFromRegistry(ctx context.Context, name string) (*VisualizationType, error) {
	return c.run(ctx, c.moduleIngestion(name, false, nil))
}

// LinkFromLocalModule links a package under local development and returns
// its visualization type without storing it.
func (c *Catalog) LinkFromLocalModule(ctx context.Context, name string) (*VisualizationType, error) {
	return c.run(ctx, c.moduleIngestion(name, true, nil))
}

// CreateFromLocalModule links a package under local development and stores
// its visualization type.
func (c *Catalog) CreateFromLocalModule(ctx context.Context, name string) (*VisualizationType, error) {
	return c.run(ctx, c.moduleIngestion(name, true, c.create))
}

func (c *Catalog) moduleIngestion(name string, link bool, commit func(context.Context, *VisualizationType) error) *ingestion {
	return &ingestion{
		source: name,
		fetch: func(ctx context.Context) (string, func(), error) {
			dir, err := c.fetcher.FetchModule(ctx, name, link)
			return dir, func() {}, err
		},
		locator:     c.modules,
		defaultName: name,
		configBlock: true,
		shape: func(vt *VisualizationType) {
			vt.IsModule = true
			vt.ModuleName = name
		},
		commit:    commit,
		thumbnail: true,
	}
}

// CreateFromRepoURL clones a repository and imports one plugin from its root
// or from opts.Path. The clone is removed before returning, so a thumbnail is
// only recorded when object storage is configured to upload it; unlike folder
// imports, no local thumbnail path is kept.
func (c *Catalog) CreateFromRepoURL(ctx context.Context, repoURL string, attrs Attributes, opts RepoOptions) (*VisualizationType, error) {
	name := repoName(repoURL)
	if opts.Path != "" {
		name = filepath.Base(filepath.Clean(filepath.FromSlash(opts.Path)))
	}

	job := c.folderIngestion(repoURL, name, attrs, opts.Preview)
	job.fetch = func(ctx context.Context) (string, func(), error) {
		scratch, dir, err := c.fetcher.FetchRepo(ctx, repoURL, opts.Path)
		if err != nil {
			return "", nil, err
		}
		return dir, c.releaser(scratch), nil
	}
	// a local path would dangle once the clone is removed
	job.thumbnail = c.thumbnails.Uploads()
	return c.run(ctx, job)
}

// CreateManyFromRepoURL clones a repository and imports every top-level
// folder as its own plugin, named after the folder. Folders are imported
// independently: the records that succeeded are returned sorted by name
// together with the joined errors of those that failed. As with
// CreateFromRepoURL, thumbnails are recorded only when they can be uploaded.
func (c *Catalog) CreateManyFromRepoURL(ctx context.Context, repoURL string) ([]*VisualizationType, error) {
	scratch, dirs, err := c.fetcher.FetchRepoFolders(ctx, repoURL)
	if err != nil {
		job := &ingestion{source: repoURL}
		c.enter(job, StageFetching)
		return nil, c.fail(job, err)
	}
	defer c.releaser(scratch)()

	var (
		mu      sync.Mutex
		created []*VisualizationType
		errs    []error
	)

	// siblings never cancel each other, so no errgroup context
	var g errgroup.Group
	g.SetLimit(c.config.MaxConcurrentImports)
	for _, dir := range dirs {
		name := filepath.Base(dir)
		job := c.folderIngestion(name, name, Attributes{"name": name}, false)
		job.fetch = func(context.Context) (string, func(), error) {
			return dir, func() {}, nil
		}
		job.thumbnail = c.thumbnails.Uploads()

		g.Go(func() error {
			vt, err := c.run(ctx, job)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return nil
			}
			created = append(created, vt)
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(created, func(i, j int) bool { return created[i].Name < created[j].Name })
	return created, errors.Join(errs...)
}

// CreateFromFolder imports the plugin in dir.
func (c *Catalog) CreateFromFolder(ctx context.Context, dir string, attrs Attributes, opts FolderOptions) (*VisualizationType, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		abs = dir
	}

	job := c.folderIngestion(abs, filepath.Base(abs), attrs, opts.Preview)
	job.fetch = func(context.Context) (string, func(), error) {
		info, err := os.Stat(abs)
		if err == nil && !info.IsDir() {
			err = fmt.Errorf("%s is not a directory", abs)
		}
		if err != nil {
			return "", nil, &SourceFetchError{Strategy: "folder", Source: abs, Cause: err}
		}
		return abs, func() {}, nil
	}
	job.thumbnail = true
	return c.run(ctx, job)
}

func (c *Catalog) folderIngestion(source, defaultName string, attrs Attributes, preview bool) *ingestion {
	job := &ingestion{
		source:      source,
		locator:     c.folders,
		explicit:    attrs,
		defaultName: defaultName,
		shape: func(vt *VisualizationType) {
			vt.IsModule = false
			vt.ModuleName = ""
		},
	}
	if !preview {
		job.commit = c.create
	}
	return job
}

func (c *Catalog) releaser(scratch *Scratch) func() {
	return func() {
		if err := scratch.Release(); err != nil {
			c.logger.Warn("failed to remove scratch directory", "dir", scratch.Dir, "err", err)
		}
	}
}
