package lightning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// ignoredRepoFolders are never treated as plugin folders.
var ignoredRepoFolders = map[string]bool{
	".git": true,
}

// Scratch is a single-use staging directory.
type Scratch struct {
	Dir string
}

// Release removes the scratch directory and everything in it.
func (s *Scratch) Release() error {
	if s == nil || s.Dir == "" {
		return nil
	}
	return os.RemoveAll(s.Dir)
}

// SourceFetcher materializes plugin sources on local disk.
type SourceFetcher struct {
	packages    PackageManager
	git         Cloner
	modulesDir  string
	scratchRoot string
	logLevel    string
	logger      *slog.Logger

	// registry commands are not safe to overlap
	registryMu sync.Mutex
}

// NewSourceFetcher creates a fetcher. packages or git may be nil when the
// corresponding strategy is not used.
func NewSourceFetcher(cfg Config, packages PackageManager, git Cloner, logger *slog.Logger) *SourceFetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &SourceFetcher{
		packages:    packages,
		git:         git,
		modulesDir:  cfg.Registry.ModulesDir(),
		scratchRoot: cfg.ScratchDir,
		logLevel:    cfg.Registry.LogLevel,
		logger:      logger.With(slog.String("component", "fetcher")),
	}
}

// ModuleDir returns where an installed package lives.
func (f *SourceFetcher) ModuleDir(name string) string {
	return filepath.Join(f.modulesDir, filepath.FromSlash(name))
}

// FetchModule installs (or links) a package after removing any existing
// copy and returns its installed directory. A failed uninstall of a package
// that was never installed is ignored.
func (f *SourceFetcher) FetchModule(ctx context.Context, name string, link bool) (string, error) {
	strategy := "registry"
	if link {
		strategy = "link"
	}
	if f.packages == nil {
		return "", &SourceFetchError{Strategy: strategy, Source: name, Cause: errors.New("no package manager configured")}
	}

	f.registryMu.Lock()
	defer f.registryMu.Unlock()

	err := withLogLevel(f.packages, f.logLevel, func() error {
		if err := f.packages.Uninstall(ctx, name); err != nil {
			f.logger.Debug("uninstall before install failed", "package", name, "err", err)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if link {
			return f.packages.Link(ctx, name)
		}
		return f.packages.Install(ctx, name)
	})
	if err != nil {
		return "", &SourceFetchError{Strategy: strategy, Source: name, Cause: err}
	}

	dir := f.ModuleDir(name)
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		if err == nil {
			err = fmt.Errorf("%s is not a directory", dir)
		}
		return "", &SourceFetchError{Strategy: strategy, Source: name, Cause: err}
	}
	f.logger.Info("installed package", "package", name, "dir", dir)
	return dir, nil
}

// UninstallModule removes an installed package.
func (f *SourceFetcher) UninstallModule(ctx context.Context, name string) error {
	if f.packages == nil {
		return fmt.Errorf("%w: no package manager configured", ErrUninstall)
	}

	f.registryMu.Lock()
	defer f.registryMu.Unlock()

	err := withLogLevel(f.packages, f.logLevel, func() error {
		return f.packages.Uninstall(ctx, name)
	})
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrUninstall, name, err)
	}
	return nil
}

// newScratch reserves a fresh, empty, uniquely named directory.
func (f *SourceFetcher) newScratch() (*Scratch, error) {
	dir := filepath.Join(f.scratchRoot, uuid.NewString())
	if err := os.RemoveAll(dir); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(f.scratchRoot, 0o755); err != nil {
		return nil, err
	}
	return &Scratch{Dir: dir}, nil
}

// FetchRepo clones url into a new scratch directory and returns the plugin
// folder (the clone root, or subPath inside it). The caller must Release
// the scratch directory.
func (f *SourceFetcher) FetchRepo(ctx context.Context, repoURL, subPath string) (*Scratch, string, error) {
	scratch, err := f.clone(ctx, repoURL)
	if err != nil {
		return nil, "", err
	}

	dir := scratch.Dir
	if subPath != "" {
		clean := filepath.Clean(filepath.FromSlash(subPath))
		if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
			_ = scratch.Release()
			return nil, "", &SourceFetchError{Strategy: "git", Source: repoURL, Cause: fmt.Errorf("path %q escapes the repository", subPath)}
		}
		dir = filepath.Join(scratch.Dir, clean)
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		_ = scratch.Release()
		if err == nil {
			err = fmt.Errorf("%s is not a directory", subPath)
		}
		return nil, "", &SourceFetchError{Strategy: "git", Source: repoURL, Cause: err}
	}
	return scratch, dir, nil
}

// FetchRepoFolders clones url and returns its immediate subdirectories,
// sorted, excluding version control metadata.
func (f *SourceFetcher) FetchRepoFolders(ctx context.Context, repoURL string) (*Scratch, []string, error) {
	scratch, err := f.clone(ctx, repoURL)
	if err != nil {
		return nil, nil, err
	}

	entries, err := os.ReadDir(scratch.Dir)
	if err != nil {
		_ = scratch.Release()
		return nil, nil, &SourceFetchError{Strategy: "git", Source: repoURL, Cause: err}
	}

	var dirs []string
	for _, e := range entries {
		if ignoredRepoFolders[e.Name()] || !e.IsDir() {
			continue
		}
		dirs = append(dirs, filepath.Join(scratch.Dir, e.Name()))
	}
	sort.Strings(dirs)
	return scratch, dirs, nil
}

func (f *SourceFetcher) clone(ctx context.Context, repoURL string) (*Scratch, error) {
	if f.git == nil {
		return nil, &SourceFetchError{Strategy: "git", Source: repoURL, Cause: errors.New("no git client configured")}
	}
	scratch, err := f.newScratch()
	if err != nil {
		return nil, &SourceFetchError{Strategy: "git", Source: repoURL, Cause: err}
	}
	if err := f.git.Clone(ctx, repoURL, scratch.Dir); err != nil {
		_ = scratch.Release()
		return nil, &SourceFetchError{Strategy: "git", Source: repoURL, Cause: err}
	}
	return scratch, nil
}

// repoName derives a default plugin name from a repository URL,
// e.g. https://github.com/org/viz-line.git -> viz-line.
func repoName(repoURL string) string {
	p := repoURL
	if u, err := url.Parse(repoURL); err == nil && u.Path != "" {
		p = u.Path
	} else if i := strings.LastIndex(repoURL, ":"); i >= 0 {
		// scp-like git@host:org/repo.git
		p = repoURL[i+1:]
	}
	p = strings.TrimSuffix(strings.TrimRight(filepath.ToSlash(p), "/"), ".git")
	return path.Base(p)
}
