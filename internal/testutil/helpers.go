// Package testutil provides shared test helpers and fakes for the lightning packages.
package testutil

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

// TempDBPath returns a temporary directory and database file path suitable
// for tests. The directory is automatically cleaned up when the test completes.
func TempDBPath(t *testing.T) (dir, path string) {
	t.Helper()
	dir = t.TempDir()
	path = filepath.Join(dir, "test.db")
	return dir, path
}

// MustNotExist asserts that the file does not exist.
func MustNotExist(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); err == nil {
		t.Fatalf("expected %s to not exist", path)
	}
}

// WriteTree creates files under root. Keys are slash-separated relative
// paths; parent directories are created as needed.
func WriteTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	if err := writeTree(root, files); err != nil {
		t.Fatal(err)
	}
}

func writeTree(root string, files map[string]string) error {
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			return err
		}
	}
	return nil
}

// FakePackageManager installs packages by copying fixture trees into
// ModulesDir. Packages without a fixture fail to install.
type FakePackageManager struct {
	ModulesDir string

	mu       sync.Mutex
	packages map[string]map[string]string
	calls    []string
	level    string
	levels   []string

	// UninstallErr, when set, is returned by every Uninstall.
	UninstallErr error
}

// NewFakePackageManager creates a fake that installs into modulesDir.
func NewFakePackageManager(modulesDir string) *FakePackageManager {
	return &FakePackageManager{
		ModulesDir: modulesDir,
		packages:   make(map[string]map[string]string),
		level:      "warn",
	}
}

// AddPackage registers the files a package installs.
func (f *FakePackageManager) AddPackage(name string, files map[string]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.packages[name] = files
}

func (f *FakePackageManager) Install(ctx context.Context, name string) error {
	return f.put(ctx, "install", name)
}

func (f *FakePackageManager) Link(ctx context.Context, name string) error {
	return f.put(ctx, "link", name)
}

func (f *FakePackageManager) put(ctx context.Context, verb, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(verb, name)

	if err := ctx.Err(); err != nil {
		return err
	}
	files, ok := f.packages[name]
	if !ok {
		return fmt.Errorf("404 not found: %s", name)
	}
	return writeTree(filepath.Join(f.ModulesDir, name), files)
}

func (f *FakePackageManager) Uninstall(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("uninstall", name)

	if f.UninstallErr != nil {
		return f.UninstallErr
	}
	dir := filepath.Join(f.ModulesDir, name)
	if _, err := os.Stat(dir); err != nil {
		return errors.New("package not installed: " + name)
	}
	return os.RemoveAll(dir)
}

func (f *FakePackageManager) record(verb, name string) {
	f.calls = append(f.calls, verb+" "+name)
	f.levels = append(f.levels, f.level)
}

func (f *FakePackageManager) LogLevel() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.level
}

func (f *FakePackageManager) SetLogLevel(level string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.level = level
}

// Calls returns the recorded commands, e.g. "uninstall viz", "install viz".
func (f *FakePackageManager) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// Levels returns the log level in effect for each recorded command.
func (f *FakePackageManager) Levels() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.levels...)
}

// FakeCloner "clones" a URL by writing its registered fixture tree.
type FakeCloner struct {
	mu    sync.Mutex
	repos map[string]map[string]string
	dests []string
}

// NewFakeCloner creates a cloner with no known repositories.
func NewFakeCloner() *FakeCloner {
	return &FakeCloner{repos: make(map[string]map[string]string)}
}

// AddRepo registers the files of a repository URL.
func (f *FakeCloner) AddRepo(url string, files map[string]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.repos[url] = files
}

func (f *FakeCloner) Clone(ctx context.Context, url, dest string) error {
	f.mu.Lock()
	files, ok := f.repos[url]
	f.dests = append(f.dests, dest)
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("repository not found: %s", url)
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return err
	}
	return writeTree(dest, files)
}

// Destinations returns every clone destination requested so far.
func (f *FakeCloner) Destinations() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.dests...)
}

// FakeObjectStore records uploads and returns URLs under BaseURL.
type FakeObjectStore struct {
	BaseURL string
	Err     error

	mu      sync.Mutex
	uploads []string
}

func (f *FakeObjectStore) Upload(ctx context.Context, localPath string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return "", f.Err
	}
	f.uploads = append(f.uploads, localPath)
	return f.BaseURL + "/" + filepath.Base(localPath), nil
}

// Uploads returns the local paths uploaded so far.
func (f *FakeObjectStore) Uploads() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.uploads...)
}
