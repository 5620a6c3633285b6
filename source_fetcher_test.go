package lightning

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lightning-viz/lightning/internal/testutil"
)

func newTestFetcher(t *testing.T) (*SourceFetcher, *testutil.FakePackageManager, *testutil.FakeCloner, Config) {
	t.Helper()
	root := t.TempDir()
	cfg := DefaultConfig()
	cfg.Registry.Root = root
	cfg.ScratchDir = filepath.Join(root, "scratch")

	pm := testutil.NewFakePackageManager(cfg.Registry.ModulesDir())
	git := testutil.NewFakeCloner()
	return NewSourceFetcher(cfg, pm, git, nil), pm, git, cfg
}

func TestSourceFetcher_FetchModule(t *testing.T) {
	f, pm, _, cfg := newTestFetcher(t)
	pm.AddPackage("viz-line", map[string]string{"package.json": `{"name": "viz-line"}`})

	dir, err := f.FetchModule(context.Background(), "viz-line", false)
	if err != nil {
		t.Fatalf("FetchModule: %v", err)
	}
	if dir != filepath.Join(cfg.Registry.ModulesDir(), "viz-line") {
		t.Errorf("unexpected module dir %s", dir)
	}

	calls := pm.Calls()
	if len(calls) != 2 || calls[0] != "uninstall viz-line" || calls[1] != "install viz-line" {
		t.Errorf("expected uninstall then install, got %v", calls)
	}
	for _, level := range pm.Levels() {
		if level != "silent" {
			t.Errorf("registry commands should run at the configured level, got %s", level)
		}
	}
	if pm.LogLevel() != "warn" {
		t.Errorf("log level should be restored, got %s", pm.LogLevel())
	}
}

func TestSourceFetcher_FetchModuleLink(t *testing.T) {
	f, pm, _, _ := newTestFetcher(t)
	pm.AddPackage("viz-dev", map[string]string{"package.json": `{}`})

	if _, err := f.FetchModule(context.Background(), "viz-dev", true); err != nil {
		t.Fatal(err)
	}
	calls := pm.Calls()
	if calls[len(calls)-1] != "link viz-dev" {
		t.Errorf("expected link, got %v", calls)
	}
}

func TestSourceFetcher_FetchModuleFailure(t *testing.T) {
	f, pm, _, _ := newTestFetcher(t)

	_, err := f.FetchModule(context.Background(), "missing", false)
	if !errors.Is(err, ErrSourceFetch) {
		t.Fatalf("expected ErrSourceFetch, got %v", err)
	}
	var fe *SourceFetchError
	if !errors.As(err, &fe) || fe.Strategy != "registry" || fe.Source != "missing" {
		t.Errorf("unexpected fetch error %+v", err)
	}
	if pm.LogLevel() != "warn" {
		t.Errorf("log level should be restored on failure, got %s", pm.LogLevel())
	}
}

func TestSourceFetcher_UninstallModule(t *testing.T) {
	f, pm, _, _ := newTestFetcher(t)
	pm.AddPackage("viz-line", map[string]string{"package.json": `{}`})
	ctx := context.Background()

	if _, err := f.FetchModule(ctx, "viz-line", false); err != nil {
		t.Fatal(err)
	}
	if err := f.UninstallModule(ctx, "viz-line"); err != nil {
		t.Fatalf("UninstallModule: %v", err)
	}
	testutil.MustNotExist(t, f.ModuleDir("viz-line"))

	err := f.UninstallModule(ctx, "viz-line")
	if !errors.Is(err, ErrUninstall) {
		t.Errorf("expected ErrUninstall, got %v", err)
	}
}

func TestSourceFetcher_NoPackageManager(t *testing.T) {
	f := NewSourceFetcher(DefaultConfig(), nil, nil, nil)
	if _, err := f.FetchModule(context.Background(), "viz", false); !errors.Is(err, ErrSourceFetch) {
		t.Errorf("expected ErrSourceFetch, got %v", err)
	}
	if _, _, err := f.FetchRepo(context.Background(), "https://example.com/r.git", ""); !errors.Is(err, ErrSourceFetch) {
		t.Errorf("expected ErrSourceFetch, got %v", err)
	}
}

func TestSourceFetcher_FetchRepo(t *testing.T) {
	f, _, git, cfg := newTestFetcher(t)
	git.AddRepo("https://example.com/viz.git", map[string]string{
		"viz.js":         "root",
		"plugins/a/a.js": "a",
	})
	ctx := context.Background()

	scratch, dir, err := f.FetchRepo(ctx, "https://example.com/viz.git", "")
	if err != nil {
		t.Fatalf("FetchRepo: %v", err)
	}
	if dir != scratch.Dir || !strings.HasPrefix(dir, cfg.ScratchDir) {
		t.Errorf("expected the clone root under the scratch dir, got %s", dir)
	}
	if err := scratch.Release(); err != nil {
		t.Fatal(err)
	}
	testutil.MustNotExist(t, scratch.Dir)

	scratch, dir, err = f.FetchRepo(ctx, "https://example.com/viz.git", "plugins/a")
	if err != nil {
		t.Fatalf("FetchRepo with path: %v", err)
	}
	defer scratch.Release()
	if dir != filepath.Join(scratch.Dir, "plugins", "a") {
		t.Errorf("unexpected plugin dir %s", dir)
	}

	dests := git.Destinations()
	if len(dests) != 2 || dests[0] == dests[1] {
		t.Errorf("each fetch should use a fresh scratch dir, got %v", dests)
	}
}

func TestSourceFetcher_FetchRepoErrors(t *testing.T) {
	f, _, git, cfg := newTestFetcher(t)
	git.AddRepo("https://example.com/viz.git", map[string]string{"viz.js": ""})
	ctx := context.Background()

	cases := []struct {
		name string
		url  string
		path string
	}{
		{"unknown repo", "https://example.com/nope.git", ""},
		{"missing path", "https://example.com/viz.git", "does/not/exist"},
		{"escaping path", "https://example.com/viz.git", "../../etc"},
		{"file path", "https://example.com/viz.git", "viz.js"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := f.FetchRepo(ctx, tc.url, tc.path)
			if !errors.Is(err, ErrSourceFetch) {
				t.Errorf("expected ErrSourceFetch, got %v", err)
			}
		})
	}

	entries, err := os.ReadDir(cfg.ScratchDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("failed fetches should leave no scratch dirs, found %d", len(entries))
	}
}

func TestSourceFetcher_FetchRepoFolders(t *testing.T) {
	f, _, git, _ := newTestFetcher(t)
	git.AddRepo("https://example.com/pack.git", map[string]string{
		".git/HEAD": "ref: refs/heads/main",
		"a/a.js":    "a",
		"b/b.js":    "b",
		"README.md": "# pack",
		"LICENSE":   "MIT",
	})

	scratch, dirs, err := f.FetchRepoFolders(context.Background(), "https://example.com/pack.git")
	if err != nil {
		t.Fatalf("FetchRepoFolders: %v", err)
	}
	defer scratch.Release()

	if len(dirs) != 2 || filepath.Base(dirs[0]) != "a" || filepath.Base(dirs[1]) != "b" {
		t.Errorf("expected folders a and b, got %v", dirs)
	}
}

func TestSourceFetcher_CanceledContext(t *testing.T) {
	f, pm, git, _ := newTestFetcher(t)
	pm.AddPackage("viz", map[string]string{"package.json": `{}`})
	git.AddRepo("https://example.com/viz.git", map[string]string{"viz.js": ""})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := f.FetchModule(ctx, "viz", false); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if _, _, err := f.FetchRepo(ctx, "https://example.com/viz.git", ""); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestRepoName(t *testing.T) {
	cases := map[string]string{
		"https://github.com/lightning-viz/lightning-line.git": "lightning-line",
		"https://github.com/lightning-viz/lightning-line":     "lightning-line",
		"https://github.com/lightning-viz/lightning-line/":    "lightning-line",
		"git@github.com:lightning-viz/lightning-scatter.git":  "lightning-scatter",
		"/srv/repos/viz-pack.git":                             "viz-pack",
	}
	for in, want := range cases {
		if got := repoName(in); got != want {
			t.Errorf("repoName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestWithLogLevel(t *testing.T) {
	pm := testutil.NewFakePackageManager(t.TempDir())
	pm.SetLogLevel("info")

	var during string
	err := withLogLevel(pm, "silent", func() error {
		during = pm.LogLevel()
		return errors.New("boom")
	})
	if err == nil {
		t.Error("expected fn error to be returned")
	}
	if during != "silent" {
		t.Errorf("expected silent during fn, got %s", during)
	}
	if pm.LogLevel() != "info" {
		t.Errorf("expected level restored to info, got %s", pm.LogLevel())
	}
}
