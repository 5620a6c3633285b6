package lightning

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/lightning-viz/lightning/internal/testutil"
)

func TestArtifactLocator_Folder(t *testing.T) {
	dir := t.TempDir()
	testutil.WriteTree(t, dir, map[string]string{
		"viz.js":             "module.exports = {}",
		"style.scss":         ".viz {}",
		"markup.jade":        "div.viz",
		"sample-data.json":   "[1, 2, 3]",
		"sample-images.json": `["a.png"]`,
		"package.json":       `{"name": "viz"}`,
		"README.md":          "# viz",
		".eslintrc.js":       "{}",
		"lib/helper.js":      "nested files are ignored",
	})

	a, err := MustArtifactLocator(FolderLayout).Locate(dir)
	if err != nil {
		t.Fatalf("Locate: %v", err)
	}
	if a.Script != filepath.Join(dir, "viz.js") {
		t.Errorf("unexpected script %q", a.Script)
	}
	if a.Style != filepath.Join(dir, "style.scss") {
		t.Errorf("unexpected style %q", a.Style)
	}
	if a.Markup != filepath.Join(dir, "markup.jade") {
		t.Errorf("unexpected markup %q", a.Markup)
	}
	if len(a.SampleData) != 1 || len(a.SampleImages) != 1 {
		t.Errorf("expected one sample data and one sample images file, got %v %v", a.SampleData, a.SampleImages)
	}
	if a.PackageMetadata != filepath.Join(dir, "package.json") {
		t.Errorf("unexpected package metadata %q", a.PackageMetadata)
	}
	if len(a.CodeExamples) != 0 {
		t.Errorf("folders have no code examples, got %v", a.CodeExamples)
	}
}

func TestArtifactLocator_MultipleArtifacts(t *testing.T) {
	cases := []struct {
		name     string
		files    map[string]string
		category string
	}{
		{"two scripts", map[string]string{"a.js": "", "b.js": ""}, CategoryJavaScript},
		{"css and scss", map[string]string{"a.css": "", "b.scss": ""}, CategoryStyle},
		{"html and jade", map[string]string{"a.html": "", "b.jade": ""}, CategoryMarkup},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			testutil.WriteTree(t, dir, tc.files)

			_, err := MustArtifactLocator(FolderLayout).Locate(dir)
			if !errors.Is(err, ErrMultipleArtifacts) {
				t.Fatalf("expected ErrMultipleArtifacts, got %v", err)
			}
			var me *MultipleArtifactsError
			if !errors.As(err, &me) || me.Category != tc.category {
				t.Errorf("expected category %s, got %v", tc.category, err)
			}
			if len(me.Matches) != 2 {
				t.Errorf("expected two matches, got %v", me.Matches)
			}
		})
	}
}

func TestArtifactLocator_EmptyFolder(t *testing.T) {
	a, err := MustArtifactLocator(FolderLayout).Locate(t.TempDir())
	if err != nil {
		t.Fatalf("missing files are not an error: %v", err)
	}
	if a.Script != "" || a.Style != "" || a.Markup != "" {
		t.Errorf("expected no artifacts, got %+v", a)
	}
	if a.PackageMetadata != "" {
		t.Errorf("expected no package metadata, got %q", a.PackageMetadata)
	}
}

func TestArtifactLocator_Module(t *testing.T) {
	dir := t.TempDir()
	testutil.WriteTree(t, dir, map[string]string{
		"package.json":               `{"name": "viz"}`,
		"index.js":                   "ignored for modules",
		"lightning-sample-data.json": "[1]",
		"data/sample-data.json":      "[2]",
		"data/sample-options.json":   "{}",
		"data/example.py":            "import lightning",
		"data/thumbnail.png":         "png",
	})

	a, err := MustArtifactLocator(ModuleLayout).Locate(dir)
	if err != nil {
		t.Fatalf("Locate: %v", err)
	}
	if a.Script != "" {
		t.Errorf("module layout has no script pattern, got %q", a.Script)
	}
	if len(a.SampleData) != 2 {
		t.Fatalf("expected both sample data candidates, got %v", a.SampleData)
	}
	if a.SampleData[1] != filepath.Join(dir, "data", "sample-data.json") {
		t.Errorf("candidates should keep layout order, got %v", a.SampleData)
	}
	if len(a.SampleOptions) != 1 || len(a.SampleImages) != 0 {
		t.Errorf("unexpected options/images %v %v", a.SampleOptions, a.SampleImages)
	}
	if len(a.CodeExamples) != 1 || a.CodeExamples["python"] == "" {
		t.Errorf("expected only a python example, got %v", a.CodeExamples)
	}
	if a.ThumbnailDir != filepath.Join(dir, "data") {
		t.Errorf("unexpected thumbnail dir %q", a.ThumbnailDir)
	}
}

func TestArtifactLocator_MissingDir(t *testing.T) {
	if _, err := MustArtifactLocator(FolderLayout).Locate(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Error("expected error for missing directory")
	}
}
