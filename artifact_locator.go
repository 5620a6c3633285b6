package lightning

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gobwas/glob"
)

// Artifact categories, used in MultipleArtifactsError.
const (
	CategoryJavaScript = "javascript"
	CategoryStyle      = "style"
	CategoryMarkup     = "markup"
)

// codeExampleExtensions maps a language to the extension of its example file.
var codeExampleExtensions = map[string]string{
	"python":     "py",
	"scala":      "scala",
	"javascript": "js",
}

// thumbnailExtensions is probed in order; the first hit wins.
var thumbnailExtensions = []string{"png", "jpg", "jpeg", "gif"}

// Layout describes where a plugin keeps its files. Patterns match base names
// in the plugin directory only; candidate lists are relative paths probed in
// order.
type Layout struct {
	Script string
	Style  string
	Markup string

	SampleData    []string
	SampleOptions []string
	SampleImages  []string

	// StrictSampleData makes a malformed sample data file fatal.
	StrictSampleData bool

	// CodeExampleDir holds example.<ext> files, one per language.
	CodeExampleDir string

	PackageMetadata string

	// ThumbnailDir is probed for thumbnail.<ext>.
	ThumbnailDir string
}

// FolderLayout is the layout of a plain plugin folder or repository.
var FolderLayout = Layout{
	Script:           "*.js",
	Style:            "*.{css,scss}",
	Markup:           "*.{html,jade}",
	SampleData:       []string{"sample-data.json"},
	SampleImages:     []string{"sample-images.json"},
	StrictSampleData: true,
	PackageMetadata:  "package.json",
	ThumbnailDir:     ".",
}

// ModuleLayout is the layout of an installed registry package.
var ModuleLayout = Layout{
	SampleData:      []string{"lightning-sample-data.json", "data/sample-data.json"},
	SampleOptions:   []string{"lightning-sample-options.json", "data/sample-options.json"},
	SampleImages:    []string{"lightning-sample-images.json", "data/sample-images.json"},
	CodeExampleDir:  "data",
	PackageMetadata: "package.json",
	ThumbnailDir:    "data",
}

// Artifacts lists the files found in a plugin directory. Single-valued
// paths are empty when the file is absent.
type Artifacts struct {
	Dir    string
	Script string
	Style  string
	Markup string

	SampleData    []string
	SampleOptions []string
	SampleImages  []string

	// CodeExamples maps language to the path of its example file.
	CodeExamples map[string]string

	PackageMetadata string
	ThumbnailDir    string
}

// ArtifactLocator classifies the files of a plugin directory.
type ArtifactLocator struct {
	layout Layout
	script glob.Glob
	style  glob.Glob
	markup glob.Glob
}

// NewArtifactLocator compiles the patterns of layout.
func NewArtifactLocator(layout Layout) (*ArtifactLocator, error) {
	l := &ArtifactLocator{layout: layout}
	var err error
	if l.script, err = compilePattern(layout.Script); err != nil {
		return nil, err
	}
	if l.style, err = compilePattern(layout.Style); err != nil {
		return nil, err
	}
	if l.markup, err = compilePattern(layout.Markup); err != nil {
		return nil, err
	}
	return l, nil
}

// MustArtifactLocator is like NewArtifactLocator but panics on a bad pattern.
func MustArtifactLocator(layout Layout) *ArtifactLocator {
	l, err := NewArtifactLocator(layout)
	if err != nil {
		panic(err)
	}
	return l
}

func compilePattern(pattern string) (glob.Glob, error) {
	if pattern == "" {
		return nil, nil
	}
	g, err := glob.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compile pattern %q: %w", pattern, err)
	}
	return g, nil
}

// Layout returns the layout the locator was built for.
func (l *ArtifactLocator) Layout() Layout {
	return l.layout
}

// Locate scans dir. It fails with a *MultipleArtifactsError when a category
// has more than one match; absent files are not an error.
func (l *ArtifactLocator) Locate(dir string) (*Artifacts, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var scripts, styles, markups []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") {
			continue
		}
		switch {
		case l.script != nil && l.script.Match(name):
			scripts = append(scripts, name)
		case l.style != nil && l.style.Match(name):
			styles = append(styles, name)
		case l.markup != nil && l.markup.Match(name):
			markups = append(markups, name)
		}
	}

	a := &Artifacts{
		Dir:          dir,
		CodeExamples: make(map[string]string),
	}
	if a.Script, err = single(dir, CategoryJavaScript, scripts); err != nil {
		return nil, err
	}
	if a.Style, err = single(dir, CategoryStyle, styles); err != nil {
		return nil, err
	}
	if a.Markup, err = single(dir, CategoryMarkup, markups); err != nil {
		return nil, err
	}

	a.SampleData = existing(dir, l.layout.SampleData)
	a.SampleOptions = existing(dir, l.layout.SampleOptions)
	a.SampleImages = existing(dir, l.layout.SampleImages)

	if l.layout.CodeExampleDir != "" {
		for lang, ext := range codeExampleExtensions {
			p := filepath.Join(dir, l.layout.CodeExampleDir, "example."+ext)
			if isFile(p) {
				a.CodeExamples[lang] = p
			}
		}
	}

	if l.layout.PackageMetadata != "" {
		if p := filepath.Join(dir, l.layout.PackageMetadata); isFile(p) {
			a.PackageMetadata = p
		}
	}
	if l.layout.ThumbnailDir != "" {
		a.ThumbnailDir = filepath.Join(dir, l.layout.ThumbnailDir)
	}
	return a, nil
}

func single(dir, category string, matches []string) (string, error) {
	switch len(matches) {
	case 0:
		return "", nil
	case 1:
		return filepath.Join(dir, matches[0]), nil
	}
	sort.Strings(matches)
	return "", &MultipleArtifactsError{Category: category, Matches: matches}
}

func existing(dir string, candidates []string) []string {
	var found []string
	for _, c := range candidates {
		if p := filepath.Join(dir, c); isFile(p) {
			found = append(found, p)
		}
	}
	return found
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
