package lightning

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/lightning-viz/lightning/internal/testutil"
)

func TestMetadataMerger_ExplicitBeatsPackage(t *testing.T) {
	m := NewMetadataMerger(nil)
	vt, err := m.Merge(MergeInput{
		Explicit:    Attributes{"name": "X"},
		Package:     &PackageMetadata{Name: "pkg", LightningViz: map[string]any{"name": "Y"}},
		DefaultName: "folder",
	})
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if vt.Name != "X" {
		t.Errorf("expected name X, got %s", vt.Name)
	}
}

func TestMetadataMerger_Precedence(t *testing.T) {
	disk := DiskContent{SampleData: json.RawMessage(`"disk"`), SampleOptions: json.RawMessage(`"disk"`)}
	pkg := &PackageMetadata{
		Lightning:    map[string]any{"sampleData": "lightning", "sampleOptions": "lightning", "isStreaming": true},
		LightningViz: map[string]any{"sampleData": "viz"},
	}

	cases := []struct {
		name    string
		in      MergeInput
		data    string
		options string
	}{
		{"defaults", MergeInput{}, `{}`, `{}`},
		{"disk over defaults", MergeInput{Disk: disk}, `"disk"`, `"disk"`},
		{"lightning over disk", MergeInput{Disk: disk, Package: &PackageMetadata{Lightning: pkg.Lightning}}, `"lightning"`, `"lightning"`},
		{"lightning-viz over lightning", MergeInput{Disk: disk, Package: pkg}, `"viz"`, `"lightning"`},
		{"explicit over all", MergeInput{Disk: disk, Package: pkg, Explicit: Attributes{"sampleData": "explicit"}}, `"explicit"`, `"lightning"`},
	}
	m := NewMetadataMerger(nil)
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			vt, err := m.Merge(tc.in)
			if err != nil {
				t.Fatalf("Merge: %v", err)
			}
			if string(vt.SampleData) != tc.data {
				t.Errorf("sampleData: expected %s, got %s", tc.data, vt.SampleData)
			}
			if string(vt.SampleOptions) != tc.options {
				t.Errorf("sampleOptions: expected %s, got %s", tc.options, vt.SampleOptions)
			}
		})
	}
}

func TestMetadataMerger_Defaults(t *testing.T) {
	vt, err := NewMetadataMerger(nil).Merge(MergeInput{
		Explicit:    Attributes{"id": "forged", "sampleImages": []string{}},
		DefaultName: "line",
	})
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if vt.ID != "" {
		t.Errorf("id must never come from metadata, got %q", vt.ID)
	}
	if vt.Name != "line" {
		t.Errorf("expected default name, got %q", vt.Name)
	}
	if !vt.Enabled {
		t.Error("expected enabled by default")
	}
	if vt.SampleImages != nil {
		t.Errorf("empty sample images should normalize to nil, got %#v", vt.SampleImages)
	}
	if vt.CodeExamples == nil || len(vt.CodeExamples) != 0 {
		t.Errorf("expected empty code examples, got %#v", vt.CodeExamples)
	}
}

func TestMetadataMerger_ReadDiskFolder(t *testing.T) {
	dir := t.TempDir()
	testutil.WriteTree(t, dir, map[string]string{
		"viz.js":             "var x = 1;",
		"viz.css":            ".a {}",
		"sample-data.json":   "[1,2,3]\n",
		"sample-images.json": `["one.png","two.png"]`,
	})

	m := NewMetadataMerger(nil)
	a, err := MustArtifactLocator(FolderLayout).Locate(dir)
	if err != nil {
		t.Fatal(err)
	}
	d, err := m.ReadDisk(a, FolderLayout)
	if err != nil {
		t.Fatalf("ReadDisk: %v", err)
	}
	if d.JavaScript != "var x = 1;" || d.Styles != ".a {}" || d.Markup != "" {
		t.Errorf("unexpected artifacts %+v", d)
	}
	if string(d.SampleData) != "[1,2,3]" {
		t.Errorf("unexpected sample data %s", d.SampleData)
	}
	if len(d.SampleImages) != 2 || !d.HasImages {
		t.Errorf("unexpected sample images %v", d.SampleImages)
	}
}

func TestMetadataMerger_InvalidSampleData(t *testing.T) {
	dir := t.TempDir()
	testutil.WriteTree(t, dir, map[string]string{"sample-data.json": "{not json"})

	m := NewMetadataMerger(nil)
	a, err := MustArtifactLocator(FolderLayout).Locate(dir)
	if err != nil {
		t.Fatal(err)
	}
	_, err = m.ReadDisk(a, FolderLayout)
	if !errors.Is(err, ErrInvalidSampleData) {
		t.Fatalf("expected ErrInvalidSampleData, got %v", err)
	}
}

func TestMetadataMerger_ModuleSamplesLenient(t *testing.T) {
	dir := t.TempDir()
	testutil.WriteTree(t, dir, map[string]string{
		"lightning-sample-data.json":  "[1]",
		"data/sample-data.json":       "[2]",
		"lightning-sample-images.json": `["a.png"]`,
		"data/sample-images.json":      "broken",
		"data/sample-options.json":     "{broken",
	})

	m := NewMetadataMerger(nil)
	a, err := MustArtifactLocator(ModuleLayout).Locate(dir)
	if err != nil {
		t.Fatal(err)
	}
	d, err := m.ReadDisk(a, ModuleLayout)
	if err != nil {
		t.Fatalf("module samples are lenient: %v", err)
	}
	if string(d.SampleData) != "[2]" {
		t.Errorf("later candidate should win, got %s", d.SampleData)
	}
	if len(d.SampleImages) != 1 || d.SampleImages[0] != "a.png" {
		t.Errorf("broken candidate should be skipped, got %v", d.SampleImages)
	}
	if d.SampleOptions != nil {
		t.Errorf("broken options should be skipped, got %s", d.SampleOptions)
	}
}

func TestMetadataMerger_CodeExamples(t *testing.T) {
	dir := t.TempDir()
	testutil.WriteTree(t, dir, map[string]string{
		"package.json":    `{"name": "viz"}`,
		"data/example.py": "lgn.line([1, 2, 3])",
	})

	m := NewMetadataMerger(nil)
	a, err := MustArtifactLocator(ModuleLayout).Locate(dir)
	if err != nil {
		t.Fatal(err)
	}
	d, err := m.ReadDisk(a, ModuleLayout)
	if err != nil {
		t.Fatal(err)
	}
	vt, err := m.Merge(MergeInput{Disk: d, DefaultName: "viz"})
	if err != nil {
		t.Fatal(err)
	}
	if len(vt.CodeExamples) != 1 {
		t.Fatalf("expected only python, got %v", vt.CodeExamples)
	}
	if vt.CodeExamples["python"] != "lgn.line([1, 2, 3])" {
		t.Errorf("unexpected python example %q", vt.CodeExamples["python"])
	}
	if _, ok := vt.CodeExamples["scala"]; ok {
		t.Error("absent languages must be omitted")
	}
}

func TestMetadataMerger_LoadPackage(t *testing.T) {
	dir := t.TempDir()
	testutil.WriteTree(t, dir, map[string]string{
		"good/package.json": `{"name": "viz", "lightning": {"name": "Viz", "isStreaming": true}, "lightning-viz": {"sampleData": [1]}}`,
		"bad/package.json":  `{"name": `,
	})

	m := NewMetadataMerger(nil)
	meta := m.LoadPackage(filepath.Join(dir, "good", "package.json"))
	if meta == nil {
		t.Fatal("expected package metadata")
	}
	if meta.Name != "viz" || meta.Lightning["name"] != "Viz" || meta.LightningViz == nil {
		t.Errorf("unexpected metadata %+v", meta)
	}

	if meta := m.LoadPackage(filepath.Join(dir, "bad", "package.json")); meta != nil {
		t.Errorf("malformed package.json should load as nil, got %+v", meta)
	}
	if meta := m.LoadPackage(""); meta != nil {
		t.Error("empty path should load as nil")
	}
}

func TestReadPackageMetadata_Rereads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "package.json")
	testutil.WriteTree(t, dir, map[string]string{"package.json": `{"name": "first"}`})

	meta, err := ReadPackageMetadata(path)
	if err != nil || meta.Name != "first" {
		t.Fatalf("unexpected %+v, %v", meta, err)
	}

	testutil.WriteTree(t, dir, map[string]string{"package.json": `{"name": "second"}`})
	meta, err = ReadPackageMetadata(path)
	if err != nil || meta.Name != "second" {
		t.Fatalf("expected the file to be read again, got %+v, %v", meta, err)
	}
}
