package lightning

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// VisualizationType is an installable visualization plugin: its script,
// style and markup plus the sample content shown in the dashboard gallery.
type VisualizationType struct {
	ID                string            `json:"id"`
	Name              string            `json:"name"`
	Enabled           bool              `json:"enabled"`
	Imported          bool              `json:"imported"`
	IsModule          bool              `json:"isModule"`
	IsStreaming       bool              `json:"isStreaming"`
	ModuleName        string            `json:"moduleName,omitempty"`
	ThumbnailLocation string            `json:"thumbnailLocation,omitempty"`
	SampleData        json.RawMessage   `json:"sampleData"`
	SampleOptions     json.RawMessage   `json:"sampleOptions"`
	SampleImages      []string          `json:"sampleImages"`
	CodeExamples      map[string]string `json:"codeExamples"`
	InitialDataFields []string          `json:"initialDataFields"`
	JavaScript        string            `json:"javascript"`
	Markup            string            `json:"markup"`
	Styles            string            `json:"styles"`
}

var emptyObject = json.RawMessage(`{}`)

// normalize applies field defaults and the legacy empty-images marker.
func (vt *VisualizationType) normalize() {
	if len(vt.SampleData) == 0 {
		vt.SampleData = emptyObject
	}
	if len(vt.SampleOptions) == 0 {
		vt.SampleOptions = emptyObject
	}
	if len(vt.SampleImages) == 0 {
		vt.SampleImages = nil
	}
	if vt.CodeExamples == nil {
		vt.CodeExamples = map[string]string{}
	}
	if !vt.IsModule {
		vt.ModuleName = ""
	}
}

// Clone returns a deep copy of vt.
func (vt *VisualizationType) Clone() *VisualizationType {
	c := *vt
	c.SampleData = append(json.RawMessage(nil), vt.SampleData...)
	c.SampleOptions = append(json.RawMessage(nil), vt.SampleOptions...)
	if vt.SampleImages != nil {
		c.SampleImages = append([]string(nil), vt.SampleImages...)
	}
	if vt.InitialDataFields != nil {
		c.InitialDataFields = append([]string(nil), vt.InitialDataFields...)
	}
	if vt.CodeExamples != nil {
		c.CodeExamples = make(map[string]string, len(vt.CodeExamples))
		for k, v := range vt.CodeExamples {
			c.CodeExamples[k] = v
		}
	}
	return &c
}

// ThumbnailURL returns the public thumbnail location. Remote locations are
// returned as-is; local ones are served through staticURL.
func (vt *VisualizationType) ThumbnailURL(staticURL string) string {
	if vt.ThumbnailLocation == "" {
		return ""
	}
	if strings.HasPrefix(vt.ThumbnailLocation, "http://") || strings.HasPrefix(vt.ThumbnailLocation, "https://") {
		return vt.ThumbnailLocation
	}
	if staticURL != "" && !strings.HasSuffix(staticURL, "/") {
		staticURL += "/"
	}
	return staticURL + "visualization-types/" + vt.ID + "/thumbnail"
}

// Export file extensions, chosen so that a folder import reads them back.
const (
	exportScriptExt = ".js"
	exportStyleExt  = ".scss"
	exportMarkupExt = ".jade"
)

// ExportToFS writes the script, style and markup of vt into dir, named
// after vt.Name. Empty artifacts are skipped. Names that would resolve
// outside dir are rejected.
func (vt *VisualizationType) ExportToFS(dir string) error {
	if vt.Name == "" {
		return fmt.Errorf("export: visualization type has no name")
	}
	base := filepath.Join(dir, filepath.FromSlash(vt.Name))
	if rel, err := filepath.Rel(dir, base); err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("export: name %q escapes %s", vt.Name, dir)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("export: create %s: %w", dir, err)
	}

	files := []struct {
		ext     string
		content string
	}{
		{exportScriptExt, vt.JavaScript},
		{exportStyleExt, vt.Styles},
		{exportMarkupExt, vt.Markup},
	}
	for _, f := range files {
		if f.content == "" {
			continue
		}
		path := base + f.ext
		// scoped package names such as @org/viz nest one level down
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("export: create %s: %w", filepath.Dir(path), err)
		}
		if err := os.WriteFile(path, []byte(f.content), 0o644); err != nil {
			return fmt.Errorf("export: write %s: %w", path, err)
		}
	}
	return nil
}
