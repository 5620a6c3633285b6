package lightning

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
)

// Attributes are explicit caller-supplied fields keyed by their JSON name,
// e.g. Attributes{"name": "line-chart", "isStreaming": true}.
type Attributes map[string]any

// PackageMetadata is the part of a package.json the catalog reads.
type PackageMetadata struct {
	Name string

	// Lightning is the plugin's own "lightning" config block.
	Lightning map[string]any

	// LightningViz is the "lightning-viz" block; it outranks Lightning.
	LightningViz map[string]any
}

// ReadPackageMetadata reads and decodes a package.json from disk. It never
// caches: every call re-reads the file.
func ReadPackageMetadata(path string) (*PackageMetadata, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}

	meta := &PackageMetadata{}
	meta.Name, _ = doc["name"].(string)
	meta.Lightning, _ = doc["lightning"].(map[string]any)
	meta.LightningViz, _ = doc["lightning-viz"].(map[string]any)
	return meta, nil
}

// DiskContent is what an ingestion read from the plugin directory.
type DiskContent struct {
	JavaScript string
	Styles     string
	Markup     string

	SampleData    json.RawMessage
	SampleOptions json.RawMessage
	SampleImages  []string
	HasImages     bool

	CodeExamples map[string]string
}

func (d DiskContent) attributes() Attributes {
	attrs := Attributes{
		"javascript": d.JavaScript,
		"styles":     d.Styles,
		"markup":     d.Markup,
	}
	if len(d.SampleData) > 0 {
		attrs["sampleData"] = d.SampleData
	}
	if len(d.SampleOptions) > 0 {
		attrs["sampleOptions"] = d.SampleOptions
	}
	if d.HasImages {
		attrs["sampleImages"] = d.SampleImages
	}
	if len(d.CodeExamples) > 0 {
		attrs["codeExamples"] = d.CodeExamples
	}
	return attrs
}

// MergeInput holds every source of plugin metadata for one ingestion.
type MergeInput struct {
	// Explicit attributes win over everything else.
	Explicit Attributes

	// Package supplies the lightning-viz and lightning blocks.
	Package *PackageMetadata

	Disk DiskContent

	// DefaultName is used when no other source names the plugin.
	DefaultName string
}

// MetadataMerger combines plugin metadata sources with a fixed precedence:
// explicit attributes, lightning-viz block, lightning block, files on disk,
// built-in defaults.
type MetadataMerger struct {
	logger *slog.Logger
}

// NewMetadataMerger creates a merger that logs degraded inputs to logger.
func NewMetadataMerger(logger *slog.Logger) *MetadataMerger {
	if logger == nil {
		logger = slog.Default()
	}
	return &MetadataMerger{logger: logger.With(slog.String("component", "merger"))}
}

// ReadDisk loads the artifacts located in a plugin directory. Only a
// malformed sample data file under a strict layout is an error; other
// unreadable optional files are logged and skipped.
func (m *MetadataMerger) ReadDisk(a *Artifacts, layout Layout) (DiskContent, error) {
	var d DiskContent
	var err error

	if d.JavaScript, err = readText(a.Script); err != nil {
		return d, err
	}
	if d.Styles, err = readText(a.Style); err != nil {
		return d, err
	}
	if d.Markup, err = readText(a.Markup); err != nil {
		return d, err
	}

	// later candidates win, as in the module layout
	for _, p := range a.SampleData {
		raw, err := readJSON(p)
		if err != nil {
			if layout.StrictSampleData {
				return d, &InvalidSampleDataError{Path: p, Cause: err}
			}
			m.logger.Warn("skipping sample data", "path", p, "err", err)
			continue
		}
		d.SampleData = raw
	}
	for _, p := range a.SampleOptions {
		raw, err := readJSON(p)
		if err != nil {
			m.logger.Warn("skipping sample options", "path", p, "err", err)
			continue
		}
		d.SampleOptions = raw
	}
	for _, p := range a.SampleImages {
		raw, err := os.ReadFile(p)
		if err != nil {
			m.logger.Warn("skipping sample images", "path", p, "err", err)
			continue
		}
		var images []string
		if err := json.Unmarshal(raw, &images); err != nil {
			m.logger.Warn("skipping sample images", "path", p, "err", err)
			continue
		}
		d.SampleImages = images
		d.HasImages = true
	}

	if len(a.CodeExamples) > 0 {
		d.CodeExamples = make(map[string]string, len(a.CodeExamples))
		for lang, p := range a.CodeExamples {
			text, err := readText(p)
			if err != nil {
				m.logger.Warn("skipping code example", "language", lang, "path", p, "err", err)
				continue
			}
			d.CodeExamples[lang] = text
		}
	}
	return d, nil
}

// LoadPackage reads package metadata leniently: a missing or malformed file
// yields nil.
func (m *MetadataMerger) LoadPackage(path string) *PackageMetadata {
	if path == "" {
		return nil
	}
	meta, err := ReadPackageMetadata(path)
	if err != nil {
		m.logger.Warn("invalid package.json", "path", path, "err", err)
		return nil
	}
	return meta
}

// Merge produces a normalized, unsaved visualization type.
func (m *MetadataMerger) Merge(in MergeInput) (*VisualizationType, error) {
	merged := Attributes{
		"enabled":       true,
		"sampleData":    emptyObject,
		"sampleOptions": emptyObject,
		"sampleImages":  []string{},
		"codeExamples":  map[string]string{},
	}
	if in.DefaultName != "" {
		merged["name"] = in.DefaultName
	}
	overlay(merged, in.Disk.attributes())
	if in.Package != nil {
		overlay(merged, m.wellTyped("lightning", in.Package.Lightning))
		overlay(merged, m.wellTyped("lightning-viz", in.Package.LightningViz))
	}
	overlay(merged, m.wellTyped("attributes", in.Explicit))
	delete(merged, "id")

	raw, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("encode attributes: %w", err)
	}
	var vt VisualizationType
	if err := json.Unmarshal(raw, &vt); err != nil {
		return nil, fmt.Errorf("decode attributes: %w", err)
	}
	vt.normalize()
	return &vt, nil
}

// wellTyped returns the keys of src whose values decode into the matching
// VisualizationType field. Mistyped keys are logged and dropped.
func (m *MetadataMerger) wellTyped(source string, src map[string]any) map[string]any {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]any, len(src))
	for k, v := range src {
		raw, err := json.Marshal(map[string]any{k: v})
		if err == nil {
			var field VisualizationType
			err = json.Unmarshal(raw, &field)
		}
		if err != nil {
			m.logger.Warn("ignoring malformed field", "source", source, "field", k, "err", err)
			continue
		}
		out[k] = v
	}
	return out
}

func overlay(dst Attributes, src map[string]any) {
	for k, v := range src {
		dst[k] = v
	}
}

func readText(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func readJSON(path string) (json.RawMessage, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	b = bytes.TrimSpace(b)
	if !json.Valid(b) {
		return nil, fmt.Errorf("%s is not valid JSON", path)
	}
	return json.RawMessage(b), nil
}
