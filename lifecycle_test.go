package lightning

import (
	"context"
	"errors"
	"testing"

	"github.com/lightning-viz/lightning/internal/testutil"
)

func TestDeleteAndUninstall_Module(t *testing.T) {
	c := newTestCatalog(t, nil)
	addRegistryPackage(c)
	ctx := context.Background()

	vt, err := c.CreateFromRegistry(ctx, "lightning-line")
	if err != nil {
		t.Fatal(err)
	}
	if err := c.DeleteAndUninstall(ctx, vt); err != nil {
		t.Fatalf("DeleteAndUninstall: %v", err)
	}
	if _, err := c.Get(ctx, vt.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected record deleted, got %v", err)
	}
	testutil.MustNotExist(t, c.fetcher.ModuleDir("lightning-line"))

	calls := c.packages.Calls()
	if calls[len(calls)-1] != "uninstall lightning-line" {
		t.Errorf("expected a final uninstall, got %v", calls)
	}
}

func TestDeleteAndUninstall_UninstallFailure(t *testing.T) {
	c := newTestCatalog(t, nil)
	addRegistryPackage(c)
	ctx := context.Background()

	vt, err := c.CreateFromRegistry(ctx, "lightning-line")
	if err != nil {
		t.Fatal(err)
	}
	c.packages.UninstallErr = errors.New("EACCES")

	err = c.DeleteAndUninstall(ctx, vt)
	if !errors.Is(err, ErrUninstall) {
		t.Fatalf("expected uninstall failure to be surfaced, got %v", err)
	}
	if _, err := c.Get(ctx, vt.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("record should be deleted even when uninstall fails, got %v", err)
	}
}

func TestDeleteAndUninstall_Folder(t *testing.T) {
	c := newTestCatalog(t, nil)
	ctx := context.Background()
	vt, err := c.CreateFromFolder(ctx, writePlugin(t, t.TempDir()), Attributes{"name": "line"}, FolderOptions{})
	if err != nil {
		t.Fatal(err)
	}

	if err := c.DeleteAndUninstall(ctx, vt); err != nil {
		t.Fatalf("DeleteAndUninstall: %v", err)
	}
	if len(c.packages.Calls()) != 0 {
		t.Errorf("folder records have no package to uninstall, got %v", c.packages.Calls())
	}
	if err := c.DeleteAndUninstall(ctx, vt); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound deleting twice, got %v", err)
	}
}

func TestRefreshFromRegistry(t *testing.T) {
	c := newTestCatalog(t, nil)
	addRegistryPackage(c)
	ctx := context.Background()

	vt, err := c.CreateFromRegistry(ctx, "lightning-line")
	if err != nil {
		t.Fatal(err)
	}

	// publish a new version with different samples and a new display name
	c.packages.AddPackage("lightning-line", map[string]string{
		"package.json":          `{"name": "lightning-line", "lightning": {"name": "Line v2"}}`,
		"data/sample-data.json": `[3,4,5]`,
		"data/example.scala":    "Lightning().line()",
	})

	fresh, err := c.RefreshFromRegistry(ctx, vt)
	if err != nil {
		t.Fatalf("RefreshFromRegistry: %v", err)
	}
	if fresh.ID != vt.ID || fresh.Name != vt.Name {
		t.Errorf("refresh must keep id and name, got %q %q", fresh.ID, fresh.Name)
	}
	if string(fresh.SampleData) != "[3,4,5]" {
		t.Errorf("expected refreshed samples, got %s", fresh.SampleData)
	}
	if fresh.IsStreaming {
		t.Error("expected refreshed streaming flag")
	}
	if _, ok := fresh.CodeExamples["scala"]; !ok || len(fresh.CodeExamples) != 1 {
		t.Errorf("expected refreshed code examples, got %v", fresh.CodeExamples)
	}
	if fresh.ThumbnailLocation != vt.ThumbnailLocation {
		t.Errorf("a missing thumbnail keeps the previous one, got %q", fresh.ThumbnailLocation)
	}

	stored, err := c.Get(ctx, vt.ID)
	if err != nil {
		t.Fatal(err)
	}
	if string(stored.SampleData) != "[3,4,5]" || stored.Name != "Line" {
		t.Errorf("refresh was not persisted: %+v", stored)
	}
}

func TestRefreshFromRegistry_NotModule(t *testing.T) {
	c := newTestCatalog(t, nil)
	_, err := c.RefreshFromRegistry(context.Background(), &VisualizationType{ID: "1", Name: "folder"})
	if !errors.Is(err, ErrNotModule) {
		t.Errorf("expected ErrNotModule, got %v", err)
	}
}

func TestRefreshFromRegistry_Deleted(t *testing.T) {
	c := newTestCatalog(t, nil)
	addRegistryPackage(c)
	ctx := context.Background()

	vt, err := c.CreateFromRegistry(ctx, "lightning-line")
	if err != nil {
		t.Fatal(err)
	}
	if err := c.DeleteAndUninstall(ctx, vt); err != nil {
		t.Fatal(err)
	}
	if _, err := c.RefreshFromRegistry(ctx, vt); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound refreshing a deleted record, got %v", err)
	}
}
