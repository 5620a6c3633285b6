package lightning

import (
	"context"
	"path/filepath"
	"testing"
)

func TestGoGitCloner_InvalidSource(t *testing.T) {
	dir := t.TempDir()
	c := NewGoGitCloner(nil)

	err := c.Clone(context.Background(), filepath.Join(dir, "no-such-repo"), filepath.Join(dir, "dest"))
	if err == nil {
		t.Fatal("expected clone of a missing repository to fail")
	}
}

func TestGoGitCloner_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	dir := t.TempDir()
	if err := NewGoGitCloner(nil).Clone(ctx, "https://example.invalid/viz.git", filepath.Join(dir, "dest")); err == nil {
		t.Fatal("expected a canceled clone to fail")
	}
}
