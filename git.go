package lightning

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/go-git/go-git/v5"
)

// Cloner copies a remote repository into a local directory.
type Cloner interface {
	Clone(ctx context.Context, url, dest string) error
}

// GoGitCloner implements Cloner with go-git, so no git binary is needed.
type GoGitCloner struct {
	retryer *Retryer
	logger  *slog.Logger
}

// NewGoGitCloner creates a cloner that retries transient transport errors.
func NewGoGitCloner(logger *slog.Logger) *GoGitCloner {
	if logger == nil {
		logger = slog.Default()
	}
	return &GoGitCloner{
		retryer: NewRetryer(DefaultRetryConfig()),
		logger:  logger.With(slog.String("component", "gitClient"), slog.String("backend", "go-git")),
	}
}

// Clone performs a shallow clone of url into dest.
func (c *GoGitCloner) Clone(ctx context.Context, url, dest string) error {
	c.logger.Debug("cloning repository", "url", url, "dest", dest)

	result := c.retryer.Do(ctx, func() error {
		// a failed attempt may leave a partial checkout behind
		if err := os.RemoveAll(dest); err != nil {
			return err
		}
		_, err := git.PlainCloneContext(ctx, dest, false, &git.CloneOptions{
			URL:   url,
			Depth: 1,
		})
		return err
	})
	if result.LastErr != nil {
		c.logger.Error("clone failed", "url", url, "attempts", result.Attempts, "err", result.LastErr)
		return fmt.Errorf("clone %s: %w", url, result.LastErr)
	}
	return nil
}
