package lightning

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
)

// PackageManager installs visualization packages from a registry.
// Implementations need not be safe to run concurrently with themselves;
// the catalog serializes registry operations.
type PackageManager interface {
	Install(ctx context.Context, name string) error
	Uninstall(ctx context.Context, name string) error
	Link(ctx context.Context, name string) error

	LogLevel() string
	SetLogLevel(level string)
}

// withLogLevel runs fn with the package manager verbosity set to level and
// restores the previous level on every exit path.
func withLogLevel(pm PackageManager, level string, fn func() error) error {
	prev := pm.LogLevel()
	pm.SetLogLevel(level)
	defer pm.SetLogLevel(prev)
	return fn()
}

// NPMClient drives the npm command line.
type NPMClient struct {
	command string
	prefix  string
	logger  *slog.Logger

	mu       sync.Mutex
	logLevel string
}

// NewNPMClient creates a client that installs into prefix/node_modules.
func NewNPMClient(cfg RegistryConfig, logger *slog.Logger) *NPMClient {
	if cfg.Command == "" {
		cfg.Command = "npm"
	}
	if cfg.Root == "" {
		cfg.Root = "."
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &NPMClient{
		command:  cfg.Command,
		prefix:   cfg.Root,
		logger:   logger.With(slog.String("component", "npm")),
		logLevel: "warn",
	}
}

func (c *NPMClient) Install(ctx context.Context, name string) error {
	return c.run(ctx, "install", name)
}

func (c *NPMClient) Uninstall(ctx context.Context, name string) error {
	return c.run(ctx, "uninstall", name)
}

func (c *NPMClient) Link(ctx context.Context, name string) error {
	return c.run(ctx, "link", name)
}

func (c *NPMClient) LogLevel() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.logLevel
}

func (c *NPMClient) SetLogLevel(level string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logLevel = level
}

func (c *NPMClient) run(ctx context.Context, verb, name string) error {
	if name == "" || strings.HasPrefix(name, "-") {
		return fmt.Errorf("npm %s: invalid package name %q", verb, name)
	}
	args := []string{verb, name, "--prefix", c.prefix, "--loglevel", c.LogLevel()}

	cmd := exec.CommandContext(ctx, c.command, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	c.logger.Debug("running package manager", "args", args)
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("npm %s %s: %w", verb, name, ctxErr)
		}
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return fmt.Errorf("npm %s %s: %w: %s", verb, name, err, msg)
		}
		return fmt.Errorf("npm %s %s: %w", verb, name, err)
	}
	return nil
}
