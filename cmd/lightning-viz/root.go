package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/lightning-viz/lightning"
)

var version = "dev"

type rootOptions struct {
	configFile string
	dbPath     string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "lightning-viz",
		Short:         "Manage lightning visualization types",
		Long:          "lightning-viz installs visualization types from the package registry, git repositories\nand local folders, and serves the live session feed.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&opts.configFile, "config", "", "YAML configuration file")
	root.PersistentFlags().StringVar(&opts.dbPath, "db", "", "SQLite database path (overrides store.path)")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Enable debug logging")

	root.AddCommand(
		newInstallCmd(opts),
		newLinkCmd(opts),
		newImportRepoCmd(opts),
		newImportFolderCmd(opts),
		newExportCmd(opts),
		newRemoveCmd(opts),
		newRefreshCmd(opts),
		newListCmd(opts),
		newFeedCmd(opts),
	)
	return root
}

func (o *rootOptions) logger(w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	if o.verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func (o *rootOptions) loadConfig() (lightning.Config, error) {
	cfg := lightning.DefaultConfig()
	if o.configFile != "" {
		var err error
		if cfg, err = lightning.LoadConfig(o.configFile); err != nil {
			return cfg, err
		}
	}
	if o.dbPath != "" {
		cfg.Store.Driver = "sqlite"
		cfg.Store.Path = o.dbPath
	}
	return cfg, nil
}

// withCatalog opens the catalog for the duration of fn.
func (o *rootOptions) withCatalog(cmd *cobra.Command, fn func(ctx context.Context, c *lightning.Catalog) error) error {
	cfg, err := o.loadConfig()
	if err != nil {
		return err
	}
	c, err := lightning.Open(cfg, o.logger(cmd.ErrOrStderr()))
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()
	return fn(cmd.Context(), c)
}

func printRecord(w io.Writer, vt *lightning.VisualizationType, preview bool) error {
	if preview {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(vt)
	}
	_, err := fmt.Fprintf(w, "created %s (%s)\n", vt.Name, vt.ID)
	return err
}

func newInstallCmd(opts *rootOptions) *cobra.Command {
	var preview bool
	cmd := &cobra.Command{
		Use:   "install <package>",
		Short: "Install a visualization type from the package registry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withCatalog(cmd, func(ctx context.Context, c *lightning.Catalog) error {
				create := c.CreateFromRegistry
				if preview {
					create = c.PreviewFromRegistry
				}
				vt, err := create(ctx, args[0])
				if err != nil {
					return err
				}
				return printRecord(cmd.OutOrStdout(), vt, preview)
			})
		},
	}
	cmd.Flags().BoolVar(&preview, "preview", false, "Print the visualization type without saving it")
	return cmd
}

func newLinkCmd(opts *rootOptions) *cobra.Command {
	var preview bool
	cmd := &cobra.Command{
		Use:   "link <package>",
		Short: "Link a visualization type under local development",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withCatalog(cmd, func(ctx context.Context, c *lightning.Catalog) error {
				create := c.CreateFromLocalModule
				if preview {
					create = c.LinkFromLocalModule
				}
				vt, err := create(ctx, args[0])
				if err != nil {
					return err
				}
				return printRecord(cmd.OutOrStdout(), vt, preview)
			})
		},
	}
	cmd.Flags().BoolVar(&preview, "preview", false, "Print the visualization type without saving it")
	return cmd
}

func newImportRepoCmd(opts *rootOptions) *cobra.Command {
	var (
		repoOpts lightning.RepoOptions
		many     bool
		name     string
	)
	cmd := &cobra.Command{
		Use:   "import-repo <url>",
		Short: "Import visualization types from a git repository",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if many && (repoOpts.Path != "" || repoOpts.Preview || name != "") {
				return errors.New("--many cannot be combined with --path, --preview or --name")
			}
			return opts.withCatalog(cmd, func(ctx context.Context, c *lightning.Catalog) error {
				if many {
					vts, err := c.CreateManyFromRepoURL(ctx, args[0])
					for _, vt := range vts {
						_ = printRecord(cmd.OutOrStdout(), vt, false)
					}
					return err
				}
				vt, err := c.CreateFromRepoURL(ctx, args[0], nameAttributes(name), repoOpts)
				if err != nil {
					return err
				}
				return printRecord(cmd.OutOrStdout(), vt, repoOpts.Preview)
			})
		},
	}
	cmd.Flags().StringVar(&repoOpts.Path, "path", "", "Plugin folder inside the repository")
	cmd.Flags().BoolVar(&repoOpts.Preview, "preview", false, "Print the visualization type without saving it")
	cmd.Flags().BoolVar(&many, "many", false, "Import every top-level folder as its own visualization type")
	cmd.Flags().StringVar(&name, "name", "", "Name of the visualization type")
	return cmd
}

func newImportFolderCmd(opts *rootOptions) *cobra.Command {
	var (
		folderOpts lightning.FolderOptions
		name       string
	)
	cmd := &cobra.Command{
		Use:   "import-folder <dir>",
		Short: "Import a visualization type from a local folder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withCatalog(cmd, func(ctx context.Context, c *lightning.Catalog) error {
				vt, err := c.CreateFromFolder(ctx, args[0], nameAttributes(name), folderOpts)
				if err != nil {
					return err
				}
				return printRecord(cmd.OutOrStdout(), vt, folderOpts.Preview)
			})
		},
	}
	cmd.Flags().BoolVar(&folderOpts.Preview, "preview", false, "Print the visualization type without saving it")
	cmd.Flags().StringVar(&name, "name", "", "Name of the visualization type")
	return cmd
}

func nameAttributes(name string) lightning.Attributes {
	if name == "" {
		return nil
	}
	return lightning.Attributes{"name": name}
}

func newExportCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "export <name> <dir>",
		Short: "Write the script, style and markup of a visualization type to a folder",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withCatalog(cmd, func(ctx context.Context, c *lightning.Catalog) error {
				vt, err := c.GetByName(ctx, args[0])
				if err != nil {
					return fmt.Errorf("%s: %w", args[0], err)
				}
				if err := vt.ExportToFS(args[1]); err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "exported %s to %s\n", vt.Name, args[1])
				return err
			})
		},
	}
}

func newRemoveCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <name>",
		Short: "Delete a visualization type and uninstall its package",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withCatalog(cmd, func(ctx context.Context, c *lightning.Catalog) error {
				vt, err := c.GetByName(ctx, args[0])
				if err != nil {
					return fmt.Errorf("%s: %w", args[0], err)
				}
				err = c.DeleteAndUninstall(ctx, vt)
				if err != nil && !errors.Is(err, lightning.ErrUninstall) {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", vt.Name)
				return err
			})
		},
	}
}

func newRefreshCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh <name>",
		Short: "Reinstall a module visualization type and rebuild its samples",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withCatalog(cmd, func(ctx context.Context, c *lightning.Catalog) error {
				vt, err := c.GetByName(ctx, args[0])
				if err != nil {
					return fmt.Errorf("%s: %w", args[0], err)
				}
				fresh, err := c.RefreshFromRegistry(ctx, vt)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "refreshed %s from %s\n", fresh.Name, fresh.ModuleName)
				return err
			})
		},
	}
}

func newListCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored visualization types",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withCatalog(cmd, func(ctx context.Context, c *lightning.Catalog) error {
				vts, err := c.List(ctx)
				if err != nil {
					return err
				}
				w := cmd.OutOrStdout()
				for _, vt := range vts {
					source := "folder"
					if vt.IsModule {
						source = "module:" + vt.ModuleName
					}
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", vt.Name, vt.ID, source, c.ThumbnailURL(vt))
				}
				return nil
			})
		},
	}
}

func newFeedCmd(opts *rootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "feed",
		Short: "Serve the live session feed over websockets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			logger := opts.logger(cmd.ErrOrStderr())
			hub := lightning.NewFeedHub(cfg.Feed, logger)

			srv := &http.Server{
				Addr:              addr,
				Handler:           feedMux(hub),
				ReadHeaderTimeout: 10 * time.Second,
			}
			errCh := make(chan error, 1)
			go func() { errCh <- srv.ListenAndServe() }()
			logger.Info("serving feed", "addr", addr)

			select {
			case err := <-errCh:
				return err
			case <-cmd.Context().Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			}
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":3000", "Listen address")
	return cmd
}

// feedMux routes /sessions/<sid>/feed: POST publishes, anything else opens
// a websocket.
func feedMux(hub *lightning.FeedHub) http.Handler {
	ws := hub.WebSocketHandler()
	publish := hub.PublishHandler()

	mux := http.NewServeMux()
	mux.HandleFunc("/sessions/", func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(strings.TrimRight(r.URL.Path, "/"), "/feed") {
			http.NotFound(w, r)
			return
		}
		if r.Method == http.MethodPost {
			publish(w, r)
			return
		}
		ws(w, r)
	})
	return mux
}
