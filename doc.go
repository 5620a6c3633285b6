// Package lightning manages the visualization types of a lightning
// dashboard: installable plugins made of a script, a stylesheet, markup and
// sample content.
//
// A Catalog ingests visualization types from a package registry, a linked
// local module, a git repository (one plugin, or one plugin per top-level
// folder) or a plain folder, and persists them in SQLite or in memory.
//
// # Basic Usage
//
// Open a catalog with default configuration:
//
//	catalog, err := lightning.Open(lightning.DefaultConfig(), nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer catalog.Close()
//
// Install a plugin from the registry:
//
//	vt, err := catalog.CreateFromRegistry(ctx, "lightning-scatter")
//
// Import every plugin folder of a repository:
//
//	vts, err := catalog.CreateManyFromRepoURL(ctx, "https://github.com/org/viz-pack.git")
//
// Folders that fail to import do not stop the others; their errors are
// joined into err while vts holds the plugins that were stored.
//
// # Ingestion
//
// Every ingestion walks the same stages: fetching the source, locating its
// artifacts, merging metadata, then either previewing or resolving a
// thumbnail and persisting. Errors are wrapped in an *IngestError naming the
// stage; use errors.Is with ErrSourceFetch, ErrMultipleArtifacts,
// ErrInvalidSampleData, ErrDuplicateName or ErrPersistence to classify them.
//
// Metadata is merged with a fixed precedence: explicit attributes, the
// package.json "lightning-viz" block, the "lightning" block, files on disk,
// then defaults.
//
// # Live Feed
//
// FeedHub pushes viz, viz:delete, append and update events to the websocket
// clients of a session.
package lightning
