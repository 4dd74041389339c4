// Package controller dispatches the six top-level actions — export, import,
// upload, download, sync, recalculate-views — onto internal/syncengine,
// internal/storage and internal/viewbuilder, enforcing the cross-cutting
// guard rails: include/exclude mutual exclusivity, the sentinel
// non-emptiness precondition before any sync, and per-collection
// continue-vs-abort error handling via internal/errs.
package controller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/arrowarc/parquetsync/internal/dbadapter"
	"github.com/arrowarc/parquetsync/internal/errs"
	"github.com/arrowarc/parquetsync/internal/schema"
	"github.com/arrowarc/parquetsync/internal/storage"
	"github.com/arrowarc/parquetsync/internal/syncengine"
	"github.com/arrowarc/parquetsync/internal/viewbuilder"
)

// sentinelCollection is the hard-coded, non-configurable guard collection:
// a sync run refuses to start while it is empty, whatever collections the
// run actually targets.
const sentinelCollection = "page_metrics"

// Action names one of the controller's six mutually exclusive operations.
type Action int

const (
	ActionExport Action = iota
	ActionImport
	ActionUpload
	ActionDownload
	ActionSync
	ActionRecalculateViews
)

func (a Action) String() string {
	switch a {
	case ActionExport:
		return "export"
	case ActionImport:
		return "import"
	case ActionUpload:
		return "upload"
	case ActionDownload:
		return "download"
	case ActionSync:
		return "sync"
	case ActionRecalculateViews:
		return "recalculate-views"
	default:
		return "unknown"
	}
}

// Options carries one run's action selector and modifiers, mirroring the
// CLI flag set one to one.
type Options struct {
	Action Action

	// UploadOnSuccess uploads every collection touched by Export or Sync
	// once that action completes without error; it is illegal with any
	// other action.
	UploadOnSuccess bool

	Sample  bool
	Include []string
	Exclude []string

	MinDate *time.Time
	Drop    bool

	FromRemote     bool
	CleanupTempDir bool

	// ViewsFrom pins the reference date RecalculateViews's seven presets are
	// computed relative to; nil means today.
	ViewsFrom *time.Time
}

// Controller wires the registry and engines together and enforces the
// cross-cutting guard rails around them.
type Controller struct {
	Registry *schema.Registry
	DB       *dbadapter.Adapter
	Storage  *storage.Adapter
	Sync     *syncengine.Engine
	Views    *viewbuilder.Builder

	logger log.Logger
}

// Option configures a Controller at construction time.
type Option func(*Controller)

// WithLogger overrides the controller's logger; the default is a no-op
// logger.
func WithLogger(l log.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// New builds a Controller against its engines, applying opts in order.
func New(registry *schema.Registry, db *dbadapter.Adapter, storageAdapter *storage.Adapter, sync *syncengine.Engine, views *viewbuilder.Builder, opts ...Option) *Controller {
	c := &Controller{
		Registry: registry,
		DB:       db,
		Storage:  storageAdapter,
		Sync:     sync,
		Views:    views,
		logger:   log.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run validates opts and dispatches to the named action.
func (c *Controller) Run(ctx context.Context, opts Options) error {
	if len(opts.Include) > 0 && len(opts.Exclude) > 0 {
		return &errs.ConfigError{Reason: "--include and --exclude are mutually exclusive"}
	}
	if opts.UploadOnSuccess && opts.Action != ActionExport && opts.Action != ActionSync {
		return &errs.ConfigError{Reason: "upload-on-success only combines with export or sync"}
	}

	collections, err := c.Registry.Select(opts.Include, opts.Exclude)
	if err != nil {
		return &errs.ConfigError{Reason: err.Error(), Err: err}
	}

	switch opts.Action {
	case ActionExport:
		if err := c.runExport(ctx, collections); err != nil {
			return err
		}
		if opts.UploadOnSuccess {
			return c.runUpload(ctx, collections, opts.Sample)
		}
		return nil

	case ActionImport:
		return c.runImport(ctx, collections, opts)

	case ActionUpload:
		return c.runUpload(ctx, collections, opts.Sample)

	case ActionDownload:
		return c.runDownload(ctx, collections, opts.Sample)

	case ActionSync:
		if err := c.checkSentinel(ctx); err != nil {
			return err
		}
		changed, err := c.runSync(ctx, collections)
		if err != nil {
			return err
		}
		if opts.UploadOnSuccess && len(changed) > 0 {
			if err := c.Storage.UploadToRemote(ctx, changed, opts.Sample, false); err != nil {
				return fmt.Errorf("controller: upload after sync: %w", err)
			}
		}
		if opts.CleanupTempDir {
			if err := c.Sync.CleanupTempDir(); err != nil {
				return err
			}
		}
		return nil

	case ActionRecalculateViews:
		return c.runRecalculateViews(ctx, opts)

	default:
		return &errs.ConfigError{Reason: fmt.Sprintf("unknown action %v", opts.Action)}
	}
}

// checkSentinel is the cheap non-emptiness precondition: before any sync,
// the fixed sentinel collection must already hold at least one document.
// Syncing against an empty database would overwrite the Parquet mirror
// with a vacuum.
func (c *Controller) checkSentinel(ctx context.Context) error {
	_, ok, err := c.DB.MaxDate(ctx, sentinelCollection, "date", nil)
	if err != nil {
		return fmt.Errorf("controller: sentinel precondition check: %w", err)
	}
	if !ok {
		return &errs.PreconditionError{
			Collection: sentinelCollection,
			Reason:     "sentinel collection is empty; refusing to sync into Parquet to avoid overwriting with a vacuum",
		}
	}
	return nil
}

// runExport exports every non-view collection in order, aborting on the
// first error — a full export has no "continue with the rest" behavior
// documented for it, unlike incremental sync.
func (c *Controller) runExport(ctx context.Context, collections []*schema.MongoCollection) error {
	for _, mc := range collections {
		if mc.IsView {
			continue
		}
		level.Info(c.logger).Log("msg", "exporting collection", "collection", mc.Collection)
		if err := c.Sync.Export(ctx, mc); err != nil {
			return fmt.Errorf("controller: export %s: %w", mc.Collection, err)
		}
	}
	return nil
}

// runSync incrementally syncs every non-view collection, continuing past a
// Data or Transient-I/O error on one collection to the rest. It surfaces
// the first such error once every collection has been attempted; a
// Configuration, Precondition or Atomic-write error aborts immediately. The
// returned
// paths are the accumulated upload queues — every file whose content hash
// changed during the run, for the single upload batch at the end.
func (c *Controller) runSync(ctx context.Context, collections []*schema.MongoCollection) ([]string, error) {
	var changed []string
	var firstErr error
	for _, mc := range collections {
		if mc.IsView {
			continue
		}
		queue, err := c.Sync.IncrementalSync(ctx, mc)
		if queue != nil {
			changed = append(changed, queue.Paths()...)
		}
		if err != nil {
			if !continuable(err) {
				return changed, fmt.Errorf("controller: sync %s: %w", mc.Collection, err)
			}
			level.Info(c.logger).Log("msg", "collection sync failed, continuing", "collection", mc.Collection, "err", err)
			if firstErr == nil {
				firstErr = fmt.Errorf("controller: sync %s: %w", mc.Collection, err)
			}
			continue
		}
		if !queue.Empty() {
			level.Info(c.logger).Log("msg", "collection sync updated files", "collection", mc.Collection, "files", len(queue.Paths()))
		}
	}
	return changed, firstErr
}

// continuable reports whether err is one of the kinds a multi-collection
// run should survive (Data, Transient I/O) rather than abort on
// (Configuration, Precondition, Atomic-write).
func continuable(err error) bool {
	var dataErr *errs.DataError
	var transientErr *errs.TransientIOError
	return errors.As(err, &dataErr) || errors.As(err, &transientErr)
}

// runImport imports every selected collection, applying --drop and
// --min-date. --from-remote downloads each collection's files ahead of the
// import rather than streaming the driver's scan against the bucket
// directly, since internal/storage's Parquet readers only operate on local
// paths.
func (c *Controller) runImport(ctx context.Context, collections []*schema.MongoCollection, opts Options) error {
	engine := c.Sync
	if opts.MinDate != nil {
		engine = syncengine.New(c.Sync.Storage, c.Sync.DB,
			syncengine.WithLogger(c.logger),
			syncengine.WithCompressionLevel(c.Sync.CompressionLevel),
			syncengine.WithPartitionDelay(c.Sync.PartitionDelay),
			syncengine.WithMinDate(*opts.MinDate),
		)
		engine.Sample = c.Sync.Sample
		engine.SamplingCtx = c.Sync.SamplingCtx
	}

	if opts.FromRemote {
		names := make([]string, 0, len(collections))
		for _, mc := range collections {
			for _, m := range mc.AllModels() {
				names = append(names, m.ParquetFilename)
			}
		}
		if err := c.Storage.DownloadFromRemote(ctx, names, opts.Sample); err != nil {
			return fmt.Errorf("controller: download before import: %w", err)
		}
	}

	for _, mc := range collections {
		if mc.IsView {
			continue
		}
		if opts.Drop {
			if err := c.DB.DropCollection(ctx, mc.Collection); err != nil {
				return fmt.Errorf("controller: drop %s before import: %w", mc.Collection, err)
			}
		}
		level.Info(c.logger).Log("msg", "importing collection", "collection", mc.Collection)
		if err := engine.Import(ctx, mc); err != nil {
			return fmt.Errorf("controller: import %s: %w", mc.Collection, err)
		}
	}
	return nil
}

// runUpload uploads every selected non-view collection's existing files to
// the remote bucket, expanding a partitioned collection's directory into its
// partition files and skipping collections never exported.
func (c *Controller) runUpload(ctx context.Context, collections []*schema.MongoCollection, sample bool) error {
	var paths []string
	for _, mc := range collections {
		if mc.IsView {
			continue
		}
		for _, m := range mc.AllModels() {
			files, err := c.Storage.ModelFilepaths(m.ParquetFilename, sample)
			if err != nil {
				return fmt.Errorf("controller: upload: %w", err)
			}
			paths = append(paths, files...)
		}
	}
	if len(paths) == 0 {
		return nil
	}
	if err := c.Storage.UploadToRemote(ctx, paths, sample, false); err != nil {
		return fmt.Errorf("controller: upload: %w", err)
	}
	return nil
}

// runDownload downloads every selected non-view collection's files from the
// remote bucket.
func (c *Controller) runDownload(ctx context.Context, collections []*schema.MongoCollection, sample bool) error {
	names := make([]string, 0, len(collections))
	for _, mc := range collections {
		if mc.IsView {
			continue
		}
		for _, m := range mc.AllModels() {
			names = append(names, m.ParquetFilename)
		}
	}
	if err := c.Storage.DownloadFromRemote(ctx, names, sample); err != nil {
		return fmt.Errorf("controller: download: %w", err)
	}
	return nil
}

// runRecalculateViews rebuilds view_pages and view_tasks, then removes the
// staging temp directory when --cleanup-temp-dir was given.
func (c *Controller) runRecalculateViews(ctx context.Context, opts Options) error {
	level.Info(c.logger).Log("msg", "recalculating pages view")
	if err := c.Views.RecalculatePagesView(ctx, opts.ViewsFrom); err != nil {
		return fmt.Errorf("controller: recalculate pages view: %w", err)
	}
	level.Info(c.logger).Log("msg", "recalculating tasks view")
	if err := c.Views.RecalculateTasksView(ctx, opts.ViewsFrom); err != nil {
		return fmt.Errorf("controller: recalculate tasks view: %w", err)
	}
	if opts.CleanupTempDir {
		if err := c.Views.CleanupTempDir(ctx); err != nil {
			return fmt.Errorf("controller: cleanup temp dir: %w", err)
		}
	}
	return nil
}
