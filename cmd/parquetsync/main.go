// Command parquetsync drives the bidirectional sync between the document
// database and its Parquet/object-store mirror: export, incremental sync,
// import, remote upload/download, and derived-view recalculation.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/docopt/docopt-go"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/joho/godotenv"

	"github.com/arrowarc/parquetsync/internal/config"
	"github.com/arrowarc/parquetsync/internal/controller"
	"github.com/arrowarc/parquetsync/internal/dbadapter"
	"github.com/arrowarc/parquetsync/internal/ident"
	"github.com/arrowarc/parquetsync/internal/record"
	"github.com/arrowarc/parquetsync/internal/sampling"
	"github.com/arrowarc/parquetsync/internal/schema"
	"github.com/arrowarc/parquetsync/internal/storage"
	"github.com/arrowarc/parquetsync/internal/syncengine"
	"github.com/arrowarc/parquetsync/internal/viewbuilder"
)

const usage = `parquetsync: sync a document database with a Parquet/object-store mirror.

Usage:
  parquetsync --export-from-mongo [options]
  parquetsync --import-to-mongo [options]
  parquetsync --upload-to-remote [options]
  parquetsync --download-from-remote [options]
  parquetsync --sync-parquet [options]
  parquetsync --recalculate-views [options]
  parquetsync -h | --help

Options:
  -h --help                Show this screen.
  --export-from-mongo      Full export of every selected collection.
  --import-to-mongo        Import every selected collection's Parquet files.
  --upload-to-remote       Upload local files to remote storage; combinable with --export-from-mongo or --sync-parquet.
  --download-from-remote   Download remote files to local storage.
  --sync-parquet           Incremental sync of every selected collection.
  --recalculate-views      Rebuild the view_pages and view_tasks collections.
  --sample                 Operate on the sample directory with sampling filters.
  --include=<name>         Collection to include; repeatable, mutually exclusive with --exclude.
  --exclude=<name>         Collection to exclude; repeatable, mutually exclusive with --include.
  --min-date=<date>        Import-time predicate, YYYY-MM-DD.
  --drop                   Empty target collections before import; ignored without --import-to-mongo.
  --from-remote            Import reads directly from remote storage.
  --sample-dir=<dir>       Override the sample data directory.
  --data-dir=<dir>         Override the data directory.
  --db-name=<name>         Override the database name.
  --storage=<backend>      Override the storage backend (azure|s3).
  --cleanup-temp-dir       Remove the sync or view-builder temp directory after the run.
  --config=<path>          Path to the configuration file [default: ./config.yaml].
`

func main() {
	_ = godotenv.Load()

	logger := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	logger = log.With(logger, "ts", log.DefaultTimestampUTC, "caller", log.DefaultCaller)

	if err := run(logger); err != nil {
		level.Error(logger).Log("msg", "run failed", "err", err)
		os.Exit(1)
	}
}

func run(logger log.Logger) error {
	arguments, err := docopt.ParseDoc(usage)
	if err != nil {
		return fmt.Errorf("parquetsync: parse arguments: %w", err)
	}

	configPath, _ := arguments.String("--config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	applyOverrides(cfg, arguments)

	opts, err := optionsFromArguments(arguments)
	if err != nil {
		return err
	}

	bucket, bucketErr := cfg.Storage.BuildBucket(logger, "parquetsync")
	if bucketErr != nil {
		level.Info(logger).Log("msg", "no remote storage backend configured", "err", bucketErr)
	}

	storageAdapter := storage.New(cfg.DataDir, cfg.SampleDir, bucket)
	driver, err := dbadapter.NewMongoDriver(cfg.DB)
	if err != nil {
		return fmt.Errorf("parquetsync: connect to database: %w", err)
	}
	db := dbadapter.New(driver)

	gen := ident.NewGenerator()
	registry := schema.Build(gen)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	syncEngine := syncengine.New(storageAdapter, db, syncengine.WithLogger(logger))
	if opts.MinDate != nil {
		syncEngine = syncengine.New(storageAdapter, db, syncengine.WithLogger(logger), syncengine.WithMinDate(*opts.MinDate))
	}
	syncEngine.Sample = opts.Sample
	if opts.Sample {
		sctx, err := loadSamplingContext(ctx, driver)
		if err != nil {
			return fmt.Errorf("parquetsync: load sampling context: %w", err)
		}
		sampling.Init(sctx)
		syncEngine.SamplingCtx = sctx
	}

	viewBuilder := viewbuilder.New(storageAdapter, db, registry, viewbuilder.WithLogger(logger), viewbuilder.WithGenerator(gen))
	viewBuilder.Sample = opts.Sample

	ctrl := controller.New(registry, db, storageAdapter, syncEngine, viewBuilder, controller.WithLogger(logger))

	return ctrl.Run(ctx, opts)
}

// sampleProjectIDs pins the projects whose tasks define the development
// sample dataset: every sampling-aware model filters to the tasks owned by
// these projects.
var sampleProjectIDs = []string{
	"64bb7ea337b9d8195e3b441d",
	"621d280492982ac8c344d372",
	"632c6dda259d340af9c37199",
}

// loadSamplingContext runs the startup sampling refresh: one query for the
// sampled task id list, plus the fixed sample date window, immutable for
// the rest of the run.
func loadSamplingContext(ctx context.Context, driver dbadapter.Driver) (sampling.Context, error) {
	return sampling.Load(ctx, func(ctx context.Context) (map[string][]ident.ID, sampling.DateRange, error) {
		projectIDs := make([]any, 0, len(sampleProjectIDs))
		for _, h := range sampleProjectIDs {
			id, err := ident.FromHex(h)
			if err != nil {
				return nil, sampling.DateRange{}, err
			}
			projectIDs = append(projectIDs, id)
		}

		rows, err := driver.Find(ctx, "tasks",
			record.Record{"projects": record.Record{"$in": projectIDs}},
			record.Record{"_id": int32(1)})
		if err != nil {
			return nil, sampling.DateRange{}, err
		}
		taskIDs := make([]ident.ID, 0, len(rows))
		for _, row := range rows {
			if id, ok := row["_id"].(ident.ID); ok {
				taskIDs = append(taskIDs, id)
			}
		}

		dr := sampling.DateRange{
			Start: time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC),
			End:   time.Now().UTC().AddDate(0, 0, -1),
		}
		return map[string][]ident.ID{"task": taskIDs}, dr, nil
	})
}

// applyOverrides layers the `--sample-dir`/`--data-dir`/`--db-name`/
// `--storage` CLI flags over the parsed config file.
func applyOverrides(cfg *config.Config, arguments docopt.Opts) {
	if v, _ := arguments.String("--sample-dir"); v != "" {
		cfg.SampleDir = v
	}
	if v, _ := arguments.String("--data-dir"); v != "" {
		cfg.DataDir = v
	}
	if v, _ := arguments.String("--db-name"); v != "" {
		cfg.DB.Database = v
	}
	if v, _ := arguments.String("--storage"); v != "" {
		cfg.Storage.Backend = config.Backend(v)
	}
}

// optionsFromArguments resolves the parsed flags into a controller.Options,
// including the legal export/sync + upload-on-success combinations.
func optionsFromArguments(arguments docopt.Opts) (controller.Options, error) {
	exportFlag, _ := arguments.Bool("--export-from-mongo")
	importFlag, _ := arguments.Bool("--import-to-mongo")
	uploadFlag, _ := arguments.Bool("--upload-to-remote")
	downloadFlag, _ := arguments.Bool("--download-from-remote")
	syncFlag, _ := arguments.Bool("--sync-parquet")
	viewsFlag, _ := arguments.Bool("--recalculate-views")

	opts := controller.Options{}
	switch {
	case exportFlag:
		opts.Action = controller.ActionExport
		opts.UploadOnSuccess = uploadFlag
	case syncFlag:
		opts.Action = controller.ActionSync
		opts.UploadOnSuccess = uploadFlag
	case importFlag:
		opts.Action = controller.ActionImport
	case uploadFlag:
		opts.Action = controller.ActionUpload
	case downloadFlag:
		opts.Action = controller.ActionDownload
	case viewsFlag:
		opts.Action = controller.ActionRecalculateViews
	default:
		return opts, fmt.Errorf("parquetsync: no action selected")
	}

	opts.Sample, _ = arguments.Bool("--sample")
	opts.Drop, _ = arguments.Bool("--drop")
	opts.FromRemote, _ = arguments.Bool("--from-remote")
	opts.CleanupTempDir, _ = arguments.Bool("--cleanup-temp-dir")
	opts.Include = stringSlice(arguments, "--include")
	opts.Exclude = stringSlice(arguments, "--exclude")

	if v, _ := arguments.String("--min-date"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			return opts, fmt.Errorf("parquetsync: invalid --min-date %q: %w", v, err)
		}
		opts.MinDate = &t
	}

	return opts, nil
}

// stringSlice reads a repeatable docopt option as a []string, or nil if it
// was not given.
func stringSlice(arguments docopt.Opts, name string) []string {
	raw, ok := arguments[name]
	if !ok || raw == nil {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		return v
	case string:
		return []string{v}
	default:
		return nil
	}
}
