package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/oriys/zkrelay/internal/blobstore"
	"github.com/oriys/zkrelay/internal/cache"
	"github.com/oriys/zkrelay/internal/config"
	"github.com/oriys/zkrelay/internal/domain"
	"github.com/oriys/zkrelay/internal/epp"
	"github.com/oriys/zkrelay/internal/epp/executor"
	"github.com/oriys/zkrelay/internal/epp/runstore"
	"github.com/oriys/zkrelay/internal/logging"
	"github.com/oriys/zkrelay/internal/metrics"
	"github.com/oriys/zkrelay/internal/observability"
	"github.com/oriys/zkrelay/internal/taskdb"
)

func runCmd() *cobra.Command {
	var (
		jobID       string
		userID      string
		imageKey    string
		inputKey    string
		assumptions []string
		cycleLimit  uint64
		compress    string
		preflight   bool
		local       bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one job through the pipeline",
		Long:  "Executes the guest program, stages segments and keccak requests, and materializes the reduction tree into the Task DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			compression := domain.CompressionLevel(compress)
			if !compression.Valid() {
				return fmt.Errorf("invalid --compress: %s", compress)
			}
			if jobID == "" {
				return fmt.Errorf("--job-id is required")
			}
			if imageKey == "" || inputKey == "" {
				return fmt.Errorf("--image-key and --input-key are required")
			}

			logging.SetLevelFromString(cfg.Daemon.LogLevel)
			logging.InitStructured(cfg.Observability.Logging.Format, cfg.Observability.Logging.Level)

			ctx := context.Background()
			if err := observability.Init(ctx, observability.Config{
				Enabled:     cfg.Observability.Tracing.Enabled,
				Exporter:    cfg.Observability.Tracing.Exporter,
				Endpoint:    cfg.Observability.Tracing.Endpoint,
				ServiceName: "epp",
				SampleRate:  cfg.Observability.Tracing.SampleRate,
			}); err != nil {
				return fmt.Errorf("init tracing: %w", err)
			}
			defer observability.Shutdown(ctx)

			var m *metrics.Metrics
			if cfg.Observability.Metrics.Enabled {
				m = metrics.Init(cfg.Observability.Metrics.Namespace)
			}

			o, closeFn, err := buildOrchestrator(ctx, cfg, m, local)
			if err != nil {
				return err
			}
			defer closeFn()

			job := domain.Job{
				ID:          jobID,
				UserID:      userID,
				ImageKey:    imageKey,
				InputKey:    inputKey,
				Assumptions: assumptions,
				CycleLimit:  cycleLimit,
				Compress:    compression,
				Preflight:   preflight,
			}

			result, err := o.Run(ctx, job)
			if err != nil {
				return fmt.Errorf("run job %s: %w", jobID, err)
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		},
	}

	cmd.Flags().StringVar(&jobID, "job-id", "", "job identifier (required)")
	cmd.Flags().StringVar(&userID, "user-id", "", "submitting user id")
	cmd.Flags().StringVar(&imageKey, "image-key", "", "blob key of the guest program, equal to its content hash (required)")
	cmd.Flags().StringVar(&inputKey, "input-key", "", "blob key of the guest input (required)")
	cmd.Flags().StringArrayVar(&assumptions, "assumption", nil, "assumption receipt id (repeatable)")
	cmd.Flags().Uint64Var(&cycleLimit, "cycle-limit", 0, "per-job cycle limit in units of 2^20 cycles (0 = use global default)")
	cmd.Flags().StringVar(&compress, "compress", string(domain.CompressionSuccinct), "final compression level (none, compact, succinct)")
	cmd.Flags().BoolVar(&preflight, "preflight", false, "execute only: extract the journal and skip all proving tasks")
	cmd.Flags().BoolVar(&local, "local", false, "use in-memory cache/blob store/task DB/run store instead of Redis/S3/Postgres")
	cmd.MarkFlagRequired("job-id")
	cmd.MarkFlagRequired("image-key")
	cmd.MarkFlagRequired("input-key")

	return cmd
}

func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	if configFile != "" {
		var err error
		cfg, err = config.LoadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
	} else {
		cfg = config.DefaultConfig()
	}
	config.LoadFromEnv(cfg)
	return cfg, nil
}

// buildOrchestrator wires the Orchestrator's dependencies from cfg. In
// --local mode every backing store is in-memory, for running a job
// against a dev guest runner without Redis/S3/Postgres.
func buildOrchestrator(ctx context.Context, cfg *config.Config, m *metrics.Metrics, local bool) (*epp.Orchestrator, func(), error) {
	var (
		c       cache.Cache
		blobs   blobstore.Client
		tdb     taskdb.TaskDB
		runs    runstore.Store
		closers []func()
	)

	if local {
		c = cache.NewInMemoryCache()
		blobs = blobstore.NewMemoryClient()
		tdb = taskdb.NewMemoryTaskDB()
		runs = runstore.NewMemoryStore()
	} else {
		c = cache.NewRedisCache(cache.RedisCacheConfig{
			Addr:     cfg.Cache.Addr,
			Password: cfg.Cache.Password,
			DB:       cfg.Cache.DB,
		})

		s3, err := blobstore.NewS3Client(ctx, blobstore.S3Config{
			Bucket:         cfg.BlobStore.Bucket,
			Region:         cfg.BlobStore.Region,
			Endpoint:       cfg.BlobStore.Endpoint,
			ForcePathStyle: cfg.BlobStore.ForcePathStyle,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("build blob store: %w", err)
		}
		blobs = s3

		pgTaskDB, err := taskdb.NewPostgresTaskDB(ctx, cfg.Postgres.DSN, cfg.Postgres.MaxConns)
		if err != nil {
			return nil, nil, fmt.Errorf("connect task db: %w", err)
		}
		tdb = pgTaskDB
		closers = append(closers, func() { pgTaskDB.Close() })

		pgRunStore, err := runstore.NewPostgresStore(ctx, cfg.Postgres.DSN, cfg.Postgres.MaxConns)
		if err != nil {
			return nil, nil, fmt.Errorf("connect run store: %w", err)
		}
		runs = pgRunStore
		closers = append(closers, func() { pgRunStore.Close() })
	}

	o := &epp.Orchestrator{
		Cache:              c,
		Blobs:              blobs,
		TaskDB:             tdb,
		Executor:           executor.NewUDSExecutor(cfg.Executor.SocketPath),
		RunStore:           runs,
		Streams:            domain.StreamPolicy{ExplicitStreams: cfg.Planner.ExplicitStreams},
		Metrics:            m,
		GlobalCycleLimit:   cfg.Executor.GlobalCycleLimit,
		DefaultPo2:         cfg.Executor.DefaultPo2,
		SegmentQueueSize:   cfg.Executor.SegmentQueueSize,
		KeccakQueueSize:    cfg.Executor.KeccakQueueSize,
		IndexQueueSize:     cfg.Planner.IndexQueueSize,
		SegmentTTL:         int64(cfg.Cache.SegmentTTL / time.Second),
		DefaultTTL:         int64(cfg.Cache.DefaultTTL / time.Second),
		DefaultRetries:     cfg.Planner.DefaultRetries,
		DefaultTimeout:     cfg.Executor.StartupTimeout,
		BaseResolveTimeout: cfg.Planner.BaseResolveTimeout,
	}

	closeFn := func() {
		for _, fn := range closers {
			fn()
		}
	}
	return o, closeFn, nil
}
