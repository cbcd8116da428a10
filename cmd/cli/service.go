package cli

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/anstrom/vulnscan/internal/api"
	"github.com/anstrom/vulnscan/internal/api/handlers"
	"github.com/anstrom/vulnscan/internal/config"
	"github.com/anstrom/vulnscan/internal/jobs"
	"github.com/anstrom/vulnscan/internal/logging"
	"github.com/anstrom/vulnscan/internal/metrics"
	"github.com/anstrom/vulnscan/internal/notify"
	"github.com/anstrom/vulnscan/internal/scanning"
	"github.com/anstrom/vulnscan/internal/scheduler"
	"github.com/anstrom/vulnscan/internal/store"
)

const databaseTimeout = 10 * time.Second

// service is the wired set of components behind the server command.
type service struct {
	cfg       *config.Config
	logger    *logging.Logger
	store     store.Store
	metrics   *metrics.Metrics
	hub       *notify.Hub
	jobs      *jobs.Orchestrator
	scheduler *scheduler.Scheduler
	api       *api.Server
}

// newService builds every component from cfg. scanner may be nil, in which
// case nmap is used.
func newService(ctx context.Context, cfg *config.Config, scanner scanning.Scanner, logger *logging.Logger) (*service, error) {
	if logger == nil {
		logger = logging.Default()
	}

	st, pinger, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	s := &service{cfg: cfg, logger: logger, store: st, metrics: metrics.New()}

	s.hub = notify.NewHub(
		notify.WithQueueSize(cfg.Notify.QueueSize),
		notify.WithLogger(logger),
		notify.WithMetrics(s.metrics),
	)

	if scanner == nil {
		scanner = scanning.NewNmapScanner(cfg.Scanning.ScannerOptions(), logger)
	}
	s.jobs = jobs.New(st, scanner, s.hub, cfg.JobConfig(),
		jobs.WithLogger(logger),
		jobs.WithMetrics(s.metrics),
	)

	if cfg.Retention.Enabled {
		s.scheduler = scheduler.NewScheduler(logger)
		task := scheduler.RetentionTask(st, cfg.Retention.MaxAge, logger)
		if err := s.scheduler.AddJob(scheduler.RetentionJobName, cfg.Retention.Schedule, task); err != nil {
			s.close(ctx)
			return nil, fmt.Errorf("failed to schedule retention: %w", err)
		}
	}

	s.api, err = api.New(cfg, api.Dependencies{
		Jobs:     s.jobs,
		Hub:      s.hub,
		Database: pinger,
		Metrics:  s.metrics,
		Logger:   logger,
	})
	if err != nil {
		s.close(ctx)
		return nil, fmt.Errorf("failed to create API server: %w", err)
	}
	return s, nil
}

// openStore returns the configured job store. The pinger is nil for the
// in-memory store.
func openStore(ctx context.Context, cfg *config.Config, logger *logging.Logger) (store.Store, handlers.DatabasePinger, error) {
	if cfg.Database.Driver != config.DriverPostgres {
		logger.Info("Using in-memory job store")
		return store.NewMemory(), nil, nil
	}

	connectCtx, cancel := context.WithTimeout(ctx, databaseTimeout)
	defer cancel()

	logger.Info("Connecting to database...", "host", cfg.Database.Host, "database", cfg.Database.Database)
	db, err := store.Connect(connectCtx, &cfg.Database.Config)
	if err != nil {
		return nil, nil, fmt.Errorf("database connection failed: %w", err)
	}

	if cfg.Database.AutoMigrate {
		applied, err := store.NewMigrator(db).Up(connectCtx)
		if err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("database migration failed: %w", err)
		}
		if len(applied) > 0 {
			logger.Info("Applied database migrations", "migrations", applied)
		}
	}

	pg := store.NewPostgres(db)
	return pg, pg, nil
}

// run serves until ctx is canceled or a component fails, then shuts every
// component down. The API server and the scheduler share one errgroup, so
// either failing stops the other.
func (s *service) run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.api.Start(gctx)
	})
	if s.scheduler != nil {
		g.Go(func() error {
			if err := s.scheduler.Start(); err != nil {
				return fmt.Errorf("failed to start scheduler: %w", err)
			}
			<-gctx.Done()
			s.scheduler.Stop()
			return nil
		})
	}
	err := g.Wait()

	s.close(context.Background())
	return err
}

// close stops components in dependency order: the API first so no new
// work arrives, then running jobs, then their subscribers.
func (s *service) close(ctx context.Context) {
	if s.jobs != nil {
		if err := s.jobs.Close(ctx); err != nil {
			s.logger.Warn("Scan orchestrator did not stop cleanly", "error", err)
		}
	}
	if s.hub != nil {
		s.hub.Close()
	}
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
	if err := s.store.Close(); err != nil {
		s.logger.Error("Failed to close job store", "error", err)
	}
}
