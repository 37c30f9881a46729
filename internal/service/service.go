package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	gocron "github.com/go-co-op/gocron/v2"
	"golang.org/x/sync/errgroup"

	"github.com/CZERTAINLY/jobber/internal/executor"
	"github.com/CZERTAINLY/jobber/internal/manager"
	"github.com/CZERTAINLY/jobber/internal/metrics"
	"github.com/CZERTAINLY/jobber/internal/model"
	"github.com/CZERTAINLY/jobber/internal/notify"
	"github.com/CZERTAINLY/jobber/internal/specs"
	"github.com/CZERTAINLY/jobber/internal/store"
)

const shutdownTimeout = 5 * time.Second

type Service struct {
	store     *store.FileSystem
	specs     *specs.FileSystem
	manager   *manager.Manager
	metrics   *metrics.Metrics
	webhook   *notify.Webhook
	scheduler gocron.Scheduler
	addr      string
}

func New(ctx context.Context, cfg model.Config) (*Service, error) {
	if cfg.Version != 0 {
		return nil, fmt.Errorf("config version %d is not supported, expected 0", cfg.Version)
	}

	st, err := store.New(store.Config{
		Dir:        cfg.Jobs.Dir,
		IDLength:   cfg.Jobs.IDLength,
		IDAttempts: cfg.Jobs.IDAttempts,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing job store: %w", err)
	}
	sp, err := specs.New(cfg.Specs.Dir)
	if err != nil {
		return nil, fmt.Errorf("initializing job specs: %w", err)
	}
	execCfg, err := executor.ConfigFromModel(cfg)
	if err != nil {
		return nil, err
	}
	ex, err := executor.New(execCfg)
	if err != nil {
		return nil, fmt.Errorf("initializing executor: %w", err)
	}
	mgr, err := manager.New(manager.Config{MaxConcurrentJobs: cfg.Execution.MaxConcurrentJobs}, st, ex)
	if err != nil {
		return nil, fmt.Errorf("initializing job manager: %w", err)
	}

	s := &Service{
		store:   st,
		specs:   sp,
		manager: mgr,
		metrics: metrics.New(mgr.Stats),
		addr:    get(cfg.Service.MetricsAddr),
	}

	if url := get(cfg.Service.NotifyURL); url != "" {
		s.webhook, err = notify.NewWebhook(url)
		if err != nil {
			return nil, fmt.Errorf("parsing service.notify_url: %w", err)
		}
	}

	if len(cfg.Service.Schedules) > 0 {
		s.scheduler, err = newScheduler(ctx, cfg.Service.Schedules, s.submitScheduled)
		if err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Service) Store() *store.FileSystem {
	return s.store
}

func (s *Service) Manager() *manager.Manager {
	return s.manager
}

// Request is a job submission against a spec stored in the specs directory.
type Request struct {
	Spec     string
	Owner    string
	Name     string
	Inputs   map[string]any
	Metadata map[string]string
}

// Submit loads the spec of req and queues the job.
func (s *Service) Submit(ctx context.Context, req Request, listeners model.Listeners) (model.JobID, *manager.Future, error) {
	spec, err := s.specs.Get(req.Spec)
	if err != nil {
		return "", nil, err
	}
	name := req.Name
	if name == "" {
		name = spec.Name
	}
	return s.manager.Submit(ctx, model.ValidJobRequest{
		Owner:    req.Owner,
		Name:     name,
		Inputs:   req.Inputs,
		Spec:     spec,
		Metadata: req.Metadata,
	}, listeners)
}

func (s *Service) submitScheduled(ctx context.Context, sch model.Schedule) {
	id, _, err := s.Submit(ctx, Request{
		Spec:     sch.Spec,
		Owner:    sch.Owner,
		Name:     sch.Name,
		Inputs:   sch.Inputs,
		Metadata: map[string]string{"schedule": sch.Name},
	}, model.Listeners{})
	if err != nil {
		slog.ErrorContext(ctx, "scheduled submit failed", "schedule", sch.Name, "error", err)
		return
	}
	slog.InfoContext(ctx, "scheduled job submitted", "schedule", sch.Name, "job_id", id.String())
}

// Do runs the service until ctx is done.
func (s *Service) Do(ctx context.Context) error {
	slog.DebugContext(ctx, "starting a service")
	g, gctx := errgroup.WithContext(ctx)

	// subscribers drain until the manager closes the events on shutdown
	drainCtx := context.WithoutCancel(ctx)
	events, cancelEvents := s.manager.AllStatusChanges()
	defer cancelEvents()
	g.Go(func() error {
		s.metrics.Run(drainCtx, events)
		return nil
	})
	if s.webhook != nil {
		notifications, cancel := s.manager.AllStatusChanges()
		defer cancel()
		g.Go(func() error {
			s.webhook.Run(drainCtx, notifications, s.store.GetJobDetails)
			return nil
		})
	}

	g.Go(func() error {
		return s.manager.Do(gctx)
	})

	if s.addr != "" {
		srv := &http.Server{
			Addr:              s.addr,
			Handler:           s.metricsMux(),
			ReadHeaderTimeout: 10 * time.Second,
			BaseContext:       func(net.Listener) context.Context { return gctx },
		}
		g.Go(func() error {
			slog.InfoContext(gctx, "serving metrics", "addr", s.addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics endpoint: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}

	if s.scheduler != nil {
		s.scheduler.Start()
		defer func() {
			err := s.scheduler.Shutdown()
			if err != nil {
				slog.ErrorContext(ctx, "shutting down gocron has failed", "error", err)
			}
		}()
	}

	return g.Wait()
}

func (s *Service) metricsMux() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", s.metrics.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	return mux
}

func get[T any](pt *T) T {
	var zero T
	if pt == nil {
		return zero
	}
	return *pt
}
