// Package server runs the collector as a long-lived HTTP service: the run
// API in front of a queue drained by a worker pool.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/polmsg-collector/internal/api"
	"github.com/JakeFAU/polmsg-collector/internal/app"
	"github.com/JakeFAU/polmsg-collector/internal/dispatcher"
	queueMemory "github.com/JakeFAU/polmsg-collector/internal/queue/memory"
	"github.com/JakeFAU/polmsg-collector/internal/worker"
)

// Service contains the HTTP-facing dependencies built on top of an App.
type Service struct {
	app       *app.App
	logger    *zap.Logger
	queue     *queueMemory.Queue
	dispatch  *dispatcher.Dispatcher
	apiServer *api.Server
}

// New wires the queue, worker pool and API server for a.
func New(a *app.App, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := a.Config()

	queue := queueMemory.NewQueue(cfg.Scrape.QueueDepth)
	registry := worker.NewRegistry()
	workers := make([]*worker.Worker, 0, cfg.Scrape.Workers)
	for i := 0; i < cfg.Scrape.Workers; i++ {
		workers = append(workers, worker.New(i, queue, a.Coordinator(), a.Runs(), registry, logger.Named("worker")))
	}
	dispatch := dispatcher.New(queue, workers, registry)

	var opts []api.Option
	for name, check := range a.ReadyChecks() {
		opts = append(opts, api.WithReadyCheck(name, api.ReadyCheck(check)))
	}
	apiServer := api.NewServer(a.Runs(), dispatch, a.IDs(), a.Clock(), cfg.Auth, logger.Named("api"), opts...)

	logger.Info("service wired",
		zap.Int("workers", cfg.Scrape.Workers),
		zap.Int("queue_depth", cfg.Scrape.QueueDepth),
	)
	return &Service{
		app:       a,
		logger:    logger,
		queue:     queue,
		dispatch:  dispatch,
		apiServer: apiServer,
	}
}

// Handler exposes the API router.
func (s *Service) Handler() http.Handler {
	return s.apiServer.Handler()
}

// Run serves until ctx is canceled or SIGINT/SIGTERM arrives, then shuts
// down the listener and the worker pool.
func (s *Service) Run(ctx context.Context) error {
	cfg := s.app.Config()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.Port))
	if err != nil {
		return fmt.Errorf("listen on port %d: %w", cfg.Server.Port, err)
	}

	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		s.logger.Info("dispatcher started")
		s.dispatch.Run(ctx)
	}()

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: time.Duration(cfg.Server.ReadHeaderTimeoutSeconds) * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		s.logger.Info("http server started", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", zap.Error(err))
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	s.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeoutSeconds)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("server shutdown error", zap.Error(err))
	}
	s.queue.Close()

	select {
	case <-dispatchDone:
	case <-shutdownCtx.Done():
		s.logger.Warn("workers did not stop before the shutdown deadline")
	}
	s.logger.Info("shutdown complete")

	select {
	case err := <-serveErr:
		return fmt.Errorf("serve http: %w", err)
	default:
		return nil
	}
}
