package app

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ssukumar/GlobalInvigoration/internal/config"
	"github.com/ssukumar/GlobalInvigoration/internal/hub"
	servernet "github.com/ssukumar/GlobalInvigoration/internal/net"
	"github.com/ssukumar/GlobalInvigoration/internal/observability"
	"github.com/ssukumar/GlobalInvigoration/internal/persist"
	"github.com/ssukumar/GlobalInvigoration/internal/store"
	"github.com/ssukumar/GlobalInvigoration/internal/telemetry"
	"github.com/ssukumar/GlobalInvigoration/logging"
	loggingSinks "github.com/ssukumar/GlobalInvigoration/logging/sinks"
)

// Run serves the experiment until ctx is cancelled, then shuts down in
// order: stop accepting connections, abort live sessions, drain pending
// writes, close the store and flush the event stream.
func Run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	metrics := &logging.Metrics{}
	router, err := NewRouter(cfg.Logging, metrics, logger)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
		defer cancel()
		if cerr := router.Close(closeCtx); cerr != nil {
			logger.Warn("failed to close logging router", zap.Error(cerr))
		}
	}()

	st, err := OpenStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := st.Close(); cerr != nil {
			logger.Warn("failed to close store", zap.Error(cerr))
		}
	}()

	writer := persist.NewWriter(st, persist.Config{
		QueueSize:    cfg.Persist.QueueSize,
		WriteTimeout: cfg.WriteTimeout(),
	}, logger, router, telemetry.WrapMetrics(metrics))
	defer func() {
		drainCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
		defer cancel()
		if cerr := writer.Close(drainCtx); cerr != nil {
			logger.Warn("pending writes lost on shutdown", zap.Int("pending", writer.Pending()), zap.Error(cerr))
		}
	}()

	h, err := hub.New(hub.Config{
		Experiment:    cfg.Experiment,
		Gateway:       writer,
		Logger:        logger,
		Publisher:     router,
		Metrics:       telemetry.WrapMetrics(metrics),
		AbandonAfter:  cfg.AbandonAfter(),
		SweepInterval: cfg.SweepInterval(),
		InboxSize:     cfg.Hub.InboxSize,
	})
	if err != nil {
		return goerr.Wrap(err, "failed to construct hub")
	}
	defer h.Close()

	handler := servernet.NewHTTPHandler(h, servernet.HTTPHandlerConfig{
		Logger:        logger,
		Metrics:       metrics,
		Router:        router,
		Observability: observability.Config{EnablePprof: cfg.Observability.EnablePprof},
	})
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return goerr.Wrap(err, "server failed", goerr.V("addr", srv.Addr))
		}
		return nil
	})
	g.Go(func() error {
		return h.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
		defer cancel()
		logger.Info("shutting down")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return goerr.Wrap(err, "graceful shutdown failed")
		}
		return nil
	})
	return g.Wait()
}

// OpenStore creates and initializes the configured store.
func OpenStore(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	st, err := store.NewStore(cfg.Kind, cfg.Path)
	if err != nil {
		return nil, err
	}
	if err := st.Init(ctx); err != nil {
		return nil, goerr.Wrap(err, "failed to initialize store", goerr.V("kind", cfg.Kind), goerr.V("path", cfg.Path))
	}
	return st, nil
}

// NewRouter builds the experiment event router and its sinks.
func NewRouter(cfg config.LoggingConfig, metrics *logging.Metrics, logger *zap.Logger) (*logging.Router, error) {
	logConfig := logging.DefaultConfig()
	if len(cfg.Sinks) > 0 {
		logConfig.EnabledSinks = cfg.Sinks
	}
	if cfg.BufferSize > 0 {
		logConfig.BufferSize = cfg.BufferSize
	}
	if cfg.MinimumSeverity != "" {
		if severity, ok := logging.ParseSeverity(cfg.MinimumSeverity); ok {
			logConfig.MinimumSeverity = severity
		} else {
			logger.Warn("invalid logging.minimum_severity", zap.String("value", cfg.MinimumSeverity))
		}
	}
	logConfig.JSON.FilePath = cfg.JSONPath
	logConfig.Fields = map[string]any{"service": "invigoration"}

	var sinks []logging.NamedSink
	if logConfig.HasSink("zap") {
		sinks = append(sinks, logging.NamedSink{Name: "zap", Sink: loggingSinks.NewZap(logger)})
	}
	if logConfig.HasSink("json") {
		if logConfig.JSON.FilePath == "" {
			return nil, goerr.New("json sink enabled without logging.json_path")
		}
		f, err := os.OpenFile(logConfig.JSON.FilePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to open event log", goerr.V("path", logConfig.JSON.FilePath))
		}
		sinks = append(sinks, logging.NamedSink{Name: "json", Sink: loggingSinks.NewJSON(f, logConfig.JSON.FlushInterval)})
	}
	for _, name := range logConfig.EnabledSinks {
		if name != "zap" && name != "json" {
			logger.Warn("unknown event sink ignored", zap.String("sink", name))
		}
	}
	return logging.NewRouter(logging.SystemClock, logConfig, metrics, logger, sinks), nil
}
