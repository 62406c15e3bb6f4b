package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"meetsum/internal/api"
	"meetsum/internal/audit"
	"meetsum/internal/config"
	"meetsum/internal/redis"
	"meetsum/internal/storage"
	"meetsum/internal/upload"
	"meetsum/internal/workflow"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand(rt *runtime) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := rt.load(cmd)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.BasicConfig.ServerAddress = addr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return rt.serve(ctx, cfg, logger)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address, overrides basic_config.server_address")
	return cmd
}

// server is everything serve wires together, kept separate from the listener
// so it can be exercised without a socket.
type server struct {
	handler http.Handler
	manager *workflow.Manager
	relay   *upload.Relay
	closers []func() error
}

func (s *server) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (rt *runtime) buildServer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*server, error) {
	srv := &server{}
	fail := func(err error) (*server, error) {
		srv.Close()
		return nil, err
	}

	relay, err := rt.relay(cfg, logger)
	if err != nil {
		return fail(err)
	}
	srv.relay = relay
	stt, err := rt.transcriber(cfg, logger)
	if err != nil {
		return fail(fmt.Errorf("init transcriber: %w", err))
	}
	llm, err := rt.summarizer(ctx, cfg, logger)
	if err != nil {
		return fail(fmt.Errorf("init summarizer: %w", err))
	}

	var locker workflow.Locker
	if cfg.Redis.Enabled() {
		rdb, err := redis.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			return fail(fmt.Errorf("create redis client: %w", err))
		}
		srv.closers = append(srv.closers, rdb.Close)
		locker = workflow.NewRedisLocker(rdb, logger)
	}

	// a nil recorder keeps no job log
	var recorder *audit.Recorder
	if driver := cfg.Audit.Driver; driver != "" {
		db, err := storage.Open(driver, cfg)
		if err != nil {
			return fail(fmt.Errorf("open database: %w", err))
		}
		srv.closers = append(srv.closers, db.Close)
		if err := storage.Migrate(db, driver); err != nil {
			return fail(fmt.Errorf("migrate database: %w", err))
		}
		if recorder, err = audit.NewRecorder(db, logger); err != nil {
			return fail(err)
		}
	}

	manager, err := workflow.NewManager(workflow.Config{
		Transcriber: stt,
		Summarizer:  llm,
		Locker:      locker,
		Recorder:    recorder,
		CallTimeout: time.Duration(cfg.BasicConfig.RequestTimeoutSeconds) * time.Second,
		SessionTTL:  time.Duration(cfg.BasicConfig.SessionTTLMinutes) * time.Minute,
		Logger:      logger,
	})
	if err != nil {
		return fail(err)
	}
	srv.manager = manager

	gin.SetMode(gin.ReleaseMode)
	handler := api.NewHandler(manager, relay, recorder, api.Options{
		AllowedOrigins:         cfg.BasicConfig.AllowedOrigins,
		SummarizeRatePerMinute: cfg.BasicConfig.SummarizeRatePerMinute,
		Logger:                 logger,
	})
	srv.handler = handler.Router()
	logger.Info("server components ready",
		"transcriber", stt.Name(),
		"summarizer", llm.Name(),
		"redis_lock", locker != nil,
		"audit", recorder.Enabled(),
	)
	return srv, nil
}

func (rt *runtime) serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	srv, err := rt.buildServer(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer srv.Close()

	interval := time.Duration(cfg.BasicConfig.JanitorIntervalMinutes) * time.Minute
	srv.relay.StartJanitor(ctx, interval, upload.DefaultStaleAfter)
	srv.manager.StartJanitor(ctx, interval)

	httpServer := &http.Server{
		Addr:              cfg.BasicConfig.ServerAddress,
		Handler:           srv.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", httpServer.Addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server stopped: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
