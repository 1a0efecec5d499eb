package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/salewatch/internal/model"
	"github.com/sells-group/salewatch/internal/pipeline"
	"github.com/sells-group/salewatch/internal/scheduler"
)

const livenessText = "salewatch scheduler is running."

var (
	servePort     int
	serveSchedule string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the pipeline on a schedule and serve a status endpoint",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if serveSchedule != "" {
			cfg.Schedule.Cron = serveSchedule
		}
		cfg.Server.Port = resolvePort(servePort, cfg.Server.Port)
		cfg.Notify.Enabled = true
		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		p, closeFn, err := pipeline.Build(ctx, cfg)
		if err != nil {
			return eris.Wrap(err, "build pipeline")
		}
		defer closeFn() //nolint:errcheck

		opts := pipeline.OptionsFromConfig(cfg)
		sched, err := scheduler.New(cfg.Schedule.Cron, cfg.Schedule.Timezone, func(ctx context.Context) (*model.RunResult, error) {
			return p.Run(ctx, opts)
		})
		if err != nil {
			return err
		}

		zap.L().Info("starting scheduler",
			zap.String("schedule", cfg.Schedule.Cron),
			zap.String("timezone", cfg.Schedule.Timezone),
			zap.Int("port", cfg.Server.Port),
		)

		sched.Start(ctx)

		g, gctx := errgroup.WithContext(ctx)
		if cfg.Schedule.RunOnStart {
			g.Go(func() error {
				sched.Trigger(gctx)
				return nil
			})
		}
		g.Go(func() error {
			return startServer(gctx, buildRouter(sched), cfg.Server.Port)
		})
		g.Go(func() error {
			<-gctx.Done()
			stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			sched.Stop(stopCtx)
			return nil
		})
		return g.Wait()
	},
}

// statusSource reports scheduler state for the health endpoint.
type statusSource interface {
	Status() scheduler.Status
}

// resolvePort returns the flag value when set, otherwise the configured port.
func resolvePort(flagPort, cfgPort int) int {
	if flagPort != 0 {
		return flagPort
	}
	return cfgPort
}

// buildRouter returns the status routes. src may be nil.
func buildRouter(src statusSource) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		MaxAge:         300,
	}))

	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprint(w, livenessText) //nolint:errcheck
	})

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		body := struct {
			Status    string            `json:"status"`
			Scheduler *scheduler.Status `json:"scheduler,omitempty"`
		}{Status: "ok"}
		if src != nil {
			st := src.Status()
			body.Scheduler = &st
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(body) //nolint:errcheck
	})

	return r
}

// startServer serves handler on port until ctx is cancelled, then shuts
// down gracefully.
func startServer(ctx context.Context, handler http.Handler, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		zap.L().Info("server listening", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return eris.Wrap(err, "serve: listen")
		}
		return nil
	case <-ctx.Done():
	}

	zap.L().Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return eris.Wrap(err, "serve: shutdown")
	}
	return nil
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config, 8000)")
	serveCmd.Flags().StringVar(&serveSchedule, "schedule", "", "cron spec (default from config, \"0 8 * * *\")")
	rootCmd.AddCommand(serveCmd)
}
