package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/cobra"

	"github.com/pavelanni/answergrader/internal/handler"
	appI18n "github.com/pavelanni/answergrader/internal/i18n"
	"github.com/pavelanni/answergrader/internal/metrics"
	"github.com/pavelanni/answergrader/internal/model"
	"github.com/pavelanni/answergrader/internal/tracing"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the JSON exam API",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.StringSliceP("questions", "q", nil, "Paths to questions JSON files to import on start (repeatable)")
	f.StringSlice("cors-origins", nil, "Allowed CORS origins (empty disables CORS)")
	f.String("jaeger-endpoint", "", "Jaeger collector endpoint, e.g. http://localhost:14268/api/traces")
	addStoreFlags(f)
	addLogFlags(f)
	addScoringFlags(f)
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if endpoint := v.GetString("jaeger-endpoint"); endpoint != "" {
		tp, err := tracing.InitTracer("answergrader", endpoint)
		if err != nil {
			return fmt.Errorf("init tracing: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tracing.Shutdown(shutdownCtx, tp); err != nil {
				slog.Warn("tracer shutdown", "error", err)
			}
		}()
		slog.Info("tracing enabled", "endpoint", endpoint)
	}

	db, err := openStore(ctx, v)
	if err != nil {
		return err
	}
	defer db.Close()

	if _, err := loadQuestions(ctx, db, v.GetStringSlice("questions")); err != nil {
		return fmt.Errorf("load questions: %w", err)
	}

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	m := metrics.NewManager()
	g, err := newGrader(ctx, v, db, m)
	if err != nil {
		return err
	}
	defer g.Close()

	cfg := g.svc.Config()
	if err := g.embedder.Ping(ctx); err != nil {
		if cfg.EmbeddingPolicy == model.PolicyStrict {
			return fmt.Errorf("embedding health check: %w", err)
		}
		slog.Warn("embedding endpoint unreachable, answers will be graded syntactic-only", "error", err)
	} else {
		slog.Info("embedding endpoint OK", "url", v.GetString("embedding-url"), "model", v.GetString("embedding-model"))
	}

	if err := db.SetExportConfig(ctx, model.ExportConfig{
		SyntacticWeight: cfg.SyntacticWeight,
		SemanticWeight:  cfg.SemanticWeight,
		PassThreshold:   cfg.PassThreshold,
		EmbeddingPolicy: cfg.EmbeddingPolicy,
	}); err != nil {
		return fmt.Errorf("record scoring configuration: %w", err)
	}

	h := handler.New(g.svc, map[string]handler.Pinger{
		"database":  db,
		"embedding": g.embedder,
	})

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	if origins := v.GetStringSlice("cors-origins"); len(origins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: origins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Accept-Language", "Content-Type", handler.StudentHeader},
			MaxAge:         300,
		}))
	}
	r.Use(appI18n.Middleware(lang))
	h.Routes(r)
	r.Method(http.MethodGet, "/metrics", m.Handler())

	addr := v.GetString("addr")
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting server",
			"addr", addr,
			"db_driver", v.GetString("db-driver"),
			"embedding_provider", v.GetString("embedding-provider"),
			"embedding_model", v.GetString("embedding-model"),
			"lang", lang,
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
