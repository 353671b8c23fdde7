package main

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	cronrunner "ephyspipe/internal/cron"
	"ephyspipe/internal/handler"
)

func serveCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the read API and run scheduled ingest and populate passes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.serve(cmd.Context())
		},
	}
}

func (a *app) serve(baseCtx context.Context) error {
	if strings.EqualFold(a.cfg.App.Env, "dev") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := handler.NewRouter(handler.RouterOptions{
		Repo:    a.store,
		Psth:    a.psthService(),
		Metrics: a.metrics,
		Logger:  a.log,
		JWT:     handler.JWT{Secret: []byte(a.cfg.Auth.JWTSecret)},
	})

	var runner *cronrunner.Runner
	if a.cfg.Cron.Enabled {
		runner = cronrunner.New(a.log, baseCtx)
		if _, err := runner.Add("ingest", a.cfg.Cron.Ingest, func(ctx context.Context) {
			if err := a.runIngest(ctx, "all"); err != nil && !errors.Is(err, context.Canceled) {
				a.log.Warn("scheduled ingest failed", zap.Error(err))
			}
		}); err != nil {
			return err
		}
		if _, err := runner.Add("populate", a.cfg.Cron.Populate, func(ctx context.Context) {
			if err := a.runPopulate(ctx, "all", 0); err != nil && !errors.Is(err, context.Canceled) {
				a.log.Warn("scheduled populate failed", zap.Error(err))
			}
		}); err != nil {
			return err
		}
		runner.Start()
	}

	srv := &http.Server{
		Addr:              a.cfg.Server.HTTPAddr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		a.log.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-baseCtx.Done():
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Warn("http shutdown failed", zap.Error(err))
	}
	if runner != nil {
		runner.Stop()
	}
	return serveErr
}
