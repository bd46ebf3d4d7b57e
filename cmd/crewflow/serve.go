package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/randalmurphal/crewflow/internal/server"
)

func serveCmd(g *globalFlags) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, logger, err := g.load(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			if addr != "" {
				s.Server.Addr = addr
			}

			ctx := cmd.Context()
			a, err := newApp(ctx, s, logger, nil)
			if err != nil {
				return err
			}
			defer func() {
				closeCtx, cancel := context.WithTimeout(context.Background(), s.Server.ShutdownTimeout)
				defer cancel()
				if err := a.Close(closeCtx); err != nil {
					logger.Error("shutdown", slog.String("error", err.Error()))
				}
			}()
			return serve(ctx, a)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address override")
	return cmd
}

// serve runs the HTTP server until ctx ends, then drains it.
func serve(ctx context.Context, a *app) error {
	svc, err := a.openServices(ctx)
	if err != nil {
		return err
	}

	srv := server.New(server.Deps{
		Director:    a.director,
		Approvals:   svc.approvals,
		Research:    a.research,
		Background:  svc.tracker,
		Notifier:    svc.notifier,
		Sinks:       svc.sinks,
		Metrics:     server.NewMetrics(appName),
		Logger:      a.logger,
		CORSOrigins: a.settings.Server.CORSOrigins,
	})
	httpServer := &http.Server{
		Addr:              a.settings.Server.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("http server listening", slog.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutting down http server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.settings.Server.ShutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
