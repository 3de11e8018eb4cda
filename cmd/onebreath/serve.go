package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var noMonitor bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and run the lifecycle monitor",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			if noMonitor {
				cfg.Monitor.Enabled = false
			}
			ctx := cmd.Context()
			a, err := newApp(ctx, cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() {
				closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
				defer cancel()
				if err := a.Close(closeCtx); err != nil {
					a.logger.Warn("close resources", zap.Error(err))
				}
			}()
			ln, err := net.Listen("tcp", cfg.Server.Addr)
			if err != nil {
				return fmt.Errorf("listen %s: %w", cfg.Server.Addr, err)
			}
			return a.serve(ctx, ln)
		},
	}
	cmd.Flags().BoolVar(&noMonitor, "no-monitor", false, "do not run the background lifecycle sweep")
	return cmd
}

// serve runs the HTTP server and the monitor until ctx is cancelled or
// either fails, then shuts both down within the configured timeout.
func (a *app) serve(ctx context.Context, ln net.Listener) error {
	handler, err := a.server(ctx)
	if err != nil {
		_ = ln.Close()
		return err
	}
	g, gctx := errgroup.WithContext(ctx)
	srv := &http.Server{
		Handler:      handler,
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
		BaseContext:  func(net.Listener) context.Context { return gctx },
		ErrorLog:     zap.NewStdLog(a.logger.Named("http")),
	}

	g.Go(func() error {
		a.logger.Info("http server listening", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if a.cfg.Monitor.Enabled {
		g.Go(func() error {
			a.monitor.Start()
			<-gctx.Done()
			stopCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
			defer cancel()
			return a.monitor.Stop(stopCtx)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	})
	return g.Wait()
}

func writeSyncer(w io.Writer) zapcore.WriteSyncer {
	if w == nil {
		return nil
	}
	return zapcore.Lock(zapcore.AddSync(w))
}
