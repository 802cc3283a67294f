package main

import (
	stdcontext "context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

func newServeCmd(state *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the confirmation API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := state.cfg
			gin.SetMode(gin.ReleaseMode)

			shutdownTracing, err := setupTracing(cfg.Tracing.Stdout)
			if err != nil {
				return err
			}
			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			srv := &http.Server{Addr: cfg.Server.Addr, Handler: a.handler}
			err = runHTTP(ctx, srv, cfg.Server.ShutdownTimeout)

			tctx, cancel := stdcontext.WithTimeout(stdcontext.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			if terr := shutdownTracing(tctx); terr != nil {
				slog.Warn("[Server] Tracer shutdown failed", "error", terr)
			}
			return err
		},
	}
}

// runHTTP serves until ctx is done, then drains in-flight requests.
func runHTTP(ctx stdcontext.Context, srv *http.Server, drain time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("[Server] Listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("[Server] Shutting down", "drain", drain)
	sctx, cancel := stdcontext.WithTimeout(stdcontext.Background(), drain)
	defer cancel()
	return srv.Shutdown(sctx)
}
