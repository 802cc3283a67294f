package main

import (
	"net/http"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/yourorg/payment-reconciler/internal/backend"
)

// newBackendHandler mounts the reference order/wallet backend.
func newBackendHandler(svc *backend.Service) http.Handler {
	r := gin.New()
	r.Use(gin.Recovery(), otelgin.Middleware("reference-backend"))
	svc.RegisterRoutes(r)
	return r
}

func newBackendCmd(state *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "backend",
		Short: "Run the reference order and wallet backend",
		Long:  "Serves the commit endpoints and a sandbox bank verification endpoint backed by SQLite.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := state.cfg
			gin.SetMode(gin.ReleaseMode)

			svc, err := backend.Open(cfg.Backend.DSN)
			if err != nil {
				return err
			}
			defer svc.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			srv := &http.Server{Addr: cfg.Backend.Addr, Handler: newBackendHandler(svc)}
			return runHTTP(ctx, srv, cfg.Server.ShutdownTimeout)
		},
	}
}
