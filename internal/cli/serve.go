package cli

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xaenox/analyst-bot/internal/api"
)

// NewServeCmd creates the 'serve' command running the HTTP API.
func NewServeCmd(opts *Options) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP JSON API",
		Example: `  analyst serve
  analyst serve --addr :9090`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), *opts)
			if err != nil {
				return err
			}
			defer a.close()

			if addr == "" {
				addr = a.cfg.HTTP.Addr
			}
			h := api.NewHandler(a.orchestrator, a.sessions, a.store, a.openWarehouse, a.searchAvailable, a.logger)
			srv := &http.Server{
				Addr:              addr,
				Handler:           api.NewRouter(h, a.logger),
				ReadHeaderTimeout: 5 * time.Second,
				IdleTimeout:       120 * time.Second,
			}

			a.logger.Info("HTTP API listening", zap.String("addr", addr))
			return runServer(cmd.Context(), srv)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides http.addr)")

	return cmd
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
