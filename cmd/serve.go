package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"github.com/tinoosan/mdarchive/internal/reconciler"
	"github.com/tinoosan/mdarchive/internal/router"
	"github.com/tinoosan/mdarchive/internal/service"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the download managers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, l := ctx.cfg, ctx.log
			if cfg.Server.APIToken == "" {
				return errors.New("serve: server.api_token (MDARCHIVE_API_TOKEN) is required")
			}

			a, err := newApp(cmd.Context(), cfg, l)
			if err != nil {
				return err
			}
			defer func() {
				if err := a.Close(); err != nil {
					l.Error("close download stack", "err", err)
				}
			}()

			rec := reconciler.New(l, a.history, a.dl, cfg.Recovery.ResumeIncomplete)
			rec.Run()
			defer rec.Stop()

			svc := service.NewTasks(a.dl, a.history, a.store)
			server := &http.Server{
				Addr:        cfg.Server.Addr,
				Handler:     router.New(l, svc, cfg.Server.APIToken),
				IdleTimeout: 120 * time.Second,
				ReadTimeout: 5 * time.Second,
				// Waits and event streams hold the response open.
				WriteTimeout: 0,
			}

			errCh := make(chan error, 1)
			go func() {
				l.Info("starting mdarchive API", "addr", server.Addr)
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				if err != nil {
					return err
				}
			case <-cmd.Context().Done():
				l.Info("received terminate, graceful shutdown")
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				l.Error("http shutdown", "err", err)
			}
			return nil
		},
	}
}
