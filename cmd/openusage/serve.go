package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ayusman/openusage/internal/app"
	"github.com/ayusman/openusage/internal/server"
	"github.com/ayusman/openusage/internal/tray"
)

func newServeCommand(e *env) *cobra.Command {
	var noTray bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, event stream, tray and auto-refresh",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := e.newApp()
			if err != nil {
				return err
			}

			hub := server.NewHub(e.logger)
			a.Subscribe(hub)

			srv := server.New(server.Config{
				StaticDir: e.cfg.StaticDir,
				Plugins:   a.PluginManager(),
				Batches:   a.Orchestrator(),
				Settings:  e.store,
				Catalog:   a.CLIProxy(),
				Hub:       hub,
				Logger:    e.logger,
			})
			httpServer := srv.HTTPServer(e.cfg.Listen)

			errCh := make(chan error, 1)
			go func() {
				e.logger.Info("http server listening", "addr", e.cfg.Listen)
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			a.Start()
			a.Refresh(ctx)

			if e.cfg.Tray && !noTray {
				runTray(ctx, stop, a, e)
			} else {
				<-ctx.Done()
			}

			e.logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				e.logger.Warn("http shutdown failed", "error", err)
			}
			a.Stop()

			if err, ok := <-errCh; ok && err != nil {
				return fmt.Errorf("http server failed: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&noTray, "no-tray", false, "run without the system tray")
	return cmd
}

// runTray blocks in the tray event loop until Quit is clicked or ctx ends.
func runTray(ctx context.Context, stop context.CancelFunc, a *app.App, e *env) {
	metas := a.PluginManager().Metas()
	entries := make([]tray.Entry, 0, len(metas))
	for _, m := range metas {
		entries = append(entries, tray.Entry{ID: m.ID, Name: m.Name})
	}

	t := tray.New(entries)
	a.Subscribe(t)
	t.OnRefresh(func() { a.Refresh(context.Background()) })
	t.OnSettings(func() {
		e.logger.Info("settings are served by the HTTP API", "url", "http://"+e.cfg.Listen)
	})
	t.OnQuit(stop)

	go func() {
		<-ctx.Done()
		t.Quit()
	}()
	t.Run()
}
