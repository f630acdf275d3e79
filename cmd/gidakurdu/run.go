package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/TobiSchelling/gidakurdu/internal/pipeline"
	"github.com/TobiSchelling/gidakurdu/internal/server"
)

// --- daemon command ---

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Sync now, then keep syncing in the background at the preferred interval",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		foregroundSync(ctx, a)

		stopBackground, err := a.startBackground(ctx)
		if err != nil {
			return err
		}
		defer stopBackground()

		fmt.Println("Running in the background. Press Ctrl+C to stop")
		<-ctx.Done()
		return nil
	},
}

// --- serve command ---

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the local web server with background syncing",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		srv, err := server.New(server.Deps{
			Orchestrator: a.orch,
			Dispatcher:   a.dispatcher,
			Prefs:        a.prefs,
			Permissions:  a.perms,
			Logger:       a.logger.With("component", "server"),
		})
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		go foregroundSync(ctx, a)

		stopBackground, err := a.startBackground(ctx)
		if err != nil {
			return err
		}
		defer stopBackground()

		port := servePort
		if !cmd.Flags().Changed("port") {
			port = cfg.Server.Port
		}
		fmt.Printf("Starting server at http://localhost:%d\n", port)
		fmt.Println("Press Ctrl+C to stop")
		return srv.Serve(ctx, port)
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 8000, "Port to run server on")
}

// foregroundSync runs the sync an app performs when it becomes active. A
// failure is logged and kept as the orchestrator's last error.
func foregroundSync(ctx context.Context, a *app) {
	out, err := a.orch.OnForeground(ctx)
	switch {
	case errors.Is(err, pipeline.ErrInFlight):
	case err != nil:
		a.logger.Warn("foreground sync failed", "error", err)
	default:
		a.logger.Info("foreground sync done", "records", out.Visible, "new", out.New)
	}
}
