package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mmcdole/shelfsync/internal/api"
	"github.com/mmcdole/shelfsync/internal/supervisor"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run background sync and the local API",
	Long: `Runs a startup sync, then keeps polling the server for progress made on
other devices, retries pending uploads, tracks connectivity and serves the
local HTTP API until interrupted.`,
	RunE: runDaemon,
}

func init() {
	rootCmd.AddCommand(daemonCmd)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting daemon", "version", Version, "server", cfg.Server.URL)
	if a.connect(ctx) {
		summary := a.sync.StartupSync(ctx)
		logger.Info("startup sync finished", "uploaded", summary.Uploaded, "downloaded", summary.Downloaded)
	} else {
		logger.Warn("server unreachable at startup, working offline")
	}

	tree := a.syncTree()

	if cfg.API.Listen != "" {
		server := &http.Server{
			Addr:              cfg.API.Listen,
			Handler:           api.NewHandler(a.sync, logger).Router(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		tree.AddAPIService(supervisor.NewHTTPServerService(server, 0))
		logger.Info("local api listening", "addr", cfg.API.Listen)
	}

	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("daemon stopped")
	return nil
}
