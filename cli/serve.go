package cli

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func init() {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and WebSocket server",
		RunE:  runServe,
	}
	cmd.Flags().String("addr", "", "Listen address (default: $RECALL_ADDR or :8000)")
	cmd.Flags().Duration("shutdown-timeout", 15*time.Second, "Time allowed for in-flight requests and cleanups on shutdown")
	RootCmd.AddCommand(cmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		cfg.Server.Addr = addr
	}
	timeout, _ := cmd.Flags().GetDuration("shutdown-timeout")

	a, err := openApp()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.Server.Start(cfg.Server.Addr)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := a.Server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("server shutdown", "err", err)
		}
		return a.Close(shutdownCtx)
	})
	return g.Wait()
}
