package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/entrepeneur4lyf/chatforge/internal/api"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP and websocket API on localhost",
	RunE: func(cmd *cobra.Command, _ []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		if addr == "" {
			addr = cfg.API.Addr
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		server := api.NewServer(a)
		errc := make(chan error, 1)
		go func() { errc <- server.Start(addr) }()

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "ChatForge API on http://%s\n", addr)
		fmt.Fprintf(out, "Health:    http://%s/api/v1/health\n", addr)
		fmt.Fprintf(out, "WebSocket: ws://%s/api/v1/chat/ws\n", addr)

		select {
		case err := <-errc:
			return err
		case <-ctx.Done():
		}

		log.Info("Shutting down API server")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := server.Stop(shutdownCtx); err != nil {
			return err
		}
		return <-errc
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringP("addr", "a", "", "Listen address (default from config api.addr)")
}
