package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"stamp-cli/internal/handler"
)

// agentCmd はステージングエリアをローカルHTTP APIとして公開するコマンド。
func agentCmd() *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Serve the staging area to local front ends over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a := application
			if listen == "" {
				listen = a.cfg.AgentListen
			}

			h := handler.NewStageHandler(a.stages)
			router := handler.NewRouter(h, a.cfg)

			server := &http.Server{
				Addr:              listen,
				Handler:           router,
				ReadHeaderTimeout: 10 * time.Second,
			}

			// Graceful shutdown
			go func() {
				sigCh := make(chan os.Signal, 1)
				signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
				<-sigCh

				slog.Info("shutting down agent...")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				if err := server.Shutdown(shutdownCtx); err != nil {
					slog.Error("agent shutdown error", "error", err)
				}
			}()

			slog.InfoContext(ctx, "starting agent", "listen", listen)
			if err := server.ListenAndServe(); err != http.ErrServerClosed {
				return err
			}
			slog.Info("agent stopped")
			return nil
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "Listen address (or set STAMP_AGENT_LISTEN)")
	return cmd
}
