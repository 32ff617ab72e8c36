// Command syncline-server runs the relay: the single WebSocket endpoint
// that multiplexes every client's documents, durably logs every update to
// SQLite, and fans updates out to every other subscriber of the same
// document.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/syncline/syncline/internal/config"
	"github.com/syncline/syncline/internal/logger"
	"github.com/syncline/syncline/internal/relay"
	"github.com/syncline/syncline/internal/store"
)

func main() {
	config.LoadDotenv()

	var port uint16
	var dbPath string

	root := &cobra.Command{
		Use:   "syncline-server",
		Short: "Syncline relay: WebSocket fan-out and durable update log",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), port, dbPath)
		},
	}
	root.Flags().Uint16Var(&port, "port", config.DefaultPort, "listen port (0 for an ephemeral port)")
	root.Flags().StringVar(&dbPath, "db-path", config.DefaultDBPath, "SQLite update-log path or sqlite:// URL")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		logger.Info("syncline-server: shutting down")
		cancel()
	}()

	if err := root.ExecuteContext(ctx); err != nil {
		logger.Fatal("syncline-server: %v", err)
	}
}

func run(ctx context.Context, port uint16, dbPath string) error {
	st, err := store.Open(ctx, config.ResolveDBPath(dbPath))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	r, err := relay.New(ctx, st)
	if err != nil {
		return fmt.Errorf("create relay: %w", err)
	}

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("listen on port %d: %w", port, err)
	}
	fmt.Printf("Server listening on %s\n", listener.Addr())

	httpServer := &http.Server{
		Handler:      r.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("syncline-server: stopped")
	return nil
}
