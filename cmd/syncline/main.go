// Command syncline runs the client daemon: it bootstraps a directory tree
// under --dir, restoring any snapshots it finds under .syncline and
// reconciling them against disk, then keeps the tree mirrored against
// --url for as long as the process runs.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/syncline/syncline/internal/bootstrap"
	"github.com/syncline/syncline/internal/config"
	"github.com/syncline/syncline/internal/logger"
)

func main() {
	config.LoadDotenv()

	var url string
	var dir string
	var exclude []string

	root := &cobra.Command{
		Use:   "syncline",
		Short: "Syncline client daemon: mirrors a directory tree through a relay",
		RunE: func(cmd *cobra.Command, args []string) error {
			if dir == "" {
				return fmt.Errorf("--dir is required")
			}
			return run(cmd.Context(), url, dir, exclude)
		},
	}
	root.Flags().StringVar(&url, "url", config.DefaultURL, "relay WebSocket URL")
	root.Flags().StringVar(&dir, "dir", "", "directory to sync (required)")
	root.Flags().StringSliceVar(&exclude, "exclude", config.DefaultExclude, "path components to always skip")
	_ = root.MarkFlagRequired("dir")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		logger.Info("syncline: shutting down")
		cancel()
	}()

	if err := root.ExecuteContext(ctx); err != nil {
		logger.Error("syncline: %v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, url, dir string, exclude []string) error {
	bs, err := bootstrap.Run(ctx, bootstrap.Config{
		URL:        url,
		Root:       dir,
		Extensions: config.DefaultExtensions,
		Exclude:    exclude,
	})
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}

	logger.Info("syncline: syncing %s via %s", bs.Root, url)

	go bs.Reconciler.Run(ctx)
	bs.Client.Run(ctx) // blocks until ctx is cancelled

	return nil
}
