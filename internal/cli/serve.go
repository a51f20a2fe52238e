package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/carapace-ai/carapace/internal/server"
)

var (
	serveAddr    string
	serveConfig  string
	serveJournal string
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8787", "HTTP listen address")
	serveCmd.Flags().StringVar(&serveConfig, "config", "", "Path to config YAML (default: embedded rules)")
	serveCmd.Flags().StringVar(&serveJournal, "journal", "", "Path to decision journal JSONL file")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the sidecar HTTP server",
	Long: "Runs carapace as a sidecar. Clients in any runtime POST JSON to\n" +
		"/ingest, /propose, /record_result, /is_traced, /set_label, /explain,\n" +
		"and /register_tool. The rule config hot-reloads on change.",
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	log := mustBuildLogger()
	defer log.Sync()

	srv, err := server.New(server.Config{
		Addr:        serveAddr,
		ConfigPath:  serveConfig,
		JournalPath: serveJournal,
	}, log)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if serveConfig != "" {
		reloader, err := server.NewReloader(srv, log)
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: hot-reload disabled: %v\n", err)
		} else {
			go reloader.Run(ctx)
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nShutting down sidecar...")
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		srv.Shutdown(shutdownCtx)
	}()

	return srv.Serve()
}
