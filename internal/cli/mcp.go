package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	carapacemcp "github.com/carapace-ai/carapace/internal/mcp"
)

var (
	mcpConfig  string
	mcpJournal string
	mcpAgentID string
)

func init() {
	rootCmd.AddCommand(mcpCmd)
	mcpCmd.Flags().StringVar(&mcpConfig, "config", "", "Path to config YAML (default: embedded rules)")
	mcpCmd.Flags().StringVar(&mcpJournal, "journal", "", "Path to decision journal JSONL file")
	mcpCmd.Flags().StringVar(&mcpAgentID, "agent-id", "", "Agent identifier stamped on proposals")
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP tool server for agent integration",
	Long: "Runs carapace as an MCP (Model Context Protocol) server over stdio.\n" +
		"Exposes provenance tools: ingest, propose, record_result, is_traced,\n" +
		"set_label, explain, register_tool.",
	RunE: runMCP,
}

func runMCP(cmd *cobra.Command, args []string) error {
	log := mustBuildLogger()
	defer log.Sync()

	srv, err := carapacemcp.New(carapacemcp.Config{
		ConfigPath:  mcpConfig,
		JournalPath: mcpJournal,
		AgentID:     mcpAgentID,
	}, log)
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nShutting down MCP server...")
		cancel()
	}()

	fmt.Fprintln(os.Stderr, "carapace MCP server running on stdio")
	return srv.Run(ctx)
}
