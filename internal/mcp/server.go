// Package mcp exposes the engine as a set of MCP tools so agent hosts
// can track provenance and gate tool calls over stdio without linking
// the engine or running the HTTP sidecar.
package mcp

import (
	"context"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/carapace-ai/carapace/internal/engine"
	"github.com/carapace-ai/carapace/internal/policy"
)

// Config holds MCP server configuration.
type Config struct {
	ConfigPath  string
	JournalPath string
	AgentID     string
}

// Server wraps the MCP SDK server around one engine. The agent id from
// the config is stamped on every proposal, since MCP hosts do not send
// one per call.
type Server struct {
	mcpServer *mcpsdk.Server
	eng       *engine.Engine
	agentID   string
	log       *zap.Logger
}

// New loads the policy config, builds the engine, and registers the
// tools.
func New(cfg Config, log *zap.Logger) (*Server, error) {
	if log == nil {
		log = zap.NewNop()
	}

	pcfg, hash, err := policy.LoadConfigWithHash(cfg.ConfigPath)
	if err != nil {
		return nil, err
	}
	eng, err := engine.New(pcfg, hash, engine.Options{
		Logger:      log,
		JournalPath: cfg.JournalPath,
	})
	if err != nil {
		return nil, err
	}

	s := &Server{
		eng:     eng,
		agentID: cfg.AgentID,
		log:     log,
	}
	s.mcpServer = mcpsdk.NewServer(
		&mcpsdk.Implementation{
			Name:    "carapace",
			Version: "0.1.0",
		},
		nil,
	)
	s.registerTools()
	return s, nil
}

// Run starts the MCP server on stdio transport. Blocks until ctx is
// cancelled.
func (s *Server) Run(ctx context.Context) error {
	return s.mcpServer.Run(ctx, &mcpsdk.StdioTransport{})
}

// Close releases the engine.
func (s *Server) Close() error {
	return s.eng.Close()
}

func (s *Server) registerTools() {
	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "carapace_ingest",
		Description: "Record an incoming message in the provenance log with a trust label. Returns the event id for use as an input source.",
	}, s.handleIngest)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "carapace_propose",
		Description: "Ask whether a tool call fed by the given event ids may proceed. Returns the decision and the rule that made it.",
	}, s.handlePropose)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "carapace_record_result",
		Description: "Record the output of an executed tool call, linked to its proposal event.",
	}, s.handleRecordResult)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "carapace_is_traced",
		Description: "Check whether a trust label is reachable through an event's lineage.",
	}, s.handleIsTraced)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "carapace_set_label",
		Description: "Attach a trust label to an existing event. The label propagates to everything derived from it.",
	}, s.handleSetLabel)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "carapace_explain",
		Description: "Render the provenance chain that justifies an event's taint.",
	}, s.handleExplain)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "carapace_register_tool",
		Description: "Bind a tool name to a risk tier (low/medium/high/critical) and optional category.",
	}, s.handleRegisterTool)
}
