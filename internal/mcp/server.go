// Package mcp provides an MCP (Model Context Protocol) server that
// republishes the engine's public operations as tools over stdio.
package mcp

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/nvandessel/ragp/internal/engine"
)

// Server wraps the MCP SDK server around an engine handle.
type Server struct {
	server *sdk.Server
	engine *engine.Engine
}

// Config holds server configuration.
type Config struct {
	Name    string // Server name (e.g., "ragp")
	Version string // Server version
}

// NewServer creates an MCP server exposing eng's operations. The caller
// retains ownership of the engine; Run does not close it.
func NewServer(cfg *Config, eng *engine.Engine) *Server {
	mcpServer := sdk.NewServer(&sdk.Implementation{
		Name:    cfg.Name,
		Version: cfg.Version,
	}, &sdk.ServerOptions{})

	s := &Server{
		server: mcpServer,
		engine: eng,
	}
	s.registerTools()
	return s
}

// registerTools registers all engine tools with the server.
func (s *Server) registerTools() {
	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "ragp_status",
		Description: "Get engine status: node/chunk counts, delta length, tick, cache and runtime metrics",
	}, s.handleStatus)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "ragp_connections",
		Description: "List the effective outgoing synapses of a sender node",
	}, s.handleConnections)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "ragp_stimulate",
		Description: "Submit a stimulus batch to the async runtime (duplicates per node+source are coalesced)",
	}, s.handleStimulate)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "ragp_update_weight",
		Description: "Set the weight of a directed synapse; 0 tombstones the edge",
	}, s.handleUpdateWeight)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "ragp_compute_cd",
		Description: "Score candidate action nodes for a stimulus within a context",
	}, s.handleComputeCD)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "ragp_consolidate",
		Description: "Merge the delta log into the chunked base and truncate it",
	}, s.handleConsolidate)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "ragp_activation",
		Description: "Get the current activation snapshot sorted by activation descending",
	}, s.handleActivation)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "ragp_backup",
		Description: "Export the effective graph to a checksummed snapshot file",
	}, s.handleBackup)
}

// Run starts the MCP server over stdio transport. It blocks until the
// client disconnects or the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		<-sigChan
		cancel()
	}()

	return s.server.Run(ctx, &sdk.StdioTransport{})
}
