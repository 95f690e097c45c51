package mcp

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/sirupsen/logrus"

	"nexus-batch/pkg/config"
	"nexus-batch/pkg/models"
	"nexus-batch/pkg/run"
	"nexus-batch/pkg/storage"
)

const (
	serverName    = "nexus-batch"
	serverVersion = "1.0.0"
)

// RunStarter executes one batch run with the given configuration. Injected
// so the server never has to own the browser stack itself.
type RunStarter func(ctx context.Context, cfg *config.AppConfig, opts run.Options) (*models.RunReport, error)

// ServerConfig holds configuration for the MCP server
type ServerConfig struct {
	AppConfig  *config.AppConfig
	ConfigPath string
	Transport  string // "stdio" or "sse"
	Port       int
	Logger     *logrus.Logger
	History    *storage.HistoryStore // optional, enables list_runs over past runs
	StartRun   RunStarter
}

// Server wraps the MCP server with batch-run specific functionality
type Server struct {
	mcpServer  *server.MCPServer
	cfg        *ServerConfig
	log        *logrus.Entry
	jobManager *JobManager
}

// NewServer creates a new MCP server instance
func NewServer(cfg *ServerConfig) (*Server, error) {
	if cfg.AppConfig == nil {
		return nil, fmt.Errorf("AppConfig is required")
	}
	if cfg.StartRun == nil {
		return nil, fmt.Errorf("StartRun is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}

	// Create the MCP server
	mcpServer := server.NewMCPServer(
		serverName,
		serverVersion,
		server.WithLogging(),
	)

	s := &Server{
		mcpServer:  mcpServer,
		cfg:        cfg,
		log:        cfg.Logger.WithField("component", "mcp"),
		jobManager: NewJobManager(),
	}

	// Register all tools
	s.registerTools()

	return s, nil
}

// registerTools registers all available MCP tools
func (s *Server) registerTools() {
	// start_run - Start a background batch run
	startRunTool := mcp.NewTool("start_run",
		mcp.WithDescription("Start a background batch download run for a collection. Returns immediately with a job ID. Only one run can be active at a time."),
		mcp.WithString("collection_url",
			mcp.Description("Collection URL to process (defaults to the configured collection)"),
		),
		mcp.WithNumber("max_mods",
			mcp.Description("Cap the queue at this many mods (0 = no cap)"),
		),
		mcp.WithBoolean("dry_run",
			mcp.Description("Navigate each mod page without downloading"),
		),
		mcp.WithBoolean("resume",
			mcp.Description("Skip targets already acquired by earlier runs"),
		),
	)
	s.mcpServer.AddTool(startRunTool, s.handleStartRun)

	// run_status - Check status of a run job
	runStatusTool := mcp.NewTool("run_status",
		mcp.WithDescription("Get the status of a batch run job"),
		mcp.WithString("job_id",
			mcp.Required(),
			mcp.Description("The job ID returned by start_run"),
		),
	)
	s.mcpServer.AddTool(runStatusTool, s.handleRunStatus)

	// cancel_run - Cancel a running job
	cancelRunTool := mcp.NewTool("cancel_run",
		mcp.WithDescription("Cancel a pending or running batch run. The item in flight finishes before the run stops."),
		mcp.WithString("job_id",
			mcp.Required(),
			mcp.Description("The job ID returned by start_run"),
		),
	)
	s.mcpServer.AddTool(cancelRunTool, s.handleCancelRun)

	// list_runs - List past runs
	listRunsTool := mcp.NewTool("list_runs",
		mcp.WithDescription("List recent batch runs with their status counts"),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of runs to return (default: 10, max: 100)"),
		),
	)
	s.mcpServer.AddTool(listRunsTool, s.handleListRuns)

	s.log.Infof("Registered %d MCP tools", 4)
}

// Run starts the MCP server with the configured transport
func (s *Server) Run() error {
	switch s.cfg.Transport {
	case "stdio":
		s.log.Info("Starting MCP server with stdio transport")
		return server.ServeStdio(s.mcpServer)
	case "sse":
		addr := fmt.Sprintf(":%d", s.cfg.Port)
		s.log.Infof("Starting MCP server with SSE transport on %s", addr)
		sseServer := server.NewSSEServer(s.mcpServer)
		return sseServer.Start(addr)
	default:
		return fmt.Errorf("unknown transport: %s (supported: stdio, sse)", s.cfg.Transport)
	}
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("Shutting down MCP server...")
	// Cancel any running jobs
	s.jobManager.CancelAll()
	return nil
}
