// Package mcp exposes the record store to agents over the Model Context
// Protocol, calling the service layer directly.
package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/hyperjump/kioku/internal/memory"
	"github.com/hyperjump/kioku/internal/project"
)

// Server bridges MCP tool calls to the record service.
type Server struct {
	mcp      *mcp.Server
	service  *memory.Service
	registry *project.Registry
	logger   *zap.Logger
}

// Config configures the MCP server.
type Config struct {
	// Name is the server implementation name (default: "kioku")
	Name string

	// Version is the server version (default: "1.0.0")
	Version string

	// Logger for structured logging
	Logger *zap.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:    "kioku",
		Version: "1.0.0",
		Logger:  zap.NewNop(),
	}
}

// NewServer creates an MCP server with all record tools registered.
func NewServer(cfg *Config, service *memory.Service, registry *project.Registry) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if service == nil {
		return nil, fmt.Errorf("record service is required")
	}
	if registry == nil {
		return nil, fmt.Errorf("project registry is required")
	}

	mcpServer := mcp.NewServer(
		&mcp.Implementation{
			Name:    cfg.Name,
			Version: cfg.Version,
		},
		nil,
	)

	s := &Server{
		mcp:      mcpServer,
		service:  service,
		registry: registry,
		logger:   cfg.Logger,
	}
	s.registerTools()
	return s, nil
}

// Run starts the MCP server on the stdio transport.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting MCP server on stdio transport")
	transport := &mcp.StdioTransport{}
	if err := s.mcp.Run(ctx, transport); err != nil {
		return fmt.Errorf("server run failed: %w", err)
	}
	return nil
}
