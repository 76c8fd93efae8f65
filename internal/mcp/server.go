// Package mcp exposes the triage workflow as Model Context Protocol tools.
package mcp

import (
	"context"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	"github.com/morbidity-triage-server/internal/classification"
	"github.com/morbidity-triage-server/internal/feedback"
	"github.com/morbidity-triage-server/internal/ledger"
	"github.com/morbidity-triage-server/internal/location"
)

const (
	serverName    = "morbidity-triage"
	serverVersion = "v0.1.0"
)

// Deps are the collaborators the tools operate on. Retraining and ExportDir
// are optional; without them the retraining tools are not registered.
type Deps struct {
	Ledger     *ledger.Ledger
	Resolver   *location.Resolver
	Oracle     classification.Oracle
	Retraining feedback.Store
	ExportDir  string
	Logger     *logrus.Logger
}

// Server wires the tool handlers to an MCP SDK server.
type Server struct {
	mcpServer  *mcp.Server
	ledger     *ledger.Ledger
	resolver   *location.Resolver
	oracle     classification.Oracle
	retraining feedback.Store
	exportDir  string
	logger     *logrus.Logger
}

// NewServer creates the MCP server and registers every tool.
func NewServer(deps Deps) (*Server, error) {
	if deps.Ledger == nil || deps.Resolver == nil || deps.Oracle == nil {
		return nil, errors.New("ledger, resolver and oracle are required")
	}
	if deps.Logger == nil {
		deps.Logger = logrus.New()
	}

	s := &Server{
		mcpServer: mcp.NewServer(&mcp.Implementation{
			Name:    serverName,
			Version: serverVersion,
		}, nil),
		ledger:     deps.Ledger,
		resolver:   deps.Resolver,
		oracle:     deps.Oracle,
		retraining: deps.Retraining,
		exportDir:  deps.ExportDir,
		logger:     deps.Logger,
	}

	s.registerTools()
	if s.retraining != nil {
		s.registerRetrainingTools()
	}
	return s, nil
}

// Run serves the tools over stdin/stdout until ctx is done or the client
// disconnects.
func (s *Server) Run(ctx context.Context) error {
	s.logger.WithField("transport", "stdio").Info("Starting MCP server")
	if err := s.mcpServer.Run(ctx, &mcp.StdioTransport{}); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("MCP server failed: %w", err)
	}
	return nil
}
