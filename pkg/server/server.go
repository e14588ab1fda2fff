// Package server exposes the session broker's execute and reset operations
// as MCP tools, over stdio or streamable HTTP.
package server

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/errgroup"

	"github.com/ipybridge/ipybridge/pkg/history"
	"github.com/ipybridge/ipybridge/pkg/store"
	"github.com/ipybridge/ipybridge/pkg/version"
)

// Executor is the broker surface the tool handlers call into.
type Executor interface {
	Execute(ctx context.Context, code string) string
	Reset(ctx context.Context) string
}

// Server wires the broker to the MCP tool surface. The history sink and the
// execution-log store observe submissions off the critical path; their
// failures never affect the tool result.
type Server struct {
	broker  Executor
	history *history.Sink
	store   store.Store
}

// New creates a server. history and st may be nil to disable the respective
// side channels.
func New(broker Executor, hist *history.Sink, st store.Store) *Server {
	return &Server{broker: broker, history: hist, store: st}
}

// ExecuteArgs are the arguments of the execute tool.
type ExecuteArgs struct {
	Command string `json:"command" jsonschema:"The Python code to execute in the persistent session"`
}

// ResetArgs are the arguments of the reset tool.
type ResetArgs struct{}

// MCPServer builds the MCP server with the execute and reset tools
// registered.
func (s *Server) MCPServer() *mcp.Server {
	srv := mcp.NewServer(&mcp.Implementation{
		Name:    "ipybridge",
		Version: version.Version,
	}, &mcp.ServerOptions{
		Instructions: "Execute Python code in a persistent interactive session. " +
			"State (variables, imports, definitions) is kept across execute calls; " +
			"use reset to clear the environment.",
	})

	mcp.AddTool(srv, &mcp.Tool{
		Name: "execute",
		Description: "Executes a Python command in the persistent session and returns its output. " +
			"Output includes status, stdout, stderr, and execution results.",
	}, s.handleExecute)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "reset",
		Description: "Clears all variables and resets the Python session environment.",
	}, s.handleReset)

	return srv
}

func (s *Server) handleExecute(ctx context.Context, _ *mcp.CallToolRequest, args ExecuteArgs) (*mcp.CallToolResult, any, error) {
	slog.Info("Executing command", "bytes", len(args.Command))

	if s.history != nil {
		s.history.Record(args.Command)
	}

	transcript := s.broker.Execute(ctx, args.Command)
	s.recordExecution(args.Command, transcript)

	return textResult(transcript), nil, nil
}

func (s *Server) handleReset(ctx context.Context, _ *mcp.CallToolRequest, _ ResetArgs) (*mcp.CallToolResult, any, error) {
	slog.Info("Resetting session environment")
	return textResult(s.broker.Reset(ctx)), nil, nil
}

func (s *Server) recordExecution(command, transcript string) {
	if s.store == nil {
		return
	}
	// Off the request path on purpose: a slow or broken store must not
	// delay or fail the tool call.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := s.store.Append(ctx, &store.Execution{
			ID:         uuid.NewString(),
			Command:    command,
			Status:     transcriptStatus(transcript),
			Transcript: transcript,
			CreatedAt:  time.Now(),
		})
		if err != nil {
			slog.Warn("Could not record execution", "error", err)
		}
	}()
}

// transcriptStatus extracts the status token from a transcript's first line.
func transcriptStatus(transcript string) string {
	first, _, _ := strings.Cut(transcript, "\n")
	if token, ok := strings.CutPrefix(first, "Status: "); ok {
		return token
	}
	return "unknown"
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}

// Run serves MCP over stdio until the context is canceled.
func (s *Server) Run(ctx context.Context) error {
	slog.Info("Serving MCP over stdio")
	return s.MCPServer().Run(ctx, &mcp.StdioTransport{})
}

// Serve serves MCP over streamable HTTP on the given listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	handler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return s.MCPServer()
	}, nil)

	httpServer := &http.Server{Handler: handler}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-ctx.Done()
		return httpServer.Shutdown(context.Background())
	})
	g.Go(func() error {
		slog.Info("MCP server listening", "addr", ln.Addr().String())
		if err := httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	return g.Wait()
}
