// Package mcpserver exposes the chat tools and Reddit profile lookups to
// Model Context Protocol clients over stdio.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/flemzord/reddichat/internal/auth"
	"github.com/flemzord/reddichat/internal/reddit"
	"github.com/flemzord/reddichat/internal/tool"
)

// ProfileTool is the name of the Reddit profile tool.
const ProfileTool = "reddit_user_profile"

// UserID is the caller every MCP tool call is attributed to for rate
// limits and audit.
const UserID = "mcp"

// Profiles fetches a Reddit user with their latest activity.
type Profiles interface {
	Profile(ctx context.Context, name string) (reddit.Profile, error)
}

// Config configures a Server.
type Config struct {
	Name    string
	Version string
	// Registry provides the search tools. Required.
	Registry *tool.Registry
	// Profiles enables the profile tool when non-nil.
	Profiles Profiles
	Logger   *slog.Logger
}

// Server is an MCP server backed by the tool registry.
type Server struct {
	mcp      *server.MCPServer
	registry *tool.Registry
	profiles Profiles
	tools    []string
	logger   *slog.Logger
}

// New builds a Server and registers its tools.
func New(cfg Config) (*Server, error) {
	if cfg.Registry == nil {
		return nil, errors.New("mcpserver: registry is required")
	}
	if cfg.Name == "" {
		cfg.Name = "reddichat"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	s := &Server{
		mcp:      server.NewMCPServer(cfg.Name, cfg.Version, server.WithToolCapabilities(false), server.WithRecovery()),
		registry: cfg.Registry,
		profiles: cfg.Profiles,
		logger:   logger.With("component", "mcp"),
	}

	for _, def := range cfg.Registry.Definitions() {
		s.mcp.AddTool(mcp.NewToolWithRawSchema(def.Name, def.Description, def.Parameters), s.callTool(def.Name))
		s.tools = append(s.tools, def.Name)
	}
	if cfg.Profiles != nil {
		s.mcp.AddTool(mcp.NewTool(ProfileTool,
			mcp.WithDescription("Fetch a public Reddit user's account details with their latest posts and comments."),
			mcp.WithString("username", mcp.Required(), mcp.Description("Reddit username without the u/ prefix")),
		), s.callProfile)
		s.tools = append(s.tools, ProfileTool)
	}
	return s, nil
}

// Tools returns the names of the registered tools.
func (s *Server) Tools() []string {
	return s.tools
}

// ServeStdio serves MCP over r and w until ctx is cancelled or r is closed.
func (s *Server) ServeStdio(ctx context.Context, r io.Reader, w io.Writer) error {
	stdio := server.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(slog.NewLogLogger(s.logger.Handler(), slog.LevelError))
	s.logger.Info("mcp server listening on stdio", "tools", len(s.tools))
	return stdio.Listen(ctx, r, w)
}

func callerContext(ctx context.Context) context.Context {
	return auth.WithUser(ctx, auth.User{ID: UserID})
}

// callTool runs a registry tool. Tool-level failures become error results
// so the client sees them instead of a protocol error.
func (s *Server) callTool(name string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, err := json.Marshal(req.GetArguments())
		if err != nil {
			return mcp.NewToolResultError("invalid arguments: " + err.Error()), nil
		}
		out, err := s.registry.Execute(callerContext(ctx), name, args)
		if err != nil {
			s.logger.Warn("mcp tool call failed", "tool", name, "error", err)
			return mcp.NewToolResultError(err.Error()), nil
		}
		if out.IsError {
			return mcp.NewToolResultError(out.Content), nil
		}
		return mcp.NewToolResultText(out.Content), nil
	}
}

func (s *Server) callProfile(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("username")
	if err != nil || name == "" {
		return mcp.NewToolResultError("username is required"), nil
	}

	p, err := s.profiles.Profile(callerContext(ctx), name)
	switch {
	case errors.Is(err, reddit.ErrNotFound):
		return mcp.NewToolResultError("User u/" + name + " not found"), nil
	case errors.Is(err, reddit.ErrRateLimited):
		return mcp.NewToolResultError("Reddit rate limit exceeded, try again later"), nil
	case err != nil:
		s.logger.Warn("mcp profile lookup failed", "user", name, "error", err)
		return mcp.NewToolResultError("Failed to fetch Reddit profile"), nil
	}

	body, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(body)), nil
}
