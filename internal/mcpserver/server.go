// Package mcpserver exposes the assistant as MCP tools over stdio.
package mcpserver

import (
	"sort"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/ashureev/pal/internal/assistant"
	"github.com/ashureev/pal/internal/store"
)

// toolEntry pairs a tool definition with a handler factory.
type toolEntry struct {
	def     mcp.Tool
	handler func(*Handlers) server.ToolHandlerFunc
}

var chatToolDef = mcp.NewTool("assistant_chat",
	mcp.WithDescription("Send one message to the assistant and return its reply, intent and conversation id."),
	mcp.WithString("message", mcp.Required(), mcp.Description("The user's utterance")),
	mcp.WithString("chat_id", mcp.Description("Conversation to continue; omit to start a new one")),
	mcp.WithString("user_id", mcp.Description("Acting user; defaults to the server's user")),
)

var tasksToolDef = mcp.NewTool("assistant_tasks",
	mcp.WithDescription("List, delete, or clear completed reminder tasks."),
	mcp.WithString("action", mcp.Description("list (default), delete, or clear_completed"), mcp.Enum("list", "delete", "clear_completed")),
	mcp.WithNumber("task_id", mcp.Description("Task to delete when action is delete")),
	mcp.WithString("user_id", mcp.Description("Acting user; defaults to the server's user")),
)

var factsToolDef = mcp.NewTool("assistant_facts",
	mcp.WithDescription("Read the user's knowledge-base facts, or store one when key and value are given."),
	mcp.WithString("key", mcp.Description("Fact key to store")),
	mcp.WithString("value", mcp.Description("Fact value to store")),
	mcp.WithString("user_id", mcp.Description("Acting user; defaults to the server's user")),
)

var toolRegistry = map[string]toolEntry{
	"assistant_chat": {
		def:     chatToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleChat },
	},
	"assistant_tasks": {
		def:     tasksToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleTasks },
	},
	"assistant_facts": {
		def:     factsToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleFacts },
	},
}

// AllToolNames returns the registered tool names in sorted order.
func AllToolNames() []string {
	names := make([]string, 0, len(toolRegistry))
	for name := range toolRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewServer creates an MCP server with the assistant tools registered.
// Tool calls without a user_id act as defaultUser.
func NewServer(orch *assistant.Orchestrator, repo store.Repository, defaultUser, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"pal",
		version,
		server.WithToolCapabilities(true),
	)

	h := NewHandlers(orch, repo, defaultUser)
	for _, name := range AllToolNames() {
		entry := toolRegistry[name]
		s.AddTool(entry.def, entry.handler(h))
	}
	return s
}

// Run serves the assistant tools on stdin/stdout.
func Run(orch *assistant.Orchestrator, repo store.Repository, defaultUser, version string) error {
	return server.ServeStdio(NewServer(orch, repo, defaultUser, version))
}
