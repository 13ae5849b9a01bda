// Package mcp implements a Model Context Protocol server for recall.
// It exposes the conversation memory core as JSON-RPC 2.0 tools so MCP
// clients (Claude Desktop, Claude Code, Cursor) can chat with memory,
// retrieve context, and manage conversations.
package mcp

import (
	"github.com/talvos/recall/internal/storage"
	"github.com/talvos/recall/pkg/types"
)

// ChatArgs contains arguments for the chat tool.
type ChatArgs struct {
	UserID         string `json:"user_id"`                   // Owner of the memory (required)
	ConversationID string `json:"conversation_id,omitempty"` // Existing conversation; empty starts a new one
	Message        string `json:"message"`                   // User message (required)
}

// ChatToolResult contains the result of a chat turn.
type ChatToolResult struct {
	ConversationID string `json:"conversation_id"`
	Reply          string `json:"reply"`
	ContextUsed    int    `json:"context_used"`
	Summarized     bool   `json:"summarized"`
}

// RetrieveContextArgs contains arguments for the retrieve_context tool.
type RetrieveContextArgs struct {
	UserID         string `json:"user_id"`                   // Owner of the memory (required)
	Query          string `json:"query"`                     // Text to match against stored messages (required)
	ConversationID string `json:"conversation_id,omitempty"` // Scope retrieval to one conversation
}

// RetrieveContextResult contains the entries most similar to the query.
type RetrieveContextResult struct {
	Entries []types.MemoryEntry `json:"entries"`
	Total   int                 `json:"total"`
}

// HistoryArgs contains arguments for the conversation_history tool.
type HistoryArgs struct {
	UserID         string `json:"user_id"`         // Owner of the memory (required)
	ConversationID string `json:"conversation_id"` // Conversation to read (required)
	Limit          int    `json:"limit,omitempty"` // Newest messages to return; 0 means all
}

// HistoryResult contains a conversation's summaries and messages in
// chronological order.
type HistoryResult struct {
	Summaries []types.Summary     `json:"summaries"`
	Messages  []types.MemoryEntry `json:"messages"`
}

// ListConversationsArgs contains arguments for the list_conversations tool.
type ListConversationsArgs struct {
	UserID string `json:"user_id"` // Owner of the memory (required)
}

// ListConversationsResult contains the user's conversation ids.
type ListConversationsResult struct {
	Conversations []string `json:"conversations"`
}

// DeleteConversationArgs contains arguments for the delete_conversation tool.
type DeleteConversationArgs struct {
	UserID         string `json:"user_id"`         // Owner of the memory (required)
	ConversationID string `json:"conversation_id"` // Conversation to delete (required)
}

// DeleteConversationResult confirms the deletion.
type DeleteConversationResult struct {
	ConversationID string `json:"conversation_id"`
	Deleted        bool   `json:"deleted"`
}

// UsageArgs contains arguments for the usage_totals tool.
type UsageArgs struct {
	UserID string `json:"user_id"`        // Owner of the ledger (required)
	Days   int    `json:"days,omitempty"` // Window in days; 0 means last 30
}

// UsageResult contains per-provider/model token and cost totals.
type UsageResult struct {
	Totals []storage.UsageTotals `json:"totals"`
}

// JSONRPCRequest represents a JSON-RPC 2.0 request.
type JSONRPCRequest struct {
	JSONRPC string      `json:"jsonrpc"` // Must be "2.0"
	Method  string      `json:"method"`  // Method name
	Params  interface{} `json:"params"`  // Method parameters
	ID      interface{} `json:"id"`      // Request ID (string, number, or null)
}

// JSONRPCResponse represents a JSON-RPC 2.0 response.
type JSONRPCResponse struct {
	JSONRPC string        `json:"jsonrpc"`          // Must be "2.0"
	Result  interface{}   `json:"result,omitempty"` // Result (if successful)
	Error   *JSONRPCError `json:"error,omitempty"`  // Error (if failed)
	ID      interface{}   `json:"id"`               // Request ID
}

// JSONRPCError represents a JSON-RPC 2.0 error.
type JSONRPCError struct {
	Code    int         `json:"code"`           // Error code
	Message string      `json:"message"`        // Error message
	Data    interface{} `json:"data,omitempty"` // Additional error data
}

// JSON-RPC error codes
const (
	ErrCodeParseError     = -32700 // Invalid JSON
	ErrCodeInvalidRequest = -32600 // Invalid request object
	ErrCodeMethodNotFound = -32601 // Method not found
	ErrCodeInvalidParams  = -32602 // Invalid method parameters
	ErrCodeInternalError  = -32603 // Internal JSON-RPC error
	ErrCodeServerError    = -32000 // Server error
)

// ---------------------------------------------------------------------------
// Standard MCP protocol types (initialize / tools/list / tools/call)
// ---------------------------------------------------------------------------

// MCPInitializeParams holds the parameters sent by an MCP client in the
// initialize request.
type MCPInitializeParams struct {
	ProtocolVersion string                 `json:"protocolVersion"`
	Capabilities    map[string]interface{} `json:"capabilities,omitempty"`
	ClientInfo      MCPClientInfo          `json:"clientInfo"`
}

// MCPClientInfo identifies the connecting MCP client.
type MCPClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// MCPServerInfo identifies this MCP server.
type MCPServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// MCPServerCapabilities describes what this server supports.
type MCPServerCapabilities struct {
	Tools *MCPToolsCapability `json:"tools,omitempty"`
}

// MCPToolsCapability signals that the server exposes tools.
type MCPToolsCapability struct{}

// MCPInitializeResult is the response to the initialize request.
type MCPInitializeResult struct {
	ProtocolVersion string                `json:"protocolVersion"`
	Capabilities    MCPServerCapabilities `json:"capabilities"`
	ServerInfo      MCPServerInfo         `json:"serverInfo"`
}

// MCPTool describes a single tool exposed via the MCP tools/list endpoint.
type MCPTool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

// MCPToolsListResult is the response to the tools/list request.
type MCPToolsListResult struct {
	Tools []MCPTool `json:"tools"`
}

// MCPToolCallParams holds the parameters sent in a tools/call request.
type MCPToolCallParams struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// MCPToolCallContent is a single content block in a tool call response.
type MCPToolCallContent struct {
	Type string `json:"type"` // always "text" for now
	Text string `json:"text"`
}

// MCPToolCallResult is the response to a tools/call request.
type MCPToolCallResult struct {
	Content []MCPToolCallContent `json:"content"`
	IsError bool                 `json:"isError,omitempty"`
}
