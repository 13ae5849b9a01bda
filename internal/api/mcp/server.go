package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/talvos/recall/internal/accounting"
	"github.com/talvos/recall/internal/engine"
	"github.com/talvos/recall/internal/memory"
)

const (
	protocolVersion = "2024-11-05"
	serverName      = "recall-mcp"
	serverVersion   = "1.0.0"
)

// chatEngine is the subset of engine.ChatEngine the MCP server uses. An
// interface keeps the package loosely coupled and testable.
type chatEngine interface {
	SendMessage(ctx context.Context, userID, conversationID, message string) (*engine.ChatResponse, error)
}

// Server exposes the memory core over the Model Context Protocol.
type Server struct {
	engine     chatEngine
	manager    *memory.Manager
	accountant *accounting.Accountant
}

// NewServer creates an MCP server over the given components. accountant may
// be nil; the usage_totals tool then reports an error when called.
func NewServer(eng chatEngine, manager *memory.Manager, accountant *accounting.Accountant) *Server {
	return &Server{engine: eng, manager: manager, accountant: accountant}
}

// HandleRequest processes one JSON-RPC 2.0 request and returns the response
// frame. It is the entry point the transport drives.
func (s *Server) HandleRequest(ctx context.Context, requestJSON []byte) ([]byte, error) {
	var req JSONRPCRequest
	if err := json.Unmarshal(requestJSON, &req); err != nil {
		return s.errorResponse(nil, ErrCodeParseError, "Parse error", err)
	}
	if req.JSONRPC != "2.0" {
		return s.errorResponse(req.ID, ErrCodeInvalidRequest, "Invalid JSON-RPC version", nil)
	}

	var result interface{}
	var err error

	switch req.Method {
	// Standard MCP protocol methods
	case "initialize":
		result = MCPInitializeResult{
			ProtocolVersion: protocolVersion,
			Capabilities:    MCPServerCapabilities{Tools: &MCPToolsCapability{}},
			ServerInfo:      MCPServerInfo{Name: serverName, Version: serverVersion},
		}
	case "initialized":
		// Notification - no response body required; return empty object.
		result = map[string]interface{}{}
	case "tools/list":
		result = MCPToolsListResult{Tools: toolCatalog()}
	case "tools/call":
		result, err = s.handleToolsCall(ctx, req.Params)

	// Native JSON-RPC methods (kept for direct callers)
	case "chat":
		result, err = dispatch(ctx, req.Params, s.Chat)
	case "retrieve_context":
		result, err = dispatch(ctx, req.Params, s.RetrieveContext)
	case "conversation_history":
		result, err = dispatch(ctx, req.Params, s.History)
	case "list_conversations":
		result, err = dispatch(ctx, req.Params, s.ListConversations)
	case "delete_conversation":
		result, err = dispatch(ctx, req.Params, s.DeleteConversation)
	case "usage_totals":
		result, err = dispatch(ctx, req.Params, s.Usage)
	default:
		return s.errorResponse(req.ID, ErrCodeMethodNotFound, fmt.Sprintf("Method not found: %s", req.Method), nil)
	}

	if err != nil {
		return s.errorResponse(req.ID, ErrCodeServerError, err.Error(), nil)
	}
	return s.successResponse(req.ID, result)
}

// dispatch remarshals loosely-typed params into the tool's argument struct
// and calls the handler.
func dispatch[A any, R any](ctx context.Context, params interface{}, handler func(context.Context, A) (R, error)) (R, error) {
	var args A
	data, err := json.Marshal(params)
	if err != nil {
		var zero R
		return zero, fmt.Errorf("invalid params: %w", err)
	}
	if err := json.Unmarshal(data, &args); err != nil {
		var zero R
		return zero, fmt.Errorf("invalid params: %w", err)
	}
	return handler(ctx, args)
}

// Chat runs one remembered chat turn.
func (s *Server) Chat(ctx context.Context, args ChatArgs) (*ChatToolResult, error) {
	if args.UserID == "" || args.Message == "" {
		return nil, fmt.Errorf("user_id and message are required")
	}
	resp, err := s.engine.SendMessage(ctx, args.UserID, args.ConversationID, args.Message)
	if err != nil {
		return nil, err
	}
	return &ChatToolResult{
		ConversationID: resp.ConversationID,
		Reply:          resp.Reply,
		ContextUsed:    resp.ContextUsed,
		Summarized:     resp.Summarized,
	}, nil
}

// RetrieveContext returns the stored messages most similar to a query.
func (s *Server) RetrieveContext(ctx context.Context, args RetrieveContextArgs) (*RetrieveContextResult, error) {
	if args.UserID == "" || args.Query == "" {
		return nil, fmt.Errorf("user_id and query are required")
	}
	entries, err := s.manager.RetrieveContext(ctx, args.UserID, args.ConversationID, args.Query)
	if err != nil {
		return nil, err
	}
	for i := range entries {
		entries[i].Embedding = nil
	}
	return &RetrieveContextResult{Entries: entries, Total: len(entries)}, nil
}

// History returns a conversation's summaries and live messages.
func (s *Server) History(ctx context.Context, args HistoryArgs) (*HistoryResult, error) {
	if args.UserID == "" || args.ConversationID == "" {
		return nil, fmt.Errorf("user_id and conversation_id are required")
	}
	messages, err := s.manager.History(ctx, args.UserID, args.ConversationID, args.Limit)
	if err != nil {
		return nil, err
	}
	summaries, err := s.manager.Summaries(ctx, args.UserID, args.ConversationID)
	if err != nil {
		return nil, err
	}
	for i := range messages {
		messages[i].Embedding = nil
	}
	return &HistoryResult{Summaries: summaries, Messages: messages}, nil
}

// ListConversations lists the conversation ids a user owns.
func (s *Server) ListConversations(ctx context.Context, args ListConversationsArgs) (*ListConversationsResult, error) {
	if args.UserID == "" {
		return nil, fmt.Errorf("user_id is required")
	}
	ids, err := s.manager.Conversations(ctx, args.UserID)
	if err != nil {
		return nil, err
	}
	if ids == nil {
		ids = []string{}
	}
	return &ListConversationsResult{Conversations: ids}, nil
}

// DeleteConversation removes a conversation and its summaries. Deleting a
// conversation that does not exist still reports success.
func (s *Server) DeleteConversation(ctx context.Context, args DeleteConversationArgs) (*DeleteConversationResult, error) {
	if args.UserID == "" || args.ConversationID == "" {
		return nil, fmt.Errorf("user_id and conversation_id are required")
	}
	if err := s.manager.DeleteConversation(ctx, args.UserID, args.ConversationID); err != nil {
		return nil, err
	}
	return &DeleteConversationResult{ConversationID: args.ConversationID, Deleted: true}, nil
}

// Usage aggregates the user's token and cost ledger.
func (s *Server) Usage(ctx context.Context, args UsageArgs) (*UsageResult, error) {
	if args.UserID == "" {
		return nil, fmt.Errorf("user_id is required")
	}
	if s.accountant == nil {
		return nil, fmt.Errorf("usage accounting is not configured")
	}
	days := args.Days
	if days <= 0 {
		days = 30
	}
	totals, err := s.accountant.Totals(ctx, args.UserID, time.Now().UTC().AddDate(0, 0, -days))
	if err != nil {
		return nil, err
	}
	return &UsageResult{Totals: totals}, nil
}

// handleToolsCall routes an MCP tools/call request to the named tool and
// wraps the result in a text content block, as the protocol requires.
func (s *Server) handleToolsCall(ctx context.Context, params interface{}) (*MCPToolCallResult, error) {
	var call MCPToolCallParams
	data, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	if err := json.Unmarshal(data, &call); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}

	var result interface{}
	switch call.Name {
	case "chat":
		result, err = dispatch(ctx, call.Arguments, s.Chat)
	case "retrieve_context":
		result, err = dispatch(ctx, call.Arguments, s.RetrieveContext)
	case "conversation_history":
		result, err = dispatch(ctx, call.Arguments, s.History)
	case "list_conversations":
		result, err = dispatch(ctx, call.Arguments, s.ListConversations)
	case "delete_conversation":
		result, err = dispatch(ctx, call.Arguments, s.DeleteConversation)
	case "usage_totals":
		result, err = dispatch(ctx, call.Arguments, s.Usage)
	default:
		return nil, fmt.Errorf("unknown tool: %s", call.Name)
	}

	if err != nil {
		// MCP reports tool-level failures inside the result, not as
		// JSON-RPC errors.
		return &MCPToolCallResult{
			Content: []MCPToolCallContent{{Type: "text", Text: err.Error()}},
			IsError: true,
		}, nil
	}

	text, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to encode tool result: %w", err)
	}
	return &MCPToolCallResult{
		Content: []MCPToolCallContent{{Type: "text", Text: string(text)}},
	}, nil
}

func (s *Server) successResponse(id interface{}, result interface{}) ([]byte, error) {
	return json.Marshal(JSONRPCResponse{JSONRPC: "2.0", ID: id, Result: result})
}

func (s *Server) errorResponse(id interface{}, code int, message string, err error) ([]byte, error) {
	rpcErr := &JSONRPCError{Code: code, Message: message}
	if err != nil {
		rpcErr.Data = err.Error()
	}
	return json.Marshal(JSONRPCResponse{JSONRPC: "2.0", ID: id, Error: rpcErr})
}

func toolCatalog() []MCPTool {
	stringProp := func(desc string) map[string]interface{} {
		return map[string]interface{}{"type": "string", "description": desc}
	}
	intProp := func(desc string) map[string]interface{} {
		return map[string]interface{}{"type": "integer", "description": desc}
	}
	schema := func(props map[string]interface{}, required ...string) map[string]interface{} {
		s := map[string]interface{}{"type": "object", "properties": props}
		if len(required) > 0 {
			s["required"] = required
		}
		return s
	}

	return []MCPTool{
		{
			Name:        "chat",
			Description: "Send a message and get a reply that remembers earlier conversations. Relevant past messages are retrieved automatically and long conversations are summarized.",
			InputSchema: schema(map[string]interface{}{
				"user_id":         stringProp("Owner of the memory"),
				"conversation_id": stringProp("Existing conversation id; omit to start a new conversation"),
				"message":         stringProp("The user message"),
			}, "user_id", "message"),
		},
		{
			Name:        "retrieve_context",
			Description: "Find the stored messages most semantically similar to a query, without generating a reply.",
			InputSchema: schema(map[string]interface{}{
				"user_id":         stringProp("Owner of the memory"),
				"query":           stringProp("Text to match against stored messages"),
				"conversation_id": stringProp("Restrict retrieval to one conversation"),
			}, "user_id", "query"),
		},
		{
			Name:        "conversation_history",
			Description: "Read a conversation's summaries and messages in chronological order.",
			InputSchema: schema(map[string]interface{}{
				"user_id":         stringProp("Owner of the memory"),
				"conversation_id": stringProp("Conversation to read"),
				"limit":           intProp("Newest messages to return; 0 returns all"),
			}, "user_id", "conversation_id"),
		},
		{
			Name:        "list_conversations",
			Description: "List the conversation ids a user owns.",
			InputSchema: schema(map[string]interface{}{
				"user_id": stringProp("Owner of the memory"),
			}, "user_id"),
		},
		{
			Name:        "delete_conversation",
			Description: "Delete a conversation, its messages, and its summaries.",
			InputSchema: schema(map[string]interface{}{
				"user_id":         stringProp("Owner of the memory"),
				"conversation_id": stringProp("Conversation to delete"),
			}, "user_id", "conversation_id"),
		},
		{
			Name:        "usage_totals",
			Description: "Aggregate token counts and estimated USD cost per provider and model.",
			InputSchema: schema(map[string]interface{}{
				"user_id": stringProp("Owner of the usage ledger"),
				"days":    intProp("Window in days; defaults to 30"),
			}, "user_id"),
		},
	}
}
