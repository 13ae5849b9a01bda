package mcp_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talvos/recall/internal/accounting"
	"github.com/talvos/recall/internal/api/mcp"
	"github.com/talvos/recall/internal/config"
	"github.com/talvos/recall/internal/engine"
	"github.com/talvos/recall/internal/llm"
	"github.com/talvos/recall/internal/memory"
	"github.com/talvos/recall/internal/storage/sqlite"
	"github.com/talvos/recall/pkg/types"
)

const testDimension = 8

type hashEmbedder struct{}

func (hashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f := fnv.New32a()
	_, _ = f.Write([]byte(text))
	vec := make([]float32, testDimension)
	vec[int(f.Sum32())%testDimension] = 1
	return vec, nil
}

func (hashEmbedder) Model() string { return "hash-embed-test" }

type fakeProvider struct{}

func (fakeProvider) Chat(context.Context, []types.Message) (*llm.ChatResult, error) {
	return &llm.ChatResult{Text: "remembered", PromptTokens: 8, CompletionTokens: 2}, nil
}

func (fakeProvider) Provider() string { return "openai" }
func (fakeProvider) Model() string    { return "gpt-4.1" }

func newTestServer(t *testing.T) (*mcp.Server, string) {
	t.Helper()

	store, err := sqlite.NewStore(filepath.Join(t.TempDir(), "mcp.db"), testDimension)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	embedder, err := memory.NewEmbedder(hashEmbedder{}, testDimension, 0)
	require.NoError(t, err)

	manager, err := memory.NewManager(store, embedder, config.MemoryConfig{
		EmbeddingDimension:  testDimension,
		SummarizeThreshold:  20,
		KeepRecent:          10,
		RetrievalTopK:       4,
		SimilarityThreshold: 0.7,
	})
	require.NoError(t, err)

	provider := fakeProvider{}
	summarizer, err := memory.NewSummarizer(store, provider, 10)
	require.NoError(t, err)

	accountant, err := accounting.NewAccountant(store)
	require.NoError(t, err)

	eng, err := engine.NewChatEngine(manager, summarizer, accountant, provider, nil)
	require.NoError(t, err)

	userID := uuid.NewString()
	require.NoError(t, store.CreateUser(context.Background(), userID))

	return mcp.NewServer(eng, manager, accountant), userID
}

func roundTrip(t *testing.T, srv *mcp.Server, request string) mcp.JSONRPCResponse {
	t.Helper()
	raw, err := srv.HandleRequest(context.Background(), []byte(request))
	require.NoError(t, err)
	var resp mcp.JSONRPCResponse
	require.NoError(t, json.Unmarshal(raw, &resp))
	return resp
}

func TestInitialize(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := roundTrip(t, srv, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2024-11-05","clientInfo":{"name":"test","version":"1.0"}}}`)
	require.Nil(t, resp.Error)

	result := resp.Result.(map[string]interface{})
	assert.Equal(t, "2024-11-05", result["protocolVersion"])
	serverInfo := result["serverInfo"].(map[string]interface{})
	assert.Equal(t, "recall-mcp", serverInfo["name"])
}

func TestToolsList(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := roundTrip(t, srv, `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`)
	require.Nil(t, resp.Error)

	data, err := json.Marshal(resp.Result)
	require.NoError(t, err)
	var result mcp.MCPToolsListResult
	require.NoError(t, json.Unmarshal(data, &result))

	names := make([]string, 0, len(result.Tools))
	for _, tool := range result.Tools {
		names = append(names, tool.Name)
		assert.NotEmpty(t, tool.Description)
		assert.NotNil(t, tool.InputSchema)
	}
	assert.ElementsMatch(t, []string{
		"chat", "retrieve_context", "conversation_history",
		"list_conversations", "delete_conversation", "usage_totals",
	}, names)
}

func TestToolsCall_Chat(t *testing.T) {
	srv, userID := newTestServer(t)

	req := fmt.Sprintf(`{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"chat","arguments":{"user_id":%q,"message":"hello from mcp"}}}`, userID)
	resp := roundTrip(t, srv, req)
	require.Nil(t, resp.Error)

	data, err := json.Marshal(resp.Result)
	require.NoError(t, err)
	var result mcp.MCPToolCallResult
	require.NoError(t, json.Unmarshal(data, &result))

	require.Len(t, result.Content, 1)
	assert.False(t, result.IsError)
	assert.Contains(t, result.Content[0].Text, `"reply":"remembered"`)
}

func TestToolsCall_ValidationErrorIsToolError(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := roundTrip(t, srv, `{"jsonrpc":"2.0","id":4,"method":"tools/call","params":{"name":"chat","arguments":{}}}`)
	require.Nil(t, resp.Error, "validation failures are tool errors, not protocol errors")

	data, err := json.Marshal(resp.Result)
	require.NoError(t, err)
	var result mcp.MCPToolCallResult
	require.NoError(t, json.Unmarshal(data, &result))
	assert.True(t, result.IsError)
}

func TestToolsCall_UnknownTool(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := roundTrip(t, srv, `{"jsonrpc":"2.0","id":5,"method":"tools/call","params":{"name":"no_such_tool","arguments":{}}}`)
	require.NotNil(t, resp.Error)
	assert.Equal(t, mcp.ErrCodeServerError, resp.Error.Code)
}

func TestNativeMethods(t *testing.T) {
	srv, userID := newTestServer(t)

	// One chat turn seeds the memory.
	chatReq := fmt.Sprintf(`{"jsonrpc":"2.0","id":6,"method":"chat","params":{"user_id":%q,"message":"I collect typewriters."}}`, userID)
	chatResp := roundTrip(t, srv, chatReq)
	require.Nil(t, chatResp.Error)
	chatResult := chatResp.Result.(map[string]interface{})
	conversationID := chatResult["conversation_id"].(string)
	require.NotEmpty(t, conversationID)

	// retrieve_context finds the stored message.
	retrReq := fmt.Sprintf(`{"jsonrpc":"2.0","id":7,"method":"retrieve_context","params":{"user_id":%q,"query":"I collect typewriters."}}`, userID)
	retrResp := roundTrip(t, srv, retrReq)
	require.Nil(t, retrResp.Error)
	retrData, err := json.Marshal(retrResp.Result)
	require.NoError(t, err)
	var retrieved mcp.RetrieveContextResult
	require.NoError(t, json.Unmarshal(retrData, &retrieved))
	require.NotEmpty(t, retrieved.Entries)
	assert.Equal(t, "I collect typewriters.", retrieved.Entries[0].Content)
	assert.Nil(t, retrieved.Entries[0].Embedding)

	// conversation_history returns both turns.
	histReq := fmt.Sprintf(`{"jsonrpc":"2.0","id":8,"method":"conversation_history","params":{"user_id":%q,"conversation_id":%q}}`, userID, conversationID)
	histResp := roundTrip(t, srv, histReq)
	require.Nil(t, histResp.Error)
	histData, err := json.Marshal(histResp.Result)
	require.NoError(t, err)
	var history mcp.HistoryResult
	require.NoError(t, json.Unmarshal(histData, &history))
	assert.Len(t, history.Messages, 2)

	// usage_totals reflects the provider call.
	usageReq := fmt.Sprintf(`{"jsonrpc":"2.0","id":9,"method":"usage_totals","params":{"user_id":%q}}`, userID)
	usageResp := roundTrip(t, srv, usageReq)
	require.Nil(t, usageResp.Error)
	usageData, err := json.Marshal(usageResp.Result)
	require.NoError(t, err)
	var usage mcp.UsageResult
	require.NoError(t, json.Unmarshal(usageData, &usage))
	require.Len(t, usage.Totals, 1)
	assert.Equal(t, 10, usage.Totals[0].TotalTokens)

	// delete_conversation removes it.
	delReq := fmt.Sprintf(`{"jsonrpc":"2.0","id":10,"method":"delete_conversation","params":{"user_id":%q,"conversation_id":%q}}`, userID, conversationID)
	delResp := roundTrip(t, srv, delReq)
	require.Nil(t, delResp.Error)

	listReq := fmt.Sprintf(`{"jsonrpc":"2.0","id":11,"method":"list_conversations","params":{"user_id":%q}}`, userID)
	listResp := roundTrip(t, srv, listReq)
	require.Nil(t, listResp.Error)
	listData, err := json.Marshal(listResp.Result)
	require.NoError(t, err)
	var list mcp.ListConversationsResult
	require.NoError(t, json.Unmarshal(listData, &list))
	assert.Empty(t, list.Conversations)
}

func TestMethodNotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := roundTrip(t, srv, `{"jsonrpc":"2.0","id":12,"method":"nope"}`)
	require.NotNil(t, resp.Error)
	assert.Equal(t, mcp.ErrCodeMethodNotFound, resp.Error.Code)
}

func TestParseError(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := roundTrip(t, srv, `{not json`)
	require.NotNil(t, resp.Error)
	assert.Equal(t, mcp.ErrCodeParseError, resp.Error.Code)
}

func TestStdioTransport_RoundTrip(t *testing.T) {
	srv, userID := newTestServer(t)

	input := strings.Join([]string{
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2024-11-05","clientInfo":{"name":"t","version":"1"}}}`,
		fmt.Sprintf(`{"jsonrpc":"2.0","id":2,"method":"chat","params":{"user_id":%q,"message":"hi"}}`, userID),
	}, "\n") + "\n"

	var out bytes.Buffer
	transport := mcp.NewStdioTransport(srv, strings.NewReader(input), &out)
	require.NoError(t, transport.Serve(context.Background()))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"protocolVersion"`)
	assert.Contains(t, lines[1], `"reply":"remembered"`)
}
