package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/talvos/recall/internal/accounting"
	"github.com/talvos/recall/internal/engine"
	"github.com/talvos/recall/internal/export"
	"github.com/talvos/recall/internal/memory"
	"github.com/talvos/recall/internal/storage"
)

// APIHandlers contains the HTTP handlers of the REST API.
type APIHandlers struct {
	engine     *engine.ChatEngine
	manager    *memory.Manager
	accountant *accounting.Accountant
	exporter   *export.Exporter
	users      storage.UserStore
	health     HealthResponse
}

// NewAPIHandlers creates an APIHandlers instance. health describes the
// deployment and is returned verbatim by the health endpoint.
func NewAPIHandlers(eng *engine.ChatEngine, manager *memory.Manager, accountant *accounting.Accountant, exporter *export.Exporter, users storage.UserStore, health HealthResponse) *APIHandlers {
	health.Status = "ok"
	return &APIHandlers{
		engine:     eng,
		manager:    manager,
		accountant: accountant,
		exporter:   exporter,
		users:      users,
		health:     health,
	}
}

// Health handles GET /api/health.
func (h *APIHandlers) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.health)
}

// Chat handles POST /api/chat - run one chat turn.
func (h *APIHandlers) Chat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.UserID == "" || req.Message == "" {
		respondError(w, http.StatusBadRequest, "user_id and message are required", nil)
		return
	}

	resp, err := h.engine.SendMessage(r.Context(), req.UserID, req.ConversationID, req.Message)
	if err != nil {
		if errors.Is(err, memory.ErrProvider) {
			respondError(w, http.StatusBadGateway, "provider request failed", err)
			return
		}
		respondError(w, http.StatusInternalServerError, "chat failed", err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// Context handles GET /api/context - retrieve the memories most relevant to
// a query. An empty result is a valid, empty array.
func (h *APIHandlers) Context(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	query := r.URL.Query().Get("query")
	if userID == "" || query == "" {
		respondError(w, http.StatusBadRequest, "user_id and query are required", nil)
		return
	}

	entries, err := h.manager.RetrieveContext(r.Context(), userID,
		r.URL.Query().Get("conversation_id"), query)
	if err != nil {
		if errors.Is(err, memory.ErrEmbedding) {
			respondError(w, http.StatusBadGateway, "embedding failed", err)
			return
		}
		respondError(w, http.StatusInternalServerError, "retrieval failed", err)
		return
	}
	for i := range entries {
		entries[i].Embedding = nil
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}

// ListConversations handles GET /api/conversations.
func (h *APIHandlers) ListConversations(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		respondError(w, http.StatusBadRequest, "user_id is required", nil)
		return
	}

	ids, err := h.manager.Conversations(r.Context(), userID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list conversations", err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"conversations": ids})
}

// History handles GET /api/conversations/{id}/history.
func (h *APIHandlers) History(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	conversationID := r.PathValue("id")
	if userID == "" || conversationID == "" {
		respondError(w, http.StatusBadRequest, "user_id and conversation id are required", nil)
		return
	}

	entries, err := h.manager.History(r.Context(), userID, conversationID,
		parseInt(r.URL.Query().Get("limit"), 0))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load history", err)
		return
	}
	summaries, err := h.manager.Summaries(r.Context(), userID, conversationID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load summaries", err)
		return
	}
	for i := range entries {
		entries[i].Embedding = nil
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"summaries": summaries,
		"messages":  entries,
	})
}

// DeleteConversation handles DELETE /api/conversations/{id}. Deleting a
// conversation with no entries succeeds; the operation is idempotent.
func (h *APIHandlers) DeleteConversation(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	conversationID := r.PathValue("id")
	if userID == "" || conversationID == "" {
		respondError(w, http.StatusBadRequest, "user_id and conversation id are required", nil)
		return
	}

	if err := h.manager.DeleteConversation(r.Context(), userID, conversationID); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to delete conversation", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Usage handles GET /api/usage - aggregate token and cost totals. The
// default window is the last 30 days; days=0 means all time.
func (h *APIHandlers) Usage(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		respondError(w, http.StatusBadRequest, "user_id is required", nil)
		return
	}

	var since time.Time
	switch days := parseInt(r.URL.Query().Get("days"), 30); {
	case days > 0:
		since = time.Now().UTC().AddDate(0, 0, -days)
	}

	totals, err := h.accountant.Totals(r.Context(), userID, since)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to aggregate usage", err)
		return
	}
	if totals == nil {
		totals = []storage.UsageTotals{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"totals": totals})
}

// Export handles GET /api/export - download a conversation transcript as
// markdown (default) or json.
func (h *APIHandlers) Export(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	conversationID := r.URL.Query().Get("conversation_id")
	if userID == "" || conversationID == "" {
		respondError(w, http.StatusBadRequest, "user_id and conversation_id are required", nil)
		return
	}

	transcript, err := h.exporter.Build(r.Context(), userID, conversationID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to build transcript", err)
		return
	}

	switch format := r.URL.Query().Get("format"); format {
	case "json":
		data, err := transcript.JSON()
		if err != nil {
			respondError(w, http.StatusInternalServerError, "failed to render transcript", err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Disposition",
			fmt.Sprintf("attachment; filename=%q", "conversation-"+conversationID+".json"))
		_, _ = w.Write(data)
	case "markdown", "":
		md, err := transcript.Markdown()
		if err != nil {
			respondError(w, http.StatusInternalServerError, "failed to render transcript", err)
			return
		}
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		w.Header().Set("Content-Disposition",
			fmt.Sprintf("attachment; filename=%q", "conversation-"+conversationID+".md"))
		_, _ = w.Write([]byte(md))
	default:
		respondError(w, http.StatusBadRequest, "unknown export format", nil)
	}
}

// CreateUser handles POST /api/users - mint a new user id.
func (h *APIHandlers) CreateUser(w http.ResponseWriter, r *http.Request) {
	id := uuid.NewString()
	if err := h.users.CreateUser(r.Context(), id); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to create user", err)
		return
	}
	respondJSON(w, http.StatusCreated, CreateUserResponse{ID: id})
}

// DeleteUser handles DELETE /api/users/{id}. Entries, summaries, and usage
// records cascade.
func (h *APIHandlers) DeleteUser(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		respondError(w, http.StatusBadRequest, "user id is required", nil)
		return
	}

	if err := h.users.DeleteUser(r.Context(), id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			respondError(w, http.StatusNotFound, "user not found", nil)
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to delete user", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// parseInt parses an integer, returning defaultValue if parsing fails.
func parseInt(s string, defaultValue int) int {
	if s == "" {
		return defaultValue
	}
	val, err := strconv.Atoi(s)
	if err != nil {
		return defaultValue
	}
	return val
}

// respondJSON writes a JSON response with the given status code.
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Headers already sent; nothing more we can do.
		fmt.Printf("failed to encode JSON response: %v\n", err)
	}
}

// respondError writes an error response with the given status code.
func respondError(w http.ResponseWriter, statusCode int, message string, err error) {
	errResp := ErrorResponse{
		Error: message,
		Code:  http.StatusText(statusCode),
	}
	if err != nil {
		errResp.Details = map[string]interface{}{"error": err.Error()}
	}
	respondJSON(w, statusCode, errResp)
}
