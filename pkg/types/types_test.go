package types_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talvos/recall/pkg/types"
)

func validEntry() *types.MemoryEntry {
	return &types.MemoryEntry{
		ID:             "e3b0c442-98fc-4c14-9af4-000000000001",
		UserID:         "e3b0c442-98fc-4c14-9af4-000000000002",
		ConversationID: "e3b0c442-98fc-4c14-9af4-000000000003",
		Role:           types.RoleUser,
		Content:        "hello",
		Embedding:      []float32{0.1, 0.2, 0.3},
	}
}

func TestIsValidRole(t *testing.T) {
	assert.True(t, types.IsValidRole(types.RoleUser))
	assert.True(t, types.IsValidRole(types.RoleAssistant))
	assert.True(t, types.IsValidRole(types.RoleSystem))
	assert.False(t, types.IsValidRole(types.Role("moderator")))
	assert.False(t, types.IsValidRole(types.Role("")))
}

func TestMemoryEntryValidate(t *testing.T) {
	require.NoError(t, validEntry().Validate())

	cases := []struct {
		name   string
		mutate func(*types.MemoryEntry)
	}{
		{"missing id", func(e *types.MemoryEntry) { e.ID = "" }},
		{"missing user", func(e *types.MemoryEntry) { e.UserID = "" }},
		{"missing conversation", func(e *types.MemoryEntry) { e.ConversationID = "" }},
		{"bad role", func(e *types.MemoryEntry) { e.Role = "narrator" }},
		{"missing content", func(e *types.MemoryEntry) { e.Content = "" }},
		{"missing embedding", func(e *types.MemoryEntry) { e.Embedding = nil }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := validEntry()
			tc.mutate(e)
			assert.Error(t, e.Validate())
		})
	}
}
