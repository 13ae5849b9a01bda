// Package export renders conversation transcripts for download, as
// Markdown with a YAML frontmatter header or as JSON.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/talvos/recall/internal/memory"
	"github.com/talvos/recall/pkg/types"
)

// Transcript is the assembled export payload: the conversation's summaries
// in creation order followed by its surviving raw turns in chronological
// order.
type Transcript struct {
	UserID         string              `json:"user_id" yaml:"user_id"`
	ConversationID string              `json:"conversation_id" yaml:"conversation_id"`
	ExportedAt     time.Time           `json:"exported_at" yaml:"exported_at"`
	Summaries      []types.Summary     `json:"summaries" yaml:"-"`
	Messages       []types.MemoryEntry `json:"messages" yaml:"-"`
}

// Exporter assembles transcripts from the memory core.
type Exporter struct {
	manager *memory.Manager
}

// NewExporter creates an Exporter over the given manager.
func NewExporter(manager *memory.Manager) *Exporter {
	return &Exporter{manager: manager}
}

// Build assembles the transcript of one conversation.
func (e *Exporter) Build(ctx context.Context, userID, conversationID string) (*Transcript, error) {
	summaries, err := e.manager.Summaries(ctx, userID, conversationID)
	if err != nil {
		return nil, fmt.Errorf("export: failed to load summaries: %w", err)
	}
	messages, err := e.manager.History(ctx, userID, conversationID, 0)
	if err != nil {
		return nil, fmt.Errorf("export: failed to load messages: %w", err)
	}

	// Exported entries carry no embeddings; they are retrieval internals.
	for i := range messages {
		messages[i].Embedding = nil
	}

	return &Transcript{
		UserID:         userID,
		ConversationID: conversationID,
		ExportedAt:     time.Now().UTC(),
		Summaries:      summaries,
		Messages:       messages,
	}, nil
}

// frontmatter is the YAML header of a Markdown export.
type frontmatter struct {
	UserID         string    `yaml:"user_id"`
	ConversationID string    `yaml:"conversation_id"`
	ExportedAt     time.Time `yaml:"exported_at"`
	Summaries      int       `yaml:"summaries"`
	Messages       int       `yaml:"messages"`
}

// Markdown renders the transcript as a Markdown document with YAML
// frontmatter.
func (t *Transcript) Markdown() (string, error) {
	head, err := yaml.Marshal(frontmatter{
		UserID:         t.UserID,
		ConversationID: t.ConversationID,
		ExportedAt:     t.ExportedAt,
		Summaries:      len(t.Summaries),
		Messages:       len(t.Messages),
	})
	if err != nil {
		return "", fmt.Errorf("export: failed to render frontmatter: %w", err)
	}

	var b strings.Builder
	b.WriteString("---\n")
	b.Write(head)
	b.WriteString("---\n\n")
	b.WriteString("# Conversation transcript\n\n")

	if len(t.Summaries) > 0 {
		b.WriteString("## Earlier conversation (summarized)\n\n")
		for _, s := range t.Summaries {
			fmt.Fprintf(&b, "> %s\n>\n> _%d messages, %s_\n\n",
				strings.ReplaceAll(s.SummaryText, "\n", "\n> "),
				s.MessagesCount,
				s.CreatedAt.UTC().Format(time.RFC3339))
		}
	}

	if len(t.Messages) > 0 {
		b.WriteString("## Messages\n\n")
		for _, m := range t.Messages {
			fmt.Fprintf(&b, "**%s** (%s):\n\n%s\n\n",
				m.Role,
				m.CreatedAt.UTC().Format(time.RFC3339),
				m.Content)
		}
	}

	return b.String(), nil
}

// JSON renders the transcript as indented JSON.
func (t *Transcript) JSON() ([]byte, error) {
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("export: failed to render JSON: %w", err)
	}
	return data, nil
}
