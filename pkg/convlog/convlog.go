// Package convlog persists finished voice sessions to the document
// store. Logging is strictly best effort: a session teardown never
// fails because its conversation could not be written.
package convlog

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/HaoZhang615/Realtime-Synthetic-Call-Center-Agents-sub000/pkg/completion"
	"github.com/HaoZhang615/Realtime-Synthetic-Call-Center-Agents-sub000/pkg/observability"
	"github.com/HaoZhang615/Realtime-Synthetic-Call-Center-Agents-sub000/pkg/session"
)

const (
	// anonymousSubject partitions conversations that had no
	// authenticated subject.
	anonymousSubject = "anonymous"

	// titleMessageLimit caps how many transcript messages feed the
	// title prompt.
	titleMessageLimit = 10

	// titlePromptTokenBudget bounds the title prompt size.
	titlePromptTokenBudget = 800

	titleMaxTokens = 20

	// fallbackTitleLength is the rune cut of the fallback title.
	fallbackTitleLength = 40

	writeTimeout = 15 * time.Second
)

// Document is the persisted shape of one conversation.
type Document struct {
	ID               string                    `bson:"id" json:"id"`
	SubjectID        string                    `bson:"subject_id" json:"subject_id"`
	Title            string                    `bson:"title" json:"title"`
	SessionStart     string                    `bson:"session_start" json:"session_start"`
	SessionEnd       string                    `bson:"session_end" json:"session_end"`
	DurationSeconds  float64                   `bson:"duration_seconds" json:"duration_seconds"`
	DisconnectReason string                    `bson:"disconnect_reason" json:"disconnect_reason"`
	Graceful         bool                      `bson:"graceful" json:"graceful"`
	Messages         []session.CapturedMessage `bson:"messages" json:"messages"`
	Metadata         Metadata                  `bson:"metadata" json:"metadata"`
}

// Metadata summarizes a conversation for querying.
type Metadata struct {
	TotalMessages     int      `bson:"total_messages" json:"total_messages"`
	UserMessages      int      `bson:"user_messages" json:"user_messages"`
	AssistantMessages int      `bson:"assistant_messages" json:"assistant_messages"`
	Interruptions     int      `bson:"interruptions" json:"interruptions"`
	AgentsUsed        []string `bson:"agents_used" json:"agents_used"`
	ToolsCalled       []string `bson:"tools_called" json:"tools_called"`
	InitialAgent      string   `bson:"initial_agent" json:"initial_agent"`
}

// Store is the conversation sink, satisfied by docstore.Store.
type Store interface {
	CreateConversation(ctx context.Context, doc any) error
}

// TitleCompleter produces a short conversation title, satisfied by
// completion.Client.
type TitleCompleter interface {
	Complete(ctx context.Context, messages []completion.Message, maxTokens int) (string, error)
}

// Logger writes conversation documents at session teardown.
type Logger struct {
	store      Store
	titler     TitleCompleter
	titleModel string
	tokens     *tokenCounter
	now        func() time.Time
}

// New builds a logger. titler may be nil, in which case every title
// falls back to the first user message.
func New(store Store, titler TitleCompleter, titleModel string) *Logger {
	return &Logger{
		store:      store,
		titler:     titler,
		titleModel: titleModel,
		tokens:     newTokenCounter(),
		now:        time.Now,
	}
}

// Log persists the snapshot. Sessions without captured messages are
// skipped, and every failure is logged and swallowed.
func (l *Logger) Log(ctx context.Context, snap session.Snapshot) {
	if len(snap.Messages) == 0 {
		slog.Debug("Skipping conversation log for empty session", "session_id", snap.ID)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	doc := l.buildDocument(snap, l.generateTitle(ctx, snap))
	if err := l.store.CreateConversation(ctx, doc); err != nil {
		slog.Error("Failed to persist conversation", "session_id", snap.ID, "error", err)
		observability.GetGlobalMetrics().RecordConversationWrite(ctx, false)
		return
	}
	observability.GetGlobalMetrics().RecordConversationWrite(ctx, true)
	slog.Info("Conversation persisted", "session_id", snap.ID, "document_id", doc.ID, "messages", len(snap.Messages))
}

func (l *Logger) buildDocument(snap session.Snapshot, title string) *Document {
	subject := snap.SubjectID
	if subject == "" {
		subject = anonymousSubject
	}

	meta := Metadata{
		TotalMessages: len(snap.Messages),
		AgentsUsed:    snap.AgentsUsed,
		ToolsCalled:   snap.ToolsCalled,
		InitialAgent:  snap.InitialAgent,
	}
	for _, msg := range snap.Messages {
		switch msg.Sender {
		case session.SenderUser:
			meta.UserMessages++
		case session.SenderAssistant:
			meta.AssistantMessages++
		}
		if msg.Interrupted {
			meta.Interruptions++
		}
	}

	return &Document{
		ID:               fmt.Sprintf("ai_conv_%s_%d", snap.ID, l.now().UnixMilli()),
		SubjectID:        subject,
		Title:            title,
		SessionStart:     snap.StartedAt.Format(time.RFC3339),
		SessionEnd:       snap.EndedAt.Format(time.RFC3339),
		DurationSeconds:  snap.EndedAt.Sub(snap.StartedAt).Seconds(),
		DisconnectReason: string(snap.DisconnectReason),
		Graceful:         snap.Graceful,
		Messages:         snap.Messages,
		Metadata:         meta,
	}
}

// generateTitle asks the completion deployment for a short title and
// falls back to the first user message when that fails.
func (l *Logger) generateTitle(ctx context.Context, snap session.Snapshot) string {
	if l.titler == nil {
		return fallbackTitle(snap)
	}

	transcript := l.titleTranscript(snap)
	if transcript == "" {
		return fallbackTitle(snap)
	}

	title, err := l.titler.Complete(ctx, []completion.Message{
		{Role: "system", Content: "Create a very short title, at most eight words, for the following call transcript. Reply with the title only."},
		{Role: "user", Content: transcript},
	}, titleMaxTokens)
	if err != nil {
		slog.Warn("Title generation failed, using fallback", "session_id", snap.ID, "error", err)
		return fallbackTitle(snap)
	}
	title = strings.Trim(strings.TrimSpace(title), `"`)
	if title == "" {
		return fallbackTitle(snap)
	}
	return title
}

// titleTranscript renders the first messages of the session, bounded
// by both a message cap and a token budget.
func (l *Logger) titleTranscript(snap session.Snapshot) string {
	var b strings.Builder
	used := 0
	for i, msg := range snap.Messages {
		if i >= titleMessageLimit {
			break
		}
		line := fmt.Sprintf("%s: %s\n", msg.Sender, msg.Text)
		cost := l.tokens.Count(l.titleModel, line) + 3
		if used+cost > titlePromptTokenBudget {
			break
		}
		used += cost
		b.WriteString(line)
	}
	return strings.TrimSpace(b.String())
}

func fallbackTitle(snap session.Snapshot) string {
	for _, msg := range snap.Messages {
		if msg.Sender != session.SenderUser {
			continue
		}
		runes := []rune(msg.Text)
		if len(runes) > fallbackTitleLength {
			return string(runes[:fallbackTitleLength]) + "..."
		}
		return msg.Text
	}
	return "Untitled conversation"
}
