// Package session holds the mutable state of one live voice session:
// the two socket legs, the captured transcript, and the bookkeeping
// the conversation logger reads at teardown.
package session

import (
	"sort"
	"sync"
	"time"

	"github.com/HaoZhang615/Realtime-Synthetic-Call-Center-Agents-sub000/pkg/agent"
	"github.com/HaoZhang615/Realtime-Synthetic-Call-Center-Agents-sub000/pkg/realtime"
)

// DisconnectReason classifies why a session ended.
type DisconnectReason string

const (
	ReasonClientClosed   DisconnectReason = "client_closed"
	ReasonUpstreamClosed DisconnectReason = "upstream_closed"
	ReasonAuthFailed     DisconnectReason = "auth_failed"
	ReasonInternalError  DisconnectReason = "internal_error"
	ReasonCompleted      DisconnectReason = "completed"
)

// Sender identifies who produced a captured message.
type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
)

// CapturedMessage is one finalized transcript entry.
type CapturedMessage struct {
	Sender      Sender `json:"sender" bson:"sender"`
	Text        string `json:"text" bson:"text"`
	Interrupted bool   `json:"interrupted" bson:"interrupted"`
}

// Session is the per-connection state shared by the two bridge pumps
// and the manager. Connection fields are set once at accept time; all
// mutable state goes through the mutex.
type Session struct {
	ID        string
	SubjectID string
	Client    *realtime.Conn
	Upstream  *realtime.Conn
	StartedAt time.Time

	mu            sync.Mutex
	activeAgentID string
	initialAgent  string
	composed      map[string]any
	messages      []CapturedMessage
	toolsCalled   map[string]struct{}
	agentsUsed    []string
	agentsSeen    map[string]struct{}
	endedAt       time.Time
	reason        DisconnectReason
	graceful      bool
}

// New creates a session whose active agent starts at the root alias.
func New(id, subjectID string, client, upstream *realtime.Conn) *Session {
	s := &Session{
		ID:            id,
		SubjectID:     subjectID,
		Client:        client,
		Upstream:      upstream,
		StartedAt:     time.Now(),
		activeAgentID: agent.RootAlias,
		initialAgent:  agent.RootAlias,
		toolsCalled:   make(map[string]struct{}),
		agentsSeen:    make(map[string]struct{}),
	}
	s.recordAgentLocked(agent.RootAlias)
	return s
}

// ActiveAgent returns the id of the agent currently steering the
// session.
func (s *Session) ActiveAgent() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeAgentID
}

// SetActiveAgent records a completed handover.
func (s *Session) SetActiveAgent(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeAgentID = id
	s.recordAgentLocked(id)
}

func (s *Session) recordAgentLocked(id string) {
	if _, seen := s.agentsSeen[id]; seen {
		return
	}
	s.agentsSeen[id] = struct{}{}
	s.agentsUsed = append(s.agentsUsed, id)
}

// Composed returns the last session configuration sent upstream, or
// nil before the first session.update.
func (s *Session) Composed() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.composed
}

// SetComposed stores the configuration that is now live upstream.
func (s *Session) SetComposed(composed map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.composed = composed
}

// AppendMessage adds a finalized transcript entry.
func (s *Session) AppendMessage(sender Sender, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, CapturedMessage{Sender: sender, Text: text})
}

// MarkAssistantInterrupted flags the most recent assistant message as
// cut off. Reports whether a message was marked.
func (s *Session) MarkAssistantInterrupted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.messages) - 1; i >= 0; i-- {
		if s.messages[i].Sender == SenderAssistant {
			if s.messages[i].Interrupted {
				return false
			}
			s.messages[i].Interrupted = true
			return true
		}
	}
	return false
}

// MessageCount reports the number of captured messages.
func (s *Session) MessageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

// RecordToolCall notes that a concrete tool produced output in this
// session.
func (s *Session) RecordToolCall(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.toolsCalled[name] = struct{}{}
}

// SetDisconnect records how the session ended. The first recorded
// reason wins; later calls from the losing pump are ignored.
func (s *Session) SetDisconnect(reason DisconnectReason, graceful bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reason != "" {
		return
	}
	s.reason = reason
	s.graceful = graceful
}

// Finish stamps the end time and fills in the completed reason when
// no pump recorded one. Safe to call more than once.
func (s *Session) Finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.endedAt.IsZero() {
		s.endedAt = time.Now()
	}
	if s.reason == "" {
		s.reason = ReasonCompleted
		s.graceful = true
	}
}

// Snapshot is an immutable copy of the session bookkeeping, taken for
// the conversation logger.
type Snapshot struct {
	ID               string
	SubjectID        string
	StartedAt        time.Time
	EndedAt          time.Time
	DisconnectReason DisconnectReason
	Graceful         bool
	Messages         []CapturedMessage
	ToolsCalled      []string
	AgentsUsed       []string
	InitialAgent     string
}

// Snapshot copies the current state. Tools are sorted for stable
// output; agents keep first-use order.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	messages := make([]CapturedMessage, len(s.messages))
	copy(messages, s.messages)

	tools := make([]string, 0, len(s.toolsCalled))
	for name := range s.toolsCalled {
		tools = append(tools, name)
	}
	sort.Strings(tools)

	agents := make([]string, len(s.agentsUsed))
	copy(agents, s.agentsUsed)

	return Snapshot{
		ID:               s.ID,
		SubjectID:        s.SubjectID,
		StartedAt:        s.StartedAt,
		EndedAt:          s.endedAt,
		DisconnectReason: s.reason,
		Graceful:         s.graceful,
		Messages:         messages,
		ToolsCalled:      tools,
		AgentsUsed:       agents,
		InitialAgent:     s.initialAgent,
	}
}
