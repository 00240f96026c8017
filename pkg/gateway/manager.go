// Package gateway owns the session lifecycle: accepting client
// sockets, dialing the upstream, running bridges and tearing
// everything down into a logged conversation document.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/HaoZhang615/Realtime-Synthetic-Call-Center-Agents-sub000/pkg/agent"
	"github.com/HaoZhang615/Realtime-Synthetic-Call-Center-Agents-sub000/pkg/auth"
	"github.com/HaoZhang615/Realtime-Synthetic-Call-Center-Agents-sub000/pkg/bridge"
	"github.com/HaoZhang615/Realtime-Synthetic-Call-Center-Agents-sub000/pkg/config"
	"github.com/HaoZhang615/Realtime-Synthetic-Call-Center-Agents-sub000/pkg/observability"
	"github.com/HaoZhang615/Realtime-Synthetic-Call-Center-Agents-sub000/pkg/realtime"
	"github.com/HaoZhang615/Realtime-Synthetic-Call-Center-Agents-sub000/pkg/session"
	"github.com/HaoZhang615/Realtime-Synthetic-Call-Center-Agents-sub000/pkg/tools/customerdata"
)

// ConversationLogger receives the snapshot of every ended session.
// Satisfied by convlog.Logger.
type ConversationLogger interface {
	Log(ctx context.Context, snap session.Snapshot)
}

// UpstreamDialer opens the provider socket for a new session.
type UpstreamDialer func(ctx context.Context) (*realtime.Conn, error)

// Option configures a Manager.
type Option func(*Manager)

// WithUpstream dials the configured realtime provider with a bearer
// token from tokens.
func WithUpstream(cfg config.UpstreamConfig, tokens auth.TokenProvider) Option {
	return func(m *Manager) {
		m.dial = func(ctx context.Context) (*realtime.Conn, error) {
			token, err := tokens.Token(ctx)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", realtime.ErrAuthFailed, err)
			}
			return realtime.Dial(ctx, cfg, token)
		}
	}
}

// WithDialer replaces the upstream dialer.
func WithDialer(dial UpstreamDialer) Option {
	return func(m *Manager) { m.dial = dial }
}

// WithStore binds the customer document store used for subject
// initialization.
func WithStore(store customerdata.Store) Option {
	return func(m *Manager) { m.store = store }
}

// WithConversationLogger sets the logger that persists ended sessions.
func WithConversationLogger(logger ConversationLogger) Option {
	return func(m *Manager) { m.logger = logger }
}

type managedSession struct {
	sess   *session.Session
	cancel context.CancelFunc
}

// Manager indexes the live sessions and drives their lifecycle. One
// manager serves the whole process.
type Manager struct {
	registry   *agent.Registry
	dispatcher *agent.Dispatcher
	dial       UpstreamDialer
	store      customerdata.Store
	logger     ConversationLogger

	mu        sync.Mutex
	sessions  map[string]*managedSession
	bySubject map[string]map[string]*managedSession
	subjects  map[string]bool
}

var _ bridge.SubjectInitializer = (*Manager)(nil)

// NewManager builds a manager over the shared registry and dispatcher.
func NewManager(registry *agent.Registry, dispatcher *agent.Dispatcher, opts ...Option) *Manager {
	m := &Manager{
		registry:   registry,
		dispatcher: dispatcher,
		sessions:   make(map[string]*managedSession),
		bySubject:  make(map[string]map[string]*managedSession),
		subjects:   make(map[string]bool),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.dial == nil {
		m.dial = func(context.Context) (*realtime.Conn, error) {
			return nil, fmt.Errorf("%w: no upstream configured", realtime.ErrHandshakeFailed)
		}
	}
	return m
}

// Accept takes ownership of an upgraded client socket: it creates and
// indexes the session, confirms the connection, dials the upstream
// and launches the bridge. On failure the session is torn down before
// returning; auth and handshake failures tell the client first.
func (m *Manager) Accept(ctx context.Context, clientConn *realtime.Conn, subjectID string) (*session.Session, error) {
	sess := session.New(uuid.NewString(), subjectID, clientConn, nil)

	// The bridge outlives the HTTP handler that accepted the socket,
	// so the session context derives from the process, not the request.
	sessCtx, cancel := context.WithCancel(context.Background())
	m.index(sess, cancel)

	slog.Info("Session accepted", "session_id", sess.ID, "subject_id", subjectID)

	if err := clientConn.WriteJSON(map[string]any{"type": "connection.established"}); err != nil {
		sess.SetDisconnect(session.ReasonClientClosed, false)
		m.Teardown(sess)
		return nil, fmt.Errorf("connection handshake: %w", err)
	}

	upstream, err := m.dial(ctx)
	if err != nil {
		if errors.Is(err, realtime.ErrAuthFailed) {
			sess.SetDisconnect(session.ReasonAuthFailed, false)
		} else {
			sess.SetDisconnect(session.ReasonInternalError, false)
		}
		if writeErr := clientConn.WriteJSON(map[string]any{"type": "error", "error": "auth"}); writeErr != nil {
			slog.Debug("Failed to notify client of upstream failure", "session_id", sess.ID, "error", writeErr)
		}
		m.Teardown(sess)
		return nil, fmt.Errorf("upstream dial: %w", err)
	}
	sess.Upstream = upstream

	observability.GetGlobalMetrics().RecordSessionStart(sessCtx)
	go m.runSession(sessCtx, sess)
	return sess, nil
}

func (m *Manager) runSession(ctx context.Context, sess *session.Session) {
	b := bridge.New(sess, m.registry, m.dispatcher, m)
	if err := b.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Debug("Bridge exited", "session_id", sess.ID, "error", err)
	}
	m.Teardown(sess)
}

// EnsureInitialized registers the subject-bound database agent the
// first time a subject shows up. Subjects stay initialized for the
// process lifetime; repeated calls are no-ops.
func (m *Manager) EnsureInitialized(ctx context.Context, subjectID string) error {
	if subjectID == "" || m.store == nil {
		return nil
	}

	m.mu.Lock()
	done := m.subjects[subjectID]
	m.mu.Unlock()
	if done {
		return nil
	}

	if err := m.registry.Register(customerdata.DatabaseAgent(m.store, subjectID)); err != nil {
		return fmt.Errorf("subject agent registration: %w", err)
	}

	m.mu.Lock()
	m.subjects[subjectID] = true
	m.mu.Unlock()

	slog.Info("Subject agents initialized", "subject_id", subjectID)
	return nil
}

// Teardown ends a session: stamp the end, cancel the pumps, close
// both sockets, drop the index entries and hand the snapshot to the
// conversation logger. Safe to call more than once; only the call
// that removes the session from the index logs it.
func (m *Manager) Teardown(sess *session.Session) {
	m.mu.Lock()
	managed, indexed := m.sessions[sess.ID]
	if indexed {
		delete(m.sessions, sess.ID)
		if sess.SubjectID != "" {
			if bucket := m.bySubject[sess.SubjectID]; bucket != nil {
				delete(bucket, sess.ID)
				if len(bucket) == 0 {
					delete(m.bySubject, sess.SubjectID)
				}
			}
		}
	}
	m.mu.Unlock()

	sess.Finish()
	if indexed && managed.cancel != nil {
		managed.cancel()
	}
	sess.Client.Close()
	if sess.Upstream != nil {
		sess.Upstream.Close()
	}

	if !indexed {
		return
	}

	snap := sess.Snapshot()
	duration := time.Duration(0)
	if snap.EndedAt.After(snap.StartedAt) {
		duration = snap.EndedAt.Sub(snap.StartedAt)
	}
	observability.GetGlobalMetrics().RecordSessionEnd(context.Background(), string(snap.DisconnectReason), duration)
	slog.Info("Session ended",
		"session_id", snap.ID,
		"reason", snap.DisconnectReason,
		"graceful", snap.Graceful,
		"messages", len(snap.Messages))

	if m.logger != nil {
		go m.logger.Log(context.Background(), snap)
	}
}

// Stats summarizes the live session index.
type Stats struct {
	ActiveSessions  int            `json:"active_sessions"`
	UniqueSubjects  int            `json:"unique_subjects"`
	SessionsByAgent map[string]int `json:"sessions_by_agent"`
}

// Stats reports active sessions, distinct subjects and a per
// active-agent breakdown.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := Stats{
		ActiveSessions:  len(m.sessions),
		UniqueSubjects:  len(m.bySubject),
		SessionsByAgent: make(map[string]int),
	}
	for _, managed := range m.sessions {
		stats.SessionsByAgent[managed.sess.ActiveAgent()]++
	}
	return stats
}

// BroadcastToSubject sends frame to every active session of a
// subject, best effort. Returns the number of sessions reached.
func (m *Manager) BroadcastToSubject(subjectID string, frame any) int {
	m.mu.Lock()
	targets := make([]*managedSession, 0, len(m.bySubject[subjectID]))
	for _, managed := range m.bySubject[subjectID] {
		targets = append(targets, managed)
	}
	m.mu.Unlock()

	delivered := 0
	for _, managed := range targets {
		if err := managed.sess.Client.WriteJSON(frame); err != nil {
			slog.Warn("Broadcast delivery failed", "session_id", managed.sess.ID, "error", err)
			continue
		}
		delivered++
	}
	return delivered
}

// Shutdown tears down every active session.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	active := make([]*session.Session, 0, len(m.sessions))
	for _, managed := range m.sessions {
		active = append(active, managed.sess)
	}
	m.mu.Unlock()

	for _, sess := range active {
		m.Teardown(sess)
	}
}

func (m *Manager) index(sess *session.Session, cancel context.CancelFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()

	managed := &managedSession{sess: sess, cancel: cancel}
	m.sessions[sess.ID] = managed
	if sess.SubjectID != "" {
		bucket := m.bySubject[sess.SubjectID]
		if bucket == nil {
			bucket = make(map[string]*managedSession)
			m.bySubject[sess.SubjectID] = bucket
		}
		bucket[sess.ID] = managed
	}
}
