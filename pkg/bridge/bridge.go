// Package bridge relays frames between the client socket and the
// upstream realtime socket. One bridge serves one session: two pumps
// under an errgroup, each owning one read direction, with the frame
// interception that makes the agent machinery invisible to both ends.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/HaoZhang615/Realtime-Synthetic-Call-Center-Agents-sub000/pkg/agent"
	"github.com/HaoZhang615/Realtime-Synthetic-Call-Center-Agents-sub000/pkg/observability"
	"github.com/HaoZhang615/Realtime-Synthetic-Call-Center-Agents-sub000/pkg/session"
)

// maxViolations is the number of consecutive malformed frames one
// direction tolerates before the session is killed.
const maxViolations = 3

const (
	directionClientToUpstream = "client_to_upstream"
	directionUpstreamToClient = "upstream_to_client"
)

// SubjectInitializer registers the subject-bound agents on first use.
// Implemented by the session manager.
type SubjectInitializer interface {
	EnsureInitialized(ctx context.Context, subjectID string) error
}

// Bridge runs the two pumps for one session.
type Bridge struct {
	sess       *session.Session
	registry   *agent.Registry
	dispatcher *agent.Dispatcher
	subjects   SubjectInitializer

	subjectReady bool
}

// New wires a bridge over an accepted session. subjects may be nil
// for sessions that never carry a subject.
func New(sess *session.Session, registry *agent.Registry, dispatcher *agent.Dispatcher, subjects SubjectInitializer) *Bridge {
	return &Bridge{
		sess:       sess,
		registry:   registry,
		dispatcher: dispatcher,
		subjects:   subjects,
	}
}

// Run pumps frames in both directions until either socket closes or a
// protocol failure kills the session. The disconnect reason is
// recorded on the session; the returned error is the first pump
// error, for logging only.
func (b *Bridge) Run(ctx context.Context) error {
	group, groupCtx := errgroup.WithContext(ctx)

	// Pumps block in socket reads, so cancellation works by closing
	// both sockets once the first pump exits.
	go func() {
		<-groupCtx.Done()
		b.sess.Client.Close()
		b.sess.Upstream.Close()
	}()

	group.Go(func() error { return b.pumpClientToUpstream(groupCtx) })
	group.Go(func() error { return b.pumpUpstreamToClient(groupCtx) })

	err := group.Wait()
	slog.Debug("Bridge finished", "session_id", b.sess.ID, "error", err)
	return err
}

// pumpClientToUpstream relays browser frames to the upstream socket,
// composing session.update frames on the way through.
func (b *Bridge) pumpClientToUpstream(ctx context.Context) error {
	metrics := observability.GetGlobalMetrics()
	violations := 0

	for {
		data, err := b.sess.Client.ReadMessage()
		if err != nil {
			b.sess.SetDisconnect(session.ReasonClientClosed, true)
			return fmt.Errorf("client read: %w", err)
		}
		metrics.RecordFrame(ctx, directionClientToUpstream)

		var frame map[string]any
		if err := json.Unmarshal(data, &frame); err != nil {
			violations++
			slog.Warn("Dropping malformed client frame", "session_id", b.sess.ID, "violations", violations)
			if violations > maxViolations {
				b.sess.SetDisconnect(session.ReasonInternalError, false)
				b.sess.Client.CloseWithStatus(websocket.ClosePolicyViolation, "too many malformed frames")
				return fmt.Errorf("client violation budget exceeded")
			}
			continue
		}
		violations = 0

		outbound := data
		if frameType, _ := frame["type"].(string); frameType == "session.update" {
			composed, err := json.Marshal(b.composeSessionUpdate(ctx, frame))
			if err != nil {
				slog.Error("Failed to encode composed session.update", "session_id", b.sess.ID, "error", err)
				continue
			}
			outbound = composed
		}
		// conversation.item.create passes through untouched. It stays
		// intercepted here as the hook point for injecting subject
		// context items ahead of the conversation.

		if err := b.sess.Upstream.WriteRaw(outbound); err != nil {
			b.sess.SetDisconnect(session.ReasonUpstreamClosed, true)
			return fmt.Errorf("upstream write: %w", err)
		}
	}
}

// pumpUpstreamToClient relays upstream frames to the browser,
// intercepting tool calls, transcripts and interruptions.
func (b *Bridge) pumpUpstreamToClient(ctx context.Context) error {
	metrics := observability.GetGlobalMetrics()
	violations := 0

	for {
		data, err := b.sess.Upstream.ReadMessage()
		if err != nil {
			b.sess.SetDisconnect(session.ReasonUpstreamClosed, true)
			return fmt.Errorf("upstream read: %w", err)
		}
		metrics.RecordFrame(ctx, directionUpstreamToClient)

		var frame map[string]any
		if err := json.Unmarshal(data, &frame); err != nil {
			violations++
			slog.Warn("Dropping malformed upstream frame", "session_id", b.sess.ID, "violations", violations)
			if violations > maxViolations {
				b.sess.SetDisconnect(session.ReasonInternalError, false)
				b.sess.Upstream.CloseWithStatus(websocket.CloseInternalServerErr, "too many malformed frames")
				return fmt.Errorf("upstream violation budget exceeded")
			}
			continue
		}
		violations = 0

		authFailure := false
		switch frameType, _ := frame["type"].(string); frameType {
		case "response.function_call_arguments.done":
			if err := b.handleFunctionCall(ctx, frame); err != nil {
				b.sess.SetDisconnect(session.ReasonUpstreamClosed, true)
				return fmt.Errorf("upstream write: %w", err)
			}
		case "conversation.item.input_audio_transcription.completed":
			if transcript, ok := frame["transcript"].(string); ok {
				b.sess.AppendMessage(session.SenderUser, transcript)
			}
		case "response.audio_transcript.done":
			if transcript, ok := frame["transcript"].(string); ok {
				b.sess.AppendMessage(session.SenderAssistant, transcript)
			}
		case "input_audio_buffer.speech_started", "conversation.item.truncated":
			if b.sess.MarkAssistantInterrupted() {
				slog.Debug("Assistant reply interrupted", "session_id", b.sess.ID)
			}
		case "error":
			if isAuthError(frame) {
				slog.Error("Upstream rejected the session credentials", "session_id", b.sess.ID)
				b.sess.SetDisconnect(session.ReasonAuthFailed, false)
				authFailure = true
			} else {
				slog.Error("Upstream error frame", "session_id", b.sess.ID, "error", frame["error"])
			}
		}

		if err := b.sess.Client.WriteRaw(data); err != nil {
			b.sess.SetDisconnect(session.ReasonClientClosed, true)
			return fmt.Errorf("client write: %w", err)
		}
		if authFailure {
			return fmt.Errorf("upstream auth failure")
		}
	}
}

// isAuthError reports whether an upstream error frame indicates a
// credential rejection.
func isAuthError(frame map[string]any) bool {
	errObj, ok := frame["error"].(map[string]any)
	if !ok {
		return false
	}
	for _, key := range []string{"code", "type", "message"} {
		if value, ok := errObj[key].(string); ok && containsAuthMarker(value) {
			return true
		}
	}
	return false
}
