package bridge

import (
	"context"
	"log/slog"
	"strings"

	"github.com/HaoZhang615/Realtime-Synthetic-Call-Center-Agents-sub000/pkg/agent"
)

// defaultSession is the gateway's base realtime configuration. Client
// supplied fields overlay these, never the other way around.
func defaultSession() map[string]any {
	return map[string]any{
		"modalities":                 []string{"text", "audio"},
		"voice":                      "shimmer",
		"input_audio_format":         "pcm16",
		"output_audio_format":        "pcm16",
		"input_audio_transcription":  map[string]any{"model": "whisper-1"},
		"turn_detection":             map[string]any{"type": "server_vad"},
		"tools":                      []map[string]any{},
		"tool_choice":                "auto",
		"temperature":                0.8,
		"max_response_output_tokens": 4096,
	}
}

// composeSessionUpdate rewrites a client session.update frame: it
// triggers subject initialization, overlays the client session on the
// gateway defaults, injects the root agent where the client is silent
// and records the result as the session's composed configuration.
func (b *Bridge) composeSessionUpdate(ctx context.Context, frame map[string]any) map[string]any {
	if b.sess.SubjectID != "" && !b.subjectReady && b.subjects != nil {
		if err := b.subjects.EnsureInitialized(ctx, b.sess.SubjectID); err != nil {
			slog.Error("Subject agent initialization failed", "session_id", b.sess.ID, "subject_id", b.sess.SubjectID, "error", err)
		} else {
			b.subjectReady = true
		}
	}

	clientSession, _ := frame["session"].(map[string]any)

	composed := defaultSession()
	for key, value := range clientSession {
		composed[key] = value
	}

	if _, supplied := clientSession["instructions"]; !supplied {
		if root, err := b.registry.Get(agent.RootAlias); err == nil {
			composed["instructions"] = root.SystemMessage
		}
	}
	if _, supplied := clientSession["tools"]; !supplied {
		if tools, err := b.registry.ToolsFor(agent.RootAlias); err == nil {
			composed["tools"] = tools
		}
	}

	b.sess.SetComposed(composed)
	frame["session"] = composed
	return frame
}

// layerComposed applies an agent handover on top of the current
// composed configuration.
func (b *Bridge) layerComposed(update *agent.SessionUpdate) map[string]any {
	base := b.sess.Composed()
	if base == nil {
		base = defaultSession()
	}

	composed := make(map[string]any, len(base)+3)
	for key, value := range base {
		composed[key] = value
	}
	composed["instructions"] = update.Instructions
	composed["tools"] = update.Tools
	composed["turn_detection"] = update.TurnDetection

	b.sess.SetComposed(composed)
	return composed
}

func containsAuthMarker(s string) bool {
	ls := strings.ToLower(s)
	return strings.Contains(ls, "auth") ||
		strings.Contains(ls, "401") ||
		strings.Contains(ls, "403")
}
