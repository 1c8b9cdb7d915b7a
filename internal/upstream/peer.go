package upstream

import "context"

type EventType string

const (
	EventAudioDelta   EventType = "audio_delta"
	EventTranscript   EventType = "transcript"
	EventTurnComplete EventType = "turn_complete"
	EventInterrupted  EventType = "interrupted"
	EventToolCall     EventType = "tool_call"
	EventError        EventType = "error"
)

// ResponseEvent is one unit of model activity, already translated out of
// vendor wire shapes. Generation is a per-turn counter assigned by the
// adapter: every audio and transcript event carries the generation of the
// turn it belongs to, and the counter advances whenever a turn ends,
// whether by completion or interruption. Consumers use it to discard
// stale audio after a barge-in.
type ResponseEvent struct {
	Type       EventType
	Audio      []byte
	Text       string
	Generation int64
	Language   string
	ToolName   string
	Err        error
	Fatal      bool
}

// Config carries everything a vendor session needs at start.
type Config struct {
	Model        string
	SystemPrompt string
	DisplayLabel string
	PriorNotes   []string
	Tools        *ToolRegistry
}

// Peer is one live vendor streaming session. Events() yields translated
// events until the peer closes; the channel closing means no further
// events will ever arrive. A Peer is owned by exactly one session and is
// never shared.
type Peer interface {
	SendAudio(data []byte) error
	SendVideo(data []byte) error
	Events() <-chan ResponseEvent
	Stop() error
}

// Dialer establishes vendor sessions. It is the seam where a different
// model vendor can be substituted without touching the session bridge.
type Dialer interface {
	Start(ctx context.Context, cfg Config) (Peer, error)
}
