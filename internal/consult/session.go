package consult

import (
	"errors"
	"time"

	"github.com/arogya-health/consult/internal/consultstore"
	"github.com/arogya-health/consult/internal/protocol"
	"github.com/arogya-health/consult/internal/ratelimit"
	"github.com/arogya-health/consult/internal/streambuf"
)

// Status is the per-session state machine position.
type Status string

const (
	StatusConnecting     Status = "connecting"
	StatusActive         Status = "active"
	StatusStreamingAudio Status = "streaming_audio"
	StatusDisconnected   Status = "disconnected"
)

// Path is the processing path for a session: direct when the preferred
// language is the pipeline's base language, translated otherwise.
type Path string

const (
	PathDirect     Path = "direct"
	PathTranslated Path = "translated"
)

var (
	ErrSessionNotFound     = errors.New("session not found")
	ErrUnsupportedLanguage = errors.New("unsupported language")
	ErrTransport           = errors.New("transport error")
)

// Transport is the outbound half of a client connection. The websocket
// handler implements it; tests substitute a recorder.
type Transport interface {
	Send(resp protocol.Response) error
}

// Session is the per-connection state. The Manager owns it exclusively for
// its lifetime; frames for one session are processed serially so no
// session-level lock is needed.
type Session struct {
	ConsultationID string
	Prefs          consultstore.LanguagePrefs
	Profile        consultstore.Profile
	Path           Path
	Status         Status

	LastActivity time.Time
	MessageCount int
	Rate         ratelimit.Window
	Streaming    streambuf.State
	Medical      consultstore.MedicalContext

	transport Transport
}

// sessionSnapshot is the fast-store representation of a session, refreshed
// on every processed message.
type sessionSnapshot struct {
	LanguagePreferences consultstore.LanguagePrefs `json:"language_preferences"`
	LastActivity        time.Time                  `json:"last_activity"`
	MessageCount        int                        `json:"message_count"`
	StreamingState      streambuf.State            `json:"streaming_state"`
	UserDetails         consultstore.Profile       `json:"user_details"`
	Path                Path                       `json:"path"`
}
