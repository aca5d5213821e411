// Package consultstore adapts the durable consultation document store. The
// core reads language preferences on connect and writes chat history,
// medical context, and status; the rest of the document belongs to other
// services.
package consultstore

import (
	"context"

	"github.com/arogya-health/consult/internal/contextstore"
)

// LanguagePrefs is the language preference pair stored on a consultation.
type LanguagePrefs struct {
	Preferred string `json:"preferred"`
	Interface string `json:"interface"`
}

// MedicalContext is the derived clinical snapshot persisted alongside the
// chat history.
type MedicalContext struct {
	Symptoms      []string `json:"symptoms"`
	RiskLevel     string   `json:"risk_level"`
	QuestionCount int      `json:"question_count"`
}

// Profile is the slice of the patient document the session needs.
type Profile struct {
	FirstName   string `json:"first_name"`
	EnableAudio bool   `json:"enable_audio"`
}

// Store is the durable-tier contract the session core depends on.
type Store interface {
	// Consultation returns stored preferences and profile for a
	// consultation id. ok is false when the document does not exist.
	Consultation(ctx context.Context, consultationID string) (LanguagePrefs, Profile, bool, error)

	// SaveContext mirrors the bounded chat history. Best-effort; callers
	// treat failure as log-and-continue.
	SaveContext(ctx context.Context, consultationID string, turns []contextstore.Turn) error

	// Complete writes the final snapshot on disconnect: full history,
	// medical context, and status "completed".
	Complete(ctx context.Context, consultationID string, turns []contextstore.Turn, medical MedicalContext) error

	Close() error
}

// New selects a backend: PostgreSQL when databaseURL is non-empty, otherwise
// an in-memory store for tests and single-node development.
func New(ctx context.Context, databaseURL string) (Store, error) {
	if databaseURL == "" {
		return NewMemoryStore(), nil
	}
	return NewPostgresStore(ctx, databaseURL)
}
