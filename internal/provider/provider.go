// Package provider declares the external collaborator interfaces the
// pipeline consumes: speech, translation, and the reasoning service. The
// implementations live outside this core; a scriptable mock backs tests and
// provider-less development.
package provider

import (
	"context"

	"github.com/arogya-health/consult/internal/contextstore"
)

// Transcript is the result of speech-to-text on one audio unit.
type Transcript struct {
	Text       string
	Confidence float64
	Duration   float64
}

// Translation is the result of translating one text unit.
type Translation struct {
	Text       string
	Confidence float64
	Terms      []string
}

// Speech transcribes and synthesizes audio.
type Speech interface {
	SpeechToText(ctx context.Context, audio []byte, lang string) (Transcript, error)
	TextToSpeech(ctx context.Context, text, lang, voice string) ([]byte, error)
}

// Translator converts text between languages.
type Translator interface {
	Translate(ctx context.Context, text, sourceLang, targetLang string) (Translation, error)
}

// Reasoner produces the assistant reply for base-language input plus the
// bounded conversation history.
type Reasoner interface {
	GenerateReply(ctx context.Context, text string, history []contextstore.Turn) (string, error)
}
