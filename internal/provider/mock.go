package provider

import (
	"context"
	"fmt"
	"sync"

	"github.com/arogya-health/consult/internal/contextstore"
)

// Mock implements Speech, Translator, and Reasoner with scriptable
// responses. It stands in when no real providers are configured and drives
// the pipeline tests.
type Mock struct {
	mu sync.Mutex

	TranslateFn   func(text, src, tgt string) (Translation, error)
	ReplyFn       func(text string) (string, error)
	TranscribeFn  func(audio []byte, lang string) (Transcript, error)
	SynthesizeFn  func(text, lang string) ([]byte, error)
	TranslateHits int
	ReplyHits     int
	STTHits       int
	TTSHits       int
}

func NewMock() *Mock {
	return &Mock{}
}

func (m *Mock) SpeechToText(_ context.Context, audio []byte, lang string) (Transcript, error) {
	m.mu.Lock()
	m.STTHits++
	fn := m.TranscribeFn
	m.mu.Unlock()
	if fn != nil {
		return fn(audio, lang)
	}
	return Transcript{
		Text:       fmt.Sprintf("transcript of %d bytes", len(audio)),
		Confidence: 0.95,
	}, nil
}

func (m *Mock) TextToSpeech(_ context.Context, text, lang, _ string) ([]byte, error) {
	m.mu.Lock()
	m.TTSHits++
	fn := m.SynthesizeFn
	m.mu.Unlock()
	if fn != nil {
		return fn(text, lang)
	}
	return []byte("audio:" + text), nil
}

func (m *Mock) Translate(_ context.Context, text, src, tgt string) (Translation, error) {
	m.mu.Lock()
	m.TranslateHits++
	fn := m.TranslateFn
	m.mu.Unlock()
	if fn != nil {
		return fn(text, src, tgt)
	}
	return Translation{
		Text:       fmt.Sprintf("[%s->%s] %s", src, tgt, text),
		Confidence: 0.92,
	}, nil
}

func (m *Mock) GenerateReply(_ context.Context, text string, _ []contextstore.Turn) (string, error) {
	m.mu.Lock()
	m.ReplyHits++
	fn := m.ReplyFn
	m.mu.Unlock()
	if fn != nil {
		return fn(text)
	}
	return "Thank you for sharing. Can you tell me more about your symptoms?", nil
}

// Calls returns a snapshot of per-provider call counts.
func (m *Mock) Calls() (stt, tts, translate, reply int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.STTHits, m.TTSHits, m.TranslateHits, m.ReplyHits
}
