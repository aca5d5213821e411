package consult

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/arogya-health/consult/internal/consultstore"
	"github.com/arogya-health/consult/internal/contextstore"
	"github.com/arogya-health/consult/internal/kvstore"
	"github.com/arogya-health/consult/internal/langmeta"
	"github.com/arogya-health/consult/internal/observability"
	"github.com/arogya-health/consult/internal/protocol"
	"github.com/arogya-health/consult/internal/provider"
	"github.com/arogya-health/consult/internal/ratelimit"
	"github.com/arogya-health/consult/internal/transcache"
)

const (
	sessionKeyPrefix = "session:"

	welcomeText       = "Welcome to your medical consultation. How can I help you today?"
	rateLimitText     = "Rate limit exceeded. Please wait before sending more messages."
	genericFailure    = "Message processing failed"
	unsupportedDetail = "The requested language is not supported"
)

// Params bundles the Manager dependencies and tunables.
type Params struct {
	KV         kvstore.Store
	Consults   consultstore.Store
	Cache      *transcache.Cache
	Contexts   *contextstore.Store
	Speech     provider.Speech
	Translator provider.Translator
	Reasoner   provider.Reasoner
	Metrics    *observability.Metrics

	BaseLanguage    string
	SessionTTL      time.Duration
	RateCeiling     int
	RateWindow      time.Duration
	ChunkThreshold  int
	BufferHardCap   int
	MaxMessageSize  int
	ProviderTimeout time.Duration
	MaxStreams      int64
}

// Manager owns the active-connection table and drives the message pipeline
// for every session.
type Manager struct {
	mu         sync.RWMutex
	sessions   map[string]*Session
	langGroups map[string]map[string]struct{}

	kv         kvstore.Store
	consults   consultstore.Store
	cache      *transcache.Cache
	contexts   *contextstore.Store
	speech     provider.Speech
	translator provider.Translator
	reasoner   provider.Reasoner
	metrics    *observability.Metrics

	// gate bounds concurrent expensive provider work process-wide. It is
	// a counting admission gate; no FIFO fairness is promised.
	gate *semaphore.Weighted

	baseLanguage    string
	sessionTTL      time.Duration
	rateCeiling     int
	rateWindow      time.Duration
	chunkThreshold  int
	bufferHardCap   int
	maxMessageSize  int
	providerTimeout time.Duration

	now func() time.Time
}

func NewManager(p Params) *Manager {
	if p.BaseLanguage == "" {
		p.BaseLanguage = langmeta.BaseLanguage
	}
	if p.MaxStreams <= 0 {
		p.MaxStreams = 5
	}
	return &Manager{
		sessions:        make(map[string]*Session),
		langGroups:      make(map[string]map[string]struct{}),
		kv:              p.KV,
		consults:        p.Consults,
		cache:           p.Cache,
		contexts:        p.Contexts,
		speech:          p.Speech,
		translator:      p.Translator,
		reasoner:        p.Reasoner,
		metrics:         p.Metrics,
		gate:            semaphore.NewWeighted(p.MaxStreams),
		baseLanguage:    p.BaseLanguage,
		sessionTTL:      p.SessionTTL,
		rateCeiling:     p.RateCeiling,
		rateWindow:      p.RateWindow,
		chunkThreshold:  p.ChunkThreshold,
		bufferHardCap:   p.BufferHardCap,
		maxMessageSize:  p.MaxMessageSize,
		providerTimeout: p.ProviderTimeout,
		now:             time.Now,
	}
}

// SetClock overrides the time source. Test hook.
func (m *Manager) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// ActiveCount returns the number of registered sessions.
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Connect registers a new session for a consultation. Stored language
// preferences always override caller-supplied ones; the resolved language
// must be supported. A localized welcome frame completes the handshake.
func (m *Manager) Connect(ctx context.Context, transport Transport, consultationID string, callerPrefs consultstore.LanguagePrefs) (*Session, error) {
	prefs := callerPrefs
	var profile consultstore.Profile

	storedPrefs, storedProfile, found, err := m.consults.Consultation(ctx, consultationID)
	if err != nil {
		log.Printf("connect %s: consultation lookup failed: %v", consultationID, err)
	}
	if found {
		if storedPrefs.Preferred != "" {
			prefs = storedPrefs
		}
		profile = storedProfile
	}
	if prefs.Preferred == "" {
		prefs = consultstore.LanguagePrefs{Preferred: m.baseLanguage, Interface: m.baseLanguage}
	}
	if !langmeta.IsSupported(prefs.Preferred) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedLanguage, prefs.Preferred)
	}

	path := PathTranslated
	if prefs.Preferred == m.baseLanguage {
		path = PathDirect
	}

	s := &Session{
		ConsultationID: consultationID,
		Prefs:          prefs,
		Profile:        profile,
		Path:           path,
		Status:         StatusConnecting,
		LastActivity:   m.now().UTC(),
		transport:      transport,
	}

	m.mu.Lock()
	m.sessions[consultationID] = s
	group, ok := m.langGroups[prefs.Preferred]
	if !ok {
		group = make(map[string]struct{})
		m.langGroups[prefs.Preferred] = group
	}
	group[consultationID] = struct{}{}
	active := len(m.sessions)
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.ActiveSessions.Set(float64(active))
		m.metrics.SessionEvents.WithLabelValues("connected").Inc()
	}

	m.snapshotSession(ctx, s)

	if err := m.sendWelcome(ctx, s); err != nil {
		m.deregister(consultationID)
		return nil, fmt.Errorf("%w: welcome frame: %v", ErrTransport, err)
	}
	s.Status = StatusActive

	log.Printf("session connected: consultation=%s language=%s path=%s", consultationID, prefs.Preferred, path)
	return s, nil
}

// ProcessMessage is the central state-machine transition for one inbound
// frame. Provider failures degrade to a generic error frame and leave the
// session intact; only a missing session is an error to the caller.
func (m *Manager) ProcessMessage(ctx context.Context, consultationID string, msg protocol.Message) error {
	m.mu.RLock()
	s, ok := m.sessions[consultationID]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, consultationID)
	}

	now := m.now().UTC()
	if ratelimit.Check(&s.Rate, now, m.rateCeiling, m.rateWindow) == ratelimit.Denied {
		if m.metrics != nil {
			m.metrics.RateLimitDenials.Inc()
		}
		m.send(consultationID, protocol.Response{
			Type:     protocol.TypeWarning,
			Content:  rateLimitText,
			Language: m.responseLanguage(s),
			Metadata: protocol.ResponseMeta{Timestamp: now.Format(time.RFC3339)},
		})
		return nil
	}

	s.LastActivity = now
	s.MessageCount++

	started := m.now()
	var unit []byte
	isAudio := msg.IsAudio()

	if isAudio {
		data, err := base64.StdEncoding.DecodeString(msg.Content)
		if err != nil {
			m.sendError(consultationID, s, "invalid audio payload")
			return nil
		}
		if len(data) > m.maxMessageSize {
			m.sendError(consultationID, s, "audio payload too large")
			return nil
		}

		if msg.Metadata.StreamingStart {
			s.Streaming.Begin(now)
			s.Status = StatusStreamingAudio
		}

		if s.Streaming.Streaming {
			flushed, complete := s.Streaming.Append(data, msg.Metadata.StreamingEnd, m.chunkThreshold, m.bufferHardCap)
			if msg.Metadata.StreamingEnd {
				s.Streaming.End()
				s.Status = StatusActive
				log.Printf("audio stream ended: consultation=%s bytes=%d chunks=%d",
					consultationID, s.Streaming.TotalBytes, s.Streaming.ChunksProcessed)
			}
			m.snapshotSession(ctx, s)
			if !complete {
				// More chunks expected.
				return nil
			}
			if m.metrics != nil {
				reason := "threshold"
				if msg.Metadata.StreamingEnd {
					reason = "stream_end"
				}
				m.metrics.StreamingFlushes.WithLabelValues(reason).Inc()
			}
			unit = flushed
		} else {
			unit = data
		}
	}

	if err := m.gate.Acquire(ctx, 1); err != nil {
		return nil
	}
	defer m.gate.Release(1)

	var originalText, baseText string
	var inputConfidence float64

	if isAudio {
		transcript, err := m.transcribe(ctx, unit, s.Prefs.Preferred)
		if err != nil {
			m.providerFailure(consultationID, s, "speech", err)
			return nil
		}
		if strings.TrimSpace(transcript.Text) == "" {
			log.Printf("no text extracted from audio: consultation=%s language=%s", consultationID, s.Prefs.Preferred)
			return nil
		}
		originalText = transcript.Text
		inputConfidence = transcript.Confidence
	} else {
		originalText = strings.TrimSpace(msg.Content)
		inputConfidence = 1.0
	}

	baseText = originalText
	if s.Path == PathTranslated {
		translated, err := m.translateCached(ctx, originalText, s.Prefs.Preferred, m.baseLanguage)
		if err != nil {
			m.providerFailure(consultationID, s, "translation", err)
			return nil
		}
		baseText = translated.Text
	}

	history, err := m.contexts.Get(ctx, consultationID)
	if err != nil {
		log.Printf("context fetch failed: consultation=%s: %v", consultationID, err)
		history = nil
	}

	reply, err := m.generateReply(ctx, baseText, history)
	if err != nil {
		m.providerFailure(consultationID, s, "reasoning", err)
		return nil
	}

	responseText := reply
	responseConfidence := inputConfidence
	if s.Path == PathTranslated {
		translated, err := m.translateCached(ctx, reply, m.baseLanguage, s.Prefs.Preferred)
		if err != nil {
			m.providerFailure(consultationID, s, "translation", err)
			return nil
		}
		responseText = translated.Text
		responseConfidence = translated.Confidence
	}

	var audioOut string
	if s.Profile.EnableAudio {
		audio, err := m.synthesize(ctx, responseText, s.Prefs.Preferred)
		if err != nil {
			// Voice is an enhancement; the text reply still goes out.
			log.Printf("tts failed: consultation=%s: %v", consultationID, err)
			if m.metrics != nil {
				m.metrics.ProviderErrors.WithLabelValues("speech", "tts").Inc()
			}
		} else {
			audioOut = base64.StdEncoding.EncodeToString(audio)
		}
	}

	exchangeID := uuid.NewString()
	resp := protocol.Response{
		Type:     protocol.TypeResponse,
		Content:  responseText,
		Language: m.responseLanguage(s),
		Audio:    audioOut,
		Metadata: protocol.ResponseMeta{
			ExchangeID: exchangeID,
			Confidence: responseConfidence,
			Translated: s.Path == PathTranslated,
			Path:       string(s.Path),
			Timestamp:  m.now().UTC().Format(time.RFC3339),
		},
	}
	if s.Path == PathTranslated {
		resp.OriginalContent = reply
	}
	m.send(consultationID, resp)

	m.updateMedical(s, baseText)

	turnTime := m.now().UTC()
	userTurn := contextstore.Turn{
		Role:        "user",
		Text:        originalText,
		EnglishText: baseText,
		Language:    s.Prefs.Preferred,
		Timestamp:   turnTime,
		Meta:        contextstore.TurnMeta{MessageType: "user_input", SessionID: consultationID},
	}
	assistantTurn := contextstore.Turn{
		Role:        "assistant",
		Text:        responseText,
		EnglishText: reply,
		Language:    s.Prefs.Preferred,
		Timestamp:   turnTime,
		Meta:        contextstore.TurnMeta{MessageType: "ai_response", SessionID: consultationID},
	}
	if err := m.contexts.Append(ctx, consultationID, userTurn, assistantTurn); err != nil {
		// Losing the latest turn is tolerable; the store already retried.
		log.Printf("context append failed: consultation=%s: %v", consultationID, err)
	}

	m.snapshotSession(ctx, s)
	if m.metrics != nil {
		m.metrics.ObservePipelineLatency(m.now().Sub(started))
	}
	return nil
}

// Disconnect tears down a session. Idempotent: a second call for the same
// consultation is a no-op and writes no duplicate durable snapshot.
func (m *Manager) Disconnect(ctx context.Context, consultationID string) {
	m.mu.Lock()
	s, ok := m.sessions[consultationID]
	if ok {
		delete(m.sessions, consultationID)
		if group, found := m.langGroups[s.Prefs.Preferred]; found {
			delete(group, consultationID)
			if len(group) == 0 {
				delete(m.langGroups, s.Prefs.Preferred)
			}
		}
	}
	active := len(m.sessions)
	m.mu.Unlock()

	if !ok {
		return
	}
	s.Status = StatusDisconnected

	if m.metrics != nil {
		m.metrics.ActiveSessions.Set(float64(active))
		m.metrics.SessionEvents.WithLabelValues("disconnected").Inc()
	}

	turns, err := m.contexts.Get(ctx, consultationID)
	if err != nil {
		log.Printf("disconnect %s: context read failed: %v", consultationID, err)
	}

	// Ephemeral cleanup is best-effort; keys expire on their own anyway.
	if err := m.kv.Delete(ctx, sessionKeyPrefix+consultationID); err != nil {
		log.Printf("disconnect %s: session key cleanup failed: %v", consultationID, err)
	}
	if err := m.contexts.Delete(ctx, consultationID); err != nil {
		log.Printf("disconnect %s: context key cleanup failed: %v", consultationID, err)
	}

	// The connection is already gone; a failed final snapshot is logged,
	// not escalated.
	if err := m.consults.Complete(ctx, consultationID, turns, s.Medical); err != nil {
		log.Printf("disconnect %s: final snapshot failed: %v", consultationID, err)
	}

	log.Printf("session disconnected: consultation=%s messages=%d", consultationID, s.MessageCount)
}

func (m *Manager) deregister(consultationID string) {
	m.mu.Lock()
	if s, ok := m.sessions[consultationID]; ok {
		delete(m.sessions, consultationID)
		if group, found := m.langGroups[s.Prefs.Preferred]; found {
			delete(group, consultationID)
			if len(group) == 0 {
				delete(m.langGroups, s.Prefs.Preferred)
			}
		}
	}
	m.mu.Unlock()
}

// send delivers a frame through the session's transport. The session is
// looked up again so work that outlived a disconnect discovers the session
// is gone and swallows the result.
func (m *Manager) send(consultationID string, resp protocol.Response) {
	m.mu.RLock()
	s, ok := m.sessions[consultationID]
	m.mu.RUnlock()
	if !ok {
		return
	}
	if err := s.transport.Send(resp); err != nil {
		log.Printf("send failed: consultation=%s type=%s: %v", consultationID, resp.Type, err)
		return
	}
	if m.metrics != nil {
		m.metrics.WSMessages.WithLabelValues("outbound", string(resp.Type)).Inc()
	}
}

func (m *Manager) sendError(consultationID string, s *Session, detail string) {
	log.Printf("message rejected: consultation=%s: %s", consultationID, detail)
	m.send(consultationID, protocol.Response{
		Type:     protocol.TypeError,
		Content:  genericFailure,
		Language: m.responseLanguage(s),
		Metadata: protocol.ResponseMeta{Timestamp: m.now().UTC().Format(time.RFC3339)},
	})
}

func (m *Manager) providerFailure(consultationID string, s *Session, providerName string, err error) {
	log.Printf("%s provider failed: consultation=%s: %v", providerName, consultationID, err)
	if m.metrics != nil {
		m.metrics.ProviderErrors.WithLabelValues(providerName, "call_failed").Inc()
	}
	// Internal detail never reaches the transport.
	m.send(consultationID, protocol.Response{
		Type:     protocol.TypeError,
		Content:  genericFailure,
		Language: m.responseLanguage(s),
		Metadata: protocol.ResponseMeta{Timestamp: m.now().UTC().Format(time.RFC3339)},
	})
}

func (m *Manager) sendWelcome(ctx context.Context, s *Session) error {
	text := welcomeText
	if s.Path == PathTranslated {
		translated, err := m.translateCached(ctx, welcomeText, m.baseLanguage, s.Prefs.Preferred)
		if err != nil {
			log.Printf("welcome translation failed: consultation=%s: %v", s.ConsultationID, err)
		} else {
			text = translated.Text
		}
	}

	var audioOut string
	if s.Profile.EnableAudio {
		if audio, err := m.synthesize(ctx, text, s.Prefs.Preferred); err == nil {
			audioOut = base64.StdEncoding.EncodeToString(audio)
		}
	}

	return s.transport.Send(protocol.Response{
		Type:     protocol.TypeWelcome,
		Content:  text,
		Language: m.responseLanguage(s),
		Audio:    audioOut,
		Metadata: protocol.ResponseMeta{Timestamp: m.now().UTC().Format(time.RFC3339)},
	})
}

func (m *Manager) responseLanguage(s *Session) protocol.Language {
	return protocol.Language{
		Code: s.Prefs.Preferred,
		Name: langmeta.Name(s.Prefs.Preferred),
	}
}

// translateCached consults the cache first, falls through to the provider
// on miss, and admits the result.
func (m *Manager) translateCached(ctx context.Context, text, src, tgt string) (provider.Translation, error) {
	if cached, ok := m.cache.Lookup(ctx, text, src, tgt); ok {
		return provider.Translation{
			Text:       cached.TranslatedText,
			Confidence: cached.Confidence,
			Terms:      cached.MedicalTerms,
		}, nil
	}

	cctx, cancel := context.WithTimeout(ctx, m.providerTimeout)
	defer cancel()
	result, err := m.translator.Translate(cctx, text, src, tgt)
	if err != nil {
		return provider.Translation{}, err
	}

	if _, err := m.cache.Store(ctx, text, result.Text, src, tgt, result.Confidence, result.Terms); err != nil {
		log.Printf("translation cache store failed: %v", err)
	}
	return result, nil
}

func (m *Manager) transcribe(ctx context.Context, audio []byte, lang string) (provider.Transcript, error) {
	cctx, cancel := context.WithTimeout(ctx, m.providerTimeout)
	defer cancel()
	return m.speech.SpeechToText(cctx, audio, lang)
}

func (m *Manager) synthesize(ctx context.Context, text, lang string) ([]byte, error) {
	cctx, cancel := context.WithTimeout(ctx, m.providerTimeout)
	defer cancel()
	return m.speech.TextToSpeech(cctx, text, lang, "")
}

func (m *Manager) generateReply(ctx context.Context, text string, history []contextstore.Turn) (string, error) {
	cctx, cancel := context.WithTimeout(ctx, m.providerTimeout)
	defer cancel()
	return m.reasoner.GenerateReply(cctx, text, history)
}

func (m *Manager) snapshotSession(ctx context.Context, s *Session) {
	snap := sessionSnapshot{
		LanguagePreferences: s.Prefs,
		LastActivity:        s.LastActivity,
		MessageCount:        s.MessageCount,
		StreamingState:      s.Streaming,
		UserDetails:         s.Profile,
		Path:                s.Path,
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		log.Printf("session snapshot encode failed: consultation=%s: %v", s.ConsultationID, err)
		return
	}
	if err := m.kv.SetTTL(ctx, sessionKeyPrefix+s.ConsultationID, string(payload), m.sessionTTL); err != nil {
		log.Printf("session snapshot failed: consultation=%s: %v", s.ConsultationID, err)
	}
}
