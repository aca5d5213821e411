package consult

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/arogya-health/consult/internal/consultstore"
	"github.com/arogya-health/consult/internal/contextstore"
	"github.com/arogya-health/consult/internal/kvstore"
	"github.com/arogya-health/consult/internal/protocol"
	"github.com/arogya-health/consult/internal/provider"
	"github.com/arogya-health/consult/internal/transcache"
)

// recorderTransport captures outbound frames for assertions.
type recorderTransport struct {
	mu     sync.Mutex
	frames []protocol.Response
	err    error
}

func (r *recorderTransport) Send(resp protocol.Response) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.frames = append(r.frames, resp)
	return nil
}

func (r *recorderTransport) Frames() []protocol.Response {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]protocol.Response(nil), r.frames...)
}

func (r *recorderTransport) Last(t *testing.T) protocol.Response {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.frames) == 0 {
		t.Fatalf("no frames recorded")
	}
	return r.frames[len(r.frames)-1]
}

type testDeps struct {
	kv       *kvstore.MemoryStore
	consults *consultstore.MemoryStore
	cache    *transcache.Cache
	mock     *provider.Mock
}

func newTestManager(t *testing.T) (*Manager, *testDeps) {
	t.Helper()
	kv := kvstore.NewMemoryStore()
	consults := consultstore.NewMemoryStore()
	cache := transcache.New(kv, transcache.NewMemoryTier(), nil, 0.8, 1000, 7*24*time.Hour)
	contexts := contextstore.New(kv, consults, 20, time.Hour, 1, time.Millisecond)
	mock := provider.NewMock()

	m := NewManager(Params{
		KV:              kv,
		Consults:        consults,
		Cache:           cache,
		Contexts:        contexts,
		Speech:          mock,
		Translator:      mock,
		Reasoner:        mock,
		BaseLanguage:    "en",
		SessionTTL:      time.Hour,
		RateCeiling:     30,
		RateWindow:      time.Minute,
		ChunkThreshold:  16,
		BufferHardCap:   1024,
		MaxMessageSize:  1024,
		ProviderTimeout: 5 * time.Second,
		MaxStreams:      5,
	})
	return m, &testDeps{kv: kv, consults: consults, cache: cache, mock: mock}
}

func textMsg(content string) protocol.Message {
	return protocol.Message{Type: protocol.TypeText, Content: content}
}

func TestConnectSendsWelcomeDirectPath(t *testing.T) {
	m, deps := newTestManager(t)
	transport := &recorderTransport{}
	ctx := context.Background()

	s, err := m.Connect(ctx, transport, "c-1", consultstore.LanguagePrefs{})
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if s.Path != PathDirect {
		t.Fatalf("Path = %q, want direct", s.Path)
	}
	if s.Status != StatusActive {
		t.Fatalf("Status = %q, want active", s.Status)
	}

	frames := transport.Frames()
	if len(frames) != 1 {
		t.Fatalf("len(frames) = %d, want 1", len(frames))
	}
	if frames[0].Type != protocol.TypeWelcome {
		t.Fatalf("frame type = %q, want welcome", frames[0].Type)
	}
	if frames[0].Language.Code != "en" {
		t.Fatalf("welcome language = %q, want en", frames[0].Language.Code)
	}

	// The session snapshot lands in the fast store.
	if _, ok, _ := deps.kv.Get(ctx, "session:c-1"); !ok {
		t.Fatalf("session snapshot missing from fast store")
	}
	if m.ActiveCount() != 1 {
		t.Fatalf("ActiveCount() = %d, want 1", m.ActiveCount())
	}
}

func TestConnectStoredPrefsOverrideCaller(t *testing.T) {
	m, deps := newTestManager(t)
	deps.consults.Seed("c-1",
		consultstore.LanguagePrefs{Preferred: "hi", Interface: "hi"},
		consultstore.Profile{FirstName: "Asha"})
	transport := &recorderTransport{}

	s, err := m.Connect(context.Background(), transport, "c-1",
		consultstore.LanguagePrefs{Preferred: "en", Interface: "en"})
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if s.Prefs.Preferred != "hi" {
		t.Fatalf("Preferred = %q, want stored hi", s.Prefs.Preferred)
	}
	if s.Path != PathTranslated {
		t.Fatalf("Path = %q, want translated", s.Path)
	}

	welcome := transport.Last(t)
	if welcome.Language.Code != "hi" {
		t.Fatalf("welcome language = %q, want hi", welcome.Language.Code)
	}
	if !strings.HasPrefix(welcome.Content, "[en->hi]") {
		t.Fatalf("welcome content = %q, want translated", welcome.Content)
	}
}

func TestConnectRejectsUnsupportedLanguage(t *testing.T) {
	m, deps := newTestManager(t)
	deps.consults.Seed("c-1", consultstore.LanguagePrefs{Preferred: "fr"}, consultstore.Profile{})

	_, err := m.Connect(context.Background(), &recorderTransport{}, "c-1", consultstore.LanguagePrefs{})
	if !errors.Is(err, ErrUnsupportedLanguage) {
		t.Fatalf("Connect() error = %v, want ErrUnsupportedLanguage", err)
	}
	if m.ActiveCount() != 0 {
		t.Fatalf("ActiveCount() = %d, want 0", m.ActiveCount())
	}
}

func TestConnectWelcomeFailureDeregisters(t *testing.T) {
	m, _ := newTestManager(t)
	transport := &recorderTransport{err: errors.New("peer gone")}

	_, err := m.Connect(context.Background(), transport, "c-1", consultstore.LanguagePrefs{})
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("Connect() error = %v, want ErrTransport", err)
	}
	if m.ActiveCount() != 0 {
		t.Fatalf("ActiveCount() = %d, want 0", m.ActiveCount())
	}
}

func TestProcessMessageDirectPath(t *testing.T) {
	m, _ := newTestManager(t)
	transport := &recorderTransport{}
	ctx := context.Background()

	if _, err := m.Connect(ctx, transport, "c-1", consultstore.LanguagePrefs{}); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := m.ProcessMessage(ctx, "c-1", textMsg("I have a headache")); err != nil {
		t.Fatalf("ProcessMessage() error = %v", err)
	}

	resp := transport.Last(t)
	if resp.Type != protocol.TypeResponse {
		t.Fatalf("frame type = %q, want response", resp.Type)
	}
	if resp.Metadata.Translated {
		t.Fatalf("Translated = true on direct path")
	}
	if resp.Metadata.Path != string(PathDirect) {
		t.Fatalf("Path = %q, want direct", resp.Metadata.Path)
	}
	if resp.OriginalContent != "" {
		t.Fatalf("OriginalContent = %q, want empty on direct path", resp.OriginalContent)
	}
	if resp.Metadata.ExchangeID == "" {
		t.Fatalf("ExchangeID empty")
	}
}

func TestProcessMessageTranslatedPathUsesCache(t *testing.T) {
	m, deps := newTestManager(t)
	deps.consults.Seed("c-1", consultstore.LanguagePrefs{Preferred: "hi"}, consultstore.Profile{})
	transport := &recorderTransport{}
	ctx := context.Background()

	if _, err := m.Connect(ctx, transport, "c-1", consultstore.LanguagePrefs{}); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	_, _, afterWelcome, _ := deps.mock.Calls()

	if err := m.ProcessMessage(ctx, "c-1", textMsg("mujhe bukhar hai")); err != nil {
		t.Fatalf("ProcessMessage() error = %v", err)
	}
	resp := transport.Last(t)
	if !resp.Metadata.Translated {
		t.Fatalf("Translated = false on translated path")
	}
	if resp.OriginalContent == "" {
		t.Fatalf("OriginalContent empty on translated path")
	}
	if !strings.HasPrefix(resp.Content, "[en->hi]") {
		t.Fatalf("Content = %q, want en->hi translation", resp.Content)
	}

	_, _, afterFirst, _ := deps.mock.Calls()
	// Inbound hi->en plus outbound en->hi.
	if afterFirst-afterWelcome != 2 {
		t.Fatalf("translate calls for first message = %d, want 2", afterFirst-afterWelcome)
	}

	// The identical message and the identical reply both hit the cache.
	if err := m.ProcessMessage(ctx, "c-1", textMsg("mujhe bukhar hai")); err != nil {
		t.Fatalf("ProcessMessage() error = %v", err)
	}
	_, _, afterSecond, _ := deps.mock.Calls()
	if afterSecond != afterFirst {
		t.Fatalf("translate calls grew from %d to %d, want cache hits", afterFirst, afterSecond)
	}
}

func TestProcessMessageRateLimit(t *testing.T) {
	m, _ := newTestManager(t)
	transport := &recorderTransport{}
	ctx := context.Background()

	if _, err := m.Connect(ctx, transport, "c-1", consultstore.LanguagePrefs{}); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	for i := 0; i < 30; i++ {
		if err := m.ProcessMessage(ctx, "c-1", textMsg("hello")); err != nil {
			t.Fatalf("ProcessMessage(%d) error = %v", i, err)
		}
	}
	if err := m.ProcessMessage(ctx, "c-1", textMsg("one too many")); err != nil {
		t.Fatalf("ProcessMessage() error = %v", err)
	}

	resp := transport.Last(t)
	if resp.Type != protocol.TypeWarning {
		t.Fatalf("frame type = %q, want warning", resp.Type)
	}
	if m.ActiveCount() != 1 {
		t.Fatalf("session dropped by rate limit")
	}
}

func TestProcessMessageStreamingAudio(t *testing.T) {
	m, _ := newTestManager(t)
	transport := &recorderTransport{}
	ctx := context.Background()

	if _, err := m.Connect(ctx, transport, "c-1", consultstore.LanguagePrefs{}); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	welcomeFrames := len(transport.Frames())

	small := base64.StdEncoding.EncodeToString([]byte("chunk-one"))
	err := m.ProcessMessage(ctx, "c-1", protocol.Message{
		Type:     protocol.TypeAudio,
		Content:  small,
		Metadata: protocol.MessageMeta{StreamingStart: true},
	})
	if err != nil {
		t.Fatalf("ProcessMessage(start) error = %v", err)
	}
	// Below the flush threshold: buffered, no response yet.
	if got := len(transport.Frames()); got != welcomeFrames {
		t.Fatalf("frames after first chunk = %d, want %d", got, welcomeFrames)
	}

	m.mu.RLock()
	status := m.sessions["c-1"].Status
	m.mu.RUnlock()
	if status != StatusStreamingAudio {
		t.Fatalf("Status = %q, want streaming_audio", status)
	}

	final := base64.StdEncoding.EncodeToString([]byte("chunk-two"))
	err = m.ProcessMessage(ctx, "c-1", protocol.Message{
		Type:     protocol.TypeAudio,
		Content:  final,
		Metadata: protocol.MessageMeta{StreamingEnd: true},
	})
	if err != nil {
		t.Fatalf("ProcessMessage(end) error = %v", err)
	}

	resp := transport.Last(t)
	if resp.Type != protocol.TypeResponse {
		t.Fatalf("frame type = %q, want response", resp.Type)
	}

	m.mu.RLock()
	s := m.sessions["c-1"]
	m.mu.RUnlock()
	if s.Status != StatusActive {
		t.Fatalf("Status after stream end = %q, want active", s.Status)
	}
	if s.Streaming.Streaming {
		t.Fatalf("Streaming flag still set after stream end")
	}
}

func TestProcessMessageInvalidAudioPayload(t *testing.T) {
	m, _ := newTestManager(t)
	transport := &recorderTransport{}
	ctx := context.Background()

	if _, err := m.Connect(ctx, transport, "c-1", consultstore.LanguagePrefs{}); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	err := m.ProcessMessage(ctx, "c-1", protocol.Message{
		Type:    protocol.TypeAudio,
		Content: "not base64!!!",
	})
	if err != nil {
		t.Fatalf("ProcessMessage() error = %v", err)
	}
	resp := transport.Last(t)
	if resp.Type != protocol.TypeError {
		t.Fatalf("frame type = %q, want error", resp.Type)
	}
}

func TestProviderFailureSendsGenericError(t *testing.T) {
	m, deps := newTestManager(t)
	deps.mock.ReplyFn = func(string) (string, error) {
		return "", errors.New("upstream 500: internal gateway detail")
	}
	transport := &recorderTransport{}
	ctx := context.Background()

	if _, err := m.Connect(ctx, transport, "c-1", consultstore.LanguagePrefs{}); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := m.ProcessMessage(ctx, "c-1", textMsg("hello")); err != nil {
		t.Fatalf("ProcessMessage() error = %v", err)
	}

	resp := transport.Last(t)
	if resp.Type != protocol.TypeError {
		t.Fatalf("frame type = %q, want error", resp.Type)
	}
	if resp.Content != "Message processing failed" {
		t.Fatalf("Content = %q, want generic failure text", resp.Content)
	}
	if strings.Contains(resp.Content, "gateway") {
		t.Fatalf("internal error detail leaked to transport: %q", resp.Content)
	}
	// The session survives provider failures.
	if m.ActiveCount() != 1 {
		t.Fatalf("ActiveCount() = %d, want 1", m.ActiveCount())
	}
}

func TestProcessMessageUnknownSession(t *testing.T) {
	m, _ := newTestManager(t)
	err := m.ProcessMessage(context.Background(), "ghost", textMsg("hello"))
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("ProcessMessage() error = %v, want ErrSessionNotFound", err)
	}
}

func TestDisconnectIsIdempotent(t *testing.T) {
	m, deps := newTestManager(t)
	transport := &recorderTransport{}
	ctx := context.Background()

	if _, err := m.Connect(ctx, transport, "c-1", consultstore.LanguagePrefs{}); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := m.ProcessMessage(ctx, "c-1", textMsg("I have a cough")); err != nil {
		t.Fatalf("ProcessMessage() error = %v", err)
	}

	m.Disconnect(ctx, "c-1")
	m.Disconnect(ctx, "c-1")

	if m.ActiveCount() != 0 {
		t.Fatalf("ActiveCount() = %d, want 0", m.ActiveCount())
	}
	if got := deps.consults.CompleteCount("c-1"); got != 1 {
		t.Fatalf("CompleteCount = %d, want 1", got)
	}
	if got := deps.consults.Status("c-1"); got != "completed" {
		t.Fatalf("Status = %q, want completed", got)
	}
	if _, ok, _ := deps.kv.Get(ctx, "session:c-1"); ok {
		t.Fatalf("session key survived Disconnect")
	}
	if _, ok, _ := deps.kv.Get(ctx, "context:c-1"); ok {
		t.Fatalf("context key survived Disconnect")
	}

	if err := m.ProcessMessage(ctx, "c-1", textMsg("hello")); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("ProcessMessage() after disconnect error = %v, want ErrSessionNotFound", err)
	}
}

func TestAudioResponseWhenProfileEnablesIt(t *testing.T) {
	m, deps := newTestManager(t)
	deps.consults.Seed("c-1",
		consultstore.LanguagePrefs{Preferred: "en"},
		consultstore.Profile{EnableAudio: true})
	transport := &recorderTransport{}
	ctx := context.Background()

	if _, err := m.Connect(ctx, transport, "c-1", consultstore.LanguagePrefs{}); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := m.ProcessMessage(ctx, "c-1", textMsg("hello")); err != nil {
		t.Fatalf("ProcessMessage() error = %v", err)
	}

	resp := transport.Last(t)
	if resp.Audio == "" {
		t.Fatalf("Audio empty with EnableAudio profile")
	}
	if _, err := base64.StdEncoding.DecodeString(resp.Audio); err != nil {
		t.Fatalf("Audio is not valid base64: %v", err)
	}
}

func TestTTSFailureStillSendsTextReply(t *testing.T) {
	m, deps := newTestManager(t)
	deps.consults.Seed("c-1",
		consultstore.LanguagePrefs{Preferred: "en"},
		consultstore.Profile{EnableAudio: true})
	deps.mock.SynthesizeFn = func(string, string) ([]byte, error) {
		return nil, errors.New("tts backend down")
	}
	transport := &recorderTransport{}
	ctx := context.Background()

	if _, err := m.Connect(ctx, transport, "c-1", consultstore.LanguagePrefs{}); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := m.ProcessMessage(ctx, "c-1", textMsg("hello")); err != nil {
		t.Fatalf("ProcessMessage() error = %v", err)
	}

	resp := transport.Last(t)
	if resp.Type != protocol.TypeResponse {
		t.Fatalf("frame type = %q, want response despite tts failure", resp.Type)
	}
	if resp.Audio != "" {
		t.Fatalf("Audio = %q, want empty after tts failure", resp.Audio)
	}
}
