package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/arogya-health/consult/internal/config"
	"github.com/arogya-health/consult/internal/consult"
	"github.com/arogya-health/consult/internal/consultstore"
	"github.com/arogya-health/consult/internal/contextstore"
	"github.com/arogya-health/consult/internal/kvstore"
	"github.com/arogya-health/consult/internal/observability"
	"github.com/arogya-health/consult/internal/protocol"
	"github.com/arogya-health/consult/internal/provider"
	"github.com/arogya-health/consult/internal/transcache"
)

var (
	metricsOnce sync.Once
	testMetrics *observability.Metrics
)

// sharedMetrics registers the Prometheus instruments once per test binary.
func sharedMetrics() *observability.Metrics {
	metricsOnce.Do(func() {
		testMetrics = observability.NewMetrics("consult_test")
	})
	return testMetrics
}

func newTestServer(t *testing.T) (*Server, *consultstore.MemoryStore) {
	t.Helper()
	cfg := config.Config{
		BaseLanguage:             "en",
		SessionTTL:               time.Hour,
		ContextTTL:               time.Hour,
		ContextWindow:            20,
		RateCeiling:              30,
		RateWindow:               time.Minute,
		ChunkThreshold:           32 * 1024,
		BufferHardCap:            1024 * 1024,
		MaxMessageSize:           1024 * 1024,
		CacheConfidenceThreshold: 0.8,
		CacheMaxTextLength:       1000,
		CacheDuration:            7 * 24 * time.Hour,
		ProviderTimeout:          5 * time.Second,
		MaxConcurrentStreams:     5,
		RetryAttempts:            1,
		RetryBaseDelay:           time.Millisecond,
	}

	kv := kvstore.NewMemoryStore()
	consults := consultstore.NewMemoryStore()
	metrics := sharedMetrics()
	cache := transcache.New(kv, transcache.NewMemoryTier(), metrics,
		cfg.CacheConfidenceThreshold, cfg.CacheMaxTextLength, cfg.CacheDuration)
	contexts := contextstore.New(kv, consults, cfg.ContextWindow, cfg.ContextTTL,
		cfg.RetryAttempts, cfg.RetryBaseDelay)
	mock := provider.NewMock()

	manager := consult.NewManager(consult.Params{
		KV:              kv,
		Consults:        consults,
		Cache:           cache,
		Contexts:        contexts,
		Speech:          mock,
		Translator:      mock,
		Reasoner:        mock,
		Metrics:         metrics,
		BaseLanguage:    cfg.BaseLanguage,
		SessionTTL:      cfg.SessionTTL,
		RateCeiling:     cfg.RateCeiling,
		RateWindow:      cfg.RateWindow,
		ChunkThreshold:  cfg.ChunkThreshold,
		BufferHardCap:   cfg.BufferHardCap,
		MaxMessageSize:  cfg.MaxMessageSize,
		ProviderTimeout: cfg.ProviderTimeout,
		MaxStreams:      cfg.MaxConcurrentStreams,
	})

	return New(cfg, manager, cache, kv, metrics), consults
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var body struct {
		Status         string `json:"status"`
		ActiveSessions int    `json:"active_sessions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Status != "ok" || body.ActiveSessions != 0 {
		t.Fatalf("body = %+v, want status ok with 0 sessions", body)
	}
}

func TestReadyEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/readyz")
	if err != nil {
		t.Fatalf("GET /readyz error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestCacheStatsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/cache/stats")
	if err != nil {
		t.Fatalf("GET /v1/cache/stats error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var stats transcache.Stats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
}

func TestCacheInvalidateEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/v1/cache/invalidate", "application/json",
		strings.NewReader(`{"source_lang":"en","target_lang":"hi"}`))
	if err != nil {
		t.Fatalf("POST /v1/cache/invalidate error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body struct {
		Removed int64 `json:"removed"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
}

func TestWebsocketConsultationRoundTrip(t *testing.T) {
	srv, consults := newTestServer(t)
	consults.Seed("c-ws",
		consultstore.LanguagePrefs{Preferred: "en", Interface: "en"},
		consultstore.Profile{FirstName: "Meera"})

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/c-ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var welcome protocol.Response
	if err := conn.ReadJSON(&welcome); err != nil {
		t.Fatalf("read welcome: %v", err)
	}
	if welcome.Type != protocol.TypeWelcome {
		t.Fatalf("first frame type = %q, want welcome", welcome.Type)
	}

	err = conn.WriteJSON(map[string]any{
		"type":    "text",
		"content": "I have a sore throat",
	})
	if err != nil {
		t.Fatalf("write message: %v", err)
	}

	var reply protocol.Response
	if err := conn.ReadJSON(&reply); err != nil {
		t.Fatalf("read reply: %v", err)
	}
	if reply.Type != protocol.TypeResponse {
		t.Fatalf("reply type = %q, want response", reply.Type)
	}
	if reply.Content == "" {
		t.Fatalf("reply content empty")
	}
}

func TestWebsocketInvalidFrameGetsErrorResponse(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/c-bad"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var welcome protocol.Response
	if err := conn.ReadJSON(&welcome); err != nil {
		t.Fatalf("read welcome: %v", err)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"video","content":"x"}`)); err != nil {
		t.Fatalf("write invalid frame: %v", err)
	}

	var frame protocol.Response
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read error frame: %v", err)
	}
	if frame.Type != protocol.TypeError {
		t.Fatalf("frame type = %q, want error", frame.Type)
	}
}
