// Package transcache memoizes translations in two tiers: a TTL-backed fast
// tier and a durable tier keyed by (source text, source lang, target lang).
// Admission is gated by confidence and text length so low-quality or
// pathological inputs never pollute the cache.
package transcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/arogya-health/consult/internal/kvstore"
	"github.com/arogya-health/consult/internal/observability"
)

const keyPrefix = "translation:"

// CachedTranslation is one memoized translation result.
type CachedTranslation struct {
	SourceText     string    `json:"source_text"`
	TranslatedText string    `json:"translated_text"`
	SourceLang     string    `json:"source_language"`
	TargetLang     string    `json:"target_language"`
	Confidence     float64   `json:"confidence"`
	MedicalTerms   []string  `json:"medical_terms,omitempty"`
	AccessCount    int64     `json:"access_count"`
	CreatedAt      time.Time `json:"created_at"`
}

// Stats is a snapshot of cache counters.
type Stats struct {
	Hits     int64 `json:"hits"`
	Misses   int64 `json:"misses"`
	Admitted int64 `json:"admitted"`
	Rejected int64 `json:"rejected"`
}

// Cache is the two-tier translation cache.
type Cache struct {
	fast    kvstore.Store
	durable DurableTier
	metrics *observability.Metrics

	confidenceThreshold float64
	maxTextLength       int
	duration            time.Duration

	mu    sync.Mutex
	stats Stats
}

func New(fast kvstore.Store, durable DurableTier, metrics *observability.Metrics, confidenceThreshold float64, maxTextLength int, duration time.Duration) *Cache {
	return &Cache{
		fast:                fast,
		durable:             durable,
		metrics:             metrics,
		confidenceThreshold: confidenceThreshold,
		maxTextLength:       maxTextLength,
		duration:            duration,
	}
}

// Key derives the deterministic fast-tier key for a translation request.
func Key(text, sourceLang, targetLang string) string {
	sum := sha256.Sum256([]byte(text))
	return fmt.Sprintf("%s%s:%s:%s", keyPrefix, sourceLang, targetLang, hex.EncodeToString(sum[:]))
}

// Lookup checks the fast tier, then the durable tier, promoting a durable
// hit back into the fast tier. Oversized text is a miss without probing
// either tier, keeping key cardinality bounded.
func (c *Cache) Lookup(ctx context.Context, text, sourceLang, targetLang string) (*CachedTranslation, bool) {
	if len(text) > c.maxTextLength {
		c.recordMiss("none")
		return nil, false
	}

	key := Key(text, sourceLang, targetLang)
	raw, ok, err := c.fast.Get(ctx, key)
	if err != nil {
		log.Printf("translation cache: fast tier read failed: %v", err)
	}
	if ok {
		var entry CachedTranslation
		if err := json.Unmarshal([]byte(raw), &entry); err == nil {
			c.recordHit("fast")
			c.touch(&entry)
			return &entry, true
		}
		log.Printf("translation cache: corrupt fast entry %s discarded", key)
		_ = c.fast.Delete(ctx, key)
	}

	entry, found, err := c.durable.Fetch(ctx, text, sourceLang, targetLang, c.duration)
	if err != nil {
		log.Printf("translation cache: durable tier read failed: %v", err)
	}
	if found {
		c.recordHit("durable")
		c.touch(entry)
		if payload, err := json.Marshal(entry); err == nil {
			if err := c.fast.SetTTL(ctx, key, string(payload), c.duration); err != nil {
				log.Printf("translation cache: promotion failed: %v", err)
			}
		}
		return entry, true
	}

	c.recordMiss("durable")
	return nil, false
}

// Store admits a translation into both tiers. Returns false without error
// when admission is rejected by the confidence or length gates. Confidence
// exactly at the threshold is admitted.
func (c *Cache) Store(ctx context.Context, text, translated, sourceLang, targetLang string, confidence float64, terms []string) (bool, error) {
	if confidence < c.confidenceThreshold || len(text) > c.maxTextLength {
		c.mu.Lock()
		c.stats.Rejected++
		c.mu.Unlock()
		return false, nil
	}

	entry := CachedTranslation{
		SourceText:     text,
		TranslatedText: translated,
		SourceLang:     sourceLang,
		TargetLang:     targetLang,
		Confidence:     confidence,
		MedicalTerms:   terms,
		CreatedAt:      time.Now().UTC(),
	}

	if err := c.durable.Upsert(ctx, entry); err != nil {
		return false, fmt.Errorf("durable tier store: %w", err)
	}

	payload, err := json.Marshal(entry)
	if err != nil {
		return false, fmt.Errorf("encode cache entry: %w", err)
	}
	// Fast-tier failure leaves a slower cache, not a wrong one.
	if err := c.fast.SetTTL(ctx, Key(text, sourceLang, targetLang), string(payload), c.duration); err != nil {
		log.Printf("translation cache: fast tier store failed: %v", err)
	}

	c.mu.Lock()
	c.stats.Admitted++
	c.mu.Unlock()
	return true, nil
}

// Invalidate removes durable entries older than the cache duration, filtered
// by either or both language codes, and sweeps matching fast-tier keys.
func (c *Cache) Invalidate(ctx context.Context, sourceLang, targetLang string) (int64, error) {
	removed, err := c.durable.DeleteOlderThan(ctx, c.duration, sourceLang, targetLang)
	if err != nil {
		return 0, fmt.Errorf("durable invalidate: %w", err)
	}

	pattern := fastPattern(sourceLang, targetLang)
	if _, err := c.fast.DeletePattern(ctx, pattern); err != nil {
		log.Printf("translation cache: fast sweep %s failed: %v", pattern, err)
	}
	return removed, nil
}

// StartSweeper invalidates expired entries once per interval until ctx ends.
func (c *Cache) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				removed, err := c.Invalidate(ctx, "", "")
				if err != nil {
					log.Printf("translation cache: sweep failed: %v", err)
					continue
				}
				if removed > 0 {
					log.Printf("translation cache: sweep removed %d expired entries", removed)
				}
			}
		}
	}()
}

// Snapshot returns current counters.
func (c *Cache) Snapshot() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// touch bumps the access count asynchronously. Best-effort; the count is
// advisory and not required for correctness.
func (c *Cache) touch(entry *CachedTranslation) {
	entry.AccessCount++
	text, src, tgt := entry.SourceText, entry.SourceLang, entry.TargetLang
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := c.durable.IncrementAccess(ctx, text, src, tgt); err != nil {
			log.Printf("translation cache: access count update failed: %v", err)
		}
	}()
}

func (c *Cache) recordHit(tier string) {
	c.mu.Lock()
	c.stats.Hits++
	c.mu.Unlock()
	if c.metrics != nil {
		c.metrics.CacheOps.WithLabelValues(tier, "hit").Inc()
	}
}

func (c *Cache) recordMiss(tier string) {
	c.mu.Lock()
	c.stats.Misses++
	c.mu.Unlock()
	if c.metrics != nil {
		c.metrics.CacheOps.WithLabelValues(tier, "miss").Inc()
	}
}

func fastPattern(sourceLang, targetLang string) string {
	switch {
	case sourceLang != "" && targetLang != "":
		return keyPrefix + sourceLang + ":" + targetLang + ":*"
	case sourceLang != "":
		return keyPrefix + sourceLang + ":*"
	case targetLang != "":
		return keyPrefix + "*:" + targetLang + ":*"
	default:
		return keyPrefix + "*"
	}
}
