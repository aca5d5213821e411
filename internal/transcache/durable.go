package transcache

import (
	"context"
	"sync"
	"time"
)

// DurableTier is the long-lived half of the cache, upserted on the natural
// key (source text, source lang, target lang).
type DurableTier interface {
	// Fetch returns a non-expired entry for the natural key. found is
	// false on miss.
	Fetch(ctx context.Context, text, sourceLang, targetLang string, maxAge time.Duration) (*CachedTranslation, bool, error)

	// Upsert inserts or refreshes an entry by its natural key.
	Upsert(ctx context.Context, entry CachedTranslation) error

	// IncrementAccess bumps the access counter for an entry.
	IncrementAccess(ctx context.Context, text, sourceLang, targetLang string) error

	// DeleteOlderThan removes entries created before now-maxAge, filtered
	// by optional language codes, returning the number removed.
	DeleteOlderThan(ctx context.Context, maxAge time.Duration, sourceLang, targetLang string) (int64, error)

	Close() error
}

// NewDurable selects a backend: PostgreSQL when databaseURL is non-empty,
// otherwise in-memory.
func NewDurable(ctx context.Context, databaseURL string) (DurableTier, error) {
	if databaseURL == "" {
		return NewMemoryTier(), nil
	}
	return NewPostgresTier(ctx, databaseURL)
}

type naturalKey struct {
	text string
	src  string
	tgt  string
}

// MemoryTier implements DurableTier in process memory.
type MemoryTier struct {
	mu      sync.Mutex
	entries map[naturalKey]CachedTranslation
	now     func() time.Time
}

func NewMemoryTier() *MemoryTier {
	return &MemoryTier{
		entries: make(map[naturalKey]CachedTranslation),
		now:     time.Now,
	}
}

// SetClock overrides the time source. Test hook.
func (t *MemoryTier) SetClock(now func() time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.now = now
}

func (t *MemoryTier) Fetch(_ context.Context, text, sourceLang, targetLang string, maxAge time.Duration) (*CachedTranslation, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.entries[naturalKey{text, sourceLang, targetLang}]
	if !ok || t.now().Sub(entry.CreatedAt) > maxAge {
		return nil, false, nil
	}
	copied := entry
	return &copied, true, nil
}

func (t *MemoryTier) Upsert(_ context.Context, entry CachedTranslation) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := naturalKey{entry.SourceText, entry.SourceLang, entry.TargetLang}
	if prev, ok := t.entries[key]; ok {
		entry.AccessCount = prev.AccessCount
	}
	t.entries[key] = entry
	return nil
}

func (t *MemoryTier) IncrementAccess(_ context.Context, text, sourceLang, targetLang string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := naturalKey{text, sourceLang, targetLang}
	if entry, ok := t.entries[key]; ok {
		entry.AccessCount++
		t.entries[key] = entry
	}
	return nil
}

func (t *MemoryTier) DeleteOlderThan(_ context.Context, maxAge time.Duration, sourceLang, targetLang string) (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.now().Add(-maxAge)
	var removed int64
	for key, entry := range t.entries {
		if entry.CreatedAt.After(cutoff) {
			continue
		}
		if sourceLang != "" && key.src != sourceLang {
			continue
		}
		if targetLang != "" && key.tgt != targetLang {
			continue
		}
		delete(t.entries, key)
		removed++
	}
	return removed, nil
}

func (t *MemoryTier) Close() error { return nil }
