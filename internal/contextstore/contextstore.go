// Package contextstore keeps the bounded conversational history for each
// consultation. The fast store is the source of truth while a session is
// active; a durable mirror is written best-effort for audit and resume.
package contextstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/arogya-health/consult/internal/kvstore"
	"github.com/arogya-health/consult/internal/reliability"
)

const keyPrefix = "context:"

// ErrPersistence means the fast store rejected the write after all retries.
// The caller logs and continues; losing the latest turn is acceptable,
// losing the whole context is not.
var ErrPersistence = errors.New("context persistence failed")

// TurnMeta is the flat metadata record attached to each turn.
type TurnMeta struct {
	MessageType string `json:"message_type"`
	SessionID   string `json:"session_id"`
}

// Turn is one conversational turn: what was shown to the patient plus the
// normalized base-language text the reasoning service saw.
type Turn struct {
	Role        string    `json:"role"`
	Text        string    `json:"text"`
	EnglishText string    `json:"english_text"`
	Language    string    `json:"language"`
	Timestamp   time.Time `json:"timestamp"`
	Meta        TurnMeta  `json:"metadata"`
}

// Mirror receives asynchronous best-effort copies of the context for the
// durable tier.
type Mirror interface {
	SaveContext(ctx context.Context, consultationID string, turns []Turn) error
}

// Store is the bounded context store.
type Store struct {
	kv            kvstore.Store
	mirror        Mirror
	window        int
	ttl           time.Duration
	retryAttempts int
	retryDelay    time.Duration
}

func New(kv kvstore.Store, mirror Mirror, window int, ttl time.Duration, retryAttempts int, retryDelay time.Duration) *Store {
	if window <= 0 {
		window = 20
	}
	return &Store{
		kv:            kv,
		mirror:        mirror,
		window:        window,
		ttl:           ttl,
		retryAttempts: retryAttempts,
		retryDelay:    retryDelay,
	}
}

// Get returns the ordered turns for a consultation. A miss initializes an
// empty context and writes it back, establishing the TTL. Malformed stored
// data is discarded and the context starts fresh.
func (s *Store) Get(ctx context.Context, consultationID string) ([]Turn, error) {
	key := keyPrefix + consultationID
	raw, ok, err := s.kv.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("context read %s: %w", consultationID, err)
	}
	if ok {
		var turns []Turn
		if err := json.Unmarshal([]byte(raw), &turns); err != nil {
			log.Printf("context %s: corrupt entry discarded: %v", consultationID, err)
			_ = s.kv.Delete(ctx, key)
			return s.initEmpty(ctx, key)
		}
		return turns, nil
	}
	return s.initEmpty(ctx, key)
}

func (s *Store) initEmpty(ctx context.Context, key string) ([]Turn, error) {
	if err := s.kv.SetTTL(ctx, key, "[]", s.ttl); err != nil {
		return nil, fmt.Errorf("context init: %w", err)
	}
	return []Turn{}, nil
}

// Append adds turns to the consultation context, evicting the oldest turns
// once the window is exceeded. The fast-store write is retried with backoff
// before giving up with ErrPersistence.
func (s *Store) Append(ctx context.Context, consultationID string, turns ...Turn) error {
	existing, err := s.Get(ctx, consultationID)
	if err != nil {
		return err
	}
	updated := append(existing, turns...)
	if len(updated) > s.window {
		updated = updated[len(updated)-s.window:]
	}

	payload, err := json.Marshal(updated)
	if err != nil {
		return fmt.Errorf("context marshal %s: %w", consultationID, err)
	}

	key := keyPrefix + consultationID
	err = reliability.Retry(ctx, s.retryAttempts, s.retryDelay, func() error {
		return s.kv.SetTTL(ctx, key, string(payload), s.ttl)
	})
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrPersistence, consultationID, err)
	}

	if s.mirror != nil {
		snapshot := append([]Turn(nil), updated...)
		go func() {
			mctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := s.mirror.SaveContext(mctx, consultationID, snapshot); err != nil {
				log.Printf("context %s: durable mirror failed: %v", consultationID, err)
			}
		}()
	}
	return nil
}

// Delete removes the fast-store entry. Used on disconnect cleanup.
func (s *Store) Delete(ctx context.Context, consultationID string) error {
	return s.kv.Delete(ctx, keyPrefix+consultationID)
}
