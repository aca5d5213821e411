package consultstore

import (
	"context"
	"sync"
	"time"

	"github.com/arogya-health/consult/internal/contextstore"
)

type consultationDoc struct {
	prefs     LanguagePrefs
	profile   Profile
	history   []contextstore.Turn
	medical   MedicalContext
	status    string
	updatedAt time.Time
	completes int
}

// MemoryStore implements Store for tests and redis/postgres-less runs.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string]*consultationDoc
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]*consultationDoc)}
}

// Seed inserts a consultation document. Test hook.
func (s *MemoryStore) Seed(consultationID string, prefs LanguagePrefs, profile Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[consultationID] = &consultationDoc{
		prefs:     prefs,
		profile:   profile,
		status:    "active",
		updatedAt: time.Now().UTC(),
	}
}

func (s *MemoryStore) Consultation(_ context.Context, consultationID string) (LanguagePrefs, Profile, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[consultationID]
	if !ok {
		return LanguagePrefs{}, Profile{}, false, nil
	}
	return doc.prefs, doc.profile, true, nil
}

func (s *MemoryStore) SaveContext(_ context.Context, consultationID string, turns []contextstore.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc := s.ensure(consultationID)
	doc.history = append([]contextstore.Turn(nil), turns...)
	doc.updatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) Complete(_ context.Context, consultationID string, turns []contextstore.Turn, medical MedicalContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc := s.ensure(consultationID)
	doc.history = append([]contextstore.Turn(nil), turns...)
	doc.medical = medical
	doc.status = "completed"
	doc.updatedAt = time.Now().UTC()
	doc.completes++
	return nil
}

func (s *MemoryStore) Close() error { return nil }

// Status returns the stored status for a consultation. Test hook.
func (s *MemoryStore) Status(consultationID string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if doc, ok := s.docs[consultationID]; ok {
		return doc.status
	}
	return ""
}

// CompleteCount returns how many completed snapshots were written. Test hook.
func (s *MemoryStore) CompleteCount(consultationID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if doc, ok := s.docs[consultationID]; ok {
		return doc.completes
	}
	return 0
}

// History returns the mirrored chat history. Test hook.
func (s *MemoryStore) History(consultationID string) []contextstore.Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if doc, ok := s.docs[consultationID]; ok {
		return append([]contextstore.Turn(nil), doc.history...)
	}
	return nil
}

func (s *MemoryStore) ensure(consultationID string) *consultationDoc {
	doc, ok := s.docs[consultationID]
	if !ok {
		doc = &consultationDoc{status: "active"}
		s.docs[consultationID] = doc
	}
	return doc
}
