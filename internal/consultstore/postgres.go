package consultstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/arogya-health/consult/internal/contextstore"
)

// PostgresStore persists consultation documents in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS consultations (
			consultation_id TEXT PRIMARY KEY,
			language_preferences JSONB NOT NULL DEFAULT '{}'::jsonb,
			user_details JSONB NOT NULL DEFAULT '{}'::jsonb,
			chat_history JSONB NOT NULL DEFAULT '[]'::jsonb,
			medical_context JSONB NOT NULL DEFAULT '{}'::jsonb,
			status TEXT NOT NULL DEFAULT 'active',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_consultations_status ON consultations (status, updated_at);`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) Consultation(ctx context.Context, consultationID string) (LanguagePrefs, Profile, bool, error) {
	var prefsJSON, profileJSON []byte
	err := s.pool.QueryRow(ctx,
		`SELECT language_preferences, user_details FROM consultations WHERE consultation_id = $1`,
		consultationID,
	).Scan(&prefsJSON, &profileJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return LanguagePrefs{}, Profile{}, false, nil
	}
	if err != nil {
		return LanguagePrefs{}, Profile{}, false, fmt.Errorf("query consultation %s: %w", consultationID, err)
	}

	var prefs LanguagePrefs
	if err := json.Unmarshal(prefsJSON, &prefs); err != nil {
		return LanguagePrefs{}, Profile{}, false, fmt.Errorf("decode preferences %s: %w", consultationID, err)
	}
	var profile Profile
	if err := json.Unmarshal(profileJSON, &profile); err != nil {
		return LanguagePrefs{}, Profile{}, false, fmt.Errorf("decode profile %s: %w", consultationID, err)
	}
	return prefs, profile, true, nil
}

func (s *PostgresStore) SaveContext(ctx context.Context, consultationID string, turns []contextstore.Turn) error {
	history, err := json.Marshal(turns)
	if err != nil {
		return fmt.Errorf("encode history %s: %w", consultationID, err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO consultations (consultation_id, chat_history, updated_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (consultation_id)
		 DO UPDATE SET chat_history = EXCLUDED.chat_history, updated_at = EXCLUDED.updated_at`,
		consultationID, history, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("save context %s: %w", consultationID, err)
	}
	return nil
}

func (s *PostgresStore) Complete(ctx context.Context, consultationID string, turns []contextstore.Turn, medical MedicalContext) error {
	history, err := json.Marshal(turns)
	if err != nil {
		return fmt.Errorf("encode history %s: %w", consultationID, err)
	}
	medicalJSON, err := json.Marshal(medical)
	if err != nil {
		return fmt.Errorf("encode medical context %s: %w", consultationID, err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO consultations (consultation_id, chat_history, medical_context, status, updated_at)
		 VALUES ($1, $2, $3, 'completed', $4)
		 ON CONFLICT (consultation_id)
		 DO UPDATE SET chat_history = EXCLUDED.chat_history,
		               medical_context = EXCLUDED.medical_context,
		               status = 'completed',
		               updated_at = EXCLUDED.updated_at`,
		consultationID, history, medicalJSON, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("complete consultation %s: %w", consultationID, err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
