package transcache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresTier persists the durable cache tier in PostgreSQL.
type PostgresTier struct {
	pool *pgxpool.Pool
}

func NewPostgresTier(ctx context.Context, databaseURL string) (*PostgresTier, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initCacheSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresTier{pool: pool}, nil
}

func initCacheSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS translation_cache (
			source_text TEXT NOT NULL,
			source_language TEXT NOT NULL,
			target_language TEXT NOT NULL,
			translated_text TEXT NOT NULL,
			confidence DOUBLE PRECISION NOT NULL,
			medical_terms TEXT[] NOT NULL DEFAULT '{}',
			access_count BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (source_text, source_language, target_language)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_translation_cache_created ON translation_cache (created_at);`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init cache schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (t *PostgresTier) Fetch(ctx context.Context, text, sourceLang, targetLang string, maxAge time.Duration) (*CachedTranslation, bool, error) {
	var entry CachedTranslation
	err := t.pool.QueryRow(ctx,
		`SELECT source_text, source_language, target_language, translated_text,
		        confidence, medical_terms, access_count, created_at
		 FROM translation_cache
		 WHERE source_text = $1 AND source_language = $2 AND target_language = $3
		   AND created_at >= $4`,
		text, sourceLang, targetLang, time.Now().UTC().Add(-maxAge),
	).Scan(
		&entry.SourceText, &entry.SourceLang, &entry.TargetLang, &entry.TranslatedText,
		&entry.Confidence, &entry.MedicalTerms, &entry.AccessCount, &entry.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("fetch translation: %w", err)
	}
	return &entry, true, nil
}

func (t *PostgresTier) Upsert(ctx context.Context, entry CachedTranslation) error {
	_, err := t.pool.Exec(ctx,
		`INSERT INTO translation_cache
		   (source_text, source_language, target_language, translated_text, confidence, medical_terms, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (source_text, source_language, target_language)
		 DO UPDATE SET translated_text = EXCLUDED.translated_text,
		               confidence = EXCLUDED.confidence,
		               medical_terms = EXCLUDED.medical_terms,
		               created_at = EXCLUDED.created_at`,
		entry.SourceText, entry.SourceLang, entry.TargetLang, entry.TranslatedText,
		entry.Confidence, entry.MedicalTerms, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert translation: %w", err)
	}
	return nil
}

func (t *PostgresTier) IncrementAccess(ctx context.Context, text, sourceLang, targetLang string) error {
	_, err := t.pool.Exec(ctx,
		`UPDATE translation_cache SET access_count = access_count + 1
		 WHERE source_text = $1 AND source_language = $2 AND target_language = $3`,
		text, sourceLang, targetLang,
	)
	if err != nil {
		return fmt.Errorf("increment access: %w", err)
	}
	return nil
}

func (t *PostgresTier) DeleteOlderThan(ctx context.Context, maxAge time.Duration, sourceLang, targetLang string) (int64, error) {
	query := `DELETE FROM translation_cache WHERE created_at < $1`
	args := []any{time.Now().UTC().Add(-maxAge)}
	if sourceLang != "" {
		args = append(args, sourceLang)
		query += fmt.Sprintf(" AND source_language = $%d", len(args))
	}
	if targetLang != "" {
		args = append(args, targetLang)
		query += fmt.Sprintf(" AND target_language = $%d", len(args))
	}
	tag, err := t.pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("delete expired translations: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (t *PostgresTier) Close() error {
	t.pool.Close()
	return nil
}
