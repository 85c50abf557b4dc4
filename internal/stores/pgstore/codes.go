package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrEthical07/mail2fa/internal/stores"
)

type CodeStore struct {
	db *pgxpool.Pool
}

func NewCodeStore(db *pgxpool.Pool) *CodeStore {
	return &CodeStore{db: db}
}

func (s *CodeStore) Issue(
	ctx context.Context,
	identity, hash string,
	ttl time.Duration,
	now time.Time,
) (*stores.CodeRecord, error) {
	record := &stores.CodeRecord{
		ID:        uuid.NewString(),
		Identity:  identity,
		Hash:      hash,
		CreatedAt: now.UTC(),
		ExpiresAt: now.Add(ttl).UTC(),
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", stores.ErrCodeBackend, err)
	}
	defer tx.Rollback(ctx)

	// Serializes issuers of the same identity until commit.
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, identity); err != nil {
		return nil, fmt.Errorf("%w: %v", stores.ErrCodeBackend, err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM `+codesTable+` WHERE identity = $1`, identity); err != nil {
		return nil, fmt.Errorf("%w: %v", stores.ErrCodeBackend, err)
	}
	_, err = tx.Exec(ctx, `
INSERT INTO `+codesTable+` (id, identity, code_hash, attempts, created_at, expires_at)
VALUES ($1, $2, $3, 0, $4, $5)`,
		record.ID, record.Identity, record.Hash, record.CreatedAt, record.ExpiresAt,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", stores.ErrCodeBackend, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", stores.ErrCodeBackend, err)
	}
	return record, nil
}

func (s *CodeStore) FindLive(
	ctx context.Context,
	identity string,
	maxAttempts int,
	now time.Time,
) (*stores.CodeRecord, error) {
	var r stores.CodeRecord
	err := s.db.QueryRow(ctx, `
SELECT id, identity, code_hash, attempts, created_at, expires_at
FROM `+codesTable+`
WHERE identity = $1 AND expires_at > $2 AND attempts < $3
ORDER BY created_at DESC
LIMIT 1`, identity, now.UTC(), maxAttempts,
	).Scan(&r.ID, &r.Identity, &r.Hash, &r.Attempts, &r.CreatedAt, &r.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, stores.ErrCodeNotFound
		}
		return nil, fmt.Errorf("%w: %v", stores.ErrCodeBackend, err)
	}
	return &r, nil
}

func (s *CodeStore) RecordAttempt(
	ctx context.Context,
	record *stores.CodeRecord,
	maxAttempts int,
	now time.Time,
) (int, error) {
	var attempts int
	err := s.db.QueryRow(ctx, `
UPDATE `+codesTable+`
SET attempts = attempts + 1
WHERE id = $1 AND expires_at > $2 AND attempts < $3
RETURNING attempts`, record.ID, now.UTC(), maxAttempts,
	).Scan(&attempts)
	if err == nil {
		return attempts, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("%w: %v", stores.ErrCodeBackend, err)
	}

	// Nothing updated: report why.
	var expiresAt time.Time
	err = s.db.QueryRow(ctx, `SELECT attempts, expires_at FROM `+codesTable+` WHERE id = $1`, record.ID).
		Scan(&attempts, &expiresAt)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return 0, stores.ErrCodeNotFound
	case err != nil:
		return 0, fmt.Errorf("%w: %v", stores.ErrCodeBackend, err)
	case !expiresAt.After(now):
		return 0, stores.ErrCodeExpired
	default:
		return 0, stores.ErrCodeExhausted
	}
}

func (s *CodeStore) Consume(ctx context.Context, record *stores.CodeRecord) (bool, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM `+codesTable+` WHERE id = $1`, record.ID)
	if err != nil {
		return false, fmt.Errorf("%w: %v", stores.ErrCodeBackend, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *CodeStore) PurgeExpired(
	ctx context.Context,
	identity string,
	grace time.Duration,
	now time.Time,
) (int64, error) {
	cutoff := now.Add(-grace).UTC()

	if identity != "" {
		tag, err := s.db.Exec(ctx,
			`DELETE FROM `+codesTable+` WHERE identity = $1 AND expires_at < $2`, identity, cutoff)
		if err != nil {
			return 0, fmt.Errorf("%w: %v", stores.ErrCodeBackend, err)
		}
		return tag.RowsAffected(), nil
	}

	var purged int64
	for {
		tag, err := s.db.Exec(ctx, `
DELETE FROM `+codesTable+`
WHERE id IN (SELECT id FROM `+codesTable+` WHERE expires_at < $1 LIMIT $2)`, cutoff, deleteBatchSize)
		if err != nil {
			return purged, fmt.Errorf("%w: %v", stores.ErrCodeBackend, err)
		}
		purged += tag.RowsAffected()
		if tag.RowsAffected() < deleteBatchSize {
			return purged, nil
		}
	}
}
