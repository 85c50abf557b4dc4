package pgstore

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrEthical07/mail2fa/internal/stores"
)

type AuditLogStore struct {
	db *pgxpool.Pool
}

func NewAuditLogStore(db *pgxpool.Pool) *AuditLogStore {
	return &AuditLogStore{db: db}
}

func (s *AuditLogStore) Append(ctx context.Context, entry stores.AuditEntry) error {
	_, err := s.db.Exec(ctx, `
INSERT INTO `+logsTable+` (identity, action, ip_address, created_at)
VALUES ($1, $2, $3, $4)`,
		entry.Identity, entry.Action, entry.SourceAddress, entry.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", stores.ErrAuditLogBackend, err)
	}
	return nil
}

func (s *AuditLogStore) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	var purged int64
	for {
		tag, err := s.db.Exec(ctx, `
DELETE FROM `+logsTable+`
WHERE id IN (SELECT id FROM `+logsTable+` WHERE created_at < $1 LIMIT $2)`, cutoff.UTC(), deleteBatchSize)
		if err != nil {
			return purged, fmt.Errorf("%w: %v", stores.ErrAuditLogBackend, err)
		}
		purged += tag.RowsAffected()
		if tag.RowsAffected() < deleteBatchSize {
			return purged, nil
		}
	}
}

func (s *AuditLogStore) Entries(ctx context.Context, identity string, limit int) ([]stores.AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(ctx, `
SELECT id, identity, action, ip_address, created_at
FROM `+logsTable+`
WHERE identity = $1
ORDER BY created_at DESC
LIMIT $2`, identity, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", stores.ErrAuditLogBackend, err)
	}
	defer rows.Close()

	var out []stores.AuditEntry
	for rows.Next() {
		var (
			id    int64
			entry stores.AuditEntry
		)
		if err := rows.Scan(&id, &entry.Identity, &entry.Action, &entry.SourceAddress, &entry.Timestamp); err != nil {
			return nil, fmt.Errorf("%w: %v", stores.ErrAuditLogBackend, err)
		}
		entry.ID = strconv.FormatInt(id, 10)
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", stores.ErrAuditLogBackend, err)
	}
	return out, nil
}
