package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrEthical07/mail2fa/internal/stores"
)

type TemplateStore struct {
	db *pgxpool.Pool
}

func NewTemplateStore(db *pgxpool.Pool) *TemplateStore {
	return &TemplateStore{db: db}
}

func (s *TemplateStore) EnsureTemplate(ctx context.Context, tpl stores.Template) (bool, error) {
	created := tpl.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	tag, err := s.db.Exec(ctx, `
INSERT INTO `+templatesTable+` (name, subject, body, created_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (name) DO NOTHING`, tpl.Name, tpl.Subject, tpl.Body, created.UTC())
	if err != nil {
		return false, fmt.Errorf("%w: %v", stores.ErrTemplateBackend, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *TemplateStore) Template(ctx context.Context, name string) (stores.Template, error) {
	tpl := stores.Template{Name: name}
	err := s.db.QueryRow(ctx,
		`SELECT subject, body, created_at FROM `+templatesTable+` WHERE name = $1`, name,
	).Scan(&tpl.Subject, &tpl.Body, &tpl.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return stores.Template{}, stores.ErrTemplateNotFound
		}
		return stores.Template{}, fmt.Errorf("%w: %v", stores.ErrTemplateBackend, err)
	}
	return tpl, nil
}
