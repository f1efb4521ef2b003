package store

import (
	"context"
	"fmt"

	"github.com/ufohubx/keyserver/internal/database"
	"github.com/ufohubx/keyserver/internal/model"
)

// Postgres persists records in the keys table (see migrations/)
type Postgres struct {
	db *database.Postgres
}

// NewPostgres creates a postgres-backed store
func NewPostgres(db *database.Postgres) *Postgres {
	return &Postgres{db: db}
}

// Load returns all persisted records
func (p *Postgres) Load(ctx context.Context) ([]*model.KeyRecord, error) {
	query := `
		SELECT id, key, identity, issued_at, expires_at, reusable, uses, max_uses
		FROM keys
	`
	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to load key records: %w", err)
	}
	defer rows.Close()

	var out []*model.KeyRecord
	for rows.Next() {
		var rec model.KeyRecord
		if err := rows.Scan(
			&rec.ID,
			&rec.Key,
			&rec.Identity,
			&rec.IssuedAt,
			&rec.ExpiresAt,
			&rec.Reusable,
			&rec.Uses,
			&rec.MaxUses,
		); err != nil {
			return nil, fmt.Errorf("failed to scan key record: %w", err)
		}
		out = append(out, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read key records: %w", err)
	}

	return out, nil
}

// Put inserts or replaces a record by key string
func (p *Postgres) Put(ctx context.Context, rec *model.KeyRecord) error {
	query := `
		INSERT INTO keys (id, key, identity, issued_at, expires_at, reusable, uses, max_uses)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (key) DO UPDATE SET
			identity = EXCLUDED.identity,
			expires_at = EXCLUDED.expires_at,
			uses = EXCLUDED.uses
	`
	_, err := p.db.ExecContext(ctx, query,
		rec.ID,
		rec.Key,
		rec.Identity,
		rec.IssuedAt,
		rec.ExpiresAt,
		rec.Reusable,
		rec.Uses,
		rec.MaxUses,
	)
	if err != nil {
		return fmt.Errorf("failed to put key record: %w", err)
	}
	return nil
}

// Delete removes a record by key string
func (p *Postgres) Delete(ctx context.Context, key string) error {
	query := `DELETE FROM keys WHERE key = $1`
	if _, err := p.db.ExecContext(ctx, query, key); err != nil {
		return fmt.Errorf("failed to delete key record: %w", err)
	}
	return nil
}
