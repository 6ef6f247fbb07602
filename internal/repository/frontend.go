package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/stebofarm/gateway/internal/model"
)

// Errors for frontend repository operations.
var (
	ErrFrontendNotFound   = errors.New("frontend not found")
	ErrFrontendNameExists = errors.New("frontend name already exists")
	ErrFrontendKeyExists  = errors.New("frontend key already exists")
)

// Constraint names from migrations/000001_frontends.up.sql.
const (
	constraintFrontendName    = "frontends_name_key"
	constraintFrontendKeyHash = "frontends_key_hash_key"
)

// CreateFrontend inserts a frontend. Concurrent inserts of the same name are
// resolved by the unique constraint: one succeeds, the rest get
// ErrFrontendNameExists.
func (r *Repository) CreateFrontend(ctx context.Context, f *model.Frontend) error {
	query := `
		INSERT INTO frontends (id, name, key_hash, created_at)
		VALUES ($1, $2, $3, $4)
	`

	_, err := r.pool.Exec(ctx, query, f.ID, f.Name, f.KeyHash, f.CreatedAt)
	if err != nil {
		switch uniqueViolation(err) {
		case constraintFrontendName:
			return ErrFrontendNameExists
		case constraintFrontendKeyHash:
			return ErrFrontendKeyExists
		default:
			return fmt.Errorf("failed to create frontend: %w", err)
		}
	}

	return nil
}

// GetFrontendByKeyHash looks up a frontend by the digest of its unique key.
// key_hash carries a unique B-tree index, so this is a single equality probe.
func (r *Repository) GetFrontendByKeyHash(ctx context.Context, keyHash string) (*model.Frontend, error) {
	query := `
		SELECT id, name, key_hash, created_at
		FROM frontends
		WHERE key_hash = $1
	`

	return scanFrontend(r.pool.QueryRow(ctx, query, keyHash))
}

// GetFrontendByName retrieves a frontend by its name.
func (r *Repository) GetFrontendByName(ctx context.Context, name string) (*model.Frontend, error) {
	query := `
		SELECT id, name, key_hash, created_at
		FROM frontends
		WHERE name = $1
	`

	return scanFrontend(r.pool.QueryRow(ctx, query, name))
}

func scanFrontend(row pgx.Row) (*model.Frontend, error) {
	var f model.Frontend
	err := row.Scan(&f.ID, &f.Name, &f.KeyHash, &f.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrFrontendNotFound
		}
		return nil, fmt.Errorf("failed to scan frontend: %w", err)
	}
	return &f, nil
}
