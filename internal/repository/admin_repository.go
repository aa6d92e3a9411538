package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/pesantren-billing-api/internal/models"
)

// AdminRepository reads back-office operator accounts.
type AdminRepository struct {
	db *sqlx.DB
}

// NewAdminRepository creates a new instance of AdminRepository.
func NewAdminRepository(db *sqlx.DB) *AdminRepository {
	return &AdminRepository{db: db}
}

// FindByUsername returns an admin by exact username.
func (r *AdminRepository) FindByUsername(ctx context.Context, username string) (*models.Admin, error) {
	const query = `SELECT id, username, password_hash, created_at FROM admins WHERE username = $1 LIMIT 1`
	var admin models.Admin
	if err := r.db.GetContext(ctx, &admin, query, username); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find admin by username: %w", err)
	}
	return &admin, nil
}
