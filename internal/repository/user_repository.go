package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/reosmzreo0410-netizen/booking-system/internal/models"
)

const userColumns = `id, email, name, image, role, created_at, updated_at`

// UserRepository provides database access for users and their calendar credentials.
type UserRepository struct {
	db *sqlx.DB
}

// NewUserRepository creates a new instance of UserRepository.
func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

// FindByID returns a user by identifier.
func (r *UserRepository) FindByID(ctx context.Context, id string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1 LIMIT 1`
	var user models.User
	if err := r.db.GetContext(ctx, &user, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find user by id: %w", err)
	}
	return &user, nil
}

// FindByIDs returns the users matching the identifiers in no particular order.
func (r *UserRepository) FindByIDs(ctx context.Context, ids []string) ([]models.User, error) {
	if len(ids) == 0 {
		return []models.User{}, nil
	}
	query := `SELECT ` + userColumns + ` FROM users WHERE id = ANY($1)`
	var users []models.User
	if err := r.db.SelectContext(ctx, &users, query, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("find users by ids: %w", err)
	}
	return users, nil
}

// GetCredentials returns the stored OAuth tokens for a user.
func (r *UserRepository) GetCredentials(ctx context.Context, userID string) (*models.OAuthCredentials, error) {
	const query = `SELECT id, access_token, refresh_token, token_expiry FROM users WHERE id = $1 LIMIT 1`
	var creds models.OAuthCredentials
	if err := r.db.GetContext(ctx, &creds, query, userID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("get credentials: %w", err)
	}
	return &creds, nil
}

// SaveRefreshedToken stores a rotated access token unless a newer one is already persisted.
// It reports whether the row was updated.
func (r *UserRepository) SaveRefreshedToken(ctx context.Context, userID, accessToken string, expiry time.Time) (bool, error) {
	const query = `UPDATE users SET access_token = $2, token_expiry = $3, updated_at = NOW()
WHERE id = $1 AND (token_expiry IS NULL OR token_expiry < $3)`
	res, err := r.db.ExecContext(ctx, query, userID, accessToken, expiry)
	if err != nil {
		return false, fmt.Errorf("save refreshed token: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("save refreshed token rows: %w", err)
	}
	return affected > 0, nil
}

// UpdateRole changes a user's role. It returns sql.ErrNoRows when the user does not exist.
func (r *UserRepository) UpdateRole(ctx context.Context, userID string, role models.UserRole) error {
	const query = `UPDATE users SET role = $2, updated_at = $3 WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, userID, role, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update user role: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update user role rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
