package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/gaia-relay/backend/internal/db"
	"github.com/gaia-relay/backend/internal/model"
)

// UserRepository provides data access for users.
type UserRepository struct {
	db *db.DB
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(d *db.DB) *UserRepository {
	return &UserRepository{db: d}
}

// Create inserts a new user into the database.
func (r *UserRepository) Create(ctx context.Context, user *model.User) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	query := r.db.Rebind(`
		INSERT INTO users (id, email, username, password, access_token, access_token_expire, verification_token, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)

	_, err := r.db.ExecContext(ctx, query,
		user.ID,
		nullString(user.Email),
		nullString(user.Username),
		nullString(user.Password),
		nullString(user.AccessToken),
		user.AccessTokenExpire,
		nullString(user.VerificationToken),
		user.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}

	return nil
}

// GetByAccessToken retrieves the user owning the given access token.
func (r *UserRepository) GetByAccessToken(ctx context.Context, token string) (*model.User, error) {
	query := r.db.Rebind(`
		SELECT id, email, username, password, access_token, access_token_expire, verification_token, created_at
		FROM users
		WHERE access_token = ?
	`)

	user, err := scanUser(r.db.QueryRowContext(ctx, query, token))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return user, nil
}

func scanUser(row *sql.Row) (*model.User, error) {
	user := &model.User{}
	var email, username, password, accessToken, verificationToken sql.NullString
	var expire sql.NullTime

	err := row.Scan(
		&user.ID,
		&email,
		&username,
		&password,
		&accessToken,
		&expire,
		&verificationToken,
		&user.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	user.Email = email.String
	user.Username = username.String
	user.Password = password.String
	user.AccessToken = accessToken.String
	user.VerificationToken = verificationToken.String
	if expire.Valid {
		t := expire.Time
		user.AccessTokenExpire = &t
	}

	return user, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
