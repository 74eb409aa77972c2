package repository

import (
	"context"
	"fmt"

	"github.com/gaia-relay/backend/internal/db"
	"github.com/gaia-relay/backend/internal/model"
)

// ConnectionRepository provides data access for user/device pairings.
type ConnectionRepository struct {
	db *db.DB
}

// NewConnectionRepository creates a new ConnectionRepository.
func NewConnectionRepository(d *db.DB) *ConnectionRepository {
	return &ConnectionRepository{db: d}
}

// Create inserts a new pairing into the database.
func (r *ConnectionRepository) Create(ctx context.Context, conn *model.Connection) error {
	query := r.db.Rebind(`
		INSERT INTO connections (id, topic, user_id, device_id)
		VALUES (?, ?, ?, ?)
	`)

	_, err := r.db.ExecContext(ctx, query, conn.ID, conn.Topic, conn.UserID, conn.DeviceID)
	if err != nil {
		return fmt.Errorf("failed to create connection: %w", err)
	}

	return nil
}

// TopicsByUser returns the distinct topics a user is paired under, ordered.
func (r *ConnectionRepository) TopicsByUser(ctx context.Context, userID string) ([]string, error) {
	return r.distinct(ctx, "topic", "user_id", userID)
}

// TopicsByDevice returns the distinct topics a device serves, ordered.
func (r *ConnectionRepository) TopicsByDevice(ctx context.Context, deviceID string) ([]string, error) {
	return r.distinct(ctx, "topic", "device_id", deviceID)
}

// DeviceIDsByUser returns the distinct devices a user is paired with, ordered.
func (r *ConnectionRepository) DeviceIDsByUser(ctx context.Context, userID string) ([]string, error) {
	return r.distinct(ctx, "device_id", "user_id", userID)
}

// distinct runs SELECT DISTINCT column FROM connections WHERE key = value.
// column and key are never user input.
func (r *ConnectionRepository) distinct(ctx context.Context, column, key, value string) ([]string, error) {
	query := r.db.Rebind(fmt.Sprintf(`
		SELECT DISTINCT %s
		FROM connections
		WHERE %s = ?
		ORDER BY %s
	`, column, key, column))

	rows, err := r.db.QueryContext(ctx, query, value)
	if err != nil {
		return nil, fmt.Errorf("failed to list connections: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("failed to scan connection: %w", err)
		}
		out = append(out, v)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating connections: %w", err)
	}

	return out, nil
}
