package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gaia-relay/backend/internal/db"
	"github.com/gaia-relay/backend/internal/model"
)

// DeviceRepository provides data access for devices.
type DeviceRepository struct {
	db *db.DB
}

// NewDeviceRepository creates a new DeviceRepository.
func NewDeviceRepository(d *db.DB) *DeviceRepository {
	return &DeviceRepository{db: d}
}

// Create inserts a new device into the database.
func (r *DeviceRepository) Create(ctx context.Context, device *model.Device) error {
	if device.CreatedAt.IsZero() {
		device.CreatedAt = time.Now().UTC()
	}

	query := r.db.Rebind(`
		INSERT INTO devices (id, name, access_token, created_at)
		VALUES (?, ?, ?, ?)
	`)

	_, err := r.db.ExecContext(ctx, query,
		device.ID,
		device.Name,
		nullString(device.AccessToken),
		device.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create device: %w", err)
	}

	return nil
}

// GetByAccessToken retrieves the device owning the given access token.
func (r *DeviceRepository) GetByAccessToken(ctx context.Context, token string) (*model.Device, error) {
	query := r.db.Rebind(`
		SELECT id, name, access_token, created_at
		FROM devices
		WHERE access_token = ?
	`)

	device := &model.Device{}
	var accessToken sql.NullString
	err := r.db.QueryRowContext(ctx, query, token).Scan(
		&device.ID,
		&device.Name,
		&accessToken,
		&device.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrDeviceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get device: %w", err)
	}
	device.AccessToken = accessToken.String

	return device, nil
}

// ListByIDs retrieves the devices with the given ids, ordered by id.
// Unknown ids are skipped.
func (r *DeviceRepository) ListByIDs(ctx context.Context, ids []string) ([]*model.Device, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	query := r.db.Rebind(`
		SELECT id, name, created_at
		FROM devices
		WHERE id IN (` + placeholders + `)
		ORDER BY id
	`)

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	defer rows.Close()

	var devices []*model.Device
	for rows.Next() {
		device := &model.Device{}
		if err := rows.Scan(&device.ID, &device.Name, &device.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan device: %w", err)
		}
		devices = append(devices, device)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating devices: %w", err)
	}

	return devices, nil
}
