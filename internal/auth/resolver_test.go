package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gaia-relay/backend/internal/db"
	"github.com/gaia-relay/backend/internal/model"
	"github.com/gaia-relay/backend/internal/repository"
)

func setupResolver(t *testing.T) *Resolver {
	t.Helper()

	testDB, err := db.NewTestDB()
	require.NoError(t, err)
	t.Cleanup(func() { testDB.Close() })

	users := repository.NewUserRepository(testDB)
	devices := repository.NewDeviceRepository(testDB)
	conns := repository.NewConnectionRepository(testDB)
	ctx := context.Background()

	past := time.Now().Add(-time.Hour)
	require.NoError(t, users.Create(ctx, &model.User{ID: "u1", Email: "u1@example.com", AccessToken: "U1"}))
	require.NoError(t, users.Create(ctx, &model.User{ID: "u2", Email: "u2@example.com", AccessToken: "U2"}))
	require.NoError(t, users.Create(ctx, &model.User{ID: "u3", Email: "u3@example.com", AccessToken: "OLD", AccessTokenExpire: &past}))
	require.NoError(t, devices.Create(ctx, &model.Device{ID: "d1", Name: "sensor", AccessToken: "D1"}))
	require.NoError(t, devices.Create(ctx, &model.Device{ID: "d2", Name: "idle", AccessToken: "D2"}))
	require.NoError(t, conns.Create(ctx, &model.Connection{ID: "c1", Topic: "R1", UserID: "u1", DeviceID: "d1"}))
	require.NoError(t, conns.Create(ctx, &model.Connection{ID: "c2", Topic: "R2", UserID: "u1", DeviceID: "d1"}))

	return NewResolver(users, devices, conns)
}

func TestResolver_Resolve(t *testing.T) {
	r := setupResolver(t)
	ctx := context.Background()

	t.Run("user token", func(t *testing.T) {
		id, err := r.Resolve(ctx, "U1")
		require.NoError(t, err)
		u, ok := id.(model.UserIdentity)
		require.True(t, ok)
		assert.Equal(t, "u1", u.User.ID)
		assert.Equal(t, model.RoleUser, id.Role())
	})

	t.Run("device token", func(t *testing.T) {
		id, err := r.Resolve(ctx, "D1")
		require.NoError(t, err)
		d, ok := id.(model.DeviceIdentity)
		require.True(t, ok)
		assert.Equal(t, "d1", d.Device.ID)
	})

	t.Run("unknown token", func(t *testing.T) {
		_, err := r.Resolve(ctx, "nobody")
		assert.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("empty token", func(t *testing.T) {
		_, err := r.Resolve(ctx, "")
		assert.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("expired user token", func(t *testing.T) {
		_, err := r.Resolve(ctx, "OLD")
		assert.ErrorIs(t, err, ErrUnauthorized)
		assert.ErrorIs(t, err, model.ErrTokenExpired)
	})
}

func TestResolver_Memberships(t *testing.T) {
	r := setupResolver(t)
	ctx := context.Background()

	user, err := r.Resolve(ctx, "U1")
	require.NoError(t, err)
	ms, err := r.Memberships(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, []model.RoomMembership{
		{RoomID: "R1", CounterpartRole: model.RoleDevice},
		{RoomID: "R2", CounterpartRole: model.RoleDevice},
	}, ms)

	device, err := r.Resolve(ctx, "D1")
	require.NoError(t, err)
	ms, err = r.Memberships(ctx, device)
	require.NoError(t, err)
	require.Len(t, ms, 2)
	assert.Equal(t, model.RoleUser, ms[0].CounterpartRole)

	lonely, err := r.Resolve(ctx, "U2")
	require.NoError(t, err)
	ms, err = r.Memberships(ctx, lonely)
	require.NoError(t, err)
	assert.Empty(t, ms)
}

func TestResolver_StoreFault(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()

	store := db.Wrap(mockDB, db.DriverSQLite)
	r := NewResolver(
		repository.NewUserRepository(store),
		repository.NewDeviceRepository(store),
		repository.NewConnectionRepository(store),
	)

	t.Run("user lookup fails", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM users").
			WithArgs("U1").
			WillReturnError(errors.New("connection refused"))

		_, err := r.Resolve(context.Background(), "U1")
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrUnauthorized)
		assert.Contains(t, err.Error(), "connection refused")
	})

	t.Run("device lookup fails", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM users").
			WithArgs("D1").
			WillReturnRows(sqlmock.NewRows([]string{"id"}))
		mock.ExpectQuery("SELECT (.+) FROM devices").
			WithArgs("D1").
			WillReturnError(errors.New("too many clients"))

		_, err := r.Resolve(context.Background(), "D1")
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("topology lookup fails", func(t *testing.T) {
		mock.ExpectQuery("SELECT DISTINCT topic FROM connections").
			WithArgs("u1").
			WillReturnError(errors.New("timeout"))

		_, err := r.Memberships(context.Background(), model.UserIdentity{User: &model.User{ID: "u1"}})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "timeout")
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}
