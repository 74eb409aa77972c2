// Package auth resolves bearer tokens into identities and identities into
// the rooms they may join.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gaia-relay/backend/internal/model"
)

// ErrUnauthorized is returned when a token belongs to no user and no device,
// or when an identity has no room to join.
var ErrUnauthorized = errors.New("unauthorized")

// IdentityResolver turns a bearer token into an Identity.
type IdentityResolver interface {
	Resolve(ctx context.Context, token string) (model.Identity, error)
}

// TopologyResolver lists the rooms an Identity takes part in.
type TopologyResolver interface {
	Memberships(ctx context.Context, id model.Identity) ([]model.RoomMembership, error)
}

// UserStore is the part of the user repository the resolver needs.
type UserStore interface {
	GetByAccessToken(ctx context.Context, token string) (*model.User, error)
}

// DeviceStore is the part of the device repository the resolver needs.
type DeviceStore interface {
	GetByAccessToken(ctx context.Context, token string) (*model.Device, error)
}

// PairingStore is the part of the connection repository the resolver needs.
type PairingStore interface {
	TopicsByUser(ctx context.Context, userID string) ([]string, error)
	TopicsByDevice(ctx context.Context, deviceID string) ([]string, error)
}

// Resolver implements IdentityResolver and TopologyResolver on top of the store.
// It never caches: every call goes to the store.
type Resolver struct {
	users    UserStore
	devices  DeviceStore
	pairings PairingStore
	now      func() time.Time
}

// NewResolver creates a new Resolver.
func NewResolver(users UserStore, devices DeviceStore, pairings PairingStore) *Resolver {
	return &Resolver{
		users:    users,
		devices:  devices,
		pairings: pairings,
		now:      time.Now,
	}
}

// Resolve looks the token up among users first, then devices.
// A token that matches neither returns ErrUnauthorized; store failures are
// returned wrapped and are not ErrUnauthorized.
func (r *Resolver) Resolve(ctx context.Context, token string) (model.Identity, error) {
	if token == "" {
		return nil, ErrUnauthorized
	}

	user, err := r.users.GetByAccessToken(ctx, token)
	switch {
	case err == nil:
		if user.TokenExpired(r.now()) {
			return nil, fmt.Errorf("%w: %w", ErrUnauthorized, model.ErrTokenExpired)
		}
		return model.UserIdentity{User: user}, nil
	case !errors.Is(err, model.ErrUserNotFound):
		return nil, fmt.Errorf("failed to resolve user token: %w", err)
	}

	device, err := r.devices.GetByAccessToken(ctx, token)
	switch {
	case err == nil:
		return model.DeviceIdentity{Device: device}, nil
	case errors.Is(err, model.ErrDeviceNotFound):
		return nil, ErrUnauthorized
	default:
		return nil, fmt.Errorf("failed to resolve device token: %w", err)
	}
}

// Memberships returns one membership per room the identity takes part in,
// ordered by room id. The slice may be empty.
func (r *Resolver) Memberships(ctx context.Context, id model.Identity) ([]model.RoomMembership, error) {
	var (
		topics      []string
		counterpart model.Role
		err         error
	)

	switch v := id.(type) {
	case model.UserIdentity:
		topics, err = r.pairings.TopicsByUser(ctx, v.User.ID)
		counterpart = model.RoleDevice
	case model.DeviceIdentity:
		topics, err = r.pairings.TopicsByDevice(ctx, v.Device.ID)
		counterpart = model.RoleUser
	default:
		return nil, fmt.Errorf("%w: %T", model.ErrUnknownIdentity, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve rooms for %s: %w", id.ID(), err)
	}

	memberships := make([]model.RoomMembership, 0, len(topics))
	for _, topic := range topics {
		memberships = append(memberships, model.RoomMembership{
			RoomID:          topic,
			CounterpartRole: counterpart,
		})
	}
	return memberships, nil
}
