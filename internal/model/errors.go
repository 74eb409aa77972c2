package model

import "errors"

var (
	// ErrUserNotFound is returned when no user matches a lookup.
	ErrUserNotFound = errors.New("user not found")

	// ErrDeviceNotFound is returned when no device matches a lookup.
	ErrDeviceNotFound = errors.New("device not found")

	// ErrTokenExpired is returned when an access token exists but is past its expiry.
	ErrTokenExpired = errors.New("access token expired")

	// ErrUnknownIdentity is returned for an Identity variant that is neither a user nor a device.
	ErrUnknownIdentity = errors.New("unknown identity kind")
)
