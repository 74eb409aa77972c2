package model

import "time"

// Role names one side of a room.
type Role string

const (
	RoleUser   Role = "user"
	RoleDevice Role = "device"
)

// User is an account that observes devices.
type User struct {
	ID                string     `json:"id"`
	Email             string     `json:"email"`
	Username          string     `json:"username,omitempty"`
	Password          string     `json:"-"`
	AccessToken       string     `json:"-"`
	AccessTokenExpire *time.Time `json:"-"`
	VerificationToken string     `json:"-"`
	CreatedAt         time.Time  `json:"createdAt"`
}

// TokenExpired reports whether the user's access token expired before now.
func (u *User) TokenExpired(now time.Time) bool {
	return u.AccessTokenExpire != nil && !u.AccessTokenExpire.After(now)
}

// Device is a publisher that serves one or more rooms.
type Device struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	AccessToken string    `json:"-"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Connection pairs a user with a device under a topic. The topic is the room id.
type Connection struct {
	ID       string `json:"id"`
	Topic    string `json:"topic"`
	UserID   string `json:"userId"`
	DeviceID string `json:"deviceId"`
}

// Identity is the principal behind a bearer token. The only implementations
// are UserIdentity and DeviceIdentity.
type Identity interface {
	Role() Role
	ID() string
	String() string
	identity()
}

// UserIdentity is an Identity resolved from the user table.
type UserIdentity struct {
	User *User
}

func (UserIdentity) identity()        {}
func (UserIdentity) Role() Role       { return RoleUser }
func (i UserIdentity) ID() string     { return i.User.ID }
func (i UserIdentity) String() string { return "user:" + i.User.ID }

// DeviceIdentity is an Identity resolved from the device table.
type DeviceIdentity struct {
	Device *Device
}

func (DeviceIdentity) identity()        {}
func (DeviceIdentity) Role() Role       { return RoleDevice }
func (i DeviceIdentity) ID() string     { return i.Device.ID }
func (i DeviceIdentity) String() string { return "device:" + i.Device.ID }

// RoomMembership names a room an identity takes part in and the role of the
// other side of that room.
type RoomMembership struct {
	RoomID          string `json:"roomId"`
	CounterpartRole Role   `json:"counterpartRole"`
}
