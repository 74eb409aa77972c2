package ws

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

var (
	// ErrRegistryClosed is returned by every operation after Shutdown.
	ErrRegistryClosed = errors.New("registry is shut down")

	// ErrRoomNotFound is returned when broadcasting to a room without users.
	ErrRoomNotFound = errors.New("no such room")

	// ErrNoDevice is returned when sending to a room without a device.
	ErrNoDevice = errors.New("no device registered for room")
)

// SendHandle is the outbound path to one connected peer.
type SendHandle interface {
	ID() string
	Send(data []byte) error
	Close(code int, reason string) error
}

// DeliveryError reports the recipients a broadcast could not reach.
type DeliveryError struct {
	RoomID string
	Failed map[string]error
}

func (e *DeliveryError) Error() string {
	ids := e.ids()
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, fmt.Sprintf("%s: %v", id, e.Failed[id]))
	}
	return fmt.Sprintf("delivery to room %s failed for %d recipient(s): %s",
		e.RoomID, len(ids), strings.Join(parts, "; "))
}

func (e *DeliveryError) Unwrap() []error {
	ids := e.ids()
	errs := make([]error, 0, len(ids))
	for _, id := range ids {
		errs = append(errs, e.Failed[id])
	}
	return errs
}

func (e *DeliveryError) ids() []string {
	ids := make([]string, 0, len(e.Failed))
	for id := range e.Failed {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Stats is a snapshot of the registry size.
type Stats struct {
	Rooms   int `json:"rooms"`
	Devices int `json:"devices"`
	Users   int `json:"users"`
}

// Registry indexes live send handles by room: at most one device per room and
// any number of user sessions keyed by connection id. All methods are safe
// for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	devices map[string]SendHandle
	users   map[string]map[string]SendHandle
	closed  bool

	metrics *Metrics
	logger  zerolog.Logger
}

// NewRegistry creates an empty Registry. metrics may be nil.
func NewRegistry(logger zerolog.Logger, metrics *Metrics) *Registry {
	return &Registry{
		devices: make(map[string]SendHandle),
		users:   make(map[string]map[string]SendHandle),
		metrics: metrics,
		logger:  logger.With().Str("module", "ws.registry").Logger(),
	}
}

// RegisterDevice makes h the device of roomID. A different handle already
// registered for the room is closed.
func (r *Registry) RegisterDevice(roomID string, h SendHandle) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrRegistryClosed
	}
	prev := r.devices[roomID]
	r.devices[roomID] = h
	r.updateMetricsLocked()
	r.mu.Unlock()

	r.logger.Info().Str("room", roomID).Str("conn", h.ID()).Msg("device registered")

	if prev != nil && prev.ID() != h.ID() {
		r.logger.Warn().Str("room", roomID).Str("conn", prev.ID()).Msg("replacing previous device connection")
		if err := prev.Close(CloseShutdown, "replaced by a newer device connection"); err != nil {
			r.logger.Debug().Err(err).Str("conn", prev.ID()).Msg("closing replaced device")
		}
	}
	return nil
}

// RegisterUser adds h as the user session connID of roomID.
func (r *Registry) RegisterUser(roomID, connID string, h SendHandle) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrRegistryClosed
	}

	byConn, ok := r.users[roomID]
	if !ok {
		byConn = make(map[string]SendHandle)
		r.users[roomID] = byConn
	}
	byConn[connID] = h
	r.updateMetricsLocked()

	r.logger.Info().Str("room", roomID).Str("conn", connID).Int("sessions", len(byConn)).Msg("user registered")
	return nil
}

// BroadcastToUsers queues payload for every user session of roomID and
// returns how many accepted it. Failed recipients are reported in a
// *DeliveryError; they never stop delivery to the others.
func (r *Registry) BroadcastToUsers(roomID string, payload []byte) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return 0, ErrRegistryClosed
	}

	byConn, ok := r.users[roomID]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrRoomNotFound, roomID)
	}

	delivered := 0
	var failed map[string]error
	for connID, h := range byConn {
		if err := h.Send(payload); err != nil {
			if failed == nil {
				failed = make(map[string]error)
			}
			failed[connID] = err
			r.logger.Warn().Err(err).Str("room", roomID).Str("conn", connID).Msg("delivery failed")
			continue
		}
		delivered++
	}
	r.metrics.delivered(delivered, len(failed))

	if failed != nil {
		return delivered, &DeliveryError{RoomID: roomID, Failed: failed}
	}
	return delivered, nil
}

// SendToDevice queues payload for the device of roomID.
func (r *Registry) SendToDevice(roomID string, payload []byte) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return ErrRegistryClosed
	}

	h, ok := r.devices[roomID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoDevice, roomID)
	}
	if err := h.Send(payload); err != nil {
		r.metrics.delivered(0, 1)
		return fmt.Errorf("send to device %s: %w", h.ID(), err)
	}
	r.metrics.delivered(1, 0)
	return nil
}

// DeregisterUser removes the user session connID from roomID and reports
// whether it was present.
func (r *Registry) DeregisterUser(roomID, connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	byConn, ok := r.users[roomID]
	if !ok {
		return false
	}
	if _, ok := byConn[connID]; !ok {
		return false
	}
	delete(byConn, connID)
	if len(byConn) == 0 {
		delete(r.users, roomID)
	}
	r.updateMetricsLocked()

	r.logger.Info().Str("room", roomID).Str("conn", connID).Msg("user deregistered")
	return true
}

// DeregisterDevice removes the device of roomID and reports whether it was
// present. A non-empty connID only removes the device if it is that connection,
// so a replaced session cannot evict its successor.
func (r *Registry) DeregisterDevice(roomID, connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.devices[roomID]
	if !ok {
		return false
	}
	if connID != "" && h.ID() != connID {
		return false
	}
	delete(r.devices, roomID)
	r.updateMetricsLocked()

	r.logger.Info().Str("room", roomID).Str("conn", h.ID()).Msg("device deregistered")
	return true
}

// Shutdown closes every registered handle and marks the registry closed.
// It returns the close errors joined; a second call returns ErrRegistryClosed.
func (r *Registry) Shutdown() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrRegistryClosed
	}
	r.closed = true

	handles := make([]SendHandle, 0, len(r.devices))
	for _, h := range r.devices {
		handles = append(handles, h)
	}
	for _, byConn := range r.users {
		for _, h := range byConn {
			handles = append(handles, h)
		}
	}
	r.devices = make(map[string]SendHandle)
	r.users = make(map[string]map[string]SendHandle)
	r.updateMetricsLocked()
	r.mu.Unlock()

	r.logger.Info().Int("handles", len(handles)).Msg("closing all connections")

	// A user in several rooms is one handle listed several times; Close is idempotent.
	var (
		wg    sync.WaitGroup
		errMu sync.Mutex
		errs  []error
	)
	for _, h := range handles {
		wg.Add(1)
		go func(h SendHandle) {
			defer wg.Done()
			if err := h.Close(CloseShutdown, ReasonShutdown); err != nil {
				errMu.Lock()
				errs = append(errs, fmt.Errorf("close %s: %w", h.ID(), err))
				errMu.Unlock()
			}
		}(h)
	}
	wg.Wait()

	return errors.Join(errs...)
}

// Closed reports whether Shutdown has run.
func (r *Registry) Closed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.closed
}

// UserCount returns the number of user sessions in roomID.
func (r *Registry) UserCount(roomID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users[roomID])
}

// HasDevice reports whether roomID has a device.
func (r *Registry) HasDevice(roomID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.devices[roomID]
	return ok
}

// Stats returns a snapshot of the registry size.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.statsLocked()
}

func (r *Registry) statsLocked() Stats {
	s := Stats{Devices: len(r.devices)}
	rooms := make(map[string]struct{}, len(r.devices)+len(r.users))
	for room := range r.devices {
		rooms[room] = struct{}{}
	}
	for room, byConn := range r.users {
		rooms[room] = struct{}{}
		s.Users += len(byConn)
	}
	s.Rooms = len(rooms)
	return s
}

func (r *Registry) updateMetricsLocked() {
	if r.metrics == nil {
		return
	}
	s := r.statsLocked()
	r.metrics.setConnections(s.Devices, s.Users)
}
