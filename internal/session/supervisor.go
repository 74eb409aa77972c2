// Package session drives one relay connection from the upgrade request to
// teardown.
package session

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/gaia-relay/backend/internal/auth"
	"github.com/gaia-relay/backend/internal/model"
	"github.com/gaia-relay/backend/internal/ws"
)

// Config holds configuration for the supervisor.
type Config struct {
	// ReadLimit caps the size of an inbound frame. Zero means no limit.
	ReadLimit int64
	// Conn tunes the send handle of every accepted connection.
	Conn ws.ConnOptions
	// CheckOrigin overrides the upgrader origin check. Nil accepts every origin.
	CheckOrigin func(r *http.Request) bool
}

// Supervisor is an http.Handler that upgrades relay connections and runs
// each one through authentication, registration and the read loop.
type Supervisor struct {
	registry   *ws.Registry
	identities auth.IdentityResolver
	topology   auth.TopologyResolver
	metrics    *ws.Metrics
	logger     zerolog.Logger

	upgrader  websocket.Upgrader
	readLimit int64
	connOpts  ws.ConnOptions
	newID     func() string
}

// NewSupervisor creates a new Supervisor. metrics may be nil.
func NewSupervisor(registry *ws.Registry, identities auth.IdentityResolver, topology auth.TopologyResolver,
	metrics *ws.Metrics, logger zerolog.Logger, cfg Config) *Supervisor {
	checkOrigin := cfg.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(r *http.Request) bool { return true }
	}

	return &Supervisor{
		registry:   registry,
		identities: identities,
		topology:   topology,
		metrics:    metrics,
		logger:     logger.With().Str("module", "session").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
		readLimit: cfg.ReadLimit,
		connOpts:  cfg.Conn,
		newID:     func() string { return uuid.New().String() },
	}
}

// conn is the per-connection state shared by the supervisor steps.
type conn struct {
	id       string
	state    State
	identity model.Identity
	isDevice bool
	rooms    []string
	socket   *websocket.Conn
	handle   *ws.Conn
	logger   zerolog.Logger
}

func (c *conn) transition(next State) {
	c.logger.Debug().Stringer("from", c.state).Stringer("to", next).Msg("state change")
	c.state = next
}

// ServeHTTP runs one connection to completion. It returns once the peer is
// gone and the connection has been removed from the registry.
func (s *Supervisor) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c := &conn{
		id:    s.newID(),
		state: StateConnecting,
	}
	c.logger = s.logger.With().Str("conn", c.id).Str("remote", r.RemoteAddr).Logger()

	token, rej := ws.ExtractAccessToken(r.Header)
	if rej != nil {
		s.metrics.Reject(ws.RejectNoToken)
		c.logger.Info().Int("status", rej.Status).Msg("handshake rejected")
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(rej.Status)
		_, _ = io.WriteString(w, rej.Body)
		return
	}
	c.transition(StateHeaderChecked)

	socket, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already written the HTTP error.
		c.logger.Warn().Err(err).Msg("upgrade failed")
		return
	}
	if s.readLimit > 0 {
		socket.SetReadLimit(s.readLimit)
	}
	c.socket = socket
	c.handle = ws.NewConn(c.id, socket, s.connOpts)
	c.transition(StateUpgraded)

	if !s.authenticate(r, c, token) {
		c.transition(StateClosed)
		return
	}
	if !s.register(c) {
		c.transition(StateClosed)
		return
	}

	c.transition(StateActive)
	s.readLoop(c)

	c.transition(StateClosing)
	s.teardown(c)
	c.transition(StateClosed)
}

// authenticate resolves the identity and rooms of c, closing the connection
// when either step fails.
func (s *Supervisor) authenticate(r *http.Request, c *conn, token string) bool {
	ctx := r.Context()

	c.transition(StateAuthenticating)
	identity, err := s.identities.Resolve(ctx, token)
	if err != nil {
		s.refuse(c, err, "identity resolution failed")
		return false
	}
	switch identity.(type) {
	case model.DeviceIdentity:
		c.isDevice = true
	case model.UserIdentity:
		c.isDevice = false
	default:
		s.refuse(c, fmt.Errorf("%w: %T", model.ErrUnknownIdentity, identity), "identity resolution failed")
		return false
	}
	c.identity = identity
	c.logger = c.logger.With().Stringer("identity", identity).Logger()

	memberships, err := s.topology.Memberships(ctx, identity)
	if err != nil {
		s.refuse(c, err, "topology resolution failed")
		return false
	}
	if len(memberships) == 0 {
		s.metrics.Reject(ws.RejectNoRooms)
		c.logger.Info().Msg("identity has no rooms")
		s.closeHandle(c, ws.CloseUnauthorized, ws.ReasonUnauthorized)
		return false
	}

	c.rooms = make([]string, 0, len(memberships))
	for _, m := range memberships {
		c.rooms = append(c.rooms, m.RoomID)
	}
	c.transition(StateTopologyResolved)
	return true
}

// refuse closes c with 1008 for authorization failures and 1011 for anything else.
func (s *Supervisor) refuse(c *conn, err error, msg string) {
	if errors.Is(err, auth.ErrUnauthorized) {
		s.metrics.Reject(ws.RejectUnauthorized)
		c.logger.Info().Err(err).Msg(msg)
		s.closeHandle(c, ws.CloseUnauthorized, ws.ReasonUnauthorized)
		return
	}

	s.metrics.Reject(ws.RejectResolverError)
	c.logger.Error().Err(err).Msg(msg)
	s.closeHandle(c, ws.CloseInternal, ws.ReasonInternal)
}

// register adds c to the registry under every room. If the registry refuses,
// the rooms already registered are rolled back.
func (s *Supervisor) register(c *conn) bool {
	for i, room := range c.rooms {
		var err error
		if c.isDevice {
			err = s.registry.RegisterDevice(room, c.handle)
		} else {
			err = s.registry.RegisterUser(room, c.id, c.handle)
		}
		if err != nil {
			c.logger.Warn().Err(err).Str("room", room).Msg("registration refused")
			s.deregister(c, c.rooms[:i])
			s.metrics.Reject(ws.RejectShutdown)
			s.closeHandle(c, ws.CloseShutdown, ws.ReasonShutdown)
			return false
		}
	}

	c.transition(StateRegistered)
	c.logger.Info().Strs("rooms", c.rooms).Msg("connection registered")
	return true
}

// readLoop consumes inbound frames until the socket fails or closes.
func (s *Supervisor) readLoop(c *conn) {
	for {
		messageType, data, err := c.socket.ReadMessage()
		if err != nil {
			if expectedDisconnect(err) {
				c.logger.Debug().Err(err).Msg("peer disconnected")
			} else {
				c.logger.Warn().Err(err).Msg("read failed")
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		text := string(data)
		if !c.isDevice {
			c.logger.Debug().Str("frame", text).Msg("ignoring user frame")
			continue
		}

		frame, ok := ws.ParseFrame(text)
		if !ok {
			c.logger.Debug().Str("frame", text).Msg("ignoring unknown device frame")
			continue
		}
		s.relay(c, frame.Payload)
	}
}

// relay broadcasts a device payload to the users of every room the device serves.
func (s *Supervisor) relay(c *conn, payload string) {
	for _, room := range c.rooms {
		n, err := s.registry.BroadcastToUsers(room, []byte(payload))
		var derr *ws.DeliveryError
		switch {
		case err == nil:
			c.logger.Debug().Str("room", room).Int("delivered", n).Msg("payload relayed")
		case errors.Is(err, ws.ErrRoomNotFound):
			c.logger.Debug().Str("room", room).Msg("no users in room")
		case errors.As(err, &derr):
			c.logger.Warn().Str("room", room).Int("delivered", n).Int("failed", len(derr.Failed)).Msg("payload partially relayed")
		default:
			c.logger.Warn().Err(err).Str("room", room).Msg("relay failed")
		}
	}
}

func (s *Supervisor) teardown(c *conn) {
	s.deregister(c, c.rooms)
	s.closeHandle(c, websocket.CloseNormalClosure, "")
	c.logger.Info().Msg("connection closed")
}

func (s *Supervisor) deregister(c *conn, rooms []string) {
	for _, room := range rooms {
		var removed bool
		if c.isDevice {
			removed = s.registry.DeregisterDevice(room, c.id)
		} else {
			removed = s.registry.DeregisterUser(room, c.id)
		}
		if !removed {
			c.logger.Debug().Str("room", room).Msg("registry entry already gone")
		}
	}
}

func (s *Supervisor) closeHandle(c *conn, code int, reason string) {
	if err := c.handle.Close(code, reason); err != nil {
		c.logger.Debug().Err(err).Int("code", code).Msg("close failed")
	}
}

// expectedDisconnect reports whether err is an ordinary way for a peer to go away.
func expectedDisconnect(err error) bool {
	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
		websocket.CloseAbnormalClosure,
	) {
		return true
	}
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.ECONNRESET)
}
