package ws

import (
	"strings"

	"github.com/gorilla/websocket"
)

// FrameKind is the command carried by a text frame.
type FrameKind string

const (
	// FrameData is a device reading to be relayed to the room's users.
	FrameData FrameKind = "data"
)

// Frame is a parsed text frame.
type Frame struct {
	Kind    FrameKind
	Payload string
}

// ParseFrame recognises "<kind>:<payload>" frames. Only "data" is known; any
// other text returns ok == false.
func ParseFrame(text string) (Frame, bool) {
	kind, payload, found := strings.Cut(text, ":")
	if !found || FrameKind(kind) != FrameData {
		return Frame{}, false
	}
	return Frame{Kind: FrameData, Payload: payload}, true
}

// Close codes and reasons sent to peers.
const (
	CloseUnauthorized = websocket.ClosePolicyViolation
	CloseInternal     = websocket.CloseInternalServerErr
	CloseShutdown     = websocket.CloseGoingAway

	ReasonUnauthorized = "You're unauthorized"
	ReasonInternal     = "There's an unexpected error"
	ReasonShutdown     = "server shutting down"
)
