// Package ws provides the WebSocket side of the relay.
//
// The package implements:
//   - ExtractAccessToken: the handshake gate run before a connection is upgraded
//   - Conn: the send handle for one upgraded socket, with its own write pump
//   - Registry: the room index of live device and user handles
//   - ParseFrame: the text frame protocol spoken by devices
//
// Key properties:
//   - At most one device per room; a newer device handle closes the older one
//   - Any number of user sessions per room, keyed by connection id
//   - A registry entry exists only while its socket is open
//   - Shutdown closes every live socket and refuses later registrations
package ws
