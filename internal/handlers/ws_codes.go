// internal/handlers/ws_codes.go
package handlers

import "github.com/coder/websocket"

// Custom websocket close codes, in the 3000-3999 range reserved for applications.
const (
	BadSubprotocolError   websocket.StatusCode = 3000 // Client offered subprotocols, none of them ours.
	InvalidAuthTokenError websocket.StatusCode = 3001 // Token missing, invalid or expired while auth is required.
	SlowConsumerError     websocket.StatusCode = 3002 // Outbound queue overflowed; reconnect to resync.
	ServerShutdownError   websocket.StatusCode = 3003
)
