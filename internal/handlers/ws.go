// internal/handlers/ws.go
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/jason-s-yu/skirmish/internal/auth"
	"github.com/jason-s-yu/skirmish/internal/middleware"
	"github.com/jason-s-yu/skirmish/internal/router"
	"github.com/sirupsen/logrus"
)

// Subprotocol is the websocket subprotocol this server speaks.
const Subprotocol = "skirmish"

const (
	pingInterval   = 30 * time.Second
	writeTimeout   = 5 * time.Second
	maxMessageSize = 64 << 10
)

// EventRouter consumes inbound events of a connection.
type EventRouter interface {
	Handle(ctx context.Context, c router.Conn, msg []byte)
	Disconnect(ctx context.Context, c router.Conn)
}

// WSHandler upgrades /ws requests and pumps events between the socket and the
// router.
type WSHandler struct {
	Hub     *Hub
	Router  EventRouter
	Signer  *auth.Signer
	Limiter *middleware.RateLimiter
	Log     logrus.FieldLogger

	// RequireAuth rejects connections without a valid token.
	RequireAuth    bool
	OriginPatterns []string
	// Shutdown, when closed, ends every connection with ServerShutdownError.
	Shutdown <-chan struct{}
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID, authErr := h.identify(r)

	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:   []string{Subprotocol},
		OriginPatterns: h.OriginPatterns,
	})
	if err != nil {
		h.Log.WithError(err).Warn("websocket accept error")
		return
	}
	defer c.CloseNow()

	if r.Header.Get("Sec-WebSocket-Protocol") != "" && c.Subprotocol() != Subprotocol {
		c.Close(BadSubprotocolError, "client must speak the "+Subprotocol+" subprotocol")
		return
	}
	if authErr != nil {
		h.Log.WithError(authErr).WithField("remote", r.RemoteAddr).Warn("websocket authentication failed")
		c.Close(InvalidAuthTokenError, "authentication required")
		return
	}
	c.SetReadLimit(maxMessageSize)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	client := newClient(uuid.NewString(), userID, cancel)
	conn := router.Conn{ID: client.ID, UserID: userID}

	h.Hub.register(client)
	middleware.LogWebSocketConnect(h.Log, r.RemoteAddr, client.ID, userID)

	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		h.writePump(ctx, c, client)
	}()
	go h.watch(ctx, c, client)

	readErr := h.readPump(ctx, c, conn)

	cancel()
	disconnectCtx, dcancel := context.WithTimeout(context.Background(), writeTimeout)
	h.Router.Disconnect(disconnectCtx, conn)
	dcancel()
	h.Hub.unregister(client.ID)
	if h.Limiter != nil {
		h.Limiter.Forget(client.ID)
	}
	<-writeDone

	c.Close(websocket.StatusNormalClosure, "")
	middleware.LogWebSocketDisconnect(h.Log, r.RemoteAddr, client.ID, readErr)
}

// identify resolves the pinned user of the request. Without a token the
// connection is anonymous unless auth is required.
func (h *WSHandler) identify(r *http.Request) (string, error) {
	token := requestToken(r)
	if token == "" || h.Signer == nil {
		if h.RequireAuth {
			return "", auth.ErrInvalidToken
		}
		return "", nil
	}
	userID, err := h.Signer.Verify(token)
	if err != nil {
		if h.RequireAuth {
			return "", err
		}
		return "", nil
	}
	return userID, nil
}

// readPump feeds inbound text frames to the router until the socket closes.
// A normal closure returns nil.
func (h *WSHandler) readPump(ctx context.Context, c *websocket.Conn, conn router.Conn) error {
	log := h.Log.WithField("conn", conn.ID)
	for {
		typ, msg, err := c.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		if typ != websocket.MessageText {
			log.Warnf("ignoring non-text message type %d", typ)
			continue
		}
		if h.Limiter != nil && !h.Limiter.Allow(conn.ID) {
			h.Hub.ToConn(conn.ID, router.Event{Type: "error", Payload: map[string]any{
				"message": "Rate limit exceeded",
				"code":    "rate_limited",
			}})
			continue
		}
		h.Router.Handle(ctx, conn, msg)
	}
}

func (h *WSHandler) writePump(ctx context.Context, c *websocket.Conn, client *Client) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	log := h.Log.WithField("conn", client.ID)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-client.Out():
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				log.WithError(err).WithField("event", ev.Type).Warn("failed to marshal outgoing event")
				continue
			}
			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err = c.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				log.WithError(err).Debug("write failed")
				client.cancel()
				return
			}
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.Ping(pingCtx)
			cancel()
			if err != nil {
				log.WithError(err).Debug("ping failed")
				client.cancel()
				return
			}
		}
	}
}

// watch closes the socket with a specific code when the client is cut off for
// lagging or the server shuts down. A nil Shutdown channel never fires.
func (h *WSHandler) watch(ctx context.Context, c *websocket.Conn, client *Client) {
	select {
	case <-ctx.Done():
		if client.Slow() {
			c.Close(SlowConsumerError, "outbound queue overflow")
		}
	case <-h.Shutdown:
		c.Close(ServerShutdownError, "server shutting down")
	}
}
