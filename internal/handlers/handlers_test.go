package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/jason-s-yu/skirmish/internal/auth"
	"github.com/jason-s-yu/skirmish/internal/middleware"
	"github.com/jason-s-yu/skirmish/internal/models"
	"github.com/jason-s-yu/skirmish/internal/router"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoRouter answers every inbound message on the same connection and records
// disconnects.
type echoRouter struct {
	hub *Hub

	mu           sync.Mutex
	conns        []router.Conn
	disconnected []string
}

func (e *echoRouter) Handle(_ context.Context, c router.Conn, msg []byte) {
	e.mu.Lock()
	e.conns = append(e.conns, c)
	e.mu.Unlock()
	e.hub.ToConn(c.ID, router.Event{Type: "echo", Payload: string(msg)})
}

func (e *echoRouter) Disconnect(_ context.Context, c router.Conn) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.disconnected = append(e.disconnected, c.ID)
}

func (e *echoRouter) lastConn() router.Conn {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.conns[len(e.conns)-1]
}

func (e *echoRouter) disconnects() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.disconnected)
}

type staticRooms []models.RoomSummary

func (s staticRooms) ListPublicRooms() []models.RoomSummary { return s }

func newServer(t *testing.T, ws *WSHandler, signer *auth.Signer) (*httptest.Server, *echoRouter) {
	t.Helper()
	logger, _ := test.NewNullLogger()
	hub := NewHub(logger)
	er := &echoRouter{hub: hub}
	ws.Hub = hub
	ws.Router = er
	ws.Log = logger
	ws.Signer = signer
	srv := httptest.NewServer(NewRouter(Deps{
		Log:    logger,
		Rooms:  staticRooms{{ID: "R1", Host: "u1", PlayerCount: 1, MaxPlayers: 4, GameType: models.GameSolo}},
		WS:     ws,
		Signer: signer,
		Checks: map[string]Check{"memory": func(context.Context) error { return nil }},
	}))
	t.Cleanup(srv.Close)
	return srv, er
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func readEvent(t *testing.T, ctx context.Context, c *websocket.Conn) map[string]any {
	t.Helper()
	_, data, err := c.Read(ctx)
	require.NoError(t, err)
	var ev map[string]any
	require.NoError(t, json.Unmarshal(data, &ev))
	return ev
}

func TestWebSocketRoundTrip(t *testing.T) {
	srv, er := newServer(t, &WSHandler{}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, _, err := websocket.Dial(ctx, wsURL(srv), &websocket.DialOptions{Subprotocols: []string{Subprotocol}})
	require.NoError(t, err)
	defer c.CloseNow()

	require.NoError(t, c.Write(ctx, websocket.MessageText, []byte(`{"type":"ping"}`)))
	ev := readEvent(t, ctx, c)
	assert.Equal(t, "echo", ev["type"])
	assert.Equal(t, `{"type":"ping"}`, ev["data"])
	assert.Empty(t, er.lastConn().UserID)

	require.NoError(t, c.Close(websocket.StatusNormalClosure, ""))
	assert.Eventually(t, func() bool { return er.disconnects() == 1 }, time.Second, 10*time.Millisecond)
}

func TestWebSocketPinsTokenIdentity(t *testing.T) {
	signer, err := auth.NewSigner(0)
	require.NoError(t, err)
	token, err := signer.Issue("u42")
	require.NoError(t, err)

	srv, er := newServer(t, &WSHandler{RequireAuth: true}, signer)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, _, err := websocket.Dial(ctx, wsURL(srv)+"?token="+token, nil)
	require.NoError(t, err)
	defer c.CloseNow()

	require.NoError(t, c.Write(ctx, websocket.MessageText, []byte(`{}`)))
	readEvent(t, ctx, c)
	assert.Equal(t, "u42", er.lastConn().UserID)
}

func TestWebSocketRequiresAuth(t *testing.T) {
	signer, err := auth.NewSigner(0)
	require.NoError(t, err)
	srv, _ := newServer(t, &WSHandler{RequireAuth: true}, signer)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, _, err := websocket.Dial(ctx, wsURL(srv)+"?token=bogus", nil)
	require.NoError(t, err)
	defer c.CloseNow()

	_, _, err = c.Read(ctx)
	require.Error(t, err)
	assert.Equal(t, InvalidAuthTokenError, websocket.CloseStatus(err))
}

func TestWebSocketRateLimit(t *testing.T) {
	srv, _ := newServer(t, &WSHandler{Limiter: middleware.NewRateLimiter(0.001, 1)}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, _, err := websocket.Dial(ctx, wsURL(srv), nil)
	require.NoError(t, err)
	defer c.CloseNow()

	require.NoError(t, c.Write(ctx, websocket.MessageText, []byte(`1`)))
	assert.Equal(t, "echo", readEvent(t, ctx, c)["type"])

	require.NoError(t, c.Write(ctx, websocket.MessageText, []byte(`2`)))
	ev := readEvent(t, ctx, c)
	assert.Equal(t, "error", ev["type"])
	assert.Equal(t, "rate_limited", ev["data"].(map[string]any)["code"])
}

func TestListRooms(t *testing.T) {
	srv, _ := newServer(t, &WSHandler{}, nil)

	resp, err := http.Get(srv.URL + "/rooms")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Rooms []models.RoomSummary `json:"rooms"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Rooms, 1)
	assert.Equal(t, "R1", body.Rooms[0].ID)
}

func TestHealth(t *testing.T) {
	h := HealthHandler(map[string]Check{
		"database": func(context.Context) error { return nil },
		"cache":    func(context.Context) error { return assert.AnError },
	})
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "degraded")

	h = HealthHandler(nil)
	rec = httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGuestToken(t *testing.T) {
	signer, err := auth.NewSigner(time.Hour)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/auth/guest", strings.NewReader(`{"username":"alice"}`))
	GuestHandler(signer, false)(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	var body map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "alice", body["username"])
	userID, err := signer.Verify(body["token"])
	require.NoError(t, err)
	assert.Equal(t, body["userId"], userID)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, auth.CookieName, cookies[0].Name)

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/auth/guest", strings.NewReader(`{"username":"`+strings.Repeat("x", 40)+`"}`))
	GuestHandler(signer, false)(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRequestToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/ws?token=q", nil)
	assert.Equal(t, "q", requestToken(req))

	req.AddCookie(&http.Cookie{Name: auth.CookieName, Value: "c"})
	assert.Equal(t, "c", requestToken(req))

	req = httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Authorization", "Bearer b")
	assert.Equal(t, "b", requestToken(req))
}
