// internal/router/router.go
package router

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jason-s-yu/skirmish/internal/models"
	"github.com/sirupsen/logrus"
)

// Event is one message on the wire: {"type": "...", "data": {...}}.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"data,omitempty"`
}

// Broadcaster delivers outbound events. Room groups hold connection ids.
type Broadcaster interface {
	Join(roomID, connID string)
	Leave(roomID, connID string)
	// ToRoom sends to every connection in the room group except the listed ones.
	ToRoom(roomID string, ev Event, except ...string)
	ToConn(connID string, ev Event)
	ToAll(ev Event)
}

// Conn is the connection an inbound event arrived on.
type Conn struct {
	ID string
	// UserID is pinned from a verified token. Empty when auth is not required.
	UserID string
}

// Rooms is the session repository as the router uses it.
type Rooms interface {
	CreateRoom(ctx context.Context, roomID, hostID, hostName, connID string, settings models.RoomSettings) (*models.Room, error)
	JoinOrCreate(ctx context.Context, roomID, userID, username, connID string, team *int, settings models.RoomSettings) (*models.Room, bool, error)
	LeaveRoom(ctx context.Context, roomID, userID string) (*models.Room, error)
	GetRoom(ctx context.Context, roomID string) (*models.Room, error)
	SetReady(ctx context.Context, roomID, userID string, ready bool) (bool, error)
	AllReady(ctx context.Context, roomID string) bool
	FindRoomByConnection(ctx context.Context, connID string) (*models.Room, error)
	Reconnect(ctx context.Context, roomID, userID, newConnID string) (*models.Room, error)
	MarkDisconnected(ctx context.Context, connID string) (*models.Room, *models.Participant, error)
	UpdateSettings(ctx context.Context, roomID, userID string, s models.RoomSettings) (*models.Room, error)
	ListPublicRooms() []models.RoomSummary
}

// Games is the game state machine as the router uses it.
type Games interface {
	GetGame(ctx context.Context, roomID string) (*models.GameSession, error)
	StartGame(ctx context.Context, roomID string) (*models.GameSession, error)
	EndTurn(ctx context.Context, roomID, playerID string) (*models.GameSession, error)
	RecordAction(ctx context.Context, roomID, playerID string, action models.Action) (*models.GameSession, error)
	Surrender(ctx context.Context, roomID, playerID string) (*models.GameSession, int, error)
	EndGame(ctx context.Context, roomID string, winner models.Winner) (*models.GameSession, error)
}

// Router binds inbound events to the room and game layers. Every handler that
// touches a room holds that room's lock for its whole duration.
type Router struct {
	rooms Rooms
	games Games
	out   Broadcaster
	log   logrus.FieldLogger

	locks *keyedMutex
	clock *turnClock

	Now func() time.Time
	// TimerTimeout bounds the store calls made when a turn clock fires.
	TimerTimeout time.Duration
}

// New builds a Router. after schedules turn timeouts; nil uses time.AfterFunc.
func New(rooms Rooms, games Games, out Broadcaster, log logrus.FieldLogger, after AfterFunc) *Router {
	return &Router{
		rooms:        rooms,
		games:        games,
		out:          out,
		log:          log,
		locks:        newKeyedMutex(),
		clock:        newTurnClock(after),
		Now:          time.Now,
		TimerTimeout: 5 * time.Second,
	}
}

type inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Handle processes one raw inbound message from c. Failures are reported to c
// alone as an "error" event.
func (r *Router) Handle(ctx context.Context, c Conn, msg []byte) {
	var in inbound
	if err := json.Unmarshal(msg, &in); err != nil || in.Type == "" {
		r.fail(c, "", models.Invalid("Malformed message"))
		return
	}

	var err error
	switch in.Type {
	case "room:create":
		err = r.roomCreate(ctx, c, in.Data)
	case "room:join":
		err = r.roomJoin(ctx, c, in.Data)
	case "room:leave":
		err = r.roomLeave(ctx, c, in.Data)
	case "room:ready":
		err = r.roomReady(ctx, c, in.Data)
	case "room:chat":
		err = r.roomChat(ctx, c, in.Data)
	case "room:settings":
		err = r.roomSettings(ctx, c, in.Data)
	case "room:reconnect":
		err = r.roomReconnect(ctx, c, in.Data)
	case "game:start":
		err = r.gameStart(ctx, c, in.Data)
	case "game:play_card":
		err = r.gamePlayCard(ctx, c, in.Data)
	case "game:end_turn":
		err = r.gameEndTurn(ctx, c, in.Data)
	case "game:surrender":
		err = r.gameSurrender(ctx, c, in.Data)
	case "game:get_state":
		err = r.gameGetState(ctx, c, in.Data)
	case "game:action":
		err = r.gameAction(ctx, c, in.Data)
	default:
		err = models.Invalid("Unknown event type %q", in.Type)
	}
	if err != nil {
		r.fail(c, in.Type, err)
	}
}

// Disconnect handles a closed connection. A connection bound to no room is
// ignored.
func (r *Router) Disconnect(ctx context.Context, c Conn) {
	room, err := r.rooms.FindRoomByConnection(ctx, c.ID)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			r.log.WithError(err).WithField("conn", c.ID).Error("failed to resolve room of closed connection")
		}
		return
	}

	unlock := r.locks.Lock(room.ID)
	defer unlock()

	room, p, err := r.rooms.MarkDisconnected(ctx, c.ID)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			r.log.WithError(err).WithField("conn", c.ID).Error("failed to mark participant disconnected")
		}
		return
	}
	if room == nil {
		return
	}
	r.out.Leave(room.ID, c.ID)
	r.out.ToRoom(room.ID, Event{Type: "room:player_disconnected", Payload: map[string]any{
		"playerId": p.UserID,
	}})
}

// Close cancels all pending turn timers.
func (r *Router) Close() {
	r.clock.stopAll()
}

func (r *Router) fail(c Conn, evType string, err error) {
	kind := models.KindOf(err)
	log := r.log.WithFields(logrus.Fields{"conn": c.ID, "event": evType}).WithError(err)

	msg := "Temporary storage failure, please retry"
	var typed *models.Error
	if kind == models.KindStorage {
		log.Error("event failed")
	} else {
		log.Debug("event rejected")
		if errors.As(err, &typed) {
			msg = typed.Message
		}
	}
	r.out.ToConn(c.ID, Event{Type: "error", Payload: map[string]any{
		"message": msg,
		"code":    string(kind),
		"event":   evType,
	}})
}

func decode(data json.RawMessage, dst any) error {
	if len(data) == 0 {
		return models.Invalid("Missing event data")
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return models.Invalid("Malformed event data")
	}
	return nil
}

// identify checks a claimed user id against the identity pinned on c.
func identify(c Conn, userID string) error {
	if userID == "" {
		return models.Invalid("userId is required")
	}
	if c.UserID != "" && c.UserID != userID {
		return models.ErrForeignActor
	}
	return nil
}

// actor resolves the room and checks that userID is a member bound to c.
func (r *Router) actor(ctx context.Context, c Conn, roomID, userID string) (*models.Room, error) {
	if err := identify(c, userID); err != nil {
		return nil, err
	}
	room, err := r.rooms.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	p, ok := room.Players[userID]
	if !ok {
		return nil, models.ErrNotMember
	}
	if p.ConnectionID != c.ID {
		return nil, models.ErrForeignActor
	}
	return room, nil
}

// member resolves the room and the participant bound to c, for events that do
// not name a user.
func (r *Router) member(ctx context.Context, c Conn, roomID string) (*models.Room, *models.Participant, error) {
	room, err := r.rooms.GetRoom(ctx, roomID)
	if err != nil {
		return nil, nil, err
	}
	p, ok := room.MemberByConnection(c.ID)
	if !ok {
		return nil, nil, models.ErrNotMember
	}
	if c.UserID != "" && c.UserID != p.UserID {
		return nil, nil, models.ErrForeignActor
	}
	return room, p, nil
}

// unbound rejects c when it is already bound to a room other than roomID.
func (r *Router) unbound(ctx context.Context, c Conn, roomID string) error {
	room, err := r.rooms.FindRoomByConnection(ctx, c.ID)
	if errors.Is(err, models.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if room.ID != roomID {
		return models.ErrInOtherRoom
	}
	return nil
}

func (r *Router) listUpdated() {
	r.out.ToAll(Event{Type: "room:list_updated", Payload: map[string]any{
		"rooms": r.rooms.ListPublicRooms(),
	}})
}

func (r *Router) timestamp() int64 {
	return r.Now().UnixMilli()
}

func requireRoomID(roomID string) error {
	if roomID == "" {
		return models.Invalid("roomId is required")
	}
	return nil
}
