package router

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/jason-s-yu/skirmish/internal/game"
	"github.com/jason-s-yu/skirmish/internal/models"
	"github.com/sirupsen/logrus"
)

// MaxChatLength bounds a chat message in bytes after trimming.
const MaxChatLength = 500

type roomCreateData struct {
	RoomID   string              `json:"roomId"`
	UserID   string              `json:"userId"`
	Username string              `json:"username"`
	Settings models.RoomSettings `json:"settings"`
}

type roomJoinData struct {
	RoomID   string `json:"roomId"`
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Team     *int   `json:"team"`
}

type roomUserData struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
}

type roomReadyData struct {
	RoomID  string `json:"roomId"`
	UserID  string `json:"userId"`
	IsReady bool   `json:"isReady"`
}

type roomChatData struct {
	RoomID  string `json:"roomId"`
	UserID  string `json:"userId"`
	Message string `json:"message"`
}

type roomSettingsData struct {
	RoomID   string              `json:"roomId"`
	Settings models.RoomSettings `json:"settings"`
}

func (r *Router) roomCreate(ctx context.Context, c Conn, data json.RawMessage) error {
	var d roomCreateData
	if err := decode(data, &d); err != nil {
		return err
	}
	if err := requireRoomID(d.RoomID); err != nil {
		return err
	}
	if err := identify(c, d.UserID); err != nil {
		return err
	}

	unlock := r.locks.Lock(d.RoomID)
	defer unlock()

	if err := r.unbound(ctx, c, d.RoomID); err != nil {
		return err
	}
	room, err := r.rooms.CreateRoom(ctx, d.RoomID, d.UserID, d.Username, c.ID, d.Settings)
	if err != nil {
		return err
	}
	r.out.Join(room.ID, c.ID)
	r.out.ToConn(c.ID, Event{Type: "room:created", Payload: map[string]any{"room": room.View()}})
	r.listUpdated()
	return nil
}

func (r *Router) roomJoin(ctx context.Context, c Conn, data json.RawMessage) error {
	var d roomJoinData
	if err := decode(data, &d); err != nil {
		return err
	}
	if err := requireRoomID(d.RoomID); err != nil {
		return err
	}
	if err := identify(c, d.UserID); err != nil {
		return err
	}

	unlock := r.locks.Lock(d.RoomID)
	defer unlock()

	if err := r.unbound(ctx, c, d.RoomID); err != nil {
		return err
	}
	room, created, err := r.rooms.JoinOrCreate(ctx, d.RoomID, d.UserID, d.Username, c.ID, d.Team, models.RoomSettings{})
	if err != nil {
		return err
	}
	p := room.Players[d.UserID]

	r.out.Join(room.ID, c.ID)
	r.out.ToConn(c.ID, Event{Type: "room:joined", Payload: map[string]any{
		"room":   room.View(),
		"isHost": room.Host == d.UserID,
	}})
	if !created {
		r.out.ToRoom(room.ID, Event{Type: "room:player_joined", Payload: map[string]any{
			"player": map[string]any{
				"userId":   p.UserID,
				"username": p.Username,
				"team":     p.Team,
			},
			"room": room.View(),
		}}, c.ID)
	}
	r.listUpdated()
	return nil
}

func (r *Router) roomLeave(ctx context.Context, c Conn, data json.RawMessage) error {
	var d roomUserData
	if err := decode(data, &d); err != nil {
		return err
	}
	if err := requireRoomID(d.RoomID); err != nil {
		return err
	}

	unlock := r.locks.Lock(d.RoomID)
	defer unlock()

	if _, err := r.actor(ctx, c, d.RoomID, d.UserID); err != nil {
		return err
	}
	room, err := r.rooms.LeaveRoom(ctx, d.RoomID, d.UserID)
	if err != nil {
		return err
	}

	r.out.Leave(d.RoomID, c.ID)
	r.out.ToConn(c.ID, Event{Type: "room:left", Payload: map[string]any{"roomId": d.RoomID}})
	if room == nil {
		r.clock.disarm(d.RoomID)
	} else {
		r.out.ToRoom(room.ID, Event{Type: "room:player_left", Payload: map[string]any{
			"playerId": d.UserID,
			"room":     room.View(),
		}})
		r.afterDeparture(ctx, room.ID)
	}
	r.listUpdated()
	return nil
}

// afterDeparture concludes a running game left with a decided outcome, or
// re-arms the turn clock when the pointer may have moved.
func (r *Router) afterDeparture(ctx context.Context, roomID string) {
	g, err := r.games.GetGame(ctx, roomID)
	if err != nil {
		r.log.WithError(err).WithField("room", roomID).Warn("failed to load game after departure")
		return
	}
	if g.Phase != models.PhaseInProgress {
		return
	}
	if winner, ok := game.Decided(g); ok {
		if _, err := r.conclude(ctx, roomID, winner, "opponents_left"); err != nil {
			r.log.WithError(err).WithField("room", roomID).Error("failed to conclude game after departure")
		}
		return
	}
	r.armClock(g)
}

func (r *Router) roomReady(ctx context.Context, c Conn, data json.RawMessage) error {
	var d roomReadyData
	if err := decode(data, &d); err != nil {
		return err
	}
	if err := requireRoomID(d.RoomID); err != nil {
		return err
	}

	unlock := r.locks.Lock(d.RoomID)
	defer unlock()

	if _, err := r.actor(ctx, c, d.RoomID, d.UserID); err != nil {
		return err
	}
	ok, err := r.rooms.SetReady(ctx, d.RoomID, d.UserID, d.IsReady)
	if err != nil {
		return err
	}
	if !ok {
		return models.ErrParticipantNotFound
	}
	r.out.ToRoom(d.RoomID, Event{Type: "room:player_ready", Payload: map[string]any{
		"playerId": d.UserID,
		"isReady":  d.IsReady,
	}})
	if r.rooms.AllReady(ctx, d.RoomID) {
		r.out.ToRoom(d.RoomID, Event{Type: "room:all_ready"})
	}
	return nil
}

func (r *Router) roomChat(ctx context.Context, c Conn, data json.RawMessage) error {
	var d roomChatData
	if err := decode(data, &d); err != nil {
		return err
	}
	if err := requireRoomID(d.RoomID); err != nil {
		return err
	}
	msg := strings.TrimSpace(d.Message)
	if msg == "" {
		return models.Invalid("message is empty")
	}
	if len(msg) > MaxChatLength {
		return models.Invalid("message is longer than %d bytes", MaxChatLength)
	}

	unlock := r.locks.Lock(d.RoomID)
	defer unlock()

	room, err := r.actor(ctx, c, d.RoomID, d.UserID)
	if err != nil {
		return err
	}
	r.out.ToRoom(d.RoomID, Event{Type: "room:chat_message", Payload: map[string]any{
		"userId":    d.UserID,
		"username":  room.Players[d.UserID].Username,
		"message":   msg,
		"timestamp": r.timestamp(),
	}})
	return nil
}

func (r *Router) roomSettings(ctx context.Context, c Conn, data json.RawMessage) error {
	var d roomSettingsData
	if err := decode(data, &d); err != nil {
		return err
	}
	if err := requireRoomID(d.RoomID); err != nil {
		return err
	}

	unlock := r.locks.Lock(d.RoomID)
	defer unlock()

	_, p, err := r.member(ctx, c, d.RoomID)
	if err != nil {
		return err
	}
	room, err := r.rooms.UpdateSettings(ctx, d.RoomID, p.UserID, d.Settings)
	if err != nil {
		return err
	}
	r.out.ToRoom(room.ID, Event{Type: "room:settings_updated", Payload: map[string]any{
		"settings": d.Settings,
		"room":     room.View(),
	}})
	r.listUpdated()
	return nil
}

func (r *Router) roomReconnect(ctx context.Context, c Conn, data json.RawMessage) error {
	var d roomUserData
	if err := decode(data, &d); err != nil {
		return err
	}
	if err := requireRoomID(d.RoomID); err != nil {
		return err
	}
	if err := identify(c, d.UserID); err != nil {
		return err
	}

	unlock := r.locks.Lock(d.RoomID)
	defer unlock()

	if err := r.unbound(ctx, c, d.RoomID); err != nil {
		return err
	}
	room, err := r.rooms.Reconnect(ctx, d.RoomID, d.UserID, c.ID)
	if err != nil {
		return err
	}
	r.out.Join(room.ID, c.ID)
	r.out.ToRoom(room.ID, Event{Type: "room:player_reconnected", Payload: map[string]any{
		"playerId": d.UserID,
	}})
	r.out.ToConn(c.ID, Event{Type: "room:joined", Payload: map[string]any{
		"room":   room.View(),
		"isHost": room.Host == d.UserID,
	}})
	if g, err := r.games.GetGame(ctx, room.ID); err == nil {
		r.out.ToConn(c.ID, Event{Type: "game:state", Payload: map[string]any{"game": g}})
	} else {
		r.log.WithError(err).WithFields(logrus.Fields{"room": room.ID, "conn": c.ID}).
			Warn("failed to load game for reconnecting player")
	}
	return nil
}
