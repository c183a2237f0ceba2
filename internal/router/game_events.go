package router

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jason-s-yu/skirmish/internal/game"
	"github.com/jason-s-yu/skirmish/internal/models"
	"github.com/sirupsen/logrus"
)

type gameRoomData struct {
	RoomID string `json:"roomId"`
}

type gamePlayerData struct {
	RoomID   string `json:"roomId"`
	PlayerID string `json:"playerId"`
}

type gamePlayCardData struct {
	RoomID   string `json:"roomId"`
	PlayerID string `json:"playerId"`
	CardID   string `json:"cardId"`
	TargetID string `json:"targetId"`
}

type gameActionData struct {
	RoomID   string          `json:"roomId"`
	PlayerID string          `json:"playerId"`
	Action   string          `json:"action"`
	Payload  json.RawMessage `json:"payload"`
}

func (r *Router) gameStart(ctx context.Context, c Conn, data json.RawMessage) error {
	var d gameRoomData
	if err := decode(data, &d); err != nil {
		return err
	}
	if err := requireRoomID(d.RoomID); err != nil {
		return err
	}

	unlock := r.locks.Lock(d.RoomID)
	defer unlock()

	room, p, err := r.member(ctx, c, d.RoomID)
	if err != nil {
		return err
	}
	if room.Host != p.UserID {
		return models.ErrNotHost
	}
	if !r.rooms.AllReady(ctx, d.RoomID) {
		return models.ErrNotAllReady
	}
	g, err := r.games.StartGame(ctx, d.RoomID)
	if err != nil {
		return err
	}
	r.out.ToRoom(d.RoomID, Event{Type: "game:started", Payload: map[string]any{
		"game":    g,
		"message": "Game started!",
	}})
	r.armClock(g)
	return nil
}

func (r *Router) gamePlayCard(ctx context.Context, c Conn, data json.RawMessage) error {
	var d gamePlayCardData
	if err := decode(data, &d); err != nil {
		return err
	}
	if err := requireRoomID(d.RoomID); err != nil {
		return err
	}
	action, err := game.PlayCard(d.CardID, d.TargetID)
	if err != nil {
		return err
	}

	unlock := r.locks.Lock(d.RoomID)
	defer unlock()

	if err := r.turnHolder(ctx, c, d.RoomID, d.PlayerID); err != nil {
		return err
	}
	g, err := r.games.RecordAction(ctx, d.RoomID, d.PlayerID, action)
	if err != nil {
		return err
	}
	r.out.ToRoom(d.RoomID, Event{Type: "game:card_played", Payload: map[string]any{
		"playerId":  d.PlayerID,
		"cardId":    d.CardID,
		"targetId":  d.TargetID,
		"gameState": g,
	}})
	return nil
}

func (r *Router) gameEndTurn(ctx context.Context, c Conn, data json.RawMessage) error {
	var d gamePlayerData
	if err := decode(data, &d); err != nil {
		return err
	}
	if err := requireRoomID(d.RoomID); err != nil {
		return err
	}

	unlock := r.locks.Lock(d.RoomID)
	defer unlock()

	if err := r.turnHolder(ctx, c, d.RoomID, d.PlayerID); err != nil {
		return err
	}
	g, err := r.games.EndTurn(ctx, d.RoomID, d.PlayerID)
	if err != nil {
		return err
	}
	r.out.ToRoom(d.RoomID, turnEnded(d.PlayerID, g, ""))
	r.armClock(g)
	return nil
}

func (r *Router) gameSurrender(ctx context.Context, c Conn, data json.RawMessage) error {
	var d gamePlayerData
	if err := decode(data, &d); err != nil {
		return err
	}
	if err := requireRoomID(d.RoomID); err != nil {
		return err
	}

	unlock := r.locks.Lock(d.RoomID)
	defer unlock()

	if _, err := r.actor(ctx, c, d.RoomID, d.PlayerID); err != nil {
		return err
	}
	g, active, err := r.games.Surrender(ctx, d.RoomID, d.PlayerID)
	if err != nil {
		return err
	}

	if winner, ok := game.Decided(g); ok {
		ended, err := r.conclude(ctx, d.RoomID, winner, "surrender")
		if err != nil {
			// The surrender is already committed, so it is still announced below.
			r.log.WithError(err).WithField("room", d.RoomID).Error("failed to end game after surrender")
		}
		if ended != nil {
			return nil
		}
	}

	var current string
	if cp := g.CurrentPlayer(); cp != nil {
		current = cp.UserID
	}
	r.out.ToRoom(d.RoomID, Event{Type: "game:player_surrendered", Payload: map[string]any{
		"playerId":         d.PlayerID,
		"remainingPlayers": active,
		"currentPlayer":    current,
		"gameState":        g,
	}})
	r.armClock(g)
	return nil
}

func (r *Router) gameGetState(ctx context.Context, c Conn, data json.RawMessage) error {
	var d gameRoomData
	if err := decode(data, &d); err != nil {
		return err
	}
	if err := requireRoomID(d.RoomID); err != nil {
		return err
	}
	if _, _, err := r.member(ctx, c, d.RoomID); err != nil {
		return err
	}
	g, err := r.games.GetGame(ctx, d.RoomID)
	if err != nil {
		return err
	}
	r.out.ToConn(c.ID, Event{Type: "game:state", Payload: map[string]any{"game": g}})
	return nil
}

func (r *Router) gameAction(ctx context.Context, c Conn, data json.RawMessage) error {
	var d gameActionData
	if err := decode(data, &d); err != nil {
		return err
	}
	if err := requireRoomID(d.RoomID); err != nil {
		return err
	}
	action, err := game.DecodeAction(d.Action, d.Payload)
	if err != nil {
		return err
	}

	unlock := r.locks.Lock(d.RoomID)
	defer unlock()

	if err := r.turnHolder(ctx, c, d.RoomID, d.PlayerID); err != nil {
		return err
	}
	if _, err := r.games.RecordAction(ctx, d.RoomID, d.PlayerID, action); err != nil {
		return err
	}
	r.out.ToRoom(d.RoomID, Event{Type: "game:action_received", Payload: map[string]any{
		"playerId":  d.PlayerID,
		"action":    d.Action,
		"kind":      action.Kind,
		"payload":   action.Payload(),
		"timestamp": r.timestamp(),
	}})
	return nil
}

// turnHolder checks membership of playerID and that the game's pointer is on
// them. The game manager repeats the turn check on commit.
func (r *Router) turnHolder(ctx context.Context, c Conn, roomID, playerID string) error {
	if _, err := r.actor(ctx, c, roomID, playerID); err != nil {
		return err
	}
	g, err := r.games.GetGame(ctx, roomID)
	if err != nil {
		return err
	}
	switch g.Phase {
	case models.PhaseWaiting:
		return models.ErrGameNotStarted
	case models.PhaseFinished:
		return models.ErrAlreadyFinished
	}
	if cp := g.CurrentPlayer(); cp == nil || cp.UserID != playerID {
		return models.ErrNotYourTurn
	}
	return nil
}

// conclude ends the game and tells the room.
func (r *Router) conclude(ctx context.Context, roomID string, winner models.Winner, reason string) (*models.GameSession, error) {
	g, err := r.games.EndGame(ctx, roomID, winner)
	if err != nil {
		return nil, err
	}
	r.clock.disarm(roomID)
	r.out.ToRoom(roomID, Event{Type: "game:ended", Payload: map[string]any{
		"winner":    winner,
		"reason":    reason,
		"gameState": g,
	}})
	r.log.WithFields(logrus.Fields{"room": roomID, "reason": reason}).Info("game ended")
	return g, nil
}

func turnEnded(previous string, g *models.GameSession, reason string) Event {
	var current string
	if cp := g.CurrentPlayer(); cp != nil {
		current = cp.UserID
	}
	payload := map[string]any{
		"previousPlayer": previous,
		"currentPlayer":  current,
		"turn":           g.CurrentTurn,
		"gameState":      g,
	}
	if reason != "" {
		payload["reason"] = reason
	}
	return Event{Type: "game:turn_ended", Payload: payload}
}

// armClock schedules a timeout for whoever holds the turn in g, or clears the
// room's timer when no limit applies.
func (r *Router) armClock(g *models.GameSession) {
	cp := g.CurrentPlayer()
	if g.Phase != models.PhaseInProgress || g.Settings.TurnTimeLimit <= 0 || cp == nil {
		r.clock.disarm(g.RoomID)
		return
	}
	roomID, holder := g.RoomID, cp.UserID
	limit := time.Duration(g.Settings.TurnTimeLimit) * time.Second
	r.clock.arm(roomID, limit, func(gen uint64) {
		r.turnTimeout(roomID, holder, gen)
	})
}

// turnTimeout ends holder's turn once their time runs out. A timer replaced
// after it fired finds its generation stale and does nothing.
func (r *Router) turnTimeout(roomID, holder string, gen uint64) {
	unlock := r.locks.Lock(roomID)
	defer unlock()

	if !r.clock.current(roomID, gen) {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.TimerTimeout)
	defer cancel()

	log := r.log.WithFields(logrus.Fields{"room": roomID, "user": holder})
	g, err := r.games.EndTurn(ctx, roomID, holder)
	if err != nil {
		r.clock.disarm(roomID)
		if models.KindOf(err) == models.KindStorage {
			log.WithError(err).Error("failed to end timed out turn")
		} else {
			log.WithError(err).Debug("turn timer no longer applies")
		}
		return
	}
	log.Info("turn timed out")
	r.out.ToRoom(roomID, turnEnded(holder, g, "timeout"))
	r.armClock(g)
}
