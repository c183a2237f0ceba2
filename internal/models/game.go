// internal/models/game.go
package models

import (
	"encoding/json"
	"time"
)

// Phase is the coarse lifecycle of a game session. It only moves forward.
type Phase string

const (
	PhaseWaiting    Phase = "waiting"
	PhaseInProgress Phase = "in_progress"
	PhaseFinished   Phase = "finished"
)

// Card is a generated hand card. Its numbers carry no rules here.
type Card struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Cost    int    `json:"cost"`
	Attack  int    `json:"attack"`
	Defense int    `json:"defense"`
}

// GamePlayer is one seat in the game's ordered roster.
type GamePlayer struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Team     *int   `json:"team,omitempty"`
	Cards    []Card `json:"cards"`
	Health   int    `json:"health"`
	Mana     int    `json:"mana"`
	Score    int    `json:"score"`
	IsActive bool   `json:"isActive"`
}

// Winner is either a user or a team, set only once the game is finished.
type Winner struct {
	UserID string `json:"userId,omitempty"`
	Team   *int   `json:"team,omitempty"`
}

// MarshalJSON flattens the winner to the bare user id or team number.
func (w Winner) MarshalJSON() ([]byte, error) {
	if w.Team != nil {
		return json.Marshal(*w.Team)
	}
	return json.Marshal(w.UserID)
}

// UnmarshalJSON accepts either a user id string or a team number.
func (w *Winner) UnmarshalJSON(data []byte) error {
	var team int
	if err := json.Unmarshal(data, &team); err == nil {
		w.Team = &team
		w.UserID = ""
		return nil
	}
	w.Team = nil
	return json.Unmarshal(data, &w.UserID)
}

// TurnEntry is one immutable line of the game's history.
type TurnEntry struct {
	PlayerID  string    `json:"playerId"`
	Action    Action    `json:"action"`
	Timestamp time.Time `json:"timestamp"`
}

// GameSession is the authoritative turn-based record paired with a room.
type GameSession struct {
	RoomID             string       `json:"roomId"`
	Players            []GamePlayer `json:"players"`
	GameType           GameType     `json:"gameType"`
	MaxPlayers         int          `json:"maxPlayers"`
	CurrentTurn        int          `json:"currentTurn"`
	CurrentPlayerIndex int          `json:"currentPlayerIndex"`
	Phase              Phase        `json:"gameState"`
	Winner             *Winner      `json:"winner,omitempty"`
	TurnHistory        []TurnEntry  `json:"turnHistory"`
	Settings           GameSettings `json:"settings"`

	// Seq counts committed mutations; the historian orders records by it.
	Seq int `json:"seq"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Clone deep-copies the session so a mutation can be abandoned on failure.
func (g *GameSession) Clone() *GameSession {
	c := *g
	c.Players = make([]GamePlayer, len(g.Players))
	for i, p := range g.Players {
		cp := p
		cp.Cards = append([]Card(nil), p.Cards...)
		if p.Team != nil {
			team := *p.Team
			cp.Team = &team
		}
		c.Players[i] = cp
	}
	c.TurnHistory = append([]TurnEntry(nil), g.TurnHistory...)
	if g.Winner != nil {
		w := *g.Winner
		c.Winner = &w
	}
	return &c
}

// PlayerIndex returns the roster position of userID, or -1.
func (g *GameSession) PlayerIndex(userID string) int {
	for i := range g.Players {
		if g.Players[i].UserID == userID {
			return i
		}
	}
	return -1
}

// CurrentPlayer returns the player at the pointer, or nil for an empty roster.
func (g *GameSession) CurrentPlayer() *GamePlayer {
	if g.CurrentPlayerIndex < 0 || g.CurrentPlayerIndex >= len(g.Players) {
		return nil
	}
	return &g.Players[g.CurrentPlayerIndex]
}

// ActivePlayers returns the players still in the game, in roster order.
func (g *GameSession) ActivePlayers() []GamePlayer {
	var out []GamePlayer
	for _, p := range g.Players {
		if p.IsActive {
			out = append(out, p)
		}
	}
	return out
}
