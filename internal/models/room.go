// internal/models/room.go
package models

import (
	"sort"
	"time"
)

// ConnectionStatus tracks a participant's transport state.
type ConnectionStatus string

const (
	StatusConnected    ConnectionStatus = "connected"
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusReconnecting ConnectionStatus = "reconnecting"
)

// GameType is the room's play mode.
type GameType string

const (
	GameSolo GameType = "solo"
	GameTeam GameType = "team"
)

// Valid reports whether t is a known game type.
func (t GameType) Valid() bool {
	return t == GameSolo || t == GameTeam
}

// Participant is one user's durable membership in one room.
// (UserID, RoomID) is unique in the durable store.
type Participant struct {
	UserID           string           `json:"userId"`
	Username         string           `json:"username"`
	ConnectionID     string           `json:"socketId"`
	RoomID           string           `json:"roomId"`
	Team             *int             `json:"team,omitempty"`
	IsHost           bool             `json:"isHost"`
	IsReady          bool             `json:"isReady"`
	ConnectionStatus ConnectionStatus `json:"connectionStatus"`
	LastActivity     time.Time        `json:"lastActivity"`
}

// Clone returns a copy that shares nothing with p.
func (p *Participant) Clone() *Participant {
	c := *p
	if p.Team != nil {
		team := *p.Team
		c.Team = &team
	}
	return &c
}

// Room is the transient grouping of participants around one game session.
// Rooms held by the repository are immutable snapshots: every mutation builds
// a new Room with Clone and swaps it in.
type Room struct {
	ID         string                  `json:"id"`
	Host       string                  `json:"host"`
	Players    map[string]*Participant `json:"players"`
	MaxPlayers int                     `json:"maxPlayers"`
	GameType   GameType                `json:"gameType"`
	IsPublic   bool                    `json:"isPublic"`
	CreatedAt  time.Time               `json:"createdAt"`
}

// Clone deep-copies the room and its roster.
func (r *Room) Clone() *Room {
	c := *r
	c.Players = make(map[string]*Participant, len(r.Players))
	for id, p := range r.Players {
		c.Players[id] = p.Clone()
	}
	return &c
}

// PlayerList returns the roster ordered by user id.
func (r *Room) PlayerList() []*Participant {
	out := make([]*Participant, 0, len(r.Players))
	for _, p := range r.Players {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// MemberByConnection finds the participant currently bound to connID.
func (r *Room) MemberByConnection(connID string) (*Participant, bool) {
	for _, p := range r.Players {
		if p.ConnectionID == connID {
			return p, true
		}
	}
	return nil, false
}

// RoomView is the wire shape of a room sent to clients.
type RoomView struct {
	ID         string         `json:"id"`
	Host       string         `json:"host"`
	Players    []*Participant `json:"players"`
	MaxPlayers int            `json:"maxPlayers"`
	GameType   GameType       `json:"gameType"`
	IsPublic   bool           `json:"isPublic"`
}

// View renders the room for the wire.
func (r *Room) View() RoomView {
	return RoomView{
		ID:         r.ID,
		Host:       r.Host,
		Players:    r.PlayerList(),
		MaxPlayers: r.MaxPlayers,
		GameType:   r.GameType,
		IsPublic:   r.IsPublic,
	}
}

// RoomSummary is a row of the public room listing.
type RoomSummary struct {
	ID          string   `json:"id"`
	Host        string   `json:"host"`
	PlayerCount int      `json:"playerCount"`
	MaxPlayers  int      `json:"maxPlayers"`
	GameType    GameType `json:"gameType"`
}
