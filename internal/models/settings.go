// internal/models/settings.go
package models

const (
	DefaultMaxPlayers     = 4
	MinPlayers            = 2
	MaxPlayersLimit       = 8
	DefaultTurnTimeLimit  = 60
	DefaultStartingHealth = 100
	DefaultStartingMana   = 10
	DefaultStartingCards  = 5
	MaxStartingCards      = 20
	MaxMana               = 10
)

// RoomSettings is the optional settings block carried by room:create and
// room:settings. Nil fields keep their current (or default) value.
type RoomSettings struct {
	MaxPlayers     *int      `json:"maxPlayers,omitempty"`
	GameType       *GameType `json:"gameType,omitempty"`
	IsPublic       *bool     `json:"isPublic,omitempty"`
	TurnTimeLimit  *int      `json:"turnTimeLimit,omitempty"`
	StartingHealth *int      `json:"maxHealth,omitempty"`
	StartingMana   *int      `json:"startingMana,omitempty"`
	StartingCards  *int      `json:"startingCards,omitempty"`
}

// Validate checks ranges on the fields that are set.
func (s RoomSettings) Validate() error {
	if s.MaxPlayers != nil && (*s.MaxPlayers < MinPlayers || *s.MaxPlayers > MaxPlayersLimit) {
		return Invalid("maxPlayers must be between %d and %d", MinPlayers, MaxPlayersLimit)
	}
	if s.GameType != nil && !s.GameType.Valid() {
		return Invalid("gameType must be %q or %q", GameSolo, GameTeam)
	}
	if s.TurnTimeLimit != nil && *s.TurnTimeLimit < 0 {
		return Invalid("turnTimeLimit must be non-negative")
	}
	if s.StartingHealth != nil && *s.StartingHealth <= 0 {
		return Invalid("maxHealth must be positive")
	}
	if s.StartingMana != nil && (*s.StartingMana < 0 || *s.StartingMana > MaxMana) {
		return Invalid("startingMana must be between 0 and %d", MaxMana)
	}
	if s.StartingCards != nil && (*s.StartingCards < 0 || *s.StartingCards > MaxStartingCards) {
		return Invalid("startingCards must be between 0 and %d", MaxStartingCards)
	}
	return nil
}

// MaxPlayersOr returns the configured player cap or def.
func (s RoomSettings) MaxPlayersOr(def int) int {
	if s.MaxPlayers != nil {
		return *s.MaxPlayers
	}
	return def
}

// GameTypeOr returns the configured game type or def.
func (s RoomSettings) GameTypeOr(def GameType) GameType {
	if s.GameType != nil {
		return *s.GameType
	}
	return def
}

// IsPublicOr returns the configured visibility or def.
func (s RoomSettings) IsPublicOr(def bool) bool {
	if s.IsPublic != nil {
		return *s.IsPublic
	}
	return def
}

// GameSettings are fixed at game creation.
type GameSettings struct {
	TurnTimeLimit  int `json:"turnTimeLimit"`
	StartingHealth int `json:"maxHealth"`
	StartingMana   int `json:"startingMana"`
	StartingCards  int `json:"startingCards"`
}

// GameSettingsFrom fills defaults for anything s leaves unset.
func GameSettingsFrom(s RoomSettings) GameSettings {
	gs := GameSettings{
		TurnTimeLimit:  DefaultTurnTimeLimit,
		StartingHealth: DefaultStartingHealth,
		StartingMana:   DefaultStartingMana,
		StartingCards:  DefaultStartingCards,
	}
	if s.TurnTimeLimit != nil {
		gs.TurnTimeLimit = *s.TurnTimeLimit
	}
	if s.StartingHealth != nil {
		gs.StartingHealth = *s.StartingHealth
	}
	if s.StartingMana != nil {
		gs.StartingMana = *s.StartingMana
	}
	if s.StartingCards != nil {
		gs.StartingCards = *s.StartingCards
	}
	return gs
}
