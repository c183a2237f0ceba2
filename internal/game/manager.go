// internal/game/manager.go
package game

import (
	"context"
	"errors"
	"time"

	"github.com/jason-s-yu/skirmish/internal/cache"
	"github.com/jason-s-yu/skirmish/internal/models"
	"github.com/sirupsen/logrus"
)

const (
	// ManaPerTurn is granted to a player when the turn passes to them.
	ManaPerTurn = 2
	// MaxMana caps the replenishment.
	MaxMana = models.MaxMana
)

// Historian record types published alongside game mutations.
const (
	RecordGameStart = "game_start"
	RecordEndTurn   = "end_turn"
	RecordSurrender = "surrender"
	RecordGameEnd   = "game_end"
)

// SessionStore is the durable side of game sessions.
type SessionStore interface {
	SaveGame(ctx context.Context, g *models.GameSession) error
	GetGame(ctx context.Context, roomID string) (*models.GameSession, error)
	DeleteGame(ctx context.Context, roomID string) error
}

// Publisher receives historian records. cache.Redis satisfies it.
type Publisher interface {
	PublishAction(ctx context.Context, rec cache.ActionRecord) error
}

// errUnchanged short-circuits a mutation that turned out to be a no-op.
var errUnchanged = errors.New("unchanged")

// Manager owns every game session. It is stateless between calls: the durable
// store is the source of truth and the cache is refreshed after each commit.
// Callers serialize calls per room.
type Manager struct {
	store SessionStore
	cache cache.Store
	log   logrus.FieldLogger

	// TTL is the expiry applied to cached snapshots.
	TTL time.Duration
	// Publisher, when set, receives one record per committed mutation.
	Publisher Publisher
	Now       func() time.Time
	DealCards func(n int) []models.Card
}

// NewManager builds a Manager. A nil cache disables caching.
func NewManager(store SessionStore, c cache.Store, log logrus.FieldLogger) *Manager {
	if c == nil {
		c = cache.Disabled{}
	}
	return &Manager{
		store:     store,
		cache:     c,
		log:       log,
		TTL:       cache.DefaultTTL,
		Now:       time.Now,
		DealCards: NewCards,
	}
}

// CreateGame stores a fresh waiting session for the room. An existing record
// under the same room id is replaced.
func (m *Manager) CreateGame(ctx context.Context, roomID, hostID string, settings models.RoomSettings) (*models.GameSession, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	now := m.Now()
	g := &models.GameSession{
		RoomID:      roomID,
		Players:     []models.GamePlayer{},
		GameType:    settings.GameTypeOr(models.GameSolo),
		MaxPlayers:  settings.MaxPlayersOr(models.DefaultMaxPlayers),
		Phase:       models.PhaseWaiting,
		TurnHistory: []models.TurnEntry{},
		Settings:    models.GameSettingsFrom(settings),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := m.store.SaveGame(ctx, g); err != nil {
		return nil, err
	}
	m.cacheSet(ctx, g)
	m.log.WithFields(logrus.Fields{"room": roomID, "host": hostID}).Debug("game created")
	return g, nil
}

// AddPlayer seats userID. Re-adding a seated player returns the session as is,
// in any phase.
func (m *Manager) AddPlayer(ctx context.Context, roomID, userID, username string, team *int) (*models.GameSession, error) {
	return m.mutate(ctx, roomID, false, func(g *models.GameSession) error {
		if g.PlayerIndex(userID) >= 0 {
			return errUnchanged
		}
		if g.Phase == models.PhaseFinished {
			return models.ErrAlreadyFinished
		}
		if g.Phase != models.PhaseWaiting {
			return models.ErrGameInProgress
		}
		if len(g.Players) >= g.MaxPlayers {
			return models.ErrGameFull
		}
		var t *int
		if team != nil {
			v := *team
			t = &v
		}
		g.Players = append(g.Players, models.GamePlayer{
			UserID:   userID,
			Username: username,
			Team:     t,
			Cards:    []models.Card{},
			Health:   g.Settings.StartingHealth,
			Mana:     g.Settings.StartingMana,
			IsActive: true,
		})
		return nil
	})
}

// RemovePlayer unseats userID. When the roster empties the session is deleted
// and (nil, nil) is returned.
func (m *Manager) RemovePlayer(ctx context.Context, roomID, userID string) (*models.GameSession, error) {
	cur, err := m.store.GetGame(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if cur.Phase == models.PhaseFinished {
		return nil, models.ErrAlreadyFinished
	}
	idx := cur.PlayerIndex(userID)
	if idx < 0 {
		return cur, nil
	}
	if len(cur.Players) == 1 {
		if err := m.DeleteGame(ctx, roomID); err != nil {
			return nil, err
		}
		return nil, nil
	}

	next := cur.Clone()
	wasCurrent := idx == next.CurrentPlayerIndex
	next.Players = append(next.Players[:idx], next.Players[idx+1:]...)
	switch {
	case idx < next.CurrentPlayerIndex:
		next.CurrentPlayerIndex--
	case wasCurrent && next.Phase == models.PhaseInProgress:
		// Hand over from the seat just before the removed one.
		passTurn(next, idx-1)
	}
	if next.CurrentPlayerIndex >= len(next.Players) {
		next.CurrentPlayerIndex = 0
	}
	if err := m.commit(ctx, next, true); err != nil {
		return nil, err
	}
	return next, nil
}

// StartGame moves a waiting session into play and deals starting hands.
func (m *Manager) StartGame(ctx context.Context, roomID string) (*models.GameSession, error) {
	g, err := m.mutate(ctx, roomID, false, func(g *models.GameSession) error {
		switch g.Phase {
		case models.PhaseFinished:
			return models.ErrAlreadyFinished
		case models.PhaseInProgress:
			return models.ErrGameInProgress
		}
		if len(g.Players) < models.MinPlayers {
			return models.ErrInsufficientPlayers
		}
		g.Phase = models.PhaseInProgress
		g.CurrentTurn = 1
		g.CurrentPlayerIndex = 0
		for i := range g.Players {
			g.Players[i].Cards = m.DealCards(g.Settings.StartingCards)
			g.Players[i].IsActive = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.publish(g, g.Players[0].UserID, RecordGameStart, map[string]any{
		"players": playerIDs(g),
	})
	return g, nil
}

// EndTurn passes the turn from playerID to the next active player.
func (m *Manager) EndTurn(ctx context.Context, roomID, playerID string) (*models.GameSession, error) {
	g, err := m.mutate(ctx, roomID, false, func(g *models.GameSession) error {
		if err := requireTurn(g, playerID); err != nil {
			return err
		}
		passTurn(g, g.CurrentPlayerIndex)
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.publish(g, playerID, RecordEndTurn, map[string]any{
		"turn":       g.CurrentTurn,
		"nextPlayer": g.CurrentPlayer().UserID,
	})
	return g, nil
}

// RecordAction appends a history entry for the current player. No gameplay
// effect is applied.
func (m *Manager) RecordAction(ctx context.Context, roomID, playerID string, action models.Action) (*models.GameSession, error) {
	g, err := m.mutate(ctx, roomID, false, func(g *models.GameSession) error {
		if err := requireTurn(g, playerID); err != nil {
			return err
		}
		g.TurnHistory = append(g.TurnHistory, models.TurnEntry{
			PlayerID:  playerID,
			Action:    action,
			Timestamp: m.Now(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.publish(g, playerID, action.Name, map[string]any{
		"kind": action.Kind,
		"data": action.Payload(),
	})
	return g, nil
}

// Surrender deactivates playerID and reports how many players remain active.
// Deciding whether the game is over is left to the caller.
func (m *Manager) Surrender(ctx context.Context, roomID, playerID string) (*models.GameSession, int, error) {
	g, err := m.mutate(ctx, roomID, false, func(g *models.GameSession) error {
		if err := requireInProgress(g); err != nil {
			return err
		}
		idx := g.PlayerIndex(playerID)
		if idx < 0 {
			return models.ErrNotMember
		}
		if !g.Players[idx].IsActive {
			return errUnchanged
		}
		g.Players[idx].IsActive = false
		if idx == g.CurrentPlayerIndex {
			passTurn(g, idx)
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	m.publish(g, playerID, RecordSurrender, nil)
	return g, len(g.ActivePlayers()), nil
}

// EndGame finishes the session with the given winner.
func (m *Manager) EndGame(ctx context.Context, roomID string, winner models.Winner) (*models.GameSession, error) {
	g, err := m.mutate(ctx, roomID, false, func(g *models.GameSession) error {
		if err := requireInProgress(g); err != nil {
			return err
		}
		w := winner
		g.Phase = models.PhaseFinished
		g.Winner = &w
		return nil
	})
	if err != nil {
		return nil, err
	}

	standings := make([]map[string]any, 0, len(g.Players))
	for _, p := range g.Players {
		standings = append(standings, map[string]any{
			"userId": p.UserID,
			"score":  p.Score,
			"won":    Won(g, p),
		})
	}
	m.publish(g, winner.UserID, RecordGameEnd, map[string]any{
		"winner":  g.Winner,
		"players": standings,
	})
	return g, nil
}

// Configure applies updated room settings to a session that has not started.
// Fields left nil in s keep their value.
func (m *Manager) Configure(ctx context.Context, roomID string, s models.RoomSettings) (*models.GameSession, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return m.mutate(ctx, roomID, false, func(g *models.GameSession) error {
		switch g.Phase {
		case models.PhaseFinished:
			return models.ErrAlreadyFinished
		case models.PhaseInProgress:
			return models.ErrGameInProgress
		}
		maxPlayers := s.MaxPlayersOr(g.MaxPlayers)
		if maxPlayers < len(g.Players) {
			return models.ErrBelowRoster
		}
		g.MaxPlayers = maxPlayers
		g.GameType = s.GameTypeOr(g.GameType)
		if s.TurnTimeLimit != nil {
			g.Settings.TurnTimeLimit = *s.TurnTimeLimit
		}
		if s.StartingHealth != nil {
			g.Settings.StartingHealth = *s.StartingHealth
		}
		if s.StartingMana != nil {
			g.Settings.StartingMana = *s.StartingMana
		}
		if s.StartingCards != nil {
			g.Settings.StartingCards = *s.StartingCards
		}
		// Seated players pick up the new starting values.
		for i := range g.Players {
			g.Players[i].Health = g.Settings.StartingHealth
			g.Players[i].Mana = g.Settings.StartingMana
		}
		return nil
	})
}

// GetGame reads through the cache to the durable store, promoting on a miss.
func (m *Manager) GetGame(ctx context.Context, roomID string) (*models.GameSession, error) {
	var g models.GameSession
	hit, err := m.cache.Get(ctx, cache.GameKey(roomID), &g)
	if err != nil {
		m.log.WithError(err).WithField("room", roomID).Warn("game cache read failed")
	}
	if hit && err == nil {
		return &g, nil
	}

	stored, err := m.store.GetGame(ctx, roomID)
	if err != nil {
		return nil, err
	}
	m.cacheSet(ctx, stored)
	return stored, nil
}

// DeleteGame drops the session from the durable store and the cache.
func (m *Manager) DeleteGame(ctx context.Context, roomID string) error {
	if err := m.store.DeleteGame(ctx, roomID); err != nil {
		return err
	}
	m.cacheDelete(ctx, roomID)
	m.log.WithField("room", roomID).Debug("game deleted")
	return nil
}

// mutate loads the durable session, applies fn to a copy and commits it. The
// stored session is untouched if fn or the durable write fails.
func (m *Manager) mutate(ctx context.Context, roomID string, invalidate bool, fn func(g *models.GameSession) error) (*models.GameSession, error) {
	cur, err := m.store.GetGame(ctx, roomID)
	if err != nil {
		return nil, err
	}
	next := cur.Clone()
	if err := fn(next); err != nil {
		if errors.Is(err, errUnchanged) {
			return cur, nil
		}
		return nil, err
	}
	if err := m.commit(ctx, next, invalidate); err != nil {
		return nil, err
	}
	return next, nil
}

func (m *Manager) commit(ctx context.Context, g *models.GameSession, invalidate bool) error {
	g.Seq++
	g.UpdatedAt = m.Now()
	if err := m.store.SaveGame(ctx, g); err != nil {
		return err
	}
	if invalidate {
		m.cacheDelete(ctx, g.RoomID)
	} else {
		m.cacheSet(ctx, g)
	}
	return nil
}

func (m *Manager) cacheSet(ctx context.Context, g *models.GameSession) {
	if err := m.cache.Set(ctx, cache.GameKey(g.RoomID), g, m.TTL); err != nil {
		m.log.WithError(err).WithField("room", g.RoomID).Warn("game cache write failed")
		// A failed refresh must not leave an older snapshot readable.
		m.cacheDelete(ctx, g.RoomID)
	}
}

func (m *Manager) cacheDelete(ctx context.Context, roomID string) {
	if err := m.cache.Delete(ctx, cache.GameKey(roomID)); err != nil {
		m.log.WithError(err).WithField("room", roomID).Warn("game cache delete failed")
	}
}

// publish hands a record to the historian without blocking the caller.
func (m *Manager) publish(g *models.GameSession, actor, actionType string, payload map[string]any) {
	if m.Publisher == nil {
		return
	}
	if payload == nil {
		payload = make(map[string]any)
	}
	rec := cache.ActionRecord{
		RoomID:        g.RoomID,
		ActionIndex:   g.Seq,
		ActorUserID:   actor,
		ActionType:    actionType,
		ActionPayload: payload,
		Timestamp:     m.Now().UnixMilli(),
	}
	go func(rec cache.ActionRecord) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := m.Publisher.PublishAction(ctx, rec); err != nil {
			m.log.WithError(err).WithFields(logrus.Fields{
				"room":   rec.RoomID,
				"action": rec.ActionType,
			}).Warn("failed to publish game action")
		}
	}(rec)
}

func requireInProgress(g *models.GameSession) error {
	switch g.Phase {
	case models.PhaseFinished:
		return models.ErrAlreadyFinished
	case models.PhaseWaiting:
		return models.ErrGameNotStarted
	}
	return nil
}

func requireTurn(g *models.GameSession, playerID string) error {
	if err := requireInProgress(g); err != nil {
		return err
	}
	cur := g.CurrentPlayer()
	if cur == nil || cur.UserID != playerID {
		return models.ErrNotYourTurn
	}
	return nil
}

// passTurn moves the pointer to the first active player after roster position
// from, wrapping around. Wrapping past the end of the roster starts a new turn.
// The receiving player is granted ManaPerTurn.
func passTurn(g *models.GameSession, from int) {
	n := len(g.Players)
	for step := 1; step <= n; step++ {
		i := from + step
		j := ((i % n) + n) % n
		if !g.Players[j].IsActive {
			continue
		}
		if i >= n {
			g.CurrentTurn++
		}
		g.CurrentPlayerIndex = j
		p := &g.Players[j]
		p.Mana = min(p.Mana+ManaPerTurn, MaxMana)
		return
	}
}

func playerIDs(g *models.GameSession) []string {
	ids := make([]string, 0, len(g.Players))
	for _, p := range g.Players {
		ids = append(ids, p.UserID)
	}
	return ids
}
