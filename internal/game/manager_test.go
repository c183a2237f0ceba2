package game

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/jason-s-yu/skirmish/internal/cache"
	"github.com/jason-s-yu/skirmish/internal/memstore"
	"github.com/jason-s-yu/skirmish/internal/models"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingPublisher collects historian records instead of pushing to Redis.
type recordingPublisher struct {
	mu      sync.Mutex
	records []cache.ActionRecord
}

func (p *recordingPublisher) PublishAction(_ context.Context, rec cache.ActionRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.records = append(p.records, rec)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.records))
	for _, r := range p.records {
		out = append(out, r.ActionType)
	}
	return out
}

var fixedNow = time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

func setupManager(t *testing.T, c cache.Store) (*Manager, *memstore.Store) {
	t.Helper()
	logger, _ := test.NewNullLogger()
	store := memstore.New()
	m := NewManager(store, c, logger)
	m.Now = func() time.Time { return fixedNow }
	return m, store
}

// setupGame creates room r1 with the given players seated, optionally started.
func setupGame(t *testing.T, m *Manager, settings models.RoomSettings, start bool, users ...string) {
	t.Helper()
	ctx := context.Background()
	_, err := m.CreateGame(ctx, "r1", users[0], settings)
	require.NoError(t, err)
	for _, u := range users {
		_, err := m.AddPlayer(ctx, "r1", u, "name-"+u, nil)
		require.NoError(t, err)
	}
	if start {
		_, err := m.StartGame(ctx, "r1")
		require.NoError(t, err)
	}
}

func intPtr(v int) *int { return &v }

func TestStartGameDealsHands(t *testing.T) {
	m, _ := setupManager(t, cache.NewMemory())
	setupGame(t, m, models.RoomSettings{}, false, "u1", "u2")

	g, err := m.StartGame(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, models.PhaseInProgress, g.Phase)
	assert.Equal(t, 1, g.CurrentTurn)
	assert.Equal(t, 0, g.CurrentPlayerIndex)
	require.Len(t, g.Players, 2)
	for _, p := range g.Players {
		assert.Len(t, p.Cards, models.DefaultStartingCards)
		assert.Equal(t, models.DefaultStartingHealth, p.Health)
		assert.True(t, p.IsActive)
		for _, c := range p.Cards {
			assert.NotEmpty(t, c.ID)
			assert.GreaterOrEqual(t, c.Cost, 1)
			assert.LessOrEqual(t, c.Attack, 5)
		}
	}
	assert.Nil(t, g.Winner)
}

func TestStartGameRequiresTwoPlayers(t *testing.T) {
	m, _ := setupManager(t, cache.NewMemory())
	setupGame(t, m, models.RoomSettings{}, false, "u1")

	_, err := m.StartGame(context.Background(), "r1")
	assert.ErrorIs(t, err, models.ErrInsufficientPlayers)
	assert.ErrorIs(t, err, models.ErrInvalidState)
}

func TestAddPlayerRules(t *testing.T) {
	ctx := context.Background()
	m, store := setupManager(t, cache.NewMemory())
	setupGame(t, m, models.RoomSettings{MaxPlayers: intPtr(2)}, false, "u1", "u2")

	writes := store.Writes()
	g, err := m.AddPlayer(ctx, "r1", "u1", "again", nil)
	require.NoError(t, err)
	assert.Len(t, g.Players, 2)
	assert.Equal(t, "name-u1", g.Players[0].Username)
	assert.Equal(t, writes, store.Writes(), "re-adding a seated player must not write")

	_, err = m.AddPlayer(ctx, "r1", "u3", "carol", nil)
	assert.ErrorIs(t, err, models.ErrGameFull)
	assert.ErrorIs(t, err, models.ErrConflict)

	_, err = m.AddPlayer(ctx, "missing", "u3", "carol", nil)
	assert.ErrorIs(t, err, models.ErrGameNotFound)
}

func TestAddPlayerAfterStart(t *testing.T) {
	m, _ := setupManager(t, cache.NewMemory())
	setupGame(t, m, models.RoomSettings{}, true, "u1", "u2")

	_, err := m.AddPlayer(context.Background(), "r1", "u3", "carol", nil)
	assert.ErrorIs(t, err, models.ErrGameInProgress)
}

func TestEndTurnWrongPlayerLeavesStateUnchanged(t *testing.T) {
	ctx := context.Background()
	m, store := setupManager(t, cache.NewMemory())
	setupGame(t, m, models.RoomSettings{}, true, "u1", "u2")

	_, err := m.EndTurn(ctx, "r1", "u1")
	require.NoError(t, err)

	before, err := store.GetGame(ctx, "r1")
	require.NoError(t, err)
	require.Equal(t, "u2", before.CurrentPlayer().UserID)

	_, err = m.EndTurn(ctx, "r1", "u1")
	assert.ErrorIs(t, err, models.ErrNotYourTurn)
	assert.ErrorIs(t, err, models.ErrUnauthorized)

	after, err := store.GetGame(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestEndTurnGrantsManaAndCountsCycles(t *testing.T) {
	ctx := context.Background()
	m, _ := setupManager(t, cache.NewMemory())
	setupGame(t, m, models.RoomSettings{StartingMana: intPtr(4)}, true, "u1", "u2", "u3")

	g, err := m.EndTurn(ctx, "r1", "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, g.CurrentPlayerIndex)
	assert.Equal(t, 1, g.CurrentTurn)
	assert.Equal(t, 6, g.Players[1].Mana)

	g, err = m.EndTurn(ctx, "r1", "u2")
	require.NoError(t, err)
	assert.Equal(t, 2, g.CurrentPlayerIndex)
	assert.Equal(t, 1, g.CurrentTurn)

	g, err = m.EndTurn(ctx, "r1", "u3")
	require.NoError(t, err)
	assert.Equal(t, 0, g.CurrentPlayerIndex)
	assert.Equal(t, 2, g.CurrentTurn, "a full cycle adds exactly one turn")
	assert.Equal(t, 6, g.Players[0].Mana)
}

func TestManaIsCapped(t *testing.T) {
	ctx := context.Background()
	m, _ := setupManager(t, cache.NewMemory())
	setupGame(t, m, models.RoomSettings{}, true, "u1", "u2")

	g, err := m.EndTurn(ctx, "r1", "u1")
	require.NoError(t, err)
	assert.Equal(t, MaxMana, g.Players[1].Mana)
}

func TestStartingManaAboveCapRejected(t *testing.T) {
	ctx := context.Background()
	m, _ := setupManager(t, cache.NewMemory())

	_, err := m.CreateGame(ctx, "r1", "u1", models.RoomSettings{StartingMana: intPtr(MaxMana + 40)})
	assert.ErrorIs(t, err, models.ErrInvalidArgument)

	setupGame(t, m, models.RoomSettings{StartingMana: intPtr(MaxMana)}, false, "u1", "u2")
	_, err = m.Configure(ctx, "r1", models.RoomSettings{StartingMana: intPtr(MaxMana + 1)})
	assert.ErrorIs(t, err, models.ErrInvalidArgument)

	_, err = m.StartGame(ctx, "r1")
	require.NoError(t, err)
	g, err := m.EndTurn(ctx, "r1", "u1")
	require.NoError(t, err)
	assert.Equal(t, MaxMana, g.Players[1].Mana, "the turn grant never lowers mana")
}

func TestEndTurnSkipsInactivePlayers(t *testing.T) {
	ctx := context.Background()
	m, _ := setupManager(t, cache.NewMemory())
	setupGame(t, m, models.RoomSettings{}, true, "u1", "u2", "u3")

	_, active, err := m.Surrender(ctx, "r1", "u2")
	require.NoError(t, err)
	assert.Equal(t, 2, active)

	g, err := m.EndTurn(ctx, "r1", "u1")
	require.NoError(t, err)
	assert.Equal(t, "u3", g.CurrentPlayer().UserID)

	g, err = m.EndTurn(ctx, "r1", "u3")
	require.NoError(t, err)
	assert.Equal(t, "u1", g.CurrentPlayer().UserID)
	assert.Equal(t, 2, g.CurrentTurn)
}

func TestSurrenderToLastPlayerThenEnd(t *testing.T) {
	ctx := context.Background()
	m, _ := setupManager(t, cache.NewMemory())
	setupGame(t, m, models.RoomSettings{}, true, "u1", "u2", "u3")

	g, active, err := m.Surrender(ctx, "r1", "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, active)
	assert.Equal(t, "u2", g.CurrentPlayer().UserID, "surrendering the turn hands it on")
	_, decided := Decided(g)
	assert.False(t, decided)

	g, active, err = m.Surrender(ctx, "r1", "u2")
	require.NoError(t, err)
	assert.Equal(t, 1, active)

	winner, decided := Decided(g)
	require.True(t, decided)
	assert.Equal(t, "u3", winner.UserID)

	g, err = m.EndGame(ctx, "r1", winner)
	require.NoError(t, err)
	assert.Equal(t, models.PhaseFinished, g.Phase)
	require.NotNil(t, g.Winner)
	assert.Equal(t, "u3", g.Winner.UserID)

	_, err = m.EndTurn(ctx, "r1", "u3")
	assert.ErrorIs(t, err, models.ErrAlreadyFinished)
	_, err = m.RecordAction(ctx, "r1", "u3", models.Action{Kind: models.ActionDrawCard, Name: "draw_card"})
	assert.ErrorIs(t, err, models.ErrInvalidState)
	_, _, err = m.Surrender(ctx, "r1", "u3")
	assert.ErrorIs(t, err, models.ErrInvalidState)
	_, err = m.AddPlayer(ctx, "r1", "u4", "dave", nil)
	assert.ErrorIs(t, err, models.ErrInvalidState)
	_, err = m.StartGame(ctx, "r1")
	assert.ErrorIs(t, err, models.ErrInvalidState)
	_, err = m.EndGame(ctx, "r1", winner)
	assert.ErrorIs(t, err, models.ErrAlreadyFinished)
}

func TestEndGameBeforeStart(t *testing.T) {
	m, _ := setupManager(t, cache.NewMemory())
	setupGame(t, m, models.RoomSettings{}, false, "u1", "u2")

	_, err := m.EndGame(context.Background(), "r1", models.Winner{UserID: "u1"})
	assert.ErrorIs(t, err, models.ErrGameNotStarted)
}

func TestRecordActionAppendsHistory(t *testing.T) {
	ctx := context.Background()
	m, _ := setupManager(t, cache.NewMemory())
	pub := &recordingPublisher{}
	m.Publisher = pub
	setupGame(t, m, models.RoomSettings{}, true, "u1", "u2")

	action, err := PlayCard("card-1", "u2")
	require.NoError(t, err)

	g, err := m.RecordAction(ctx, "r1", "u1", action)
	require.NoError(t, err)
	require.Len(t, g.TurnHistory, 1)
	entry := g.TurnHistory[0]
	assert.Equal(t, "u1", entry.PlayerID)
	assert.Equal(t, models.ActionPlayCard, entry.Action.Kind)
	assert.Equal(t, "card-1", entry.Action.PlayCard.CardID)
	assert.Equal(t, fixedNow, entry.Timestamp)

	_, err = m.RecordAction(ctx, "r1", "u2", action)
	assert.ErrorIs(t, err, models.ErrNotYourTurn)

	assert.Eventually(t, func() bool {
		types := pub.types()
		return len(types) == 2
	}, time.Second, 10*time.Millisecond)
	assert.ElementsMatch(t, []string{RecordGameStart, "play_card"}, pub.types())
}

func TestDurableFailureAbortsMutation(t *testing.T) {
	ctx := context.Background()
	c := cache.NewMemory()
	m, store := setupManager(t, c)
	setupGame(t, m, models.RoomSettings{}, true, "u1", "u2")

	store.FailWrites(true)
	_, err := m.EndTurn(ctx, "r1", "u1")
	assert.ErrorIs(t, err, models.ErrStorage)
	store.FailWrites(false)

	g, err := m.GetGame(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "u1", g.CurrentPlayer().UserID)
}

func TestRemovePlayer(t *testing.T) {
	ctx := context.Background()
	c := cache.NewMemory()
	m, store := setupManager(t, c)
	setupGame(t, m, models.RoomSettings{}, true, "u1", "u2", "u3")

	_, err := m.EndTurn(ctx, "r1", "u1")
	require.NoError(t, err)

	g, err := m.RemovePlayer(ctx, "r1", "u2")
	require.NoError(t, err)
	require.Len(t, g.Players, 2)
	assert.Equal(t, "u3", g.CurrentPlayer().UserID)
	assert.False(t, c.Has(cache.GameKey("r1")), "player removal invalidates the snapshot")

	g, err = m.RemovePlayer(ctx, "r1", "u1")
	require.NoError(t, err)
	require.Len(t, g.Players, 1)
	assert.Equal(t, "u3", g.CurrentPlayer().UserID)

	g, err = m.RemovePlayer(ctx, "r1", "u3")
	require.NoError(t, err)
	assert.Nil(t, g)

	_, err = store.GetGame(ctx, "r1")
	assert.ErrorIs(t, err, models.ErrGameNotFound)
	_, err = m.GetGame(ctx, "r1")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestGetGamePromotesOnCacheMiss(t *testing.T) {
	ctx := context.Background()
	c := cache.NewMemory()
	m, _ := setupManager(t, c)
	setupGame(t, m, models.RoomSettings{}, false, "u1")

	require.NoError(t, c.Delete(ctx, cache.GameKey("r1")))
	g, err := m.GetGame(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "r1", g.RoomID)
	assert.True(t, c.Has(cache.GameKey("r1")))
}

func TestConfigure(t *testing.T) {
	ctx := context.Background()
	m, _ := setupManager(t, cache.NewMemory())
	setupGame(t, m, models.RoomSettings{}, false, "u1", "u2", "u3")

	_, err := m.Configure(ctx, "r1", models.RoomSettings{MaxPlayers: intPtr(2)})
	assert.ErrorIs(t, err, models.ErrBelowRoster)
	assert.ErrorIs(t, err, models.ErrConflict)

	team := models.GameTeam
	g, err := m.Configure(ctx, "r1", models.RoomSettings{
		MaxPlayers:   intPtr(6),
		GameType:     &team,
		StartingMana: intPtr(3),
	})
	require.NoError(t, err)
	assert.Equal(t, 6, g.MaxPlayers)
	assert.Equal(t, models.GameTeam, g.GameType)
	assert.Equal(t, 3, g.Settings.StartingMana)
	assert.Equal(t, 3, g.Players[2].Mana)
	assert.Equal(t, models.DefaultStartingHealth, g.Settings.StartingHealth)

	_, err = m.Configure(ctx, "r1", models.RoomSettings{MaxPlayers: intPtr(0)})
	assert.ErrorIs(t, err, models.ErrInvalidArgument)

	_, err = m.StartGame(ctx, "r1")
	require.NoError(t, err)
	_, err = m.Configure(ctx, "r1", models.RoomSettings{MaxPlayers: intPtr(8)})
	assert.ErrorIs(t, err, models.ErrGameInProgress)
}

// gameSummary is the observable state compared across cache configurations.
type gameSummary struct {
	Phase   models.Phase
	Turn    int
	Current string
	Active  []string
	Mana    []int
	History int
	Winner  string
	Seq     int
}

func summarize(g *models.GameSession) gameSummary {
	s := gameSummary{
		Phase:   g.Phase,
		Turn:    g.CurrentTurn,
		History: len(g.TurnHistory),
		Seq:     g.Seq,
	}
	if cur := g.CurrentPlayer(); cur != nil {
		s.Current = cur.UserID
	}
	for _, p := range g.Players {
		s.Mana = append(s.Mana, p.Mana)
		if p.IsActive {
			s.Active = append(s.Active, p.UserID)
		}
	}
	if g.Winner != nil {
		s.Winner = g.Winner.UserID
	}
	return s
}

func TestCacheOutageDoesNotChangeOutcome(t *testing.T) {
	run := func(c cache.Store) gameSummary {
		ctx := context.Background()
		m, _ := setupManager(t, c)
		setupGame(t, m, models.RoomSettings{StartingMana: intPtr(1)}, true, "u1", "u2", "u3")

		_, err := m.EndTurn(ctx, "r1", "u1")
		require.NoError(t, err)
		_, err = m.RecordAction(ctx, "r1", "u2", models.Action{Kind: models.ActionDrawCard, Name: "draw_card", DrawCard: &models.DrawCardAction{Count: 1}})
		require.NoError(t, err)
		_, err = m.EndTurn(ctx, "r1", "u1")
		require.ErrorIs(t, err, models.ErrNotYourTurn)
		_, _, err = m.Surrender(ctx, "r1", "u2")
		require.NoError(t, err)
		_, _, err = m.Surrender(ctx, "r1", "u1")
		require.NoError(t, err)
		g, err := m.GetGame(ctx, "r1")
		require.NoError(t, err)
		w, ok := Decided(g)
		require.True(t, ok)
		_, err = m.EndGame(ctx, "r1", w)
		require.NoError(t, err)

		g, err = m.GetGame(ctx, "r1")
		require.NoError(t, err)
		return summarize(g)
	}

	down := cache.NewMemory()
	down.SetAvailable(false)

	want := run(cache.NewMemory())
	assert.Equal(t, want, run(down))
	assert.Equal(t, want, run(cache.Disabled{}))
	assert.Equal(t, "u3", want.Winner)
}

func TestDecidedTeams(t *testing.T) {
	g := &models.GameSession{
		GameType: models.GameTeam,
		Players: []models.GamePlayer{
			{UserID: "a", Team: intPtr(1), IsActive: true},
			{UserID: "b", Team: intPtr(2), IsActive: true},
			{UserID: "c", Team: intPtr(1), IsActive: true},
		},
	}
	_, ok := Decided(g)
	assert.False(t, ok)

	g.Players[1].IsActive = false
	w, ok := Decided(g)
	require.True(t, ok)
	require.NotNil(t, w.Team)
	assert.Equal(t, 1, *w.Team)

	g.Winner = &w
	assert.True(t, Won(g, g.Players[0]))
	assert.False(t, Won(g, g.Players[1]))
}

func TestDecodeAction(t *testing.T) {
	a, err := DecodeAction("attack", json.RawMessage(`{"cardId":"c1","targetId":"u2"}`))
	require.NoError(t, err)
	assert.Equal(t, models.ActionAttack, a.Kind)
	assert.Equal(t, "u2", a.Attack.TargetID)

	a, err = DecodeAction("draw_card", nil)
	require.NoError(t, err)
	assert.Equal(t, 0, a.DrawCard.Count)

	a, err = DecodeAction("cast_spell", json.RawMessage(`{"spell":"fireball"}`))
	require.NoError(t, err)
	assert.Equal(t, models.ActionExtension, a.Kind)
	assert.Equal(t, "cast_spell", a.Name)
	assert.JSONEq(t, `{"spell":"fireball"}`, string(a.Raw))

	_, err = DecodeAction("play_card", json.RawMessage(`{}`))
	assert.ErrorIs(t, err, models.ErrInvalidArgument)

	_, err = DecodeAction("use_ability", json.RawMessage(`[1,2]`))
	assert.ErrorIs(t, err, models.ErrInvalidArgument)

	_, err = DecodeAction("", nil)
	assert.ErrorIs(t, err, models.ErrInvalidArgument)

	for _, name := range []string{RecordGameStart, RecordEndTurn, RecordSurrender, RecordGameEnd} {
		_, err = DecodeAction(name, json.RawMessage(`{}`))
		assert.ErrorIs(t, err, models.ErrInvalidArgument, name)
	}
}
