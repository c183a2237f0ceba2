// internal/database/game.go
package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jason-s-yu/skirmish/internal/models"
)

// SaveGame upserts the whole session row. The room id is the unique key, so a
// room that is recreated after being destroyed starts from a fresh row.
func (s *Store) SaveGame(ctx context.Context, g *models.GameSession) error {
	players, err := json.Marshal(g.Players)
	if err != nil {
		return models.Storage("save game", fmt.Errorf("marshal players: %w", err))
	}
	history, err := json.Marshal(g.TurnHistory)
	if err != nil {
		return models.Storage("save game", fmt.Errorf("marshal turn history: %w", err))
	}
	settings, err := json.Marshal(g.Settings)
	if err != nil {
		return models.Storage("save game", fmt.Errorf("marshal settings: %w", err))
	}
	var winner []byte
	if g.Winner != nil {
		if winner, err = json.Marshal(g.Winner); err != nil {
			return models.Storage("save game", fmt.Errorf("marshal winner: %w", err))
		}
	}

	q := `
	INSERT INTO games (
		room_id, game_type, max_players,
		current_turn, current_player_index, phase,
		winner, players, turn_history, settings, seq,
		created_at, updated_at
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	ON CONFLICT (room_id) DO UPDATE SET
		game_type = EXCLUDED.game_type,
		max_players = EXCLUDED.max_players,
		current_turn = EXCLUDED.current_turn,
		current_player_index = EXCLUDED.current_player_index,
		phase = EXCLUDED.phase,
		winner = EXCLUDED.winner,
		players = EXCLUDED.players,
		turn_history = EXCLUDED.turn_history,
		settings = EXCLUDED.settings,
		seq = EXCLUDED.seq,
		updated_at = EXCLUDED.updated_at
	`
	err = pgx.BeginTxFunc(ctx, s.DB, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, e := tx.Exec(ctx, q,
			g.RoomID,
			string(g.GameType),
			g.MaxPlayers,
			g.CurrentTurn,
			g.CurrentPlayerIndex,
			string(g.Phase),
			winner,
			players,
			history,
			settings,
			g.Seq,
			g.CreatedAt,
			g.UpdatedAt,
		)
		return e
	})
	return models.Storage("save game", err)
}

// GetGame loads the session for a room.
func (s *Store) GetGame(ctx context.Context, roomID string) (*models.GameSession, error) {
	q := `
	SELECT
		room_id, game_type, max_players,
		current_turn, current_player_index, phase,
		winner, players, turn_history, settings, seq,
		created_at, updated_at
	FROM games
	WHERE room_id = $1
	`
	var (
		g                        models.GameSession
		gameType, phase          string
		winner, players, history []byte
		settings                 []byte
	)
	err := s.DB.QueryRow(ctx, q, roomID).Scan(
		&g.RoomID,
		&gameType,
		&g.MaxPlayers,
		&g.CurrentTurn,
		&g.CurrentPlayerIndex,
		&phase,
		&winner,
		&players,
		&history,
		&settings,
		&g.Seq,
		&g.CreatedAt,
		&g.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrGameNotFound
	}
	if err != nil {
		return nil, models.Storage("get game", err)
	}

	g.GameType = models.GameType(gameType)
	g.Phase = models.Phase(phase)
	if len(winner) > 0 {
		g.Winner = &models.Winner{}
		if err := json.Unmarshal(winner, g.Winner); err != nil {
			return nil, models.Storage("get game", fmt.Errorf("decode winner: %w", err))
		}
	}
	if err := json.Unmarshal(players, &g.Players); err != nil {
		return nil, models.Storage("get game", fmt.Errorf("decode players: %w", err))
	}
	if err := json.Unmarshal(history, &g.TurnHistory); err != nil {
		return nil, models.Storage("get game", fmt.Errorf("decode turn history: %w", err))
	}
	if err := json.Unmarshal(settings, &g.Settings); err != nil {
		return nil, models.Storage("get game", fmt.Errorf("decode settings: %w", err))
	}
	return &g, nil
}

// DeleteGame removes the session row together with any participants left
// behind for the room.
func (s *Store) DeleteGame(ctx context.Context, roomID string) error {
	err := pgx.BeginTxFunc(ctx, s.DB, pgx.TxOptions{}, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM participants WHERE room_id = $1`, roomID); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `DELETE FROM games WHERE room_id = $1`, roomID)
		return err
	})
	return models.Storage("delete game", err)
}
