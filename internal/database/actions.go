package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jason-s-yu/skirmish/internal/cache"
)

// InsertActions writes a batch of historian records in one transaction. A
// game_end record also folds the outcome into user_stats.
func (s *Store) InsertActions(ctx context.Context, batch []cache.ActionRecord) error {
	return pgx.BeginTxFunc(ctx, s.DB, pgx.TxOptions{}, func(tx pgx.Tx) error {
		for _, rec := range batch {
			if err := insertActionTx(ctx, tx, rec); err != nil {
				return fmt.Errorf("insertActionTx: %w", err)
			}
			if rec.ActionType == "game_end" {
				if err := updateUserStatsTx(ctx, tx, rec); err != nil {
					return fmt.Errorf("updateUserStatsTx: %w", err)
				}
			}
		}
		return nil
	})
}

func insertActionTx(ctx context.Context, tx pgx.Tx, rec cache.ActionRecord) error {
	q := `
		INSERT INTO game_actions (
			room_id, action_index, actor_user_id, action_type, action_payload, created_at
		) VALUES ($1, $2, $3, $4, $5, $6)
	`
	payload, err := json.Marshal(rec.ActionPayload)
	if err != nil {
		return err
	}
	createdAt := time.UnixMilli(rec.Timestamp)
	if rec.Timestamp == 0 {
		createdAt = time.Now()
	}
	_, err = tx.Exec(ctx, q,
		rec.RoomID, rec.ActionIndex, rec.ActorUserID, rec.ActionType, payload, createdAt,
	)
	return err
}

// updateUserStatsTx reads the final standings from a game_end payload. The
// payload carries "players" as a list of {userId, score, won}.
func updateUserStatsTx(ctx context.Context, tx pgx.Tx, rec cache.ActionRecord) error {
	raw, err := json.Marshal(rec.ActionPayload["players"])
	if err != nil {
		return err
	}
	var standings []struct {
		UserID string `json:"userId"`
		Score  int    `json:"score"`
		Won    bool   `json:"won"`
	}
	if err := json.Unmarshal(raw, &standings); err != nil {
		return fmt.Errorf("decode standings: %w", err)
	}

	q := `
		INSERT INTO user_stats (user_id, games_played, games_won, total_score)
		VALUES ($1, 1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE SET
			games_played = user_stats.games_played + 1,
			games_won = user_stats.games_won + EXCLUDED.games_won,
			total_score = user_stats.total_score + EXCLUDED.total_score
	`
	for _, st := range standings {
		won := 0
		if st.Won {
			won = 1
		}
		if _, err := tx.Exec(ctx, q, st.UserID, won, st.Score); err != nil {
			return err
		}
	}
	return nil
}
