package database

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jason-s-yu/skirmish/internal/models"
)

const participantColumns = `
	user_id, room_id, username, connection_id, team,
	is_host, is_ready, connection_status, last_activity
`

// UpsertParticipant inserts the membership row or refreshes it in place; the
// (user_id, room_id) key keeps re-joins from duplicating.
func (s *Store) UpsertParticipant(ctx context.Context, p *models.Participant) error {
	q := `
	INSERT INTO participants (` + participantColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	ON CONFLICT (user_id, room_id) DO UPDATE SET
		username = EXCLUDED.username,
		connection_id = EXCLUDED.connection_id,
		team = EXCLUDED.team,
		is_host = EXCLUDED.is_host,
		is_ready = EXCLUDED.is_ready,
		connection_status = EXCLUDED.connection_status,
		last_activity = EXCLUDED.last_activity,
		updated_at = NOW()
	`
	err := pgx.BeginTxFunc(ctx, s.DB, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, q,
			p.UserID,
			p.RoomID,
			p.Username,
			p.ConnectionID,
			p.Team,
			p.IsHost,
			p.IsReady,
			string(p.ConnectionStatus),
			p.LastActivity,
		)
		return err
	})
	return models.Storage("upsert participant", err)
}

// GetParticipant fetches the membership of userID in roomID.
func (s *Store) GetParticipant(ctx context.Context, roomID, userID string) (*models.Participant, error) {
	q := `SELECT ` + participantColumns + ` FROM participants WHERE room_id = $1 AND user_id = $2`
	return scanParticipant(s.DB.QueryRow(ctx, q, roomID, userID))
}

// GetParticipantByConnection resolves the live membership bound to a connection.
func (s *Store) GetParticipantByConnection(ctx context.Context, connID string) (*models.Participant, error) {
	q := `
	SELECT ` + participantColumns + `
	FROM participants
	WHERE connection_id = $1
	ORDER BY last_activity DESC
	LIMIT 1
	`
	return scanParticipant(s.DB.QueryRow(ctx, q, connID))
}

// ListParticipants returns every membership row of a room.
func (s *Store) ListParticipants(ctx context.Context, roomID string) ([]*models.Participant, error) {
	q := `SELECT ` + participantColumns + ` FROM participants WHERE room_id = $1 ORDER BY user_id`
	rows, err := s.DB.Query(ctx, q, roomID)
	if err != nil {
		return nil, models.Storage("list participants", err)
	}
	defer rows.Close()

	var out []*models.Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, models.Storage("list participants", rows.Err())
}

// DeleteParticipant removes a membership row.
func (s *Store) DeleteParticipant(ctx context.Context, roomID, userID string) error {
	q := `DELETE FROM participants WHERE room_id = $1 AND user_id = $2`
	err := pgx.BeginTxFunc(ctx, s.DB, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, q, roomID, userID)
		return err
	})
	return models.Storage("delete participant", err)
}

func scanParticipant(row pgx.Row) (*models.Participant, error) {
	var (
		p      models.Participant
		status string
	)
	err := row.Scan(
		&p.UserID,
		&p.RoomID,
		&p.Username,
		&p.ConnectionID,
		&p.Team,
		&p.IsHost,
		&p.IsReady,
		&status,
		&p.LastActivity,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrParticipantNotFound
	}
	if err != nil {
		return nil, models.Storage("scan participant", err)
	}
	p.ConnectionStatus = models.ConnectionStatus(status)
	return &p, nil
}
