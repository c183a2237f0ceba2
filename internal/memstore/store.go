// internal/memstore/store.go
package memstore

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/jason-s-yu/skirmish/internal/models"
)

// ErrInjected is returned by mutating calls while a failure is injected.
var ErrInjected = errors.New("injected storage failure")

type participantKey struct {
	roomID string
	userID string
}

// Store keeps participants and game sessions in process memory. It satisfies
// the same contracts as the Postgres store and is used for local runs and tests.
type Store struct {
	mu           sync.Mutex
	participants map[participantKey]*models.Participant
	games        map[string]*models.GameSession

	failWrites bool
	writes     int
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		participants: make(map[participantKey]*models.Participant),
		games:        make(map[string]*models.GameSession),
	}
}

// FailWrites makes every subsequent mutation fail until switched back.
func (s *Store) FailWrites(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWrites = fail
}

// Writes counts successful mutations.
func (s *Store) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

func (s *Store) write(op string) error {
	if s.failWrites {
		return models.Storage(op, ErrInjected)
	}
	s.writes++
	return nil
}

func (s *Store) UpsertParticipant(_ context.Context, p *models.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.write("upsert participant"); err != nil {
		return err
	}
	s.participants[participantKey{p.RoomID, p.UserID}] = p.Clone()
	return nil
}

func (s *Store) GetParticipant(_ context.Context, roomID, userID string) (*models.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.participants[participantKey{roomID, userID}]
	if !ok {
		return nil, models.ErrParticipantNotFound
	}
	return p.Clone(), nil
}

// GetParticipantByConnection returns the most recently active participant bound to connID.
func (s *Store) GetParticipantByConnection(_ context.Context, connID string) (*models.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var found *models.Participant
	for _, p := range s.participants {
		if p.ConnectionID != connID {
			continue
		}
		if found == nil || p.LastActivity.After(found.LastActivity) {
			found = p
		}
	}
	if found == nil {
		return nil, models.ErrParticipantNotFound
	}
	return found.Clone(), nil
}

func (s *Store) ListParticipants(_ context.Context, roomID string) ([]*models.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Participant
	for k, p := range s.participants {
		if k.roomID == roomID {
			out = append(out, p.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (s *Store) DeleteParticipant(_ context.Context, roomID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.write("delete participant"); err != nil {
		return err
	}
	delete(s.participants, participantKey{roomID, userID})
	return nil
}

func (s *Store) SaveGame(_ context.Context, g *models.GameSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.write("save game"); err != nil {
		return err
	}
	s.games[g.RoomID] = g.Clone()
	return nil
}

func (s *Store) GetGame(_ context.Context, roomID string) (*models.GameSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.games[roomID]
	if !ok {
		return nil, models.ErrGameNotFound
	}
	return g.Clone(), nil
}

// DeleteGame drops the session and any participant rows left for the room.
func (s *Store) DeleteGame(_ context.Context, roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.write("delete game"); err != nil {
		return err
	}
	delete(s.games, roomID)
	for k := range s.participants {
		if k.roomID == roomID {
			delete(s.participants, k)
		}
	}
	return nil
}
