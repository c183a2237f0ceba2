// internal/room/repository.go
package room

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/jason-s-yu/skirmish/internal/cache"
	"github.com/jason-s-yu/skirmish/internal/models"
	"github.com/sirupsen/logrus"
)

// ParticipantStore is the durable side of room membership.
type ParticipantStore interface {
	UpsertParticipant(ctx context.Context, p *models.Participant) error
	GetParticipant(ctx context.Context, roomID, userID string) (*models.Participant, error)
	GetParticipantByConnection(ctx context.Context, connID string) (*models.Participant, error)
	DeleteParticipant(ctx context.Context, roomID, userID string) error
}

// GameLifecycle is the part of the game manager the repository drives so that
// every room has a companion session.
type GameLifecycle interface {
	CreateGame(ctx context.Context, roomID, hostID string, settings models.RoomSettings) (*models.GameSession, error)
	AddPlayer(ctx context.Context, roomID, userID, username string, team *int) (*models.GameSession, error)
	RemovePlayer(ctx context.Context, roomID, userID string) (*models.GameSession, error)
	Configure(ctx context.Context, roomID string, s models.RoomSettings) (*models.GameSession, error)
	DeleteGame(ctx context.Context, roomID string) error
}

// Repository owns the live view of every room. Rooms in the map are immutable
// snapshots; a mutation writes the durable store, then the cache, then swaps
// a new snapshot in. Callers serialize mutations per room id.
type Repository struct {
	mu    sync.RWMutex
	rooms map[string]*models.Room

	participants ParticipantStore
	games        GameLifecycle
	cache        cache.Store
	log          logrus.FieldLogger

	TTL time.Duration
	Now func() time.Time
}

// NewRepository builds a Repository. A nil cache disables caching.
func NewRepository(participants ParticipantStore, games GameLifecycle, c cache.Store, log logrus.FieldLogger) *Repository {
	if c == nil {
		c = cache.Disabled{}
	}
	return &Repository{
		rooms:        make(map[string]*models.Room),
		participants: participants,
		games:        games,
		cache:        c,
		log:          log,
		TTL:          cache.DefaultTTL,
		Now:          time.Now,
	}
}

// CreateRoom creates a room hosted by hostID together with its game session.
func (r *Repository) CreateRoom(ctx context.Context, roomID, hostID, hostName, connID string, settings models.RoomSettings) (*models.Room, error) {
	return r.createRoom(ctx, roomID, hostID, hostName, connID, nil, settings)
}

func (r *Repository) createRoom(ctx context.Context, roomID, hostID, hostName, connID string, team *int, settings models.RoomSettings) (*models.Room, error) {
	if roomID == "" || hostID == "" {
		return nil, models.Invalid("roomId and userId are required")
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	if r.memGet(roomID) != nil {
		return nil, models.ErrRoomExists
	}

	now := r.Now()
	host := &models.Participant{
		UserID:           hostID,
		Username:         hostName,
		ConnectionID:     connID,
		RoomID:           roomID,
		Team:             team,
		IsHost:           true,
		ConnectionStatus: models.StatusConnected,
		LastActivity:     now,
	}

	var undo undoStack
	if err := r.participants.UpsertParticipant(ctx, host); err != nil {
		return nil, err
	}
	undo.push("delete host participant", func(ctx context.Context) error {
		return r.participants.DeleteParticipant(ctx, roomID, hostID)
	})
	if _, err := r.games.CreateGame(ctx, roomID, hostID, settings); err != nil {
		undo.run(ctx, r.log)
		return nil, err
	}
	undo.push("delete game", func(ctx context.Context) error {
		return r.games.DeleteGame(ctx, roomID)
	})
	if _, err := r.games.AddPlayer(ctx, roomID, hostID, hostName, team); err != nil {
		undo.run(ctx, r.log)
		return nil, err
	}

	room := &models.Room{
		ID:         roomID,
		Host:       hostID,
		Players:    map[string]*models.Participant{hostID: host},
		MaxPlayers: settings.MaxPlayersOr(models.DefaultMaxPlayers),
		GameType:   settings.GameTypeOr(models.GameSolo),
		IsPublic:   settings.IsPublicOr(true),
		CreatedAt:  now,
	}
	r.publish(ctx, room)
	r.log.WithFields(logrus.Fields{"room": roomID, "user": hostID}).Info("room created")
	return room, nil
}

// JoinRoom adds userID to an existing room. Joining again refreshes the
// member's connection instead of adding a second membership.
func (r *Repository) JoinRoom(ctx context.Context, roomID, userID, username, connID string, team *int) (*models.Room, error) {
	if roomID == "" || userID == "" {
		return nil, models.Invalid("roomId and userId are required")
	}
	room := r.resolve(ctx, roomID)
	if room == nil {
		return nil, models.ErrRoomNotFound
	}
	member, isMember := room.Players[userID]
	if !isMember && len(room.Players) >= room.MaxPlayers {
		return nil, models.ErrRoomFull
	}

	// A returning member only moves to the new connection; name and team stay
	// as the game session recorded them.
	var p *models.Participant
	if isMember {
		p = member.Clone()
	} else {
		p = &models.Participant{UserID: userID, RoomID: roomID, Username: username}
		if team != nil {
			t := *team
			p.Team = &t
		}
	}
	p.ConnectionID = connID
	p.ConnectionStatus = models.StatusConnected
	p.LastActivity = r.Now()
	p.IsHost = room.Host == userID

	// AddPlayer is a no-op for a player already seated.
	if _, err := r.games.AddPlayer(ctx, roomID, userID, p.Username, p.Team); err != nil {
		return nil, err
	}
	if err := r.participants.UpsertParticipant(ctx, p); err != nil {
		if !isMember {
			if _, rerr := r.games.RemovePlayer(ctx, roomID, userID); rerr != nil {
				r.log.WithError(rerr).WithField("room", roomID).Error("failed to unseat player after join failure")
			}
		}
		return nil, err
	}

	next := room.Clone()
	next.Players[userID] = p
	r.publish(ctx, next)
	r.log.WithFields(logrus.Fields{"room": roomID, "user": userID, "conn": connID}).Info("player joined room")
	return next, nil
}

// JoinOrCreate joins roomID, creating it with userID as host when it does not
// exist. The bool reports whether the room was created.
func (r *Repository) JoinOrCreate(ctx context.Context, roomID, userID, username, connID string, team *int, settings models.RoomSettings) (*models.Room, bool, error) {
	if r.resolve(ctx, roomID) != nil {
		room, err := r.JoinRoom(ctx, roomID, userID, username, connID, team)
		return room, false, err
	}
	room, err := r.createRoom(ctx, roomID, userID, username, connID, team, settings)
	return room, err == nil, err
}

// LeaveRoom removes userID from the room. When the last member leaves the room
// and its game are destroyed and (nil, nil) is returned.
func (r *Repository) LeaveRoom(ctx context.Context, roomID, userID string) (*models.Room, error) {
	room := r.resolve(ctx, roomID)
	if room == nil {
		return nil, models.ErrRoomNotFound
	}
	leaving, ok := room.Players[userID]
	if !ok {
		return nil, models.ErrNotMember
	}

	next := room.Clone()
	delete(next.Players, userID)

	var undo undoStack
	if len(next.Players) > 0 && next.Host == userID {
		heir := next.PlayerList()[0]
		heir.IsHost = true
		if err := r.participants.UpsertParticipant(ctx, heir); err != nil {
			return nil, err
		}
		next.Host = heir.UserID
		prev := room.Players[heir.UserID].Clone()
		undo.push("restore previous host flag", func(ctx context.Context) error {
			return r.participants.UpsertParticipant(ctx, prev)
		})
	}

	if err := r.participants.DeleteParticipant(ctx, roomID, userID); err != nil {
		undo.run(ctx, r.log)
		return nil, err
	}
	undo.push("restore participant", func(ctx context.Context) error {
		return r.participants.UpsertParticipant(ctx, leaving)
	})

	_, err := r.games.RemovePlayer(ctx, roomID, userID)
	if err != nil && !errors.Is(err, models.ErrAlreadyFinished) && !errors.Is(err, models.ErrGameNotFound) {
		undo.run(ctx, r.log)
		return nil, err
	}

	fields := logrus.Fields{"room": roomID, "user": userID}
	if len(next.Players) == 0 {
		if err := r.games.DeleteGame(ctx, roomID); err != nil {
			// The participant is already gone; keep going so the room is not left
			// half destroyed in memory.
			r.log.WithError(err).WithFields(fields).Error("failed to delete game of empty room")
		}
		r.cacheDelete(ctx, roomID)
		r.memDelete(roomID)
		r.log.WithFields(fields).Info("room destroyed")
		return nil, nil
	}

	r.publish(ctx, next)
	r.log.WithFields(fields).WithField("host", next.Host).Info("player left room")
	return next, nil
}

// GetRoom resolves a room from memory, then the cache. The returned snapshot
// must not be modified.
func (r *Repository) GetRoom(ctx context.Context, roomID string) (*models.Room, error) {
	room := r.resolve(ctx, roomID)
	if room == nil {
		return nil, models.ErrRoomNotFound
	}
	return room, nil
}

// SetReady flips the ready flag of a member. It reports false when no such
// participant exists.
func (r *Repository) SetReady(ctx context.Context, roomID, userID string, ready bool) (bool, error) {
	p, err := r.participants.GetParticipant(ctx, roomID, userID)
	if errors.Is(err, models.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	p.IsReady = ready
	p.LastActivity = r.Now()
	if err := r.participants.UpsertParticipant(ctx, p); err != nil {
		return false, err
	}

	if room := r.resolve(ctx, roomID); room != nil {
		if _, ok := room.Players[userID]; ok {
			next := room.Clone()
			m := next.Players[userID]
			m.IsReady = ready
			m.LastActivity = p.LastActivity
			r.publish(ctx, next)
		}
	}
	return true, nil
}

// AllReady reports whether the room has at least two members and all are ready.
func (r *Repository) AllReady(ctx context.Context, roomID string) bool {
	room := r.resolve(ctx, roomID)
	if room == nil || len(room.Players) < models.MinPlayers {
		return false
	}
	for _, p := range room.Players {
		if !p.IsReady {
			return false
		}
	}
	return true
}

// FindRoomByConnection resolves the room of the participant bound to connID.
func (r *Repository) FindRoomByConnection(ctx context.Context, connID string) (*models.Room, error) {
	p, err := r.participants.GetParticipantByConnection(ctx, connID)
	if err != nil {
		return nil, err
	}
	return r.GetRoom(ctx, p.RoomID)
}

// RebindConnection moves the participant bound to oldConnID onto newConnID.
// It reports false when nothing is bound to oldConnID.
func (r *Repository) RebindConnection(ctx context.Context, oldConnID, newConnID string) (bool, error) {
	p, err := r.participants.GetParticipantByConnection(ctx, oldConnID)
	if errors.Is(err, models.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if _, err := r.rebind(ctx, p, newConnID, models.StatusConnected); err != nil {
		return false, err
	}
	return true, nil
}

// Reconnect rebinds userID's membership in roomID to a new connection. Nothing
// is written unless the room resolves and lists userID.
func (r *Repository) Reconnect(ctx context.Context, roomID, userID, newConnID string) (*models.Room, error) {
	room := r.resolve(ctx, roomID)
	if room == nil {
		return nil, models.ErrRoomNotFound
	}
	if _, ok := room.Players[userID]; !ok {
		return nil, models.ErrNotMember
	}
	p, err := r.participants.GetParticipant(ctx, roomID, userID)
	if errors.Is(err, models.ErrNotFound) {
		return nil, models.ErrNotMember
	}
	if err != nil {
		return nil, err
	}
	next, err := r.rebind(ctx, p, newConnID, models.StatusConnected)
	if err != nil {
		return nil, err
	}
	if next == nil {
		return nil, models.ErrRoomNotFound
	}
	return next, nil
}

// MarkDisconnected records that connID dropped. The membership is kept so the
// user can reconnect.
func (r *Repository) MarkDisconnected(ctx context.Context, connID string) (*models.Room, *models.Participant, error) {
	p, err := r.participants.GetParticipantByConnection(ctx, connID)
	if err != nil {
		return nil, nil, err
	}
	room, err := r.rebind(ctx, p, connID, models.StatusDisconnected)
	if err != nil {
		return nil, nil, err
	}
	return room, p, nil
}

// rebind persists p with a new connection id and status and mirrors it into the
// live room, which is returned when it resolves.
func (r *Repository) rebind(ctx context.Context, p *models.Participant, connID string, status models.ConnectionStatus) (*models.Room, error) {
	p.ConnectionID = connID
	p.ConnectionStatus = status
	p.LastActivity = r.Now()
	if err := r.participants.UpsertParticipant(ctx, p); err != nil {
		return nil, err
	}

	room := r.resolve(ctx, p.RoomID)
	if room == nil {
		return nil, nil
	}
	if _, ok := room.Players[p.UserID]; !ok {
		return room, nil
	}
	next := room.Clone()
	m := next.Players[p.UserID]
	m.ConnectionID = connID
	m.ConnectionStatus = status
	m.LastActivity = p.LastActivity
	r.publish(ctx, next)
	r.log.WithFields(logrus.Fields{"room": p.RoomID, "user": p.UserID, "conn": connID}).
		Debugf("participant %s", status)
	return next, nil
}

// UpdateSettings applies host-issued settings to the room and, while the game
// is waiting, to its session.
func (r *Repository) UpdateSettings(ctx context.Context, roomID, userID string, s models.RoomSettings) (*models.Room, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	room := r.resolve(ctx, roomID)
	if room == nil {
		return nil, models.ErrRoomNotFound
	}
	if room.Host != userID {
		return nil, models.ErrNotHost
	}
	if s.MaxPlayersOr(room.MaxPlayers) < len(room.Players) {
		return nil, models.ErrBelowRoster
	}
	if _, err := r.games.Configure(ctx, roomID, s); err != nil {
		return nil, err
	}

	next := room.Clone()
	next.MaxPlayers = s.MaxPlayersOr(room.MaxPlayers)
	next.GameType = s.GameTypeOr(room.GameType)
	next.IsPublic = s.IsPublicOr(room.IsPublic)
	r.publish(ctx, next)
	return next, nil
}

// ListPublicRooms summarizes the public rooms held in memory, ordered by id.
func (r *Repository) ListPublicRooms() []models.RoomSummary {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.RoomSummary, 0, len(r.rooms))
	for _, room := range r.rooms {
		if !room.IsPublic {
			continue
		}
		out = append(out, models.RoomSummary{
			ID:          room.ID,
			Host:        room.Host,
			PlayerCount: len(room.Players),
			MaxPlayers:  room.MaxPlayers,
			GameType:    room.GameType,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// resolve returns the live snapshot, promoting a cached copy into memory on a
// miss. It never reads rooms from the durable store.
func (r *Repository) resolve(ctx context.Context, roomID string) *models.Room {
	if room := r.memGet(roomID); room != nil {
		return room
	}
	var cached models.Room
	hit, err := r.cache.Get(ctx, cache.RoomKey(roomID), &cached)
	if err != nil {
		r.log.WithError(err).WithField("room", roomID).Warn("room cache read failed")
		return nil
	}
	if !hit {
		return nil
	}
	if cached.Players == nil {
		cached.Players = make(map[string]*models.Participant)
	}
	return r.memPromote(&cached)
}

// publish writes the snapshot to the cache and swaps it into memory. The
// durable writes for the mutation have already happened.
func (r *Repository) publish(ctx context.Context, room *models.Room) {
	if err := r.cache.Set(ctx, cache.RoomKey(room.ID), room, r.TTL); err != nil {
		r.log.WithError(err).WithField("room", room.ID).Warn("room cache write failed")
		r.cacheDelete(ctx, room.ID)
	}
	r.memPut(room)
}

func (r *Repository) cacheDelete(ctx context.Context, roomID string) {
	if err := r.cache.Delete(ctx, cache.RoomKey(roomID)); err != nil {
		r.log.WithError(err).WithField("room", roomID).Warn("room cache delete failed")
	}
}

func (r *Repository) memGet(roomID string) *models.Room {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rooms[roomID]
}

func (r *Repository) memPut(room *models.Room) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rooms[room.ID] = room
}

// memPromote stores a cache copy unless a snapshot is already held, in which
// case the held one wins. Readers that do not hold the room lock promote
// through here, so they never replace a newer snapshot published meanwhile.
func (r *Repository) memPromote(room *models.Room) *models.Room {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.rooms[room.ID]; ok {
		return cur
	}
	r.rooms[room.ID] = room
	return room
}

func (r *Repository) memDelete(roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rooms, roomID)
}
