// internal/models/errors.go
package models

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failure so the router can decide who hears about it.
type ErrorKind string

const (
	KindNotFound        ErrorKind = "not_found"
	KindConflict        ErrorKind = "conflict"
	KindUnauthorized    ErrorKind = "unauthorized"
	KindInvalidState    ErrorKind = "invalid_state"
	KindInvalidArgument ErrorKind = "invalid_argument"
	KindStorage         ErrorKind = "storage_failure"
)

// Error is the typed failure returned by the room and game layers.
// Two Errors match under errors.Is when their kinds agree and the target either
// carries no message or the same message.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Message == "" || t.Message == e.Message)
}

// Kind sentinels, for errors.Is(err, models.ErrNotFound) style checks.
var (
	ErrNotFound        = &Error{Kind: KindNotFound}
	ErrConflict        = &Error{Kind: KindConflict}
	ErrUnauthorized    = &Error{Kind: KindUnauthorized}
	ErrInvalidState    = &Error{Kind: KindInvalidState}
	ErrInvalidArgument = &Error{Kind: KindInvalidArgument}
	ErrStorage         = &Error{Kind: KindStorage}
)

var (
	ErrRoomNotFound        = &Error{Kind: KindNotFound, Message: "Room not found"}
	ErrGameNotFound        = &Error{Kind: KindNotFound, Message: "Game not found"}
	ErrParticipantNotFound = &Error{Kind: KindNotFound, Message: "Participant not found"}
	ErrNotMember           = &Error{Kind: KindNotFound, Message: "Player is not in this room"}

	ErrRoomExists  = &Error{Kind: KindConflict, Message: "Room already exists"}
	ErrRoomFull    = &Error{Kind: KindConflict, Message: "Room is full"}
	ErrGameFull    = &Error{Kind: KindConflict, Message: "Game is full"}
	ErrBelowRoster = &Error{Kind: KindConflict, Message: "maxPlayers is below the current player count"}
	ErrInOtherRoom = &Error{Kind: KindConflict, Message: "Leave your current room first"}

	ErrNotYourTurn  = &Error{Kind: KindUnauthorized, Message: "Not your turn"}
	ErrNotHost      = &Error{Kind: KindUnauthorized, Message: "Only the host can do that"}
	ErrForeignActor = &Error{Kind: KindUnauthorized, Message: "Connection does not belong to that player"}

	ErrNotAllReady         = &Error{Kind: KindInvalidState, Message: "Not all players are ready"}
	ErrAlreadyFinished     = &Error{Kind: KindInvalidState, Message: "Game has already finished"}
	ErrGameNotStarted      = &Error{Kind: KindInvalidState, Message: "Game has not started"}
	ErrGameInProgress      = &Error{Kind: KindInvalidState, Message: "Game is already in progress"}
	ErrInsufficientPlayers = &Error{Kind: KindInvalidState, Message: "Not enough players to start"}
)

// Invalid builds an InvalidArgument error.
func Invalid(format string, args ...any) error {
	return &Error{Kind: KindInvalidArgument, Message: fmt.Sprintf(format, args...)}
}

// Storage wraps a durable or cache failure. Errors already classified pass through.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	var typed *Error
	if errors.As(err, &typed) {
		return err
	}
	return &Error{Kind: KindStorage, Message: op, Err: err}
}

// KindOf reports the classification of err, defaulting to storage failure for
// anything that escaped classification.
func KindOf(err error) ErrorKind {
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Kind
	}
	return KindStorage
}
