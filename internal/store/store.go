// Package store defines the persistence contracts shared by all backends:
// rooms, roster entries, answers, and outbound-message references.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a room, player, or answer does not exist.
var ErrNotFound = errors.New("not found")

type RoomStatus string

const (
	StatusWaiting    = RoomStatus("waiting")
	StatusInProgress = RoomStatus("in_progress")
	StatusCompleted  = RoomStatus("completed")
	StatusAborted    = RoomStatus("aborted")
	StatusReset      = RoomStatus("reset")
)

// Terminal reports whether a room in this status is finished for good.
// Codes of terminal rooms may be bound to new rooms.
func (s RoomStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusAborted, StatusReset:
		return true
	}
	return false
}

type Room struct {
	ID        string
	Code      string
	CreatorID int64
	Status    RoomStatus
	Question  int // index of the round currently being collected
	CreatedAt time.Time
}

type Player struct {
	RoomID   string
	UserID   int64
	ChatID   int64
	Name     string
	Admin    bool
	Awaiting int // question index the player owes, -1 when idle
	JoinedAt time.Time
}

type Answer struct {
	RoomID    string
	Question  int
	UserID    int64
	Text      string
	CreatedAt time.Time
}

// MessageRef remembers an outbound message so it can be edited later,
// e.g. the lobby status message shown to each participant.
type MessageRef struct {
	RoomID    string
	ChatID    int64
	MessageID int
	Purpose   string
}

const PurposeLobby = "lobby"

// Store is implemented by the postgres, sqlite, and memory backends.
// The most recent room wins RoomByCode; historical rooms under a reused
// code stay behind it.
type Store interface {
	CreateRoom(ctx context.Context, room *Room) error
	RoomByID(ctx context.Context, id string) (*Room, error)
	RoomByCode(ctx context.Context, code string) (*Room, error)
	UpdateRoom(ctx context.Context, room *Room) error
	DeleteRoom(ctx context.Context, id string) error

	AddPlayer(ctx context.Context, p *Player) error
	Player(ctx context.Context, roomID string, userID int64) (*Player, error)
	Players(ctx context.Context, roomID string) ([]*Player, error)
	UpdatePlayer(ctx context.Context, p *Player) error
	DeletePlayer(ctx context.Context, roomID string, userID int64) error
	DeletePlayers(ctx context.Context, roomID string) error
	RoomsByPlayer(ctx context.Context, userID int64) ([]*Room, error)

	UpsertAnswer(ctx context.Context, a *Answer) error
	Answers(ctx context.Context, roomID string) ([]*Answer, error)
	CountAnswers(ctx context.Context, roomID string, question int) (int, error)
	CountAnswersByUser(ctx context.Context, userID int64) (int, error)
	DeleteAnswers(ctx context.Context, roomID string) error
	DeleteAnswersByPlayer(ctx context.Context, roomID string, userID int64) error

	SaveMessageRef(ctx context.Context, ref *MessageRef) error
	MessageRefs(ctx context.Context, roomID string) ([]*MessageRef, error)
	DeleteMessageRefs(ctx context.Context, roomID string) error

	Close() error
}
