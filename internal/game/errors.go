package game

import "errors"

var (
	ErrNotFound         = errors.New("room not found")
	ErrNotAuthorized    = errors.New("not authorized")
	ErrAlreadyJoined    = errors.New("already in a game")
	ErrRoomNotJoinable  = errors.New("room is not joinable")
	ErrNotEnoughPlayers = errors.New("not enough players")
	ErrNoActiveRoom     = errors.New("no active room")
	ErrNotAwaiting      = errors.New("no answer expected right now")
	ErrStore            = errors.New("storage unavailable")
)
