// Package bot maps chat commands onto the game service and turns its
// errors into short user-facing replies.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"storyfold/internal/game"
)

type Router struct {
	svc *game.Service
}

func NewRouter(svc *game.Service) *Router {
	return &Router{svc: svc}
}

const helpText = `/new — open a room
/join CODE — join a room
/begin — start the game (admin, 2+ players)
/leave — leave your room
/reuse CODE — replay a finished room with the same group
/reset — close every room you are in
/stats — how many answers you have given
/help — this message

During a game, just send your answer as a plain message.`

// HandleCommand runs one slash command and returns the reply to send,
// or "" when the game service already messaged the caller.
func (r *Router) HandleCommand(ctx context.Context, id game.Identity, command, args string) string {
	switch command {
	case "start":
		return fmt.Sprintf("Hi %s! This bot plays the folded-story game: everyone answers the same questions privately, then the answers are folded into one story per player.\n\n%s", id.Name, helpText)
	case "help":
		return helpText
	case "new":
		room, err := r.svc.CreateRoom(ctx, id)
		if err != nil {
			return errorReply(err)
		}
		return fmt.Sprintf("Room %s is open.", room.Code)
	case "reuse":
		code := strings.TrimSpace(args)
		if code == "" {
			return "Usage: /reuse CODE"
		}
		room, err := r.svc.ReuseRoomCode(ctx, id, code)
		if err != nil {
			return errorReply(err)
		}
		return fmt.Sprintf("Room %s is open again with the old group.", room.Code)
	case "join":
		code := strings.TrimSpace(args)
		if code == "" {
			return "Usage: /join CODE"
		}
		room, err := r.svc.Join(ctx, id, code)
		if err != nil {
			return errorReply(err)
		}
		return fmt.Sprintf("You are in room %s.", room.Code)
	case "begin":
		if err := r.svc.StartGame(ctx, id); err != nil {
			return errorReply(err)
		}
		return ""
	case "leave":
		if _, err := r.svc.Leave(ctx, id); err != nil {
			return errorReply(err)
		}
		return "You left the room."
	case "reset":
		n, err := r.svc.Reset(ctx, id)
		if err != nil {
			return errorReply(err)
		}
		if n == 0 {
			return "You had no open rooms."
		}
		return fmt.Sprintf("Closed %d room(s).", n)
	case "stats":
		n, err := r.svc.Stats(ctx, id)
		if err != nil {
			return errorReply(err)
		}
		return fmt.Sprintf("You have given %d answers so far.", n)
	}
	return "Unknown command. Try /help."
}

// HandleText treats plain text as an answer submission.
func (r *Router) HandleText(ctx context.Context, id game.Identity, text string) string {
	if strings.TrimSpace(text) == "" {
		return ""
	}
	if err := r.svc.SubmitAnswer(ctx, id, text); err != nil {
		return errorReply(err)
	}
	return "Got it."
}

func errorReply(err error) string {
	switch {
	case errors.Is(err, game.ErrNotFound):
		return "No such room. Check the code."
	case errors.Is(err, game.ErrNotAuthorized):
		return "Only the room admin can do that."
	case errors.Is(err, game.ErrAlreadyJoined):
		return "You are already in a game. /leave it first."
	case errors.Is(err, game.ErrRoomNotJoinable):
		return "That room has already started."
	case errors.Is(err, game.ErrNotEnoughPlayers):
		return "You need at least two players to start."
	case errors.Is(err, game.ErrNoActiveRoom):
		return "You are not in a game. /new or /join CODE."
	case errors.Is(err, game.ErrNotAwaiting):
		return "Hold on — wait for the next question."
	case errors.Is(err, game.ErrStore):
		log.Printf("[Bot] storage error: %v\n", err)
		return "Something went wrong on our side. Try again in a moment."
	}
	log.Printf("[Bot] command failed: %v\n", err)
	return err.Error()
}
