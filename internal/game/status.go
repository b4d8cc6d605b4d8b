package game

import (
	"fmt"

	"storyfold/internal/store"
)

// Event is something that can move a room between statuses.
type Event string

const (
	EventStart    = Event("start")
	EventComplete = Event("complete")
	EventTimeout  = Event("timeout")
	EventReset    = Event("reset")
)

// Transition is the room state machine: it validates an event against the
// current status and returns the next one. It touches no storage.
func Transition(status store.RoomStatus, event Event) (store.RoomStatus, error) {
	if status.Terminal() {
		return status, fmt.Errorf("room is already %s", status)
	}
	switch event {
	case EventStart:
		if status != store.StatusWaiting {
			return status, fmt.Errorf("cannot start a room that is %s", status)
		}
		return store.StatusInProgress, nil
	case EventComplete:
		if status != store.StatusInProgress {
			return status, fmt.Errorf("cannot complete a room that is %s", status)
		}
		return store.StatusCompleted, nil
	case EventTimeout:
		if status != store.StatusInProgress {
			return status, fmt.Errorf("cannot abort a room that is %s", status)
		}
		return store.StatusAborted, nil
	case EventReset:
		return store.StatusReset, nil
	}
	return status, fmt.Errorf("unknown event %q", event)
}
