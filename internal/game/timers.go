package game

import (
	"sync"
	"time"
)

type timerKey struct {
	userID   int64
	question int
}

// roomState carries the per-room serialization lock and the room's own
// in-flight countdowns. Timers are owned here rather than in a
// process-wide map, so rooms cannot interfere with each other and
// cancellation reduces to map membership under rs.mu.
type roomState struct {
	mu     sync.Mutex
	timers map[timerKey]*time.Timer
}

func (s *Service) state(roomID string) *roomState {
	s.mu.Lock()
	defer s.mu.Unlock()
	rs, ok := s.rooms[roomID]
	if !ok {
		rs = &roomState{timers: make(map[timerKey]*time.Timer)}
		s.rooms[roomID] = rs
	}
	return rs
}

func (s *Service) dropState(roomID string) {
	s.mu.Lock()
	delete(s.rooms, roomID)
	s.mu.Unlock()
}

// startTimer arms the countdown for one (player, question) pairing.
// Caller holds rs.mu.
func (rs *roomState) startTimer(s *Service, roomID string, userID int64, question int) {
	key := timerKey{userID: userID, question: question}
	rs.timers[key] = time.AfterFunc(s.timeout, func() {
		s.onTimeout(roomID, userID, question)
	})
}

// cancelTimer stops a countdown. A handle that already fired and is
// blocked on rs.mu finds its key gone and backs off, so cancellation
// never races with abort processing. Caller holds rs.mu.
func (rs *roomState) cancelTimer(userID int64, question int) {
	key := timerKey{userID: userID, question: question}
	if t, ok := rs.timers[key]; ok {
		t.Stop()
		delete(rs.timers, key)
	}
}

// cancelAllTimers stops every countdown in the room. Caller holds rs.mu.
func (rs *roomState) cancelAllTimers() {
	for key, t := range rs.timers {
		t.Stop()
		delete(rs.timers, key)
	}
}
