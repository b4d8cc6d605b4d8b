// Package game drives the room lifecycle: code allocation, roster and
// admin succession, the question/answer rounds with per-player answer
// countdowns, and the final rotation of answers into stories.
package game

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"storyfold/internal/gateway"
	"storyfold/internal/store"
)

// Identity is the platform-supplied identity of a participant.
type Identity struct {
	UserID int64
	ChatID int64
	Name   string
}

type Service struct {
	store     store.Store
	gw        gateway.Gateway
	questions []string
	timeout   time.Duration

	mu    sync.Mutex
	rooms map[string]*roomState
}

func NewService(st store.Store, gw gateway.Gateway, questions []string, timeout time.Duration) *Service {
	if len(questions) == 0 {
		questions = DefaultQuestions
	}
	return &Service{
		store:     st,
		gw:        gw,
		questions: questions,
		timeout:   timeout,
		rooms:     make(map[string]*roomState),
	}
}

func (s *Service) Questions() []string { return s.questions }

// CreateRoom allocates a fresh code, inserts a waiting room, and seats
// the creator as its sole admin.
func (s *Service) CreateRoom(ctx context.Context, creator Identity) (*store.Room, error) {
	if err := s.ensureNotInGame(ctx, creator.UserID); err != nil {
		return nil, err
	}
	code, err := s.freeCode(ctx)
	if err != nil {
		return nil, err
	}
	room := &store.Room{
		ID:        uuid.New().String(),
		Code:      code,
		CreatorID: creator.UserID,
		Status:    store.StatusWaiting,
		CreatedAt: time.Now(),
	}
	if err := s.store.CreateRoom(ctx, room); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStore, err)
	}
	admin := &store.Player{
		RoomID:   room.ID,
		UserID:   creator.UserID,
		ChatID:   creator.ChatID,
		Name:     creator.Name,
		Admin:    true,
		Awaiting: -1,
		JoinedAt: time.Now(),
	}
	if err := s.store.AddPlayer(ctx, admin); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStore, err)
	}
	log.Printf("[Game] Room %s created by %s\n", room.Code, creator.Name)
	s.updateLobby(ctx, room)
	return room, nil
}

// ReuseRoomCode re-creates a completed room under its old code with its
// old roster, for another play-through. Only the original creator may do
// this; prior answers stay with the old room.
func (s *Service) ReuseRoomCode(ctx context.Context, creator Identity, code string) (*store.Room, error) {
	prev, err := s.store.RoomByCode(ctx, normalizeCode(code))
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStore, err)
	}
	if prev.Status != store.StatusCompleted {
		return nil, ErrNotFound
	}
	if prev.CreatorID != creator.UserID {
		return nil, ErrNotAuthorized
	}
	if err := s.ensureNotInGame(ctx, creator.UserID); err != nil {
		return nil, err
	}
	roster, err := s.store.Players(ctx, prev.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStore, err)
	}

	room := &store.Room{
		ID:        uuid.New().String(),
		Code:      prev.Code,
		CreatorID: creator.UserID,
		Status:    store.StatusWaiting,
		CreatedAt: time.Now(),
	}
	if err := s.store.CreateRoom(ctx, room); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStore, err)
	}
	for _, p := range roster {
		cp := *p
		cp.RoomID = room.ID
		cp.Awaiting = -1
		if err := s.store.AddPlayer(ctx, &cp); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStore, err)
		}
	}
	log.Printf("[Game] Room %s reopened by %s with %d players\n", room.Code, creator.Name, len(roster))
	s.updateLobby(ctx, room)
	return room, nil
}

// Join adds the caller to the waiting room under code.
func (s *Service) Join(ctx context.Context, id Identity, code string) (*store.Room, error) {
	found, err := s.store.RoomByCode(ctx, normalizeCode(code))
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStore, err)
	}

	rs := s.state(found.ID)
	rs.mu.Lock()
	defer rs.mu.Unlock()

	room, err := s.store.RoomByID(ctx, found.ID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStore, err)
	}
	if room.Status.Terminal() {
		return nil, ErrNotFound
	}
	if room.Status != store.StatusWaiting {
		return nil, ErrRoomNotJoinable
	}
	if _, err := s.store.Player(ctx, room.ID, id.UserID); err == nil {
		return nil, ErrAlreadyJoined
	}
	if err := s.ensureNotInGame(ctx, id.UserID); err != nil {
		return nil, err
	}
	p := &store.Player{
		RoomID:   room.ID,
		UserID:   id.UserID,
		ChatID:   id.ChatID,
		Name:     id.Name,
		Awaiting: -1,
		JoinedAt: time.Now(),
	}
	if err := s.store.AddPlayer(ctx, p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStore, err)
	}
	log.Printf("[Game] %s joined room %s\n", id.Name, room.Code)
	s.updateLobbyLocked(ctx, room)
	return room, nil
}

// StartGame begins round zero. Admin only, needs at least two players.
func (s *Service) StartGame(ctx context.Context, id Identity) error {
	active, err := s.activeRoom(ctx, id.UserID)
	if err != nil {
		return err
	}
	rs := s.state(active.ID)
	rs.mu.Lock()
	defer rs.mu.Unlock()

	room, err := s.store.RoomByID(ctx, active.ID)
	if err != nil {
		return ErrNoActiveRoom
	}
	caller, err := s.store.Player(ctx, room.ID, id.UserID)
	if err != nil {
		return ErrNoActiveRoom
	}
	if !caller.Admin {
		return ErrNotAuthorized
	}
	roster, err := s.store.Players(ctx, room.ID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStore, err)
	}
	if len(roster) < 2 {
		return ErrNotEnoughPlayers
	}
	next, err := Transition(room.Status, EventStart)
	if err != nil {
		return err
	}
	room.Status = next
	room.Question = 0
	if err := s.store.UpdateRoom(ctx, room); err != nil {
		return fmt.Errorf("%w: %v", ErrStore, err)
	}
	log.Printf("[Game] Room %s started with %d players\n", room.Code, len(roster))
	s.updateLobbyLocked(ctx, room)
	return s.advanceLocked(ctx, rs, room)
}

// SubmitAnswer records a player's answer to the current question. When
// the last outstanding answer arrives the round advances; after the last
// question the stories are composed and delivered.
func (s *Service) SubmitAnswer(ctx context.Context, id Identity, text string) error {
	active, err := s.activeRoom(ctx, id.UserID)
	if err != nil {
		return err
	}
	rs := s.state(active.ID)
	rs.mu.Lock()
	defer rs.mu.Unlock()

	room, err := s.store.RoomByID(ctx, active.ID)
	if err != nil || room.Status.Terminal() {
		return ErrNoActiveRoom
	}
	if room.Status != store.StatusInProgress {
		return ErrNotAwaiting
	}
	player, err := s.store.Player(ctx, room.ID, id.UserID)
	if err != nil {
		return ErrNoActiveRoom
	}
	if player.Awaiting != room.Question {
		return ErrNotAwaiting
	}

	answer := &store.Answer{
		RoomID:   room.ID,
		Question: room.Question,
		UserID:   id.UserID,
		Text:     strings.TrimSpace(text),
	}
	if err := s.store.UpsertAnswer(ctx, answer); err != nil {
		return fmt.Errorf("%w: %v", ErrStore, err)
	}
	player.Awaiting = -1
	if id.Name != "" {
		player.Name = id.Name
	}
	if err := s.store.UpdatePlayer(ctx, player); err != nil {
		return fmt.Errorf("%w: %v", ErrStore, err)
	}
	rs.cancelTimer(id.UserID, room.Question)

	return s.maybeAdvanceLocked(ctx, rs, room)
}

// Leave removes the caller from their active room. An empty room is torn
// down; a departing admin hands the flag to the earliest-joined survivor.
// Returns the remaining roster.
func (s *Service) Leave(ctx context.Context, id Identity) ([]*store.Player, error) {
	active, err := s.activeRoom(ctx, id.UserID)
	if err != nil {
		return nil, err
	}
	rs := s.state(active.ID)
	rs.mu.Lock()
	defer rs.mu.Unlock()

	room, err := s.store.RoomByID(ctx, active.ID)
	if err != nil || room.Status.Terminal() {
		return nil, ErrNoActiveRoom
	}
	leaver, err := s.store.Player(ctx, room.ID, id.UserID)
	if err != nil {
		return nil, ErrNoActiveRoom
	}

	rs.cancelTimer(id.UserID, room.Question)
	if err := s.store.DeletePlayer(ctx, room.ID, id.UserID); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStore, err)
	}
	// A leaver's answers leave with them; orphan answers must not count
	// toward round completion or surface in anyone's story.
	if err := s.store.DeleteAnswersByPlayer(ctx, room.ID, id.UserID); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStore, err)
	}

	roster, err := s.store.Players(ctx, room.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStore, err)
	}
	if len(roster) == 0 {
		log.Printf("[Game] Room %s emptied, tearing down\n", room.Code)
		return nil, s.teardownLocked(ctx, rs, room)
	}
	if leaver.Admin {
		roster[0].Admin = true
		if err := s.store.UpdatePlayer(ctx, roster[0]); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStore, err)
		}
		log.Printf("[Game] Room %s admin passed to %s\n", room.Code, roster[0].Name)
	}
	if room.Status == store.StatusInProgress {
		// Roster shrink can be the event that completes the round.
		if err := s.maybeAdvanceLocked(ctx, rs, room); err != nil {
			return roster, err
		}
	}
	if !room.Status.Terminal() {
		s.updateLobbyLocked(ctx, room)
	}
	return roster, nil
}

// Reset tears down every non-terminal room the caller participates in,
// regardless of role. Returns how many rooms were closed.
func (s *Service) Reset(ctx context.Context, id Identity) (int, error) {
	rooms, err := s.store.RoomsByPlayer(ctx, id.UserID)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStore, err)
	}
	n := 0
	for _, room := range rooms {
		if room.Status.Terminal() {
			continue
		}
		if err := s.TeardownRoom(ctx, room.ID); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// Stats reports how many answers the caller has submitted across all
// rooms, past and present.
func (s *Service) Stats(ctx context.Context, id Identity) (int, error) {
	n, err := s.store.CountAnswersByUser(ctx, id.UserID)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStore, err)
	}
	return n, nil
}

// TeardownRoom cancels the room's timers, notifies participants, deletes
// roster, answers, and message bookkeeping, and marks the room terminal.
// Idempotent.
func (s *Service) TeardownRoom(ctx context.Context, roomID string) error {
	rs := s.state(roomID)
	rs.mu.Lock()
	defer rs.mu.Unlock()

	room, err := s.store.RoomByID(ctx, roomID)
	if errors.Is(err, store.ErrNotFound) {
		rs.cancelAllTimers()
		s.dropState(roomID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStore, err)
	}
	return s.teardownLocked(ctx, rs, room)
}

// --- internals, all called with rs.mu held ---

func (s *Service) teardownLocked(ctx context.Context, rs *roomState, room *store.Room) error {
	rs.cancelAllTimers()
	if !room.Status.Terminal() {
		if next, err := Transition(room.Status, EventReset); err == nil {
			room.Status = next
			if err := s.store.UpdateRoom(ctx, room); err != nil {
				return fmt.Errorf("%w: %v", ErrStore, err)
			}
		}
	}
	players, err := s.store.Players(ctx, room.ID)
	if err == nil {
		notice := fmt.Sprintf("Room %s was closed.", room.Code)
		s.broadcast(players, notice)
	}
	if err := s.store.DeletePlayers(ctx, room.ID); err != nil {
		return fmt.Errorf("%w: %v", ErrStore, err)
	}
	if err := s.store.DeleteAnswers(ctx, room.ID); err != nil {
		return fmt.Errorf("%w: %v", ErrStore, err)
	}
	if err := s.store.DeleteMessageRefs(ctx, room.ID); err != nil {
		return fmt.Errorf("%w: %v", ErrStore, err)
	}
	s.dropState(room.ID)
	return nil
}

// maybeAdvanceLocked re-evaluates round completion against the roster
// size right now, not the size at round start.
func (s *Service) maybeAdvanceLocked(ctx context.Context, rs *roomState, room *store.Room) error {
	count, err := s.store.CountAnswers(ctx, room.ID, room.Question)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStore, err)
	}
	roster, err := s.store.Players(ctx, room.ID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStore, err)
	}
	if count < len(roster) {
		return nil
	}
	rs.cancelAllTimers()
	room.Question++
	if err := s.store.UpdateRoom(ctx, room); err != nil {
		return fmt.Errorf("%w: %v", ErrStore, err)
	}
	return s.advanceLocked(ctx, rs, room)
}

// advanceLocked broadcasts the current question and arms one countdown
// per player, or composes the stories once every question is answered.
func (s *Service) advanceLocked(ctx context.Context, rs *roomState, room *store.Room) error {
	if room.Question >= len(s.questions) {
		return s.completeLocked(ctx, rs, room)
	}
	roster, err := s.store.Players(ctx, room.ID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStore, err)
	}
	for _, p := range roster {
		p.Awaiting = room.Question
		if err := s.store.UpdatePlayer(ctx, p); err != nil {
			return fmt.Errorf("%w: %v", ErrStore, err)
		}
	}
	prompt := fmt.Sprintf("Question %d of %d: %s", room.Question+1, len(s.questions), s.questions[room.Question])
	s.broadcast(roster, prompt)
	for _, p := range roster {
		rs.startTimer(s, room.ID, p.UserID, room.Question)
	}
	return nil
}

func (s *Service) completeLocked(ctx context.Context, rs *roomState, room *store.Room) error {
	rs.cancelAllTimers()
	next, err := Transition(room.Status, EventComplete)
	if err != nil {
		return err
	}
	room.Status = next
	if err := s.store.UpdateRoom(ctx, room); err != nil {
		return fmt.Errorf("%w: %v", ErrStore, err)
	}

	roster, err := s.store.Players(ctx, room.ID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStore, err)
	}
	submitted, err := s.store.Answers(ctx, room.ID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStore, err)
	}
	order := make([]int64, 0, len(roster))
	for _, p := range roster {
		order = append(order, p.UserID)
	}
	answers := make(map[AnswerKey]string, len(submitted))
	for _, a := range submitted {
		answers[AnswerKey{Question: a.Question, UserID: a.UserID}] = a.Text
	}
	narratives := Compose(order, answers, len(s.questions))
	log.Printf("[Game] Room %s completed, %d stories composed\n", room.Code, len(narratives))

	for i, p := range roster {
		text := fmt.Sprintf("The game in room %s is over. Your story:\n\n%s\n\nPlay again with the same group: /reuse %s", room.Code, narratives[i], room.Code)
		if _, err := s.gw.SendText(p.ChatID, text); err != nil {
			log.Printf("[Game] Story for %s undeliverable: %v\n", p.Name, err)
		}
	}
	s.updateLobbyLocked(ctx, room)
	s.dropState(room.ID)
	return nil
}

// onTimeout runs when a countdown fires. Ownership check first: a handle
// cancelled while this goroutine waited on rs.mu finds its key gone and
// backs off. A stale firing against a terminal or advanced room is a no-op.
func (s *Service) onTimeout(roomID string, userID int64, question int) {
	ctx := context.Background()
	rs := s.state(roomID)
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if _, ok := rs.timers[timerKey{userID: userID, question: question}]; !ok {
		return
	}
	delete(rs.timers, timerKey{userID: userID, question: question})

	room, err := s.store.RoomByID(ctx, roomID)
	if err != nil {
		log.Printf("[Game] Timeout for unknown room %s: %v\n", roomID, err)
		return
	}
	if room.Status.Terminal() || room.Question != question {
		return
	}
	next, err := Transition(room.Status, EventTimeout)
	if err != nil {
		return
	}
	rs.cancelAllTimers()
	room.Status = next
	if err := s.store.UpdateRoom(ctx, room); err != nil {
		log.Printf("[Game] Marking room %s aborted: %v\n", room.Code, err)
		return
	}

	roster, err := s.store.Players(ctx, roomID)
	if err != nil {
		log.Printf("[Game] Reading roster of aborted room %s: %v\n", room.Code, err)
		return
	}
	var idle []string
	for _, p := range roster {
		if p.Awaiting == question {
			idle = append(idle, p.Name)
		}
	}
	notice := fmt.Sprintf("The game in room %s was called off: no answer from %s in time.", room.Code, strings.Join(idle, ", "))
	s.broadcast(roster, notice)

	if err := s.store.DeletePlayers(ctx, roomID); err != nil {
		log.Printf("[Game] Clearing roster of aborted room %s: %v\n", room.Code, err)
	}
	if err := s.store.DeleteAnswers(ctx, roomID); err != nil {
		log.Printf("[Game] Clearing answers of aborted room %s: %v\n", room.Code, err)
	}
	if err := s.store.DeleteMessageRefs(ctx, roomID); err != nil {
		log.Printf("[Game] Clearing messages of aborted room %s: %v\n", room.Code, err)
	}
	s.dropState(roomID)
	log.Printf("[Game] Room %s aborted waiting on %s\n", room.Code, strings.Join(idle, ", "))
}

// broadcast delivers text to every roster member, skipping unreachable
// recipients so one blocked chat never halts the rest.
func (s *Service) broadcast(roster []*store.Player, text string) {
	for _, p := range roster {
		if _, err := s.gw.SendText(p.ChatID, text); err != nil {
			log.Printf("[Game] Delivery to %s failed: %v\n", p.Name, err)
		}
	}
}

func (s *Service) updateLobby(ctx context.Context, room *store.Room) {
	rs := s.state(room.ID)
	rs.mu.Lock()
	defer rs.mu.Unlock()
	s.updateLobbyLocked(ctx, room)
}

// updateLobbyLocked keeps one status message per participant current,
// editing the previously sent one when a reference is on record.
func (s *Service) updateLobbyLocked(ctx context.Context, room *store.Room) {
	roster, err := s.store.Players(ctx, room.ID)
	if err != nil {
		log.Printf("[Game] Lobby refresh for room %s: %v\n", room.Code, err)
		return
	}
	refs, err := s.store.MessageRefs(ctx, room.ID)
	if err != nil {
		log.Printf("[Game] Lobby refresh for room %s: %v\n", room.Code, err)
		return
	}
	byChat := make(map[int64]int, len(refs))
	for _, ref := range refs {
		if ref.Purpose == store.PurposeLobby {
			byChat[ref.ChatID] = ref.MessageID
		}
	}
	text := lobbyText(room, roster)
	for _, p := range roster {
		if msgID, ok := byChat[p.ChatID]; ok {
			if err := s.gw.EditText(p.ChatID, msgID, text); err != nil {
				log.Printf("[Game] Lobby edit for %s failed: %v\n", p.Name, err)
			}
			continue
		}
		msgID, err := s.gw.SendText(p.ChatID, text)
		if err != nil {
			log.Printf("[Game] Lobby message to %s failed: %v\n", p.Name, err)
			continue
		}
		ref := &store.MessageRef{RoomID: room.ID, ChatID: p.ChatID, MessageID: msgID, Purpose: store.PurposeLobby}
		if err := s.store.SaveMessageRef(ctx, ref); err != nil {
			log.Printf("[Game] Saving lobby message ref: %v\n", err)
		}
	}
}

func lobbyText(room *store.Room, roster []*store.Player) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Room %s — %s\n", room.Code, statusLine(room.Status))
	for _, p := range roster {
		if p.Admin {
			fmt.Fprintf(&b, "• %s (admin)\n", p.Name)
		} else {
			fmt.Fprintf(&b, "• %s\n", p.Name)
		}
	}
	if room.Status == store.StatusWaiting {
		fmt.Fprintf(&b, "\nFriends join with /join %s. The admin starts with /begin.", room.Code)
	}
	return b.String()
}

func statusLine(status store.RoomStatus) string {
	switch status {
	case store.StatusWaiting:
		return "waiting for players"
	case store.StatusInProgress:
		return "game in progress"
	case store.StatusCompleted:
		return "finished"
	case store.StatusAborted:
		return "called off"
	case store.StatusReset:
		return "closed"
	}
	return string(status)
}

func (s *Service) activeRoom(ctx context.Context, userID int64) (*store.Room, error) {
	rooms, err := s.store.RoomsByPlayer(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStore, err)
	}
	for i := len(rooms) - 1; i >= 0; i-- {
		if !rooms[i].Status.Terminal() {
			return rooms[i], nil
		}
	}
	return nil, ErrNoActiveRoom
}

func (s *Service) ensureNotInGame(ctx context.Context, userID int64) error {
	_, err := s.activeRoom(ctx, userID)
	if err == nil {
		return ErrAlreadyJoined
	}
	if errors.Is(err, ErrNoActiveRoom) {
		return nil
	}
	return err
}

func (s *Service) freeCode(ctx context.Context) (string, error) {
	// Try up to 10 times to generate a code with no live room behind it
	for i := 0; i < 10; i++ {
		code, err := GenerateCode()
		if err != nil {
			return "", fmt.Errorf("generating room code: %w", err)
		}
		existing, err := s.store.RoomByCode(ctx, code)
		if errors.Is(err, store.ErrNotFound) {
			return code, nil
		}
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrStore, err)
		}
		if existing.Status.Terminal() {
			return code, nil
		}
	}
	return "", fmt.Errorf("failed to generate unique room code after 10 attempts")
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
