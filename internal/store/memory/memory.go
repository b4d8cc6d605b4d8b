// Package memory is an in-memory Store used by tests and by dev runs
// without a database configured.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"storyfold/internal/store"
)

type Store struct {
	mu       sync.Mutex
	rooms    map[string]*store.Room
	players  map[string][]*store.Player // roomID -> join order
	answers  map[string][]*store.Answer // roomID
	messages map[string][]*store.MessageRef
}

func New() *Store {
	return &Store{
		rooms:    make(map[string]*store.Room),
		players:  make(map[string][]*store.Player),
		answers:  make(map[string][]*store.Answer),
		messages: make(map[string][]*store.MessageRef),
	}
}

func (s *Store) Close() error { return nil }

func (s *Store) CreateRoom(_ context.Context, room *store.Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *room
	s.rooms[room.ID] = &cp
	return nil
}

func (s *Store) RoomByID(_ context.Context, id string) (*store.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *room
	return &cp, nil
}

func (s *Store) RoomByCode(_ context.Context, code string) (*store.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *store.Room
	for _, room := range s.rooms {
		if room.Code != code {
			continue
		}
		if latest == nil || room.CreatedAt.After(latest.CreatedAt) {
			latest = room
		}
	}
	if latest == nil {
		return nil, store.ErrNotFound
	}
	cp := *latest
	return &cp, nil
}

func (s *Store) UpdateRoom(_ context.Context, room *store.Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[room.ID]; !ok {
		return store.ErrNotFound
	}
	cp := *room
	s.rooms[room.ID] = &cp
	return nil
}

func (s *Store) DeleteRoom(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rooms, id)
	return nil
}

func (s *Store) AddPlayer(_ context.Context, p *store.Player) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.players[p.RoomID] = append(s.players[p.RoomID], &cp)
	return nil
}

func (s *Store) Player(_ context.Context, roomID string, userID int64) (*store.Player, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.players[roomID] {
		if p.UserID == userID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) Players(_ context.Context, roomID string) ([]*store.Player, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := make([]*store.Player, 0, len(s.players[roomID]))
	for _, p := range s.players[roomID] {
		cp := *p
		list = append(list, &cp)
	}
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].JoinedAt.Before(list[j].JoinedAt)
	})
	return list, nil
}

func (s *Store) UpdatePlayer(_ context.Context, p *store.Player) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.players[p.RoomID] {
		if existing.UserID == p.UserID {
			cp := *p
			s.players[p.RoomID][i] = &cp
			return nil
		}
	}
	return store.ErrNotFound
}

func (s *Store) DeletePlayer(_ context.Context, roomID string, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.players[roomID]
	for i, p := range list {
		if p.UserID == userID {
			s.players[roomID] = append(list[:i:i], list[i+1:]...)
			return nil
		}
	}
	return nil
}

func (s *Store) DeletePlayers(_ context.Context, roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.players, roomID)
	return nil
}

func (s *Store) RoomsByPlayer(_ context.Context, userID int64) ([]*store.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var rooms []*store.Room
	for roomID, list := range s.players {
		for _, p := range list {
			if p.UserID != userID {
				continue
			}
			if room, ok := s.rooms[roomID]; ok {
				cp := *room
				rooms = append(rooms, &cp)
			}
			break
		}
	}
	sort.Slice(rooms, func(i, j int) bool {
		return rooms[i].CreatedAt.Before(rooms[j].CreatedAt)
	})
	return rooms, nil
}

func (s *Store) UpsertAnswer(_ context.Context, a *store.Answer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.answers[a.RoomID] {
		if existing.Question == a.Question && existing.UserID == a.UserID {
			cp := *a
			s.answers[a.RoomID][i] = &cp
			return nil
		}
	}
	cp := *a
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	s.answers[a.RoomID] = append(s.answers[a.RoomID], &cp)
	return nil
}

func (s *Store) Answers(_ context.Context, roomID string) ([]*store.Answer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := make([]*store.Answer, 0, len(s.answers[roomID]))
	for _, a := range s.answers[roomID] {
		cp := *a
		list = append(list, &cp)
	}
	return list, nil
}

func (s *Store) CountAnswers(_ context.Context, roomID string, question int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, a := range s.answers[roomID] {
		if a.Question == question {
			count++
		}
	}
	return count, nil
}

func (s *Store) CountAnswersByUser(_ context.Context, userID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, list := range s.answers {
		for _, a := range list {
			if a.UserID == userID {
				count++
			}
		}
	}
	return count, nil
}

func (s *Store) DeleteAnswers(_ context.Context, roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.answers, roomID)
	return nil
}

func (s *Store) DeleteAnswersByPlayer(_ context.Context, roomID string, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.answers[roomID]
	kept := list[:0]
	for _, a := range list {
		if a.UserID != userID {
			kept = append(kept, a)
		}
	}
	s.answers[roomID] = kept
	return nil
}

func (s *Store) SaveMessageRef(_ context.Context, ref *store.MessageRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *ref
	s.messages[ref.RoomID] = append(s.messages[ref.RoomID], &cp)
	return nil
}

func (s *Store) MessageRefs(_ context.Context, roomID string) ([]*store.MessageRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := make([]*store.MessageRef, 0, len(s.messages[roomID]))
	for _, ref := range s.messages[roomID] {
		cp := *ref
		list = append(list, &cp)
	}
	return list, nil
}

func (s *Store) DeleteMessageRefs(_ context.Context, roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.messages, roomID)
	return nil
}
