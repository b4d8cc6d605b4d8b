// Package postgres is the PostgreSQL-backed Store.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log"

	_ "github.com/lib/pq"

	"storyfold/internal/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type Store struct {
	conn *sql.DB
}

func Connect(dsn string) (*Store, error) {
	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	log.Println("[DB] Connected to PostgreSQL")
	s := &Store{conn: conn}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.conn.Close() }

func (s *Store) migrate() error {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations dir: %w", err)
	}
	for _, entry := range entries {
		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}
		if _, err := s.conn.Exec(string(content)); err != nil {
			return fmt.Errorf("executing migration %s: %w", entry.Name(), err)
		}
		log.Printf("[DB] Applied migration: %s\n", entry.Name())
	}
	return nil
}

func (s *Store) CreateRoom(ctx context.Context, room *store.Room) error {
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO rooms (id, code, creator_id, status, question, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, room.ID, room.Code, room.CreatorID, room.Status, room.Question, room.CreatedAt)
	if err != nil {
		return fmt.Errorf("creating room: %w", err)
	}
	return nil
}

func (s *Store) scanRoom(row *sql.Row) (*store.Room, error) {
	var room store.Room
	err := row.Scan(&room.ID, &room.Code, &room.CreatorID, &room.Status, &room.Question, &room.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning room: %w", err)
	}
	return &room, nil
}

func (s *Store) RoomByID(ctx context.Context, id string) (*store.Room, error) {
	return s.scanRoom(s.conn.QueryRowContext(ctx, `
		SELECT id, code, creator_id, status, question, created_at
		FROM rooms WHERE id = $1
	`, id))
}

func (s *Store) RoomByCode(ctx context.Context, code string) (*store.Room, error) {
	return s.scanRoom(s.conn.QueryRowContext(ctx, `
		SELECT id, code, creator_id, status, question, created_at
		FROM rooms WHERE code = $1
		ORDER BY created_at DESC LIMIT 1
	`, code))
}

func (s *Store) UpdateRoom(ctx context.Context, room *store.Room) error {
	res, err := s.conn.ExecContext(ctx, `
		UPDATE rooms SET status = $2, question = $3 WHERE id = $1
	`, room.ID, room.Status, room.Question)
	if err != nil {
		return fmt.Errorf("updating room: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteRoom(ctx context.Context, id string) error {
	if _, err := s.conn.ExecContext(ctx, `DELETE FROM rooms WHERE id = $1`, id); err != nil {
		return fmt.Errorf("deleting room: %w", err)
	}
	return nil
}

func (s *Store) AddPlayer(ctx context.Context, p *store.Player) error {
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO players (room_id, user_id, chat_id, name, is_admin, awaiting, joined_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, p.RoomID, p.UserID, p.ChatID, p.Name, p.Admin, p.Awaiting, p.JoinedAt)
	if err != nil {
		return fmt.Errorf("adding player: %w", err)
	}
	return nil
}

func (s *Store) Player(ctx context.Context, roomID string, userID int64) (*store.Player, error) {
	var p store.Player
	err := s.conn.QueryRowContext(ctx, `
		SELECT room_id, user_id, chat_id, name, is_admin, awaiting, joined_at
		FROM players WHERE room_id = $1 AND user_id = $2
	`, roomID, userID).Scan(&p.RoomID, &p.UserID, &p.ChatID, &p.Name, &p.Admin, &p.Awaiting, &p.JoinedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning player: %w", err)
	}
	return &p, nil
}

func (s *Store) Players(ctx context.Context, roomID string) ([]*store.Player, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT room_id, user_id, chat_id, name, is_admin, awaiting, joined_at
		FROM players WHERE room_id = $1
		ORDER BY joined_at ASC
	`, roomID)
	if err != nil {
		return nil, fmt.Errorf("querying players: %w", err)
	}
	defer rows.Close()

	var list []*store.Player
	for rows.Next() {
		var p store.Player
		if err := rows.Scan(&p.RoomID, &p.UserID, &p.ChatID, &p.Name, &p.Admin, &p.Awaiting, &p.JoinedAt); err != nil {
			return nil, fmt.Errorf("scanning player: %w", err)
		}
		list = append(list, &p)
	}
	return list, rows.Err()
}

func (s *Store) UpdatePlayer(ctx context.Context, p *store.Player) error {
	res, err := s.conn.ExecContext(ctx, `
		UPDATE players SET name = $3, is_admin = $4, awaiting = $5
		WHERE room_id = $1 AND user_id = $2
	`, p.RoomID, p.UserID, p.Name, p.Admin, p.Awaiting)
	if err != nil {
		return fmt.Errorf("updating player: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) DeletePlayer(ctx context.Context, roomID string, userID int64) error {
	if _, err := s.conn.ExecContext(ctx, `
		DELETE FROM players WHERE room_id = $1 AND user_id = $2
	`, roomID, userID); err != nil {
		return fmt.Errorf("deleting player: %w", err)
	}
	return nil
}

func (s *Store) DeletePlayers(ctx context.Context, roomID string) error {
	if _, err := s.conn.ExecContext(ctx, `DELETE FROM players WHERE room_id = $1`, roomID); err != nil {
		return fmt.Errorf("deleting players: %w", err)
	}
	return nil
}

func (s *Store) RoomsByPlayer(ctx context.Context, userID int64) ([]*store.Room, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT r.id, r.code, r.creator_id, r.status, r.question, r.created_at
		FROM rooms r JOIN players p ON p.room_id = r.id
		WHERE p.user_id = $1
		ORDER BY r.created_at ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("querying rooms by player: %w", err)
	}
	defer rows.Close()

	var list []*store.Room
	for rows.Next() {
		var room store.Room
		if err := rows.Scan(&room.ID, &room.Code, &room.CreatorID, &room.Status, &room.Question, &room.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning room: %w", err)
		}
		list = append(list, &room)
	}
	return list, rows.Err()
}

func (s *Store) UpsertAnswer(ctx context.Context, a *store.Answer) error {
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO answers (room_id, question, user_id, answer_text)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (room_id, question, user_id) DO UPDATE SET answer_text = $4
	`, a.RoomID, a.Question, a.UserID, a.Text)
	if err != nil {
		return fmt.Errorf("upserting answer: %w", err)
	}
	return nil
}

func (s *Store) Answers(ctx context.Context, roomID string) ([]*store.Answer, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT room_id, question, user_id, answer_text, created_at
		FROM answers WHERE room_id = $1
	`, roomID)
	if err != nil {
		return nil, fmt.Errorf("querying answers: %w", err)
	}
	defer rows.Close()

	var list []*store.Answer
	for rows.Next() {
		var a store.Answer
		if err := rows.Scan(&a.RoomID, &a.Question, &a.UserID, &a.Text, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning answer: %w", err)
		}
		list = append(list, &a)
	}
	return list, rows.Err()
}

func (s *Store) CountAnswers(ctx context.Context, roomID string, question int) (int, error) {
	var count int
	err := s.conn.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM answers WHERE room_id = $1 AND question = $2
	`, roomID, question).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting answers: %w", err)
	}
	return count, nil
}

func (s *Store) CountAnswersByUser(ctx context.Context, userID int64) (int, error) {
	var count int
	err := s.conn.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM answers WHERE user_id = $1
	`, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting answers by user: %w", err)
	}
	return count, nil
}

func (s *Store) DeleteAnswers(ctx context.Context, roomID string) error {
	if _, err := s.conn.ExecContext(ctx, `DELETE FROM answers WHERE room_id = $1`, roomID); err != nil {
		return fmt.Errorf("deleting answers: %w", err)
	}
	return nil
}

func (s *Store) DeleteAnswersByPlayer(ctx context.Context, roomID string, userID int64) error {
	if _, err := s.conn.ExecContext(ctx, `
		DELETE FROM answers WHERE room_id = $1 AND user_id = $2
	`, roomID, userID); err != nil {
		return fmt.Errorf("deleting answers by player: %w", err)
	}
	return nil
}

func (s *Store) SaveMessageRef(ctx context.Context, ref *store.MessageRef) error {
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO message_refs (room_id, chat_id, message_id, purpose)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (room_id, chat_id, purpose) DO UPDATE SET message_id = $3
	`, ref.RoomID, ref.ChatID, ref.MessageID, ref.Purpose)
	if err != nil {
		return fmt.Errorf("saving message ref: %w", err)
	}
	return nil
}

func (s *Store) MessageRefs(ctx context.Context, roomID string) ([]*store.MessageRef, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT room_id, chat_id, message_id, purpose
		FROM message_refs WHERE room_id = $1
	`, roomID)
	if err != nil {
		return nil, fmt.Errorf("querying message refs: %w", err)
	}
	defer rows.Close()

	var list []*store.MessageRef
	for rows.Next() {
		var ref store.MessageRef
		if err := rows.Scan(&ref.RoomID, &ref.ChatID, &ref.MessageID, &ref.Purpose); err != nil {
			return nil, fmt.Errorf("scanning message ref: %w", err)
		}
		list = append(list, &ref)
	}
	return list, rows.Err()
}

func (s *Store) DeleteMessageRefs(ctx context.Context, roomID string) error {
	if _, err := s.conn.ExecContext(ctx, `DELETE FROM message_refs WHERE room_id = $1`, roomID); err != nil {
		return fmt.Errorf("deleting message refs: %w", err)
	}
	return nil
}
