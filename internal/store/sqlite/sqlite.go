// Package sqlite is the SQLite-backed Store, for single-host deployments
// that do not run PostgreSQL.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"storyfold/internal/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type Store struct {
	conn *sql.DB
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// Open opens (or creates) the database file and applies embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000"
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("pinging sqlite db: %w", err)
	}
	log.Println("[DB] Connected to SQLite")
	s := &Store{conn: conn}
	if err := s.migrate(); err != nil {
		conn.Close()
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
		INSERT INTO rooms (id, code, creator_id, status, question, created_at_ms)
		VALUES (?, ?, ?, ?, ?, ?)
	`, room.ID, room.Code, room.CreatorID, room.Status, room.Question, toMillis(room.CreatedAt))
	if err != nil {
		return fmt.Errorf("creating room: %w", err)
	}
	return nil
}

func scanRoom(row *sql.Row) (*store.Room, error) {
	var room store.Room
	var createdMs int64
	err := row.Scan(&room.ID, &room.Code, &room.CreatorID, &room.Status, &room.Question, &createdMs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning room: %w", err)
	}
	room.CreatedAt = fromMillis(createdMs)
	return &room, nil
}

func (s *Store) RoomByID(ctx context.Context, id string) (*store.Room, error) {
	return scanRoom(s.conn.QueryRowContext(ctx, `
		SELECT id, code, creator_id, status, question, created_at_ms
		FROM rooms WHERE id = ?
	`, id))
}

func (s *Store) RoomByCode(ctx context.Context, code string) (*store.Room, error) {
	return scanRoom(s.conn.QueryRowContext(ctx, `
		SELECT id, code, creator_id, status, question, created_at_ms
		FROM rooms WHERE code = ?
		ORDER BY created_at_ms DESC LIMIT 1
	`, code))
}

func (s *Store) UpdateRoom(ctx context.Context, room *store.Room) error {
	res, err := s.conn.ExecContext(ctx, `
		UPDATE rooms SET status = ?, question = ? WHERE id = ?
	`, room.Status, room.Question, room.ID)
	if err != nil {
		return fmt.Errorf("updating room: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteRoom(ctx context.Context, id string) error {
	if _, err := s.conn.ExecContext(ctx, `DELETE FROM rooms WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting room: %w", err)
	}
	return nil
}

func (s *Store) AddPlayer(ctx context.Context, p *store.Player) error {
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO players (room_id, user_id, chat_id, name, is_admin, awaiting, joined_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, p.RoomID, p.UserID, p.ChatID, p.Name, p.Admin, p.Awaiting, toMillis(p.JoinedAt))
	if err != nil {
		return fmt.Errorf("adding player: %w", err)
	}
	return nil
}

func (s *Store) Player(ctx context.Context, roomID string, userID int64) (*store.Player, error) {
	var p store.Player
	var joinedMs int64
	err := s.conn.QueryRowContext(ctx, `
		SELECT room_id, user_id, chat_id, name, is_admin, awaiting, joined_at_ms
		FROM players WHERE room_id = ? AND user_id = ?
	`, roomID, userID).Scan(&p.RoomID, &p.UserID, &p.ChatID, &p.Name, &p.Admin, &p.Awaiting, &joinedMs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning player: %w", err)
	}
	p.JoinedAt = fromMillis(joinedMs)
	return &p, nil
}

func (s *Store) Players(ctx context.Context, roomID string) ([]*store.Player, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT room_id, user_id, chat_id, name, is_admin, awaiting, joined_at_ms
		FROM players WHERE room_id = ?
		ORDER BY joined_at_ms ASC
	`, roomID)
	if err != nil {
		return nil, fmt.Errorf("querying players: %w", err)
	}
	defer rows.Close()

	var list []*store.Player
	for rows.Next() {
		var p store.Player
		var joinedMs int64
		if err := rows.Scan(&p.RoomID, &p.UserID, &p.ChatID, &p.Name, &p.Admin, &p.Awaiting, &joinedMs); err != nil {
			return nil, fmt.Errorf("scanning player: %w", err)
		}
		p.JoinedAt = fromMillis(joinedMs)
		list = append(list, &p)
	}
	return list, rows.Err()
}

func (s *Store) UpdatePlayer(ctx context.Context, p *store.Player) error {
	res, err := s.conn.ExecContext(ctx, `
		UPDATE players SET name = ?, is_admin = ?, awaiting = ?
		WHERE room_id = ? AND user_id = ?
	`, p.Name, p.Admin, p.Awaiting, p.RoomID, p.UserID)
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
		DELETE FROM players WHERE room_id = ? AND user_id = ?
	`, roomID, userID); err != nil {
		return fmt.Errorf("deleting player: %w", err)
	}
	return nil
}

func (s *Store) DeletePlayers(ctx context.Context, roomID string) error {
	if _, err := s.conn.ExecContext(ctx, `DELETE FROM players WHERE room_id = ?`, roomID); err != nil {
		return fmt.Errorf("deleting players: %w", err)
	}
	return nil
}

func (s *Store) RoomsByPlayer(ctx context.Context, userID int64) ([]*store.Room, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT r.id, r.code, r.creator_id, r.status, r.question, r.created_at_ms
		FROM rooms r JOIN players p ON p.room_id = r.id
		WHERE p.user_id = ?
		ORDER BY r.created_at_ms ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("querying rooms by player: %w", err)
	}
	defer rows.Close()

	var list []*store.Room
	for rows.Next() {
		var room store.Room
		var createdMs int64
		if err := rows.Scan(&room.ID, &room.Code, &room.CreatorID, &room.Status, &room.Question, &createdMs); err != nil {
			return nil, fmt.Errorf("scanning room: %w", err)
		}
		room.CreatedAt = fromMillis(createdMs)
		list = append(list, &room)
	}
	return list, rows.Err()
}

func (s *Store) UpsertAnswer(ctx context.Context, a *store.Answer) error {
	createdAt := a.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO answers (room_id, question, user_id, answer_text, created_at_ms)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (room_id, question, user_id) DO UPDATE SET answer_text = excluded.answer_text
	`, a.RoomID, a.Question, a.UserID, a.Text, toMillis(createdAt))
	if err != nil {
		return fmt.Errorf("upserting answer: %w", err)
	}
	return nil
}

func (s *Store) Answers(ctx context.Context, roomID string) ([]*store.Answer, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT room_id, question, user_id, answer_text, created_at_ms
		FROM answers WHERE room_id = ?
	`, roomID)
	if err != nil {
		return nil, fmt.Errorf("querying answers: %w", err)
	}
	defer rows.Close()

	var list []*store.Answer
	for rows.Next() {
		var a store.Answer
		var createdMs int64
		if err := rows.Scan(&a.RoomID, &a.Question, &a.UserID, &a.Text, &createdMs); err != nil {
			return nil, fmt.Errorf("scanning answer: %w", err)
		}
		a.CreatedAt = fromMillis(createdMs)
		list = append(list, &a)
	}
	return list, rows.Err()
}

func (s *Store) CountAnswers(ctx context.Context, roomID string, question int) (int, error) {
	var count int
	err := s.conn.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM answers WHERE room_id = ? AND question = ?
	`, roomID, question).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting answers: %w", err)
	}
	return count, nil
}

func (s *Store) CountAnswersByUser(ctx context.Context, userID int64) (int, error) {
	var count int
	err := s.conn.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM answers WHERE user_id = ?
	`, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting answers by user: %w", err)
	}
	return count, nil
}

func (s *Store) DeleteAnswers(ctx context.Context, roomID string) error {
	if _, err := s.conn.ExecContext(ctx, `DELETE FROM answers WHERE room_id = ?`, roomID); err != nil {
		return fmt.Errorf("deleting answers: %w", err)
	}
	return nil
}

func (s *Store) DeleteAnswersByPlayer(ctx context.Context, roomID string, userID int64) error {
	if _, err := s.conn.ExecContext(ctx, `
		DELETE FROM answers WHERE room_id = ? AND user_id = ?
	`, roomID, userID); err != nil {
		return fmt.Errorf("deleting answers by player: %w", err)
	}
	return nil
}

func (s *Store) SaveMessageRef(ctx context.Context, ref *store.MessageRef) error {
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO message_refs (room_id, chat_id, message_id, purpose)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (room_id, chat_id, purpose) DO UPDATE SET message_id = excluded.message_id
	`, ref.RoomID, ref.ChatID, ref.MessageID, ref.Purpose)
	if err != nil {
		return fmt.Errorf("saving message ref: %w", err)
	}
	return nil
}

func (s *Store) MessageRefs(ctx context.Context, roomID string) ([]*store.MessageRef, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT room_id, chat_id, message_id, purpose
		FROM message_refs WHERE room_id = ?
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
	if _, err := s.conn.ExecContext(ctx, `DELETE FROM message_refs WHERE room_id = ?`, roomID); err != nil {
		return fmt.Errorf("deleting message refs: %w", err)
	}
	return nil
}
