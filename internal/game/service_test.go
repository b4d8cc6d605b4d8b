package game

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"storyfold/internal/gateway"
	"storyfold/internal/store"
	"storyfold/internal/store/memory"
)

type message struct {
	chatID int64
	text   string
}

type fakeGateway struct {
	mu          sync.Mutex
	nextID      int
	sent        []message
	edited      []message
	unreachable map[int64]bool
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{unreachable: make(map[int64]bool)}
}

func (g *fakeGateway) SendText(chatID int64, text string, _ ...gateway.Button) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.unreachable[chatID] {
		return 0, gateway.ErrUnreachable
	}
	g.nextID++
	g.sent = append(g.sent, message{chatID: chatID, text: text})
	return g.nextID, nil
}

func (g *fakeGateway) EditText(chatID int64, _ int, text string, _ ...gateway.Button) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.unreachable[chatID] {
		return gateway.ErrUnreachable
	}
	g.edited = append(g.edited, message{chatID: chatID, text: text})
	return nil
}

// countSent returns how many delivered messages to chatID contain substr.
func (g *fakeGateway) countSent(chatID int64, substr string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, m := range g.sent {
		if m.chatID == chatID && strings.Contains(m.text, substr) {
			n++
		}
	}
	return n
}

var (
	alice = Identity{UserID: 1, ChatID: 11, Name: "Alice"}
	bob   = Identity{UserID: 2, ChatID: 22, Name: "Bob"}
	cara  = Identity{UserID: 3, ChatID: 33, Name: "Cara"}
)

func newTestService(questions []string, timeout time.Duration) (*Service, *fakeGateway, store.Store) {
	gw := newFakeGateway()
	st := memory.New()
	return NewService(st, gw, questions, timeout), gw, st
}

func startedRoom(t *testing.T, svc *Service, players ...Identity) *store.Room {
	t.Helper()
	ctx := context.Background()
	room, err := svc.CreateRoom(ctx, players[0])
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range players[1:] {
		if _, err := svc.Join(ctx, p, room.Code); err != nil {
			t.Fatal(err)
		}
	}
	if err := svc.StartGame(ctx, players[0]); err != nil {
		t.Fatal(err)
	}
	return room
}

func roomStatus(t *testing.T, st store.Store, roomID string) store.RoomStatus {
	t.Helper()
	room, err := st.RoomByID(context.Background(), roomID)
	if err != nil {
		t.Fatal(err)
	}
	return room.Status
}

func waitForStatus(t *testing.T, st store.Store, roomID string, want store.RoomStatus) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if roomStatus(t, st, roomID) == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("room never reached status %s, stuck at %s", want, roomStatus(t, st, roomID))
}

func TestCreateRoom(t *testing.T) {
	svc, gw, st := newTestService(nil, time.Minute)
	ctx := context.Background()

	room, err := svc.CreateRoom(ctx, alice)
	if err != nil {
		t.Fatal(err)
	}
	if len(room.Code) != 4 {
		t.Errorf("code %q should be 4 characters", room.Code)
	}
	if room.Status != store.StatusWaiting {
		t.Errorf("status = %s, want waiting", room.Status)
	}

	roster, err := st.Players(ctx, room.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(roster) != 1 || !roster[0].Admin {
		t.Fatalf("creator should be the sole admin, got %+v", roster)
	}
	if gw.countSent(alice.ChatID, "Room "+room.Code) == 0 {
		t.Error("creator never received a lobby message")
	}
}

func TestCreateRoom_WhileInGame(t *testing.T) {
	svc, _, _ := newTestService(nil, time.Minute)
	ctx := context.Background()
	if _, err := svc.CreateRoom(ctx, alice); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.CreateRoom(ctx, alice); !errors.Is(err, ErrAlreadyJoined) {
		t.Errorf("second CreateRoom error = %v, want ErrAlreadyJoined", err)
	}
}

func TestJoin(t *testing.T) {
	svc, _, st := newTestService(nil, time.Minute)
	ctx := context.Background()
	room, _ := svc.CreateRoom(ctx, alice)

	if _, err := svc.Join(ctx, bob, strings.ToLower(room.Code)); err != nil {
		t.Fatalf("join with lowercased code: %v", err)
	}
	if _, err := svc.Join(ctx, bob, room.Code); !errors.Is(err, ErrAlreadyJoined) {
		t.Errorf("rejoin error = %v, want ErrAlreadyJoined", err)
	}
	if _, err := svc.Join(ctx, cara, "ZZZZ"); !errors.Is(err, ErrNotFound) {
		t.Errorf("bad code error = %v, want ErrNotFound", err)
	}

	roster, _ := st.Players(ctx, room.ID)
	if len(roster) != 2 {
		t.Fatalf("roster size = %d, want 2", len(roster))
	}
}

func TestJoin_AfterStart(t *testing.T) {
	svc, _, _ := newTestService([]string{"Who?"}, time.Minute)
	room := startedRoom(t, svc, alice, bob)
	if _, err := svc.Join(context.Background(), cara, room.Code); !errors.Is(err, ErrRoomNotJoinable) {
		t.Errorf("join after start error = %v, want ErrRoomNotJoinable", err)
	}
}

func TestStartGame_Guards(t *testing.T) {
	svc, _, _ := newTestService(nil, time.Minute)
	ctx := context.Background()
	room, _ := svc.CreateRoom(ctx, alice)

	if err := svc.StartGame(ctx, alice); !errors.Is(err, ErrNotEnoughPlayers) {
		t.Errorf("solo start error = %v, want ErrNotEnoughPlayers", err)
	}
	if _, err := svc.Join(ctx, bob, room.Code); err != nil {
		t.Fatal(err)
	}
	if err := svc.StartGame(ctx, bob); !errors.Is(err, ErrNotAuthorized) {
		t.Errorf("non-admin start error = %v, want ErrNotAuthorized", err)
	}
	if err := svc.StartGame(ctx, alice); err != nil {
		t.Fatalf("admin start: %v", err)
	}
	if err := svc.StartGame(ctx, alice); err == nil {
		t.Error("double start should fail")
	}
}

func TestStartGame_BroadcastsFirstQuestion(t *testing.T) {
	svc, gw, st := newTestService([]string{"Who?", "Where?"}, time.Minute)
	room := startedRoom(t, svc, alice, bob)

	for _, id := range []Identity{alice, bob} {
		if gw.countSent(id.ChatID, "Question 1 of 2: Who?") != 1 {
			t.Errorf("%s did not get the first prompt exactly once", id.Name)
		}
		p, err := st.Player(context.Background(), room.ID, id.UserID)
		if err != nil {
			t.Fatal(err)
		}
		if p.Awaiting != 0 {
			t.Errorf("%s awaiting = %d, want 0", id.Name, p.Awaiting)
		}
	}
}

func TestSubmitAnswer_FullGame(t *testing.T) {
	svc, gw, st := newTestService([]string{"Who?", "Where?"}, time.Minute)
	ctx := context.Background()
	room := startedRoom(t, svc, alice, bob, cara)

	answers := map[int][3]string{
		0: {"Alice", "Bob", "Cara"},
		1: {"Paris", "Rome", "Oslo"},
	}
	for q := 0; q < 2; q++ {
		for i, id := range []Identity{alice, bob, cara} {
			if err := svc.SubmitAnswer(ctx, id, answers[q][i]); err != nil {
				t.Fatalf("question %d answer from %s: %v", q, id.Name, err)
			}
		}
	}

	if got := roomStatus(t, st, room.ID); got != store.StatusCompleted {
		t.Fatalf("status = %s, want completed", got)
	}
	// Rotation per the fixed join order: Alice gets "Alice Rome",
	// Bob "Bob Oslo", Cara "Cara Paris".
	for id, want := range map[Identity]string{alice: "Alice Rome", bob: "Bob Oslo", cara: "Cara Paris"} {
		if gw.countSent(id.ChatID, want) != 1 {
			t.Errorf("%s did not receive story %q", id.Name, want)
		}
	}
}

func TestSubmitAnswer_Resubmission(t *testing.T) {
	svc, _, st := newTestService([]string{"Who?", "Where?"}, time.Minute)
	ctx := context.Background()
	room := startedRoom(t, svc, alice, bob)

	if err := svc.SubmitAnswer(ctx, alice, "first"); err != nil {
		t.Fatal(err)
	}
	// Alice already answered: a second message is a UX no-op.
	if err := svc.SubmitAnswer(ctx, alice, "second"); !errors.Is(err, ErrNotAwaiting) {
		t.Errorf("repeat answer error = %v, want ErrNotAwaiting", err)
	}
	all, _ := st.Answers(ctx, room.ID)
	if len(all) != 1 || all[0].Text != "first" {
		t.Errorf("stored answers = %+v, want the single first answer", all)
	}
}

func TestSubmitAnswer_NotInGame(t *testing.T) {
	svc, _, _ := newTestService(nil, time.Minute)
	if err := svc.SubmitAnswer(context.Background(), alice, "hello"); !errors.Is(err, ErrNoActiveRoom) {
		t.Errorf("error = %v, want ErrNoActiveRoom", err)
	}
}

func TestSubmitAnswer_BeforeStart(t *testing.T) {
	svc, _, _ := newTestService(nil, time.Minute)
	ctx := context.Background()
	if _, err := svc.CreateRoom(ctx, alice); err != nil {
		t.Fatal(err)
	}
	if err := svc.SubmitAnswer(ctx, alice, "hello"); !errors.Is(err, ErrNotAwaiting) {
		t.Errorf("error = %v, want ErrNotAwaiting", err)
	}
}

func TestLeave_AdminSuccession(t *testing.T) {
	svc, _, st := newTestService(nil, time.Minute)
	ctx := context.Background()
	room, _ := svc.CreateRoom(ctx, alice)
	svc.Join(ctx, bob, room.Code)
	svc.Join(ctx, cara, room.Code)

	roster, err := svc.Leave(ctx, alice)
	if err != nil {
		t.Fatal(err)
	}
	if len(roster) != 2 {
		t.Fatalf("roster size = %d, want 2", len(roster))
	}

	admins := 0
	roster, _ = st.Players(ctx, room.ID)
	for _, p := range roster {
		if p.Admin {
			admins++
			if p.UserID != bob.UserID {
				t.Errorf("admin went to %s, want earliest-joined Bob", p.Name)
			}
		}
	}
	if admins != 1 {
		t.Errorf("roster has %d admins, want exactly 1", admins)
	}
}

func TestLeave_LastPlayerTearsDown(t *testing.T) {
	svc, _, st := newTestService(nil, time.Minute)
	ctx := context.Background()
	room, _ := svc.CreateRoom(ctx, alice)

	if _, err := svc.Leave(ctx, alice); err != nil {
		t.Fatal(err)
	}
	if got := roomStatus(t, st, room.ID); !got.Terminal() {
		t.Errorf("emptied room status = %s, want terminal", got)
	}
	// The code is free again: joining it finds nothing live, and the
	// same creator can immediately open a new room.
	if _, err := svc.Join(ctx, bob, room.Code); !errors.Is(err, ErrNotFound) {
		t.Errorf("join on dead code error = %v, want ErrNotFound", err)
	}
	if _, err := svc.CreateRoom(ctx, alice); err != nil {
		t.Errorf("creator should be free to open a new room: %v", err)
	}
}

func TestLeave_MidRoundCompletesRound(t *testing.T) {
	svc, gw, _ := newTestService([]string{"Who?", "Where?"}, time.Minute)
	ctx := context.Background()
	startedRoom(t, svc, alice, bob, cara)

	if err := svc.SubmitAnswer(ctx, alice, "Alice"); err != nil {
		t.Fatal(err)
	}
	if err := svc.SubmitAnswer(ctx, bob, "Bob"); err != nil {
		t.Fatal(err)
	}
	// Cara never answers but leaves: the two answers on file now cover
	// the whole roster and the round must advance.
	if _, err := svc.Leave(ctx, cara); err != nil {
		t.Fatal(err)
	}
	for _, id := range []Identity{alice, bob} {
		if gw.countSent(id.ChatID, "Question 2 of 2") != 1 {
			t.Errorf("%s never saw round 2 after the roster shrank", id.Name)
		}
	}
}

func TestTimeout_AbortsRoom(t *testing.T) {
	svc, gw, st := newTestService([]string{"Who?"}, 50*time.Millisecond)
	ctx := context.Background()
	room := startedRoom(t, svc, alice, bob, cara)

	// Alice and Cara answer; Bob goes silent.
	if err := svc.SubmitAnswer(ctx, alice, "Alice"); err != nil {
		t.Fatal(err)
	}
	if err := svc.SubmitAnswer(ctx, cara, "Cara"); err != nil {
		t.Fatal(err)
	}

	waitForStatus(t, st, room.ID, store.StatusAborted)

	for _, id := range []Identity{alice, bob, cara} {
		if n := gw.countSent(id.ChatID, "no answer from Bob"); n != 1 {
			t.Errorf("%s received %d abort notices, want exactly 1", id.Name, n)
		}
	}
	roster, _ := st.Players(ctx, room.ID)
	if len(roster) != 0 {
		t.Errorf("aborted room still has %d roster entries", len(roster))
	}
}

func TestTimeout_CancelledByAnswer(t *testing.T) {
	svc, gw, st := newTestService([]string{"Who?"}, 150*time.Millisecond)
	ctx := context.Background()
	room := startedRoom(t, svc, alice, bob)

	if err := svc.SubmitAnswer(ctx, alice, "Alice"); err != nil {
		t.Fatal(err)
	}
	if err := svc.SubmitAnswer(ctx, bob, "Bob"); err != nil {
		t.Fatal(err)
	}
	// Give any stray timer plenty of time to fire anyway.
	time.Sleep(400 * time.Millisecond)

	if got := roomStatus(t, st, room.ID); got != store.StatusCompleted {
		t.Errorf("status = %s, want completed (no late abort)", got)
	}
	for _, id := range []Identity{alice, bob} {
		if n := gw.countSent(id.ChatID, "called off"); n != 0 {
			t.Errorf("%s received %d abort notices after answering in time", id.Name, n)
		}
	}
}

func TestTimeout_RaceWithLastAnswer(t *testing.T) {
	// Answers landing right at the deadline must never double-process:
	// the room ends either completed or aborted, and no participant gets
	// both a story and an abort notice.
	for i := 0; i < 20; i++ {
		svc, gw, st := newTestService([]string{"Who?"}, 10*time.Millisecond)
		ctx := context.Background()
		room := startedRoom(t, svc, alice, bob)

		svc.SubmitAnswer(ctx, alice, "Alice")
		time.Sleep(9 * time.Millisecond)
		svc.SubmitAnswer(ctx, bob, "Bob")

		deadline := time.Now().Add(time.Second)
		for time.Now().Before(deadline) {
			if roomStatus(t, st, room.ID).Terminal() {
				break
			}
			time.Sleep(2 * time.Millisecond)
		}
		status := roomStatus(t, st, room.ID)
		if status != store.StatusCompleted && status != store.StatusAborted {
			t.Fatalf("round %d: status = %s, want completed or aborted", i, status)
		}
		gotStory := gw.countSent(alice.ChatID, "Your story") > 0
		gotAbort := gw.countSent(alice.ChatID, "called off") > 0
		if gotStory && gotAbort {
			t.Fatalf("round %d: Alice got both a story and an abort notice", i)
		}
	}
}

func TestUnreachablePlayerDoesNotHaltBroadcast(t *testing.T) {
	svc, gw, _ := newTestService([]string{"Who?"}, time.Minute)
	gw.unreachable[bob.ChatID] = true
	startedRoom(t, svc, alice, bob, cara)

	for _, id := range []Identity{alice, cara} {
		if gw.countSent(id.ChatID, "Question 1 of 1") != 1 {
			t.Errorf("%s missed the prompt because another recipient was unreachable", id.Name)
		}
	}
}

func TestReset(t *testing.T) {
	svc, _, st := newTestService(nil, time.Minute)
	ctx := context.Background()
	room, _ := svc.CreateRoom(ctx, alice)
	svc.Join(ctx, bob, room.Code)

	n, err := svc.Reset(ctx, bob)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("Reset closed %d rooms, want 1", n)
	}
	if got := roomStatus(t, st, room.ID); got != store.StatusReset {
		t.Errorf("status = %s, want reset", got)
	}
	if n, _ := svc.Reset(ctx, bob); n != 0 {
		t.Errorf("second Reset closed %d rooms, want 0", n)
	}
}

func TestReuseRoomCode(t *testing.T) {
	svc, _, st := newTestService([]string{"Who?"}, time.Minute)
	ctx := context.Background()
	room := startedRoom(t, svc, alice, bob)
	svc.SubmitAnswer(ctx, alice, "Alice")
	svc.SubmitAnswer(ctx, bob, "Bob")
	if got := roomStatus(t, st, room.ID); got != store.StatusCompleted {
		t.Fatalf("status = %s, want completed", got)
	}

	if _, err := svc.ReuseRoomCode(ctx, bob, room.Code); !errors.Is(err, ErrNotAuthorized) {
		t.Errorf("reuse by non-creator error = %v, want ErrNotAuthorized", err)
	}

	again, err := svc.ReuseRoomCode(ctx, alice, room.Code)
	if err != nil {
		t.Fatal(err)
	}
	if again.Code != room.Code {
		t.Errorf("reused code = %s, want %s", again.Code, room.Code)
	}
	if again.ID == room.ID {
		t.Error("reuse must create a fresh room, not revive the old row")
	}

	roster, _ := st.Players(ctx, again.ID)
	if len(roster) != 2 {
		t.Fatalf("copied roster size = %d, want 2", len(roster))
	}
	if !roster[0].Admin || roster[0].UserID != alice.UserID {
		t.Errorf("admin flag not carried over: %+v", roster[0])
	}
	answers, _ := st.Answers(ctx, again.ID)
	if len(answers) != 0 {
		t.Errorf("reused room inherited %d answers, want none", len(answers))
	}
}

func TestReuseRoomCode_RequiresCompletedRoom(t *testing.T) {
	svc, _, _ := newTestService(nil, time.Minute)
	ctx := context.Background()
	room, _ := svc.CreateRoom(ctx, alice)
	svc.Leave(ctx, alice) // torn down, not completed

	if _, err := svc.ReuseRoomCode(ctx, alice, room.Code); !errors.Is(err, ErrNotFound) {
		t.Errorf("reuse of a reset room error = %v, want ErrNotFound", err)
	}
	if _, err := svc.ReuseRoomCode(ctx, alice, "ZZZZ"); !errors.Is(err, ErrNotFound) {
		t.Errorf("reuse of unknown code error = %v, want ErrNotFound", err)
	}
}

func TestStats(t *testing.T) {
	svc, _, _ := newTestService([]string{"Who?"}, time.Minute)
	ctx := context.Background()
	startedRoom(t, svc, alice, bob)
	svc.SubmitAnswer(ctx, alice, "Alice")
	svc.SubmitAnswer(ctx, bob, "Bob")

	n, err := svc.Stats(ctx, alice)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("Stats = %d, want 1", n)
	}
}

func TestConcurrentAnswers(t *testing.T) {
	svc, _, st := newTestService([]string{"Who?"}, time.Minute)
	ctx := context.Background()

	ids := make([]Identity, 8)
	for i := range ids {
		ids[i] = Identity{UserID: int64(100 + i), ChatID: int64(1000 + i), Name: "P"}
	}
	room, err := svc.CreateRoom(ctx, ids[0])
	if err != nil {
		t.Fatal(err)
	}
	for _, id := range ids[1:] {
		if _, err := svc.Join(ctx, id, room.Code); err != nil {
			t.Fatal(err)
		}
	}
	if err := svc.StartGame(ctx, ids[0]); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id Identity) {
			defer wg.Done()
			if err := svc.SubmitAnswer(ctx, id, "x"); err != nil {
				t.Errorf("answer from %d: %v", id.UserID, err)
			}
		}(id)
	}
	wg.Wait()

	if got := roomStatus(t, st, room.ID); got != store.StatusCompleted {
		t.Errorf("status = %s, want completed after all concurrent answers", got)
	}
}
