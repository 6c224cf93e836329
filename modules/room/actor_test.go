package room

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	domain "github.com/example/canvas-room-server/domain/room"
	"github.com/example/canvas-room-server/modules/backlog"
)

// fakeConn records everything the room sends and can be switched to fail.
type fakeConn struct {
	mu          sync.Mutex
	frames      []string
	failing     bool
	closed      bool
	closeCode   int
	closeReason string
}

func (c *fakeConn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failing {
		return errors.New("connection reset")
	}
	c.frames = append(c.frames, string(data))
	return nil
}

func (c *fakeConn) Close(code int, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.closeCode = code
	c.closeReason = reason
	return nil
}

func (c *fakeConn) fail() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failing = true
}

func (c *fakeConn) received() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.frames...)
}

func newTestRegistry(t *testing.T) (*Registry, *backlog.MemoryStore) {
	t.Helper()
	store := backlog.NewMemoryStore()
	reg := NewRegistry(store, nil, nil)
	t.Cleanup(reg.StopAll)
	return reg, store
}

func join(t *testing.T, reg *Registry, roomID, name string) (*Actor, *Session, *fakeConn) {
	t.Helper()
	conn := &fakeConn{}
	actor, sess, err := reg.Attach(roomID, conn)
	if err != nil {
		t.Fatalf("Attach(%q) error: %v", roomID, err)
	}
	actor.Forward(sess, []byte(fmt.Sprintf(`{"name":%q}`, name)))
	return actor, sess, conn
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestHandshakeRosterAndReady(t *testing.T) {
	reg, _ := newTestRegistry(t)

	_, _, alice := join(t, reg, "lobby", "alice")
	actor, _, bob := join(t, reg, "lobby", "bob")

	got := bob.received()
	want := []string{`{"joined":"alice"}`, `{"ready":true}`}
	if len(got) != len(want) {
		t.Fatalf("bob received %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("bob frame %d = %s, want %s", i, got[i], want[i])
		}
	}

	// The join announcement reaches alice but is never echoed to bob.
	aliceGot := alice.received()
	if aliceGot[len(aliceGot)-1] != `{"joined":"bob"}` {
		t.Errorf("alice's last frame = %s, want joined announcement for bob", aliceGot[len(aliceGot)-1])
	}
	for _, f := range got {
		if f == `{"joined":"bob"}` {
			t.Error("bob received his own join announcement")
		}
	}

	if n := actor.SessionCount(); n != 2 {
		t.Errorf("SessionCount() = %d, want 2", n)
	}
}

func TestPendingQueueHoldsBroadcastsUntilHandshake(t *testing.T) {
	reg, _ := newTestRegistry(t)

	aliceActor, aliceSess, _ := join(t, reg, "lobby", "alice")

	// Bob attaches but does not handshake yet.
	bobConn := &fakeConn{}
	actor, bobSess, err := reg.Attach("lobby", bobConn)
	if err != nil {
		t.Fatalf("Attach error: %v", err)
	}
	if actor != aliceActor {
		t.Fatal("same room produced two actors")
	}

	aliceActor.Forward(aliceSess, []byte(`{"type":"chat","message":"early"}`))

	// Nothing may reach an unhandshaken session live.
	if got := bobConn.received(); len(got) != 0 {
		t.Fatalf("unhandshaken session received %v", got)
	}

	actor.Forward(bobSess, []byte(`{"name":"bob"}`))

	got := bobConn.received()
	if len(got) != 3 {
		t.Fatalf("bob received %d frames %v, want 3", len(got), got)
	}
	if got[0] != `{"joined":"alice"}` {
		t.Errorf("frame 0 = %s, want roster entry for alice", got[0])
	}
	var ev domain.ContentEvent
	if err := json.Unmarshal([]byte(got[1]), &ev); err != nil || ev.Message != "early" {
		t.Errorf("frame 1 = %s, want the buffered chat event", got[1])
	}
	if got[2] != `{"ready":true}` {
		t.Errorf("frame 2 = %s, want ready", got[2])
	}
}

func TestReplayDeliversOnlyRetainedEntries(t *testing.T) {
	reg, store := newTestRegistry(t)
	ctx := context.Background()

	seed := []struct {
		key   string
		value string
	}{
		{"2024-01-01T00:00:00.001Z", `{"name":"p","type":"mousePos","pos":{"x":1,"y":1},"isDown":true,"color":"#f00","timestamp":1}`},
		{"2024-01-01T00:00:00.002Z", `{"name":"p","type":"mousePos","pos":{"x":2,"y":2},"isDown":false,"timestamp":2}`},
		{"2024-01-01T00:00:00.003Z", `{"name":"p","type":"chat","message":"old","timestamp":3}`},
		{"2024-01-01T00:00:00.004Z", `{"name":"p","type":"mousePos","pos":{"x":4,"y":4},"isDown":true,"color":"#f00","timestamp":4}`},
	}
	for _, s := range seed {
		if err := store.Put(ctx, "lobby", s.key, []byte(s.value)); err != nil {
			t.Fatalf("seed Put error: %v", err)
		}
	}

	_, _, conn := join(t, reg, "lobby", "alice")

	got := conn.received()
	// Two surviving strokes in chronological order, then ready.
	if len(got) != 3 {
		t.Fatalf("received %d frames %v, want 3", len(got), got)
	}
	if got[0] != seed[0].value || got[1] != seed[3].value {
		t.Errorf("replay = %v, want strokes %s then %s", got[:2], seed[0].value, seed[3].value)
	}
	if got[2] != `{"ready":true}` {
		t.Errorf("last frame = %s, want ready", got[2])
	}

	// Evictions drain through the persistence queue.
	waitFor(t, "eviction of non-retained entries", func() bool {
		return store.EntryCount() == 2
	})
}

func TestReplayCappedAtLimit(t *testing.T) {
	reg, store := newTestRegistry(t)
	ctx := context.Background()

	for i := 0; i < 120; i++ {
		key := domain.TimestampKey(int64(1700000000000 + i))
		value := fmt.Sprintf(`{"name":"p","type":"mousePos","pos":{"x":%d,"y":0},"isDown":true,"color":"#00f","timestamp":%d}`, i, 1700000000000+i)
		if err := store.Put(ctx, "lobby", key, []byte(value)); err != nil {
			t.Fatalf("seed Put error: %v", err)
		}
	}

	_, _, conn := join(t, reg, "lobby", "alice")

	got := conn.received()
	if len(got) != domain.ReplayLimit+1 {
		t.Fatalf("received %d frames, want %d replayed + ready", len(got), domain.ReplayLimit)
	}

	// The newest 100 in chronological order: the first replayed frame is
	// entry 20, the last entry 119.
	var first, last domain.ContentEvent
	if err := json.Unmarshal([]byte(got[0]), &first); err != nil {
		t.Fatalf("unmarshal first replayed frame: %v", err)
	}
	if err := json.Unmarshal([]byte(got[len(got)-2]), &last); err != nil {
		t.Fatalf("unmarshal last replayed frame: %v", err)
	}
	if first.Timestamp != 1700000000020 {
		t.Errorf("first replayed timestamp = %d, want 1700000000020", first.Timestamp)
	}
	if last.Timestamp != 1700000000119 {
		t.Errorf("last replayed timestamp = %d, want 1700000000119", last.Timestamp)
	}
}

func TestDeadSessionProducesOneQuitBroadcast(t *testing.T) {
	reg, _ := newTestRegistry(t)

	actor, aliceSess, alice := join(t, reg, "lobby", "alice")
	_, _, bob := join(t, reg, "lobby", "bob")
	_, _, mallory := join(t, reg, "lobby", "mallory")

	mallory.fail()
	actor.Forward(aliceSess, []byte(`{"type":"chat","message":"hi"}`))

	if n := actor.SessionCount(); n != 2 {
		t.Errorf("SessionCount() = %d after dead session, want 2", n)
	}

	for who, conn := range map[string]*fakeConn{"alice": alice, "bob": bob} {
		var chats, quits int
		for _, f := range conn.received() {
			if strings.Contains(f, `"message":"hi"`) {
				chats++
			}
			if f == `{"quit":"mallory"}` {
				quits++
			}
		}
		if chats != 1 {
			t.Errorf("%s received chat %d times, want 1", who, chats)
		}
		if quits != 1 {
			t.Errorf("%s received quit for mallory %d times, want exactly 1", who, quits)
		}
	}
}

func TestChatSharedTimestampAndOrdering(t *testing.T) {
	reg, store := newTestRegistry(t)

	actor, aliceSess, alice := join(t, reg, "lobby", "alice")
	_, _, bob := join(t, reg, "lobby", "bob")

	actor.Forward(aliceSess, []byte(`{"type":"chat","message":"one"}`))
	actor.Forward(aliceSess, []byte(`{"type":"chat","message":"two"}`))

	aliceFrames := alice.received()
	bobFrames := bob.received()

	// Both participants see byte-identical event frames.
	lastTwo := func(frames []string) []string { return frames[len(frames)-2:] }
	a, b := lastTwo(aliceFrames), lastTwo(bobFrames)
	for i := range a {
		if a[i] != b[i] {
			t.Errorf("frame %d differs between recipients: %s vs %s", i, a[i], b[i])
		}
	}

	var first, second domain.ContentEvent
	if err := json.Unmarshal([]byte(a[0]), &first); err != nil {
		t.Fatalf("unmarshal first event: %v", err)
	}
	if err := json.Unmarshal([]byte(a[1]), &second); err != nil {
		t.Fatalf("unmarshal second event: %v", err)
	}
	if first.Message != "one" || second.Message != "two" {
		t.Errorf("delivery order = %q, %q; want one, two", first.Message, second.Message)
	}
	if second.Timestamp <= first.Timestamp {
		t.Errorf("timestamps not increasing: %d then %d", first.Timestamp, second.Timestamp)
	}

	// Both events become backlog entries under their timestamp keys.
	waitFor(t, "both chat events persisted", func() bool {
		return store.EntryCount() == 2
	})
	entries, err := store.List(context.Background(), "lobby", domain.ListOptions{})
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if entries[0].Key != domain.TimestampKey(first.Timestamp) {
		t.Errorf("entry key %s, want %s", entries[0].Key, domain.TimestampKey(first.Timestamp))
	}
}

func TestOversizedChatRejectedPrivately(t *testing.T) {
	reg, store := newTestRegistry(t)

	actor, aliceSess, alice := join(t, reg, "lobby", "alice")
	_, _, bob := join(t, reg, "lobby", "bob")

	long := strings.Repeat("x", 300)
	actor.Forward(aliceSess, []byte(`{"type":"chat","message":"`+long+`"}`))

	got := alice.received()
	if got[len(got)-1] != `{"error":"Message too long."}` {
		t.Errorf("alice's last frame = %s, want the too-long error", got[len(got)-1])
	}
	for _, f := range bob.received() {
		if strings.Contains(f, long) {
			t.Error("oversized message leaked to another participant")
		}
	}

	// A follow-up valid message flushes the persistence queue; the rejected
	// one must not be in the store.
	actor.Forward(aliceSess, []byte(`{"type":"chat","message":"ok"}`))
	waitFor(t, "valid chat persisted", func() bool {
		return store.EntryCount() == 1
	})
}

func TestNameTooLongClosesSession(t *testing.T) {
	reg, _ := newTestRegistry(t)

	conn := &fakeConn{}
	actor, sess, err := reg.Attach("lobby", conn)
	if err != nil {
		t.Fatalf("Attach error: %v", err)
	}

	actor.Forward(sess, []byte(fmt.Sprintf(`{"name":%q}`, strings.Repeat("n", 33))))

	got := conn.received()
	if len(got) == 0 || got[len(got)-1] != `{"error":"Name too long."}` {
		t.Fatalf("received %v, want the name-too-long error", got)
	}
	if !conn.closed || conn.closeCode != domain.CloseMessageTooBig {
		t.Errorf("close code = %d (closed=%v), want %d", conn.closeCode, conn.closed, domain.CloseMessageTooBig)
	}

	// The session never joined, so the room drained without a quit.
	waitFor(t, "room reaped after rejected handshake", func() bool {
		_, live := reg.Occupancy("lobby")
		return !live
	})
}

func TestEmptyNameBecomesAnonymous(t *testing.T) {
	reg, _ := newTestRegistry(t)

	_, _, alice := join(t, reg, "lobby", "alice")

	conn := &fakeConn{}
	actor, sess, err := reg.Attach("lobby", conn)
	if err != nil {
		t.Fatalf("Attach error: %v", err)
	}
	actor.Forward(sess, []byte(`{}`))

	got := alice.received()
	if got[len(got)-1] != `{"joined":"anonymous"}` {
		t.Errorf("alice's last frame = %s, want anonymous join", got[len(got)-1])
	}
}

func TestMalformedFrameReportsErrorAndKeepsSession(t *testing.T) {
	reg, _ := newTestRegistry(t)

	conn := &fakeConn{}
	actor, sess, err := reg.Attach("lobby", conn)
	if err != nil {
		t.Fatalf("Attach error: %v", err)
	}

	actor.Forward(sess, []byte(`{not json`))

	got := conn.received()
	if len(got) != 1 || !strings.HasPrefix(got[0], `{"error":`) {
		t.Fatalf("received %v, want one error frame", got)
	}

	// Still unhandshaken; the next frame is the handshake.
	actor.Forward(sess, []byte(`{"name":"alice"}`))
	got = conn.received()
	if got[len(got)-1] != `{"ready":true}` {
		t.Errorf("last frame = %s, want ready after recovery", got[len(got)-1])
	}
}

func TestUnknownTypeRejectedPrivately(t *testing.T) {
	reg, _ := newTestRegistry(t)

	actor, aliceSess, alice := join(t, reg, "lobby", "alice")
	_, _, bob := join(t, reg, "lobby", "bob")

	actor.Forward(aliceSess, []byte(`{"type":"bogus"}`))

	got := alice.received()
	if got[len(got)-1] != `{"error":"Unknown message type: bogus"}` {
		t.Errorf("alice's last frame = %s, want unknown-type error", got[len(got)-1])
	}
	for _, f := range bob.received() {
		if strings.Contains(f, "bogus") {
			t.Error("unknown-type frame leaked to another participant")
		}
	}
}

func TestDetachBroadcastsQuitForNamedOnly(t *testing.T) {
	reg, _ := newTestRegistry(t)

	actor, _, alice := join(t, reg, "lobby", "alice")
	_, bobSess, _ := join(t, reg, "lobby", "bob")

	// An unhandshaken attach that detaches must stay invisible.
	ghostConn := &fakeConn{}
	_, ghostSess, err := reg.Attach("lobby", ghostConn)
	if err != nil {
		t.Fatalf("Attach error: %v", err)
	}
	actor.Detach(ghostSess)

	actor.Detach(bobSess)

	var quits []string
	for _, f := range alice.received() {
		if strings.HasPrefix(f, `{"quit":`) {
			quits = append(quits, f)
		}
	}
	if len(quits) != 1 || quits[0] != `{"quit":"bob"}` {
		t.Errorf("alice received quits %v, want exactly one for bob", quits)
	}
}

// slowStore delays writes so tests can catch reads racing the persistence
// queue.
type slowStore struct {
	domain.BacklogStore
	delay time.Duration
}

func (s *slowStore) Put(ctx context.Context, roomID, key string, value []byte) error {
	time.Sleep(s.delay)
	return s.BacklogStore.Put(ctx, roomID, key, value)
}

func TestReplayIncludesStrokesStillInFlight(t *testing.T) {
	store := &slowStore{BacklogStore: backlog.NewMemoryStore(), delay: 50 * time.Millisecond}
	reg := NewRegistry(store, nil, nil)
	t.Cleanup(reg.StopAll)

	actor, aliceSess, _ := join(t, reg, "studio", "alice")
	actor.Forward(aliceSess, []byte(`{"type":"mousePos","pos":{"x":1,"y":1},"isDown":true,"color":"#f00"}`))
	actor.Forward(aliceSess, []byte(`{"type":"mousePos","pos":{"x":2,"y":2},"isDown":true,"color":"#f00"}`))
	actor.Forward(aliceSess, []byte(`{"type":"mousePos","pos":{"x":3,"y":3},"isDown":false}`))

	// Carol joins while the storer is still working through the queue; the
	// replay must wait for those writes rather than miss them.
	_, _, carol := join(t, reg, "studio", "carol")

	var strokes []domain.ContentEvent
	for _, f := range carol.received() {
		var ev domain.ContentEvent
		if json.Unmarshal([]byte(f), &ev) == nil && ev.Type == domain.EventMousePos {
			strokes = append(strokes, ev)
		}
	}
	if len(strokes) != 2 {
		t.Fatalf("carol's replay contained %d strokes, want 2; frames: %v", len(strokes), carol.received())
	}
	if strokes[0].Pos.X != 1 || strokes[1].Pos.X != 2 {
		t.Errorf("strokes out of order: %+v", strokes)
	}
	if !strokes[0].IsDown || !strokes[1].IsDown {
		t.Errorf("replayed strokes must be mid-stroke captures: %+v", strokes)
	}
}

func TestStrokesSurviveRoomDrainAndRejoin(t *testing.T) {
	store := &slowStore{BacklogStore: backlog.NewMemoryStore(), delay: 50 * time.Millisecond}
	reg := NewRegistry(store, nil, nil)
	t.Cleanup(reg.StopAll)

	actor, aliceSess, _ := join(t, reg, "studio", "alice")
	actor.Forward(aliceSess, []byte(`{"type":"mousePos","pos":{"x":1,"y":1},"isDown":true,"color":"#00f"}`))
	actor.Forward(aliceSess, []byte(`{"type":"mousePos","pos":{"x":2,"y":2},"isDown":true,"color":"#00f"}`))
	actor.Forward(aliceSess, []byte(`{"type":"mousePos","pos":{"x":3,"y":3},"isDown":false}`))

	// Last session leaves; the room drains its queue before releasing the
	// identifier, so the rejoin's actor sees a fully written backlog.
	actor.Detach(aliceSess)

	_, _, conn := join(t, reg, "studio", "alice")

	var strokes []domain.ContentEvent
	for _, f := range conn.received() {
		var ev domain.ContentEvent
		if json.Unmarshal([]byte(f), &ev) == nil && ev.Type == domain.EventMousePos {
			strokes = append(strokes, ev)
		}
	}
	if len(strokes) != 2 {
		t.Fatalf("rejoin replay contained %d strokes, want 2; frames: %v", len(strokes), conn.received())
	}
	if strokes[0].Pos.X != 1 || strokes[1].Pos.X != 2 {
		t.Errorf("strokes out of order: %+v", strokes)
	}
}

func TestMousePosBroadcastAndPersisted(t *testing.T) {
	reg, store := newTestRegistry(t)

	actor, aliceSess, _ := join(t, reg, "lobby", "alice")
	_, _, bob := join(t, reg, "lobby", "bob")

	actor.Forward(aliceSess, []byte(`{"type":"mousePos","pos":{"x":10,"y":20},"isDown":true,"color":"#0f0"}`))

	got := bob.received()
	var ev domain.ContentEvent
	if err := json.Unmarshal([]byte(got[len(got)-1]), &ev); err != nil {
		t.Fatalf("unmarshal mousePos frame: %v", err)
	}
	if ev.Type != domain.EventMousePos || ev.Pos == nil || ev.Pos.X != 10 || !ev.IsDown || ev.Color != "#0f0" {
		t.Errorf("mousePos event = %+v, want the sender's stroke", ev)
	}
	if ev.Name != "alice" {
		t.Errorf("event name = %q, want alice", ev.Name)
	}

	waitFor(t, "stroke persisted", func() bool {
		return store.EntryCount() == 1
	})
}
