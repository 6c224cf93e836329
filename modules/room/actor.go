package room

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	domain "github.com/example/canvas-room-server/domain/room"
)

// ErrRoomStopped is returned by Attach when the actor shut down before the
// session could be placed. The registry retries on a fresh actor.
var ErrRoomStopped = errors.New("room actor stopped")

type commandKind int

const (
	cmdAttach commandKind = iota
	cmdFrame
	cmdDetach
)

type command struct {
	kind commandKind
	conn domain.Conn
	sess *Session
	data []byte

	reply chan *Session // attach
	done  chan struct{} // frame, detach
}

type persistOp struct {
	del   bool
	key   string
	value []byte

	// flush is a barrier: the storer closes it once every op queued ahead
	// of it has been applied. Such ops carry no key or value.
	flush chan struct{}
}

// Actor owns one room. A single goroutine consumes the inbox, so sessions,
// the sequencer, and the pending queues need no locking; attach, frame and
// detach are totally ordered per room and delivery order matches stamping
// order.
type Actor struct {
	id       string
	inbox    chan command
	stop     chan struct{}
	stopOnce sync.Once
	stopped  chan struct{}
	sessions []*Session
	seq      *Sequencer
	count    atomic.Int64

	store       domain.BacklogStore
	persist     chan persistOp
	persistDone chan struct{}

	notify  LifecycleNotifier
	onEmpty func(*Actor)
	logger  *slog.Logger
}

func newActor(id string, store domain.BacklogStore, notify LifecycleNotifier, onEmpty func(*Actor), logger *slog.Logger) *Actor {
	return &Actor{
		id:          id,
		inbox:       make(chan command),
		stop:        make(chan struct{}),
		stopped:     make(chan struct{}),
		seq:         NewSequencer(),
		store:       store,
		persist:     make(chan persistOp, 256),
		persistDone: make(chan struct{}),
		notify:      notify,
		onEmpty:     onEmpty,
		logger:      logger,
	}
}

// ID returns the room identifier.
func (a *Actor) ID() string {
	return a.id
}

// SessionCount reports the number of attached sessions. Safe to call from any
// goroutine.
func (a *Actor) SessionCount() int {
	return int(a.count.Load())
}

// Attach places a new connection into the room and returns its session. The
// returned session starts unhandshaken with the roster and backlog replay
// queued privately.
func (a *Actor) Attach(conn domain.Conn) (*Session, error) {
	cmd := command{kind: cmdAttach, conn: conn, reply: make(chan *Session, 1)}
	select {
	case a.inbox <- cmd:
		return <-cmd.reply, nil
	case <-a.stopped:
		return nil, ErrRoomStopped
	}
}

// Forward hands one inbound frame to the actor and returns once it has been
// processed. Blocking here is what gives each connection its in-order intake.
func (a *Actor) Forward(sess *Session, data []byte) {
	cmd := command{kind: cmdFrame, sess: sess, data: data, done: make(chan struct{})}
	select {
	case a.inbox <- cmd:
		<-cmd.done
	case <-a.stopped:
	}
}

// Detach removes a session after its read loop ends.
func (a *Actor) Detach(sess *Session) {
	cmd := command{kind: cmdDetach, sess: sess, done: make(chan struct{})}
	select {
	case a.inbox <- cmd:
		<-cmd.done
	case <-a.stopped:
	}
}

// Stop shuts the actor down and waits for it to drain its persistence queue.
func (a *Actor) Stop() {
	a.stopOnce.Do(func() { close(a.stop) })
	<-a.stopped
}

func (a *Actor) run() {
	go a.runStorer()
	reap := false
	defer func() {
		close(a.persist)
		<-a.persistDone
		// Release the room identifier only after the drain: a successor
		// actor for the same room must never read or evict concurrently
		// with this actor's in-flight writes.
		if reap {
			a.onEmpty(a)
		}
		close(a.stopped)
	}()

	for {
		select {
		case cmd := <-a.inbox:
			switch cmd.kind {
			case cmdAttach:
				cmd.reply <- a.handleAttach(cmd.conn)
			case cmdFrame:
				a.handleFrame(cmd.sess, cmd.data)
				close(cmd.done)
			case cmdDetach:
				a.handleDetach(cmd.sess)
				close(cmd.done)
			}
			if cmd.kind != cmdAttach && len(a.sessions) == 0 {
				reap = true
				return
			}
		case <-a.stop:
			a.closeAll()
			return
		}
	}
}

// runStorer consumes the persistence queue. Keeping writes and evictions on
// one ordered channel means two events stamped T1 < T2 can never land in
// reversed order, while broadcasts stay decoupled from storage latency.
func (a *Actor) runStorer() {
	defer close(a.persistDone)
	ctx := context.Background()
	for op := range a.persist {
		if op.flush != nil {
			close(op.flush)
			continue
		}
		var err error
		if op.del {
			err = a.store.Delete(ctx, a.id, op.key)
		} else {
			err = a.store.Put(ctx, a.id, op.key, op.value)
		}
		if err != nil {
			a.logger.Error("Backlog write failed", "room", a.id, "key", op.key, "error", err)
		}
	}
}

func (a *Actor) handleAttach(conn domain.Conn) *Session {
	sess := newSession(conn)
	a.sessions = append(a.sessions, sess)
	a.count.Store(int64(len(a.sessions)))

	// Queue one joined frame per already-named participant so the newcomer
	// can build its roster, then the surviving backlog.
	for _, other := range a.sessions[:len(a.sessions)-1] {
		if other.named() {
			sess.enqueue(marshalFrame(domain.JoinedFrame{Joined: other.name}))
		}
	}
	a.replayBacklog(sess)
	return sess
}

// replayBacklog queues the most recent surviving history for a fresh session
// and evicts entries whose retention window has passed.
func (a *Actor) replayBacklog(sess *Session) {
	// Events stamped before this attach may still be sitting in the
	// persistence queue; wait for them to land so the listing sees every
	// entry a prior broadcast produced.
	flushed := make(chan struct{})
	a.persist <- persistOp{flush: flushed}
	<-flushed

	entries, err := a.store.List(context.Background(), a.id, domain.ListOptions{
		Reverse: true,
		Limit:   domain.ReplayLimit,
	})
	if err != nil {
		a.logger.Error("Backlog replay failed", "room", a.id, "error", err)
		return
	}

	// Listed newest-first; walk backwards to queue in chronological order.
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if domain.Retained(e.Value) {
			sess.enqueue(e.Value)
		} else {
			a.persist <- persistOp{del: true, key: e.Key}
		}
	}
}

func (a *Actor) handleFrame(sess *Session, data []byte) {
	if sess.quit {
		_ = sess.conn.Close(domain.CloseInternalError, "WebSocket broken.")
		return
	}

	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("Recovered panic handling frame", "room", a.id, "session", sess.id, "panic", r)
			a.sendError(sess, fmt.Sprintf("%v", r))
		}
	}()

	var frame domain.ClientFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		a.sendError(sess, err.Error())
		return
	}

	if !sess.named() {
		a.completeHandshake(sess, frame)
		return
	}

	switch frame.Type {
	case domain.EventChat:
		a.handleChat(sess, frame)
	case domain.EventMousePos:
		a.handleMousePos(sess, frame)
	default:
		a.sendError(sess, "Unknown message type: "+frame.Type)
	}
}

// completeHandshake consumes the first frame of an unhandshaken session as
// its {"name": ...} announcement.
func (a *Actor) completeHandshake(sess *Session, frame domain.ClientFrame) {
	name := domain.AnonymousName
	if frame.Name != nil && *frame.Name != "" {
		name = *frame.Name
	}

	if err := domain.ValidateName(name); err != nil {
		a.sendError(sess, err.Error())
		_ = sess.conn.Close(domain.CloseMessageTooBig, err.Error())
		sess.quit = true
		a.removeSession(sess)
		return
	}

	// Flush everything queued while unhandshaken, in arrival order. The
	// session is still unnamed here, so a flush failure removes it without a
	// quit announcement for a participant nobody ever saw.
	for _, queued := range sess.pending {
		if err := sess.conn.Send(queued); err != nil {
			sess.quit = true
			a.removeSession(sess)
			return
		}
	}
	sess.pending = nil
	sess.name = name

	a.broadcastExcept(marshalFrame(domain.JoinedFrame{Joined: name}), sess)

	if err := sess.conn.Send(marshalFrame(domain.ReadyFrame{Ready: true})); err != nil {
		a.failSession(sess)
		return
	}

	a.notify.ParticipantJoined(a.id, name)
	a.logger.Info("Participant joined", "room", a.id, "name", name)
}

func (a *Actor) handleChat(sess *Session, frame domain.ClientFrame) {
	if err := domain.ValidateChatMessage(frame.Message); err != nil {
		a.sendError(sess, err.Error())
		return
	}
	a.fanOut(domain.ContentEvent{
		Name:      sess.name,
		Type:      domain.EventChat,
		Message:   frame.Message,
		Timestamp: a.seq.Next(),
	})
}

func (a *Actor) handleMousePos(sess *Session, frame domain.ClientFrame) {
	a.fanOut(domain.ContentEvent{
		Name:      sess.name,
		Type:      domain.EventMousePos,
		Pos:       frame.Pos,
		IsDown:    frame.IsDown,
		Color:     frame.Color,
		Timestamp: a.seq.Next(),
	})
}

// fanOut serializes a stamped event once, broadcasts the bytes, and queues
// the same bytes for persistence under the event's timestamp key.
func (a *Actor) fanOut(ev domain.ContentEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		a.logger.Error("Failed to marshal content event", "room", a.id, "error", err)
		return
	}
	a.broadcast(data)
	a.persist <- persistOp{key: domain.TimestampKey(ev.Timestamp), value: data}
}

func (a *Actor) broadcast(data []byte) {
	a.broadcastExcept(data, nil)
}

// broadcastExcept delivers data to every live session except the one given.
// Named sessions get the bytes directly; unhandshaken sessions get them
// queued. Sends that fail mark their session dead, and once the pass is
// complete each dead named session produces a quit announcement of its own.
// The cascade is a work list rather than recursion, so a connection that dies
// while receiving a quit frame is handled without re-entering the session
// slice mid-iteration.
func (a *Actor) broadcastExcept(data []byte, except *Session) {
	quitters := a.deliver(data, except)
	for len(quitters) > 0 {
		dead := quitters[0]
		quitters = quitters[1:]
		a.removeSession(dead)
		if dead.named() {
			more := a.deliver(marshalFrame(domain.QuitFrame{Quit: dead.name}), nil)
			quitters = append(quitters, more...)
			a.notify.ParticipantLeft(a.id, dead.name)
			a.logger.Info("Participant dropped", "room", a.id, "name", dead.name)
		}
	}
}

// deliver runs one best-effort pass over a snapshot of the sessions and
// returns the ones whose connections failed.
func (a *Actor) deliver(data []byte, except *Session) []*Session {
	snapshot := append([]*Session(nil), a.sessions...)
	var quitters []*Session
	for _, s := range snapshot {
		if s == except || s.quit {
			continue
		}
		if !s.named() {
			s.enqueue(data)
			continue
		}
		if err := s.conn.Send(data); err != nil {
			s.quit = true
			quitters = append(quitters, s)
		}
	}
	return quitters
}

func (a *Actor) handleDetach(sess *Session) {
	if !a.removeSession(sess) {
		// Already removed by a failed send; the quit was announced then.
		return
	}
	sess.quit = true
	if sess.named() {
		a.broadcast(marshalFrame(domain.QuitFrame{Quit: sess.name}))
		a.notify.ParticipantLeft(a.id, sess.name)
		a.logger.Info("Participant left", "room", a.id, "name", sess.name)
	}
}

// sendError reports a problem privately to one session.
func (a *Actor) sendError(sess *Session, msg string) {
	if sess.quit {
		return
	}
	if err := sess.conn.Send(marshalFrame(domain.ErrorFrame{Error: msg})); err != nil {
		a.failSession(sess)
	}
}

// failSession handles a dead connection discovered outside a broadcast pass.
func (a *Actor) failSession(sess *Session) {
	sess.quit = true
	if !a.removeSession(sess) {
		return
	}
	if sess.named() {
		a.broadcast(marshalFrame(domain.QuitFrame{Quit: sess.name}))
		a.notify.ParticipantLeft(a.id, sess.name)
	}
}

// removeSession takes a session out of the live set, reporting whether it was
// still present.
func (a *Actor) removeSession(sess *Session) bool {
	for i, s := range a.sessions {
		if s == sess {
			a.sessions = append(a.sessions[:i], a.sessions[i+1:]...)
			a.count.Store(int64(len(a.sessions)))
			return true
		}
	}
	return false
}

func (a *Actor) closeAll() {
	for _, s := range a.sessions {
		s.quit = true
		_ = s.conn.Close(domain.CloseGoingAway, "Server shutting down.")
	}
	a.sessions = nil
	a.count.Store(0)
}

func marshalFrame(v any) []byte {
	data, _ := json.Marshal(v)
	return data
}
