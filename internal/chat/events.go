package chat

import "sync"

type EventType string

const (
	EventConversations EventType = "conversations"
	EventActive        EventType = "active"
	EventMessages      EventType = "messages"
	EventLoading       EventType = "loading"
	EventConnection    EventType = "connection"
	EventNotice        EventType = "notice"
)

type NoticeLevel string

const NoticeError NoticeLevel = "error"

// Notice is a transient, user-visible message.
type Notice struct {
	Level   NoticeLevel
	Title   string
	Message string
	Err     error
}

// Event tells watchers which part of the state changed. Watchers re-read the
// state through Snapshot.
type Event struct {
	Type   EventType
	Notice *Notice
}

const watcherBuffer = 64

type watchers struct {
	mu     sync.Mutex
	next   int
	subs   map[int]chan Event
	closed bool
}

func newWatchers() *watchers {
	return &watchers{subs: make(map[int]chan Event)}
}

func (w *watchers) add() (<-chan Event, func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	ch := make(chan Event, watcherBuffer)
	if w.closed {
		close(ch)
		return ch, func() {}
	}
	id := w.next
	w.next++
	w.subs[id] = ch
	return ch, func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		if c, ok := w.subs[id]; ok {
			delete(w.subs, id)
			close(c)
		}
	}
}

// emit never blocks; a watcher that falls behind loses events.
func (w *watchers) emit(ev Event) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, ch := range w.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (w *watchers) close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	for id, ch := range w.subs {
		delete(w.subs, id)
		close(ch)
	}
}
