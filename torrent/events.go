package torrent

import (
	"fmt"
	"sync"
	"time"
)

// EventType tells what happened in an Event.
type EventType int

const (
	// EventProgress is sent when pieces are verified.
	EventProgress EventType = iota
	// EventPeerCountChanged is sent when a peer connects or disconnects.
	EventPeerCountChanged
	// EventCompleted is sent when every wanted piece of a torrent is verified.
	EventCompleted
	// EventError is sent when a torrent enters error state.
	EventError
	// EventStatusChanged is sent on every status transition.
	EventStatusChanged
)

var eventTypeNames = [...]string{"progress", "peer-count-changed", "completed", "error", "status-changed"}

func (e EventType) String() string {
	if e < 0 || int(e) >= len(eventTypeNames) {
		return fmt.Sprintf("EventType(%d)", int(e))
	}
	return eventTypeNames[e]
}

// MarshalText encodes the event type as its name.
func (e EventType) MarshalText() ([]byte, error) { return []byte(e.String()), nil }

// Event is delivered to callbacks registered with Session.SubscribeEvents.
type Event struct {
	Type      EventType
	TorrentID string
	Time      time.Time
	Status    Status
	// Set for EventProgress and EventCompleted.
	VerifiedPieces uint32
	TotalPieces    uint32
	BytesCompleted int64
	BytesTotal     int64
	// Set for EventPeerCountChanged.
	Peers int
	// Set for EventError.
	Error string
}

// eventBus delivers events to every subscriber on a goroutine of its own, so a slow
// callback delays only its own events. Publishers never block: an event is dropped for
// a subscriber whose queue is full.
type eventBus struct {
	size int

	m           sync.Mutex
	subscribers map[int]*subscriber
	nextID      int
	dropped     int64
	closed      bool
}

type subscriber struct {
	cb     func(Event)
	eventC chan Event
	closeC chan struct{}
	doneC  chan struct{}
}

func newEventBus(size int) *eventBus {
	return &eventBus{
		size:        size,
		subscribers: make(map[int]*subscriber),
	}
}

func (b *eventBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.m.Lock()
	defer b.m.Unlock()
	for _, sub := range b.subscribers {
		select {
		case sub.eventC <- e:
		default:
			b.dropped++
		}
	}
}

// Subscribe registers cb. The returned function may be called from inside cb.
func (b *eventBus) Subscribe(cb func(Event)) (unsubscribe func()) {
	sub := &subscriber{
		cb:     cb,
		eventC: make(chan Event, b.size),
		closeC: make(chan struct{}),
		doneC:  make(chan struct{}),
	}
	b.m.Lock()
	if b.closed {
		b.m.Unlock()
		return func() {}
	}
	id := b.nextID
	b.nextID++
	b.subscribers[id] = sub
	b.m.Unlock()
	go sub.run()
	return func() {
		b.m.Lock()
		defer b.m.Unlock()
		if _, ok := b.subscribers[id]; ok {
			delete(b.subscribers, id)
			close(sub.closeC)
		}
	}
}

func (s *subscriber) run() {
	defer close(s.doneC)
	for {
		select {
		case e := <-s.eventC:
			s.cb(e)
		case <-s.closeC:
			return
		}
	}
}

func (b *eventBus) Dropped() int64 {
	b.m.Lock()
	defer b.m.Unlock()
	return b.dropped
}

// Close removes all subscribers and waits for their running callbacks to return.
func (b *eventBus) Close() {
	b.m.Lock()
	b.closed = true
	subs := b.subscribers
	b.subscribers = make(map[int]*subscriber)
	for _, sub := range subs {
		close(sub.closeC)
	}
	b.m.Unlock()
	for _, sub := range subs {
		<-sub.doneC
	}
}
