// Package sse streams backup lifecycle events to UI clients over
// Server-Sent Events.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/starford/kenaz-backup/internal/models"
)

// Event is one SSE message.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

var heartbeatMsg = []byte(": ping\n\n")

// replaySize is how many recent events are kept for clients reconnecting
// with Last-Event-ID.
const replaySize = 128

type frame struct {
	id  uint64
	typ string
	raw []byte
}

// subscription is a client channel plus its event filter. A nil types set
// accepts every event.
type subscription struct {
	ch    chan []byte
	types map[string]struct{}
	// after, when non-zero, replays buffered events with a larger id.
	after uint64
}

func (s subscription) accepts(typ string) bool {
	if s.types == nil {
		return true
	}
	_, ok := s.types[typ]
	return ok
}

// Broker fans events out to connected clients.
//
// A single internal loop owns the client set and the replay buffer. Public
// methods talk to it over channels, so no mutexes are required. Every event
// carries a sequence id so a reconnecting client can resume after the last
// id it saw.
type Broker struct {
	heartbeat time.Duration

	subscribeCh   chan subscription
	unsubscribeCh chan chan []byte
	publishCh     chan Event
	countReqCh    chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker creates a broker that sends a comment line to every client each
// heartbeat interval so idle proxies keep the stream open.
func NewBroker(heartbeat time.Duration) *Broker {
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}

	b := &Broker{
		heartbeat:     heartbeat,
		subscribeCh:   make(chan subscription),
		unsubscribeCh: make(chan chan []byte),
		publishCh:     make(chan Event, 256),
		countReqCh:    make(chan chan int),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}

	go b.run()
	return b
}

func (b *Broker) run() {
	defer close(b.stopped)

	clients := make(map[chan []byte]subscription)
	var (
		seq    uint64
		recent []frame
	)
	ticker := time.NewTicker(b.heartbeat)
	defer ticker.Stop()

	deliver := func(ch chan []byte, raw []byte) {
		select {
		case ch <- raw:
		default:
			// Slow client; drop rather than block the loop.
		}
	}

	for {
		select {
		case <-b.stopCh:
			for ch := range clients {
				close(ch)
			}
			return

		case sub := <-b.subscribeCh:
			clients[sub.ch] = sub
			if sub.after == 0 {
				continue
			}
			for _, f := range recent {
				if f.id > sub.after && sub.accepts(f.typ) {
					deliver(sub.ch, f.raw)
				}
			}

		case ch := <-b.unsubscribeCh:
			if _, ok := clients[ch]; ok {
				delete(clients, ch)
				close(ch)
			}

		case event := <-b.publishCh:
			payload, err := json.Marshal(event.Data)
			if err != nil {
				continue
			}
			seq++
			f := frame{
				id:  seq,
				typ: event.Type,
				raw: []byte(fmt.Sprintf("id: %d\nevent: %s\ndata: %s\n\n", seq, event.Type, payload)),
			}
			if len(recent) == replaySize {
				recent = recent[1:]
			}
			recent = append(recent, f)
			for ch, sub := range clients {
				if sub.accepts(f.typ) {
					deliver(ch, f.raw)
				}
			}

		case <-ticker.C:
			for ch := range clients {
				deliver(ch, heartbeatMsg)
			}

		case resp := <-b.countReqCh:
			resp <- len(clients)
		}
	}
}

// Close stops the loop and closes all client channels.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe adds a client receiving every event from now on.
func (b *Broker) Subscribe() chan []byte {
	return b.SubscribeFrom(0, nil)
}

// SubscribeFrom adds a client that first receives the buffered events with
// an id greater than after, then live events. Only the listed event types
// are delivered; an empty list means all of them.
func (b *Broker) SubscribeFrom(after uint64, types []string) chan []byte {
	sub := subscription{ch: make(chan []byte, 64), after: after}
	if len(types) > 0 {
		sub.types = make(map[string]struct{}, len(types))
		for _, t := range types {
			sub.types[t] = struct{}{}
		}
	}
	if b.closed.Load() {
		close(sub.ch)
		return sub.ch
	}

	select {
	case b.subscribeCh <- sub:
	case <-b.stopped:
		close(sub.ch)
	}

	return sub.ch
}

// Unsubscribe removes a client and closes its channel.
func (b *Broker) Unsubscribe(ch chan []byte) {
	if b.closed.Load() {
		return
	}
	select {
	case b.unsubscribeCh <- ch:
	case <-b.stopped:
	}
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	if b.closed.Load() {
		return 0
	}

	resp := make(chan int, 1)
	select {
	case b.countReqCh <- resp:
	case <-b.stopped:
		return 0
	}

	select {
	case n := <-resp:
		return n
	case <-b.stopped:
		return 0
	}
}

// Publish sends an event to all connected clients.
func (b *Broker) Publish(event Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.publishCh <- event:
	case <-b.stopped:
	}
}

// PublishBackupEvent publishes ev under its type name. Its signature matches
// the store observer so it can be registered directly.
func (b *Broker) PublishBackupEvent(ev models.BackupEvent) {
	b.Publish(Event{Type: string(ev.Type), Data: ev})
}

// ServeHTTP is the SSE endpoint handler (GET /api/events). The optional
// "types" query parameter is a comma-separated event type filter. A
// Last-Event-ID header resumes from the replay buffer.
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	after, _ := strconv.ParseUint(r.Header.Get("Last-Event-ID"), 10, 64)
	ch := b.SubscribeFrom(after, parseTypes(r.URL.Query().Get("types")))
	defer b.Unsubscribe(ch)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		}
	}
}

func parseTypes(raw string) []string {
	var out []string
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}
