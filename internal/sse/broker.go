// Package sse implements a Server-Sent Events broker for live diagram
// preview updates.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/starford/mdbook-plantuml/internal/models"
)

// Event represents an SSE event to broadcast.
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Broker fans preview events out to SSE clients. All client state lives in
// a hub owned by one goroutine; public methods queue operations on it.
type Broker struct {
	keepAlive time.Duration

	ops    chan func(*hub)
	quit   chan struct{}
	exited chan struct{}
	closed atomic.Bool
}

// hub is only touched from Broker.loop.
type hub struct {
	clients map[chan []byte]struct{}
	seq     uint64

	bookEvery        time.Duration
	lastBook         time.Time
	rendered, failed int
}

// NewBroker creates a broker that emits book.updated at most once per
// bookThrottle.
func NewBroker(bookThrottle time.Duration) *Broker {
	if bookThrottle <= 0 {
		bookThrottle = 2 * time.Second
	}
	b := &Broker{
		keepAlive: 15 * time.Second,
		ops:       make(chan func(*hub), 256),
		quit:      make(chan struct{}),
		exited:    make(chan struct{}),
	}
	go b.loop(&hub{
		clients:   make(map[chan []byte]struct{}),
		bookEvery: bookThrottle,
	})
	return b
}

func (b *Broker) loop(h *hub) {
	defer close(b.exited)
	for {
		select {
		case <-b.quit:
			h.drain(b.ops)
			for ch := range h.clients {
				close(ch)
			}
			return
		case op := <-b.ops:
			op(h)
		}
	}
}

// send queues op on the loop. It reports false once the broker is closed.
func (b *Broker) send(op func(*hub)) bool {
	if b.closed.Load() {
		return false
	}
	select {
	case b.ops <- op:
		return true
	case <-b.exited:
		return false
	}
}

// drain runs operations queued before Close so late subscribers still get
// their channel closed.
func (h *hub) drain(ops <-chan func(*hub)) {
	for {
		select {
		case op := <-ops:
			op(h)
		default:
			return
		}
	}
}

// broadcast frames event with the next id and offers it to every client.
// Slow clients miss the frame.
func (h *hub) broadcast(event Event) {
	payload, err := json.Marshal(event.Data)
	if err != nil {
		return
	}
	h.seq++
	frame := []byte(fmt.Sprintf("event: %s\nid: %d\ndata: %s\n\n", event.Type, h.seq, payload))
	for ch := range h.clients {
		select {
		case ch <- frame:
		default:
		}
	}
}

func (h *hub) renderEvent(kind, file, chapter string) {
	switch kind {
	case models.EventRendered:
		h.rendered++
		h.broadcast(Event{Type: "diagram.rendered", Data: map[string]string{"file": file, "chapter": chapter}})
	case models.EventFailed:
		h.failed++
		h.broadcast(Event{Type: "diagram.failed", Data: map[string]string{"file": file, "chapter": chapter}})
	case models.EventChapterRendered:
		h.broadcast(Event{Type: "chapter.rendered", Data: map[string]string{"chapter": chapter}})
	default:
		return
	}

	if now := time.Now(); now.Sub(h.lastBook) >= h.bookEvery {
		h.lastBook = now
		// Tallies cover every render since the previous book.updated.
		h.broadcast(Event{Type: "book.updated", Data: map[string]int{"rendered": h.rendered, "failed": h.failed}})
		h.rendered, h.failed = 0, 0
	}
}

// Close stops the loop and closes every client channel. It is safe to call
// more than once.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.quit)
	}
	<-b.exited
}

// Subscribe registers a client. The channel is closed when the client is
// unsubscribed or the broker shuts down.
func (b *Broker) Subscribe() chan []byte {
	ch := make(chan []byte, 64)
	if !b.send(func(h *hub) { h.clients[ch] = struct{}{} }) {
		close(ch)
	}
	return ch
}

// Unsubscribe removes a client and closes its channel.
func (b *Broker) Unsubscribe(ch chan []byte) {
	b.send(func(h *hub) {
		if _, ok := h.clients[ch]; ok {
			delete(h.clients, ch)
			close(ch)
		}
	})
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	n := make(chan int, 1)
	if !b.send(func(h *hub) { n <- len(h.clients) }) {
		return 0
	}
	select {
	case v := <-n:
		return v
	case <-b.exited:
		return 0
	}
}

// Publish sends an event to all connected clients.
func (b *Broker) Publish(event Event) {
	b.send(func(h *hub) { h.broadcast(event) })
}

// PublishRenderEvent publishes a render outcome (one of the models.Event*
// kinds) followed by a throttled book.updated event. file is empty for
// chapter events.
func (b *Broker) PublishRenderEvent(kind, file, chapter string) {
	b.send(func(h *hub) { h.renderEvent(kind, file, chapter) })
}

// ServeHTTP streams events to one client (GET /events).
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	ping := time.NewTicker(b.keepAlive)
	defer ping.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ping.C:
			// Comment lines keep proxies from closing an idle stream.
			if _, err := w.Write([]byte(": ping\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case frame, ok := <-ch:
			if !ok {
				return
			}
			if _, err := w.Write(frame); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
