package sse

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/starford/mdbook-plantuml/internal/models"
)

func TestSubscribeUnsubscribe(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients")
	}
	ch := b.Subscribe()
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}
	b.Unsubscribe(ch)
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after unsub")
	}
}

func TestPublishDelivery(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.Publish(Event{Type: "diagram.rendered", Data: map[string]string{"file": "a.svg"}})

	select {
	case msg := <-ch:
		s := string(msg)
		if !strings.Contains(s, "event: diagram.rendered") {
			t.Errorf("missing event type in %q", s)
		}
		if !strings.Contains(s, `"file":"a.svg"`) {
			t.Errorf("missing data in %q", s)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestPublishRenderEvent_BookThrottle(t *testing.T) {
	b := NewBroker(500 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	// First event should trigger book.updated.
	b.PublishRenderEvent(models.EventRendered, "a.svg", "intro.md")
	// Following events within the window should not.
	b.PublishRenderEvent(models.EventFailed, "b.svg", "intro.md")
	b.PublishRenderEvent(models.EventChapterRendered, "", "intro.md")

	time.Sleep(50 * time.Millisecond)
	bookCount := 0
	var kinds []string
loop:
	for {
		select {
		case msg := <-ch:
			s := string(msg)
			if strings.Contains(s, "book.updated") {
				bookCount++
				continue
			}
			kinds = append(kinds, strings.TrimPrefix(strings.SplitN(s, "\n", 2)[0], "event: "))
		default:
			break loop
		}
	}

	want := []string{"diagram.rendered", "diagram.failed", "chapter.rendered"}
	if strings.Join(kinds, ",") != strings.Join(want, ",") {
		t.Errorf("events = %v, want %v", kinds, want)
	}
	if bookCount != 1 {
		t.Errorf("book events = %d, want 1 (throttled)", bookCount)
	}
}

func TestBookUpdatedCarriesTallies(t *testing.T) {
	b := NewBroker(200 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.PublishRenderEvent(models.EventRendered, "a.svg", "intro.md")
	b.PublishRenderEvent(models.EventFailed, "", "intro.md")
	b.PublishRenderEvent(models.EventRendered, "b.svg", "intro.md")
	time.Sleep(250 * time.Millisecond)
	b.PublishRenderEvent(models.EventChapterRendered, "", "intro.md")

	var books []string
	var ids []string
	deadline := time.After(time.Second)
	for len(books) < 2 {
		select {
		case msg := <-ch:
			lines := strings.Split(string(msg), "\n")
			ids = append(ids, lines[1])
			if lines[0] == "event: book.updated" {
				books = append(books, lines[2])
			}
		case <-deadline:
			t.Fatalf("book events = %v", books)
		}
	}
	if books[0] != `data: {"failed":0,"rendered":1}` {
		t.Errorf("first book.updated = %q", books[0])
	}
	if books[1] != `data: {"failed":1,"rendered":1}` {
		t.Errorf("second book.updated = %q", books[1])
	}
	if ids[0] != "id: 1" || ids[1] != "id: 2" {
		t.Errorf("ids = %v", ids)
	}
}

func TestEventsKeepPublishOrder(t *testing.T) {
	b := NewBroker(time.Hour)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.Publish(Event{Type: "first", Data: nil})
	b.PublishRenderEvent(models.EventChapterRendered, "", "a.md")
	b.Publish(Event{Type: "last", Data: nil})

	var got []string
	deadline := time.After(time.Second)
	for len(got) < 4 {
		select {
		case msg := <-ch:
			got = append(got, strings.TrimPrefix(strings.SplitN(string(msg), "\n", 2)[0], "event: "))
		case <-deadline:
			t.Fatalf("events = %v", got)
		}
	}
	want := "first,chapter.rendered,book.updated,last"
	if strings.Join(got, ",") != want {
		t.Errorf("events = %v, want %s", got, want)
	}
}

func TestPublishRenderEvent_UnknownKindIgnored(t *testing.T) {
	b := NewBroker(time.Millisecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.PublishRenderEvent("bogus", "a.svg", "")
	time.Sleep(50 * time.Millisecond)
	select {
	case msg := <-ch:
		t.Errorf("unexpected event %q", msg)
	default:
	}
}

func TestSSEHandler(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()

	// Start handler in background.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/events", nil)
	req = req.WithContext(ctx)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		b.ServeHTTP(w, req)
		close(done)
	}()

	// Give handler time to subscribe.
	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client from handler")
	}

	b.Publish(Event{Type: "chapter.rendered", Data: map[string]string{"chapter": "x.md"}})
	time.Sleep(50 * time.Millisecond)

	// Cancel context to disconnect.
	cancel()
	<-done

	body := w.Body.String()
	if !strings.Contains(body, "event: chapter.rendered") {
		t.Errorf("handler output missing event: %q", body)
	}

	// Client should be cleaned up.
	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 0 {
		t.Errorf("client not cleaned up after disconnect")
	}
}

func TestPublishDropsOnFullBuffer(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	// Fill buffer (capacity 64) and then one more should not block.
	for i := 0; i < 70; i++ {
		b.Publish(Event{Type: "test", Data: map[string]string{"i": "x"}})
	}
	// If we reach here without deadlock, the test passes.
}

func TestCloseClosesSubscribersAndStopsOperations(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	ch := b.Subscribe()
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}

	b.Close()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected subscriber channel to be closed")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for channel close")
	}

	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after close")
	}

	// Should be safe no-op after close.
	b.Publish(Event{Type: "diagram.rendered", Data: map[string]string{"file": "x.svg"}})
	b.PublishRenderEvent(models.EventRendered, "x.svg", "x.md")
}
