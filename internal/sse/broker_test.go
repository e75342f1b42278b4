package sse

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/starford/kenaz-backup/internal/models"
)

func TestSubscribeUnsubscribe(t *testing.T) {
	b := NewBroker(time.Minute)
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
	b := NewBroker(time.Minute)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.Publish(Event{Type: "backup.synced", Data: map[string]string{"id": "a1"}})

	select {
	case msg := <-ch:
		s := string(msg)
		if !strings.Contains(s, "event: backup.synced") {
			t.Errorf("missing event type in %q", s)
		}
		if !strings.Contains(s, `"id":"a1"`) {
			t.Errorf("missing data in %q", s)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestPublishBackupEvent(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.PublishBackupEvent(models.BackupEvent{
		Type:      models.EventBackupCreated,
		BackupID:  "local_01abc",
		Kind:      models.KindAuto,
		NoteCount: 3,
		Degraded:  true,
	})

	select {
	case msg := <-ch:
		s := string(msg)
		if !strings.HasPrefix(s, "id: 1\nevent: backup.created\n") {
			t.Errorf("missing event type in %q", s)
		}
		for _, want := range []string{`"backup_id":"local_01abc"`, `"kind":"auto"`, `"note_count":3`, `"degraded":true`} {
			if !strings.Contains(s, want) {
				t.Errorf("missing %s in %q", want, s)
			}
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestSubscribeFromFiltersTypes(t *testing.T) {
	b := NewBroker(time.Minute)
	defer b.Close()
	ch := b.SubscribeFrom(0, []string{string(models.EventBackupRestored)})
	defer b.Unsubscribe(ch)

	b.PublishBackupEvent(models.BackupEvent{Type: models.EventBackupCreated, BackupID: "b1"})
	b.PublishBackupEvent(models.BackupEvent{Type: models.EventBackupRestored, BackupID: "b1"})

	select {
	case msg := <-ch:
		if s := string(msg); !strings.Contains(s, "event: backup.restored") {
			t.Errorf("filtered client got %q", s)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for restored event")
	}
}

func TestSubscribeFromReplaysMissedEvents(t *testing.T) {
	b := NewBroker(time.Minute)
	defer b.Close()

	// A live subscriber proves the three events went through the loop.
	live := b.Subscribe()
	for _, id := range []string{"b1", "b2", "b3"} {
		b.PublishBackupEvent(models.BackupEvent{Type: models.EventBackupCreated, BackupID: id})
	}
	for i := 0; i < 3; i++ {
		select {
		case <-live:
		case <-time.After(time.Second):
			t.Fatal("timeout draining live subscriber")
		}
	}
	b.Unsubscribe(live)

	ch := b.SubscribeFrom(1, nil)
	defer b.Unsubscribe(ch)

	var got []string
	for i := 0; i < 2; i++ {
		select {
		case msg := <-ch:
			got = append(got, string(msg))
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for replay, got %q", got)
		}
	}
	if !strings.HasPrefix(got[0], "id: 2\n") || !strings.Contains(got[0], `"backup_id":"b2"`) {
		t.Errorf("first replayed = %q", got[0])
	}
	if !strings.HasPrefix(got[1], "id: 3\n") {
		t.Errorf("second replayed = %q", got[1])
	}
}

func TestHeartbeat(t *testing.T) {
	b := NewBroker(20 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	select {
	case msg := <-ch:
		if string(msg) != ": ping\n\n" {
			t.Errorf("heartbeat = %q", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for heartbeat")
	}
}

func TestSSEHandler(t *testing.T) {
	b := NewBroker(time.Minute)
	defer b.Close()

	// Start handler in background.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/api/events", nil)
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

	b.Publish(Event{Type: "backup.restored", Data: map[string]string{"id": "x1"}})
	time.Sleep(50 * time.Millisecond)

	// Cancel context to disconnect.
	cancel()
	<-done

	body := w.Body.String()
	if !strings.Contains(body, "event: backup.restored") {
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
	b := NewBroker(time.Minute)
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
	b.Publish(Event{Type: "backup.restored", Data: map[string]string{"id": "x1"}})
	b.PublishBackupEvent(models.BackupEvent{Type: models.EventBackupDeleted})
}
