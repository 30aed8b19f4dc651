package events

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestBroadcasterSubscribeUnsubscribe(t *testing.T) {
	b := NewBroadcaster()

	ch1 := b.Subscribe()
	ch2 := b.Subscribe()

	if b.Count() != 2 {
		t.Fatalf("expected 2 subscribers, got %d", b.Count())
	}

	b.Unsubscribe(ch1)
	b.Unsubscribe(ch1)
	if b.Count() != 1 {
		t.Fatalf("expected 1 subscriber after unsubscribe, got %d", b.Count())
	}

	b.Unsubscribe(ch2)
	if b.Count() != 0 {
		t.Fatalf("expected 0 subscribers, got %d", b.Count())
	}
}

func TestBroadcasterPublish(t *testing.T) {
	b := NewBroadcaster()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	fileID := uuid.New()
	if err := b.Publish(context.Background(), Event{Type: FileUploaded, FileID: fileID, Size: 100}); err != nil {
		t.Fatal(err)
	}

	select {
	case received := <-ch:
		if received.Type != FileUploaded {
			t.Errorf("expected type %s, got %s", FileUploaded, received.Type)
		}
		if received.FileID != fileID {
			t.Errorf("expected file %s, got %s", fileID, received.FileID)
		}
		if received.Timestamp == 0 {
			t.Error("expected non-zero timestamp")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestBroadcasterDropsForSlowConsumer(t *testing.T) {
	b := NewBroadcaster()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	for i := 0; i < 100; i++ {
		b.Publish(context.Background(), Event{Type: FileDeleted})
	}

	count := 0
	for {
		select {
		case <-ch:
			count++
		default:
			if count != 64 {
				t.Errorf("expected 64 buffered events, got %d", count)
			}
			return
		}
	}
}

type failingPublisher struct{ calls int }

func (f *failingPublisher) Publish(context.Context, Event) error {
	f.calls++
	return errors.New("sink down")
}

func TestMultiJoinsErrors(t *testing.T) {
	b := NewBroadcaster()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)
	bad := &failingPublisher{}

	err := Multi{bad, nil, b}.Publish(context.Background(), Event{Type: FileRestored})
	if err == nil || !strings.Contains(err.Error(), "sink down") {
		t.Fatalf("expected joined error, got %v", err)
	}
	if bad.calls != 1 {
		t.Errorf("expected 1 call, got %d", bad.calls)
	}
	select {
	case <-ch:
	default:
		t.Error("healthy sink did not receive the event")
	}
}

func TestEmitSwallowsErrors(t *testing.T) {
	bad := &failingPublisher{}
	Emit(context.Background(), bad, Event{Type: FileDeleted})
	Emit(context.Background(), nil, Event{Type: FileDeleted})
	if bad.calls != 1 {
		t.Errorf("expected 1 call, got %d", bad.calls)
	}
}

func TestMarshalEvent(t *testing.T) {
	e := Event{
		Type:      FilePermanentlyDeleted,
		TenantID:  uuid.New(),
		FileID:    uuid.New(),
		Timestamp: 1234567890,
	}
	data, err := MarshalEvent(e)
	if err != nil {
		t.Fatal(err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded["type"] != FilePermanentlyDeleted {
		t.Errorf("unexpected type %v", decoded["type"])
	}
	if _, ok := decoded["size"]; ok {
		t.Error("zero size should be omitted")
	}
}

func TestNewRedisPublisherRejectsBadURL(t *testing.T) {
	if _, err := NewRedisPublisher(context.Background(), "http://not-redis", "events"); err == nil {
		t.Fatal("expected error for non-redis url")
	}
}
