// Package events publishes file lifecycle events to in-process
// subscribers and, optionally, to Redis.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fruitsalade/filecore/internal/logging"
	"github.com/fruitsalade/filecore/internal/metrics"
)

const (
	FileUploaded           = "file.uploaded"
	FileVersionCreated     = "file.version_created"
	FileDeleted            = "file.deleted"
	FileRestored           = "file.restored"
	FilePermanentlyDeleted = "file.permanently_deleted"
	FilePermissionsChanged = "file.permissions_changed"
)

// Event describes a change to a file.
type Event struct {
	Type      string         `json:"type"`
	TenantID  uuid.UUID      `json:"tenant_id"`
	FileID    uuid.UUID      `json:"file_id"`
	ActorID   uuid.UUID      `json:"actor_id,omitempty"`
	Version   int            `json:"version,omitempty"`
	Size      int64          `json:"size,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp int64          `json:"timestamp"`
}

// Publisher delivers events to a sink.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Emit publishes e and logs failures. Events are best effort and never
// fail the operation that produced them.
func Emit(ctx context.Context, p Publisher, e Event) {
	if p == nil {
		return
	}
	if e.Timestamp == 0 {
		e.Timestamp = time.Now().Unix()
	}
	if err := p.Publish(ctx, e); err != nil {
		logging.WithContext(ctx).Warn("event publish failed",
			logging.String("type", e.Type), logging.FileID(e.FileID), logging.Err(err))
	}
}

// Broadcaster fans events out to in-process subscribers.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[chan Event]struct{}
}

// NewBroadcaster creates a new event broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[chan Event]struct{}),
	}
}

// Subscribe adds a new subscriber and returns its event channel.
// The caller must call Unsubscribe when done.
func (b *Broadcaster) Subscribe() chan Event {
	ch := make(chan Event, 64)
	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Broadcaster) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	if _, ok := b.subscribers[ch]; ok {
		delete(b.subscribers, ch)
		close(ch)
	}
	b.mu.Unlock()
}

// Publish sends an event to all subscribers, dropping it for any whose
// buffer is full.
func (b *Broadcaster) Publish(_ context.Context, e Event) error {
	if e.Timestamp == 0 {
		e.Timestamp = time.Now().Unix()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subscribers {
		select {
		case ch <- e:
		default:
		}
	}
	metrics.RecordEvent(e.Type, "local")
	return nil
}

// Count returns the current number of subscribers.
func (b *Broadcaster) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// MarshalEvent serializes an event to JSON.
func MarshalEvent(e Event) ([]byte, error) {
	return json.Marshal(e)
}

// Multi publishes to every sink and joins their errors.
type Multi []Publisher

// Publish implements Publisher.
func (m Multi) Publish(ctx context.Context, e Event) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
