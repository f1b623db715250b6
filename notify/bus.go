// Package notify relays event changes to local subscribers and to other
// clients. It keeps no state beyond its subscriber list.
package notify

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"

	"github.com/cyp0633/esncal/shell"
	"github.com/emersion/go-ical"
)

// Kind names a local notification.
type Kind string

const (
	KindCreated       Kind = "addedCalendarItem"
	KindRemoved       Kind = "removedCalendarItem"
	KindModified      Kind = "modifiedCalendarItem"
	KindMessagePosted Kind = "message:posted"
)

// Remote topic and event names.
const (
	TopicCalendars = "/calendars"
	EventCreated   = "event:created"
	EventDeleted   = "event:deleted"
	EventUpdated   = "event:updated"
)

// Event is a local notification. Shell is set for created and modified
// events, ID for removed ones, MessageID and StreamID for posted messages.
type Event struct {
	Kind      Kind
	Shell     *shell.Shell
	ID        string
	MessageID string
	StreamID  string
}

// Publisher delivers an event to other clients.
type Publisher interface {
	Publish(ctx context.Context, topic, event string, cal *ical.Calendar) error
}

// Emitter is what the calendar workflow needs from the bus.
type Emitter interface {
	EmitCreated(s shell.Shell)
	EmitRemoved(id string)
	EmitModified(s shell.Shell)
	EmitPostedMessage(messageID, streamID string)
	PublishCreated(ctx context.Context, cal *ical.Calendar)
	PublishDeleted(ctx context.Context, cal *ical.Calendar)
	PublishUpdated(ctx context.Context, cal *ical.Calendar)
}

// Bus fans notifications out to subscribers in subscription order and to an
// optional remote publisher.
type Bus struct {
	mu        sync.RWMutex
	subs      map[uint64]func(Event)
	next      uint64
	publisher Publisher
	logger    *slog.Logger
}

var _ Emitter = (*Bus)(nil)

// NewBus creates a bus. A nil publisher disables remote delivery.
func NewBus(publisher Publisher, logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if publisher == nil {
		publisher = NopPublisher{}
	}
	return &Bus{
		subs:      make(map[uint64]func(Event)),
		publisher: publisher,
		logger:    logger,
	}
}

// Subscribe registers fn for every local notification. Handlers run on the
// emitting goroutine. The returned func unsubscribes.
func (b *Bus) Subscribe(fn func(Event)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.next++
	id := b.next
	b.subs[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs, id)
		})
	}
}

func (b *Bus) EmitCreated(s shell.Shell) {
	b.emit(Event{Kind: KindCreated, Shell: &s})
}

func (b *Bus) EmitRemoved(id string) {
	b.emit(Event{Kind: KindRemoved, ID: id})
}

func (b *Bus) EmitModified(s shell.Shell) {
	b.emit(Event{Kind: KindModified, Shell: &s})
}

func (b *Bus) EmitPostedMessage(messageID, streamID string) {
	b.emit(Event{Kind: KindMessagePosted, MessageID: messageID, StreamID: streamID})
}

func (b *Bus) PublishCreated(ctx context.Context, cal *ical.Calendar) {
	b.publish(ctx, EventCreated, cal)
}

func (b *Bus) PublishDeleted(ctx context.Context, cal *ical.Calendar) {
	b.publish(ctx, EventDeleted, cal)
}

func (b *Bus) PublishUpdated(ctx context.Context, cal *ical.Calendar) {
	b.publish(ctx, EventUpdated, cal)
}

func (b *Bus) emit(ev Event) {
	b.mu.RLock()
	ids := make([]uint64, 0, len(b.subs))
	for id := range b.subs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	handlers := make([]func(Event), len(ids))
	for i, id := range ids {
		handlers[i] = b.subs[id]
	}
	b.mu.RUnlock()

	b.logger.Debug("emitting local notification", "kind", ev.Kind, "subscribers", len(handlers))
	for _, h := range handlers {
		h(ev)
	}
}

// publish is best effort; failures are logged and never reach the caller.
func (b *Bus) publish(ctx context.Context, event string, cal *ical.Calendar) {
	if cal == nil {
		return
	}
	if err := b.publisher.Publish(ctx, TopicCalendars, event, cal); err != nil {
		b.logger.Warn("failed to publish remote notification", "topic", TopicCalendars, "event", event, "error", err)
	}
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, string, *ical.Calendar) error { return nil }
