package calendar_test

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cyp0633/esncal/calendar"
	"github.com/cyp0633/esncal/davclient"
	"github.com/cyp0633/esncal/eventsource"
	"github.com/cyp0633/esncal/grace"
	"github.com/cyp0633/esncal/internal/davtest"
	"github.com/cyp0633/esncal/internal/httpclient"
	"github.com/cyp0633/esncal/notify"
	"github.com/cyp0633/esncal/shell"
	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const calendarPath = "/calendars/u1/events"

type stack struct {
	gateway   *davtest.Gateway
	grace     *grace.Service
	service   *calendar.Service
	announced chan grace.Task

	mu     sync.Mutex
	events []notify.Event
}

func (s *stack) recorded() []notify.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]notify.Event(nil), s.events...)
}

func newStack(t *testing.T, delay time.Duration) *stack {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := &stack{gateway: davtest.New("u1", logger), announced: make(chan grace.Task, 8)}

	srv := httptest.NewServer(st.gateway)
	t.Cleanup(srv.Close)
	base, err := url.Parse(srv.URL)
	require.NoError(t, err)
	wrapper, err := httpclient.NewHttpClientWrapper(srv.Client(), *base, logger)
	require.NoError(t, err)

	st.grace = grace.NewService(grace.NewHTTPCanceler(wrapper, logger),
		grace.WithAnnouncer(func(task grace.Task) { st.announced <- task }),
		grace.WithLogger(logger),
	)
	bus := notify.NewBus(nil, logger)
	bus.Subscribe(func(ev notify.Event) {
		st.mu.Lock()
		defer st.mu.Unlock()
		st.events = append(st.events, ev)
	})
	st.service = calendar.NewService(davclient.NewDAVClient(wrapper, logger), st.grace, bus,
		calendar.WithGraceDelay(delay),
		calendar.WithLogger(logger),
	)
	return st
}

func event(id, title string) shell.Shell {
	return shell.Shell{
		ID:    id,
		Title: title,
		Start: time.Date(2024, 3, 12, 9, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 3, 12, 9, 15, 0, 0, time.UTC),
	}
}

func kinds(events []notify.Event) []notify.Kind {
	out := make([]notify.Kind, len(events))
	for i, ev := range events {
		out[i] = ev.Kind
	}
	return out
}

func TestCreateCommitsThroughGateway(t *testing.T) {
	st := newStack(t, 20*time.Millisecond)

	created, err := st.service.Create(context.Background(), calendarPath, shell.Encode(event("abc", "Standup")))
	require.NoError(t, err)
	require.NotNil(t, created)

	obj, ok := st.gateway.Object(calendarPath + "/abc.ics")
	require.True(t, ok)
	assert.Equal(t, obj.ETag, created.ETag)
	assert.Equal(t, []notify.Kind{notify.KindCreated, notify.KindModified}, kinds(st.recorded()))
}

func TestRemoveWhileCreateIsStaged(t *testing.T) {
	st := newStack(t, time.Minute)

	done := make(chan error, 1)
	go func() {
		_, err := st.service.Create(context.Background(), calendarPath, shell.Encode(event("abc", "Standup")))
		done <- err
	}()
	<-st.announced

	pending := st.recorded()[0].Shell
	require.NotEmpty(t, pending.GraceTaskID)
	require.NoError(t, st.service.Remove(context.Background(), calendarPath+"/abc.ics", *pending, ""))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("create never returned")
	}

	assert.Equal(t, []notify.Kind{notify.KindCreated, notify.KindRemoved}, kinds(st.recorded()))
	assert.Empty(t, st.gateway.Staged())
	for _, r := range st.gateway.Requests() {
		if strings.HasPrefix(r, "DELETE ") {
			assert.True(t, strings.HasPrefix(r, "DELETE "+davtest.TasksPath), "unexpected %s", r)
		}
	}
}

func TestUndoRemoval(t *testing.T) {
	st := newStack(t, time.Minute)
	etag := st.gateway.Put(calendarPath+"/abc.ics", shell.Encode(event("abc", "Standup")))

	done := make(chan error, 1)
	go func() {
		done <- st.service.Remove(context.Background(), calendarPath+"/abc.ics", event("abc", "Standup"), etag)
	}()
	task := <-st.announced
	assert.Equal(t, "You are about to delete the event (Standup).", task.Message)
	require.True(t, st.grace.Undo(task.ID))
	require.NoError(t, <-done)

	_, ok := st.gateway.Object(calendarPath + "/abc.ics")
	assert.True(t, ok)
	assert.Empty(t, st.gateway.Staged())
	assert.Equal(t, []notify.Kind{notify.KindRemoved, notify.KindCreated}, kinds(st.recorded()))
}

func TestModifyAfterConcurrentWrite(t *testing.T) {
	st := newStack(t, 20*time.Millisecond)
	path := calendarPath + "/abc.ics"
	stale := st.gateway.Put(path, shell.Encode(event("abc", "Standup")))
	st.gateway.Put(path, shell.Encode(event("abc", "Standup (moved)")))

	edited := event("abc", "Retro")
	modified, err := st.service.Modify(context.Background(), path, edited, event("abc", "Standup"), stale)
	require.NoError(t, err)
	require.NotNil(t, modified)
	assert.Equal(t, "Retro", modified.Title)

	var authoritative int
	for _, ev := range st.recorded() {
		if ev.Kind == notify.KindModified && ev.Shell.ETag != "" {
			authoritative++
		}
	}
	assert.Equal(t, 1, authoritative)
	assert.Equal(t, 2, st.gateway.Count("PUT"))
}

func TestEventSourceHidesCancelledEvents(t *testing.T) {
	st := newStack(t, 0)
	st.gateway.Put(calendarPath+"/abc.ics", shell.Encode(event("abc", "Standup")))
	cancelled := event("def", "Offsite")
	cancelled.Status = mo.Some(shell.StatusCancelled)
	st.gateway.Put(calendarPath+"/def.ics", shell.Encode(cancelled))

	source := eventsource.New(st.service, "u1", nil, nil)
	var got []shell.Shell
	source(context.Background(),
		time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 3, 18, 0, 0, 0, 0, time.UTC),
		"UTC", func(shells []shell.Shell) { got = shells })

	require.Len(t, got, 1)
	assert.Equal(t, "abc", got[0].ID)
}

func TestRemoveDuringStagedModify(t *testing.T) {
	st := newStack(t, time.Minute)
	path := calendarPath + "/abc.ics"
	etag := st.gateway.Put(path, shell.Encode(event("abc", "Standup")))

	modified := make(chan error, 1)
	go func() {
		_, err := st.service.Modify(context.Background(), path, event("abc", "Retro"), event("abc", "Standup"), etag)
		modified <- err
	}()
	require.Equal(t, grace.KindModify, (<-st.announced).Kind)
	optimistic := st.recorded()[0].Shell

	removed := make(chan error, 1)
	go func() {
		removed <- st.service.Remove(context.Background(), path, *optimistic, optimistic.ETag)
	}()

	select {
	case err := <-modified:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("modify never returned")
	}

	task := <-st.announced
	assert.Equal(t, grace.KindDelete, task.Kind)
	assert.Len(t, st.gateway.Staged(), 1, "only the delete is staged")
	assert.Contains(t, st.gateway.Requests(), "DELETE "+path)

	require.True(t, st.grace.Undo(task.ID))
	require.NoError(t, <-removed)

	obj, ok := st.gateway.Object(path)
	require.True(t, ok)
	assert.Equal(t, etag, obj.ETag, "neither the modification nor the delete was committed")
	assert.Empty(t, st.gateway.Staged())
}
