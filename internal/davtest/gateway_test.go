package davtest

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/cyp0633/esncal/davclient"
	"github.com/cyp0633/esncal/internal/httpclient"
	"github.com/cyp0633/esncal/shell"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func setup(t *testing.T) (*Gateway, *fakeClock, davclient.DAVClient, httpclient.HttpClientWrapper) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	gw := New("u1", logger)
	clock := &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	gw.SetClock(clock.Now)

	srv := httptest.NewServer(gw)
	t.Cleanup(srv.Close)
	base, err := url.Parse(srv.URL)
	require.NoError(t, err)
	wrapper, err := httpclient.NewHttpClientWrapper(srv.Client(), *base, logger)
	require.NoError(t, err)
	return gw, clock, davclient.NewDAVClient(wrapper, logger), wrapper
}

func standup() shell.Shell {
	return shell.Shell{
		ID:    "abc",
		Title: "Standup",
		Start: time.Date(2024, 3, 12, 9, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 3, 12, 9, 15, 0, 0, time.UTC),
	}
}

const path = "/calendars/u1/events/abc.ics"

func TestStagedCreateCommitsAfterDeadline(t *testing.T) {
	gw, clock, client, _ := setup(t)
	ctx := context.Background()

	taskID, err := client.CreateEvent(ctx, path, shell.Encode(standup()), 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, []string{taskID}, gw.Staged())

	_, err = client.GetEvent(ctx, path)
	assert.True(t, httpclient.IsStatus(err, http.StatusNotFound))

	clock.Advance(10 * time.Second)
	obj, err := client.GetEvent(ctx, path)
	require.NoError(t, err)
	assert.NotEmpty(t, obj.ETag)
	assert.Empty(t, gw.Staged())
}

func TestCancelStagedChange(t *testing.T) {
	gw, clock, client, wrapper := setup(t)
	ctx := context.Background()

	taskID, err := client.CreateEvent(ctx, path, shell.Encode(standup()), time.Second)
	require.NoError(t, err)

	resp, err := wrapper.DoDELETE(ctx, TasksPath+taskID, httpclient.RequestOptions{})
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, err = wrapper.DoDELETE(ctx, TasksPath+taskID, httpclient.RequestOptions{})
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	clock.Advance(time.Minute)
	_, ok := gw.Object(path)
	assert.False(t, ok)
}

func TestConditionalWrites(t *testing.T) {
	gw, _, client, _ := setup(t)
	ctx := context.Background()
	etag := gw.Put(path, shell.Encode(standup()))

	_, _, err := client.ModifyEvent(ctx, path, shell.Encode(standup()), `"stale"`, time.Second)
	assert.True(t, httpclient.IsStatus(err, http.StatusPreconditionFailed))

	_, err = client.RemoveEvent(ctx, path, `"stale"`, time.Second)
	assert.True(t, httpclient.IsStatus(err, http.StatusPreconditionFailed))

	edited := standup()
	edited.Title = "Retro"
	_, updated, err := client.ModifyEvent(ctx, path, shell.Encode(edited), etag, 0)
	require.NoError(t, err)
	require.NotNil(t, updated)

	obj, ok := gw.Object(path)
	require.True(t, ok)
	assert.NotEqual(t, etag, obj.ETag)
	assert.Equal(t, obj.ETag, updated.ETag)

	_, err = client.RemoveEvent(ctx, path, obj.ETag, 0)
	require.NoError(t, err)
	_, ok = gw.Object(path)
	assert.False(t, ok)
}

func TestListFiltersByRange(t *testing.T) {
	gw, _, client, _ := setup(t)
	gw.Put(path, shell.Encode(standup()))

	later := standup()
	later.ID = "later"
	later.Start = later.Start.AddDate(0, 1, 0)
	later.End = later.End.AddDate(0, 1, 0)
	gw.Put("/calendars/u1/events/later.ics", shell.Encode(later))
	gw.Put("/calendars/u1/other/abc.ics", shell.Encode(standup()))

	objects, err := client.ListEvents(context.Background(), "/calendars/u1/events",
		time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC), time.Date(2024, 3, 18, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, objects, 1)
	assert.Equal(t, path, objects[0].Path)
}

func TestCalendarHomeDiscovery(t *testing.T) {
	_, _, client, _ := setup(t)

	home, err := client.CalendarHome(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "u1", home)
}
