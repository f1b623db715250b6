package davclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/cyp0633/esncal/internal/httpclient"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListEvents(t *testing.T) {
	start := time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 3, 18, 0, 0, 0, 0, time.UTC)

	t.Run("returns embedded items", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "/dav/api/calendars/home/events.json", r.URL.Path)
			body, err := io.ReadAll(r.Body)
			assert.NoError(t, err)
			assert.JSONEq(t, `{"match":{"start":"20240311T000000","end":"20240318T000000"}}`, string(body))

			fmt.Fprintf(w, `{"_embedded":{"dav:item":[
				{"_links":{"self":{"href":"/calendars/home/events/abc.ics"}},"etag":"\"1\"","data":%s},
				{"_links":{"self":{"href":"/calendars/home/events/broken.ics"}},"etag":"\"2\"","data":["vtodo"]}
			]}}`, eventJCal)
		})

		objects, err := client.ListEvents(context.Background(), "/calendars/home/events/", start, end)
		require.NoError(t, err)
		require.Len(t, objects, 1)
		assert.Equal(t, "/calendars/home/events/abc.ics", objects[0].Path)
		assert.Equal(t, `"1"`, objects[0].ETag)
		require.NotNil(t, objects[0].Calendar)
	})

	t.Run("missing embedded is empty", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"_links":{}}`)
		})

		objects, err := client.ListEvents(context.Background(), "/calendars/home/events", start, end)
		require.NoError(t, err)
		assert.NotNil(t, objects)
		assert.Empty(t, objects)
	})

	t.Run("server error", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		})

		_, err := client.ListEvents(context.Background(), "/calendars/home/events", start, end)
		require.Error(t, err)
		assert.True(t, httpclient.IsStatus(err, http.StatusInternalServerError))
	})

	t.Run("garbage body", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `not json`)
		})

		_, err := client.ListEvents(context.Background(), "/calendars/home/events", start, end)
		assert.Error(t, err)
	})
}
