package davclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/beevik/etree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const multistatusTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<d:multistatus xmlns:d="DAV:" xmlns:cal="urn:ietf:params:xml:ns:caldav">
  <d:response>
    <d:href>%s</d:href>
    <d:propstat>
      <d:prop>%s</d:prop>
      <d:status>HTTP/1.1 200 OK</d:status>
    </d:propstat>
  </d:response>
</d:multistatus>`

func propfindHandler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "PROPFIND", r.Method)
		assert.Equal(t, "0", r.Header.Get("Depth"))

		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		doc := etree.NewDocument()
		if !assert.NoError(t, doc.ReadFromBytes(body)) || !assert.NotNil(t, doc.Root()) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		var prop string
		switch {
		case r.URL.Path == "/dav/api/" && findElement(doc.Root(), "current-user-principal") != nil:
			prop = `<d:current-user-principal><d:href>/principals/users/u1/</d:href></d:current-user-principal>`
		case strings.HasPrefix(r.URL.Path, "/dav/api/principals/users/") && findElement(doc.Root(), "calendar-home-set") != nil:
			prop = `<cal:calendar-home-set><d:href>/calendars/u1/</d:href></cal:calendar-home-set>`
		default:
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusMultiStatus)
		fmt.Fprintf(w, multistatusTemplate, r.URL.Path, prop)
	}
}

func TestCalendarHome(t *testing.T) {
	client := newTestClient(t, propfindHandler(t))

	home, err := client.CalendarHome(context.Background(), "/principals/users/u1/")
	require.NoError(t, err)
	assert.Equal(t, "u1", home)

	home, err = client.CalendarHome(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "u1", home)
}

func TestCalendarHomeMissingProperty(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusMultiStatus)
		fmt.Fprintf(w, multistatusTemplate, r.URL.Path, "")
	})

	_, err := client.CalendarHome(context.Background(), "/principals/users/u1/")
	assert.ErrorIs(t, err, ErrPropertyNotFound)
}

func TestBuildPropfind(t *testing.T) {
	body, err := buildPropfind("C", nsCalDAV, "calendar-home-set")
	require.NoError(t, err)

	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromBytes(body))
	root := doc.Root()
	require.NotNil(t, root)
	assert.Equal(t, "propfind", root.Tag)
	assert.Contains(t, string(body), `xmlns:D="DAV:"`)
	assert.Contains(t, string(body), `xmlns:C="urn:ietf:params:xml:ns:caldav"`)
	assert.NotNil(t, findElement(root, "calendar-home-set"))
}
