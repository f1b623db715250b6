// Package davclient issues the calendar gateway requests behind event
// listing, reading, creation, modification and removal. It keeps no state
// between calls.
package davclient

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/cyp0633/esncal/internal/httpclient"
	"github.com/emersion/go-ical"
)

const (
	ContentTypeCalendarJSON = "application/calendar+json"
	PreferRepresentation    = "return=representation"

	// GracePeriodParam is the query parameter carrying the staging delay in
	// milliseconds.
	GracePeriodParam = "graceperiod"
)

// DAVClient defines the calendar gateway operations.
type DAVClient interface {
	GetEvent(ctx context.Context, eventPath string) (*CalendarObject, error)
	// CreateEvent stores a new event. With a zero grace the server answers
	// 201 and taskID is empty; otherwise the change is staged and the
	// returned taskID identifies it.
	CreateEvent(ctx context.Context, eventPath string, cal *ical.Calendar, grace time.Duration) (taskID string, err error)
	// ModifyEvent answers an ungraced write with the stored representation
	// when the server returns one.
	ModifyEvent(ctx context.Context, eventPath string, cal *ical.Calendar, etag string, grace time.Duration) (taskID string, updated *CalendarObject, err error)
	RemoveEvent(ctx context.Context, eventPath string, etag string, grace time.Duration) (taskID string, err error)
	ListEvents(ctx context.Context, calendarPath string, start, end time.Time) ([]CalendarObject, error)
	CalendarHome(ctx context.Context, principalPath string) (string, error)
}

// CalendarObject is an event resource and its metadata.
type CalendarObject struct {
	Calendar *ical.Calendar
	Path     string
	ETag     string
}

type davClient struct {
	httpClient httpclient.HttpClientWrapper
	logger     *slog.Logger
}

// NewDAVClient creates a new calendar gateway client.
func NewDAVClient(httpClient httpclient.HttpClientWrapper, logger *slog.Logger) DAVClient {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &davClient{
		httpClient: httpClient,
		logger:     logger,
	}
}
