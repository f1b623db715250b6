// Package eventsource feeds a calendar view from a calendar collection.
package eventsource

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/cyp0633/esncal/davclient"
	"github.com/cyp0633/esncal/shell"
)

// ErrorMessage is reported alongside list failures.
const ErrorMessage = "Can not get calendar events"

// Lister lists the events of a calendar collection.
type Lister interface {
	List(ctx context.Context, calendarPath string, start, end time.Time) ([]shell.Shell, error)
}

// ErrorReporter surfaces errors to the user.
type ErrorReporter interface {
	ReportError(err error, message string)
}

// ReporterFunc adapts a function to ErrorReporter.
type ReporterFunc func(err error, message string)

func (f ReporterFunc) ReportError(err error, message string) { f(err, message) }

// Source answers a view asking for the events between start and end. The
// callback always runs exactly once; failures yield an empty list.
type Source func(ctx context.Context, start, end time.Time, timezone string, callback func([]shell.Shell))

// New returns the Source of calendarID, listed at /calendars/{calendarID}/events.
// Cancelled events are left out.
func New(lister Lister, calendarID string, reporter ErrorReporter, logger *slog.Logger) Source {
	return NewForPath(lister, davclient.CalendarPath(calendarID, davclient.DefaultCalendarID), reporter, logger)
}

// NewForPath returns the Source of the calendar collection at path.
func NewForPath(lister Lister, path string, reporter ErrorReporter, logger *slog.Logger) Source {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return func(ctx context.Context, start, end time.Time, timezone string, callback func([]shell.Shell)) {
		shells, err := lister.List(ctx, path, start, end)
		if err != nil {
			logger.Error("failed to list events", "path", path, "timezone", timezone, "error", err)
			callback([]shell.Shell{})
			if reporter != nil {
				reporter.ReportError(err, ErrorMessage)
			}
			return
		}

		visible := make([]shell.Shell, 0, len(shells))
		for _, s := range shells {
			if !s.IsCancelled() {
				visible = append(visible, s)
			}
		}
		logger.Debug("listed events", "path", path, "count", len(visible), "cancelled", len(shells)-len(visible))
		callback(visible)
	}
}
