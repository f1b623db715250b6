// Package calendar wraps event creation, modification and removal in grace
// windows, keeping local subscribers in step with what the gateway commits.
package calendar

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cyp0633/esncal/davclient"
	"github.com/cyp0633/esncal/grace"
	"github.com/cyp0633/esncal/internal/httpclient"
	"github.com/cyp0633/esncal/notify"
	"github.com/cyp0633/esncal/shell"
	"github.com/emersion/go-ical"
)

const (
	DefaultGraceDelay  = 10 * time.Second
	DefaultMaxAttempts = 3

	CancelLabel = "Cancel it"
)

var (
	ErrMissingVEvent = errors.New("missing VEVENT in VCALENDAR")
	ErrMissingUID    = errors.New("missing UID in VEVENT")
	// ErrNotPersisted is returned when removing an event that has neither an
	// etag nor a staged creation to cancel.
	ErrNotPersisted = errors.New("event is neither stored nor staged")
	// ErrConflict is returned when every modification attempt lost against a
	// concurrent writer.
	ErrConflict = errors.New("event keeps changing on the server")
)

// Service is the calendar workflow.
type Service struct {
	dav         davclient.DAVClient
	grace       *grace.Service
	emitter     notify.Emitter
	graceDelay  time.Duration
	maxAttempts int
	logger      *slog.Logger
}

type Option func(*Service)

// WithGraceDelay sets the staging delay. Zero commits changes immediately.
func WithGraceDelay(d time.Duration) Option {
	return func(s *Service) {
		if d >= 0 {
			s.graceDelay = d
		}
	}
}

// WithMaxAttempts bounds the PUTs a modification makes when it keeps hitting
// a stale etag.
func WithMaxAttempts(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func NewService(dav davclient.DAVClient, graceService *grace.Service, emitter notify.Emitter, opts ...Option) *Service {
	s := &Service{
		dav:         dav,
		grace:       graceService,
		emitter:     emitter,
		graceDelay:  DefaultGraceDelay,
		maxAttempts: DefaultMaxAttempts,
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// List returns the events of calendarPath overlapping [start, end). Events
// that cannot be decoded are skipped.
func (s *Service) List(ctx context.Context, calendarPath string, start, end time.Time) ([]shell.Shell, error) {
	objects, err := s.dav.ListEvents(ctx, calendarPath, start, end)
	if err != nil {
		return nil, err
	}

	shells := make([]shell.Shell, 0, len(objects))
	for _, obj := range objects {
		sh, err := shell.Decode(obj.Calendar, shell.WithPath(obj.Path), shell.WithETag(obj.ETag))
		if err != nil {
			s.logger.Warn("skipping malformed event", "path", obj.Path, "error", err)
			continue
		}
		shells = append(shells, sh)
	}
	return shells, nil
}

// GetEvent fetches and decodes the event at path.
func (s *Service) GetEvent(ctx context.Context, path string) (*shell.Shell, error) {
	obj, err := s.dav.GetEvent(ctx, path)
	if err != nil {
		return nil, err
	}
	sh, err := shell.Decode(obj.Calendar, shell.WithPath(obj.Path), shell.WithETag(obj.ETag))
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return &sh, nil
}

// InvitedAttendees returns the properties of sh addressed to one of emails.
func (s *Service) InvitedAttendees(sh shell.Shell, emails []string) []ical.Prop {
	cal := sh.Calendar
	if cal == nil {
		cal = shell.Encode(sh)
	}
	return shell.InvitedAttendees(cal, emails)
}

// stage tracks the grace task of a staged change, so that it can be looked up
// as soon as the optimistic notification is out. A change without task id
// was committed right away.
func (s *Service) stage(kind grace.Kind, taskID, message string) (grace.Task, error) {
	task := grace.Task{
		ID:          taskID,
		Kind:        kind,
		Message:     message,
		CancelLabel: CancelLabel,
		Delay:       s.graceDelay,
	}
	if taskID == "" {
		return task, nil
	}
	return task, s.grace.Stage(task)
}

// await blocks for the grace window of task.
func (s *Service) await(ctx context.Context, task grace.Task) (grace.Outcome, error) {
	if task.ID == "" {
		return grace.OutcomeConfirmed, nil
	}
	return s.grace.Grace(ctx, task)
}

// reconcile re-fetches a committed event. A 404 means a cancel elsewhere
// superseded the change, and yields nil without error.
func (s *Service) reconcile(ctx context.Context, path string) (*shell.Shell, error) {
	sh, err := s.GetEvent(ctx, path)
	if httpclient.IsStatus(err, http.StatusNotFound) {
		s.logger.Debug("committed event is gone", "path", path)
		return nil, nil
	}
	return sh, err
}
