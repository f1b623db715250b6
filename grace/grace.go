// Package grace tracks changes the gateway has staged but not yet committed,
// and lets the user undo them before their window elapses.
package grace

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"
)

var (
	ErrEmptyTaskID   = errors.New("grace task has no id")
	ErrDuplicateTask = errors.New("grace task already tracked")
)

// State is the lifecycle position of a staged change. Tasks are tracked from
// the moment the server accepts them, so the zero State is never observed.
type State int

const (
	StateStaged State = iota + 1
	StateConfirmed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateStaged:
		return "staged"
	case StateConfirmed:
		return "confirmed"
	case StateCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Outcome is how a grace window ended.
type Outcome int

const (
	// OutcomeConfirmed means the window elapsed and the change is committed.
	OutcomeConfirmed Outcome = iota
	// OutcomeUndone means the user asked to revert the change. The caller
	// aborts the task on the server and compensates locally.
	OutcomeUndone
	// OutcomeAborted means the task was cancelled through Cancel while its
	// window was open. Whoever cancelled it owns the follow-up.
	OutcomeAborted
)

func (o Outcome) String() string {
	switch o {
	case OutcomeConfirmed:
		return "confirmed"
	case OutcomeUndone:
		return "undone"
	case OutcomeAborted:
		return "aborted"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Kind is the change a task stages.
type Kind int

const (
	KindCreate Kind = iota + 1
	KindModify
	KindDelete
)

func (k Kind) String() string {
	switch k {
	case KindCreate:
		return "create"
	case KindModify:
		return "modify"
	case KindDelete:
		return "delete"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Task is a staged change waiting for its window to elapse.
type Task struct {
	ID          string
	Kind        Kind
	Message     string
	CancelLabel string
	Delay       time.Duration
}

// Canceler aborts a staged change on the server.
type Canceler interface {
	CancelTask(ctx context.Context, taskID string) error
}

// Announcer is told about every task entering its window, typically to show
// the message with an undo control.
type Announcer func(Task)

type entry struct {
	task     Task
	state    State
	seq      uint64
	waiting  bool
	resolved bool
	done     chan Outcome
}

// Service owns the tracked tasks for the duration of their windows.
type Service struct {
	mu       sync.Mutex
	tasks    map[string]*entry
	seq      uint64
	canceler Canceler
	after    func(time.Duration) (<-chan time.Time, func())
	announce Announcer
	logger   *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithTimer replaces the wall clock used to expire windows.
func WithTimer(after func(time.Duration) <-chan time.Time) Option {
	return func(s *Service) {
		s.after = func(d time.Duration) (<-chan time.Time, func()) {
			return after(d), func() {}
		}
	}
}

func WithAnnouncer(a Announcer) Option {
	return func(s *Service) { s.announce = a }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewService creates a Service that aborts tasks through canceler.
func NewService(canceler Canceler, opts ...Option) *Service {
	s := &Service{
		tasks:    make(map[string]*entry),
		canceler: canceler,
		after: func(d time.Duration) (<-chan time.Time, func()) {
			t := time.NewTimer(d)
			return t.C, func() { t.Stop() }
		},
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Stage tracks task ahead of Grace, so that Lookup, Undo and Cancel see it
// before its window is awaited.
func (s *Service) Stage(task Task) error {
	if task.ID == "" {
		return ErrEmptyTaskID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.track(task)
	return err
}

// track registers task. The caller holds s.mu.
func (s *Service) track(task Task) (*entry, error) {
	if _, ok := s.tasks[task.ID]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateTask, task.ID)
	}
	s.seq++
	e := &entry{task: task, state: StateStaged, seq: s.seq, done: make(chan Outcome, 1)}
	s.tasks[task.ID] = e
	return e, nil
}

// Grace tracks task, unless Stage already did, and blocks until its window
// ends. The task stops being tracked when Grace returns. A done ctx returns
// ctx.Err() and leaves the staged change to commit on the server.
func (s *Service) Grace(ctx context.Context, task Task) (Outcome, error) {
	if task.ID == "" {
		return 0, ErrEmptyTaskID
	}

	s.mu.Lock()
	e, ok := s.tasks[task.ID]
	if !ok {
		var err error
		if e, err = s.track(task); err != nil {
			s.mu.Unlock()
			return 0, err
		}
	}
	if e.waiting {
		s.mu.Unlock()
		return 0, fmt.Errorf("%w: %s", ErrDuplicateTask, task.ID)
	}
	e.waiting = true
	resolved := e.resolved
	s.mu.Unlock()
	defer s.Remove(task.ID)

	if resolved {
		outcome := <-e.done
		s.logger.Debug("grace window closed before it opened", "task_id", task.ID, "outcome", outcome)
		return outcome, nil
	}

	s.logger.Debug("grace window opened", "task_id", task.ID, "kind", task.Kind, "delay", task.Delay)
	if s.announce != nil {
		s.announce(task)
	}

	expired, stop := s.after(task.Delay)
	defer stop()

	select {
	case outcome := <-e.done:
		s.logger.Debug("grace window closed", "task_id", task.ID, "outcome", outcome)
		return outcome, nil
	case <-expired:
		if !s.finish(task.ID, OutcomeConfirmed) {
			// Undo or Cancel won the race against the timer.
			outcome := <-e.done
			s.logger.Debug("grace window closed", "task_id", task.ID, "outcome", outcome)
			return outcome, nil
		}
		<-e.done
		s.logger.Debug("grace window closed", "task_id", task.ID, "outcome", OutcomeConfirmed)
		return OutcomeConfirmed, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Undo ends the window of taskID with OutcomeUndone. It reports false when
// the task is unknown or its window already ended.
func (s *Service) Undo(taskID string) bool {
	ok := s.finish(taskID, OutcomeUndone)
	if ok {
		s.logger.Info("grace task undone", "task_id", taskID)
	}
	return ok
}

// Cancel aborts the staged change on the server. A task still in its window
// ends with OutcomeAborted; an untracked task is only cancelled remotely.
func (s *Service) Cancel(ctx context.Context, taskID string) error {
	if taskID == "" {
		return ErrEmptyTaskID
	}
	if s.canceler == nil {
		return errors.New("grace service has no canceler")
	}
	if err := s.canceler.CancelTask(ctx, taskID); err != nil {
		return fmt.Errorf("failed to cancel grace task %s: %w", taskID, err)
	}

	s.mu.Lock()
	if e, ok := s.tasks[taskID]; ok {
		e.state = StateCancelled
	}
	s.mu.Unlock()
	s.finish(taskID, OutcomeAborted)

	s.logger.Info("grace task cancelled", "task_id", taskID)
	return nil
}

// Remove stops tracking taskID.
func (s *Service) Remove(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, taskID)
}

// State returns the state of a tracked task.
func (s *Service) State(taskID string) (State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.tasks[taskID]
	if !ok {
		return 0, false
	}
	return e.state, true
}

// Lookup returns the tracked task taskID.
func (s *Service) Lookup(taskID string) (Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.tasks[taskID]
	if !ok {
		return Task{}, false
	}
	return e.task, true
}

// Pending returns the tracked tasks whose window is still open, oldest first.
func (s *Service) Pending() []Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := make([]*entry, 0, len(s.tasks))
	for _, e := range s.tasks {
		if !e.resolved {
			entries = append(entries, e)
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })

	tasks := make([]Task, len(entries))
	for i, e := range entries {
		tasks[i] = e.task
	}
	return tasks
}

// finish resolves the window of taskID once. Later calls report false.
func (s *Service) finish(taskID string, outcome Outcome) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.tasks[taskID]
	if !ok || e.resolved {
		return false
	}
	e.resolved = true
	switch outcome {
	case OutcomeConfirmed:
		e.state = StateConfirmed
	default:
		e.state = StateCancelled
	}
	e.done <- outcome
	return true
}
