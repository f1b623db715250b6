package calendar

import (
	"context"
	"fmt"
	"net/http"

	"github.com/cyp0633/esncal/davclient"
	"github.com/cyp0633/esncal/grace"
	"github.com/cyp0633/esncal/internal/httpclient"
	"github.com/cyp0633/esncal/shell"
	"github.com/emersion/go-ical"
)

// Create stores cal in calendarPath. The new event is announced right away;
// once the window elapses it is re-fetched for its etag and returned. Undone
// and aborted creations return nil.
func (s *Service) Create(ctx context.Context, calendarPath string, cal *ical.Calendar) (*shell.Shell, error) {
	vevent := shell.FirstEvent(cal)
	if vevent == nil {
		return nil, ErrMissingVEvent
	}
	uid, _ := vevent.Props.Text(string(shell.PropUID))
	if uid == "" {
		return nil, ErrMissingUID
	}
	optimistic, err := shell.Decode(cal)
	if err != nil {
		return nil, err
	}

	eventPath := davclient.EventPath(calendarPath, uid)
	taskID, err := s.dav.CreateEvent(ctx, eventPath, cal, s.graceDelay)
	if err != nil {
		return nil, err
	}
	task, err := s.stage(grace.KindCreate, taskID, fmt.Sprintf("You are about to create a new event (%s).", optimistic.Title))
	if err != nil {
		return nil, err
	}
	optimistic.GraceTaskID = taskID
	s.emitter.EmitCreated(optimistic)

	outcome, err := s.await(ctx, task)
	if err != nil {
		return nil, err
	}

	switch outcome {
	case grace.OutcomeUndone:
		if err := s.grace.Cancel(ctx, taskID); err != nil {
			return nil, err
		}
		s.emitter.EmitRemoved(uid)
		return nil, nil
	case grace.OutcomeAborted:
		return nil, nil
	}

	created, err := s.reconcile(ctx, eventPath)
	if err != nil || created == nil {
		return nil, err
	}
	s.emitter.EmitModified(*created)
	s.emitter.PublishCreated(ctx, created.Calendar)
	return created, nil
}

// Remove deletes the event sh stored at path. A staged modification of sh is
// cancelled first and the event is deleted in its stored version. Otherwise,
// without an etag the event was never committed, so its staged creation is
// cancelled instead of issuing a DELETE.
func (s *Service) Remove(ctx context.Context, path string, sh shell.Shell, etag string) error {
	if task, ok := s.stagedModification(sh.GraceTaskID); ok {
		if err := s.grace.Cancel(ctx, task.ID); err != nil {
			return err
		}
		stored, err := s.GetEvent(ctx, path)
		if err != nil {
			return fmt.Errorf("failed to refresh event after cancelling its modification: %w", err)
		}
		sh, etag = *stored, stored.ETag
	}

	if etag == "" {
		if sh.GraceTaskID == "" {
			return ErrNotPersisted
		}
		if err := s.grace.Cancel(ctx, sh.GraceTaskID); err != nil {
			return err
		}
		s.emitter.EmitRemoved(sh.ID)
		return nil
	}

	cal := shell.Encode(sh)
	restored := sh
	restored.Path = path
	restored.ETag = etag
	restored.GraceTaskID = ""
	restored.Calendar = cal

	taskID, err := s.dav.RemoveEvent(ctx, path, etag, s.graceDelay)
	if err != nil {
		return err
	}
	task, err := s.stage(grace.KindDelete, taskID, fmt.Sprintf("You are about to delete the event (%s).", sh.Title))
	if err != nil {
		return err
	}
	s.emitter.EmitRemoved(sh.ID)

	outcome, err := s.await(ctx, task)
	if err != nil {
		return err
	}

	switch outcome {
	case grace.OutcomeUndone:
		if err := s.grace.Cancel(ctx, taskID); err != nil {
			return err
		}
		s.emitter.EmitCreated(restored)
	case grace.OutcomeConfirmed:
		s.emitter.PublishDeleted(ctx, cal)
	}
	return nil
}

// stagedModification returns the tracked task taskID when it stages a
// modification.
func (s *Service) stagedModification(taskID string) (grace.Task, bool) {
	if taskID == "" {
		return grace.Task{}, false
	}
	task, ok := s.grace.Lookup(taskID)
	if !ok || task.Kind != grace.KindModify {
		return grace.Task{}, false
	}
	return task, true
}

// Modify replaces the event at path with sh. previous is restored locally if
// the change is undone. A stale etag makes Modify re-fetch the event and try
// again, up to the configured number of attempts.
func (s *Service) Modify(ctx context.Context, path string, sh, previous shell.Shell, etag string) (*shell.Shell, error) {
	return s.modify(ctx, path, sh, previous, etag, func(shell.Shell) (shell.Shell, bool) {
		return sh, true
	})
}

// ChangeParticipation sets the answer of every attendee of sh listed in
// emails to status. It returns nil without a request when nothing changes.
// On conflict the answer is applied again to the fresh event.
func (s *Service) ChangeParticipation(ctx context.Context, path string, sh shell.Shell, emails []string, status, etag string) (*shell.Shell, error) {
	next, changed := shell.WithParticipation(sh, emails, status)
	if !changed {
		return nil, nil
	}
	return s.modify(ctx, path, next, sh, etag, func(current shell.Shell) (shell.Shell, bool) {
		return shell.WithParticipation(current, emails, status)
	})
}

// modify PUTs next and settles its grace window. On 412 rebase derives the
// next attempt from the event currently stored; a false result means there is
// nothing left to change.
func (s *Service) modify(ctx context.Context, path string, next, previous shell.Shell, etag string, rebase func(shell.Shell) (shell.Shell, bool)) (*shell.Shell, error) {
	if err := next.Validate(); err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		taskID, updated, err := s.dav.ModifyEvent(ctx, path, shell.Encode(next), etag, s.graceDelay)
		if err == nil {
			return s.settleModify(ctx, path, next, previous, taskID, updated)
		}
		if !httpclient.IsStatus(err, http.StatusPreconditionFailed) {
			return nil, err
		}
		lastErr = err
		if attempt == s.maxAttempts {
			break
		}

		current, err := s.GetEvent(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("failed to refresh event after conflict: %w", err)
		}
		s.logger.Info("etag conflict, retrying", "path", path, "attempt", attempt, "etag", current.ETag)

		var changed bool
		if next, changed = rebase(*current); !changed {
			return nil, nil
		}
		previous = *current
		etag = current.ETag
	}
	return nil, fmt.Errorf("%w: gave up after %d attempts: %w", ErrConflict, s.maxAttempts, lastErr)
}

func (s *Service) settleModify(ctx context.Context, path string, next, previous shell.Shell, taskID string, updated *davclient.CalendarObject) (*shell.Shell, error) {
	task, err := s.stage(grace.KindModify, taskID, fmt.Sprintf("You are about to modify the event (%s).", next.Title))
	if err != nil {
		return nil, err
	}
	optimistic := next
	optimistic.Path = path
	optimistic.ETag = ""
	optimistic.GraceTaskID = taskID
	s.emitter.EmitModified(optimistic)

	outcome, err := s.await(ctx, task)
	if err != nil {
		return nil, err
	}

	switch outcome {
	case grace.OutcomeUndone:
		if err := s.grace.Cancel(ctx, taskID); err != nil {
			return nil, err
		}
		s.emitter.EmitModified(previous)
		return &previous, nil
	case grace.OutcomeAborted:
		return nil, nil
	}

	var modified *shell.Shell
	if updated != nil {
		decoded, err := shell.Decode(updated.Calendar, shell.WithPath(updated.Path), shell.WithETag(updated.ETag))
		if err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", path, err)
		}
		modified = &decoded
	} else if modified, err = s.reconcile(ctx, path); err != nil || modified == nil {
		return nil, err
	}
	s.emitter.EmitModified(*modified)
	s.emitter.PublishUpdated(ctx, modified.Calendar)
	return modified, nil
}
