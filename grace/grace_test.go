package grace

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/cyp0633/esncal/internal/httpclient"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockCanceler struct {
	mock.Mock
}

func (m *mockCanceler) CancelTask(ctx context.Context, taskID string) error {
	args := m.Called(ctx, taskID)
	return args.Error(0)
}

type result struct {
	outcome Outcome
	err     error
}

// startGrace runs Grace in the background and waits for the task to be announced.
func startGrace(t *testing.T, s *Service, announced <-chan Task, task Task) <-chan result {
	t.Helper()
	res := make(chan result, 1)
	go func() {
		o, err := s.Grace(context.Background(), task)
		res <- result{o, err}
	}()
	select {
	case got := <-announced:
		require.Equal(t, task.ID, got.ID)
	case <-time.After(time.Second):
		t.Fatal("task was never announced")
	}
	return res
}

func wait(t *testing.T, res <-chan result) result {
	t.Helper()
	select {
	case r := <-res:
		return r
	case <-time.After(time.Second):
		t.Fatal("grace window never closed")
		return result{}
	}
}

func newTestService(canceler Canceler) (*Service, chan time.Time, chan Task) {
	expire := make(chan time.Time, 1)
	announced := make(chan Task, 4)
	s := NewService(canceler,
		WithTimer(func(time.Duration) <-chan time.Time { return expire }),
		WithAnnouncer(func(task Task) { announced <- task }),
	)
	return s, expire, announced
}

func TestGraceConfirmed(t *testing.T) {
	s, expire, announced := newTestService(nil)
	task := Task{ID: "t1", Kind: KindCreate, Message: "You are about to create a new event (Standup).", CancelLabel: "Cancel it", Delay: 10 * time.Second}

	res := startGrace(t, s, announced, task)
	state, ok := s.State("t1")
	require.True(t, ok)
	assert.Equal(t, StateStaged, state)
	assert.Equal(t, []Task{task}, s.Pending())
	tracked, ok := s.Lookup("t1")
	require.True(t, ok)
	assert.Equal(t, KindCreate, tracked.Kind)

	expire <- time.Now()
	r := wait(t, res)
	require.NoError(t, r.err)
	assert.Equal(t, OutcomeConfirmed, r.outcome)

	_, ok = s.State("t1")
	assert.False(t, ok, "task is untracked once its window ends")
	_, ok = s.Lookup("t1")
	assert.False(t, ok)
	assert.Empty(t, s.Pending())
	assert.False(t, s.Undo("t1"))
}

func TestGraceUndo(t *testing.T) {
	s, _, announced := newTestService(nil)

	res := startGrace(t, s, announced, Task{ID: "t1"})
	assert.True(t, s.Undo("t1"))
	assert.False(t, s.Undo("t1"), "undo applies once")

	r := wait(t, res)
	require.NoError(t, r.err)
	assert.Equal(t, OutcomeUndone, r.outcome)
}

func TestGraceCancel(t *testing.T) {
	canceler := &mockCanceler{}
	canceler.On("CancelTask", mock.Anything, "t1").Return(nil).Once()
	s, _, announced := newTestService(canceler)

	res := startGrace(t, s, announced, Task{ID: "t1"})
	require.NoError(t, s.Cancel(context.Background(), "t1"))

	r := wait(t, res)
	require.NoError(t, r.err)
	assert.Equal(t, OutcomeAborted, r.outcome)
	canceler.AssertExpectations(t)
}

func TestGraceCancelFailureKeepsWindowOpen(t *testing.T) {
	canceler := &mockCanceler{}
	canceler.On("CancelTask", mock.Anything, "t1").Return(errors.New("gateway down")).Once()
	s, expire, announced := newTestService(canceler)

	res := startGrace(t, s, announced, Task{ID: "t1"})
	err := s.Cancel(context.Background(), "t1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gateway down")

	state, ok := s.State("t1")
	require.True(t, ok)
	assert.Equal(t, StateStaged, state)

	expire <- time.Now()
	assert.Equal(t, OutcomeConfirmed, wait(t, res).outcome)
	canceler.AssertExpectations(t)
}

func TestCancelUntrackedTask(t *testing.T) {
	canceler := &mockCanceler{}
	canceler.On("CancelTask", mock.Anything, "gone").Return(nil).Once()
	s := NewService(canceler)

	require.NoError(t, s.Cancel(context.Background(), "gone"))
	assert.ErrorIs(t, s.Cancel(context.Background(), ""), ErrEmptyTaskID)
	canceler.AssertExpectations(t)
}

func TestGraceRejectsBadTasks(t *testing.T) {
	s, _, announced := newTestService(nil)

	_, err := s.Grace(context.Background(), Task{})
	assert.ErrorIs(t, err, ErrEmptyTaskID)

	res := startGrace(t, s, announced, Task{ID: "t1"})
	_, err = s.Grace(context.Background(), Task{ID: "t1"})
	assert.ErrorIs(t, err, ErrDuplicateTask)

	s.Undo("t1")
	wait(t, res)
}

func TestStageBeforeGrace(t *testing.T) {
	canceler := &mockCanceler{}
	canceler.On("CancelTask", mock.Anything, "t1").Return(nil).Once()
	s, _, announced := newTestService(canceler)

	task := Task{ID: "t1", Kind: KindModify}
	require.NoError(t, s.Stage(task))
	assert.ErrorIs(t, s.Stage(task), ErrDuplicateTask)
	assert.ErrorIs(t, s.Stage(Task{}), ErrEmptyTaskID)

	tracked, ok := s.Lookup("t1")
	require.True(t, ok)
	assert.Equal(t, KindModify, tracked.Kind)
	assert.Equal(t, []Task{task}, s.Pending())

	require.NoError(t, s.Cancel(context.Background(), "t1"))

	outcome, err := s.Grace(context.Background(), task)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAborted, outcome)
	assert.Empty(t, announced, "a window closed before it opened is not announced")
	_, ok = s.Lookup("t1")
	assert.False(t, ok)
	canceler.AssertExpectations(t)
}

func TestGraceWaitsOnStagedTask(t *testing.T) {
	s, expire, announced := newTestService(nil)
	task := Task{ID: "t1", Kind: KindCreate}
	require.NoError(t, s.Stage(task))

	res := startGrace(t, s, announced, task)
	_, err := s.Grace(context.Background(), task)
	assert.ErrorIs(t, err, ErrDuplicateTask)

	expire <- time.Now()
	assert.Equal(t, OutcomeConfirmed, wait(t, res).outcome)
}

func TestGraceContextDone(t *testing.T) {
	s := NewService(nil, WithTimer(func(time.Duration) <-chan time.Time { return nil }))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Grace(ctx, Task{ID: "t1"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, s.Pending())
}

func TestGraceRealTimer(t *testing.T) {
	s := NewService(nil)
	outcome, err := s.Grace(context.Background(), Task{ID: "t1", Delay: time.Millisecond})
	require.NoError(t, err)
	assert.Equal(t, OutcomeConfirmed, outcome)
}

func TestPendingOrder(t *testing.T) {
	s, _, announced := newTestService(nil)

	first := startGrace(t, s, announced, Task{ID: "b"})
	second := startGrace(t, s, announced, Task{ID: "a"})

	pending := s.Pending()
	require.Len(t, pending, 2)
	assert.Equal(t, "b", pending[0].ID)
	assert.Equal(t, "a", pending[1].ID)

	s.Undo("a")
	s.Undo("b")
	wait(t, first)
	wait(t, second)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "staged", StateStaged.String())
	assert.Equal(t, "cancelled", StateCancelled.String())
	assert.Equal(t, "undone", OutcomeUndone.String())
	assert.Equal(t, "modify", KindModify.String())
	assert.Equal(t, "State(0)", State(0).String())
}

func TestHTTPCanceler(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr bool
	}{
		{name: "no content", status: http.StatusNoContent},
		{name: "ok", status: http.StatusOK},
		{name: "not found", status: http.StatusNotFound, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotMethod, gotPath string
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotMethod = r.Method
				gotPath = r.URL.Path
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			base, err := url.Parse(srv.URL + "/api")
			require.NoError(t, err)
			logger := slog.New(slog.NewTextHandler(io.Discard, nil))
			client, err := httpclient.NewHttpClientWrapper(srv.Client(), *base, logger)
			require.NoError(t, err)

			err = NewHTTPCanceler(client, logger).CancelTask(context.Background(), "task-1")
			assert.Equal(t, http.MethodDelete, gotMethod)
			assert.Equal(t, "/api/graceperiod/tasks/task-1", gotPath)
			if tt.wantErr {
				assert.True(t, httpclient.IsStatus(err, tt.status))
				return
			}
			assert.NoError(t, err)
		})
	}
}
