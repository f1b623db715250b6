package grace

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/cyp0633/esncal/internal/httpclient"
)

// TasksPath is the collection of staged changes on the API server.
const TasksPath = "/graceperiod/tasks/"

// HTTPCanceler aborts staged changes through the API server.
type HTTPCanceler struct {
	client httpclient.HttpClientWrapper
	logger *slog.Logger
}

// NewHTTPCanceler creates a canceler whose client is rooted at the API base URL.
func NewHTTPCanceler(client httpclient.HttpClientWrapper, logger *slog.Logger) *HTTPCanceler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &HTTPCanceler{client: client, logger: logger}
}

// CancelTask issues DELETE {apiBase}/graceperiod/tasks/{id}.
func (c *HTTPCanceler) CancelTask(ctx context.Context, taskID string) error {
	taskPath := TasksPath + url.PathEscape(taskID)
	resp, err := c.client.DoDELETE(ctx, taskPath, httpclient.RequestOptions{})
	if err != nil {
		return fmt.Errorf("failed to cancel task: %w", err)
	}
	if err := httpclient.Expect(resp, http.MethodDelete, taskPath, http.StatusNoContent, http.StatusOK); err != nil {
		return err
	}
	c.logger.Debug("staged change aborted", "task_id", taskID)
	return nil
}
