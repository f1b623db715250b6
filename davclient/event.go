package davclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cyp0633/esncal/internal/httpclient"
	"github.com/cyp0633/esncal/internal/jcal"
	"github.com/emersion/go-ical"
)

// ErrNoTaskID is returned when a staged change was accepted without a task id.
var ErrNoTaskID = errors.New("accepted response carries no task id")

// GetEvent fetches the event at eventPath.
func (c *davClient) GetEvent(ctx context.Context, eventPath string) (*CalendarObject, error) {
	resp, err := c.httpClient.DoGET(ctx, eventPath, httpclient.RequestOptions{
		Header: http.Header{"Accept": {ContentTypeCalendarJSON}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	if err := httpclient.Expect(resp, http.MethodGet, eventPath, http.StatusOK); err != nil {
		return nil, err
	}

	cal, err := jcal.Unmarshal(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to decode event %s: %w", eventPath, err)
	}
	return &CalendarObject{
		Calendar: cal,
		Path:     eventPath,
		ETag:     resp.Header.Get("ETag"),
	}, nil
}

// CreateEvent stores cal at eventPath.
func (c *davClient) CreateEvent(ctx context.Context, eventPath string, cal *ical.Calendar, grace time.Duration) (string, error) {
	body, err := jcal.Marshal(cal)
	if err != nil {
		return "", fmt.Errorf("failed to encode calendar object: %w", err)
	}

	opts := httpclient.RequestOptions{
		Header: http.Header{"Content-Type": {ContentTypeCalendarJSON}},
		Query:  graceQuery(grace),
	}
	resp, err := c.httpClient.DoPUT(ctx, eventPath, opts, body)
	if err != nil {
		return "", fmt.Errorf("failed to create calendar object: %w", err)
	}

	if grace <= 0 {
		return "", httpclient.Expect(resp, http.MethodPut, eventPath, http.StatusCreated)
	}
	return c.taskID(resp, http.MethodPut, eventPath)
}

// ModifyEvent replaces the event at eventPath. A non-empty etag makes the
// write conditional on the server still holding that version. An ungraced
// write answered with a representation returns it as updated.
func (c *davClient) ModifyEvent(ctx context.Context, eventPath string, cal *ical.Calendar, etag string, grace time.Duration) (string, *CalendarObject, error) {
	body, err := jcal.Marshal(cal)
	if err != nil {
		return "", nil, fmt.Errorf("failed to encode calendar object: %w", err)
	}

	header := http.Header{
		"Content-Type": {ContentTypeCalendarJSON},
		"Prefer":       {PreferRepresentation},
	}
	if etag != "" {
		header.Set("If-Match", etag)
	}
	resp, err := c.httpClient.DoPUT(ctx, eventPath, httpclient.RequestOptions{Header: header, Query: graceQuery(grace)}, body)
	if err != nil {
		return "", nil, fmt.Errorf("failed to update calendar object: %w", err)
	}

	if grace > 0 {
		taskID, err := c.taskID(resp, http.MethodPut, eventPath)
		return taskID, nil, err
	}
	if err := httpclient.Expect(resp, http.MethodPut, eventPath, http.StatusOK, http.StatusNoContent); err != nil {
		return "", nil, err
	}
	if resp.StatusCode != http.StatusOK || len(resp.Body) == 0 {
		return "", nil, nil
	}

	updated, err := jcal.Unmarshal(resp.Body)
	if err != nil {
		return "", nil, fmt.Errorf("failed to decode representation of %s: %w", eventPath, err)
	}
	return "", &CalendarObject{
		Calendar: updated,
		Path:     eventPath,
		ETag:     resp.Header.Get("ETag"),
	}, nil
}

// RemoveEvent deletes the event at eventPath, conditionally on etag when set.
func (c *davClient) RemoveEvent(ctx context.Context, eventPath string, etag string, grace time.Duration) (string, error) {
	header := http.Header{}
	if etag != "" {
		header.Set("If-Match", etag)
	}
	resp, err := c.httpClient.DoDELETE(ctx, eventPath, httpclient.RequestOptions{Header: header, Query: graceQuery(grace)})
	if err != nil {
		return "", fmt.Errorf("failed to delete calendar object: %w", err)
	}

	if grace <= 0 {
		return "", httpclient.Expect(resp, http.MethodDelete, eventPath, http.StatusNoContent, http.StatusOK)
	}
	return c.taskID(resp, http.MethodDelete, eventPath)
}

// taskID extracts the staged task id from a 202 response.
func (c *davClient) taskID(resp *httpclient.Response, method, path string) (string, error) {
	if err := httpclient.Expect(resp, method, path, http.StatusAccepted); err != nil {
		return "", err
	}

	var accepted struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(resp.Body, &accepted); err != nil {
		return "", fmt.Errorf("failed to decode task response: %w", err)
	}
	if accepted.ID == "" {
		return "", ErrNoTaskID
	}

	c.logger.Debug("change staged", "method", method, "path", path, "task_id", accepted.ID)
	return accepted.ID, nil
}

func graceQuery(grace time.Duration) url.Values {
	if grace <= 0 {
		return nil
	}
	return url.Values{GracePeriodParam: {strconv.FormatInt(grace.Milliseconds(), 10)}}
}
