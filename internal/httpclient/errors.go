package httpclient

import (
	"errors"
	"fmt"
	"slices"
)

// StatusError reports a response whose status was not one the operation
// expected. It keeps the raw response for the caller.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Status     string
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %d", e.Method, e.URL, e.StatusCode)
}

// Expect returns a *StatusError unless resp has one of the given codes.
func Expect(resp *Response, method, url string, codes ...int) error {
	if slices.Contains(codes, resp.StatusCode) {
		return nil
	}
	return &StatusError{
		Method:     method,
		URL:        url,
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Body:       resp.Body,
	}
}

// IsStatus reports whether err wraps a *StatusError with the given code.
func IsStatus(err error, code int) bool {
	var statusErr *StatusError
	return errors.As(err, &statusErr) && statusErr.StatusCode == code
}
