package httpclient

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"net/http"
)

// AuthTransport implements http.RoundTripper and authenticates outgoing
// requests to the calendar gateway, either with Basic credentials or with a
// bearer token.
type AuthTransport struct {
	Username  string
	Password  string
	Token     string
	Transport http.RoundTripper
	Logger    *slog.Logger
}

// NewBasicAuthTransport creates an AuthTransport using Basic credentials. If
// transport is nil, http.DefaultTransport will be used.
func NewBasicAuthTransport(username, password string, transport http.RoundTripper, logger *slog.Logger) *AuthTransport {
	return newAuthTransport(&AuthTransport{Username: username, Password: password, Transport: transport, Logger: logger})
}

// NewTokenTransport creates an AuthTransport sending "Authorization: Bearer token".
func NewTokenTransport(token string, transport http.RoundTripper, logger *slog.Logger) *AuthTransport {
	return newAuthTransport(&AuthTransport{Token: token, Transport: transport, Logger: logger})
}

func newAuthTransport(t *AuthTransport) *AuthTransport {
	if t.Transport == nil {
		t.Transport = http.DefaultTransport
	}
	if t.Logger == nil {
		t.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return t
}

// RoundTrip implements the http.RoundTripper interface.
func (t *AuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.Transport == nil {
		return nil, errors.New("transport cannot be nil")
	}

	// RoundTrip must not modify the caller's request.
	req = req.Clone(req.Context())
	switch {
	case t.Token != "":
		req.Header.Set("Authorization", "Bearer "+t.Token)
	case t.Username != "":
		if t.Password == "" {
			return nil, errors.New("basic auth password cannot be empty")
		}
		req.SetBasicAuth(t.Username, t.Password)
	default:
		return nil, errors.New("no credentials configured")
	}

	if t.Logger.Enabled(req.Context(), slog.LevelDebug) {
		reqBody := ""
		if req.Body != nil {
			bodyBytes, err := io.ReadAll(req.Body)
			if err == nil {
				reqBody = string(bodyBytes)
				req.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			}
		}
		t.Logger.Debug("outgoing request",
			"method", req.Method,
			"url", req.URL.String(),
			"body", reqBody)
	}

	resp, err := t.Transport.RoundTrip(req)
	if err == nil && resp != nil {
		t.Logger.Debug("incoming response",
			"status", resp.Status,
			"etag", resp.Header.Get("ETag"))
	}
	return resp, err
}
