package httpclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// HttpClientWrapper wraps http.Client with the verbs the calendar gateway
// understands. It does not interpret status codes; callers decide what a
// successful answer is for each operation.
type HttpClientWrapper interface {
	DoGET(ctx context.Context, url string, opts RequestOptions) (*Response, error)
	DoPUT(ctx context.Context, url string, opts RequestOptions, body []byte) (*Response, error)
	DoPOST(ctx context.Context, url string, opts RequestOptions, body []byte) (*Response, error)
	DoDELETE(ctx context.Context, url string, opts RequestOptions) (*Response, error)
	DoPROPFIND(ctx context.Context, url string, depth int, body []byte) (*Response, error)
}

// RequestOptions carries extra headers and query parameters for a request.
type RequestOptions struct {
	Header http.Header
	Query  url.Values
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Status     string
	Header     http.Header
	Body       []byte
}

type httpClientWrapper struct {
	client  *http.Client
	baseURL url.URL
	logger  *slog.Logger
}

// NewHttpClientWrapper creates a new client wrapper. Relative request paths
// are appended to baseURL's path.
func NewHttpClientWrapper(client *http.Client, baseURL url.URL, logger *slog.Logger) (HttpClientWrapper, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &httpClientWrapper{client: client, baseURL: baseURL, logger: logger}, nil
}

// resolveURL appends urlStr to the base URL path. Absolute URLs are used as is.
func (c *httpClientWrapper) resolveURL(urlStr string, query url.Values) (*url.URL, error) {
	ref, err := url.Parse(urlStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL %q: %w", urlStr, err)
	}

	var resolved url.URL
	if ref.IsAbs() {
		resolved = *ref
	} else {
		resolved = c.baseURL
		resolved.Path = strings.TrimRight(c.baseURL.Path, "/") + "/" + strings.TrimLeft(ref.Path, "/")
		resolved.RawPath = ""
		resolved.RawQuery = ref.RawQuery
	}

	if len(query) > 0 {
		q := resolved.Query()
		for key, values := range query {
			for _, v := range values {
				q.Add(key, v)
			}
		}
		resolved.RawQuery = q.Encode()
	}
	return &resolved, nil
}

func (c *httpClientWrapper) do(ctx context.Context, method, urlStr string, opts RequestOptions, body []byte) (*Response, error) {
	c.logger.Debug("starting "+method+" request",
		"url", urlStr,
		"query", opts.Query,
		"data_length", len(body))

	resolvedURL, err := c.resolveURL(urlStr, opts.Query)
	if err != nil {
		c.logger.Debug("failed to resolve URL", "url", urlStr, "error", err)
		return nil, fmt.Errorf("failed to resolve URL %q: %w", urlStr, err)
	}
	c.logger.Debug("resolved URL", "url", resolvedURL.String())

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, resolvedURL.String(), reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s request: %w", method, err)
	}
	for key, values := range opts.Header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("request failed", "method", method, "error", err)
		return nil, fmt.Errorf("failed to send %s request: %w", method, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s response: %w", method, err)
	}

	c.logger.Debug(method+" request complete",
		"status", resp.Status,
		"etag", resp.Header.Get("ETag"),
		"body_length", len(data))

	return &Response{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Header:     resp.Header,
		Body:       data,
	}, nil
}
