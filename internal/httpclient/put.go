package httpclient

import (
	"context"
	"net/http"
)

// DoPUT stores body at urlStr. Conditional and content headers come from opts.
func (c *httpClientWrapper) DoPUT(ctx context.Context, urlStr string, opts RequestOptions, body []byte) (*Response, error) {
	return c.do(ctx, http.MethodPut, urlStr, opts, body)
}

// DoPOST sends body to urlStr.
func (c *httpClientWrapper) DoPOST(ctx context.Context, urlStr string, opts RequestOptions, body []byte) (*Response, error) {
	return c.do(ctx, http.MethodPost, urlStr, opts, body)
}
