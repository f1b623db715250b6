package httpclient

import (
	"context"
	"net/http"
)

// DoDELETE removes a resource. Pass If-Match in opts for optimistic locking.
func (c *httpClientWrapper) DoDELETE(ctx context.Context, urlStr string, opts RequestOptions) (*Response, error) {
	return c.do(ctx, http.MethodDelete, urlStr, opts, nil)
}
