package httpclient

import (
	"context"
	"net/http"
)

// DoGET fetches a resource.
func (c *httpClientWrapper) DoGET(ctx context.Context, urlStr string, opts RequestOptions) (*Response, error) {
	return c.do(ctx, http.MethodGet, urlStr, opts, nil)
}
