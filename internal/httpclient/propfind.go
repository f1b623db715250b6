package httpclient

import (
	"context"
	"strconv"
)

// DoPROPFIND performs a PROPFIND request with an XML body.
func (c *httpClientWrapper) DoPROPFIND(ctx context.Context, urlStr string, depth int, body []byte) (*Response, error) {
	opts := RequestOptions{Header: map[string][]string{
		"Depth":        {strconv.Itoa(depth)},
		"Content-Type": {"application/xml; charset=utf-8"},
	}}
	return c.do(ctx, "PROPFIND", urlStr, opts, body)
}
