package davclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cyp0633/esncal/internal/httpclient"
	"github.com/cyp0633/esncal/internal/jcal"
)

// MatchTimeLayout formats the bounds of a list request.
const MatchTimeLayout = "20060102T150405"

// TimeRange bounds a list request.
type TimeRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type listRequest struct {
	Match TimeRange `json:"match"`
}

type listResponse struct {
	Embedded *struct {
		Items []listItem `json:"dav:item"`
	} `json:"_embedded"`
}

type listItem struct {
	Data  json.RawMessage `json:"data"`
	ETag  string          `json:"etag"`
	Links struct {
		Self struct {
			Href string `json:"href"`
		} `json:"self"`
	} `json:"_links"`
}

// ListEvents returns the events of the calendar at calendarPath overlapping
// [start, end). A response without an item list is an empty calendar.
func (c *davClient) ListEvents(ctx context.Context, calendarPath string, start, end time.Time) ([]CalendarObject, error) {
	body, err := json.Marshal(listRequest{Match: TimeRange{
		Start: start.Format(MatchTimeLayout),
		End:   end.Format(MatchTimeLayout),
	}})
	if err != nil {
		return nil, fmt.Errorf("failed to encode list request: %w", err)
	}

	listPath := strings.TrimRight(calendarPath, "/") + ".json"
	resp, err := c.httpClient.DoPOST(ctx, listPath, httpclient.RequestOptions{
		Header: http.Header{"Content-Type": {"application/json"}, "Accept": {"application/json"}},
	}, body)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	if err := httpclient.Expect(resp, http.MethodPost, listPath, http.StatusOK); err != nil {
		return nil, err
	}

	var list listResponse
	if len(resp.Body) > 0 {
		if err := json.Unmarshal(resp.Body, &list); err != nil {
			return nil, fmt.Errorf("failed to decode list response: %w", err)
		}
	}
	if list.Embedded == nil {
		return []CalendarObject{}, nil
	}

	objects := make([]CalendarObject, 0, len(list.Embedded.Items))
	for _, item := range list.Embedded.Items {
		cal, err := jcal.Unmarshal(item.Data)
		if err != nil {
			c.logger.Warn("skipping unparsable event", "href", item.Links.Self.Href, "error", err)
			continue
		}
		objects = append(objects, CalendarObject{
			Calendar: cal,
			Path:     item.Links.Self.Href,
			ETag:     item.ETag,
		})
	}

	c.logger.Debug("listed events", "calendar", calendarPath, "count", len(objects))
	return objects, nil
}
