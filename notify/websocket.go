package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/cyp0633/esncal/internal/jcal"
	"github.com/emersion/go-ical"
	"github.com/gorilla/websocket"
)

const defaultWriteWait = 10 * time.Second

// Frame is the JSON message written to the push channel.
type Frame struct {
	Namespace string          `json:"namespace"`
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data"`
}

// WebsocketPublisher writes events to a push server over a websocket. The
// connection is dialed on first use and redialed once when a write fails.
type WebsocketPublisher struct {
	url    string
	header http.Header
	dialer *websocket.Dialer
	logger *slog.Logger

	mu   sync.Mutex
	conn *websocket.Conn
}

var _ Publisher = (*WebsocketPublisher)(nil)

func NewWebsocketPublisher(url string, header http.Header, logger *slog.Logger) *WebsocketPublisher {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &WebsocketPublisher{
		url:    url,
		header: header,
		dialer: websocket.DefaultDialer,
		logger: logger,
	}
}

func (p *WebsocketPublisher) Publish(ctx context.Context, topic, event string, cal *ical.Calendar) error {
	data, err := jcal.Marshal(cal)
	if err != nil {
		return fmt.Errorf("failed to encode %s payload: %w", event, err)
	}
	payload, err := json.Marshal(Frame{Namespace: topic, Event: event, Data: data})
	if err != nil {
		return fmt.Errorf("failed to encode frame: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if p.conn == nil {
			conn, resp, err := p.dialer.DialContext(ctx, p.url, p.header)
			if resp != nil && resp.Body != nil {
				resp.Body.Close()
			}
			if err != nil {
				return fmt.Errorf("failed to dial push server: %w", err)
			}
			p.logger.Debug("connected to push server", "url", p.url)
			p.conn = conn
		}

		deadline, ok := ctx.Deadline()
		if !ok {
			deadline = time.Now().Add(defaultWriteWait)
		}
		if err := p.conn.SetWriteDeadline(deadline); err != nil {
			lastErr = err
		} else if lastErr = p.conn.WriteMessage(websocket.TextMessage, payload); lastErr == nil {
			p.logger.Debug("published", "topic", topic, "event", event)
			return nil
		}

		p.logger.Debug("push write failed, dropping connection", "error", lastErr, "attempt", attempt+1)
		p.conn.Close()
		p.conn = nil
	}
	return fmt.Errorf("failed to publish %s: %w", event, lastErr)
}

// Close drops the connection, if any.
func (p *WebsocketPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return nil
	}
	err := p.conn.Close()
	p.conn = nil
	return err
}
