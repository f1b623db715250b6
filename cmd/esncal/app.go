package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/cyp0633/esncal/calendar"
	"github.com/cyp0633/esncal/davclient"
	"github.com/cyp0633/esncal/grace"
	"github.com/cyp0633/esncal/internal/config"
	"github.com/cyp0633/esncal/internal/httpclient"
	"github.com/cyp0633/esncal/internal/logging"
	"github.com/cyp0633/esncal/notify"
	"github.com/cyp0633/esncal/shell"
)

// app holds the wired components behind every command.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	dav       davclient.DAVClient
	grace     *grace.Service
	bus       *notify.Bus
	publisher *notify.WebsocketPublisher
	service   *calendar.Service
}

func newApp(cfg *config.Config) (*app, error) {
	logger := logging.New(cfg.LogLevel, os.Stderr)
	if cfg.Calendar.Timezone != "" {
		shell.SetLocalTimezone(cfg.Calendar.Timezone)
	}

	transport := http.DefaultTransport
	switch {
	case cfg.DAV.Token != "":
		transport = httpclient.NewTokenTransport(cfg.DAV.Token, transport, logger)
	case cfg.DAV.Username != "":
		transport = httpclient.NewBasicAuthTransport(cfg.DAV.Username, cfg.DAV.Password, transport, logger)
	}
	client := &http.Client{Transport: transport, Timeout: 30 * time.Second}

	davURL, err := url.Parse(cfg.DAV.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid dav.base_url: %w", err)
	}
	apiURL, err := url.Parse(cfg.API.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid api.base_url: %w", err)
	}
	davHTTP, err := httpclient.NewHttpClientWrapper(client, *davURL, logger)
	if err != nil {
		return nil, err
	}
	apiHTTP, err := httpclient.NewHttpClientWrapper(client, *apiURL, logger)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger, dav: davclient.NewDAVClient(davHTTP, logger)}

	var publisher notify.Publisher
	if cfg.Push.URL != "" {
		a.publisher = notify.NewWebsocketPublisher(cfg.Push.URL, pushHeader(cfg), logger)
		publisher = a.publisher
	}
	a.bus = notify.NewBus(publisher, logger)
	a.bus.Subscribe(func(ev notify.Event) {
		switch ev.Kind {
		case notify.KindMessagePosted:
			logger.Info("event posted to activity stream", "message_id", ev.MessageID, "stream_id", ev.StreamID)
		default:
			logger.Debug("local notification", "kind", ev.Kind, "id", ev.ID)
		}
	})

	a.grace = grace.NewService(grace.NewHTTPCanceler(apiHTTP, logger),
		grace.WithLogger(logger),
		grace.WithAnnouncer(func(task grace.Task) {
			fmt.Fprintf(os.Stderr, "%s Press Ctrl-C within %s to %s.\n", task.Message, task.Delay, task.CancelLabel)
		}),
	)
	a.service = calendar.NewService(a.dav, a.grace, a.bus,
		calendar.WithGraceDelay(cfg.Calendar.GraceDelay),
		calendar.WithMaxAttempts(cfg.Calendar.MaxAttempts),
		calendar.WithLogger(logger),
	)
	return a, nil
}

func pushHeader(cfg *config.Config) http.Header {
	header := http.Header{}
	switch {
	case cfg.DAV.Token != "":
		header.Set("Authorization", "Bearer "+cfg.DAV.Token)
	case cfg.DAV.Username != "":
		req := &http.Request{Header: header}
		req.SetBasicAuth(cfg.DAV.Username, cfg.DAV.Password)
	}
	return header
}

// userEmails are the addresses the configured user answers invitations with.
func (a *app) userEmails() []string {
	if strings.Contains(a.cfg.DAV.Username, "@") {
		return []string{a.cfg.DAV.Username}
	}
	return nil
}

func (a *app) close() {
	if a.publisher != nil {
		a.publisher.Close()
	}
}

// calendarPath resolves the configured calendar, looking the home up when it
// is not configured.
func (a *app) calendarPath(ctx context.Context) (string, error) {
	homeID := a.cfg.Calendar.HomeID
	if homeID == "" {
		var err error
		if homeID, err = a.dav.CalendarHome(ctx, a.cfg.DAV.PrincipalPath); err != nil {
			return "", err
		}
	}
	return davclient.CalendarPath(homeID, a.cfg.Calendar.CalendarID), nil
}

// undoOnInterrupt turns the first Ctrl-C during a grace window into an undo
// of every pending change. Without pending changes it cancels ctx.
func (a *app) undoOnInterrupt(ctx context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-signals:
				pending := a.grace.Pending()
				if len(pending) == 0 {
					cancel()
					return
				}
				for _, task := range pending {
					if a.grace.Undo(task.ID) {
						fmt.Fprintf(os.Stderr, "Undoing: %s\n", task.Message)
					}
				}
			}
		}
	}()

	return ctx, func() {
		signal.Stop(signals)
		cancel()
	}
}
