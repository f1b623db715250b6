// Package davtest is an in-memory calendar gateway for tests. It stages
// graced changes and commits them once their deadline has passed.
package davtest

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cyp0633/esncal/internal/jcal"
	"github.com/cyp0633/esncal/shell"
	"github.com/emersion/go-ical"
	"github.com/google/uuid"
)

const (
	TasksPath      = "/graceperiod/tasks/"
	PrincipalsPath = "/principals/users/"
)

// Object is a committed event.
type Object struct {
	Path     string
	Calendar *ical.Calendar
	ETag     string
}

type change struct {
	id       string
	method   string
	path     string
	cal      *ical.Calendar
	deadline time.Time
}

// Gateway serves the calendar gateway and grace task API from memory.
type Gateway struct {
	mu       sync.Mutex
	homeID   string
	objects  map[string]*Object
	staged   map[string]*change
	requests []string
	now      func() time.Time
	handlers map[string]http.HandlerFunc
	logger   *slog.Logger
}

// New creates a gateway whose only user owns the calendar home homeID.
func New(homeID string, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	g := &Gateway{
		homeID:  homeID,
		objects: make(map[string]*Object),
		staged:  make(map[string]*change),
		now:     time.Now,
		logger:  logger,
	}
	g.handlers = map[string]http.HandlerFunc{
		"PROPFIND":        g.handlePropfind,
		http.MethodGet:    g.handleGet,
		http.MethodPut:    g.handlePut,
		http.MethodDelete: g.handleDelete,
		http.MethodPost:   g.handleList,
	}
	return g
}

// SetClock replaces the clock deciding when staged changes commit.
func (g *Gateway) SetClock(now func() time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.now = now
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	g.mu.Lock()
	g.requests = append(g.requests, req.Method+" "+req.URL.Path)
	g.commitDue()
	g.mu.Unlock()

	g.logger.Debug("received request", "method", req.Method, "path", req.URL.Path, "query", req.URL.RawQuery)

	handler, ok := g.handlers[req.Method]
	if !ok {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	handler(w, req)
}

// Put stores cal at path as if it had been committed long ago.
func (g *Gateway) Put(path string, cal *ical.Calendar) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.store(path, cal)
}

// Object returns the committed event at path.
func (g *Gateway) Object(path string) (*Object, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.commitDue()
	obj, ok := g.objects[path]
	return obj, ok
}

// Staged returns the ids of the changes still waiting for their deadline.
func (g *Gateway) Staged() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	ids := make([]string, 0, len(g.staged))
	for id := range g.staged {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Requests returns "METHOD path" for every request served so far.
func (g *Gateway) Requests() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.requests...)
}

// Count returns how many requests used method.
func (g *Gateway) Count(method string) int {
	n := 0
	for _, r := range g.Requests() {
		if strings.HasPrefix(r, method+" ") {
			n++
		}
	}
	return n
}

func generateETag(data []byte) string {
	hash := sha1.Sum(data)
	return `"` + hex.EncodeToString(hash[:]) + `"`
}

// store must be called with g.mu held.
func (g *Gateway) store(path string, cal *ical.Calendar) string {
	data, err := jcal.Marshal(cal)
	if err != nil {
		data = []byte(path + g.now().String())
	}
	etag := generateETag(data)
	g.objects[path] = &Object{Path: path, Calendar: cal, ETag: etag}
	return etag
}

// commitDue applies staged changes whose deadline has passed. It must be
// called with g.mu held.
func (g *Gateway) commitDue() {
	now := g.now()
	for id, c := range g.staged {
		if now.Before(c.deadline) {
			continue
		}
		switch c.method {
		case http.MethodPut:
			g.store(c.path, c.cal)
		case http.MethodDelete:
			delete(g.objects, c.path)
		}
		delete(g.staged, id)
		g.logger.Debug("committed staged change", "task_id", id, "method", c.method, "path", c.path)
	}
}

// stage must be called with g.mu held.
func (g *Gateway) stage(w http.ResponseWriter, method, path string, cal *ical.Calendar, grace time.Duration) {
	id := uuid.NewString()
	g.staged[id] = &change{id: id, method: method, path: path, cal: cal, deadline: g.now().Add(grace)}
	writeJSON(w, http.StatusAccepted, map[string]string{"id": id})
}

func graceOf(req *http.Request) (time.Duration, bool) {
	v := req.URL.Query().Get("graceperiod")
	if v == "" {
		return 0, false
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil || ms < 0 {
		return 0, false
	}
	return time.Duration(ms) * time.Millisecond, true
}

func (g *Gateway) handleGet(w http.ResponseWriter, req *http.Request) {
	g.mu.Lock()
	obj, ok := g.objects[req.URL.Path]
	g.mu.Unlock()
	if !ok {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	data, err := jcal.Marshal(obj.Calendar)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/calendar+json")
	w.Header().Set("ETag", obj.ETag)
	w.Write(data)
}

func (g *Gateway) handlePut(w http.ResponseWriter, req *http.Request) {
	if strings.HasPrefix(req.URL.Path, TasksPath) {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(req.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	cal, err := jcal.Unmarshal(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	path := req.URL.Path
	existing, exists := g.objects[path]
	if ifMatch := req.Header.Get("If-Match"); ifMatch != "" && (!exists || existing.ETag != ifMatch) {
		http.Error(w, "Precondition failed", http.StatusPreconditionFailed)
		return
	}

	if grace, ok := graceOf(req); ok {
		g.stage(w, http.MethodPut, path, cal, grace)
		return
	}

	etag := g.store(path, cal)
	w.Header().Set("ETag", etag)
	if !exists {
		w.WriteHeader(http.StatusCreated)
		return
	}
	if req.Header.Get("Prefer") != "return=representation" {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	data, err := jcal.Marshal(cal)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/calendar+json")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (g *Gateway) handleDelete(w http.ResponseWriter, req *http.Request) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if id, ok := strings.CutPrefix(req.URL.Path, TasksPath); ok {
		if _, staged := g.staged[id]; !staged {
			http.Error(w, "Not found", http.StatusNotFound)
			return
		}
		delete(g.staged, id)
		g.logger.Debug("cancelled staged change", "task_id", id)
		w.WriteHeader(http.StatusNoContent)
		return
	}

	path := req.URL.Path
	existing, exists := g.objects[path]
	if !exists {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}
	if ifMatch := req.Header.Get("If-Match"); ifMatch != "" && existing.ETag != ifMatch {
		http.Error(w, "Precondition failed", http.StatusPreconditionFailed)
		return
	}

	if grace, ok := graceOf(req); ok {
		g.stage(w, http.MethodDelete, path, nil, grace)
		return
	}
	delete(g.objects, path)
	w.WriteHeader(http.StatusNoContent)
}

type listRequest struct {
	Match struct {
		Start string `json:"start"`
		End   string `json:"end"`
	} `json:"match"`
}

type listItem struct {
	Links struct {
		Self struct {
			Href string `json:"href"`
		} `json:"self"`
	} `json:"_links"`
	ETag string          `json:"etag"`
	Data json.RawMessage `json:"data"`
}

func (g *Gateway) handleList(w http.ResponseWriter, req *http.Request) {
	calendarPath, ok := strings.CutSuffix(req.URL.Path, ".json")
	if !ok {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	var lr listRequest
	if err := json.NewDecoder(req.Body).Decode(&lr); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	start, err1 := time.ParseInLocation("20060102T150405", lr.Match.Start, time.UTC)
	end, err2 := time.ParseInLocation("20060102T150405", lr.Match.End, time.UTC)
	if err1 != nil || err2 != nil {
		http.Error(w, "Bad time range", http.StatusBadRequest)
		return
	}

	g.mu.Lock()
	objects := make([]*Object, 0, len(g.objects))
	for path, obj := range g.objects {
		if strings.HasPrefix(path, calendarPath+"/") {
			objects = append(objects, obj)
		}
	}
	g.mu.Unlock()
	sort.Slice(objects, func(i, j int) bool { return objects[i].Path < objects[j].Path })

	items := make([]listItem, 0, len(objects))
	for _, obj := range objects {
		if s, err := shell.Decode(obj.Calendar); err == nil && (!s.Start.Before(end) || !s.End.After(start)) {
			continue
		}
		data, err := jcal.Marshal(obj.Calendar)
		if err != nil {
			continue
		}
		var item listItem
		item.Links.Self.Href = obj.Path
		item.ETag = obj.ETag
		item.Data = data
		items = append(items, item)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"_links":    map[string]any{"self": map[string]string{"href": req.URL.Path}},
		"_embedded": map[string]any{"dav:item": items},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
