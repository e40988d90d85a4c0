// Package testutil provides testing utilities for the item collector.
package testutil

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MockResponse defines the behavior for a mock endpoint response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockAPI is a configurable mock of the item API for testing.
//
// Items are served from /item/{id}.json and the max id from /maxitem.json.
// Ids without a registered body answer 200 with "null", like the real API.
type MockAPI struct {
	server *httptest.Server

	mu       sync.RWMutex
	maxID    string
	items    map[int64]string
	handlers map[string]func(w http.ResponseWriter, r *http.Request)
	failures map[string][]MockResponse
	counts   map[string]int

	// Tracking
	RequestCount  int
	LastUserAgent string
}

// NewMockAPI creates a new mock API server.
func NewMockAPI() *MockAPI {
	mock := &MockAPI{
		maxID:    "0",
		items:    make(map[int64]string),
		handlers: make(map[string]func(w http.ResponseWriter, r *http.Request)),
		failures: make(map[string][]MockResponse),
		counts:   make(map[string]int),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(mock.serve))
	return mock
}

// URL returns the mock server URL, usable as the client's base URL.
func (m *MockAPI) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockAPI) Close() {
	m.server.Close()
}

// SetMaxID sets the raw body of /maxitem.json.
func (m *MockAPI) SetMaxID(body string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.maxID = body
}

// SetItem registers the raw JSON body served for an id.
func (m *MockAPI) SetItem(id int64, body string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[id] = body
}

// SetStory registers a minimal story with the given children.
func (m *MockAPI) SetStory(id int64, kids ...int64) {
	parts := make([]string, len(kids))
	for i, k := range kids {
		parts[i] = strconv.FormatInt(k, 10)
	}
	m.SetItem(id, fmt.Sprintf(`{"id":%d,"type":"story","by":"tester","time":1700000000,"kids":[%s]}`,
		id, strings.Join(parts, ",")))
}

// SetHandler sets a custom handler for a specific path.
func (m *MockAPI) SetHandler(path string, handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// FailNext queues responses served for path before normal handling resumes.
func (m *MockAPI) FailNext(path string, responses ...MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[path] = append(m.failures[path], responses...)
}

// Count returns how many requests were made for a path.
func (m *MockAPI) Count(path string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.counts[path]
}

// ItemCount returns how many requests were made for an item id.
func (m *MockAPI) ItemCount(id int64) int {
	return m.Count(ItemPath(id))
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockAPI) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// ItemPath returns the request path for an item id.
func ItemPath(id int64) string {
	return fmt.Sprintf("/item/%d.json", id)
}

func (m *MockAPI) serve(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	m.mu.Lock()
	m.RequestCount++
	m.counts[path]++
	m.LastUserAgent = r.Header.Get("User-Agent")

	var queued *MockResponse
	if q := m.failures[path]; len(q) > 0 {
		queued = &q[0]
		m.failures[path] = q[1:]
	}
	handler, hasHandler := m.handlers[path]
	m.mu.Unlock()

	if queued != nil {
		writeResponse(w, *queued)
		return
	}
	if hasHandler {
		handler(w, r)
		return
	}

	m.defaultHandler(w, path)
}

// defaultHandler provides API-like responses.
func (m *MockAPI) defaultHandler(w http.ResponseWriter, path string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")

	m.mu.RLock()
	defer m.mu.RUnlock()

	if path == "/maxitem.json" {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(m.maxID))
		return
	}

	if strings.HasPrefix(path, "/item/") && strings.HasSuffix(path, ".json") {
		idStr := strings.TrimSuffix(strings.TrimPrefix(path, "/item/"), ".json")
		id, err := strconv.ParseInt(idStr, 10, 64)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusOK)
		if body, ok := m.items[id]; ok {
			w.Write([]byte(body))
		} else {
			w.Write([]byte("null"))
		}
		return
	}

	w.WriteHeader(http.StatusNotFound)
}

func writeResponse(w http.ResponseWriter, resp MockResponse) {
	if resp.Delay > 0 {
		time.Sleep(resp.Delay)
	}
	for key, value := range resp.Headers {
		w.Header().Set(key, value)
	}
	w.WriteHeader(resp.StatusCode)
	if resp.Body != "" {
		w.Write([]byte(resp.Body))
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"error": "Internal server error"}`,
	}
}

// NewRateLimitResponse creates a 429 Too Many Requests response.
func NewRateLimitResponse(retryAfter string) MockResponse {
	resp := MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"error": "Rate limit exceeded"}`,
	}
	if retryAfter != "" {
		resp.Headers = map[string]string{"Retry-After": retryAfter}
	}
	return resp
}
