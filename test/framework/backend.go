package framework

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
)

// BackendRequest is one catalog message a gateway forwarded to its
// backend service
type BackendRequest struct {
	// Path is the request path under the backend
	Path string
	// UserID is the translated local user, when the message carried one
	UserID string
	// Body is the decoded message payload
	Body map[string]any
}

// Backend stands in for the local service a gateway fronts. It records
// everything forwarded to it and answers with a payload naming itself,
// so tests can tell which member of the federation served a query.
type Backend struct {
	id  string
	srv *httptest.Server

	mu       sync.Mutex
	requests []BackendRequest
}

func newBackend(id string) *Backend {
	b := &Backend{id: id}
	b.srv = httptest.NewServer(http.HandlerFunc(b.handle))
	return b
}

func (b *Backend) handle(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)

	b.mu.Lock()
	b.requests = append(b.requests, BackendRequest{
		Path:   r.URL.Path,
		UserID: r.Header.Get("X-User-Id"),
		Body:   body,
	})
	b.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":   "stored",
		"servedBy": b.id,
	})
}

// URL returns the backend's address for proxy overlay rules
func (b *Backend) URL() string {
	return b.srv.URL
}

// Requests returns a copy of everything received so far
func (b *Backend) Requests() []BackendRequest {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]BackendRequest, len(b.requests))
	copy(out, b.requests)
	return out
}

// Count returns how many forwards the backend has received
func (b *Backend) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.requests)
}

// Close shuts the backend server down
func (b *Backend) Close() {
	b.srv.Close()
}
