// Package testkit provides fake stage services for tests.
package testkit

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"

	"kururi/internal/stage"
)

// Call records one request received by a StageServer.
type Call struct {
	Path string
	Body map[string]json.RawMessage
}

// StageServer is an httptest server that routes stage paths to handlers and
// records every request it sees.
type StageServer struct {
	*httptest.Server

	mu     sync.Mutex
	calls  []Call
	routes map[string]http.HandlerFunc
}

// NewStageServer starts a server for routes keyed by path ("/lex", ...).
// Unknown paths answer 404.
func NewStageServer(routes map[string]http.HandlerFunc) *StageServer {
	s := &StageServer{routes: routes}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	return s
}

func (s *StageServer) serve(w http.ResponseWriter, r *http.Request) {
	data, _ := io.ReadAll(r.Body)
	var body map[string]json.RawMessage
	_ = json.Unmarshal(data, &body)

	s.mu.Lock()
	s.calls = append(s.calls, Call{Path: r.URL.Path, Body: body})
	h, ok := s.routes[r.URL.Path]
	s.mu.Unlock()

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !ok {
		http.NotFound(w, r)
		return
	}
	r.Body = io.NopCloser(bytes.NewReader(data))
	h(w, r)
}

// Calls returns a copy of the recorded requests.
func (s *StageServer) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// Paths returns the recorded request paths in arrival order.
func (s *StageServer) Paths() []string {
	calls := s.Calls()
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.Path
	}
	return out
}

// JSON answers every request with status and v encoded as JSON.
func JSON(status int, v any) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, status, v)
	}
}

// Raw answers every request with status and body verbatim.
func Raw(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}
}

// Reply answers 200 with a single member named field.
func Reply(field stage.Field, v any) http.HandlerFunc {
	return JSON(http.StatusOK, map[string]any{string(field): v})
}

// Reject answers with status and a service error document.
func Reject(status int, errType, message string) http.HandlerFunc {
	return JSON(status, stage.ServiceError{
		Message:     message,
		Type:        errType,
		Suggestions: []string{"Check the syntax of your Kururi code"},
	})
}

// RefusedURL returns the base URL of a server that has already been shut
// down, so connections to it are refused.
func RefusedURL() string {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	return url
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
