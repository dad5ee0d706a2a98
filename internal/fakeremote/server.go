// Package fakeremote is an in-memory stand-in for the car-management REST service,
// used by tests. It answers in the document-database shape the real service uses
// ("_id", "manufacturer") and records every request it sees.
package fakeremote

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Request is a recorded inbound request.
type Request struct {
	Method string
	Path   string
	Query  string
	Body   string
}

func (r Request) String() string {
	if r.Query != "" {
		return r.Method + " " + r.Path + "?" + r.Query
	}
	return r.Method + " " + r.Path
}

type manufacturerDoc struct {
	ID   string `json:"_id"`
	Name string `json:"name"`
	V    int    `json:"__v"`
}

type modelDoc struct {
	ID           string `json:"_id"`
	Name         string `json:"name"`
	Manufacturer string `json:"manufacturer"`
	V            int    `json:"__v"`
}

type failure struct {
	method string
	prefix string
	status int
}

// Server holds the fake's state. It is safe for concurrent use.
type Server struct {
	mu            sync.Mutex
	healthy       bool
	seq           int
	manufacturers []manufacturerDoc
	models        []modelDoc
	requests      []Request
	failures      []failure
	router        chi.Router
}

// New returns a healthy, empty fake.
func New() *Server {
	s := &Server{healthy: true}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.record)

	r.Get("/health", s.health)
	r.Get("/manufacturers", s.listManufacturers)
	r.Post("/manufacturers", s.createManufacturer)
	r.Delete("/manufacturers/{id}", s.deleteManufacturer)
	r.Get("/models", s.listModels)
	r.Post("/models", s.createModel)
	r.Delete("/models/{id}", s.deleteModel)

	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// SetHealthy toggles the /health endpoint between 200 and 503.
func (s *Server) SetHealthy(ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.healthy = ok
}

// FailOn makes every request whose method matches and whose path starts with
// prefix answer with status. An empty method matches any method.
func (s *Server) FailOn(method, prefix string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, failure{method: method, prefix: prefix, status: status})
}

// ClearFailures removes every FailOn rule.
func (s *Server) ClearFailures() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = nil
}

// Requests returns the requests recorded so far, excluding health probes.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Request, 0, len(s.requests))
	for _, r := range s.requests {
		if r.Path != "/health" {
			out = append(out, r)
		}
	}
	return out
}

// ResetRequests forgets recorded requests.
func (s *Server) ResetRequests() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = nil
}

// SeedManufacturer stores a manufacturer directly and returns its ID.
func (s *Server) SeedManufacturer(name string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc := manufacturerDoc{ID: s.nextID(), Name: name}
	s.manufacturers = append(s.manufacturers, doc)
	return doc.ID
}

// SeedModel stores a model directly and returns its ID.
func (s *Server) SeedModel(manufacturerID, name string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc := modelDoc{ID: s.nextID(), Name: name, Manufacturer: manufacturerID}
	s.models = append(s.models, doc)
	return doc.ID
}

// ManufacturerNames returns the stored manufacturer names in insertion order.
func (s *Server) ManufacturerNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.manufacturers))
	for _, m := range s.manufacturers {
		out = append(out, m.Name)
	}
	return out
}

// ModelsOf returns the names of models stored for manufacturerID.
func (s *Server) ModelsOf(manufacturerID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []string{}
	for _, m := range s.models {
		if m.Manufacturer == manufacturerID {
			out = append(out, m.Name)
		}
	}
	return out
}

func (s *Server) nextID() string {
	s.seq++
	return fmt.Sprintf("%024x", s.seq)
}

func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body []byte
		if r.Body != nil {
			body, _ = io.ReadAll(r.Body)
			r.Body = io.NopCloser(strings.NewReader(string(body)))
		}

		s.mu.Lock()
		s.requests = append(s.requests, Request{
			Method: r.Method,
			Path:   r.URL.Path,
			Query:  r.URL.RawQuery,
			Body:   string(body),
		})
		status := 0
		for _, f := range s.failures {
			if (f.method == "" || f.method == r.Method) && strings.HasPrefix(r.URL.Path, f.prefix) {
				status = f.status
				break
			}
		}
		s.mu.Unlock()

		if status != 0 {
			writeError(w, status, "injected failure")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	ok := s.healthy
	s.mu.Unlock()

	if !ok {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = io.WriteString(w, "Server is healthy and running")
}

func (s *Server) listManufacturers(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	out := make([]map[string]any, 0, len(s.manufacturers))
	for _, m := range s.manufacturers {
		count := 0
		for _, cm := range s.models {
			if cm.Manufacturer == m.ID {
				count++
			}
		}
		out = append(out, map[string]any{"_id": m.ID, "name": m.Name, "__v": m.V, "modelCount": count})
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, out)
}

func (s *Server) createManufacturer(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || strings.TrimSpace(in.Name) == "" {
		writeError(w, http.StatusInternalServerError, "Manufacturer validation failed: name: Path `name` is required.")
		return
	}

	s.mu.Lock()
	doc := manufacturerDoc{ID: s.nextID(), Name: in.Name}
	s.manufacturers = append(s.manufacturers, doc)
	s.mu.Unlock()

	writeJSON(w, http.StatusCreated, doc)
}

func (s *Server) deleteManufacturer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	s.mu.Lock()
	kept := s.manufacturers[:0]
	for _, m := range s.manufacturers {
		if m.ID != id {
			kept = append(kept, m)
		}
	}
	s.manufacturers = kept
	s.mu.Unlock()

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listModels(w http.ResponseWriter, r *http.Request) {
	manufacturer := r.URL.Query().Get("manufacturer")

	s.mu.Lock()
	out := []modelDoc{}
	for _, m := range s.models {
		if m.Manufacturer == manufacturer {
			out = append(out, m)
		}
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, out)
}

func (s *Server) createModel(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Name         string `json:"name"`
		Manufacturer string `json:"manufacturer"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || strings.TrimSpace(in.Name) == "" || in.Manufacturer == "" {
		writeError(w, http.StatusInternalServerError, "CarModel validation failed")
		return
	}

	s.mu.Lock()
	doc := modelDoc{ID: s.nextID(), Name: in.Name, Manufacturer: in.Manufacturer}
	s.models = append(s.models, doc)
	s.mu.Unlock()

	writeJSON(w, http.StatusCreated, doc)
}

func (s *Server) deleteModel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	s.mu.Lock()
	kept := s.models[:0]
	for _, m := range s.models {
		if m.ID != id {
			kept = append(kept, m)
		}
	}
	s.models = kept
	s.mu.Unlock()

	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error":      msg,
		"status":     status,
		"statusText": http.StatusText(status),
	})
}
