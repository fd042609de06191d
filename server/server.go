// Package server is the HTTP surface of the display backend. It is a thin
// pass-through to the cache read path and holds no caching logic of its own.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	logging "github.com/ipfs/go-log/v2"

	"github.com/pidisp/go-displaycache/dcache"
)

var log = logging.Logger("server")

const apiPrefix = "/api/"

// Server serves the display's API endpoints from a Cache.
type Server struct {
	cache  *dcache.Cache
	server *http.Server
}

// New creates a Server listening on listenAddr.
func New(cache *dcache.Cache, listenAddr string) *Server {
	s := &Server{
		cache: cache,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/time", s.handleTime)
	mux.HandleFunc(apiPrefix, s.handleCategory)
	mux.HandleFunc("/", s.handleNotFound)

	s.server = &http.Server{
		Addr:    listenAddr,
		Handler: mux,
	}
	return s
}

// Start serves requests until Shutdown is called.
func (s *Server) Start() error {
	log.Infow("HTTP server listening", "addr", s.server.Addr)
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops the server, waiting for in-flight requests up to ctx's
// deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Handler returns the route handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

type categoryResponse struct {
	Category   string          `json:"category"`
	Freshness  string          `json:"freshness"`
	AgeSeconds float64         `json:"age_seconds"`
	Data       json.RawMessage `json:"data,omitempty"`
}

type errorResponse struct {
	Error   string   `json:"error"`
	Message string   `json:"message,omitempty"`
	Allowed []string `json:"available_endpoints,omitempty"`
}

// handleCategory serves GET /api/{category} straight from the cache.
func (s *Server) handleCategory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
		return
	}
	name := strings.TrimPrefix(r.URL.Path, apiPrefix)
	if name == "" || strings.Contains(name, "/") {
		s.handleNotFound(w, r)
		return
	}

	result, err := s.cache.Read(r.Context(), name)
	if err != nil {
		if errors.Is(err, dcache.ErrUnknownCategory) {
			s.handleNotFound(w, r)
			return
		}
		writeJSON(w, http.StatusInternalServerError, errorResponse{
			Error:   "read failed",
			Message: err.Error(),
		})
		return
	}
	if result.Err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{
			Error:   "configuration error",
			Message: result.Err.Error(),
		})
		return
	}

	resp := categoryResponse{
		Category:   name,
		Freshness:  result.Freshness.String(),
		AgeSeconds: result.Age.Seconds(),
		Data:       result.Payload,
	}
	status := http.StatusOK
	if len(result.Payload) == 0 {
		status = http.StatusAccepted
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	type categoryHealth struct {
		Disabled   bool   `json:"disabled,omitempty"`
		ErrorCount int    `json:"error_count,omitempty"`
		LastError  string `json:"last_error,omitempty"`
	}
	categories := make(map[string]categoryHealth)
	for _, ent := range s.cache.Entries() {
		ch := categoryHealth{
			Disabled:   ent.Disabled,
			ErrorCount: ent.ErrorCount,
		}
		if ent.LastError != nil {
			ch.LastError = ent.LastError.Message
		}
		categories[ent.Category] = ch
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"timestamp":  time.Now().Format(time.RFC3339),
		"categories": categories,
	})
}

// handleTime needs no external data; the display polls it every second.
func (s *Server) handleTime(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	writeJSON(w, http.StatusOK, map[string]any{
		"time":      now.Format("3:04 PM"),
		"date":      now.Format("Monday, January 2, 2006"),
		"timestamp": now.Format(time.RFC3339),
		"day":       now.Format("Monday"),
		"hour":      now.Hour(),
		"minute":    now.Minute(),
	})
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	endpoints := []string{"/api/health", "/api/time"}
	for _, name := range s.cache.Categories() {
		endpoints = append(endpoints, apiPrefix+name)
	}
	writeJSON(w, http.StatusNotFound, errorResponse{
		Error:   "endpoint not found",
		Allowed: endpoints,
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	// The display front end may be served from another port.
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Errorw("Cannot encode response", "err", err)
	}
}
