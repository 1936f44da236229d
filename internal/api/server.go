package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/HoangQuocKhanh0504/khanhpclass/internal/metrics"
	"github.com/HoangQuocKhanh0504/khanhpclass/internal/room"
	"github.com/HoangQuocKhanh0504/khanhpclass/pkg/ratelimit"
	"github.com/HoangQuocKhanh0504/khanhpclass/pkg/types"
)

const maxRequestBody = 64 << 10

// Registry reports live connection counts
type Registry interface {
	Count() int
	GetStats() map[string]int
}

// ActivityStore serves room lifecycle history
type ActivityStore interface {
	RoomActivity(ctx context.Context, room string, limit int) ([]types.ActivityEvent, error)
	HealthCheck(ctx context.Context) error
}

// Options configure the HTTP surface
type Options struct {
	StaticDir           string       // served at "/" when set
	AllowedOrigins      []string     // CORS origins; empty allows any
	CreateRoomPerMinute int          // per client IP; 0 disables the limit
	WebSocket           http.Handler // mounted at /ws when set
}

// ARCHITECTURAL DISCOVERY: HTTP API layer serves as pure interface between external clients and internal components
// Clean separation - no business logic, only HTTP handling and JSON serialization
type Server struct {
	rooms         *room.Manager
	activity      ActivityStore
	registry      Registry
	metrics       *metrics.Collector
	createLimiter *ratelimit.Limiter
	router        *mux.Router
	handler       http.Handler
	startedAt     time.Time
}

// NewServer wires routes; activity may be nil when the journal is disabled
func NewServer(rooms *room.Manager, activity ActivityStore, registry Registry, collector *metrics.Collector, opts Options) *Server {
	s := &Server{
		rooms:         rooms,
		activity:      activity,
		registry:      registry,
		metrics:       collector,
		createLimiter: ratelimit.New(opts.CreateRoomPerMinute, time.Minute),
		router:        mux.NewRouter(),
		startedAt:     time.Now(),
	}
	s.setupRoutes(opts)

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	s.handler = cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         86400,
	}).Handler(s.router)
	return s
}

func (s *Server) setupRoutes(opts Options) {
	s.router.HandleFunc("/create-room", s.createRoom).Methods(http.MethodPost)
	s.router.HandleFunc("/api/rooms", s.createRoom).Methods(http.MethodPost)
	s.router.HandleFunc("/api/rooms/{name}/activity", s.roomActivity).Methods(http.MethodGet)
	s.router.HandleFunc("/health", s.healthCheck).Methods(http.MethodGet)
	s.router.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)

	if opts.WebSocket != nil {
		s.router.Handle("/ws", opts.WebSocket)
	}
	if opts.StaticDir != "" {
		s.router.PathPrefix("/").Handler(http.FileServer(http.Dir(opts.StaticDir))).Methods(http.MethodGet, http.MethodHead)
	}
}

// FUNCTIONAL DISCOVERY: Implement http.Handler interface for integration with standard HTTP server
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Cleanup drops stale rate limiter state
func (s *Server) Cleanup() {
	s.createLimiter.Cleanup()
}

type CreateRoomResponse struct {
	Success bool `json:"success"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type ActivityResponse struct {
	Room   string                `json:"room"`
	Events []types.ActivityEvent `json:"events"`
}

type HealthResponse struct {
	Status      string         `json:"status"`
	Timestamp   time.Time      `json:"timestamp"`
	Uptime      string         `json:"uptime"`
	Rooms       map[string]int `json:"rooms"`
	Connections map[string]int `json:"connections"`
	Journal     string         `json:"journal"`
}

// createRoom handles POST /create-room and POST /api/rooms
func (s *Server) createRoom(w http.ResponseWriter, r *http.Request) {
	if !s.createLimiter.Allow(clientIP(r)) {
		s.sendError(w, types.ErrRateLimited, http.StatusTooManyRequests)
		return
	}

	var req types.CreateRoomRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, types.ErrInvalidRequest, http.StatusBadRequest)
		return
	}

	err := s.rooms.CreateRoom(req.RoomName, req.RoomCode, req.MaxStudents.Value)
	switch {
	case err == nil:
		s.sendJSON(w, http.StatusOK, CreateRoomResponse{Success: true})
	case errors.Is(err, types.ErrInvalidRequest):
		s.sendError(w, err, http.StatusBadRequest)
	case errors.Is(err, types.ErrRoomExists):
		s.sendError(w, err, http.StatusConflict)
	default:
		slog.Error("create room failed", "room", req.RoomName, "error", err)
		s.sendError(w, err, http.StatusInternalServerError)
	}
}

// roomActivity handles GET /api/rooms/{name}/activity?code=..&limit=..
// The access code is required; a wrong code looks like an unknown room.
func (s *Server) roomActivity(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	rm, err := s.rooms.LookupRoom(name, r.URL.Query().Get("code"))
	if err != nil {
		s.sendError(w, types.ErrNotFound, http.StatusNotFound)
		return
	}
	if s.activity == nil {
		s.sendJSON(w, http.StatusNotFound, ErrorResponse{Error: "Activity journal is disabled"})
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if limit, err = strconv.Atoi(raw); err != nil || limit < 0 {
			s.sendJSON(w, http.StatusBadRequest, ErrorResponse{Error: "limit must be a positive number"})
			return
		}
	}

	events, err := s.activity.RoomActivity(r.Context(), rm.Name(), limit)
	if err != nil {
		slog.Error("room activity query failed", "room", rm.Name(), "error", err)
		s.sendError(w, err, http.StatusInternalServerError)
		return
	}
	s.sendJSON(w, http.StatusOK, ActivityResponse{Room: rm.Name(), Events: events})
}

// FUNCTIONAL DISCOVERY: GET /health - System health check with component validation
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status, journalStatus := "healthy", "disabled"
	if s.activity != nil {
		journalStatus = "healthy"
		if err := s.activity.HealthCheck(ctx); err != nil {
			status = "unhealthy"
			journalStatus = "error: " + err.Error()
		}
	}

	response := HealthResponse{
		Status:      status,
		Timestamp:   time.Now(),
		Uptime:      time.Since(s.startedAt).Round(time.Second).String(),
		Rooms:       s.rooms.Stats(),
		Connections: s.registry.GetStats(),
		Journal:     journalStatus,
	}

	// FUNCTIONAL DISCOVERY: Return 503 if any component is unhealthy
	code := http.StatusOK
	if status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	s.sendJSON(w, code, response)
}

// sendError writes the client-facing text for err; internals never leak
func (s *Server) sendError(w http.ResponseWriter, err error, code int) {
	s.sendJSON(w, code, ErrorResponse{Error: types.UserMessage(err)})
}

func (s *Server) sendJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Debug("response write failed", "error", err)
	}
}

// clientIP keys rate limits on the TCP peer address
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
