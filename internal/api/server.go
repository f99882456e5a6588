package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/process"

	"codesync/internal/execute"
	"codesync/internal/session"
	"codesync/pkg/interfaces"
	"codesync/pkg/types"
)

const (
	defaultActivityLimit = 50
	healthTimeout        = 5 * time.Second
)

// ExecutionCounter is implemented by journals that can summarise recorded
// executions.
type ExecutionCounter interface {
	ExecutionCounts(ctx context.Context) (map[string]int, error)
}

// ConnectionCounter reports the number of open WebSocket connections.
type ConnectionCounter interface {
	Count() int
}

// Executor runs code on the execution service.
type Executor interface {
	Execute(ctx context.Context, code, language string) (*execute.Result, error)
}

// Deps are the server's collaborators. Journal, Executor, Gatherer and
// WebSocket may be nil; their routes then report the feature as disabled.
type Deps struct {
	Rooms       interfaces.RoomReader
	Connections ConnectionCounter
	Journal     interfaces.Journal
	Executor    Executor
	Gatherer    prometheus.Gatherer
	WebSocket   http.Handler
	Logger      *slog.Logger
	// RequestLogging turns on chi's per-request access log.
	RequestLogging bool
}

// Server is the HTTP surface: health, metrics, room queries, code
// execution and the WebSocket endpoint.
type Server struct {
	deps      Deps
	log       *slog.Logger
	router    chi.Router
	process   *process.Process
	startedAt time.Time
}

func NewServer(deps Deps) *Server {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}

	s := &Server{
		deps:      deps,
		log:       log,
		router:    chi.NewRouter(),
		startedAt: time.Now(),
	}

	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		s.process = p
	} else {
		log.Warn("Process stats unavailable", "err", err)
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	if s.deps.RequestLogging {
		r.Use(middleware.Logger)
	}
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)

	if s.deps.WebSocket != nil {
		r.Handle("/ws", s.deps.WebSocket)
	}

	if s.deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Group(func(r chi.Router) {
		r.Use(jsonMiddleware)

		r.Get("/health", s.healthCheck)
		r.Post("/compile", s.compile)

		r.Route("/api/rooms", func(r chi.Router) {
			r.Post("/", s.createRoom)
			r.Get("/", s.listRooms)
			r.Get("/{roomID}", s.getRoom)
			r.Get("/{roomID}/activity", s.roomActivity)
		})
	})
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type CreateRoomResponse struct {
	RoomID string `json:"roomId"`
}

type ListRoomsResponse struct {
	Rooms []types.RoomSummary `json:"rooms"`
}

type RoomResponse struct {
	RoomID  string              `json:"roomId"`
	Clients []types.Participant `json:"clients"`
	Visible []types.Participant `json:"visible"`
}

type ActivityResponse struct {
	RoomID string             `json:"roomId"`
	Events []*types.RoomEvent `json:"events"`
}

type ProcessStats struct {
	RSSBytes   uint64  `json:"rss_bytes"`
	RSS        string  `json:"rss"`
	CPUPercent float64 `json:"cpu_percent"`
	Goroutines int     `json:"goroutines"`
	Uptime     string  `json:"uptime"`
}

type HealthResponse struct {
	Status       string         `json:"status"`
	Timestamp    time.Time      `json:"timestamp"`
	Database     string         `json:"database"`
	Hub          string         `json:"hub"`
	Connections  int            `json:"connections"`
	Rooms        int            `json:"rooms"`
	Participants int            `json:"participants"`
	Executions   map[string]int `json:"executions,omitempty"`
	System       *ProcessStats  `json:"system,omitempty"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// createRoom hands out a fresh room id. Rooms themselves appear only when
// someone joins.
func (s *Server) createRoom(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusCreated, CreateRoomResponse{RoomID: uuid.NewString()})
}

func (s *Server) listRooms(w http.ResponseWriter, r *http.Request) {
	rooms, err := s.deps.Rooms.Rooms(r.Context())
	if err != nil {
		s.log.Error("Failed to list rooms", "err", err)
		s.sendError(w, "Session hub unavailable", http.StatusServiceUnavailable)
		return
	}
	s.writeJSON(w, http.StatusOK, ListRoomsResponse{Rooms: rooms})
}

func (s *Server) getRoom(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")

	roster, err := s.deps.Rooms.Roster(r.Context(), roomID)
	if err != nil {
		s.log.Error("Failed to read roster", "room_id", roomID, "err", err)
		s.sendError(w, "Session hub unavailable", http.StatusServiceUnavailable)
		return
	}
	if len(roster) == 0 {
		s.sendError(w, "Room not found", http.StatusNotFound)
		return
	}

	s.writeJSON(w, http.StatusOK, RoomResponse{
		RoomID:  roomID,
		Clients: roster,
		Visible: session.Roster(roster).Visible(),
	})
}

func (s *Server) roomActivity(w http.ResponseWriter, r *http.Request) {
	if s.deps.Journal == nil {
		s.sendError(w, "Activity journal disabled", http.StatusServiceUnavailable)
		return
	}

	limit := defaultActivityLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.sendError(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	roomID := chi.URLParam(r, "roomID")
	events, err := s.deps.Journal.RoomActivity(r.Context(), roomID, limit)
	if err != nil {
		s.log.Error("Failed to read room activity", "room_id", roomID, "err", err)
		s.sendError(w, "Failed to read room activity", http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, http.StatusOK, ActivityResponse{RoomID: roomID, Events: events})
}

// compile forwards code to the execution service. Upstream failures map to
// 502 so the editor can tell them apart from its own mistakes.
func (s *Server) compile(w http.ResponseWriter, r *http.Request) {
	if s.deps.Executor == nil {
		s.sendError(w, "Code execution disabled", http.StatusServiceUnavailable)
		return
	}

	var req types.CompileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if err := types.ValidateStruct(&req); err != nil {
		s.sendError(w, "Language is required", http.StatusBadRequest)
		return
	}

	result, err := s.deps.Executor.Execute(r.Context(), req.Code, req.Language)
	switch {
	case err == nil:
		s.writeJSON(w, http.StatusOK, result)
	case errors.Is(err, execute.ErrUnsupportedLanguage), errors.Is(err, execute.ErrEmptyCode):
		s.sendError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, execute.ErrUpstream):
		s.sendError(w, err.Error(), http.StatusBadGateway)
	default:
		s.sendError(w, "Failed to execute code", http.StatusInternalServerError)
	}
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Database:  "disabled",
		Hub:       "running",
	}

	if s.deps.Journal != nil {
		response.Database = "healthy"
		if err := s.deps.Journal.HealthCheck(ctx); err != nil {
			response.Status = "unhealthy"
			response.Database = "error: " + err.Error()
		} else if counter, ok := s.deps.Journal.(ExecutionCounter); ok {
			if counts, err := counter.ExecutionCounts(ctx); err == nil {
				response.Executions = counts
			} else {
				s.log.Warn("Failed to count executions", "err", err)
			}
		}
	}

	if rooms, err := s.deps.Rooms.Rooms(ctx); err != nil {
		response.Status = "unhealthy"
		response.Hub = "error: " + err.Error()
	} else {
		response.Rooms = len(rooms)
		for _, room := range rooms {
			response.Participants += room.Members
		}
	}

	if s.deps.Connections != nil {
		response.Connections = s.deps.Connections.Count()
	}
	response.System = s.processStats()

	code := http.StatusOK
	if response.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, response)
}

func (s *Server) processStats() *ProcessStats {
	stats := &ProcessStats{
		Goroutines: runtime.NumGoroutine(),
		Uptime:     time.Since(s.startedAt).Round(time.Second).String(),
	}
	if s.process == nil {
		return stats
	}

	if mem, err := s.process.MemoryInfo(); err == nil {
		stats.RSSBytes = mem.RSS
		stats.RSS = humanize.Bytes(mem.RSS)
	}
	if cpu, err := s.process.CPUPercent(); err == nil {
		stats.CPUPercent = cpu
	}
	return stats
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn("Failed to write response", "err", err)
	}
}

func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	s.writeJSON(w, code, ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

// corsMiddleware allows any origin; the editor is served from elsewhere.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
