// Package httpapi serves the public HTTP surface: template and state reads,
// action dispatch, the SSE and websocket streams, health and metrics.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"nightroad.app/internal/hub"
	"nightroad.app/internal/persistence/indexdb"
	"nightroad.app/internal/protocol"
	"nightroad.app/internal/sim/game"
	"nightroad.app/internal/sim/state"
	"nightroad.app/internal/sim/templates"
	"nightroad.app/internal/transport/sse"
	"nightroad.app/internal/transport/ws"
)

// Engine is the subset of *game.Engine the API needs.
type Engine interface {
	Submit(ctx context.Context, req protocol.ActionReq) (protocol.ActionResp, error)
	State() state.WorldState
	Stats() game.EngineStats
}

type Templates interface {
	Default() string
	Raw(id string) (any, error)
}

// ActionQuerier reads the action index for the admin routes.
type ActionQuerier interface {
	Actions(ctx context.Context, q indexdb.ActionQuery) ([]indexdb.ActionRow, error)
	Events(ctx context.Context, q indexdb.EventQuery) ([]indexdb.EventRow, error)
}

type Options struct {
	// AllowedOrigins extends the built-in localhost and preview patterns.
	AllowedOrigins []string
	// ActionRPS <= 0 disables the per-client action limit.
	ActionRPS     float64
	ActionBurst   int
	ActionTimeout time.Duration
	MaxBodyBytes  int64
	// EnableAdmin mounts /admin/v1/* for loopback clients.
	EnableAdmin bool
	Heartbeat   time.Duration
}

type Server struct {
	eng       Engine
	tpl       Templates
	hub       *hub.Hub
	validator *protocol.Validator
	opts      Options
	logger    *log.Logger

	cors    *corsPolicy
	limiter *ipLimiter
	sse     *sse.Handler
	ws      *ws.Server
	index   ActionQuerier
	metrics []func(io.Writer)
}

func New(eng Engine, tpl Templates, h *hub.Hub, v *protocol.Validator, opts Options, logger *log.Logger) (*Server, error) {
	if eng == nil || tpl == nil || h == nil {
		return nil, errors.New("httpapi: engine, templates and hub are required")
	}
	if v == nil {
		var err error
		if v, err = protocol.NewValidator(); err != nil {
			return nil, err
		}
	}
	if opts.ActionTimeout <= 0 {
		opts.ActionTimeout = 10 * time.Second
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 64 * 1024
	}
	s := &Server{
		eng:       eng,
		tpl:       tpl,
		hub:       h,
		validator: v,
		opts:      opts,
		logger:    logger,
		cors:      newCORSPolicy(opts.AllowedOrigins),
		sse:       sse.NewHandler(h, logger),
		ws:        ws.NewServer(h, eng, logger),
	}
	if opts.ActionRPS > 0 {
		s.limiter = newIPLimiter(opts.ActionRPS, opts.ActionBurst)
	}
	if opts.Heartbeat > 0 {
		s.sse.SetHeartbeat(opts.Heartbeat)
	}
	s.ws.SetCheckOrigin(func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || s.cors.allowed(origin)
	})
	return s, nil
}

// SetActionIndex enables the admin action and event queries.
func (s *Server) SetActionIndex(q ActionQuerier) { s.index = q }

// AddMetrics appends a writer of extra exposition lines to /metrics.
func (s *Server) AddMetrics(fn func(io.Writer)) { s.metrics = append(s.metrics, fn) }

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /template", s.handleTemplate)
	mux.HandleFunc("GET /state", s.handleState)
	mux.HandleFunc("POST /action", s.handleAction)
	mux.Handle("GET /events", s.sse)
	mux.HandleFunc("GET /ws", s.ws.Handler())
	mux.HandleFunc("GET /healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusOK)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("GET /metrics", s.handleMetrics)
	if s.opts.EnableAdmin {
		mux.Handle("GET /admin/v1/state", loopbackOnly(http.HandlerFunc(s.handleAdminState)))
		mux.Handle("GET /admin/v1/actions", loopbackOnly(http.HandlerFunc(s.handleAdminActions)))
		mux.Handle("GET /admin/v1/events", loopbackOnly(http.HandlerFunc(s.handleAdminEvents)))
	}
	return s.cors.wrap(mux)
}

func (s *Server) handleTemplate(rw http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("worldId")
	if id == "" {
		id = s.tpl.Default()
	}
	doc, err := s.tpl.Raw(id)
	if errors.Is(err, templates.ErrUnknownWorld) {
		writeError(rw, http.StatusNotFound, protocol.ErrInvalidTarget, err.Error())
		return
	}
	if err != nil {
		s.logf("template %s: %v", id, err)
		writeError(rw, http.StatusInternalServerError, protocol.ErrInternal, "internal error")
		return
	}
	writeJSON(rw, http.StatusOK, doc)
}

func (s *Server) handleState(rw http.ResponseWriter, r *http.Request) {
	writeJSON(rw, http.StatusOK, s.eng.State())
}

func (s *Server) handleAction(rw http.ResponseWriter, r *http.Request) {
	if s.limiter != nil && !s.limiter.allow(clientIP(r)) {
		writeError(rw, http.StatusTooManyRequests, protocol.ErrRateLimit, "too many actions")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(rw, r.Body, s.opts.MaxBodyBytes))
	if err != nil {
		writeError(rw, http.StatusBadRequest, protocol.ErrBadRequest, "request body: "+err.Error())
		return
	}
	req, err := s.validator.DecodeAction(body)
	if err != nil {
		writeError(rw, http.StatusBadRequest, protocol.ErrBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.opts.ActionTimeout)
	defer cancel()
	resp, err := s.eng.Submit(ctx, req)
	if err != nil {
		code := game.ErrorCode(err)
		status := statusFor(code)
		msg := err.Error()
		if status == http.StatusInternalServerError {
			s.logf("action %s: %v", req.Action, err)
			msg = "internal error"
		}
		writeError(rw, status, code, msg)
		return
	}
	writeJSON(rw, http.StatusOK, resp)
}

func statusFor(code string) int {
	switch code {
	case protocol.ErrBadRequest, protocol.ErrUnknownAction, protocol.ErrInvalidTarget, protocol.ErrProtoBadRequest:
		return http.StatusBadRequest
	case protocol.ErrRateLimit:
		return http.StatusTooManyRequests
	case protocol.ErrBusy:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}

func writeError(rw http.ResponseWriter, status int, code, msg string) {
	writeJSON(rw, status, protocol.ActionResp{OK: false, Code: code, Error: msg})
}

func (s *Server) logf(format string, args ...any) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}
