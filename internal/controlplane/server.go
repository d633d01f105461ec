// Package controlplane serves the operator dashboard and health endpoints.
package controlplane

import (
	"context"
	"embed"
	"encoding/json"
	"html/template"
	"log/slog"
	"net/http"
	"runtime"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tjfontaine/mme-broker/internal/core/domain"
)

//go:embed templates/*.html
var templateFS embed.FS

var indexTemplate = template.Must(template.ParseFS(templateFS, "templates/index.html"))

// PeerLister lists peers by direction.
type PeerLister interface {
	List(dir domain.Direction) []domain.Peer
}

// RecentSource lists recent audit records.
type RecentSource interface {
	Recent(ctx context.Context, n int) ([]*domain.AuditRecord, error)
}

type Server struct {
	router    *chi.Mux
	startTime time.Time
	nodeID    string
	peers     PeerLister
	recent    RecentSource
	logger    *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithNodeID sets the identity shown on the dashboard.
func WithNodeID(id string) Option {
	return func(s *Server) { s.nodeID = id }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

func NewServer(peers PeerLister, recent RecentSource, opts ...Option) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		startTime: time.Now(),
		peers:     peers,
		recent:    recent,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Routes(s.router)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Routes mounts the control plane endpoints on r.
func (s *Server) Routes(r chi.Router) {
	r.Get("/", s.handleIndex)
	r.Get("/healthz", s.handleHealth)
	r.Get("/api/stats", s.handleStats)
}

type dashboard struct {
	NodeID      string
	Uptime      string
	Servers     []domain.Peer
	Recent      []*domain.AuditRecord
	RecentError string
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	data := dashboard{
		NodeID:  s.nodeID,
		Uptime:  time.Since(s.startTime).Round(time.Second).String(),
		Servers: s.peers.List(domain.DirectionOutbound),
	}

	recent, err := s.recent.Recent(r.Context(), 0)
	if err != nil {
		s.logger.WarnContext(r.Context(), "dashboard recent exchanges unavailable", slog.String("error", err.Error()))
		data.RecentError = "Recent exchanges are unavailable."
	} else {
		data.Recent = recent
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := indexTemplate.Execute(w, data); err != nil {
		s.logger.ErrorContext(r.Context(), "render dashboard", slog.String("error", err.Error()))
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

type StatsResponse struct {
	Uptime        string      `json:"uptime"`
	GoVersion     string      `json:"go_version"`
	NumGoroutine  int         `json:"num_goroutine"`
	OutboundPeers int         `json:"outbound_peers"`
	InboundPeers  int         `json:"inbound_peers"`
	Memory        MemoryStats `json:"memory"`
}

type MemoryStats struct {
	Alloc      uint64 `json:"alloc"`
	TotalAlloc uint64 `json:"total_alloc"`
	Sys        uint64 `json:"sys"`
	NumGC      uint32 `json:"num_gc"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	stats := StatsResponse{
		Uptime:        time.Since(s.startTime).String(),
		GoVersion:     runtime.Version(),
		NumGoroutine:  runtime.NumGoroutine(),
		OutboundPeers: len(s.peers.List(domain.DirectionOutbound)),
		InboundPeers:  len(s.peers.List(domain.DirectionInbound)),
		Memory: MemoryStats{
			Alloc:      m.Alloc,
			TotalAlloc: m.TotalAlloc,
			Sys:        m.Sys,
			NumGC:      m.NumGC,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}
