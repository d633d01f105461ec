package controlplane

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/tjfontaine/mme-broker/internal/core/domain"
	"github.com/tjfontaine/mme-broker/internal/registry"
)

type stubRecent struct {
	records []*domain.AuditRecord
	err     error
}

func (s stubRecent) Recent(ctx context.Context, n int) ([]*domain.AuditRecord, error) {
	return s.records, s.err
}

func newTestRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg, err := registry.FromPeers(
		domain.Peer{ID: "peerA", Name: "Peer A", Direction: domain.DirectionOutbound, BaseAddress: "https://peerA.example/api"},
		domain.Peer{ID: "peerB", Direction: domain.DirectionInbound, SharedSecret: "hidden-secret"},
	)
	if err != nil {
		t.Fatalf("FromPeers() error = %v", err)
	}
	return reg
}

func TestServer_Index(t *testing.T) {
	recent := stubRecent{records: []*domain.AuditRecord{{
		ID:                 "ex-1",
		SenderID:           "peerB",
		ReceiverID:         "peerA",
		QueryPatientID:     "P0001",
		ResponsePatientIDs: []string{"PA-1", "PA-2"},
		CreatedAt:          time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Status:             200,
		ElapsedSeconds:     0.5,
	}}}
	s := NewServer(newTestRegistry(t), recent, WithNodeID("node-1"))

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Content-Type = %q", ct)
	}
	body := rec.Body.String()
	for _, want := range []string{"node-1", "Peer A", "https://peerA.example/api", "2026-03-01 12:00:00", "0.50"} {
		if !strings.Contains(body, want) {
			t.Errorf("dashboard missing %q", want)
		}
	}
	for _, leak := range []string{"hidden-secret", "P0001", "PA-1"} {
		if strings.Contains(body, leak) {
			t.Errorf("dashboard rendered %q", leak)
		}
	}
}

func TestServer_IndexRecentUnavailable(t *testing.T) {
	s := NewServer(newTestRegistry(t), stubRecent{err: errors.New("db down")})

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Recent exchanges are unavailable.") {
		t.Error("dashboard did not report unavailable exchanges")
	}
}

func TestServer_Health(t *testing.T) {
	s := NewServer(newTestRegistry(t), stubRecent{})

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != `{"status":"ok"}` {
		t.Errorf("healthz = %d %s", rec.Code, rec.Body.String())
	}
}

func TestServer_Stats(t *testing.T) {
	s := NewServer(newTestRegistry(t), stubRecent{})

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/stats", nil))

	var stats StatsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if stats.OutboundPeers != 1 || stats.InboundPeers != 1 {
		t.Errorf("peers = %d/%d, want 1/1", stats.OutboundPeers, stats.InboundPeers)
	}
	if stats.GoVersion == "" || stats.NumGoroutine == 0 {
		t.Errorf("stats = %+v", stats)
	}
}
