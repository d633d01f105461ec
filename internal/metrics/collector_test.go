package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollector_RecordPeerRequest(t *testing.T) {
	c := NewCollector()

	c.RecordPeerRequest("peerA", 200, 120*time.Millisecond)
	c.RecordPeerRequest("peerA", 0, 5*time.Second)
	c.RecordPeerRequest("peerA", 503, 10*time.Millisecond)

	tests := []struct {
		status string
		want   float64
	}{
		{"2xx", 1},
		{"5xx", 1},
		{"transport_error", 1},
		{"4xx", 0},
	}
	for _, tt := range tests {
		got := testutil.ToFloat64(c.peerRequestsTotal.WithLabelValues("peerA", tt.status))
		if got != tt.want {
			t.Errorf("peer_requests_total{status=%q} = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestCollector_RecordAuditWrite(t *testing.T) {
	c := NewCollector()

	c.RecordAuditWrite(nil)
	c.RecordAuditWrite(errors.New("disk full"))
	c.RecordAuditWrite(errors.New("disk full"))

	if got := testutil.ToFloat64(c.auditWritesTotal.WithLabelValues("ok")); got != 1 {
		t.Errorf("ok = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.auditWritesTotal.WithLabelValues("failed")); got != 2 {
		t.Errorf("failed = %v, want 2", got)
	}
}

func TestCollector_NilIsNoop(t *testing.T) {
	var c *Collector
	c.RecordHTTPRequest("GET", "/", 200, time.Millisecond)
	c.RecordPeerRequest("peerA", 200, time.Millisecond)
	c.RecordExchange("completed")
	c.RecordResponseForm("canonical")
	c.RecordAuditWrite(nil)
	c.RecordEventPublish(nil)
}

func TestCollector_Handler(t *testing.T) {
	c := NewCollector()
	c.RecordExchange("completed")
	c.RecordHTTPRequest(http.MethodPost, "/v1/servers/{peerId}/match", 200, 30*time.Millisecond)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{
		`mme_exchanges_total{outcome="completed"} 1`,
		`mme_http_requests_total{method="POST",route="/v1/servers/{peerId}/match",status="200"} 1`,
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("exposition missing %q", want)
		}
	}
}
