package federation

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/tjfontaine/mme-broker/internal/core/domain"
	"github.com/tjfontaine/mme-broker/internal/pkg/config"
	"github.com/tjfontaine/mme-broker/internal/pkg/safehttp"
	"github.com/tjfontaine/mme-broker/internal/testutil"
)

var canonicalRequest = domain.CanonicalPayload{Body: []byte(`{"patient":{"id":"1"},"_linkage":{"sender":"peerB"}}`)}

// newTLSPeer starts an https peer and returns a client that trusts it.
func newTLSPeer(t *testing.T, id string, h http.HandlerFunc) (domain.Peer, *http.Client) {
	t.Helper()
	srv := httptest.NewTLSServer(h)
	t.Cleanup(srv.Close)

	pool := srv.Client().Transport.(*http.Transport).TLSClientConfig.RootCAs
	hc := &http.Client{Transport: safehttp.NewTransport(safehttp.Options{RootCAs: pool})}

	return domain.Peer{
		ID:           id,
		Direction:    domain.DirectionOutbound,
		BaseAddress:  srv.URL + "/api",
		SharedSecret: id + "-secret",
	}, hc
}

func TestClient_Send_Headers(t *testing.T) {
	var got *http.Request
	var gotBody []byte
	peer, hc := newTLSPeer(t, "peerA", func(w http.ResponseWriter, r *http.Request) {
		got = r
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", config.MediaType)
		w.Write([]byte(`{"results":[]}`))
	})

	c := NewClient(WithHTTPClient(hc))
	res := c.Send(context.Background(), peer, canonicalRequest, "peerB", 5*time.Second)

	if res.Status != http.StatusOK || res.Err != nil {
		t.Fatalf("Send() = %d, %v", res.Status, res.Err)
	}
	if string(res.Body) != `{"results":[]}` {
		t.Errorf("Body = %s", res.Body)
	}

	if got.Method != http.MethodPost || got.URL.Path != "/api/match" {
		t.Errorf("request = %s %s", got.Method, got.URL.Path)
	}
	headers := map[string]string{
		"X-Sender-ID":  "peerB",
		"X-Auth-Token": "peerA-secret",
		"Content-Type": config.MediaType,
		"Accept":       config.MediaType,
		"User-Agent":   UserAgent,
	}
	for k, want := range headers {
		if v := got.Header.Get(k); v != want {
			t.Errorf("header %s = %q, want %q", k, v, want)
		}
	}
	if string(gotBody) != string(canonicalRequest.Body) {
		t.Errorf("body = %s", gotBody)
	}
}

func TestClient_Send_AnonymousUsesNodeID(t *testing.T) {
	var sender, token string
	peer, hc := newTLSPeer(t, "peerA", func(w http.ResponseWriter, r *http.Request) {
		sender = r.Header.Get(HeaderSenderID)
		token = r.Header.Get(HeaderAuthToken)
		w.Write([]byte(`{"results":[]}`))
	})
	peer.SharedSecret = ""

	c := NewClient(WithHTTPClient(hc), WithFederationConfig(config.FederationConfig{NodeID: "nodeA"}))
	c.Send(context.Background(), peer, canonicalRequest, "", time.Second)

	if sender != "nodeA" {
		t.Errorf("X-Sender-ID = %q, want nodeA", sender)
	}
	if token != "" {
		t.Errorf("X-Auth-Token = %q, want none", token)
	}
}

func TestClient_Send_NonSuccessPassesThrough(t *testing.T) {
	peer, hc := newTLSPeer(t, "peerA", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("maintenance window"))
	})

	res := NewClient(WithHTTPClient(hc)).Send(context.Background(), peer, canonicalRequest, "peerB", time.Second)

	if res.Status != http.StatusServiceUnavailable {
		t.Errorf("Status = %d, want 503", res.Status)
	}
	if string(res.Body) != "maintenance window" {
		t.Errorf("Body = %q", res.Body)
	}
	if res.Err != nil {
		t.Errorf("Err = %v, want nil", res.Err)
	}
}

func TestClient_Send_Timeout(t *testing.T) {
	peer, hc := newTLSPeer(t, "peerSlow", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(3 * time.Second):
		case <-r.Context().Done():
		}
	})

	start := time.Now()
	res := NewClient(WithHTTPClient(hc)).Send(context.Background(), peer, canonicalRequest, "peerB", 100*time.Millisecond)

	if !res.TransportFailed() {
		t.Fatalf("Status = %d, want 0", res.Status)
	}
	if !strings.Contains(string(res.Body), "timed out") {
		t.Errorf("Body = %s", res.Body)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Send() took %s", elapsed)
	}
}

func TestClient_Send_ConnectionRefused(t *testing.T) {
	srv := httptest.NewTLSServer(http.NotFoundHandler())
	url := srv.URL
	pool := srv.Client().Transport.(*http.Transport).TLSClientConfig.RootCAs
	srv.Close()

	peer := domain.Peer{ID: "peerDown", Direction: domain.DirectionOutbound, BaseAddress: url}
	hc := &http.Client{Transport: safehttp.NewTransport(safehttp.Options{RootCAs: pool})}

	res := NewClient(WithHTTPClient(hc)).Send(context.Background(), peer, canonicalRequest, "peerB", time.Second)

	if res.Status != 0 || res.Err == nil {
		t.Fatalf("Send() = %d, %v; want status 0 with error", res.Status, res.Err)
	}
	if !strings.HasPrefix(string(res.Body), `{"message":`) {
		t.Errorf("Body = %s", res.Body)
	}
	if res.ElapsedSeconds() < 0 {
		t.Errorf("ElapsedSeconds() = %f", res.ElapsedSeconds())
	}
}

func TestClient_Send_BodyTooLarge(t *testing.T) {
	peer, hc := newTLSPeer(t, "peerA", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("x", 64)))
	})

	c := NewClient(WithHTTPClient(hc), WithFederationConfig(config.FederationConfig{MaxBodyBytes: 16}))
	res := c.Send(context.Background(), peer, canonicalRequest, "peerB", time.Second)

	if res.Status != 0 || !errors.Is(res.Err, ErrBodyTooLarge) {
		t.Errorf("Send() = %d, %v; want status 0 ErrBodyTooLarge", res.Status, res.Err)
	}
}

func TestClient_Send_PlaintextPanics(t *testing.T) {
	peer := domain.Peer{ID: "peerA", Direction: domain.DirectionOutbound, BaseAddress: "http://peerA.example/api"}
	c := NewClient()

	if err := c.Check(peer); !errors.Is(err, domain.ErrInsecurePeer) {
		t.Errorf("Check() = %v, want ErrInsecurePeer", err)
	}

	defer func() {
		r := recover()
		err, ok := r.(error)
		if !ok || !errors.Is(err, domain.ErrInsecurePeer) {
			t.Errorf("recover() = %v, want ErrInsecurePeer", r)
		}
	}()
	c.Send(context.Background(), peer, canonicalRequest, "peerB", time.Second)
}

func TestClient_Send_RateLimitCountsAgainstTimeout(t *testing.T) {
	peer, hc := newTLSPeer(t, "peerA", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"results":[]}`))
	})

	c := NewClient(WithHTTPClient(hc), WithRateLimit(0.1, 1))
	ctx := context.Background()

	if res := c.Send(ctx, peer, canonicalRequest, "peerB", time.Second); res.Status != http.StatusOK {
		t.Fatalf("first Send() status = %d", res.Status)
	}
	res := c.Send(ctx, peer, canonicalRequest, "peerB", 50*time.Millisecond)
	if res.Status != 0 {
		t.Errorf("second Send() status = %d, want 0 while rate limited", res.Status)
	}
}

func TestClient_Send_Recorded(t *testing.T) {
	recorder, cleanup := testutil.NewVCRRecorder(t, "peer_match")
	defer cleanup()

	c := NewClient(WithHTTPClient(testutil.VCRHTTPClient(recorder)))
	peerA := domain.Peer{ID: "peerA", Direction: domain.DirectionOutbound, BaseAddress: "https://peerA.example/api"}
	peerC := domain.Peer{ID: "peerC", Direction: domain.DirectionOutbound, BaseAddress: "https://peerC.example/api/"}

	res := c.Send(context.Background(), peerA, canonicalRequest, "peerB", 5*time.Second)
	if res.Status != http.StatusOK {
		t.Fatalf("peerA Status = %d (%v)", res.Status, res.Err)
	}
	if !strings.Contains(string(res.Body), `"PA-0042"`) {
		t.Errorf("peerA Body = %s", res.Body)
	}

	res = c.Send(context.Background(), peerC, canonicalRequest, "peerB", 5*time.Second)
	if res.Status != http.StatusUnprocessableEntity {
		t.Errorf("peerC Status = %d, want 422", res.Status)
	}
}
