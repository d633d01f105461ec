package runtime

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tidwall/gjson"

	"github.com/tjfontaine/mme-broker/internal/core/domain"
	"github.com/tjfontaine/mme-broker/internal/pkg/config"
	"github.com/tjfontaine/mme-broker/internal/pkg/safehttp"
)

const (
	testRequest  = `{"patient":{"id":"1","contact":{"name":"First Last","href":"mailto:first.last@example.com"},"features":[{"id":"HP:0001366"}]}}`
	testResponse = `{"results":[{"score":{"patient":0.72},"patient":{"id":"PA-0042","features":[{"id":"HP:0001366"}]}}]}`
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(peerURL string) *config.Config {
	cfg := config.Default()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0
	cfg.Events.Type = "none"
	cfg.Storage.Type = "memory"
	cfg.Peers = []config.PeerConfig{
		{ID: "peerA", Name: "Peer A", Direction: "outbound", BaseAddress: peerURL},
		{ID: "peerB", Direction: "inbound", SharedSecret: "peerB-secret"},
	}
	return cfg
}

func startBroker(t *testing.T) (*Broker, *httptest.Server) {
	t.Helper()

	peer := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", config.MediaType)
		io.WriteString(w, testResponse)
	}))
	t.Cleanup(peer.Close)

	pool := peer.Client().Transport.(*http.Transport).TLSClientConfig.RootCAs
	hc := &http.Client{Transport: safehttp.NewTransport(safehttp.Options{RootCAs: pool})}

	b, err := New(
		WithLogger(quietLogger()),
		WithConfig(testConfig(peer.URL+"/api")),
		WithHTTPClient(hc),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		b.Shutdown(ctx)
	})
	return b, peer
}

func serve(b *Broker, method, target, body, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if token != "" {
		req.Header.Set("X-Auth-Token", token)
	}
	rec := httptest.NewRecorder()
	b.Handler().ServeHTTP(rec, req)
	return rec
}

func TestBroker_New_RequiresConfig(t *testing.T) {
	_, err := New()
	if err == nil {
		t.Fatal("New() error = nil, want error")
	}
	if err.Error() != "config provider required (use WithFileConfig or WithConfig)" {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestBroker_New_OptionError(t *testing.T) {
	_, err := New(WithKafkaEvents(nil, "topic"))
	if err == nil || !strings.Contains(err.Error(), "apply option") {
		t.Errorf("New() error = %v, want option error", err)
	}
}

func TestBroker_MatchEndToEnd(t *testing.T) {
	b, _ := startBroker(t)

	rec := serve(b, http.MethodPost, "/v1/servers/peerA/match", testRequest, "peerB-secret")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != config.MediaType {
		t.Errorf("Content-Type = %q", ct)
	}
	if got := gjson.Get(rec.Body.String(), "results.0.patient.id").String(); got != "PA-0042" {
		t.Errorf("results.0.patient.id = %q", got)
	}

	rec = serve(b, http.MethodGet, "/v1/exchanges/recent", "", "")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("recent without token status = %d, want 401", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "PA-0042") {
		t.Error("recent without token listed patient ids")
	}

	rec = serve(b, http.MethodGet, "/v1/exchanges/recent", "", "peerB-secret")
	if rec.Code != http.StatusOK {
		t.Fatalf("recent status = %d", rec.Code)
	}
	body := rec.Body.String()
	if n := gjson.Get(body, "exchanges.#").Int(); n != 1 {
		t.Fatalf("recent exchanges = %d, want 1", n)
	}
	if got := gjson.Get(body, "exchanges.0.senderId").String(); got != "peerB" {
		t.Errorf("senderId = %q, want peerB", got)
	}

	rec = serve(b, http.MethodGet, "/metrics", "", "")
	if !strings.Contains(rec.Body.String(), `mme_exchanges_total{outcome="ok"} 1`) {
		t.Errorf("metrics missing exchange count:\n%s", rec.Body.String())
	}
}

func TestBroker_RejectsUnknownToken(t *testing.T) {
	b, _ := startBroker(t)

	rec := serve(b, http.MethodPost, "/v1/servers/peerA/match", testRequest, "wrong")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}

	rec = serve(b, http.MethodPost, "/v1/servers/peerA/match?timeout=abc", testRequest, "wrong")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("bad token with bad timeout status = %d, want 401", rec.Code)
	}
}

func TestBroker_DashboardAndHealth(t *testing.T) {
	b, _ := startBroker(t)

	if rec := serve(b, http.MethodGet, "/healthz", "", ""); rec.Code != http.StatusOK {
		t.Errorf("healthz status = %d", rec.Code)
	}
	rec := serve(b, http.MethodGet, "/", "", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "Peer A") {
		t.Errorf("dashboard = %d %s", rec.Code, rec.Body.String())
	}
}

func TestBroker_Reload(t *testing.T) {
	b, peer := startBroker(t)

	cfg := testConfig(peer.URL + "/api")
	cfg.Peers = append(cfg.Peers, config.PeerConfig{ID: "peerC", Direction: "out", BaseAddress: "https://peerC.example/api"})
	if err := b.Reload(context.Background(), cfg); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
	if _, ok := b.Registry().Outbound("peerC"); !ok {
		t.Error("peerC not outbound after reload")
	}

	bad := testConfig(peer.URL + "/api")
	bad.Peers = append(bad.Peers, config.PeerConfig{ID: "peerX", Direction: "outbound", BaseAddress: "http://peerX.example"})
	if err := b.Reload(context.Background(), bad); err == nil {
		t.Error("Reload(plaintext peer) error = nil, want error")
	}
	if _, ok := b.Registry().Outbound("peerC"); !ok {
		t.Error("failed reload replaced the previous peers")
	}
}

func TestBroker_ReloadAppliesAuthPolicy(t *testing.T) {
	b, peer := startBroker(t)

	if rec := serve(b, http.MethodPost, "/v1/servers/peerA/match", testRequest, ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous status before reload = %d, want 401", rec.Code)
	}

	cfg := testConfig(peer.URL + "/api")
	cfg.Federation.RequireAuth = false
	if err := b.Reload(context.Background(), cfg); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}

	rec := serve(b, http.MethodPost, "/v1/servers/peerA/match", testRequest, "")
	if rec.Code != http.StatusOK {
		t.Errorf("anonymous status after reload = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if rec := serve(b, http.MethodGet, "/v1/exchanges/recent", "", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("anonymous recent status = %d, want 401", rec.Code)
	}
}

func TestRestartRequired(t *testing.T) {
	old := testConfig("https://peerA.example/api")

	same := testConfig("https://peerA.example/api")
	same.Federation.RequireAuth = false
	same.Federation.DefaultTimeout = time.Second
	same.Peers = nil
	if got := RestartRequired(old, same); len(got) != 0 {
		t.Errorf("RestartRequired(live keys) = %v, want none", got)
	}

	next := testConfig("https://peerA.example/api")
	next.Server.Port = 9000
	next.Federation.Workers = 9
	next.Events.Kafka.Brokers = []string{"localhost:9092"}
	got := strings.Join(RestartRequired(old, next), ",")
	if got != "server,federation.workers,events" {
		t.Errorf("RestartRequired() = %q", got)
	}
}

func TestBroker_FileConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  host: 127.0.0.1
  port: 0
storage:
  type: sqlite
  sqlite:
    path: ` + filepath.Join(dir, "data", "broker.db") + `
events:
  type: log
peers:
  - id: peerA
    direction: outbound
    base_address: https://peerA.example/api
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	b, err := New(WithLogger(quietLogger()), WithFileConfig(path))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer b.Shutdown(context.Background())

	peers := b.Registry().List(domain.DirectionOutbound)
	if len(peers) != 1 || peers[0].ID != "peerA" {
		t.Errorf("outbound peers = %v", peers)
	}
	if _, err := os.Stat(filepath.Join(dir, "data", "broker.db")); err != nil {
		t.Errorf("sqlite database not created: %v", err)
	}
}

func TestOpenStorage_Unknown(t *testing.T) {
	if _, err := OpenStorage(config.StorageConfig{Type: "cassandra"}); err == nil {
		t.Error("OpenStorage(cassandra) error = nil, want error")
	}
}

func TestOpenEvents(t *testing.T) {
	pub, err := OpenEvents(config.EventsConfig{Type: "none"}, quietLogger())
	if err != nil || pub != nil {
		t.Errorf("OpenEvents(none) = %v, %v; want nil, nil", pub, err)
	}
	if _, err := OpenEvents(config.EventsConfig{Type: "smoke-signals"}, quietLogger()); err == nil {
		t.Error("OpenEvents(unknown) error = nil, want error")
	}
}

func TestBroker_ConfigOverride(t *testing.T) {
	b, err := New(
		WithLogger(quietLogger()),
		WithConfig(testConfig("https://peerA.example/api")),
		WithMemoryStorage(),
		WithConfigOverride(func(cfg *config.Config) { cfg.Federation.NodeID = "override-node" }),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer b.Shutdown(context.Background())

	rec := serve(b, http.MethodGet, "/", "", "")
	if !strings.Contains(rec.Body.String(), "override-node") {
		t.Error("dashboard does not show the overridden node id")
	}
}
