package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadFile(t *testing.T) {
	t.Run("defaults when file is missing", func(t *testing.T) {
		cfg, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
		if err != nil {
			t.Fatalf("LoadFile() error = %v", err)
		}

		if cfg.Server.Port != 8000 {
			t.Errorf("port = %v, want 8000", cfg.Server.Port)
		}
		if cfg.Federation.DefaultTimeout != 5*time.Second {
			t.Errorf("default_timeout = %v, want 5s", cfg.Federation.DefaultTimeout)
		}
		if cfg.Federation.Workers != 4 {
			t.Errorf("workers = %v, want 4", cfg.Federation.Workers)
		}
		if !cfg.Federation.RequireAuth {
			t.Error("require_auth should default to true")
		}
		if cfg.Federation.MediaType != MediaType {
			t.Errorf("media_type = %q", cfg.Federation.MediaType)
		}
		if cfg.Audit.RecentDefault != 10 {
			t.Errorf("recent_default = %v, want 10", cfg.Audit.RecentDefault)
		}
	})

	t.Run("env var port override", func(t *testing.T) {
		t.Setenv("MME_SERVER__PORT", "9000")
		t.Setenv("MME_FEDERATION__DEFAULT_TIMEOUT", "7s")

		cfg, err := LoadFile("")
		if err != nil {
			t.Fatalf("LoadFile() error = %v", err)
		}

		if cfg.Server.Port != 9000 {
			t.Errorf("port = %v, want 9000", cfg.Server.Port)
		}
		if cfg.Federation.DefaultTimeout != 7*time.Second {
			t.Errorf("default_timeout = %v, want 7s", cfg.Federation.DefaultTimeout)
		}
	})

	t.Run("peers and secret substitution", func(t *testing.T) {
		t.Setenv("PEER_B_SECRET", "s3cret")
		path := writeConfig(t, `
federation:
  node_id: nodeA
peers:
  - id: peerA
    name: Peer A
    direction: out
    base_address: https://peer-a.example/api
  - id: peerB
    direction: inbound
    shared_secret: ${PEER_B_SECRET}
storage:
  type: memory
`)

		cfg, err := LoadFile(path)
		if err != nil {
			t.Fatalf("LoadFile() error = %v", err)
		}

		if cfg.Federation.NodeID != "nodeA" {
			t.Errorf("node_id = %q", cfg.Federation.NodeID)
		}
		if len(cfg.Peers) != 2 {
			t.Fatalf("len(peers) = %d, want 2", len(cfg.Peers))
		}
		if cfg.Peers[1].SharedSecret != "s3cret" {
			t.Errorf("shared_secret = %q, want s3cret", cfg.Peers[1].SharedSecret)
		}
		if cfg.Storage.Type != "memory" {
			t.Errorf("storage.type = %q", cfg.Storage.Type)
		}
	})

	t.Run("duplicate peer ids rejected", func(t *testing.T) {
		path := writeConfig(t, `
peers:
  - id: peerA
    direction: inbound
  - id: peerA
    direction: inbound
`)
		if _, err := LoadFile(path); err == nil {
			t.Fatal("expected error for duplicate peer id")
		}
	})

	t.Run("max below default rejected", func(t *testing.T) {
		path := writeConfig(t, `
federation:
  default_timeout: 10s
  max_timeout: 2s
`)
		if _, err := LoadFile(path); err == nil {
			t.Fatal("expected error when max_timeout < default_timeout")
		}
	})
}

func TestClampTimeout(t *testing.T) {
	f := Default().Federation

	tests := []struct {
		name      string
		requested time.Duration
		want      time.Duration
	}{
		{"zero uses default", 0, 5 * time.Second},
		{"within range", 12 * time.Second, 12 * time.Second},
		{"above max is clamped", 10 * time.Minute, 60 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := f.ClampTimeout(tt.requested); got != tt.want {
				t.Errorf("ClampTimeout(%v) = %v, want %v", tt.requested, got, tt.want)
			}
		})
	}
}

func TestSubstituteEnvVars(t *testing.T) {
	t.Setenv("TEST_VAR", "test-value")

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "simple substitution",
			input: "${TEST_VAR}",
			want:  "test-value",
		},
		{
			name:  "substitution in dsn",
			input: "postgres://broker:${TEST_VAR}@db/mme",
			want:  "postgres://broker:test-value@db/mme",
		},
		{
			name:  "no substitution",
			input: "plain-string",
			want:  "plain-string",
		},
		{
			name:  "undefined var",
			input: "${UNDEFINED_MME_VAR}",
			want:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := substituteEnvVars(tt.input)
			if got != tt.want {
				t.Errorf("substituteEnvVars() = %v, want %v", got, tt.want)
			}
		})
	}
}
