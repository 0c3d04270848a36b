package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/BrandonDHaskell/Clavis/server/internal/config"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clavis.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_FileWithDefaults(t *testing.T) {
	path := writeConfig(t, `
env: prod
locks:
  - id: front-door
    node_id: 12
`)
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Env != "prod" {
		t.Errorf("env = %q, want prod", cfg.Env)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("http_addr = %q, want :8080", cfg.HTTPAddr)
	}
	if cfg.Storage.Backend != "file" {
		t.Errorf("storage.backend = %q, want file", cfg.Storage.Backend)
	}
	if cfg.Sync.ScanInterval != 5*time.Minute {
		t.Errorf("sync.scan_interval = %v, want 5m", cfg.Sync.ScanInterval)
	}
	if len(cfg.Locks) != 1 {
		t.Fatalf("expected 1 lock, got %d", len(cfg.Locks))
	}
	if cfg.Locks[0].Slots != 20 {
		t.Errorf("slots = %d, want default 20", cfg.Locks[0].Slots)
	}
	if cfg.Locks[0].Name != "front-door" {
		t.Errorf("name = %q, want id fallback", cfg.Locks[0].Name)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
http_addr: ":9000"
locks:
  - id: front-door
    node_id: 12
`)
	t.Setenv("CLAVIS_HTTP_ADDR", ":7070")
	t.Setenv("CLAVIS_GATEWAY_URL", "ws://bridge.local:3000")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":7070" {
		t.Errorf("http_addr = %q, want env override :7070", cfg.HTTPAddr)
	}
	if cfg.Gateway.URL != "ws://bridge.local:3000" {
		t.Errorf("gateway.url = %q, want env override", cfg.Gateway.URL)
	}
}

func TestLoad_ClampsScanInterval(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want time.Duration
	}{
		{"below minimum", "1s", time.Minute},
		{"above maximum", "4h", 60 * time.Minute},
		{"in range", "10m", 10 * time.Minute},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfig(t, `
sync:
  scan_interval: `+tc.in+`
locks:
  - id: front-door
    node_id: 12
`)
			cfg, err := config.Load(path)
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if cfg.Sync.ScanInterval != tc.want {
				t.Errorf("scan_interval = %v, want %v", cfg.Sync.ScanInterval, tc.want)
			}
		})
	}
}

func TestLoad_UnknownEnvFallsBackToDev(t *testing.T) {
	path := writeConfig(t, `
env: staging
locks:
  - id: front-door
    node_id: 12
`)
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Env != "dev" {
		t.Errorf("env = %q, want dev fallback", cfg.Env)
	}
}

func TestLoad_RejectsInvalidConfig(t *testing.T) {
	cases := []struct {
		name    string
		body    string
		wantErr string
	}{
		{
			name:    "no locks",
			body:    ``,
			wantErr: "at least one lock",
		},
		{
			name: "missing lock id",
			body: `
locks:
  - node_id: 12
`,
			wantErr: "needs an id",
		},
		{
			name: "duplicate lock id",
			body: `
locks:
  - id: door
    node_id: 12
  - id: door
    node_id: 13
`,
			wantErr: "duplicate lock id",
		},
		{
			name: "missing node id",
			body: `
locks:
  - id: door
`,
			wantErr: "positive node_id",
		},
		{
			name: "duplicate node id",
			body: `
locks:
  - id: front
    node_id: 12
  - id: back
    node_id: 12
`,
			wantErr: "duplicate node_id",
		},
		{
			name: "unknown backend",
			body: `
storage:
  backend: etcd
locks:
  - id: door
    node_id: 12
`,
			wantErr: "unknown storage backend",
		},
		{
			name: "postgres without dsn",
			body: `
storage:
  backend: postgres
locks:
  - id: door
    node_id: 12
`,
			wantErr: "postgres_dsn required",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfig(t, tc.body)
			_, err := config.Load(path)
			if err == nil {
				t.Fatal("expected an error")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("error %q does not mention %q", err, tc.wantErr)
			}
		})
	}
}
