package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Normalize.BlockSize != 3000 {
		t.Errorf("expected default block size 3000, got %d", cfg.Normalize.BlockSize)
	}
	if cfg.Normalize.MinCleanedWords != 30 {
		t.Errorf("expected default min cleaned words 30, got %d", cfg.Normalize.MinCleanedWords)
	}
	if cfg.Storage.Provider != "memory" || cfg.DB.Provider != "memory" {
		t.Errorf("expected memory providers by default, got %s/%s", cfg.Storage.Provider, cfg.DB.Provider)
	}
	if !cfg.Fetch.RespectRobots {
		t.Error("expected robots compliance by default")
	}
	if got := cfg.StageTimeout(); got != 60*time.Second {
		t.Errorf("expected 60s stage timeout, got %v", got)
	}
}

func TestLoadWithFileOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
discover:
  keywords:
    - earthquake damage
    - seismic swarm
  max_results: 8
  site_filter: example.com
fetch:
  user_agent: quake-agent
  respect_robots: false
  timeout_seconds: 45
headless:
  enabled: true
  max_parallel: 2
extract:
  min_text_chars: 120
normalize:
  block_size: 2000
  topic: quake-normalized
cleaner:
  enabled: true
  base_url: http://llm.internal:9999/v1
  model: gpt-4
storage:
  provider: local
  local_dir: /tmp/blobs
db:
  provider: memory
pipeline:
  batch_size: 50
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Server.Port)
	}
	if len(cfg.Discover.Keywords) != 2 || cfg.Discover.Keywords[1] != "seismic swarm" {
		t.Errorf("keywords not loaded: %v", cfg.Discover.Keywords)
	}
	if cfg.Discover.MaxResults != 8 {
		t.Errorf("expected max results 8, got %d", cfg.Discover.MaxResults)
	}
	if cfg.Fetch.RespectRobots {
		t.Error("expected robots override to false")
	}
	if cfg.Extract.MinTextChars != 120 {
		t.Errorf("expected min text chars 120, got %d", cfg.Extract.MinTextChars)
	}
	if cfg.Normalize.Topic != "quake-normalized" {
		t.Errorf("unexpected topic %q", cfg.Normalize.Topic)
	}
	if cfg.Storage.Provider != "local" || cfg.Storage.LocalDir != "/tmp/blobs" {
		t.Errorf("local storage not loaded: %+v", cfg.Storage)
	}
	if got := cfg.FetchTimeout(); got != 45*time.Second {
		t.Errorf("expected 45s fetch timeout, got %v", got)
	}
}

func TestLoadEnvironmentOverride(t *testing.T) {
	t.Setenv("INGEST_SERVER_PORT", "7070")
	t.Setenv("INGEST_NORMALIZE_BLOCK_SIZE", "1500")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Errorf("expected env port 7070, got %d", cfg.Server.Port)
	}
	if cfg.Normalize.BlockSize != 1500 {
		t.Errorf("expected env block size 1500, got %d", cfg.Normalize.BlockSize)
	}
}

func TestValidateRejectsBadConfig(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "zero port",
			mutate:  func(c *Config) { c.Server.Port = 0 },
			wantErr: "server.port",
		},
		{
			name:    "zero batch size",
			mutate:  func(c *Config) { c.Pipeline.BatchSize = 0 },
			wantErr: "pipeline.batch_size",
		},
		{
			name:    "unknown storage provider",
			mutate:  func(c *Config) { c.Storage.Provider = "s3" },
			wantErr: "storage.provider",
		},
		{
			name:    "local storage without dir",
			mutate:  func(c *Config) { c.Storage.Provider = "local" },
			wantErr: "storage.local_dir",
		},
		{
			name:    "postgres without dsn",
			mutate:  func(c *Config) { c.DB.Provider = "postgres" },
			wantErr: "db.dsn",
		},
		{
			name:    "cleaner enabled without url",
			mutate:  func(c *Config) { c.Cleaner.Enabled = true },
			wantErr: "cleaner.base_url",
		},
		{
			name:    "auth enabled without key",
			mutate:  func(c *Config) { c.Auth.Enabled = true },
			wantErr: "auth.api_key",
		},
		{
			name:    "pubsub enabled without topic",
			mutate:  func(c *Config) { c.PubSub.Enabled = true; c.PubSub.ProjectID = "p" },
			wantErr: "pubsub",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := Load("")
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			tc.mutate(&cfg)
			err = cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tc.wantErr, err)
			}
		})
	}
}
