package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	yaml := `
instance:
  id: test-client
  environment: staging
backend:
  rest_url: https://proj.pipwave.io
  api_key: test-key
store:
  pairs: [EURUSD, GBPUSD]
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Instance.ID != "test-client" {
		t.Errorf("Instance.ID = %q, want %q", cfg.Instance.ID, "test-client")
	}
	if cfg.Backend.RestURL != "https://proj.pipwave.io" {
		t.Errorf("Backend.RestURL = %q, want %q", cfg.Backend.RestURL, "https://proj.pipwave.io")
	}
	if len(cfg.Store.Pairs) != 2 || cfg.Store.Pairs[0] != "EURUSD" {
		t.Errorf("Store.Pairs = %v, want [EURUSD GBPUSD]", cfg.Store.Pairs)
	}
}

func TestLoadWithEnvSubstitution(t *testing.T) {
	t.Setenv("TEST_API_KEY", "secret123")

	yaml := `
instance:
  id: test-client
backend:
  rest_url: https://proj.pipwave.io
  api_key: ${TEST_API_KEY}
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Backend.APIKey != "secret123" {
		t.Errorf("Backend.APIKey = %q, want %q", cfg.Backend.APIKey, "secret123")
	}
}

func TestLoadWithDefaults(t *testing.T) {
	yaml := `
instance:
  id: test-client
backend:
  rest_url: https://proj.pipwave.io
  api_key: test-key
`
	path := writeTempFile(t, yaml)

	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}

	if cfg.Backend.WSURL != "wss://proj.pipwave.io/realtime/v1/websocket" {
		t.Errorf("Backend.WSURL = %q, want derived wss URL", cfg.Backend.WSURL)
	}
	if cfg.Backend.Timeout != DefaultAPITimeout {
		t.Errorf("Backend.Timeout = %v, want default %v", cfg.Backend.Timeout, DefaultAPITimeout)
	}
	if cfg.Reconnect.BaseDelay != DefaultReconnectBaseDelay {
		t.Errorf("Reconnect.BaseDelay = %v, want default %v", cfg.Reconnect.BaseDelay, DefaultReconnectBaseDelay)
	}
	if cfg.Reconnect.Jitter != DefaultReconnectJitter {
		t.Errorf("Reconnect.Jitter = %v, want default %v", cfg.Reconnect.Jitter, DefaultReconnectJitter)
	}
	if cfg.Refresh.Debounce != DefaultRefreshDebounce {
		t.Errorf("Refresh.Debounce = %v, want default %v", cfg.Refresh.Debounce, DefaultRefreshDebounce)
	}
	if cfg.Store.SignalLimit != DefaultSignalLimit {
		t.Errorf("Store.SignalLimit = %d, want default %d", cfg.Store.SignalLimit, DefaultSignalLimit)
	}
	if cfg.Metrics.Port != DefaultMetricsPort {
		t.Errorf("Metrics.Port = %d, want default %d", cfg.Metrics.Port, DefaultMetricsPort)
	}
}

func TestExplicitWSURLPreserved(t *testing.T) {
	yaml := `
instance:
  id: test-client
backend:
  rest_url: https://proj.pipwave.io
  ws_url: wss://other.pipwave.io/realtime/v1/websocket
  api_key: test-key
`
	path := writeTempFile(t, yaml)

	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}
	if cfg.Backend.WSURL != "wss://other.pipwave.io/realtime/v1/websocket" {
		t.Errorf("Backend.WSURL = %q, explicit value should win", cfg.Backend.WSURL)
	}
}

func TestHealthURL(t *testing.T) {
	cfg := Config{
		Backend: BackendConfig{RestURL: "https://proj.pipwave.io/"},
		Probe:   ProbeConfig{HealthPath: "/rest/v1/"},
	}
	if got := cfg.HealthURL(); got != "https://proj.pipwave.io/rest/v1/" {
		t.Errorf("HealthURL() = %q, want %q", got, "https://proj.pipwave.io/rest/v1/")
	}
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Instance: InstanceConfig{ID: "test"},
			Backend:  BackendConfig{RestURL: "https://proj.pipwave.io", APIKey: "key"},
			Reconnect: ReconnectConfig{
				BaseDelay: time.Second,
				MaxDelay:  30 * time.Second,
				Jitter:    0.2,
			},
			Refresh: RefreshConfig{Debounce: 300 * time.Millisecond},
			Store:   StoreConfig{SignalLimit: 200, MaxConcurrentFetches: 4},
			Metrics: MetricsConfig{Port: 9090},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "valid config",
			mutate:  func(c *Config) {},
			wantErr: "",
		},
		{
			name:    "missing instance id",
			mutate:  func(c *Config) { c.Instance.ID = "" },
			wantErr: "instance.id is required",
		},
		{
			name:    "missing rest url",
			mutate:  func(c *Config) { c.Backend.RestURL = "" },
			wantErr: "backend.rest_url is required",
		},
		{
			name:    "non-http rest url",
			mutate:  func(c *Config) { c.Backend.RestURL = "proj.pipwave.io" },
			wantErr: `backend.rest_url must be an http(s) URL, got "proj.pipwave.io"`,
		},
		{
			name:    "missing api key",
			mutate:  func(c *Config) { c.Backend.APIKey = "" },
			wantErr: "backend.api_key is required",
		},
		{
			name:    "max delay below base delay",
			mutate:  func(c *Config) { c.Reconnect.MaxDelay = 100 * time.Millisecond },
			wantErr: "reconnect.max_delay (100ms) cannot be less than base_delay (1s)",
		},
		{
			name:    "jitter out of range",
			mutate:  func(c *Config) { c.Reconnect.Jitter = 1.5 },
			wantErr: "reconnect.jitter must be between 0 and 1, got 1.5",
		},
		{
			name:    "zero debounce",
			mutate:  func(c *Config) { c.Refresh.Debounce = 0 },
			wantErr: "refresh.debounce must be > 0",
		},
		{
			name:    "bad metrics port",
			mutate:  func(c *Config) { c.Metrics.Port = 70000 },
			wantErr: "metrics.port must be between 1 and 65535, got 70000",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
			} else {
				if err == nil {
					t.Errorf("Validate() expected error %q, got nil", tt.wantErr)
				} else if err.Error() != tt.wantErr {
					t.Errorf("Validate() error = %q, want %q", err.Error(), tt.wantErr)
				}
			}
		})
	}
}

func TestLoadAndValidateRejectsBadFile(t *testing.T) {
	path := writeTempFile(t, "instance:\n  id: test\n")
	if _, err := LoadAndValidate(path); err == nil {
		t.Fatal("expected validation error for config without backend settings")
	}
}

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}
