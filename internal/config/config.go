package config

import "time"

// Config is the root configuration for a syncd instance.
type Config struct {
	Instance  InstanceConfig  `yaml:"instance"`
	Backend   BackendConfig   `yaml:"backend"`
	Channel   ChannelConfig   `yaml:"channel"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
	Probe     ProbeConfig     `yaml:"probe"`
	Refresh   RefreshConfig   `yaml:"refresh"`
	Wake      WakeConfig      `yaml:"wake"`
	Store     StoreConfig     `yaml:"store"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// InstanceConfig identifies this client instance.
type InstanceConfig struct {
	ID          string `yaml:"id"`
	Environment string `yaml:"environment"`
}

// BackendConfig holds backend endpoint settings shared by the REST client,
// the realtime channel, and the connectivity probe.
type BackendConfig struct {
	RestURL    string        `yaml:"rest_url"` // Project base URL (e.g., https://proj.pipwave.io)
	WSURL      string        `yaml:"ws_url"`   // Realtime WebSocket URL; derived from rest_url if empty
	APIKey     string        `yaml:"api_key"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
}

// ChannelConfig holds realtime channel transport settings.
type ChannelConfig struct {
	HandshakeTimeout  time.Duration `yaml:"handshake_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	ReplyTimeout      time.Duration `yaml:"reply_timeout"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	HeartbeatTimeout  time.Duration `yaml:"heartbeat_timeout"`
	JoinTimeout       time.Duration `yaml:"join_timeout"`
	BufferSize        int           `yaml:"buffer_size"`
}

// ReconnectConfig holds the reconnect backoff schedule.
type ReconnectConfig struct {
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	CapExponent int           `yaml:"cap_exponent"`
	Jitter      float64       `yaml:"jitter"`
}

// ProbeConfig holds connectivity probe settings.
type ProbeConfig struct {
	HealthPath          string        `yaml:"health_path"` // Appended to backend.rest_url for HEAD checks
	CheckInterval       time.Duration `yaml:"check_interval"`
	CheckTimeout        time.Duration `yaml:"check_timeout"`
	NetworkPollInterval time.Duration `yaml:"network_poll_interval"`
}

// RefreshConfig holds refresh dispatcher settings.
type RefreshConfig struct {
	Debounce       time.Duration `yaml:"debounce"`
	InvalidateWait time.Duration `yaml:"invalidate_wait"`
}

// WakeConfig holds wake detector settings.
type WakeConfig struct {
	TickInterval time.Duration `yaml:"tick_interval"`
	WakeGap      time.Duration `yaml:"wake_gap"`
}

// StoreConfig holds snapshot store settings.
type StoreConfig struct {
	SignalLimit          int      `yaml:"signal_limit"`
	Pairs                []string `yaml:"pairs"`
	MaxConcurrentFetches int      `yaml:"max_concurrent_fetches"`
}

// MetricsConfig holds the metrics/health HTTP server settings.
type MetricsConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}
