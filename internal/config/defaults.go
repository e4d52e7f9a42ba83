package config

import (
	"strings"
	"time"
)

// Default values for optional configuration fields.
const (
	DefaultRealtimePath        = "/realtime/v1/websocket"
	DefaultHealthPath          = "/rest/v1/"
	DefaultAPITimeout          = 30 * time.Second
	DefaultMaxRetries          = 3
	DefaultHandshakeTimeout    = 10 * time.Second
	DefaultWriteTimeout        = 5 * time.Second
	DefaultReplyTimeout        = 10 * time.Second
	DefaultHeartbeatInterval   = 30 * time.Second
	DefaultHeartbeatTimeout    = 90 * time.Second
	DefaultJoinTimeout         = 10 * time.Second
	DefaultChannelBuffer       = 256
	DefaultReconnectBaseDelay  = 1 * time.Second
	DefaultReconnectMaxDelay   = 30 * time.Second
	DefaultReconnectCap        = 6
	DefaultReconnectJitter     = 0.2
	DefaultCheckInterval       = 30 * time.Second
	DefaultCheckTimeout        = 5 * time.Second
	DefaultNetworkPollInterval = 5 * time.Second
	DefaultRefreshDebounce     = 300 * time.Millisecond
	DefaultInvalidateWait      = 30 * time.Second
	DefaultWakeTickInterval    = 5 * time.Second
	DefaultWakeGap             = 20 * time.Second
	DefaultSignalLimit         = 200
	DefaultMaxFetches          = 4
	DefaultMetricsPort         = 9090
	DefaultMetricsPath         = "/metrics"
)

func (c *Config) applyDefaults() {
	// Backend defaults
	if c.Backend.WSURL == "" && c.Backend.RestURL != "" {
		c.Backend.WSURL = deriveWSURL(c.Backend.RestURL)
	}
	if c.Backend.Timeout == 0 {
		c.Backend.Timeout = DefaultAPITimeout
	}
	if c.Backend.MaxRetries == 0 {
		c.Backend.MaxRetries = DefaultMaxRetries
	}

	// Channel defaults
	if c.Channel.HandshakeTimeout == 0 {
		c.Channel.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.Channel.WriteTimeout == 0 {
		c.Channel.WriteTimeout = DefaultWriteTimeout
	}
	if c.Channel.ReplyTimeout == 0 {
		c.Channel.ReplyTimeout = DefaultReplyTimeout
	}
	if c.Channel.HeartbeatInterval == 0 {
		c.Channel.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.Channel.HeartbeatTimeout == 0 {
		c.Channel.HeartbeatTimeout = DefaultHeartbeatTimeout
	}
	if c.Channel.JoinTimeout == 0 {
		c.Channel.JoinTimeout = DefaultJoinTimeout
	}
	if c.Channel.BufferSize == 0 {
		c.Channel.BufferSize = DefaultChannelBuffer
	}

	// Reconnect defaults
	if c.Reconnect.BaseDelay == 0 {
		c.Reconnect.BaseDelay = DefaultReconnectBaseDelay
	}
	if c.Reconnect.MaxDelay == 0 {
		c.Reconnect.MaxDelay = DefaultReconnectMaxDelay
	}
	if c.Reconnect.CapExponent == 0 {
		c.Reconnect.CapExponent = DefaultReconnectCap
	}
	if c.Reconnect.Jitter == 0 {
		c.Reconnect.Jitter = DefaultReconnectJitter
	}

	// Probe defaults
	if c.Probe.HealthPath == "" {
		c.Probe.HealthPath = DefaultHealthPath
	}
	if c.Probe.CheckInterval == 0 {
		c.Probe.CheckInterval = DefaultCheckInterval
	}
	if c.Probe.CheckTimeout == 0 {
		c.Probe.CheckTimeout = DefaultCheckTimeout
	}
	if c.Probe.NetworkPollInterval == 0 {
		c.Probe.NetworkPollInterval = DefaultNetworkPollInterval
	}

	// Refresh defaults
	if c.Refresh.Debounce == 0 {
		c.Refresh.Debounce = DefaultRefreshDebounce
	}
	if c.Refresh.InvalidateWait == 0 {
		c.Refresh.InvalidateWait = DefaultInvalidateWait
	}

	// Wake defaults
	if c.Wake.TickInterval == 0 {
		c.Wake.TickInterval = DefaultWakeTickInterval
	}
	if c.Wake.WakeGap == 0 {
		c.Wake.WakeGap = DefaultWakeGap
	}

	// Store defaults
	if c.Store.SignalLimit == 0 {
		c.Store.SignalLimit = DefaultSignalLimit
	}
	if c.Store.MaxConcurrentFetches == 0 {
		c.Store.MaxConcurrentFetches = DefaultMaxFetches
	}

	// Metrics defaults
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
}

// deriveWSURL maps the project base URL to its realtime WebSocket endpoint.
func deriveWSURL(restURL string) string {
	ws := restURL
	switch {
	case strings.HasPrefix(ws, "https://"):
		ws = "wss://" + strings.TrimPrefix(ws, "https://")
	case strings.HasPrefix(ws, "http://"):
		ws = "ws://" + strings.TrimPrefix(ws, "http://")
	}
	return strings.TrimRight(ws, "/") + DefaultRealtimePath
}

// HealthURL returns the HEAD target for the connectivity probe.
func (c *Config) HealthURL() string {
	return strings.TrimRight(c.Backend.RestURL, "/") + c.Probe.HealthPath
}
