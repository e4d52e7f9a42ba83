package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if c.Backend.RestURL == "" {
		return errors.New("backend.rest_url is required")
	}
	if !strings.HasPrefix(c.Backend.RestURL, "http://") && !strings.HasPrefix(c.Backend.RestURL, "https://") {
		return fmt.Errorf("backend.rest_url must be an http(s) URL, got %q", c.Backend.RestURL)
	}
	if c.Backend.APIKey == "" {
		return errors.New("backend.api_key is required")
	}
	if c.Backend.MaxRetries < 0 {
		return errors.New("backend.max_retries must be >= 0")
	}

	if c.Reconnect.BaseDelay <= 0 {
		return errors.New("reconnect.base_delay must be > 0")
	}
	if c.Reconnect.MaxDelay < c.Reconnect.BaseDelay {
		return fmt.Errorf("reconnect.max_delay (%v) cannot be less than base_delay (%v)",
			c.Reconnect.MaxDelay, c.Reconnect.BaseDelay)
	}
	if c.Reconnect.Jitter < 0 || c.Reconnect.Jitter > 1 {
		return fmt.Errorf("reconnect.jitter must be between 0 and 1, got %v", c.Reconnect.Jitter)
	}

	if c.Refresh.Debounce <= 0 {
		return errors.New("refresh.debounce must be > 0")
	}

	if c.Store.SignalLimit < 1 {
		return errors.New("store.signal_limit must be >= 1")
	}
	if c.Store.MaxConcurrentFetches < 1 {
		return errors.New("store.max_concurrent_fetches must be >= 1")
	}

	if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port must be between 1 and 65535, got %d", c.Metrics.Port)
	}

	return nil
}
