package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	dto "github.com/prometheus/client_model/go"
)

func findMetric(t *testing.T, c *Collector, name string) *dto.MetricFamily {
	t.Helper()
	families, err := c.Registry().Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, fam := range families {
		if fam.GetName() == name {
			return fam
		}
	}
	return nil
}

func TestCollectorRecords(t *testing.T) {
	c := NewCollector("test")

	c.RecordChannelStatus(2)
	c.RecordConnectAttempt()
	c.RecordConnectAttempt()
	c.RecordConnection()
	c.RecordDisconnect("error")
	c.RecordSubscribedTopics(3)
	c.RecordChange("signals")
	c.RecordChange("")
	c.RecordRefreshRequest(true)
	c.RecordRefreshRequest(false)

	status := findMetric(t, c, "test_channel_status")
	if status == nil {
		t.Fatal("channel status metric not registered")
	}
	if got := status.GetMetric()[0].GetGauge().GetValue(); got != 2 {
		t.Errorf("channel status = %v, want 2", got)
	}

	attempts := findMetric(t, c, "test_channel_connect_attempts_total")
	if got := attempts.GetMetric()[0].GetCounter().GetValue(); got != 2 {
		t.Errorf("connect attempts = %v, want 2", got)
	}

	changes := findMetric(t, c, "test_channel_changes_total")
	if len(changes.GetMetric()) != 2 {
		t.Fatalf("expected 2 change series (signals, unknown), got %d", len(changes.GetMetric()))
	}
}

func TestNilCollectorSafe(t *testing.T) {
	var c *Collector

	c.RecordChannelStatus(1)
	c.RecordConnectAttempt()
	c.RecordConnection()
	c.RecordDisconnect("offline")
	c.RecordSubscribedTopics(1)
	c.RecordChange("signals")
	c.RecordRefreshRequest(false)

	if c.Registry() != nil {
		t.Error("nil collector should have nil registry")
	}
	if c.Handler() == nil {
		t.Error("nil collector should still return a handler")
	}
}

func TestHandlerServesMetrics(t *testing.T) {
	c := NewCollector("test")
	c.RecordConnectAttempt()

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if !strings.Contains(string(body), "test_channel_connect_attempts_total") {
		t.Error("expected connect attempts metric in exposition")
	}
}
