package probe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeSource is a settable network source.
type fakeSource struct {
	mu     sync.Mutex
	online bool
}

func (f *fakeSource) Online() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.online
}

func (f *fakeSource) set(online bool) {
	f.mu.Lock()
	f.online = online
	f.mu.Unlock()
}

// healthServer counts HEAD requests and serves a configurable status.
type healthServer struct {
	server   *httptest.Server
	requests atomic.Int32
	status   atomic.Int32
	delay    time.Duration
}

func newHealthServer(delay time.Duration) *healthServer {
	hs := &healthServer{delay: delay}
	hs.status.Store(http.StatusOK)
	hs.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hs.requests.Add(1)
		if hs.delay > 0 {
			time.Sleep(hs.delay)
		}
		w.WriteHeader(int(hs.status.Load()))
	}))
	return hs
}

func testConfig(url string) Config {
	return Config{
		HealthURL:           url,
		CheckInterval:       25 * time.Millisecond,
		CheckTimeout:        time.Second,
		NetworkPollInterval: 10 * time.Millisecond,
		BufferSize:          32,
	}
}

func startProbe(t *testing.T, cfg Config, src NetworkSource) Probe {
	t.Helper()
	p := NewProbe(cfg, src, nil)
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		p.Stop(ctx)
	})
	return p
}

func waitProbeEvent(t *testing.T, events <-chan Event, want EventType, cond func(Event) bool) Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Type == want && cond(ev) {
				return ev
			}
		case <-timeout:
			t.Fatalf("timeout waiting for %v event", want)
		}
	}
}

func TestProbe_NetworkTransitions(t *testing.T) {
	hs := newHealthServer(0)
	defer hs.server.Close()

	src := &fakeSource{online: false}
	p := startProbe(t, testConfig(hs.server.URL), src)

	if online, _ := p.Status(); online {
		t.Fatal("probe reports online with an offline source")
	}

	src.set(true)
	ev := waitProbeEvent(t, p.Events(), NetworkChanged, func(e Event) bool { return e.Online })
	if !ev.Online {
		t.Error("online event carries Online=false")
	}

	src.set(false)
	waitProbeEvent(t, p.Events(), NetworkChanged, func(e Event) bool { return !e.Online })

	if online, reachable := p.Status(); online || reachable {
		t.Errorf("Status after offline = %v/%v, want false/false", online, reachable)
	}
}

func TestProbe_CheckNow(t *testing.T) {
	hs := newHealthServer(0)
	defer hs.server.Close()

	src := &fakeSource{online: true}
	p := startProbe(t, testConfig(hs.server.URL), src)

	if !p.CheckNow(context.Background()) {
		t.Fatal("CheckNow = false against a healthy backend")
	}
	if _, reachable := p.Status(); !reachable {
		t.Error("Status not updated after successful check")
	}

	hs.status.Store(http.StatusInternalServerError)
	if p.CheckNow(context.Background()) {
		t.Error("CheckNow = true against a 500 backend")
	}
	if _, reachable := p.Status(); reachable {
		t.Error("Status still reachable after failed check")
	}
}

func TestProbe_CheckNeverPanicsOrErrors(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1")
	cfg.CheckTimeout = 200 * time.Millisecond

	src := &fakeSource{online: true}
	p := startProbe(t, cfg, src)

	if p.CheckNow(context.Background()) {
		t.Error("CheckNow = true against a dead endpoint")
	}
}

func TestProbe_PeriodicOnlyWhileOnline(t *testing.T) {
	hs := newHealthServer(0)
	defer hs.server.Close()

	src := &fakeSource{online: false}
	startProbe(t, testConfig(hs.server.URL), src)

	time.Sleep(120 * time.Millisecond)
	if got := hs.requests.Load(); got != 0 {
		t.Fatalf("%d reachability checks while offline, want 0", got)
	}

	src.set(true)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if hs.requests.Load() > 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("no reachability checks after going online")
}

func TestProbe_ConcurrentChecksCollapse(t *testing.T) {
	hs := newHealthServer(80 * time.Millisecond)
	defer hs.server.Close()

	cfg := testConfig(hs.server.URL)
	cfg.CheckInterval = time.Hour // periodic checks out of the way
	src := &fakeSource{online: true}
	p := startProbe(t, cfg, src)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.CheckNow(context.Background())
		}()
	}
	wg.Wait()

	if got := hs.requests.Load(); got != 1 {
		t.Errorf("%d HEAD requests for 8 concurrent CheckNow calls, want 1", got)
	}
}

func TestProbe_StopReleases(t *testing.T) {
	hs := newHealthServer(0)
	defer hs.server.Close()

	src := &fakeSource{online: true}
	p := NewProbe(testConfig(hs.server.URL), src, nil)
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := p.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	settled := hs.requests.Load()
	time.Sleep(100 * time.Millisecond)
	if got := hs.requests.Load(); got != settled {
		t.Errorf("checks continued after Stop: %d -> %d", settled, got)
	}
}
