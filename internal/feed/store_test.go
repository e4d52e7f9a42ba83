package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/pipwave/streamsync/internal/model"
)

// feedServer serves canned signal and tick rows, counting requests per path.
type feedServer struct {
	*httptest.Server

	signalHits int32
	tickHits   int32
	failSignal atomic.Bool
}

func newFeedServer(t *testing.T) *feedServer {
	t.Helper()

	fs := &feedServer{}
	mux := http.NewServeMux()
	mux.HandleFunc("/rest/v1/signals", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&fs.signalHits, 1)
		if fs.failSignal.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`[
			{"id": "11111111-1111-1111-1111-111111111111", "pair": "EURUSD",
			 "direction": "buy", "entry": 1.08765, "stop_loss": 1.082,
			 "take_profits": [1.092], "status": "active", "confidence": 80,
			 "issued_at": "2024-05-01T10:00:00Z"},
			{"id": "22222222-2222-2222-2222-222222222222", "pair": "GBPUSD",
			 "direction": "sell", "entry": 1.2674, "stop_loss": 1.2719,
			 "take_profits": [1.2601], "status": "filled", "confidence": 71,
			 "issued_at": "2024-05-01T11:00:00Z"},
			{"id": "33333333-3333-3333-3333-333333333333", "pair": "USDJPY",
			 "direction": "buy", "entry": 147.352, "stop_loss": 146.8,
			 "take_profits": [148.1], "status": "closed", "confidence": 65,
			 "issued_at": "2024-05-01T09:00:00Z"}
		]`))
	})
	mux.HandleFunc("/rest/v1/latest_ticks", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&fs.tickHits, 1)
		w.Write([]byte(`[
			{"pair": "GBPUSD", "bid": 1.26731, "ask": 1.26745, "quote_ts": "2024-05-01T11:30:00Z"},
			{"pair": "EURUSD", "bid": 1.08761, "ask": 1.08772, "quote_ts": "2024-05-01T11:30:00Z"}
		]`))
	})

	fs.Server = httptest.NewServer(mux)
	t.Cleanup(fs.Close)
	return fs
}

func newTestStore(t *testing.T, server *feedServer, cfg StoreConfig) *Store {
	t.Helper()
	client := NewClient(server.URL, "key", WithRetries(0, time.Millisecond))
	return NewStore(cfg, client, nil)
}

func TestStoreInvalidateAll(t *testing.T) {
	server := newFeedServer(t)
	store := newTestStore(t, server, StoreConfig{})

	if err := store.Invalidate(context.Background(), nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if server.signalHits != 1 || server.tickHits != 1 {
		t.Errorf("hits = %d/%d, want 1/1", server.signalHits, server.tickHits)
	}

	stats := store.Stats()
	if stats.Signals != 3 {
		t.Errorf("Signals = %d, want 3", stats.Signals)
	}
	if stats.Ticks != 2 {
		t.Errorf("Ticks = %d, want 2", stats.Ticks)
	}
	if stats.SignalsSyncedAt.IsZero() || stats.TicksSyncedAt.IsZero() {
		t.Error("synced timestamps should be set")
	}
}

func TestStoreInvalidatePartial(t *testing.T) {
	server := newFeedServer(t)
	store := newTestStore(t, server, StoreConfig{})

	if err := store.Invalidate(context.Background(), []string{ResourceSignals}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if server.signalHits != 1 {
		t.Errorf("signalHits = %d, want 1", server.signalHits)
	}
	if server.tickHits != 0 {
		t.Errorf("tickHits = %d, want 0", server.tickHits)
	}
	if stats := store.Stats(); stats.Ticks != 0 {
		t.Errorf("Ticks = %d, want 0 before tick refresh", stats.Ticks)
	}
}

func TestStoreInvalidateDeduplicatesKeys(t *testing.T) {
	server := newFeedServer(t)
	store := newTestStore(t, server, StoreConfig{})

	keys := []string{ResourceSignals, ResourceSignals, ResourceSignals}
	if err := store.Invalidate(context.Background(), keys); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if server.signalHits != 1 {
		t.Errorf("signalHits = %d, want 1", server.signalHits)
	}
}

func TestStoreInvalidateSkipsUnknownKeys(t *testing.T) {
	server := newFeedServer(t)
	store := newTestStore(t, server, StoreConfig{})

	if err := store.Invalidate(context.Background(), []string{"watchlists"}); err != nil {
		t.Fatalf("unknown key should be skipped, got %v", err)
	}
	if server.signalHits != 0 || server.tickHits != 0 {
		t.Errorf("hits = %d/%d, want 0/0", server.signalHits, server.tickHits)
	}
}

func TestStoreInvalidateErrorKeepsSnapshot(t *testing.T) {
	server := newFeedServer(t)
	store := newTestStore(t, server, StoreConfig{})

	if err := store.Invalidate(context.Background(), nil); err != nil {
		t.Fatalf("seed refresh failed: %v", err)
	}

	server.failSignal.Store(true)
	err := store.Invalidate(context.Background(), []string{ResourceSignals})
	if err == nil {
		t.Fatal("expected error from failed refresh")
	}

	// The previous snapshot stays in place.
	if stats := store.Stats(); stats.Signals != 3 {
		t.Errorf("Signals = %d, want 3 after failed refresh", stats.Signals)
	}
}

func TestStoreSignalsSortedNewestFirst(t *testing.T) {
	server := newFeedServer(t)
	store := newTestStore(t, server, StoreConfig{})

	if err := store.Invalidate(context.Background(), []string{ResourceSignals}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	signals := store.Signals()
	if len(signals) != 3 {
		t.Fatalf("len(signals) = %d, want 3", len(signals))
	}
	wantPairs := []string{"GBPUSD", "EURUSD", "USDJPY"} // issued 11:00, 10:00, 09:00
	for i, want := range wantPairs {
		if signals[i].Pair != want {
			t.Errorf("signals[%d].Pair = %q, want %q", i, signals[i].Pair, want)
		}
	}
}

func TestStoreActiveSignalsFiltersClosed(t *testing.T) {
	server := newFeedServer(t)
	store := newTestStore(t, server, StoreConfig{})

	if err := store.Invalidate(context.Background(), []string{ResourceSignals}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	active := store.ActiveSignals()
	if len(active) != 2 {
		t.Fatalf("len(active) = %d, want 2", len(active))
	}
	for _, sig := range active {
		if sig.Status != model.SignalActive && sig.Status != model.SignalFilled {
			t.Errorf("unexpected status %q in active set", sig.Status)
		}
	}
}

func TestStoreLookups(t *testing.T) {
	server := newFeedServer(t)
	store := newTestStore(t, server, StoreConfig{})

	if err := store.Invalidate(context.Background(), nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	id := uuid.MustParse("11111111-1111-1111-1111-111111111111")
	sig, ok := store.Signal(id)
	if !ok {
		t.Fatal("signal not found")
	}
	if sig.Pair != "EURUSD" {
		t.Errorf("Pair = %q, want %q", sig.Pair, "EURUSD")
	}

	if _, ok := store.Signal(uuid.New()); ok {
		t.Error("lookup of unknown id should miss")
	}

	tick, ok := store.Tick("GBPUSD")
	if !ok {
		t.Fatal("tick not found")
	}
	if tick.Bid != 126731 {
		t.Errorf("Bid = %d, want 126731", tick.Bid)
	}

	ticks := store.Ticks()
	if len(ticks) != 2 {
		t.Fatalf("len(ticks) = %d, want 2", len(ticks))
	}
	if ticks[0].Pair != "EURUSD" || ticks[1].Pair != "GBPUSD" {
		t.Errorf("ticks not sorted by pair: %q, %q", ticks[0].Pair, ticks[1].Pair)
	}
}

func TestStorePassesPairFilter(t *testing.T) {
	var gotPairFilter atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/rest/v1/latest_ticks" {
			gotPairFilter.Store(r.URL.Query().Get("pair"))
		}
		w.Write([]byte(`[]`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "key")
	store := NewStore(StoreConfig{Pairs: []string{"EURUSD", "USDJPY"}}, client, nil)

	if err := store.Invalidate(context.Background(), []string{ResourceTicks}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := gotPairFilter.Load(); got != "in.(EURUSD,USDJPY)" {
		t.Errorf("pair filter = %v, want %q", got, "in.(EURUSD,USDJPY)")
	}
}

func TestStorePassesSignalLimit(t *testing.T) {
	var gotLimit atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/rest/v1/signals" {
			gotLimit.Store(r.URL.Query().Get("limit"))
		}
		w.Write([]byte(`[]`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "key")
	store := NewStore(StoreConfig{SignalLimit: 25}, client, nil)

	if err := store.Invalidate(context.Background(), []string{ResourceSignals}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := gotLimit.Load(); got != "25" {
		t.Errorf("limit = %v, want %q", got, "25")
	}
}
