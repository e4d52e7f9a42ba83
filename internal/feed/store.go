package feed

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/pipwave/streamsync/internal/model"
)

// Refresh keys, named after the backend tables that produce change events.
const (
	ResourceSignals = "signals"
	ResourceTicks   = "price_ticks"
)

// Default store parameters.
const (
	DefaultSignalLimit          = 200
	DefaultMaxConcurrentFetches = 4
)

// StoreConfig configures the snapshot store.
type StoreConfig struct {
	SignalLimit          int      // Max signals kept per refresh, newest first
	Pairs                []string // Pairs to fetch ticks for; empty means all
	MaxConcurrentFetches int      // Fan-out bound for one Invalidate call
}

// DefaultStoreConfig returns sensible defaults.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		SignalLimit:          DefaultSignalLimit,
		MaxConcurrentFetches: DefaultMaxConcurrentFetches,
	}
}

// Store holds the latest fetched snapshot of signals and prices. It is the
// refresh dispatcher's Invalidator: each invalidated resource is re-fetched
// wholesale and swapped in.
type Store struct {
	cfg    StoreConfig
	client *Client
	logger *slog.Logger

	mu       sync.RWMutex
	signals  map[uuid.UUID]model.Signal
	ticks    map[string]model.PriceTick
	syncedAt map[string]time.Time
}

// StoreStats summarizes the store contents for health reporting.
type StoreStats struct {
	Signals         int       `json:"signals"`
	Ticks           int       `json:"ticks"`
	SignalsSyncedAt time.Time `json:"signals_synced_at"`
	TicksSyncedAt   time.Time `json:"ticks_synced_at"`
}

// NewStore creates a snapshot store backed by the given client.
func NewStore(cfg StoreConfig, client *Client, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultStoreConfig()
	if cfg.SignalLimit <= 0 {
		cfg.SignalLimit = def.SignalLimit
	}
	if cfg.MaxConcurrentFetches <= 0 {
		cfg.MaxConcurrentFetches = def.MaxConcurrentFetches
	}

	return &Store{
		cfg:      cfg,
		client:   client,
		logger:   logger,
		signals:  make(map[uuid.UUID]model.Signal),
		ticks:    make(map[string]model.PriceTick),
		syncedAt: make(map[string]time.Time),
	}
}

// Invalidate re-fetches the named resources. An empty key list refreshes
// everything. Unknown keys are skipped. Fetches run concurrently, bounded by
// MaxConcurrentFetches; the first failure is returned after all finish.
func (s *Store) Invalidate(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		keys = []string{ResourceSignals, ResourceTicks}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.MaxConcurrentFetches)

	seen := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		switch key {
		case ResourceSignals:
			g.Go(func() error { return s.refreshSignals(ctx) })
		case ResourceTicks:
			g.Go(func() error { return s.refreshTicks(ctx) })
		default:
			s.logger.Debug("ignoring unknown refresh key", "key", key)
		}
	}

	return g.Wait()
}

func (s *Store) refreshSignals(ctx context.Context) error {
	signals, err := s.client.GetSignals(ctx, GetSignalsOptions{Limit: s.cfg.SignalLimit})
	if err != nil {
		return err
	}

	next := make(map[uuid.UUID]model.Signal, len(signals))
	for _, sig := range signals {
		if sig.ID == uuid.Nil {
			continue
		}
		next[sig.ID] = sig
	}

	s.mu.Lock()
	s.signals = next
	s.syncedAt[ResourceSignals] = time.Now()
	s.mu.Unlock()

	s.logger.Debug("signals refreshed", "count", len(next))
	return nil
}

func (s *Store) refreshTicks(ctx context.Context) error {
	ticks, err := s.client.GetLatestTicks(ctx, s.cfg.Pairs)
	if err != nil {
		return err
	}

	next := make(map[string]model.PriceTick, len(ticks))
	for _, tick := range ticks {
		if tick.Pair == "" {
			continue
		}
		next[tick.Pair] = tick
	}

	s.mu.Lock()
	s.ticks = next
	s.syncedAt[ResourceTicks] = time.Now()
	s.mu.Unlock()

	s.logger.Debug("ticks refreshed", "count", len(next))
	return nil
}

// Signals returns all cached signals, newest first.
func (s *Store) Signals() []model.Signal {
	s.mu.RLock()
	out := make([]model.Signal, 0, len(s.signals))
	for _, sig := range s.signals {
		out = append(out, sig)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].IssuedTS > out[j].IssuedTS })
	return out
}

// ActiveSignals returns cached signals still awaiting or holding a position,
// newest first.
func (s *Store) ActiveSignals() []model.Signal {
	all := s.Signals()
	out := all[:0]
	for _, sig := range all {
		if sig.Status == model.SignalActive || sig.Status == model.SignalFilled {
			out = append(out, sig)
		}
	}
	return out
}

// Signal returns one cached signal by id.
func (s *Store) Signal(id uuid.UUID) (model.Signal, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sig, ok := s.signals[id]
	return sig, ok
}

// Tick returns the cached quote for a pair.
func (s *Store) Tick(pair string) (model.PriceTick, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tick, ok := s.ticks[pair]
	return tick, ok
}

// Ticks returns all cached quotes, sorted by pair.
func (s *Store) Ticks() []model.PriceTick {
	s.mu.RLock()
	out := make([]model.PriceTick, 0, len(s.ticks))
	for _, tick := range s.ticks {
		out = append(out, tick)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Pair < out[j].Pair })
	return out
}

// Stats returns current store counters for health reporting.
func (s *Store) Stats() StoreStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return StoreStats{
		Signals:         len(s.signals),
		Ticks:           len(s.ticks),
		SignalsSyncedAt: s.syncedAt[ResourceSignals],
		TicksSyncedAt:   s.syncedAt[ResourceTicks],
	}
}
