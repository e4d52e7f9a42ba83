package feed

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/pipwave/streamsync/internal/model"
)

// ErrNotFound is returned when a single-row lookup matches nothing.
var ErrNotFound = errors.New("not found")

const (
	signalsPath = "/rest/v1/signals"
	ticksPath   = "/rest/v1/latest_ticks"
)

// GetSignals fetches signals matching the given options, newest first.
func (c *Client) GetSignals(ctx context.Context, opts GetSignalsOptions) ([]model.Signal, error) {
	query := url.Values{}
	query.Set("select", "*")
	query.Set("order", "issued_at.desc")

	if opts.Status != "" {
		query.Set("status", "eq."+opts.Status)
	}
	if opts.Pair != "" {
		query.Set("pair", "eq."+opts.Pair)
	}
	if opts.Limit > 0 {
		query.Set("limit", strconv.Itoa(opts.Limit))
	}

	var rows []signalRow
	if err := c.get(ctx, signalsPath, query, &rows); err != nil {
		return nil, fmt.Errorf("get signals: %w", err)
	}

	signals := make([]model.Signal, 0, len(rows))
	for i := range rows {
		signals = append(signals, rows[i].ToModel())
	}
	return signals, nil
}

// GetActiveSignals fetches all signals awaiting or holding a position.
func (c *Client) GetActiveSignals(ctx context.Context) ([]model.Signal, error) {
	return c.GetSignals(ctx, GetSignalsOptions{Status: model.SignalActive})
}

// GetSignal fetches a single signal by id.
func (c *Client) GetSignal(ctx context.Context, id uuid.UUID) (*model.Signal, error) {
	query := url.Values{}
	query.Set("select", "*")
	query.Set("id", "eq."+id.String())
	query.Set("limit", "1")

	var rows []signalRow
	if err := c.get(ctx, signalsPath, query, &rows); err != nil {
		return nil, fmt.Errorf("get signal %s: %w", id, err)
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}

	signal := rows[0].ToModel()
	return &signal, nil
}

// GetLatestTicks fetches the most recent quote per pair. An empty pairs list
// fetches all tracked pairs.
func (c *Client) GetLatestTicks(ctx context.Context, pairs []string) ([]model.PriceTick, error) {
	query := url.Values{}
	query.Set("select", "*")
	if len(pairs) > 0 {
		query.Set("pair", "in.("+strings.Join(pairs, ",")+")")
	}

	var rows []tickRow
	if err := c.get(ctx, ticksPath, query, &rows); err != nil {
		return nil, fmt.Errorf("get latest ticks: %w", err)
	}

	ticks := make([]model.PriceTick, 0, len(rows))
	for i := range rows {
		ticks = append(ticks, rows[i].ToModel())
	}
	return ticks, nil
}
