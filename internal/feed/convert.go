package feed

import (
	"time"

	"github.com/google/uuid"

	"github.com/pipwave/streamsync/internal/model"
)

// PriceToInternal converts a decimal price to internal representation.
// 1.08765 -> 108765, 0.9 -> 90000
func PriceToInternal(price float64) int {
	return int(price*100000 + 0.5)
}

// ParseTimestamp parses an ISO 8601 timestamp to microseconds since epoch.
// Returns 0 for empty or invalid input.
func ParseTimestamp(iso string) int64 {
	if iso == "" {
		return 0
	}

	t, err := time.Parse(time.RFC3339, iso)
	if err != nil {
		// Try without timezone
		t, err = time.Parse("2006-01-02T15:04:05", iso)
		if err != nil {
			return 0
		}
	}

	return t.UnixMicro()
}

// NowMicro returns the current time in microseconds since epoch.
func NowMicro() int64 {
	return time.Now().UnixMicro()
}

// ToModel converts a signalRow to model.Signal. An unparsable id yields
// uuid.Nil; callers treat those rows as invalid.
func (r *signalRow) ToModel() model.Signal {
	id, err := uuid.Parse(r.ID)
	if err != nil {
		id = uuid.Nil
	}

	targets := make([]int, 0, len(r.TakeProfits))
	for _, tp := range r.TakeProfits {
		targets = append(targets, PriceToInternal(tp))
	}

	return model.Signal{
		ID:          id,
		Pair:        r.Pair,
		Direction:   r.Direction,
		Entry:       PriceToInternal(r.Entry),
		StopLoss:    PriceToInternal(r.StopLoss),
		TakeProfits: targets,
		Status:      r.Status,
		Confidence:  r.Confidence,
		IssuedTS:    ParseTimestamp(r.IssuedAt),
		ExpiresTS:   ParseTimestamp(r.ExpiresAt),
		UpdatedAt:   ParseTimestamp(r.UpdatedAt),
	}
}

// ToModel converts a tickRow to model.PriceTick.
func (r *tickRow) ToModel() model.PriceTick {
	return model.PriceTick{
		Pair:       r.Pair,
		Bid:        PriceToInternal(r.Bid),
		Ask:        PriceToInternal(r.Ask),
		QuoteTS:    ParseTimestamp(r.QuoteTS),
		ReceivedAt: NowMicro(),
	}
}
