package feed

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/pipwave/streamsync/internal/model"
)

func TestPriceToInternal(t *testing.T) {
	cases := []struct {
		price float64
		want  int
	}{
		{1.08765, 108765},
		{0.9, 90000},
		{147.352, 14735200},
		{0, 0},
		{1.000005, 100001}, // rounds half up
	}

	for _, tc := range cases {
		if got := PriceToInternal(tc.price); got != tc.want {
			t.Errorf("PriceToInternal(%v) = %d, want %d", tc.price, got, tc.want)
		}
	}
}

func TestParseTimestamp(t *testing.T) {
	want := time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC).UnixMicro()

	cases := []struct {
		name string
		iso  string
		want int64
	}{
		{"rfc3339", "2024-05-01T09:30:00Z", want},
		{"no timezone", "2024-05-01T09:30:00", want},
		{"empty", "", 0},
		{"garbage", "yesterday", 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ParseTimestamp(tc.iso); got != tc.want {
				t.Errorf("ParseTimestamp(%q) = %d, want %d", tc.iso, got, tc.want)
			}
		})
	}
}

func TestSignalRowToModel(t *testing.T) {
	row := signalRow{
		ID:          "6ba7b810-9dad-11d1-80b4-00c04fd430c8",
		Pair:        "EURUSD",
		Direction:   "buy",
		Entry:       1.08765,
		StopLoss:    1.082,
		TakeProfits: []float64{1.092, 1.098},
		Status:      model.SignalActive,
		Confidence:  82,
		IssuedAt:    "2024-05-01T09:30:00Z",
		UpdatedAt:   "2024-05-01T09:31:00Z",
	}

	sig := row.ToModel()

	if sig.ID == uuid.Nil {
		t.Error("expected parsed uuid")
	}
	if sig.Entry != 108765 {
		t.Errorf("entry = %d, want 108765", sig.Entry)
	}
	if sig.StopLoss != 108200 {
		t.Errorf("stop loss = %d, want 108200", sig.StopLoss)
	}
	if len(sig.TakeProfits) != 2 || sig.TakeProfits[0] != 109200 || sig.TakeProfits[1] != 109800 {
		t.Errorf("take profits = %v, want [109200 109800]", sig.TakeProfits)
	}
	if sig.IssuedTS == 0 {
		t.Error("issued timestamp not parsed")
	}
	if sig.ExpiresTS != 0 {
		t.Errorf("expires = %d, want 0 for open-ended", sig.ExpiresTS)
	}
}

func TestSignalRowBadIDYieldsNil(t *testing.T) {
	row := signalRow{ID: "not-a-uuid", Pair: "EURUSD"}
	if sig := row.ToModel(); sig.ID != uuid.Nil {
		t.Errorf("expected uuid.Nil for bad id, got %v", sig.ID)
	}
}

func TestTickRowToModel(t *testing.T) {
	row := tickRow{
		Pair:    "GBPUSD",
		Bid:     1.26731,
		Ask:     1.26745,
		QuoteTS: "2024-05-01T09:30:00Z",
	}

	tick := row.ToModel()

	if tick.Bid != 126731 || tick.Ask != 126745 {
		t.Errorf("bid/ask = %d/%d, want 126731/126745", tick.Bid, tick.Ask)
	}
	if tick.Spread() != 14 {
		t.Errorf("spread = %d, want 14", tick.Spread())
	}
	if tick.ReceivedAt == 0 {
		t.Error("received timestamp not set")
	}
}
