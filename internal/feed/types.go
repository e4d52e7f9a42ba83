package feed

// signalRow mirrors one row of the signals table as served by the REST API.
type signalRow struct {
	ID          string    `json:"id"`
	Pair        string    `json:"pair"`
	Direction   string    `json:"direction"`
	Entry       float64   `json:"entry"`
	StopLoss    float64   `json:"stop_loss"`
	TakeProfits []float64 `json:"take_profits"`
	Status      string    `json:"status"`
	Confidence  int       `json:"confidence"`

	// Timestamps (ISO 8601)
	IssuedAt  string `json:"issued_at"`
	ExpiresAt string `json:"expires_at"`
	UpdatedAt string `json:"updated_at"`
}

// tickRow mirrors one row of the latest_ticks view.
type tickRow struct {
	Pair    string  `json:"pair"`
	Bid     float64 `json:"bid"`
	Ask     float64 `json:"ask"`
	QuoteTS string  `json:"quote_ts"`
}

// GetSignalsOptions filters the signals query.
type GetSignalsOptions struct {
	Status string // Filter to one lifecycle status
	Pair   string // Filter to one currency pair
	Limit  int    // Max rows, newest first
}
