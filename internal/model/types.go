package model

import "github.com/google/uuid"

// -----------------------------------------------------------------------------
// Signal Types
// -----------------------------------------------------------------------------

// Signal direction values.
const (
	DirectionBuy  = "buy"
	DirectionSell = "sell"
)

// Signal lifecycle statuses.
const (
	SignalActive    = "active"    // Published, entry not yet filled
	SignalFilled    = "filled"    // Entry price reached
	SignalStopped   = "stopped"   // Stop loss hit
	SignalClosed    = "closed"    // All targets hit or manually closed
	SignalCancelled = "cancelled" // Withdrawn before fill
)

// Signal represents a published trading signal.
type Signal struct {
	ID          uuid.UUID // Primary key (assigned by the backend)
	Pair        string    // Currency pair symbol (e.g., "EURUSD")
	Direction   string    // "buy" or "sell"
	Entry       int       // Entry price (hundred-thousandths)
	StopLoss    int       // Stop loss price (hundred-thousandths)
	TakeProfits []int     // Target prices in fill order (hundred-thousandths)
	Status      string    // Lifecycle status (see Signal* constants)
	Confidence  int       // Analyst confidence, 0-100
	IssuedTS    int64     // Publication time (µs since epoch)
	ExpiresTS   int64     // Expiry time, 0 if open-ended (µs since epoch)
	UpdatedAt   int64     // Last update (µs since epoch)
}

// ValidDirection reports whether d is a recognized signal direction.
func ValidDirection(d string) bool {
	return d == DirectionBuy || d == DirectionSell
}

// ValidSignalStatus reports whether s is a recognized signal status.
func ValidSignalStatus(s string) bool {
	switch s {
	case SignalActive, SignalFilled, SignalStopped, SignalClosed, SignalCancelled:
		return true
	}
	return false
}

// -----------------------------------------------------------------------------
// Time-Series Types
// -----------------------------------------------------------------------------

// PriceTick represents a quote update for a single pair.
type PriceTick struct {
	Pair       string // Currency pair symbol (e.g., "EURUSD")
	Bid        int    // Best bid (hundred-thousandths)
	Ask        int    // Best ask (hundred-thousandths)
	QuoteTS    int64  // Backend quote timestamp (µs since epoch)
	ReceivedAt int64  // Client receive timestamp (µs since epoch)
}

// Spread returns the bid/ask spread in hundred-thousandths.
func (p PriceTick) Spread() int {
	return p.Ask - p.Bid
}
