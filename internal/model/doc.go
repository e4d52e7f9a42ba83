// Package model defines shared data types used across the PipWave sync engine.
//
// Conventions:
//   - Prices: integer hundred-thousandths (108765 = 1.08765), matching the
//     5-decimal quote precision of major forex pairs
//   - Timestamps: int64 microseconds since Unix epoch
//   - IDs: uuid.UUID for signals, string symbols for pairs (e.g. "EURUSD")
package model
