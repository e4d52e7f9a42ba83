// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - Channel status and connection attempt/disconnect counts
//   - Joined topic count and change event rates per table
//   - Refresh requests by scope (full vs partial)
//
// Collectors live on a private registry so tests and embedders can run
// isolated instances; all record methods tolerate a nil Collector.
package metrics
