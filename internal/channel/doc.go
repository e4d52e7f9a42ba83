// Package channel maps logical topic subscriptions onto a single realtime
// transport connection.
//
// Transport speaks the backend's Phoenix-style channel protocol over a
// WebSocket: topics are joined and left with ref-correlated replies, change
// events arrive per topic, and an application-level heartbeat detects stale
// connections.
//
// Registry owns the set of registered topics. Consumers register a topic and
// get back a handle; multiple registrations of the same topic id share one
// transport subscription via reference counting. The registry re-issues every
// topic's subscription when a connection opens, so reconnection is invisible
// to consumers. Per-topic subscribe failures are retried on their own backoff
// schedule without touching the connection.
package channel
