// Package models defines the core domain types shared across packages.
package models

import "encoding/json"

// IngestEvent is the inbound error/event payload submitted by SDKs.
type IngestEvent struct {
	ErrorType   string          `json:"error_type"`
	Message     string          `json:"message"`
	Stack       string          `json:"stack,omitempty"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
	Environment string          `json:"environment"`
	Release     string          `json:"release"`
	Source      string          `json:"source,omitempty"`
	Route       string          `json:"route,omitempty"`
	// Fingerprint lets an SDK pin its own grouping key. When empty the
	// server computes one from the error signature.
	Fingerprint string `json:"fingerprint,omitempty"`
}

// ProcessedEvent is an IngestEvent after authentication, validation and
// fingerprinting, ready for the aggregation pipeline.
type ProcessedEvent struct {
	Event       IngestEvent
	Fingerprint string
	ProjectID   string
	// ReceivedAt is the server receive time in unix milliseconds.
	ReceivedAt int64
}

// AggregateRow is the persisted per-fingerprint aggregate, the system
// of record behind the in-memory aggregation cache.
type AggregateRow struct {
	ProjectID   string `json:"project_id"`
	Fingerprint string `json:"fingerprint"`
	Count       int64  `json:"count"`
	// FirstSeen and LastSeen are unix milliseconds.
	FirstSeen int64 `json:"first_seen"`
	LastSeen  int64 `json:"last_seen"`
}
