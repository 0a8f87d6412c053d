package models

import "time"

// DefaultProjectID is the synthetic tenant used when a request
// authenticates with the legacy shared secret instead of a project
// API key.
const DefaultProjectID = "default"

// Project is the tenant boundary. Every ingested event, alert rule and
// retention override is scoped to a project, and its API key doubles
// as the HMAC secret for the ingest gate.
type Project struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	APIKey    string    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}
