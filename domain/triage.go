package domain

import "time"

// TriageRequest asks a worker to run one triage pass.
type TriageRequest struct {
	ID          string    `json:"id"`
	DryRun      bool      `json:"dryRun"`
	RequestedAt time.Time `json:"requestedAt"`
}
