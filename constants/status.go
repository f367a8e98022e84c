package constants

// RunStatus is the canonical status for rows in document_runs.
type RunStatus string

// Stable values (store these exact strings in DB).
const (
	RunStatusQueued    RunStatus = "QUEUED"    // accepted, waiting for a worker
	RunStatusRunning   RunStatus = "RUNNING"   // in progress
	RunStatusCompleted RunStatus = "COMPLETED" // result stored, possibly with degradation warnings
	RunStatusFailed    RunStatus = "FAILED"    // terminal failure
)
