package domain

import "time"

// Batch statuses
const (
	BatchStatusInProgress = "in_progress"
	BatchStatusCompleted  = "completed"
	BatchStatusPartial    = "partial" // finished with dead letters
	BatchStatusFailed     = "failed"
)

// CollectionBatch represents one collector run against one repository
type CollectionBatch struct {
	ID           string
	Repo         string // owner/name
	Collector    string // "pulls", "users" or "commits"
	Status       string
	Jobs         int
	Fetched      int
	DeadLettered int
	Error        string
	StartedAt    time.Time
	FinishedAt   *time.Time
}

// DeadLetter is a fetch job abandoned after its attempt budget or a permanent error
type DeadLetter struct {
	ID          string
	BatchID     string
	Repo        string
	Kind        EntityKind
	EntityID    string
	URL         string
	Destination string
	Attempts    int
	Code        string
	Error       string
	CreatedAt   time.Time
}
