package domain

// EntityKind identifies what a fetch job downloads
type EntityKind string

const (
	EntityPull   EntityKind = "pull"
	EntityCommit EntityKind = "commit"
	EntityUser   EntityKind = "user"
	EntitySearch EntityKind = "search"
)

// Credential is one GitHub account in the rotation pool
type Credential struct {
	Identifier string // account name, for logs only
	Secret     string // personal access token
}

// FetchJob is one unit of work for the worker pool.
// URL is relative to the API base URL; Destination is the file the body is written to.
type FetchJob struct {
	Kind        EntityKind
	EntityID    string
	URL         string
	Destination string
}
