package domain

import (
	"fmt"
	"strings"
)

// Repository represents a GitHub repository
type Repository struct {
	Owner string
	Name  string
}

// ParseRepository parses "/owner/name" or "owner/name"
func ParseRepository(s string) (Repository, error) {
	trimmed := strings.Trim(strings.TrimSpace(s), "/")
	owner, name, ok := strings.Cut(trimmed, "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return Repository{}, fmt.Errorf("invalid repository %q: expected owner/name", s)
	}
	return Repository{Owner: owner, Name: name}, nil
}

// FullName returns "owner/name"
func (r Repository) FullName() string {
	return r.Owner + "/" + r.Name
}

// Slug returns "owner-name", the directory name used under the target tree
func (r Repository) Slug() string {
	return r.Owner + "-" + r.Name
}

func (r Repository) String() string {
	return r.FullName()
}
