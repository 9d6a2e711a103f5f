package storage

import (
	"context"

	"github.com/kurihiro0119/github-contrib-collector/internal/domain"
)

// Storage is the abstract interface for the persistence layer.
// It records run history next to the on-disk tree; the tree stays the dataset.
type Storage interface {
	// Collection batch operations
	SaveBatch(ctx context.Context, batch *domain.CollectionBatch) error
	GetBatches(ctx context.Context, repo string, limit int) ([]*domain.CollectionBatch, error)

	// Dead letter operations
	SaveDeadLetters(ctx context.Context, letters []*domain.DeadLetter) error
	GetDeadLetters(ctx context.Context, repo string) ([]*domain.DeadLetter, error)

	// Stage-1 rows; saving replaces every row previously stored for the repository
	SavePullRequests(ctx context.Context, repo domain.Repository, records []domain.PullRequestRecord) error
	GetPullRequests(ctx context.Context, repo domain.Repository, state domain.PullState) ([]domain.PullRequestRecord, error)

	// Migration
	Migrate(ctx context.Context) error

	// Connection management
	Close() error
}
