package postgres

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/kurihiro0119/github-contrib-collector/internal/domain"
	"github.com/kurihiro0119/github-contrib-collector/internal/storage"
)

// postgresStorage implements the Storage interface for PostgreSQL
type postgresStorage struct {
	db *sql.DB
}

// NewPostgresStorage creates a new PostgreSQL storage instance
func NewPostgresStorage(connStr string) (storage.Storage, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	s := &postgresStorage{db: db}
	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Migrate runs database migrations
func (s *postgresStorage) Migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS collection_batches (
		id VARCHAR(36) PRIMARY KEY,
		repo VARCHAR(255) NOT NULL,
		collector VARCHAR(32) NOT NULL,
		status VARCHAR(32) NOT NULL,
		jobs INTEGER NOT NULL DEFAULT 0,
		fetched INTEGER NOT NULL DEFAULT 0,
		dead_lettered INTEGER NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT '',
		started_at TIMESTAMPTZ NOT NULL,
		finished_at TIMESTAMPTZ
	);

	CREATE INDEX IF NOT EXISTS idx_batches_repo ON collection_batches(repo);
	CREATE INDEX IF NOT EXISTS idx_batches_started_at ON collection_batches(started_at);

	CREATE TABLE IF NOT EXISTS dead_letters (
		id VARCHAR(36) PRIMARY KEY,
		batch_id VARCHAR(36) NOT NULL,
		repo VARCHAR(255) NOT NULL,
		kind VARCHAR(16) NOT NULL,
		entity_id VARCHAR(64) NOT NULL,
		url TEXT NOT NULL,
		destination TEXT NOT NULL,
		attempts INTEGER NOT NULL,
		code VARCHAR(32) NOT NULL,
		error TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_dead_letters_repo ON dead_letters(repo);
	CREATE INDEX IF NOT EXISTS idx_dead_letters_batch ON dead_letters(batch_id);

	CREATE TABLE IF NOT EXISTS pull_requests (
		repo VARCHAR(255) NOT NULL,
		number INTEGER NOT NULL,
		login VARCHAR(255) NOT NULL,
		user_id BIGINT NOT NULL,
		slug VARCHAR(255) NOT NULL,
		state VARCHAR(32) NOT NULL,
		created_at VARCHAR(32) NOT NULL,
		closed_at VARCHAR(32) NOT NULL,
		review_comments INTEGER NOT NULL,
		commits INTEGER NOT NULL,
		additions INTEGER NOT NULL,
		deletions INTEGER NOT NULL,
		changed_files INTEGER NOT NULL,
		PRIMARY KEY (repo, number)
	);

	CREATE INDEX IF NOT EXISTS idx_pull_requests_repo_state ON pull_requests(repo, state);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// SaveBatch inserts or updates a collection batch
func (s *postgresStorage) SaveBatch(ctx context.Context, batch *domain.CollectionBatch) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO collection_batches
			(id, repo, collector, status, jobs, fetched, dead_lettered, error, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			jobs = EXCLUDED.jobs,
			fetched = EXCLUDED.fetched,
			dead_lettered = EXCLUDED.dead_lettered,
			error = EXCLUDED.error,
			finished_at = EXCLUDED.finished_at
	`,
		batch.ID,
		batch.Repo,
		batch.Collector,
		batch.Status,
		batch.Jobs,
		batch.Fetched,
		batch.DeadLettered,
		batch.Error,
		batch.StartedAt.UTC(),
		storage.NullTime(batch.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save batch: %w", err)
	}
	return nil
}

// GetBatches retrieves batches, newest first. An empty repo matches every repository.
func (s *postgresStorage) GetBatches(ctx context.Context, repo string, limit int) ([]*domain.CollectionBatch, error) {
	query := `
		SELECT id, repo, collector, status, jobs, fetched, dead_lettered, error, started_at, finished_at
		FROM collection_batches
		WHERE ($1 = '' OR repo = $1)
		ORDER BY started_at DESC, id
	`
	args := []interface{}{repo}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query batches: %w", err)
	}
	defer rows.Close()

	var batches []*domain.CollectionBatch
	for rows.Next() {
		var (
			b        domain.CollectionBatch
			finished sql.NullTime
		)
		if err := rows.Scan(&b.ID, &b.Repo, &b.Collector, &b.Status, &b.Jobs, &b.Fetched,
			&b.DeadLettered, &b.Error, &b.StartedAt, &finished); err != nil {
			return nil, err
		}
		if finished.Valid {
			t := finished.Time
			b.FinishedAt = &t
		}
		batches = append(batches, &b)
	}
	return batches, rows.Err()
}

// SaveDeadLetters inserts dead letters
func (s *postgresStorage) SaveDeadLetters(ctx context.Context, letters []*domain.DeadLetter) error {
	if len(letters) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO dead_letters
			(id, batch_id, repo, kind, entity_id, url, destination, attempts, code, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, dl := range letters {
		_, err = stmt.ExecContext(ctx,
			dl.ID,
			dl.BatchID,
			dl.Repo,
			string(dl.Kind),
			dl.EntityID,
			dl.URL,
			dl.Destination,
			dl.Attempts,
			dl.Code,
			dl.Error,
			dl.CreatedAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("failed to save dead letter: %w", err)
		}
	}

	return tx.Commit()
}

// GetDeadLetters retrieves dead letters for a repository, oldest first
func (s *postgresStorage) GetDeadLetters(ctx context.Context, repo string) ([]*domain.DeadLetter, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, batch_id, repo, kind, entity_id, url, destination, attempts, code, error, created_at
		FROM dead_letters
		WHERE ($1 = '' OR repo = $1)
		ORDER BY created_at, entity_id
	`, repo)
	if err != nil {
		return nil, fmt.Errorf("failed to query dead letters: %w", err)
	}
	defer rows.Close()

	var letters []*domain.DeadLetter
	for rows.Next() {
		var (
			dl   domain.DeadLetter
			kind string
		)
		if err := rows.Scan(&dl.ID, &dl.BatchID, &dl.Repo, &kind, &dl.EntityID, &dl.URL,
			&dl.Destination, &dl.Attempts, &dl.Code, &dl.Error, &dl.CreatedAt); err != nil {
			return nil, err
		}
		dl.Kind = domain.EntityKind(kind)
		letters = append(letters, &dl)
	}
	return letters, rows.Err()
}

// SavePullRequests replaces the stored stage-1 rows of a repository
func (s *postgresStorage) SavePullRequests(ctx context.Context, repo domain.Repository, records []domain.PullRequestRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM pull_requests WHERE repo = $1`, repo.FullName()); err != nil {
		return fmt.Errorf("failed to clear pull requests: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO pull_requests
			(repo, number, login, user_id, slug, state, created_at, closed_at,
			 review_comments, commits, additions, deletions, changed_files)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (repo, number) DO UPDATE SET
			login = EXCLUDED.login,
			user_id = EXCLUDED.user_id,
			state = EXCLUDED.state,
			closed_at = EXCLUDED.closed_at,
			review_comments = EXCLUDED.review_comments,
			commits = EXCLUDED.commits,
			additions = EXCLUDED.additions,
			deletions = EXCLUDED.deletions,
			changed_files = EXCLUDED.changed_files
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range records {
		_, err = stmt.ExecContext(ctx,
			repo.FullName(), r.Number, r.Login, r.UserID, r.Repo, r.State, r.CreatedAt, r.ClosedAt,
			r.ReviewComments, r.Commits, r.Additions, r.Deletions, r.ChangedFiles,
		)
		if err != nil {
			return fmt.Errorf("failed to save pull request %d: %w", r.Number, err)
		}
	}

	return tx.Commit()
}

// GetPullRequests retrieves stage-1 rows ordered by number. An empty state matches every state.
func (s *postgresStorage) GetPullRequests(ctx context.Context, repo domain.Repository, state domain.PullState) ([]domain.PullRequestRecord, error) {
	label := ""
	if state != "" {
		label = state.Label()
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT login, user_id, slug, number, state, created_at, closed_at,
		       review_comments, commits, additions, deletions, changed_files
		FROM pull_requests
		WHERE repo = $1 AND ($2 = '' OR state = $2)
		ORDER BY number
	`, repo.FullName(), label)
	if err != nil {
		return nil, fmt.Errorf("failed to query pull requests: %w", err)
	}
	defer rows.Close()

	var records []domain.PullRequestRecord
	for rows.Next() {
		var r domain.PullRequestRecord
		if err := rows.Scan(&r.Login, &r.UserID, &r.Repo, &r.Number, &r.State, &r.CreatedAt, &r.ClosedAt,
			&r.ReviewComments, &r.Commits, &r.Additions, &r.Deletions, &r.ChangedFiles); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Close closes the database connection
func (s *postgresStorage) Close() error {
	return s.db.Close()
}
