package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/kurihiro0119/github-contrib-collector/internal/domain"
	"github.com/kurihiro0119/github-contrib-collector/internal/storage"
)

// sqliteStorage implements the Storage interface for SQLite
type sqliteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(dbPath string) (storage.Storage, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	s := &sqliteStorage{db: db}
	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Migrate runs database migrations
func (s *sqliteStorage) Migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS collection_batches (
		id TEXT PRIMARY KEY,
		repo TEXT NOT NULL,
		collector TEXT NOT NULL,
		status TEXT NOT NULL,
		jobs INTEGER NOT NULL DEFAULT 0,
		fetched INTEGER NOT NULL DEFAULT 0,
		dead_lettered INTEGER NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT '',
		started_at TIMESTAMP NOT NULL,
		finished_at TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_batches_repo ON collection_batches(repo);
	CREATE INDEX IF NOT EXISTS idx_batches_started_at ON collection_batches(started_at);

	CREATE TABLE IF NOT EXISTS dead_letters (
		id TEXT PRIMARY KEY,
		batch_id TEXT NOT NULL,
		repo TEXT NOT NULL,
		kind TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		url TEXT NOT NULL,
		destination TEXT NOT NULL,
		attempts INTEGER NOT NULL,
		code TEXT NOT NULL,
		error TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_dead_letters_repo ON dead_letters(repo);
	CREATE INDEX IF NOT EXISTS idx_dead_letters_batch ON dead_letters(batch_id);

	CREATE TABLE IF NOT EXISTS pull_requests (
		repo TEXT NOT NULL,
		number INTEGER NOT NULL,
		login TEXT NOT NULL,
		user_id INTEGER NOT NULL,
		slug TEXT NOT NULL,
		state TEXT NOT NULL,
		created_at TEXT NOT NULL,
		closed_at TEXT NOT NULL,
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
func (s *sqliteStorage) SaveBatch(ctx context.Context, batch *domain.CollectionBatch) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO collection_batches
			(id, repo, collector, status, jobs, fetched, dead_lettered, error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
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
func (s *sqliteStorage) GetBatches(ctx context.Context, repo string, limit int) ([]*domain.CollectionBatch, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, repo, collector, status, jobs, fetched, dead_lettered, error, started_at, finished_at
		FROM collection_batches
		WHERE (? = '' OR repo = ?)
		ORDER BY started_at DESC, id
		LIMIT ?
	`, repo, repo, limit)
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
func (s *sqliteStorage) SaveDeadLetters(ctx context.Context, letters []*domain.DeadLetter) error {
	if len(letters) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO dead_letters
			(id, batch_id, repo, kind, entity_id, url, destination, attempts, code, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
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
func (s *sqliteStorage) GetDeadLetters(ctx context.Context, repo string) ([]*domain.DeadLetter, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, batch_id, repo, kind, entity_id, url, destination, attempts, code, error, created_at
		FROM dead_letters
		WHERE (? = '' OR repo = ?)
		ORDER BY created_at, entity_id
	`, repo, repo)
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
func (s *sqliteStorage) SavePullRequests(ctx context.Context, repo domain.Repository, records []domain.PullRequestRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM pull_requests WHERE repo = ?`, repo.FullName()); err != nil {
		return fmt.Errorf("failed to clear pull requests: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO pull_requests
			(repo, number, login, user_id, slug, state, created_at, closed_at,
			 review_comments, commits, additions, deletions, changed_files)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
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
func (s *sqliteStorage) GetPullRequests(ctx context.Context, repo domain.Repository, state domain.PullState) ([]domain.PullRequestRecord, error) {
	label := ""
	if state != "" {
		label = state.Label()
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT login, user_id, slug, number, state, created_at, closed_at,
		       review_comments, commits, additions, deletions, changed_files
		FROM pull_requests
		WHERE repo = ? AND (? = '' OR state = ?)
		ORDER BY number
	`, repo.FullName(), label, label)
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
func (s *sqliteStorage) Close() error {
	return s.db.Close()
}
