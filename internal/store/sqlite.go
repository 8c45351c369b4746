package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/agenthands/crosscheck/internal/core/model"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS conflict_objects (
		id TEXT PRIMARY KEY,
		engagement_id TEXT NOT NULL,
		mismatch_type TEXT NOT NULL,
		source_a_id TEXT NOT NULL,
		source_b_id TEXT,
		severity REAL NOT NULL,
		escalation_flag BOOLEAN NOT NULL DEFAULT 0,
		resolution_type TEXT,
		resolution_status TEXT NOT NULL DEFAULT 'unresolved',
		resolution_details TEXT,
		resolution_hint TEXT,
		resolution_notes TEXT,
		resolver_id TEXT,
		conflict_detail TEXT,
		classified_at TIMESTAMP,
		classifier_version TEXT,
		resolved_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_conflict_objects_key
		ON conflict_objects (engagement_id, mismatch_type, source_a_id, COALESCE(source_b_id, ''))`,
	`CREATE INDEX IF NOT EXISTS ix_conflict_objects_engagement
		ON conflict_objects (engagement_id, resolution_type)`,
	`CREATE TABLE IF NOT EXISTS seed_terms (
		id TEXT PRIMARY KEY,
		engagement_id TEXT NOT NULL,
		term TEXT NOT NULL,
		domain TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'active',
		merged_into TEXT REFERENCES seed_terms(id),
		created_at TIMESTAMP NOT NULL,
		UNIQUE (engagement_id, term, domain)
	)`,
	`CREATE TABLE IF NOT EXISTS shelf_data_requests (
		id TEXT PRIMARY KEY,
		engagement_id TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'draft',
		created_at TIMESTAMP NOT NULL,
		UNIQUE (engagement_id, title)
	)`,
}

type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens a SQLite database. ":memory:" gives a private in-memory
// database; the pool is pinned to one connection so it stays shared.
func OpenSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	return &SQLiteStore{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) EnsureSchema(ctx context.Context) error {
	for _, stmt := range sqliteSchema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) ExistingKeys(ctx context.Context, engagementID string) (map[model.ConflictKey]struct{}, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT mismatch_type, source_a_id, COALESCE(source_b_id, '')
		 FROM conflict_objects WHERE engagement_id = ?`,
		engagementID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	keys := map[model.ConflictKey]struct{}{}
	for rows.Next() {
		k := model.ConflictKey{EngagementID: engagementID}
		var mismatch string
		if err := rows.Scan(&mismatch, &k.SourceAID, &k.SourceBID); err != nil {
			return nil, err
		}
		k.MismatchType = model.MismatchType(mismatch)
		keys[k] = struct{}{}
	}
	return keys, rows.Err()
}

func (s *SQLiteStore) ShelfRequestTitles(ctx context.Context, engagementID string) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT title FROM shelf_data_requests WHERE engagement_id = ?`, engagementID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	titles := map[string]struct{}{}
	for rows.Next() {
		var title string
		if err := rows.Scan(&title); err != nil {
			return nil, err
		}
		titles[title] = struct{}{}
	}
	return titles, rows.Err()
}

func (s *SQLiteStore) SaveDetectionBatch(ctx context.Context, conflicts []*model.ConflictObject, requests []*model.ShelfDataRequest) (int, int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, err
	}
	defer tx.Rollback()

	inserted := 0
	for _, c := range conflicts {
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		if c.CreatedAt.IsZero() {
			c.CreatedAt = s.now()
		}
		detail, err := nullableJSON(c.ConflictDetail)
		if err != nil {
			return 0, 0, err
		}
		res, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO conflict_objects
			 (id, engagement_id, mismatch_type, source_a_id, source_b_id, severity,
			  escalation_flag, resolution_status, resolution_hint, conflict_detail, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID, c.EngagementID, string(c.MismatchType), c.SourceAID, nullable(c.SourceBID), c.Severity,
			c.EscalationFlag, string(c.ResolutionStatus), nullable(c.ResolutionHint), detail, c.CreatedAt.UTC(),
		)
		if err != nil {
			return 0, 0, fmt.Errorf("failed to insert conflict: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}

	created := 0
	for _, r := range requests {
		if r.ID == "" {
			r.ID = uuid.NewString()
		}
		if r.CreatedAt.IsZero() {
			r.CreatedAt = s.now()
		}
		res, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO shelf_data_requests (id, engagement_id, title, description, status, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			r.ID, r.EngagementID, r.Title, r.Description, r.Status, r.CreatedAt.UTC(),
		)
		if err != nil {
			return 0, 0, fmt.Errorf("failed to insert shelf request: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			created++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, err
	}
	return inserted, created, nil
}

func (s *SQLiteStore) ListUnclassified(ctx context.Context, engagementID string) ([]*model.ConflictObject, error) {
	return s.query(ctx,
		`SELECT `+conflictColumns("")+` FROM conflict_objects
		 WHERE engagement_id = ? AND resolution_type IS NULL
		 ORDER BY created_at, id`,
		engagementID,
	)
}

func (s *SQLiteStore) ListOutdated(ctx context.Context, engagementID, version string) ([]*model.ConflictObject, error) {
	return s.query(ctx,
		`SELECT `+conflictColumns("")+` FROM conflict_objects
		 WHERE engagement_id = ? AND resolution_type IS NOT NULL
		   AND COALESCE(classifier_version, '') <> ? AND resolver_id IS NULL
		 ORDER BY created_at, id`,
		engagementID, version,
	)
}

func (s *SQLiteStore) SaveClassification(ctx context.Context, c *model.ConflictObject) error {
	details, err := nullableJSON(c.ResolutionDetails)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE conflict_objects
		 SET resolution_type = ?, resolution_status = ?, resolution_details = ?,
		     classified_at = ?, classifier_version = ?, resolved_at = ?
		 WHERE id = ?
		   AND (resolution_type IS NULL OR (COALESCE(classifier_version, '') <> ? AND resolver_id IS NULL))`,
		nullable(string(c.ResolutionType)), string(c.ResolutionStatus), details,
		nullableTime(c.ClassifiedAt), nullable(c.ClassifierVersion), nullableTime(c.ResolvedAt),
		c.ID, c.ClassifierVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to save classification: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := s.Get(ctx, c.ID); err != nil {
			return err
		}
		return ErrAlreadyClassified
	}
	return nil
}

func (s *SQLiteStore) SeedTerms(ctx context.Context, engagementID string, terms []string) ([]model.SeedTerm, error) {
	if len(terms) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(terms)), ", ")
	args := []any{engagementID}
	for _, t := range terms {
		args = append(args, t)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT t.id, t.engagement_id, t.term, t.domain, t.status,
		        COALESCE(t.merged_into, ''), COALESCE(c.term, ''), t.created_at
		 FROM seed_terms t LEFT JOIN seed_terms c ON c.id = t.merged_into
		 WHERE t.engagement_id = ? AND t.term IN (`+placeholders+`)
		 ORDER BY t.term`,
		args...,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSeedTerms(rows)
}

func scanSeedTerms(rows interface {
	rowScanner
	Next() bool
	Err() error
}) ([]model.SeedTerm, error) {
	var out []model.SeedTerm
	for rows.Next() {
		var t model.SeedTerm
		var status string
		if err := rows.Scan(&t.ID, &t.EngagementID, &t.Term, &t.Domain, &status, &t.MergedInto, &t.CanonicalTerm, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.Status = model.TermStatus(status)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) CreateSeedTerm(ctx context.Context, t *model.SeedTerm) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Status == "" {
		t.Status = model.TermActive
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = s.now()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO seed_terms (id, engagement_id, term, domain, status, merged_into, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.EngagementID, t.Term, t.Domain, string(t.Status), nullable(t.MergedInto), t.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to create seed term: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrDuplicate
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*model.ConflictObject, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+conflictColumns("")+` FROM conflict_objects WHERE id = ?`, id)
	c, err := scanConflict(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return c, err
}

func (s *SQLiteStore) List(ctx context.Context, engagementID string, f model.ListFilter) ([]*model.ConflictObject, error) {
	where, args := buildFilter(engagementID, f, func(int) string { return "?" })
	return s.query(ctx, `SELECT `+conflictColumns("")+` FROM conflict_objects WHERE `+where, args...)
}

func (s *SQLiteStore) Resolve(ctx context.Context, id string, req model.ResolveRequest) (*model.ConflictObject, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conflict_objects
		 SET resolution_status = 'resolved',
		     resolution_type = COALESCE(?, resolution_type),
		     resolution_notes = ?, resolver_id = ?, resolved_at = ?
		 WHERE id = ? AND resolution_status <> 'resolved'`,
		nullable(string(req.ResolutionType)), nullable(req.ResolutionNotes), nullable(req.ResolverID), s.now(), id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve conflict: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := s.Get(ctx, id); err != nil {
			return nil, err
		}
		return nil, ErrAlreadyResolved
	}
	return s.Get(ctx, id)
}

func (s *SQLiteStore) Escalate(ctx context.Context, id, notes string) (*model.ConflictObject, error) {
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.ResolutionStatus == model.StatusResolved {
		return nil, ErrAlreadyResolved
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE conflict_objects
		 SET escalation_flag = 1, resolution_status = 'escalated', resolution_notes = ?
		 WHERE id = ? AND resolution_status <> 'resolved'`,
		nullable(appendEscalationNote(current.ResolutionNotes, notes)), id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to escalate conflict: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrAlreadyResolved
	}
	return s.Get(ctx, id)
}

func (s *SQLiteStore) EscalateOverdue(ctx context.Context, engagementID string, cutoff time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`UPDATE conflict_objects
		 SET escalation_flag = 1, resolution_status = 'escalated'
		 WHERE engagement_id = ? AND resolution_status = 'unresolved'
		   AND escalation_flag = 0 AND created_at < ?
		 RETURNING id`,
		engagementID, cutoff.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to escalate overdue conflicts: %w", err)
	}
	defer rows.Close()
	return scanIDs(rows)
}

func (s *SQLiteStore) ListShelfRequests(ctx context.Context, engagementID string) ([]*model.ShelfDataRequest, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, engagement_id, title, description, status, created_at
		 FROM shelf_data_requests WHERE engagement_id = ? ORDER BY title`,
		engagementID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.ShelfDataRequest
	for rows.Next() {
		var r model.ShelfDataRequest
		if err := rows.Scan(&r.ID, &r.EngagementID, &r.Title, &r.Description, &r.Status, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) query(ctx context.Context, q string, args ...any) ([]*model.ConflictObject, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.ConflictObject
	for rows.Next() {
		c, err := scanConflict(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanIDs(rows interface {
	rowScanner
	Next() bool
	Err() error
}) ([]string, error) {
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
