package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/agenthands/crosscheck/internal/core/model"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS conflict_objects (
		id TEXT PRIMARY KEY,
		engagement_id TEXT NOT NULL,
		mismatch_type TEXT NOT NULL,
		source_a_id TEXT NOT NULL,
		source_b_id TEXT,
		severity DOUBLE PRECISION NOT NULL,
		escalation_flag BOOLEAN NOT NULL DEFAULT FALSE,
		resolution_type TEXT,
		resolution_status TEXT NOT NULL DEFAULT 'unresolved',
		resolution_details JSONB,
		resolution_hint TEXT,
		resolution_notes TEXT,
		resolver_id TEXT,
		conflict_detail JSONB,
		classified_at TIMESTAMPTZ,
		classifier_version TEXT,
		resolved_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_conflict_objects_key
		ON conflict_objects (engagement_id, mismatch_type, source_a_id, COALESCE(source_b_id, ''))`,
	`CREATE INDEX IF NOT EXISTS ix_conflict_objects_unclassified
		ON conflict_objects (engagement_id) WHERE resolution_type IS NULL`,
	`CREATE TABLE IF NOT EXISTS seed_terms (
		id TEXT PRIMARY KEY,
		engagement_id TEXT NOT NULL,
		term TEXT NOT NULL,
		domain TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'active',
		merged_into TEXT REFERENCES seed_terms(id),
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (engagement_id, term, domain)
	)`,
	`CREATE TABLE IF NOT EXISTS shelf_data_requests (
		id TEXT PRIMARY KEY,
		engagement_id TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'draft',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (engagement_id, title)
	)`,
}

const pgJSONCast = "::text"

type PostgresStore struct {
	db  *pgxpool.Pool
	now func() time.Time
}

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return NewPostgresStore(pool), nil
}

func (s *PostgresStore) Close() error {
	s.db.Close()
	return nil
}

func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	for _, stmt := range postgresSchema {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) ExistingKeys(ctx context.Context, engagementID string) (map[model.ConflictKey]struct{}, error) {
	rows, err := s.db.Query(ctx,
		`SELECT mismatch_type, source_a_id, COALESCE(source_b_id, '')
		 FROM conflict_objects WHERE engagement_id = $1`,
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

func (s *PostgresStore) ShelfRequestTitles(ctx context.Context, engagementID string) (map[string]struct{}, error) {
	rows, err := s.db.Query(ctx,
		`SELECT title FROM shelf_data_requests WHERE engagement_id = $1`, engagementID)
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

func (s *PostgresStore) SaveDetectionBatch(ctx context.Context, conflicts []*model.ConflictObject, requests []*model.ShelfDataRequest) (int, int, error) {
	inserted, created := 0, 0
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		for _, c := range conflicts {
			if c.ID == "" {
				c.ID = uuid.NewString()
			}
			if c.CreatedAt.IsZero() {
				c.CreatedAt = s.now()
			}
			detail, err := nullableJSON(c.ConflictDetail)
			if err != nil {
				return err
			}
			tag, err := tx.Exec(ctx,
				`INSERT INTO conflict_objects
				 (id, engagement_id, mismatch_type, source_a_id, source_b_id, severity,
				  escalation_flag, resolution_status, resolution_hint, conflict_detail, created_at)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
				 ON CONFLICT DO NOTHING`,
				c.ID, c.EngagementID, string(c.MismatchType), c.SourceAID, nullable(c.SourceBID), c.Severity,
				c.EscalationFlag, string(c.ResolutionStatus), nullable(c.ResolutionHint), detail, c.CreatedAt,
			)
			if err != nil {
				return fmt.Errorf("failed to insert conflict: %w", err)
			}
			inserted += int(tag.RowsAffected())
		}

		for _, r := range requests {
			if r.ID == "" {
				r.ID = uuid.NewString()
			}
			if r.CreatedAt.IsZero() {
				r.CreatedAt = s.now()
			}
			tag, err := tx.Exec(ctx,
				`INSERT INTO shelf_data_requests (id, engagement_id, title, description, status, created_at)
				 VALUES ($1, $2, $3, $4, $5, $6)
				 ON CONFLICT (engagement_id, title) DO NOTHING`,
				r.ID, r.EngagementID, r.Title, r.Description, r.Status, r.CreatedAt,
			)
			if err != nil {
				return fmt.Errorf("failed to insert shelf request: %w", err)
			}
			created += int(tag.RowsAffected())
		}
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return inserted, created, nil
}

func (s *PostgresStore) ListUnclassified(ctx context.Context, engagementID string) ([]*model.ConflictObject, error) {
	return s.query(ctx,
		`SELECT `+conflictColumns(pgJSONCast)+` FROM conflict_objects
		 WHERE engagement_id = $1 AND resolution_type IS NULL
		 ORDER BY created_at, id`,
		engagementID,
	)
}

func (s *PostgresStore) ListOutdated(ctx context.Context, engagementID, version string) ([]*model.ConflictObject, error) {
	return s.query(ctx,
		`SELECT `+conflictColumns(pgJSONCast)+` FROM conflict_objects
		 WHERE engagement_id = $1 AND resolution_type IS NOT NULL
		   AND classifier_version IS DISTINCT FROM $2 AND resolver_id IS NULL
		 ORDER BY created_at, id`,
		engagementID, version,
	)
}

func (s *PostgresStore) SaveClassification(ctx context.Context, c *model.ConflictObject) error {
	details, err := nullableJSON(c.ResolutionDetails)
	if err != nil {
		return err
	}
	tag, err := s.db.Exec(ctx,
		`UPDATE conflict_objects
		 SET resolution_type = $1, resolution_status = $2, resolution_details = $3,
		     classified_at = $4, classifier_version = $5, resolved_at = $6
		 WHERE id = $7
		   AND (resolution_type IS NULL OR (classifier_version IS DISTINCT FROM $8 AND resolver_id IS NULL))`,
		nullable(string(c.ResolutionType)), string(c.ResolutionStatus), details,
		nullableTime(c.ClassifiedAt), nullable(c.ClassifierVersion), nullableTime(c.ResolvedAt),
		c.ID, c.ClassifierVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to save classification: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.Get(ctx, c.ID); err != nil {
			return err
		}
		return ErrAlreadyClassified
	}
	return nil
}

func (s *PostgresStore) SeedTerms(ctx context.Context, engagementID string, terms []string) ([]model.SeedTerm, error) {
	if len(terms) == 0 {
		return nil, nil
	}
	rows, err := s.db.Query(ctx,
		`SELECT t.id, t.engagement_id, t.term, t.domain, t.status,
		        COALESCE(t.merged_into, ''), COALESCE(c.term, ''), t.created_at
		 FROM seed_terms t LEFT JOIN seed_terms c ON c.id = t.merged_into
		 WHERE t.engagement_id = $1 AND t.term = ANY($2)
		 ORDER BY t.term`,
		engagementID, terms,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSeedTerms(rows)
}

func (s *PostgresStore) CreateSeedTerm(ctx context.Context, t *model.SeedTerm) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Status == "" {
		t.Status = model.TermActive
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = s.now()
	}
	tag, err := s.db.Exec(ctx,
		`INSERT INTO seed_terms (id, engagement_id, term, domain, status, merged_into, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (engagement_id, term, domain) DO NOTHING`,
		t.ID, t.EngagementID, t.Term, t.Domain, string(t.Status), nullable(t.MergedInto), t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create seed term: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicate
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*model.ConflictObject, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+conflictColumns(pgJSONCast)+` FROM conflict_objects WHERE id = $1`, id)
	c, err := scanConflict(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return c, err
}

func (s *PostgresStore) List(ctx context.Context, engagementID string, f model.ListFilter) ([]*model.ConflictObject, error) {
	where, args := buildFilter(engagementID, f, func(n int) string { return "$" + strconv.Itoa(n) })
	return s.query(ctx, `SELECT `+conflictColumns(pgJSONCast)+` FROM conflict_objects WHERE `+where, args...)
}

func (s *PostgresStore) Resolve(ctx context.Context, id string, req model.ResolveRequest) (*model.ConflictObject, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE conflict_objects
		 SET resolution_status = 'resolved',
		     resolution_type = COALESCE($1, resolution_type),
		     resolution_notes = $2, resolver_id = $3, resolved_at = $4
		 WHERE id = $5 AND resolution_status <> 'resolved'`,
		nullable(string(req.ResolutionType)), nullable(req.ResolutionNotes), nullable(req.ResolverID), s.now(), id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve conflict: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.Get(ctx, id); err != nil {
			return nil, err
		}
		return nil, ErrAlreadyResolved
	}
	return s.Get(ctx, id)
}

func (s *PostgresStore) Escalate(ctx context.Context, id, notes string) (*model.ConflictObject, error) {
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.ResolutionStatus == model.StatusResolved {
		return nil, ErrAlreadyResolved
	}
	tag, err := s.db.Exec(ctx,
		`UPDATE conflict_objects
		 SET escalation_flag = TRUE, resolution_status = 'escalated', resolution_notes = $1
		 WHERE id = $2 AND resolution_status <> 'resolved'`,
		nullable(appendEscalationNote(current.ResolutionNotes, notes)), id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to escalate conflict: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrAlreadyResolved
	}
	return s.Get(ctx, id)
}

func (s *PostgresStore) EscalateOverdue(ctx context.Context, engagementID string, cutoff time.Time) ([]string, error) {
	rows, err := s.db.Query(ctx,
		`UPDATE conflict_objects
		 SET escalation_flag = TRUE, resolution_status = 'escalated'
		 WHERE engagement_id = $1 AND resolution_status = 'unresolved'
		   AND escalation_flag = FALSE AND created_at < $2
		 RETURNING id`,
		engagementID, cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to escalate overdue conflicts: %w", err)
	}
	defer rows.Close()
	return scanIDs(rows)
}

func (s *PostgresStore) ListShelfRequests(ctx context.Context, engagementID string) ([]*model.ShelfDataRequest, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, engagement_id, title, description, status, created_at
		 FROM shelf_data_requests WHERE engagement_id = $1 ORDER BY title`,
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

func (s *PostgresStore) query(ctx context.Context, q string, args ...any) ([]*model.ConflictObject, error) {
	rows, err := s.db.Query(ctx, q, args...)
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
