package store

import (
	"fmt"
	"strings"
	"time"

	"github.com/agenthands/crosscheck/internal/core/common"
	"github.com/agenthands/crosscheck/internal/core/model"
)

// rowScanner is satisfied by *sql.Row, *sql.Rows, pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// conflictColumns lists the selected columns in scanConflict order. jsonCast
// turns a JSON column into text for dialects that store it natively.
func conflictColumns(jsonCast string) string {
	return strings.Join([]string{
		"id",
		"engagement_id",
		"mismatch_type",
		"source_a_id",
		"COALESCE(source_b_id, '')",
		"severity",
		"escalation_flag",
		"COALESCE(resolution_type, '')",
		"resolution_status",
		"COALESCE(resolution_details" + jsonCast + ", '')",
		"COALESCE(resolution_hint, '')",
		"COALESCE(resolution_notes, '')",
		"COALESCE(resolver_id, '')",
		"COALESCE(conflict_detail" + jsonCast + ", '')",
		"classified_at",
		"COALESCE(classifier_version, '')",
		"resolved_at",
		"created_at",
	}, ", ")
}

func scanConflict(row rowScanner) (*model.ConflictObject, error) {
	var (
		c                  model.ConflictObject
		mismatch, resType  string
		status             string
		details, detailRaw string
	)
	err := row.Scan(
		&c.ID, &c.EngagementID, &mismatch, &c.SourceAID, &c.SourceBID,
		&c.Severity, &c.EscalationFlag, &resType, &status, &details,
		&c.ResolutionHint, &c.ResolutionNotes, &c.ResolverID, &detailRaw,
		&c.ClassifiedAt, &c.ClassifierVersion, &c.ResolvedAt, &c.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.MismatchType = model.MismatchType(mismatch)
	c.ResolutionType = model.ResolutionType(resType)
	c.ResolutionStatus = model.ResolutionStatus(status)

	if c.ResolutionDetails, err = common.DecodeJSON[*model.ResolutionDetails]([]byte(details)); err != nil {
		return nil, err
	}
	if c.ConflictDetail, err = common.DecodeJSON[map[string]any]([]byte(detailRaw)); err != nil {
		return nil, err
	}
	c.CreatedAt = c.CreatedAt.UTC()
	c.ClassifiedAt = utc(c.ClassifiedAt)
	c.ResolvedAt = utc(c.ResolvedAt)
	return &c, nil
}

// nullable maps the empty string to SQL NULL.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableJSON(v any) (any, error) {
	data, err := common.EncodeJSON(v)
	if err != nil || data == nil {
		return nil, err
	}
	return string(data), nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

// buildFilter renders the WHERE clause of a List query. ph renders the n-th
// placeholder for the dialect.
func buildFilter(engagementID string, f model.ListFilter, ph func(n int) string) (string, []any) {
	args := []any{engagementID}
	clauses := []string{"engagement_id = " + ph(1)}
	add := func(expr string, v any) {
		args = append(args, v)
		clauses = append(clauses, fmt.Sprintf(expr, ph(len(args))))
	}

	if f.MismatchType != "" {
		add("mismatch_type = %s", string(f.MismatchType))
	}
	if f.ResolutionStatus != "" {
		add("resolution_status = %s", string(f.ResolutionStatus))
	}
	if f.ResolutionType != "" {
		add("resolution_type = %s", string(f.ResolutionType))
	}
	if f.MinSeverity != nil {
		add("severity >= %s", *f.MinSeverity)
	}
	if f.MaxSeverity != nil {
		add("severity <= %s", *f.MaxSeverity)
	}
	if f.Escalated != nil {
		add("escalation_flag = %s", *f.Escalated)
	}

	where := strings.Join(clauses, " AND ")
	suffix := " ORDER BY severity DESC, created_at ASC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		suffix += " LIMIT " + ph(len(args))
		if f.Offset > 0 {
			args = append(args, f.Offset)
			suffix += " OFFSET " + ph(len(args))
		}
	} else if f.Offset > 0 {
		// SQLite needs a LIMIT before OFFSET.
		args = append(args, int64(1<<62), f.Offset)
		suffix += fmt.Sprintf(" LIMIT %s OFFSET %s", ph(len(args)-1), ph(len(args)))
	}
	return where + suffix, args
}
