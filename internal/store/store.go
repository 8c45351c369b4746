package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/agenthands/crosscheck/internal/core/model"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrAlreadyClassified = errors.New("conflict already classified by this classifier version")
	ErrAlreadyResolved   = errors.New("conflict already resolved")
	ErrDuplicate         = errors.New("already exists")
)

// Store is the relational record of conflicts, seed terms and shelf requests.
type Store interface {
	EnsureSchema(ctx context.Context) error
	Close() error

	// ExistingKeys returns the dedup keys already stored for an engagement.
	ExistingKeys(ctx context.Context, engagementID string) (map[model.ConflictKey]struct{}, error)
	ShelfRequestTitles(ctx context.Context, engagementID string) (map[string]struct{}, error)
	// SaveDetectionBatch inserts conflicts and shelf requests in one transaction,
	// skipping rows whose key already exists. It returns the number of conflicts
	// and requests actually inserted.
	SaveDetectionBatch(ctx context.Context, conflicts []*model.ConflictObject, requests []*model.ShelfDataRequest) (int, int, error)

	ListUnclassified(ctx context.Context, engagementID string) ([]*model.ConflictObject, error)
	// ListOutdated returns classified rows from another classifier version that
	// no human has resolved.
	ListOutdated(ctx context.Context, engagementID, version string) ([]*model.ConflictObject, error)
	// SaveClassification writes the resolution fields. It fails with
	// ErrAlreadyClassified when the row already carries c.ClassifierVersion.
	SaveClassification(ctx context.Context, c *model.ConflictObject) error

	SeedTerms(ctx context.Context, engagementID string, terms []string) ([]model.SeedTerm, error)
	CreateSeedTerm(ctx context.Context, t *model.SeedTerm) error

	Get(ctx context.Context, id string) (*model.ConflictObject, error)
	List(ctx context.Context, engagementID string, f model.ListFilter) ([]*model.ConflictObject, error)
	Resolve(ctx context.Context, id string, req model.ResolveRequest) (*model.ConflictObject, error)
	Escalate(ctx context.Context, id, notes string) (*model.ConflictObject, error)
	// EscalateOverdue escalates unresolved, unescalated conflicts created before cutoff.
	EscalateOverdue(ctx context.Context, engagementID string, cutoff time.Time) ([]string, error)
	ListShelfRequests(ctx context.Context, engagementID string) ([]*model.ShelfDataRequest, error)
}

func appendEscalationNote(existing, notes string) string {
	if notes == "" {
		return existing
	}
	if existing == "" {
		return "[ESCALATED] " + notes
	}
	return existing + "\n[ESCALATED] " + notes
}

// Open connects the backend named by driverName: postgres, sqlite or memory.
func Open(ctx context.Context, driverName, dsn string) (Store, error) {
	switch driverName {
	case "postgres":
		s, err := OpenPostgres(ctx, dsn)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "sqlite":
		s, err := OpenSQLite(dsn)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", driverName)
	}
}
