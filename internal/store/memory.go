package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/agenthands/crosscheck/internal/core/model"
	"github.com/google/uuid"
)

// MemoryStore keeps everything in process. It backs local runs and tests.
type MemoryStore struct {
	mu        sync.Mutex
	conflicts map[string]*model.ConflictObject
	keys      map[model.ConflictKey]string
	terms     map[string]*model.SeedTerm
	requests  map[string]*model.ShelfDataRequest
	now       func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conflicts: map[string]*model.ConflictObject{},
		keys:      map[model.ConflictKey]string{},
		terms:     map[string]*model.SeedTerm{},
		requests:  map[string]*model.ShelfDataRequest{},
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) EnsureSchema(ctx context.Context) error { return nil }
func (s *MemoryStore) Close() error                           { return nil }

func (s *MemoryStore) ExistingKeys(ctx context.Context, engagementID string) (map[model.ConflictKey]struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[model.ConflictKey]struct{}{}
	for k := range s.keys {
		if k.EngagementID == engagementID {
			out[k] = struct{}{}
		}
	}
	return out, nil
}

func (s *MemoryStore) ShelfRequestTitles(ctx context.Context, engagementID string) (map[string]struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]struct{}{}
	for _, r := range s.requests {
		if r.EngagementID == engagementID {
			out[r.Title] = struct{}{}
		}
	}
	return out, nil
}

func (s *MemoryStore) SaveDetectionBatch(ctx context.Context, conflicts []*model.ConflictObject, requests []*model.ShelfDataRequest) (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inserted := 0
	for _, c := range conflicts {
		key := c.Key()
		if _, ok := s.keys[key]; ok {
			continue
		}
		stored := clone(c)
		if stored.ID == "" {
			stored.ID = uuid.NewString()
			c.ID = stored.ID
		}
		if stored.CreatedAt.IsZero() {
			stored.CreatedAt = s.now()
		}
		s.conflicts[stored.ID] = stored
		s.keys[key] = stored.ID
		inserted++
	}

	created := 0
	for _, r := range requests {
		if s.hasTitleLocked(r.EngagementID, r.Title) {
			continue
		}
		stored := *r
		if stored.ID == "" {
			stored.ID = uuid.NewString()
		}
		if stored.CreatedAt.IsZero() {
			stored.CreatedAt = s.now()
		}
		s.requests[stored.ID] = &stored
		created++
	}
	return inserted, created, nil
}

func (s *MemoryStore) hasTitleLocked(engagementID, title string) bool {
	for _, r := range s.requests {
		if r.EngagementID == engagementID && r.Title == title {
			return true
		}
	}
	return false
}

func (s *MemoryStore) ListUnclassified(ctx context.Context, engagementID string) ([]*model.ConflictObject, error) {
	return s.selectLocked(func(c *model.ConflictObject) bool {
		return c.EngagementID == engagementID && c.ResolutionType == ""
	}), nil
}

func (s *MemoryStore) ListOutdated(ctx context.Context, engagementID, version string) ([]*model.ConflictObject, error) {
	return s.selectLocked(func(c *model.ConflictObject) bool {
		return c.EngagementID == engagementID && c.ResolutionType != "" &&
			c.ClassifierVersion != version && c.ResolverID == ""
	}), nil
}

func (s *MemoryStore) SaveClassification(ctx context.Context, c *model.ConflictObject) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.conflicts[c.ID]
	if !ok {
		return ErrNotFound
	}
	if stored.ResolutionType != "" && (stored.ClassifierVersion == c.ClassifierVersion || stored.ResolverID != "") {
		return ErrAlreadyClassified
	}
	stored.ResolutionType = c.ResolutionType
	stored.ResolutionStatus = c.ResolutionStatus
	stored.ResolutionDetails = cloneDetails(c.ResolutionDetails)
	stored.ClassifiedAt = c.ClassifiedAt
	stored.ClassifierVersion = c.ClassifierVersion
	stored.ResolvedAt = c.ResolvedAt
	return nil
}

func (s *MemoryStore) SeedTerms(ctx context.Context, engagementID string, terms []string) ([]model.SeedTerm, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	wanted := map[string]bool{}
	for _, t := range terms {
		wanted[t] = true
	}
	var out []model.SeedTerm
	for _, t := range s.terms {
		if t.EngagementID != engagementID || !wanted[t.Term] {
			continue
		}
		term := *t
		if target, ok := s.terms[t.MergedInto]; ok {
			term.CanonicalTerm = target.Term
		}
		out = append(out, term)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Term < out[j].Term })
	return out, nil
}

func (s *MemoryStore) CreateSeedTerm(ctx context.Context, t *model.SeedTerm) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.terms {
		if existing.EngagementID == t.EngagementID && existing.Term == t.Term && existing.Domain == t.Domain {
			return ErrDuplicate
		}
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Status == "" {
		t.Status = model.TermActive
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = s.now()
	}
	stored := *t
	s.terms[t.ID] = &stored
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*model.ConflictObject, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conflicts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(c), nil
}

func (s *MemoryStore) List(ctx context.Context, engagementID string, f model.ListFilter) ([]*model.ConflictObject, error) {
	out := s.selectLocked(func(c *model.ConflictObject) bool {
		return c.EngagementID == engagementID && f.Match(c)
	})
	model.SortBySeverity(out)
	return paginate(out, f.Offset, f.Limit), nil
}

func (s *MemoryStore) Resolve(ctx context.Context, id string, req model.ResolveRequest) (*model.ConflictObject, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.conflicts[id]
	if !ok {
		return nil, ErrNotFound
	}
	if c.ResolutionStatus == model.StatusResolved {
		return nil, ErrAlreadyResolved
	}
	now := s.now()
	c.ResolutionStatus = model.StatusResolved
	if req.ResolutionType != "" {
		c.ResolutionType = req.ResolutionType
	}
	c.ResolutionNotes = req.ResolutionNotes
	c.ResolverID = req.ResolverID
	c.ResolvedAt = &now
	return clone(c), nil
}

func (s *MemoryStore) Escalate(ctx context.Context, id, notes string) (*model.ConflictObject, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.conflicts[id]
	if !ok {
		return nil, ErrNotFound
	}
	if c.ResolutionStatus == model.StatusResolved {
		return nil, ErrAlreadyResolved
	}
	c.EscalationFlag = true
	c.ResolutionStatus = model.StatusEscalated
	c.ResolutionNotes = appendEscalationNote(c.ResolutionNotes, notes)
	return clone(c), nil
}

func (s *MemoryStore) EscalateOverdue(ctx context.Context, engagementID string, cutoff time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []string
	for _, c := range s.conflicts {
		if c.EngagementID != engagementID || c.ResolutionStatus != model.StatusUnresolved || c.EscalationFlag {
			continue
		}
		if !c.CreatedAt.Before(cutoff) {
			continue
		}
		c.EscalationFlag = true
		c.ResolutionStatus = model.StatusEscalated
		ids = append(ids, c.ID)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *MemoryStore) ListShelfRequests(ctx context.Context, engagementID string) ([]*model.ShelfDataRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.ShelfDataRequest
	for _, r := range s.requests {
		if r.EngagementID == engagementID {
			req := *r
			out = append(out, &req)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Title < out[j].Title })
	return out, nil
}

func (s *MemoryStore) selectLocked(keep func(c *model.ConflictObject) bool) []*model.ConflictObject {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.ConflictObject
	for _, c := range s.conflicts {
		if keep(c) {
			out = append(out, clone(c))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func paginate(in []*model.ConflictObject, offset, limit int) []*model.ConflictObject {
	if offset > 0 {
		if offset >= len(in) {
			return nil
		}
		in = in[offset:]
	}
	if limit > 0 && limit < len(in) {
		in = in[:limit]
	}
	return in
}

func clone(c *model.ConflictObject) *model.ConflictObject {
	out := *c
	out.ResolutionDetails = cloneDetails(c.ResolutionDetails)
	if c.ConflictDetail != nil {
		out.ConflictDetail = make(map[string]any, len(c.ConflictDetail))
		for k, v := range c.ConflictDetail {
			out.ConflictDetail[k] = v
		}
	}
	return &out
}

func cloneDetails(d *model.ResolutionDetails) *model.ResolutionDetails {
	if d == nil {
		return nil
	}
	out := *d
	return &out
}
