package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jonathan/jobhunter/internal/types"
)

// Memory is a process-local Store. It copies records on the way in and out so
// callers never share mutable state with it.
type Memory struct {
	mu           sync.RWMutex
	postings     map[string]*types.JobPosting
	postingOrder []string
	scores       map[string]types.Score
	apps         map[int64]*types.Application
	byPair       map[string]int64
	profiles     map[string]types.CandidateProfile
	nextID       int64
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		postings: make(map[string]*types.JobPosting),
		scores:   make(map[string]types.Score),
		apps:     make(map[int64]*types.Application),
		byPair:   make(map[string]int64),
		profiles: make(map[string]types.CandidateProfile),
	}
}

func pairKey(candidateID, postingID string) string {
	return candidateID + "\x00" + postingID
}

func clonePosting(p *types.JobPosting) *types.JobPosting {
	c := *p
	c.Requirements = append([]string(nil), p.Requirements...)
	if p.Salary != nil {
		s := *p.Salary
		c.Salary = &s
	}
	return &c
}

// CreatePosting implements JobStore.
func (m *Memory) CreatePosting(_ context.Context, posting *types.JobPosting) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.postings[posting.ID]; ok {
		return ErrDuplicate
	}
	m.postings[posting.ID] = clonePosting(posting)
	m.postingOrder = append(m.postingOrder, posting.ID)
	return nil
}

// GetPosting implements JobStore.
func (m *Memory) GetPosting(_ context.Context, id string) (*types.JobPosting, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.postings[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clonePosting(p), nil
}

// ListPostings implements JobStore. Postings come back in discovery order.
func (m *Memory) ListPostings(_ context.Context, filter PostingFilter) ([]types.JobPosting, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []types.JobPosting
	for _, id := range m.postingOrder {
		p := m.postings[id]
		if filter.Stage != "" && p.Stage != filter.Stage {
			continue
		}
		out = append(out, *clonePosting(p))
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

// UpdatePostingStatus implements JobStore.
func (m *Memory) UpdatePostingStatus(_ context.Context, id string, stage types.PostingStage, scoreAttempts int, needsAttention bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.postings[id]
	if !ok {
		return ErrNotFound
	}
	p.Stage = stage
	p.ScoreAttempts = scoreAttempts
	p.NeedsAttention = needsAttention
	return nil
}

// SaveScore implements ScoreStore.
func (m *Memory) SaveScore(_ context.Context, score types.Score) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := pairKey(score.CandidateID, score.PostingID)
	if _, ok := m.scores[key]; ok {
		return ErrDuplicate
	}
	m.scores[key] = score
	return nil
}

// GetScore implements ScoreStore.
func (m *Memory) GetScore(_ context.Context, candidateID, postingID string) (*types.Score, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.scores[pairKey(candidateID, postingID)]
	if !ok {
		return nil, ErrNotFound
	}
	return &s, nil
}

// CreateApplication implements ApplicationStore.
func (m *Memory) CreateApplication(_ context.Context, app *types.Application) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := pairKey(app.CandidateID, app.PostingID)
	if _, ok := m.byPair[key]; ok {
		return ErrDuplicate
	}
	m.nextID++
	app.ID = m.nextID
	m.apps[app.ID] = app.Clone()
	m.byPair[key] = app.ID
	return nil
}

// GetApplication implements ApplicationStore.
func (m *Memory) GetApplication(_ context.Context, id int64) (*types.Application, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	app, ok := m.apps[id]
	if !ok {
		return nil, ErrNotFound
	}
	return app.Clone(), nil
}

// GetApplicationByPosting implements ApplicationStore.
func (m *Memory) GetApplicationByPosting(_ context.Context, candidateID, postingID string) (*types.Application, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byPair[pairKey(candidateID, postingID)]
	if !ok {
		return nil, ErrNotFound
	}
	return m.apps[id].Clone(), nil
}

// ListApplications implements ApplicationStore. Results are ordered by id.
func (m *Memory) ListApplications(_ context.Context, filter ApplicationFilter) ([]types.Application, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]int64, 0, len(m.apps))
	for id := range m.apps {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var out []types.Application
	for _, id := range ids {
		app := m.apps[id]
		if !matchesFilter(app, filter) {
			continue
		}
		out = append(out, *app.Clone())
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func matchesFilter(app *types.Application, filter ApplicationFilter) bool {
	if filter.CandidateID != "" && app.CandidateID != filter.CandidateID {
		return false
	}
	if filter.NeedsAttention != nil && app.NeedsAttention != *filter.NeedsAttention {
		return false
	}
	if len(filter.Stages) == 0 {
		return true
	}
	stage := app.Stage()
	for _, s := range filter.Stages {
		if s == stage {
			return true
		}
	}
	return false
}

// SaveApplication implements ApplicationStore.
func (m *Memory) SaveApplication(_ context.Context, app *types.Application) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.apps[app.ID]
	if !ok {
		return ErrNotFound
	}
	if len(app.Timeline) < len(stored.Timeline) {
		return fmt.Errorf("application %d: timeline shrank from %d to %d events", app.ID, len(stored.Timeline), len(app.Timeline))
	}
	for i := range stored.Timeline {
		if stored.Timeline[i].Kind != app.Timeline[i].Kind || !stored.Timeline[i].At.Equal(app.Timeline[i].At) {
			return fmt.Errorf("application %d: timeline event %d was rewritten", app.ID, i)
		}
	}
	m.apps[app.ID] = app.Clone()
	return nil
}

// CountEventsSince implements ApplicationStore.
func (m *Memory) CountEventsSince(_ context.Context, candidateID string, kind types.EventKind, since time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, app := range m.apps {
		if candidateID != "" && app.CandidateID != candidateID {
			continue
		}
		for _, ev := range app.Timeline {
			if ev.Kind == kind && !ev.At.Before(since) {
				count++
				break
			}
		}
	}
	return count, nil
}

// GetProfile implements ProfileStore.
func (m *Memory) GetProfile(_ context.Context, id string) (*types.CandidateProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[id]
	if !ok {
		return nil, ErrNotFound
	}
	p.Skills = append([]string(nil), p.Skills...)
	p.Locations = append([]string(nil), p.Locations...)
	return &p, nil
}

// SaveProfile implements ProfileStore.
func (m *Memory) SaveProfile(_ context.Context, profile *types.CandidateProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := *profile
	p.Skills = append([]string(nil), profile.Skills...)
	p.Locations = append([]string(nil), profile.Locations...)
	m.profiles[p.ID] = p
	return nil
}
