package memory

import (
	"context"
	"sync"

	"github.com/chatcore/internal/model"
)

type ReportStore struct {
	mu      sync.RWMutex
	reports map[string]model.MigrationReport
}

func NewReportStore() *ReportStore {
	return &ReportStore{reports: make(map[string]model.MigrationReport)}
}

func (s *ReportStore) SaveReport(ctx context.Context, r *model.MigrationReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *r
	c.Result.Failures = append([]model.MigrationFailure(nil), r.Result.Failures...)
	s.reports[r.Job] = c
	return nil
}

func (s *ReportStore) LastReport(ctx context.Context, job string) (*model.MigrationReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.reports[job]
	if !ok {
		return nil, model.ErrNotFound
	}
	return &r, nil
}
