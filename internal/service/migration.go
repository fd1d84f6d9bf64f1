package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/chatcore/internal/config"
	"github.com/chatcore/internal/logger"
	"github.com/chatcore/internal/metrics"
	"github.com/chatcore/internal/model"
	"github.com/chatcore/internal/storage"
)

// MigrationGate is the external switch for batch migrations. The engine itself never reads it;
// transports call RequireMigrations before invoking a job.
type MigrationGate interface {
	MigrationsAllowed() bool
}

func RequireMigrations(gate MigrationGate) error {
	if gate == nil || !gate.MigrationsAllowed() {
		return model.ErrMigrationsDisabled
	}
	return nil
}

type Migrator struct {
	messages      storage.MessageStore
	conversations storage.ConversationStore
	reports       storage.ReportStore
	cfg           config.MigrationsConfig
	clock         func() time.Time
}

func NewMigrator(messages storage.MessageStore, conversations storage.ConversationStore, reports storage.ReportStore, cfg config.MigrationsConfig) *Migrator {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 200
	}
	return &Migrator{messages: messages, conversations: conversations, reports: reports, cfg: cfg, clock: now}
}

// tally collects per-conversation outcomes from concurrent workers.
type tally struct {
	mu     sync.Mutex
	result model.MigrationResult
}

func (t *tally) record(conversationID, outcome string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.result.Total++
	switch outcome {
	case metrics.OutcomeUpdated:
		t.result.Updated++
	case metrics.OutcomeSkipped:
		t.result.Skipped++
	case metrics.OutcomeFailed:
		t.result.Failed++
		t.result.Failures = append(t.result.Failures, model.MigrationFailure{ConversationID: conversationID, Error: err.Error()})
	}
	metrics.CountMigration(t.result.Job, outcome)
}

func (t *tally) interrupted(pending int, resumeAfter string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.result.Pending += pending
	t.result.ResumeAfter = resumeAfter
}

func (t *tally) snapshot() *model.MigrationResult {
	t.mu.Lock()
	defer t.mu.Unlock()
	r := t.result
	r.Failures = append([]model.MigrationFailure(nil), t.result.Failures...)
	sort.Slice(r.Failures, func(i, j int) bool { return r.Failures[i].ConversationID < r.Failures[j].ConversationID })
	return &r
}

// MigratePermissions rewrites the permission set of every listed conversation. Only the
// configured product is supported. Missing conversations are skipped, other errors are
// recorded and the batch goes on.
func (m *Migrator) MigratePermissions(ctx context.Context, perms []model.Permission, product string, conversationIDs []string) (*model.MigrationResult, error) {
	if product != m.cfg.PermissionProduct {
		return nil, fmt.Errorf("product %q: %w", product, model.ErrUnsupportedScope)
	}
	if perms == nil {
		perms = []model.Permission{}
	}
	started := m.clock()
	t := &tally{result: model.MigrationResult{Job: model.JobPermissions}}
	var runErr error
	ids := uniqueIDs(conversationIDs)
	for i, id := range ids {
		if err := ctx.Err(); err != nil {
			runErr = err
			t.interrupted(len(ids)-i, "")
			break
		}
		err := m.conversations.SetPermissions(context.WithoutCancel(ctx), id, perms)
		switch {
		case errors.Is(err, model.ErrNotFound):
			t.record(id, metrics.OutcomeSkipped, nil)
		case err != nil:
			logger.Errorf("migrate permissions %s: %v", id, err)
			t.record(id, metrics.OutcomeFailed, err)
		default:
			t.record(id, metrics.OutcomeUpdated, nil)
		}
	}
	return m.finish(ctx, started, t, runErr)
}

// MigrateLastMessages points every conversation at its newest non-deleted message, or clears the
// pointer when there is none. Each step recomputes its target from the messages, so the job can be
// rerun or restarted at any point. Cancellation is honoured between conversations only.
func (m *Migrator) MigrateLastMessages(ctx context.Context) (*model.MigrationResult, error) {
	started := m.clock()
	t := &tally{result: model.MigrationResult{Job: model.JobLastMessages}}
	var runErr error
	after := ""
	for {
		if err := ctx.Err(); err != nil {
			runErr = err
			t.interrupted(0, after)
			break
		}
		ids, err := m.conversations.ListIDs(ctx, after, m.cfg.PageSize)
		if err != nil {
			runErr = fmt.Errorf("list conversations after %q: %w", after, err)
			t.interrupted(0, after)
			break
		}
		if len(ids) == 0 {
			break
		}

		// skipped[i] пишет только своя горутина, читается после Wait.
		skipped := make([]bool, len(ids))
		var g errgroup.Group
		g.SetLimit(m.cfg.Concurrency)
		for i, id := range ids {
			g.Go(func() error {
				if ctx.Err() != nil {
					skipped[i] = true
					return nil
				}
				outcome, err := m.backfillOne(context.WithoutCancel(ctx), id)
				if err != nil {
					logger.Errorf("backfill last message %s: %v", id, err)
				}
				t.record(id, outcome, err)
				return nil
			})
		}
		_ = g.Wait()

		if first := slices.Index(skipped, true); first >= 0 {
			pending := 0
			for _, skip := range skipped {
				if skip {
					pending++
				}
			}
			if first > 0 {
				after = ids[first-1]
			}
			runErr = ctx.Err()
			t.interrupted(pending, after)
			break
		}
		after = ids[len(ids)-1]
		if len(ids) < m.cfg.PageSize {
			break
		}
	}
	if runErr == nil && ctx.Err() != nil {
		runErr = ctx.Err()
	}
	return m.finish(ctx, started, t, runErr)
}

func (m *Migrator) backfillOne(ctx context.Context, conversationID string) (string, error) {
	latest, err := m.messages.Latest(ctx, conversationID)
	if err != nil {
		return metrics.OutcomeFailed, err
	}
	messageID := ""
	if latest != nil {
		messageID = latest.ID
	}
	err = m.conversations.SetLastMessage(ctx, conversationID, messageID)
	if errors.Is(err, model.ErrNotFound) {
		return metrics.OutcomeSkipped, nil
	}
	if err != nil {
		return metrics.OutcomeFailed, err
	}
	return metrics.OutcomeUpdated, nil
}

// finish stores the run report and returns the partial result alongside runErr.
func (m *Migrator) finish(ctx context.Context, started time.Time, t *tally, runErr error) (*model.MigrationResult, error) {
	result := t.snapshot()
	report := &model.MigrationReport{
		Job:        result.Job,
		StartedAt:  started,
		FinishedAt: m.clock(),
		Completed:  runErr == nil,
		Result:     *result,
	}
	if err := m.reports.SaveReport(context.WithoutCancel(ctx), report); err != nil {
		logger.Errorf("save %s report: %v", result.Job, err)
	}
	logger.Infof("migration %s: total=%d updated=%d skipped=%d failed=%d pending=%d completed=%v",
		result.Job, result.Total, result.Updated, result.Skipped, result.Failed, result.Pending, report.Completed)
	if runErr != nil && result.ResumeAfter != "" {
		logger.Infof("migration %s: resume after %s", result.Job, result.ResumeAfter)
	}
	if runErr != nil {
		return result, fmt.Errorf("migration %s interrupted: %w", result.Job, runErr)
	}
	return result, nil
}

// LastReport returns the stored summary of the last run of job.
func (m *Migrator) LastReport(ctx context.Context, job string) (*model.MigrationReport, error) {
	if job != model.JobPermissions && job != model.JobLastMessages {
		return nil, fmt.Errorf("migration job %q: %w", job, model.ErrNotFound)
	}
	r, err := m.reports.LastReport(ctx, job)
	if err != nil {
		return nil, fmt.Errorf("migration job %q: %w", job, err)
	}
	return r, nil
}
