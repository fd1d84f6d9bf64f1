package service

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chatcore/internal/config"
	"github.com/chatcore/internal/model"
	"github.com/chatcore/internal/storage/memory"
)

var migrationsCfg = config.MigrationsConfig{
	AllowMigrations:   true,
	PermissionProduct: "community",
	Concurrency:       4,
	PageSize:          2,
}

// flakyConversations fails pointer and permission writes for the listed ids.
type flakyConversations struct {
	*memory.ConversationStore
	failOn  map[string]bool
	onWrite func()
}

func (s *flakyConversations) SetLastMessage(ctx context.Context, id, messageID string) error {
	if s.onWrite != nil {
		s.onWrite()
	}
	if s.failOn[id] {
		return errors.New("write failed")
	}
	return s.ConversationStore.SetLastMessage(ctx, id, messageID)
}

func (s *flakyConversations) SetPermissions(ctx context.Context, id string, perms []model.Permission) error {
	if s.failOn[id] {
		return errors.New("write failed")
	}
	return s.ConversationStore.SetPermissions(ctx, id, perms)
}

func lastMessageIDs(t *testing.T, f *fixture, convIDs ...string) map[string]string {
	t.Helper()
	out := make(map[string]string, len(convIDs))
	for _, id := range convIDs {
		c, err := f.convs.GetByID(f.ctx, id)
		require.NoError(t, err)
		out[id] = c.LastMessageID
	}
	return out
}

func TestRequireMigrations(t *testing.T) {
	require.ErrorIs(t, RequireMigrations(nil), model.ErrMigrationsDisabled)
	require.ErrorIs(t, RequireMigrations(config.MigrationsConfig{}), model.ErrMigrationsDisabled)
	require.NoError(t, RequireMigrations(config.MigrationsConfig{AllowMigrations: true}))
}

func TestMigratePermissions(t *testing.T) {
	f := newFixture(t)
	f.conversation(t, "c1")
	f.conversation(t, "c2")
	m := NewMigrator(f.msgs, f.convs, f.reports, migrationsCfg)
	perms := []model.Permission{{Action: "create", Subject: "message"}}

	res, err := m.MigratePermissions(f.ctx, perms, "community", []string{"c1", "missing", "c2"})
	require.NoError(t, err)
	require.Equal(t, 3, res.Total)
	require.Equal(t, 2, res.Updated)
	require.Equal(t, 1, res.Skipped)
	require.Zero(t, res.Failed)

	c, err := f.convs.GetByID(f.ctx, "c2")
	require.NoError(t, err)
	require.Equal(t, perms, c.Permissions)

	report, err := m.LastReport(f.ctx, model.JobPermissions)
	require.NoError(t, err)
	require.True(t, report.Completed)
	require.Equal(t, *res, report.Result)
}

func TestMigratePermissions_UnsupportedProduct(t *testing.T) {
	f := newFixture(t)
	f.conversation(t, "c1")
	m := NewMigrator(f.msgs, f.convs, f.reports, migrationsCfg)

	_, err := m.MigratePermissions(f.ctx, nil, "enterprise", []string{"c1"})
	require.ErrorIs(t, err, model.ErrUnsupportedScope)

	c, err := f.convs.GetByID(f.ctx, "c1")
	require.NoError(t, err)
	require.Empty(t, c.Permissions)
}

func TestMigratePermissions_FailureDoesNotAbort(t *testing.T) {
	f := newFixture(t)
	f.conversation(t, "c1")
	f.conversation(t, "c2")
	convs := &flakyConversations{ConversationStore: f.convs, failOn: map[string]bool{"c1": true}}
	m := NewMigrator(f.msgs, convs, f.reports, migrationsCfg)

	res, err := m.MigratePermissions(f.ctx, []model.Permission{{Action: "read", Subject: "conversation"}}, "community", []string{"c1", "c2"})
	require.NoError(t, err)
	require.Equal(t, 1, res.Updated)
	require.Equal(t, 1, res.Failed)
	require.Equal(t, "c1", res.Failures[0].ConversationID)
}

func TestMigrateLastMessages(t *testing.T) {
	f := newFixture(t)
	f.conversation(t, "a")
	f.conversation(t, "b")
	f.conversation(t, "c")
	f.message(t, "a", "u1", at(1))
	latestA := f.message(t, "a", "u1", at(2))
	newestDeleted := f.message(t, "a", "u1", at(3))
	f.deleted(t, newestDeleted)
	onlyB := f.message(t, "b", "u1", at(1))
	require.NoError(t, f.convs.SetLastMessage(f.ctx, "c", "stale"))
	m := NewMigrator(f.msgs, f.convs, f.reports, migrationsCfg)

	res, err := m.MigrateLastMessages(f.ctx)
	require.NoError(t, err)
	require.Equal(t, 3, res.Total)
	require.Equal(t, 3, res.Updated)
	require.Zero(t, res.Failed)

	first := lastMessageIDs(t, f, "a", "b", "c")
	require.Equal(t, map[string]string{"a": latestA.ID, "b": onlyB.ID, "c": ""}, first)

	_, err = m.MigrateLastMessages(f.ctx)
	require.NoError(t, err)
	require.Equal(t, first, lastMessageIDs(t, f, "a", "b", "c"))

	report, err := m.LastReport(f.ctx, model.JobLastMessages)
	require.NoError(t, err)
	require.True(t, report.Completed)
}

func TestMigrateLastMessages_PagesOverEveryConversation(t *testing.T) {
	f := newFixture(t)
	var all []string
	for i := 0; i < 7; i++ {
		id := fmt.Sprintf("conv-%02d", i)
		all = append(all, id)
		f.conversation(t, id)
		f.message(t, id, "u1", at(i))
	}
	m := NewMigrator(f.msgs, f.convs, f.reports, migrationsCfg)

	res, err := m.MigrateLastMessages(f.ctx)
	require.NoError(t, err)
	require.Equal(t, 7, res.Total)
	for id, last := range lastMessageIDs(t, f, all...) {
		require.NotEmpty(t, last, id)
	}
}

func TestMigrateLastMessages_RecordsFailuresAndContinues(t *testing.T) {
	f := newFixture(t)
	f.conversation(t, "a")
	f.conversation(t, "b")
	f.conversation(t, "c")
	mb := f.message(t, "b", "u1", at(1))
	convs := &flakyConversations{ConversationStore: f.convs, failOn: map[string]bool{"a": true, "c": true}}
	m := NewMigrator(f.msgs, convs, f.reports, migrationsCfg)

	res, err := m.MigrateLastMessages(f.ctx)
	require.NoError(t, err)
	require.Equal(t, 3, res.Total)
	require.Equal(t, 1, res.Updated)
	require.Equal(t, 2, res.Failed)
	require.Equal(t, []string{"a", "c"}, []string{res.Failures[0].ConversationID, res.Failures[1].ConversationID})
	require.Equal(t, mb.ID, lastMessageIDs(t, f, "b")["b"])
}

func TestMigrateLastMessages_StopsBetweenConversationsOnCancel(t *testing.T) {
	f := newFixture(t)
	for _, id := range []string{"a", "b", "c"} {
		f.conversation(t, id)
		f.message(t, id, "u1", at(1))
	}
	ctx, cancel := context.WithCancel(f.ctx)
	defer cancel()
	convs := &flakyConversations{ConversationStore: f.convs, onWrite: cancel}
	cfg := migrationsCfg
	cfg.Concurrency, cfg.PageSize = 1, 1
	m := NewMigrator(f.msgs, convs, f.reports, cfg)

	res, err := m.MigrateLastMessages(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, res.Total)
	require.Equal(t, 1, res.Updated)
	require.Equal(t, 0, res.Pending)
	require.Equal(t, "a", res.ResumeAfter)

	got := lastMessageIDs(t, f, "a", "b")
	require.NotEmpty(t, got["a"])
	require.Empty(t, got["b"])

	report, err := m.LastReport(f.ctx, model.JobLastMessages)
	require.NoError(t, err)
	require.False(t, report.Completed)
	require.Equal(t, "a", report.Result.ResumeAfter)

	// a rerun from scratch completes the job
	res, err = NewMigrator(f.msgs, f.convs, f.reports, cfg).MigrateLastMessages(f.ctx)
	require.NoError(t, err)
	require.Equal(t, 3, res.Updated)
}

func TestMigrateLastMessages_ReportsPendingInsidePage(t *testing.T) {
	f := newFixture(t)
	for _, id := range []string{"a", "b", "c"} {
		f.conversation(t, id)
		f.message(t, id, "u1", at(1))
	}
	ctx, cancel := context.WithCancel(f.ctx)
	defer cancel()
	convs := &flakyConversations{ConversationStore: f.convs, onWrite: cancel}
	cfg := migrationsCfg
	cfg.Concurrency, cfg.PageSize = 1, 10
	m := NewMigrator(f.msgs, convs, f.reports, cfg)

	res, err := m.MigrateLastMessages(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, res.Total)
	require.Equal(t, 2, res.Pending)
	require.Equal(t, "a", res.ResumeAfter)

	report, err := m.LastReport(f.ctx, model.JobLastMessages)
	require.NoError(t, err)
	require.Equal(t, 2, report.Result.Pending)

	// продолжение с ResumeAfter добирает оставшиеся беседы
	ids, err := f.convs.ListIDs(f.ctx, res.ResumeAfter, cfg.PageSize)
	require.NoError(t, err)
	require.Equal(t, []string{"b", "c"}, ids)
}

func TestMigrateLastMessages_CompletedRunHasNoResumePoint(t *testing.T) {
	f := newFixture(t)
	f.conversation(t, "a")
	res, err := NewMigrator(f.msgs, f.convs, f.reports, migrationsCfg).MigrateLastMessages(f.ctx)
	require.NoError(t, err)
	require.Zero(t, res.Pending)
	require.Empty(t, res.ResumeAfter)
}

func TestMigratePermissions_CountsPendingOnCancel(t *testing.T) {
	f := newFixture(t)
	for _, id := range []string{"a", "b", "c"} {
		f.conversation(t, id)
	}
	ctx, cancel := context.WithCancel(f.ctx)
	cancel()
	m := NewMigrator(f.msgs, f.convs, f.reports, migrationsCfg)

	res, err := m.MigratePermissions(ctx, nil, "community", []string{"a", "b", "a", "c"})
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, res.Total)
	require.Equal(t, 3, res.Pending)
}

func TestLastReport_UnknownJob(t *testing.T) {
	f := newFixture(t)
	m := NewMigrator(f.msgs, f.convs, f.reports, migrationsCfg)
	_, err := m.LastReport(f.ctx, "reindex")
	require.ErrorIs(t, err, model.ErrNotFound)
	_, err = m.LastReport(f.ctx, model.JobLastMessages)
	require.ErrorIs(t, err, model.ErrNotFound)
}
