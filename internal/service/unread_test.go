package service

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chatcore/internal/model"
)

func TestUnreadCounts_MarkerScenario(t *testing.T) {
	f := newFixture(t)
	f.conversation(t, "C1", member("U", ptr(at(2))), member("V", nil))
	f.message(t, "C1", "V", at(1))
	f.message(t, "C1", "V", at(2))
	f.message(t, "C1", "V", at(3))
	f.message(t, "C1", "U", at(4))
	u := NewUnreadCounter(f.msgs, f.convs)

	counts, err := u.UnreadCounts(f.ctx, "U", []string{"C1"})
	require.NoError(t, err)
	require.Equal(t, []model.UnreadCount{{ConversationID: "C1", UserID: "U", Count: 1}}, counts)
}

func TestUnreadCounts_NoMarkerCountsDeleted(t *testing.T) {
	f := newFixture(t)
	f.conversation(t, "C1", member("U", nil), member("V", nil))
	f.message(t, "C1", "V", at(1))
	gone := f.message(t, "C1", "V", at(2))
	f.deleted(t, gone)
	f.message(t, "C1", "U", at(3))
	u := NewUnreadCounter(f.msgs, f.convs)

	counts, err := u.UnreadCounts(f.ctx, "U", []string{"C1"})
	require.NoError(t, err)
	require.Equal(t, 2, counts[0].Count)
}

func TestUnreadCounts_MarkerAfterLatestIsZero(t *testing.T) {
	f := newFixture(t)
	f.conversation(t, "C1", member("U", ptr(at(10))), member("V", nil))
	f.message(t, "C1", "V", at(1))
	f.message(t, "C1", "V", at(9))
	u := NewUnreadCounter(f.msgs, f.convs)

	counts, err := u.UnreadCounts(f.ctx, "U", []string{"C1"})
	require.NoError(t, err)
	require.Zero(t, counts[0].Count)
}

func TestUnreadCounts_OneEntryPerInputInOrder(t *testing.T) {
	f := newFixture(t)
	f.conversation(t, "C1", member("U", nil))
	f.conversation(t, "C2", member("U", nil))
	f.message(t, "C1", "V", at(1))
	f.message(t, "C2", "V", at(1))
	f.message(t, "C2", "V", at(2))
	u := NewUnreadCounter(f.msgs, f.convs)

	counts, err := u.UnreadCounts(f.ctx, "U", []string{"C2", "missing", "C1", "C2"})
	require.NoError(t, err)
	require.Equal(t, []model.UnreadCount{
		{ConversationID: "C2", UserID: "U", Count: 2},
		{ConversationID: "missing", UserID: "U", Count: 0},
		{ConversationID: "C1", UserID: "U", Count: 1},
		{ConversationID: "C2", UserID: "U", Count: 2},
	}, counts)

	counts, err = u.UnreadCounts(f.ctx, "U", nil)
	require.NoError(t, err)
	require.Empty(t, counts)
}

func TestUnreadCounts_RequiresUser(t *testing.T) {
	f := newFixture(t)
	_, err := NewUnreadCounter(f.msgs, f.convs).UnreadCounts(f.ctx, "", []string{"C1"})
	require.ErrorIs(t, err, model.ErrValidation)
}
