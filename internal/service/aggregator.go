package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/chatcore/internal/model"
	"github.com/chatcore/internal/storage"
	"github.com/chatcore/internal/tags"
)

// GroupQuery describes one aggregation request. Start and End are both inclusive.
type GroupQuery struct {
	ConversationIDs []string
	Start, End      time.Time
	Filter          tags.Filter
}

type Aggregator struct {
	messages storage.MessageStore
}

func NewAggregator(messages storage.MessageStore) *Aggregator {
	return &Aggregator{messages: messages}
}

// uniqueIDs drops blanks and repeats, keeping first-occurrence order.
func uniqueIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// GroupByConversation returns the non-deleted messages of each conversation inside the window,
// optionally narrowed by tag. Groups follow the request order and empty groups are omitted,
// so a request that matches nothing yields an empty slice.
// Window width is not checked here; callers bound it.
func (a *Aggregator) GroupByConversation(ctx context.Context, q GroupQuery) ([]model.MessageGroup, error) {
	ids := uniqueIDs(q.ConversationIDs)
	if len(ids) == 0 {
		return nil, fmt.Errorf("no conversation ids: %w", model.ErrNotFound)
	}
	if q.Start.After(q.End) {
		return nil, fmt.Errorf("start %s is after end %s: %w",
			q.Start.Format(time.RFC3339), q.End.Format(time.RFC3339), model.ErrInvalidRange)
	}

	found, err := a.messages.Find(ctx, storage.MessageQuery{
		ConversationIDs: ids,
		Start:           q.Start,
		End:             q.End,
		Tag:             q.Filter.Tag(),
	})
	if err != nil {
		return nil, fmt.Errorf("aggregator.GroupByConversation: %w", err)
	}

	byConversation := make(map[string][]model.Message, len(ids))
	for i := range found {
		m := &found[i]
		// stores may over-select; the window, tag and deleted rules are re-applied here
		if m.Deleted || m.CreatedAt.Before(q.Start) || m.CreatedAt.After(q.End) || !q.Filter.Match(m) {
			continue
		}
		byConversation[m.ConversationID] = append(byConversation[m.ConversationID], *m)
	}

	groups := make([]model.MessageGroup, 0, len(byConversation))
	for _, id := range ids {
		msgs := byConversation[id]
		if len(msgs) == 0 {
			continue
		}
		sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].Before(&msgs[j]) })
		groups = append(groups, model.MessageGroup{ConversationID: id, Messages: msgs})
	}
	return groups, nil
}
