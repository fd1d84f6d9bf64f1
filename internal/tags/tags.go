// Package tags holds the pure tag logic shared by the stores and the aggregator:
// type validation, set normalization and the filter predicate.
package tags

import (
	"fmt"
	"sort"
	"strings"

	"github.com/chatcore/internal/model"
)

// KnownTypes is the closed set of accepted tag types.
var KnownTypes = map[model.TagType]struct{}{
	model.TagTypeSubTopic: {},
}

// TypeNames returns the accepted tag types, sorted, for error messages.
func TypeNames() []string {
	names := make([]string, 0, len(KnownTypes))
	for t := range KnownTypes {
		names = append(names, string(t))
	}
	sort.Strings(names)
	return names
}

// ParseType validates s against KnownTypes.
func ParseType(s string) (model.TagType, error) {
	t := model.TagType(s)
	if _, ok := KnownTypes[t]; !ok {
		return "", fmt.Errorf("%w: invalid tag type %q, available tag types are [%s]",
			model.ErrValidation, s, strings.Join(TypeNames(), ", "))
	}
	return t, nil
}

type key struct {
	id  string
	typ model.TagType
}

// Normalize validates every tag and collapses duplicate (id, type) pairs, keeping the first
// occurrence. The result is never nil.
func Normalize(in []model.Tag) ([]model.Tag, error) {
	out := make([]model.Tag, 0, len(in))
	seen := make(map[key]struct{}, len(in))
	for _, t := range in {
		if strings.TrimSpace(t.ID) == "" {
			return nil, fmt.Errorf("%w: tag id is required", model.ErrValidation)
		}
		if _, err := ParseType(string(t.Type)); err != nil {
			return nil, err
		}
		k := key{id: t.ID, typ: t.Type}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, t)
	}
	return out, nil
}

// Contains reports whether set holds a tag equal to t on both id and type.
func Contains(set []model.Tag, t model.Tag) bool {
	for _, s := range set {
		if s.ID == t.ID && s.Type == t.Type {
			return true
		}
	}
	return false
}

// Filter selects messages by tag. The zero value (no tag) matches everything.
type Filter struct {
	tag *model.Tag
}

// NewFilter builds a filter from optional query parameters. Both id and type must be
// given together; an unknown type is a validation error.
func NewFilter(id, typ string) (Filter, error) {
	id, typ = strings.TrimSpace(id), strings.TrimSpace(typ)
	if id == "" && typ == "" {
		return Filter{}, nil
	}
	if id == "" || typ == "" {
		return Filter{}, fmt.Errorf("%w: tag id and tag type must be given together", model.ErrValidation)
	}
	t, err := ParseType(typ)
	if err != nil {
		return Filter{}, err
	}
	return Filter{tag: &model.Tag{ID: id, Type: t}}, nil
}

// ForTag returns a filter for t, or the match-all filter when t is nil.
func ForTag(t *model.Tag) Filter {
	if t == nil {
		return Filter{}
	}
	c := *t
	return Filter{tag: &c}
}

// Tag returns the filtered tag, nil for the match-all filter.
func (f Filter) Tag() *model.Tag {
	if f.tag == nil {
		return nil
	}
	c := *f.tag
	return &c
}

func (f Filter) IsZero() bool { return f.tag == nil }

// Match reports whether m passes the filter.
func (f Filter) Match(m *model.Message) bool {
	if f.tag == nil {
		return true
	}
	return Contains(m.Tags, *f.tag)
}
