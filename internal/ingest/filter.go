package ingest

import "github.com/r03el/photograbber/internal/queue/domain"

// GroupFilter restricts ingest to a set of monitored chat groups. A nil or
// disabled filter admits every group.
type GroupFilter struct {
	enabled bool
	groups  map[int64]struct{}
}

// NewGroupFilter builds a filter over the given group IDs
func NewGroupFilter(enabled bool, groups []int64) *GroupFilter {
	f := &GroupFilter{
		enabled: enabled,
		groups:  make(map[int64]struct{}, len(groups)),
	}
	for _, id := range groups {
		f.groups[id] = struct{}{}
	}
	return f
}

// Allows reports whether submissions from groupID should be queued
func (f *GroupFilter) Allows(groupID int64) bool {
	if f == nil || !f.enabled {
		return true
	}
	_, ok := f.groups[groupID]
	return ok
}

// Admits applies Allows to a submission's origin group
func (f *GroupFilter) Admits(sub domain.Submission) bool {
	return f.Allows(sub.OriginGroupID)
}
