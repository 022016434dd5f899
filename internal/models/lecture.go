package models

import (
	"fmt"
	"sort"
)

// Discussion is a sub-section of a lecture requiring separate enrollment.
type Discussion struct {
	ID          string `json:"id" mapstructure:"id"`
	Name        string `json:"name" mapstructure:"name"`
	Description string `json:"description" mapstructure:"description"`
	Section     string `json:"section" mapstructure:"section"`
}

// Equal compares discussions by identifier only; display text may differ between pages.
func (d Discussion) Equal(other Discussion) bool {
	return d.ID == other.ID
}

func (d Discussion) String() string {
	if d.Section == "" {
		return fmt.Sprintf("%s (%s)", d.Name, d.ID)
	}
	return fmt.Sprintf("%s-%s (%s)", d.Name, d.Section, d.ID)
}

// Lecture is a top-level course offering, optionally with discussions.
type Lecture struct {
	ID          string                `json:"id"`
	Name        string                `json:"name"`
	Description string                `json:"description"`
	Discussions map[string]Discussion `json:"discussions,omitempty"`
	Enrolled    *Discussion           `json:"enrolled_discussion,omitempty"`
}

// NewLecture builds a lecture with an empty discussion set.
func NewLecture(id, name, description string) Lecture {
	return Lecture{ID: id, Name: name, Description: description, Discussions: map[string]Discussion{}}
}

// HasDiscussions reports whether enrolling requires choosing a discussion.
func (l Lecture) HasDiscussions() bool {
	return len(l.Discussions) > 0
}

// AddDiscussions merges discussions keyed by identifier.
func (l *Lecture) AddDiscussions(discussions ...Discussion) {
	if l.Discussions == nil {
		l.Discussions = make(map[string]Discussion, len(discussions))
	}
	for _, d := range discussions {
		if d.ID == "" {
			continue
		}
		l.Discussions[d.ID] = d
	}
}

// Discussion returns the discussion with the given identifier.
func (l Lecture) Discussion(id string) (Discussion, bool) {
	d, ok := l.Discussions[id]
	return d, ok
}

// IsEnrolledIn reports whether the currently enrolled discussion has the given identifier.
func (l Lecture) IsEnrolledIn(discussionID string) bool {
	return l.Enrolled != nil && l.Enrolled.ID == discussionID
}

// SortedDiscussions returns discussions ordered by identifier for stable output.
func (l Lecture) SortedDiscussions() []Discussion {
	list := make([]Discussion, 0, len(l.Discussions))
	for _, d := range l.Discussions {
		list = append(list, d)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list
}

// Clone deep-copies the lecture so snapshots never share mutable state.
func (l Lecture) Clone() Lecture {
	out := l
	if l.Discussions != nil {
		out.Discussions = make(map[string]Discussion, len(l.Discussions))
		for k, v := range l.Discussions {
			out.Discussions[k] = v
		}
	}
	if l.Enrolled != nil {
		enrolled := *l.Enrolled
		out.Enrolled = &enrolled
	}
	return out
}

func (l Lecture) String() string {
	s := fmt.Sprintf("%s %s (%s)", l.Name, l.Description, l.ID)
	if l.Enrolled != nil {
		s += " with " + l.Enrolled.String()
	}
	return s
}
