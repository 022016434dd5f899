package engine

import (
	"sort"
	"strings"

	"github.com/noah-isme/spire-automator/internal/models"
)

// Condition is a named predicate over a snapshot. It holds no state of its own and is
// evaluated fresh on every pass.
type Condition struct {
	Name     string
	Sections []string

	eval func(models.Snapshot) bool
}

// NewCondition builds a condition. sections lists the seat observations the predicate reads.
func NewCondition(name string, eval func(models.Snapshot) bool, sections ...string) Condition {
	return Condition{Name: name, Sections: sections, eval: eval}
}

// IsMet evaluates the condition against snap. A condition without a predicate is never met.
func (c Condition) IsMet(snap models.Snapshot) bool {
	if c.eval == nil {
		return false
	}
	return c.eval(snap)
}

func (c Condition) String() string {
	return c.Name
}

// SectionOpen is met only when the section was observed open; Unknown does not count.
func SectionOpen(sectionID string) Condition {
	return NewCondition("section "+sectionID+" is open", func(s models.Snapshot) bool {
		return s.SeatStatus(sectionID).IsOpen()
	}, sectionID)
}

// SectionClosed is met only when the section was observed closed.
func SectionClosed(sectionID string) Condition {
	return NewCondition("section "+sectionID+" is closed", func(s models.Snapshot) bool {
		return s.SeatStatus(sectionID).IsClosed()
	}, sectionID)
}

// LectureEnrolled is met when the lecture is on the current schedule.
func LectureEnrolled(lectureID string) Condition {
	return NewCondition("lecture "+lectureID+" is enrolled", func(s models.Snapshot) bool {
		_, ok := s.ScheduledLecture(lectureID)
		return ok
	})
}

// LectureNotEnrolled is met when the lecture is absent from the current schedule.
func LectureNotEnrolled(lectureID string) Condition {
	return NewCondition("lecture "+lectureID+" is not enrolled", func(s models.Snapshot) bool {
		_, ok := s.ScheduledLecture(lectureID)
		return !ok
	})
}

// LectureInCart is met when the lecture is in the shopping cart.
func LectureInCart(lectureID string) Condition {
	return NewCondition("lecture "+lectureID+" is in cart", func(s models.Snapshot) bool {
		_, ok := s.CartLecture(lectureID)
		return ok
	})
}

// DiscussionEnrolled is met when the lecture is scheduled with the given discussion.
func DiscussionEnrolled(lectureID, discussionID string) Condition {
	return NewCondition("discussion "+discussionID+" of "+lectureID+" is enrolled", func(s models.Snapshot) bool {
		l, ok := s.ScheduledLecture(lectureID)
		return ok && l.IsEnrolledIn(discussionID)
	})
}

// DiscussionNotEnrolled is met when the lecture is not scheduled with the given discussion,
// including when the lecture is not scheduled at all.
func DiscussionNotEnrolled(lectureID, discussionID string) Condition {
	return NewCondition("discussion "+discussionID+" of "+lectureID+" is not enrolled", func(s models.Snapshot) bool {
		l, ok := s.ScheduledLecture(lectureID)
		return !ok || !l.IsEnrolledIn(discussionID)
	})
}

// Editable is met when the lecture is scheduled and its enrolled discussion differs from discussionID.
func Editable(lectureID, discussionID string) Condition {
	return NewCondition("lecture "+lectureID+" can switch to "+discussionID, func(s models.Snapshot) bool {
		l, ok := s.ScheduledLecture(lectureID)
		return ok && !l.IsEnrolledIn(discussionID)
	})
}

// Not negates c.
func Not(c Condition) Condition {
	return NewCondition("not ("+c.Name+")", func(s models.Snapshot) bool {
		return !c.IsMet(s)
	}, c.Sections...)
}

// AllOf is met when every condition is met.
func AllOf(conditions ...Condition) Condition {
	return NewCondition(joinNames(conditions, " and "), func(s models.Snapshot) bool {
		for _, c := range conditions {
			if !c.IsMet(s) {
				return false
			}
		}
		return true
	}, unionSections(conditions)...)
}

// AnyOf is met when at least one condition is met.
func AnyOf(conditions ...Condition) Condition {
	return NewCondition(joinNames(conditions, " or "), func(s models.Snapshot) bool {
		for _, c := range conditions {
			if c.IsMet(s) {
				return true
			}
		}
		return false
	}, unionSections(conditions)...)
}

func joinNames(conditions []Condition, sep string) string {
	names := make([]string, 0, len(conditions))
	for _, c := range conditions {
		names = append(names, c.Name)
	}
	return "(" + strings.Join(names, sep) + ")"
}

func unionSections(conditions []Condition) []string {
	seen := map[string]struct{}{}
	for _, c := range conditions {
		for _, id := range c.Sections {
			seen[id] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
