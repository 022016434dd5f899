package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/noah-isme/spire-automator/internal/models"
	appErrors "github.com/noah-isme/spire-automator/pkg/errors"
)

// Kind names an action variant.
type Kind string

const (
	KindAdd  Kind = "ADD"
	KindDrop Kind = "DROP"
	KindEdit Kind = "EDIT"
	KindSwap Kind = "SWAP"
)

// Action is a desired state change gated by conditions.
//
// Satisfies lists the IDs of other actions that become moot once this one
// succeeds. The list is wired by Plan after every action exists.
type Action interface {
	ID() string
	Kind() Kind
	Conditions() []Condition
	AllConditionsMet(snap models.Snapshot) bool
	Perform(ctx context.Context, portal EnrollmentPortal) (bool, error)
	Satisfied() bool
	SetSatisfied(satisfied bool)
	Satisfies() []string
	String() string

	base() *actionBase
}

type actionBase struct {
	id         string
	conditions []Condition
	satisfied  bool
	satisfies  []string
}

func newActionBase(id string, conditions []Condition) actionBase {
	return actionBase{id: id, conditions: append([]Condition(nil), conditions...)}
}

func (b *actionBase) base() *actionBase { return b }

func (b *actionBase) ID() string { return b.id }

func (b *actionBase) Conditions() []Condition {
	return append([]Condition(nil), b.conditions...)
}

// AllConditionsMet is true when there are no conditions or every condition holds.
func (b *actionBase) AllConditionsMet(snap models.Snapshot) bool {
	for _, c := range b.conditions {
		if !c.IsMet(snap) {
			return false
		}
	}
	return true
}

func (b *actionBase) Satisfied() bool { return b.satisfied }

func (b *actionBase) SetSatisfied(satisfied bool) { b.satisfied = satisfied }

func (b *actionBase) Satisfies() []string {
	return append([]string(nil), b.satisfies...)
}

func (b *actionBase) link(id string) {
	for _, existing := range b.satisfies {
		if existing == id {
			return
		}
	}
	b.satisfies = append(b.satisfies, id)
}

func (b *actionBase) describe(head string) string {
	if len(b.conditions) == 0 {
		return head
	}
	names := make([]string, 0, len(b.conditions))
	for _, c := range b.conditions {
		names = append(names, c.Name)
	}
	return head + " under conditions: " + strings.Join(names, "; ")
}

// Add enrolls into a lecture, choosing a discussion when the lecture has any.
type Add struct {
	actionBase
	Lecture    models.Lecture
	Discussion *models.Discussion
}

// NewAdd builds an Add action.
func NewAdd(id string, lecture models.Lecture, discussion *models.Discussion, conditions ...Condition) *Add {
	return &Add{actionBase: newActionBase(id, conditions), Lecture: lecture, Discussion: discussion}
}

func (a *Add) Kind() Kind { return KindAdd }

// Validate checks the payload is complete.
func (a *Add) Validate() error {
	if a.Lecture.ID == "" {
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("action %s: lecture is required", a.id))
	}
	return validateDiscussionChoice(a.id, a.Lecture, a.Discussion)
}

func (a *Add) Perform(ctx context.Context, portal EnrollmentPortal) (bool, error) {
	return portal.Add(ctx, a.Lecture, a.Discussion)
}

func (a *Add) String() string {
	head := "Add " + a.Lecture.Name
	if a.Discussion != nil {
		head += " with " + a.Discussion.String()
	}
	return a.describe(head)
}

// Drop removes an enrolled lecture and its discussion.
type Drop struct {
	actionBase
	Lecture models.Lecture
}

// NewDrop builds a Drop action.
func NewDrop(id string, lecture models.Lecture, conditions ...Condition) *Drop {
	return &Drop{actionBase: newActionBase(id, conditions), Lecture: lecture}
}

func (d *Drop) Kind() Kind { return KindDrop }

// Validate checks the payload is complete.
func (d *Drop) Validate() error {
	if d.Lecture.ID == "" {
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("action %s: lecture is required", d.id))
	}
	return nil
}

func (d *Drop) Perform(ctx context.Context, portal EnrollmentPortal) (bool, error) {
	return portal.Drop(ctx, d.Lecture)
}

func (d *Drop) String() string {
	return d.describe("Drop " + d.Lecture.Name)
}

// Edit switches the enrolled discussion of a lecture while keeping the lecture.
// It always carries a guard so it is never attempted into the discussion already held.
type Edit struct {
	actionBase
	Lecture    models.Lecture
	Discussion models.Discussion
}

// NewEdit builds an Edit action guarded by Editable(lecture, discussion).
func NewEdit(id string, lecture models.Lecture, discussion models.Discussion, conditions ...Condition) *Edit {
	guarded := append([]Condition{Editable(lecture.ID, discussion.ID)}, conditions...)
	return &Edit{actionBase: newActionBase(id, guarded), Lecture: lecture, Discussion: discussion}
}

func (e *Edit) Kind() Kind { return KindEdit }

// Validate checks the payload is complete.
func (e *Edit) Validate() error {
	if e.Lecture.ID == "" {
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("action %s: lecture is required", e.id))
	}
	if e.Discussion.ID == "" {
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("action %s: discussion is required", e.id))
	}
	return validateDiscussionChoice(e.id, e.Lecture, &e.Discussion)
}

func (e *Edit) Perform(ctx context.Context, portal EnrollmentPortal) (bool, error) {
	return portal.Edit(ctx, e.Lecture, e.Discussion)
}

func (e *Edit) String() string {
	return e.describe("Edit " + e.Lecture.Name + " into " + e.Discussion.String())
}

// Swap drops one lecture and adds another in a single portal operation.
type Swap struct {
	actionBase
	DropLecture models.Lecture
	AddLecture  models.Lecture
	Discussion  *models.Discussion
}

// NewSwap builds a Swap action.
func NewSwap(id string, drop, add models.Lecture, discussion *models.Discussion, conditions ...Condition) *Swap {
	return &Swap{actionBase: newActionBase(id, conditions), DropLecture: drop, AddLecture: add, Discussion: discussion}
}

func (s *Swap) Kind() Kind { return KindSwap }

// Validate checks the payload is complete.
func (s *Swap) Validate() error {
	if s.DropLecture.ID == "" || s.AddLecture.ID == "" {
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("action %s: both lectures are required", s.id))
	}
	if s.DropLecture.ID == s.AddLecture.ID {
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("action %s: cannot swap a lecture for itself", s.id))
	}
	return validateDiscussionChoice(s.id, s.AddLecture, s.Discussion)
}

func (s *Swap) Perform(ctx context.Context, portal EnrollmentPortal) (bool, error) {
	return portal.Swap(ctx, s.DropLecture, s.AddLecture, s.Discussion)
}

func (s *Swap) String() string {
	head := "Swap " + s.DropLecture.Name + " for " + s.AddLecture.Name
	if s.Discussion != nil {
		head += " with " + s.Discussion.String()
	}
	return s.describe(head)
}

func validateDiscussionChoice(actionID string, lecture models.Lecture, discussion *models.Discussion) error {
	if discussion == nil {
		if lecture.HasDiscussions() {
			return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("action %s: %s requires a discussion", actionID, lecture.Name))
		}
		return nil
	}
	if lecture.HasDiscussions() {
		if _, ok := lecture.Discussion(discussion.ID); !ok {
			return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("action %s: discussion %s does not belong to %s", actionID, discussion.ID, lecture.Name))
		}
	}
	return nil
}
