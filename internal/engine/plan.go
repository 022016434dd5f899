package engine

import (
	"fmt"
	"sort"

	appErrors "github.com/noah-isme/spire-automator/pkg/errors"
)

type validatable interface {
	Validate() error
}

// Plan is the ordered set of pending actions plus the satisfaction edges between them.
//
// Plans are built in two phases: Add every action first, then wire edges with
// Link or Compete using action IDs. Edges are plain IDs so mutual references
// never need both actions to exist at construction time.
type Plan struct {
	actions []Action
	index   map[string]int
}

// NewPlan returns an empty plan.
func NewPlan() *Plan {
	return &Plan{index: make(map[string]int)}
}

// Add appends actions in order. IDs must be unique and payloads valid.
func (p *Plan) Add(actions ...Action) error {
	for _, a := range actions {
		if a == nil {
			return appErrors.Clone(appErrors.ErrValidation, "nil action")
		}
		if a.ID() == "" {
			return appErrors.Clone(appErrors.ErrValidation, "action id is required")
		}
		if _, exists := p.index[a.ID()]; exists {
			return appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("duplicate action id %q", a.ID()))
		}
		if v, ok := a.(validatable); ok {
			if err := v.Validate(); err != nil {
				return err
			}
		}
		p.index[a.ID()] = len(p.actions)
		p.actions = append(p.actions, a)
	}
	return nil
}

// Link records that a successful from also satisfies every action in to.
func (p *Plan) Link(from string, to ...string) error {
	source, ok := p.Get(from)
	if !ok {
		return appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("unknown action %q", from))
	}
	for _, id := range to {
		if id == from {
			return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("action %q cannot satisfy itself", from))
		}
		if _, ok := p.index[id]; !ok {
			return appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("unknown action %q", id))
		}
	}
	for _, id := range to {
		source.base().link(id)
	}
	return nil
}

// Compete links every listed action to every other: whichever succeeds first satisfies the rest.
func (p *Plan) Compete(ids ...string) error {
	for _, from := range ids {
		others := make([]string, 0, len(ids)-1)
		for _, to := range ids {
			if to != from {
				others = append(others, to)
			}
		}
		if err := p.Link(from, others...); err != nil {
			return err
		}
	}
	return nil
}

// Get returns a pending action by ID.
func (p *Plan) Get(id string) (Action, bool) {
	i, ok := p.index[id]
	if !ok {
		return nil, false
	}
	return p.actions[i], true
}

// Pending returns the pending actions in insertion order.
func (p *Plan) Pending() []Action {
	return append([]Action(nil), p.actions...)
}

// Len returns the number of pending actions.
func (p *Plan) Len() int {
	return len(p.actions)
}

// SatisfyOthers marks every action a satisfies as satisfied and returns the ones that changed.
// Targets already pruned are skipped.
func (p *Plan) SatisfyOthers(a Action) []Action {
	var changed []Action
	for _, id := range a.Satisfies() {
		target, ok := p.Get(id)
		if !ok || target.Satisfied() {
			continue
		}
		target.SetSatisfied(true)
		changed = append(changed, target)
	}
	return changed
}

// Prune removes satisfied actions, keeping the order of the rest, and returns the removed ones.
func (p *Plan) Prune() []Action {
	var removed []Action
	kept := p.actions[:0]
	for _, a := range p.actions {
		if a.Satisfied() {
			removed = append(removed, a)
			continue
		}
		kept = append(kept, a)
	}
	for i := len(kept); i < len(p.actions); i++ {
		p.actions[i] = nil
	}
	p.actions = kept
	p.index = make(map[string]int, len(kept))
	for i, a := range kept {
		p.index[a.ID()] = i
	}
	return removed
}

// WatchedSections returns the seat IDs referenced by conditions of pending actions.
func (p *Plan) WatchedSections() []string {
	seen := map[string]struct{}{}
	for _, a := range p.actions {
		for _, c := range a.Conditions() {
			for _, id := range c.Sections {
				seen[id] = struct{}{}
			}
		}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
