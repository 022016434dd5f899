// Package memory provides an in-process portal for dry runs and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/noah-isme/spire-automator/internal/models"
	appErrors "github.com/noah-isme/spire-automator/pkg/errors"
)

// Fixture seeds a Portal. Lectures form the catalog; Schedule and Cart name
// catalog lectures, with the enrolled discussion given after a colon
// ("L1:D2").
type Fixture struct {
	Lectures []FixtureLecture             `mapstructure:"lectures" validate:"dive"`
	Schedule []string                     `mapstructure:"schedule"`
	Cart     []string                     `mapstructure:"cart"`
	Seats    map[string]models.SeatStatus `mapstructure:"seats"`
	Rooms    []models.Room                `mapstructure:"rooms"`
}

// FixtureLecture is one catalog entry.
type FixtureLecture struct {
	ID          string              `mapstructure:"id" validate:"required"`
	Name        string              `mapstructure:"name" validate:"required"`
	Description string              `mapstructure:"description"`
	Discussions []models.Discussion `mapstructure:"discussions"`
}

// Portal simulates the enrollment and housing pages. Enrollment into a
// section succeeds only while its seats are OPEN. Swap is atomic.
type Portal struct {
	mu       sync.Mutex
	catalog  map[string]models.Lecture
	schedule map[string]models.Lecture
	cart     map[string]models.Lecture
	seats    map[string]models.SeatStatus
	rooms    []models.Room
	assigned *models.Room
	faults   []error
}

// New builds a portal from a fixture.
func New(fixture Fixture) (*Portal, error) {
	p := &Portal{
		catalog:  make(map[string]models.Lecture, len(fixture.Lectures)),
		schedule: map[string]models.Lecture{},
		cart:     map[string]models.Lecture{},
		seats:    map[string]models.SeatStatus{},
		rooms:    append([]models.Room(nil), fixture.Rooms...),
	}
	for _, fl := range fixture.Lectures {
		if fl.ID == "" {
			return nil, appErrors.Clone(appErrors.ErrValidation, "fixture lecture without id")
		}
		l := models.NewLecture(fl.ID, fl.Name, fl.Description)
		l.AddDiscussions(fl.Discussions...)
		p.catalog[l.ID] = l
	}
	for id, status := range fixture.Seats {
		p.seats[id] = models.ParseSeatStatus(string(status))
	}
	for _, ref := range fixture.Schedule {
		l, err := p.resolve(ref)
		if err != nil {
			return nil, err
		}
		p.schedule[l.ID] = l
	}
	for _, ref := range fixture.Cart {
		l, err := p.resolve(ref)
		if err != nil {
			return nil, err
		}
		p.cart[l.ID] = l
	}
	return p, nil
}

func (p *Portal) resolve(ref string) (models.Lecture, error) {
	lectureID, discussionID, _ := strings.Cut(ref, ":")
	l, ok := p.catalog[strings.TrimSpace(lectureID)]
	if !ok {
		return models.Lecture{}, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("fixture references unknown lecture %q", lectureID))
	}
	l = l.Clone()
	if discussionID = strings.TrimSpace(discussionID); discussionID != "" {
		d, ok := l.Discussion(discussionID)
		if !ok {
			return models.Lecture{}, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("fixture references unknown discussion %q", ref))
		}
		l.Enrolled = &d
	}
	return l, nil
}

// SetSeat changes the seat availability of a section.
func (p *Portal) SetSeat(sectionID string, status models.SeatStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seats[sectionID] = status
}

// InjectFault makes the next portal call fail with err. Faults queue in order.
func (p *Portal) InjectFault(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.faults = append(p.faults, err)
}

// Assigned returns the room currently assigned, if any.
func (p *Portal) Assigned() (models.Room, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.assigned == nil {
		return models.Room{}, false
	}
	return *p.assigned, true
}

func (p *Portal) fault(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(p.faults) == 0 {
		return nil
	}
	err := p.faults[0]
	p.faults = p.faults[1:]
	return err
}

// CurrentSchedule returns a copy of the enrolled lectures.
func (p *Portal) CurrentSchedule(ctx context.Context) (map[string]models.Lecture, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.fault(ctx); err != nil {
		return nil, err
	}
	return copyLectures(p.schedule), nil
}

// ShoppingCart returns a copy of the cart.
func (p *Portal) ShoppingCart(ctx context.Context) (map[string]models.Lecture, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.fault(ctx); err != nil {
		return nil, err
	}
	return copyLectures(p.cart), nil
}

// SectionStatus returns the seat availability; sections never seeded are Unknown.
func (p *Portal) SectionStatus(ctx context.Context, sectionID string) (models.SeatStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.fault(ctx); err != nil {
		return models.SeatUnknown, err
	}
	if status, ok := p.seats[sectionID]; ok {
		return status, nil
	}
	return models.SeatUnknown, nil
}

// Add enrolls when the lecture exists, is not already scheduled and the chosen seat is open.
func (p *Portal) Add(ctx context.Context, lecture models.Lecture, discussion *models.Discussion) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.fault(ctx); err != nil {
		return false, err
	}
	enrolled, ok := p.admit(lecture.ID, discussion)
	if !ok {
		return false, nil
	}
	p.schedule[enrolled.ID] = enrolled
	delete(p.cart, enrolled.ID)
	return true, nil
}

// Drop removes a scheduled lecture.
func (p *Portal) Drop(ctx context.Context, lecture models.Lecture) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.fault(ctx); err != nil {
		return false, err
	}
	if _, ok := p.schedule[lecture.ID]; !ok {
		return false, nil
	}
	delete(p.schedule, lecture.ID)
	return true, nil
}

// Edit moves a scheduled lecture into another open discussion.
func (p *Portal) Edit(ctx context.Context, lecture models.Lecture, discussion models.Discussion) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.fault(ctx); err != nil {
		return false, err
	}
	current, ok := p.schedule[lecture.ID]
	if !ok || current.IsEnrolledIn(discussion.ID) {
		return false, nil
	}
	d, ok := current.Discussion(discussion.ID)
	if !ok || !p.seats[d.ID].IsOpen() {
		return false, nil
	}
	current.Enrolled = &d
	p.schedule[lecture.ID] = current
	return true, nil
}

// Swap drops one lecture and adds another. Nothing changes unless both halves can apply.
func (p *Portal) Swap(ctx context.Context, drop, add models.Lecture, discussion *models.Discussion) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.fault(ctx); err != nil {
		return false, err
	}
	if _, ok := p.schedule[drop.ID]; !ok {
		return false, nil
	}
	enrolled, ok := p.admit(add.ID, discussion)
	if !ok {
		return false, nil
	}
	delete(p.schedule, drop.ID)
	p.schedule[enrolled.ID] = enrolled
	delete(p.cart, enrolled.ID)
	return true, nil
}

// admit checks whether lectureID can be enrolled with discussion and returns the enrolled copy.
func (p *Portal) admit(lectureID string, discussion *models.Discussion) (models.Lecture, bool) {
	if _, scheduled := p.schedule[lectureID]; scheduled {
		return models.Lecture{}, false
	}
	l, ok := p.catalog[lectureID]
	if !ok {
		return models.Lecture{}, false
	}
	l = l.Clone()
	if !l.HasDiscussions() {
		return l, discussion == nil && p.seats[l.ID] != models.SeatClosed
	}
	if discussion == nil {
		return models.Lecture{}, false
	}
	d, ok := l.Discussion(discussion.ID)
	if !ok || !p.seats[d.ID].IsOpen() {
		return models.Lecture{}, false
	}
	l.Enrolled = &d
	return l, true
}

// SearchRooms filters the seeded rooms by the search's location step.
func (p *Portal) SearchRooms(ctx context.Context, criteria models.RoomSearch) ([]models.Room, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.fault(ctx); err != nil {
		return nil, err
	}
	var out []models.Room
	for _, r := range p.rooms {
		if matchesLocation(criteria, r) {
			out = append(out, r)
		}
	}
	for i := range out {
		out[i].Row = i + 1
	}
	return out, nil
}

// Assign moves the student into room when it still has open space.
func (p *Portal) Assign(ctx context.Context, room models.Room) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.fault(ctx); err != nil {
		return false, err
	}
	for i := range p.rooms {
		if p.rooms[i].Key() != room.Key() {
			continue
		}
		if p.rooms[i].OpenSpaces < 1 {
			return false, nil
		}
		if p.assigned != nil {
			for j := range p.rooms {
				if p.rooms[j].Key() == p.assigned.Key() {
					p.rooms[j].OpenSpaces++
				}
			}
		}
		p.rooms[i].OpenSpaces--
		assigned := p.rooms[i]
		p.assigned = &assigned
		return true, nil
	}
	return false, nil
}

func matchesLocation(criteria models.RoomSearch, room models.Room) bool {
	value := strings.TrimSpace(criteria.LocationValue)
	if value == "" {
		return true
	}
	switch criteria.Location {
	case models.LocationBuilding:
		return strings.EqualFold(room.Building, value)
	case models.LocationArea:
		area := room.Area
		if area == "" {
			area = models.ResidentialArea(room.Building)
		}
		return strings.EqualFold(area, value)
	default:
		return true
	}
}

func copyLectures(in map[string]models.Lecture) map[string]models.Lecture {
	out := make(map[string]models.Lecture, len(in))
	for id, l := range in {
		out[id] = l.Clone()
	}
	return out
}

// Schedule returns the scheduled lectures ordered by identifier.
func (p *Portal) Schedule() []models.Lecture {
	p.mu.Lock()
	defer p.mu.Unlock()
	list := make([]models.Lecture, 0, len(p.schedule))
	for _, l := range p.schedule {
		list = append(list, l.Clone())
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list
}
