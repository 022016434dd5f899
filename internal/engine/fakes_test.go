package engine

import (
	"context"
	"time"

	"github.com/noah-isme/spire-automator/internal/models"
)

type fakePortal struct {
	schedule map[string]models.Lecture
	cart     map[string]models.Lecture

	// seats scripts successive observations per section; the last value repeats.
	seats     map[string][]models.SeatStatus
	seatErrs  map[string]error
	seatCalls map[string]int

	// refreshErrs is consumed one entry per CurrentSchedule call.
	refreshErrs []error
	refreshes   int

	results map[string]bool
	errs    map[string]error
	calls   []string

	// partialSwap applies the drop half of a swap the portal reports as failed.
	partialSwap bool

	rooms       map[string][]models.Room
	searchErrs  []error
	searches    []string
	assigned    []models.Room
	assignFails map[string]bool
}

func newFakePortal() *fakePortal {
	return &fakePortal{
		schedule:    map[string]models.Lecture{},
		cart:        map[string]models.Lecture{},
		seats:       map[string][]models.SeatStatus{},
		seatErrs:    map[string]error{},
		seatCalls:   map[string]int{},
		results:     map[string]bool{},
		errs:        map[string]error{},
		rooms:       map[string][]models.Room{},
		assignFails: map[string]bool{},
	}
}

func (f *fakePortal) CurrentSchedule(context.Context) (map[string]models.Lecture, error) {
	f.refreshes++
	if len(f.refreshErrs) > 0 {
		err := f.refreshErrs[0]
		f.refreshErrs = f.refreshErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return copyLectures(f.schedule), nil
}

func (f *fakePortal) ShoppingCart(context.Context) (map[string]models.Lecture, error) {
	return copyLectures(f.cart), nil
}

func (f *fakePortal) SectionStatus(_ context.Context, id string) (models.SeatStatus, error) {
	n := f.seatCalls[id]
	f.seatCalls[id]++
	if err := f.seatErrs[id]; err != nil {
		return models.SeatUnknown, err
	}
	script := f.seats[id]
	if len(script) == 0 {
		return models.SeatUnknown, nil
	}
	if n >= len(script) {
		return script[len(script)-1], nil
	}
	return script[n], nil
}

func (f *fakePortal) outcome(key string) (bool, error) {
	f.calls = append(f.calls, key)
	if err := f.errs[key]; err != nil {
		return false, err
	}
	if ok, exists := f.results[key]; exists {
		return ok, nil
	}
	return true, nil
}

func (f *fakePortal) Add(_ context.Context, lecture models.Lecture, discussion *models.Discussion) (bool, error) {
	ok, err := f.outcome("add:" + lecture.ID)
	if ok {
		enrolled := lecture.Clone()
		if discussion != nil {
			d := *discussion
			enrolled.Enrolled = &d
		}
		f.schedule[lecture.ID] = enrolled
		delete(f.cart, lecture.ID)
	}
	return ok, err
}

func (f *fakePortal) Drop(_ context.Context, lecture models.Lecture) (bool, error) {
	ok, err := f.outcome("drop:" + lecture.ID)
	if ok {
		delete(f.schedule, lecture.ID)
	}
	return ok, err
}

func (f *fakePortal) Edit(_ context.Context, lecture models.Lecture, discussion models.Discussion) (bool, error) {
	ok, err := f.outcome("edit:" + lecture.ID + ">" + discussion.ID)
	if ok {
		if l, exists := f.schedule[lecture.ID]; exists {
			d := discussion
			l.Enrolled = &d
			f.schedule[lecture.ID] = l
		}
	}
	return ok, err
}

func (f *fakePortal) Swap(_ context.Context, drop, add models.Lecture, discussion *models.Discussion) (bool, error) {
	ok, err := f.outcome("swap:" + drop.ID + ">" + add.ID)
	if ok {
		delete(f.schedule, drop.ID)
		enrolled := add.Clone()
		if discussion != nil {
			d := *discussion
			enrolled.Enrolled = &d
		}
		f.schedule[add.ID] = enrolled
	} else if f.partialSwap {
		delete(f.schedule, drop.ID)
	}
	return ok, err
}

func (f *fakePortal) SearchRooms(_ context.Context, criteria models.RoomSearch) ([]models.Room, error) {
	f.searches = append(f.searches, criteria.Name)
	if len(f.searchErrs) > 0 {
		err := f.searchErrs[0]
		f.searchErrs = f.searchErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return append([]models.Room(nil), f.rooms[criteria.Name]...), nil
}

func (f *fakePortal) Assign(_ context.Context, room models.Room) (bool, error) {
	if f.assignFails[room.Key()] {
		return false, nil
	}
	f.assigned = append(f.assigned, room)
	return true, nil
}

// recordingAction logs its perform calls into a shared slice.
type recordingAction struct {
	actionBase
	log    *[]string
	result bool
	err    error
}

func newRecordingAction(id string, log *[]string, conditions ...Condition) *recordingAction {
	return &recordingAction{actionBase: newActionBase(id, conditions), log: log, result: true}
}

func (r *recordingAction) Kind() Kind { return KindAdd }

func (r *recordingAction) Perform(context.Context, EnrollmentPortal) (bool, error) {
	*r.log = append(*r.log, r.id)
	return r.result, r.err
}

func (r *recordingAction) String() string { return r.describe("record " + r.id) }

type fakeClock struct {
	now   time.Time
	slept []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 4, 1, 7, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(_ context.Context, d time.Duration) error {
	c.slept = append(c.slept, d)
	c.now = c.now.Add(d)
	return nil
}

type countingObserver struct {
	NopObserver
	attempts  []string
	satisfied map[string]string
	finished  []int
}

func (o *countingObserver) ActionAttempted(_ int, a Action, _ bool, _ error, _ time.Duration) {
	o.attempts = append(o.attempts, a.ID())
}

func (o *countingObserver) ActionSatisfied(_ int, a Action, by Action) {
	if o.satisfied == nil {
		o.satisfied = map[string]string{}
	}
	o.satisfied[a.ID()] = by.ID()
}

func (o *countingObserver) CycleFinished(_ int, pending []Action) {
	o.finished = append(o.finished, len(pending))
}

func lectureWithDiscussions(id, name string, discussionIDs ...string) models.Lecture {
	l := models.NewLecture(id, name, name+" lecture")
	for _, d := range discussionIDs {
		l.AddDiscussions(models.Discussion{ID: d, Name: name, Section: d})
	}
	return l
}
