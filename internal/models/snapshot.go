package models

import (
	"sort"
	"time"
)

// Snapshot is one observation of the portal: schedule, cart and seat availability.
// Generation increases on every refresh so consumers can tell snapshots apart.
type Snapshot struct {
	Generation uint64                `json:"generation"`
	TakenAt    time.Time             `json:"taken_at"`
	Schedule   map[string]Lecture    `json:"schedule"`
	Cart       map[string]Lecture    `json:"cart"`
	Seats      map[string]SeatStatus `json:"seats"`
}

// NewSnapshot returns an empty snapshot with initialised maps.
func NewSnapshot() Snapshot {
	return Snapshot{
		Schedule: map[string]Lecture{},
		Cart:     map[string]Lecture{},
		Seats:    map[string]SeatStatus{},
	}
}

// SeatStatus returns the observed availability of a section, Unknown when never observed.
func (s Snapshot) SeatStatus(sectionID string) SeatStatus {
	if status, ok := s.Seats[sectionID]; ok {
		return status
	}
	return SeatUnknown
}

// ScheduledLecture looks up a lecture on the current schedule.
func (s Snapshot) ScheduledLecture(id string) (Lecture, bool) {
	l, ok := s.Schedule[id]
	return l, ok
}

// CartLecture looks up a lecture in the shopping cart.
func (s Snapshot) CartLecture(id string) (Lecture, bool) {
	l, ok := s.Cart[id]
	return l, ok
}

// ScheduleList returns scheduled lectures ordered by identifier.
func (s Snapshot) ScheduleList() []Lecture {
	return sortedLectures(s.Schedule)
}

// CartList returns cart lectures ordered by identifier.
func (s Snapshot) CartList() []Lecture {
	return sortedLectures(s.Cart)
}

func sortedLectures(m map[string]Lecture) []Lecture {
	list := make([]Lecture, 0, len(m))
	for _, l := range m {
		list = append(list, l)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list
}
