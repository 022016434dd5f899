package engine

import (
	"time"

	"github.com/noah-isme/spire-automator/internal/models"
)

// Observer receives enrollment scheduler events. Calls happen on the scheduler goroutine.
type Observer interface {
	CycleStarted(cycle int)
	Refreshed(snap models.Snapshot)
	ActionAttempted(cycle int, action Action, ok bool, err error, elapsed time.Duration)
	ActionSatisfied(cycle int, action Action, by Action)
	CycleFinished(cycle int, pending []Action)
}

// HousingObserver receives housing loop events.
type HousingObserver interface {
	SearchCompleted(cycle int, search models.RoomSearch, results int, err error, elapsed time.Duration)
	RoomAssigned(cycle int, room models.Room, ok bool, err error)
}

// NopObserver ignores every event.
type NopObserver struct{}

func (NopObserver) CycleStarted(int) {}
func (NopObserver) Refreshed(models.Snapshot) {}
func (NopObserver) ActionAttempted(int, Action, bool, error, time.Duration) {}
func (NopObserver) ActionSatisfied(int, Action, Action) {}
func (NopObserver) CycleFinished(int, []Action) {}
func (NopObserver) SearchCompleted(int, models.RoomSearch, int, error, time.Duration) {}
func (NopObserver) RoomAssigned(int, models.Room, bool, error) {}

// Observers fans events out to several observers in order.
type Observers []Observer

func (o Observers) CycleStarted(cycle int) {
	for _, ob := range o {
		ob.CycleStarted(cycle)
	}
}

func (o Observers) Refreshed(snap models.Snapshot) {
	for _, ob := range o {
		ob.Refreshed(snap)
	}
}

func (o Observers) ActionAttempted(cycle int, action Action, ok bool, err error, elapsed time.Duration) {
	for _, ob := range o {
		ob.ActionAttempted(cycle, action, ok, err, elapsed)
	}
}

func (o Observers) ActionSatisfied(cycle int, action Action, by Action) {
	for _, ob := range o {
		ob.ActionSatisfied(cycle, action, by)
	}
}

func (o Observers) CycleFinished(cycle int, pending []Action) {
	for _, ob := range o {
		ob.CycleFinished(cycle, pending)
	}
}

// HousingObservers fans housing events out to several observers in order.
type HousingObservers []HousingObserver

func (o HousingObservers) SearchCompleted(cycle int, search models.RoomSearch, results int, err error, elapsed time.Duration) {
	for _, ob := range o {
		ob.SearchCompleted(cycle, search, results, err, elapsed)
	}
}

func (o HousingObservers) RoomAssigned(cycle int, room models.Room, ok bool, err error) {
	for _, ob := range o {
		ob.RoomAssigned(cycle, room, ok, err)
	}
}
