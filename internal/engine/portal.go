package engine

import (
	"context"

	"github.com/noah-isme/spire-automator/internal/models"
)

// EnrollmentPortal is the read/write facade over the remote enrollment pages.
//
// Implementations surface faults as errors from pkg/errors: transient faults
// (timeouts, stale pages) are retried on the next cycle, AUTH_LOST and
// PORTAL_UNRECOGNIZED end the run. A false result with a nil error means the
// portal did not confirm the change.
type EnrollmentPortal interface {
	CurrentSchedule(ctx context.Context) (map[string]models.Lecture, error)
	ShoppingCart(ctx context.Context) (map[string]models.Lecture, error)
	SectionStatus(ctx context.Context, sectionID string) (models.SeatStatus, error)
	Add(ctx context.Context, lecture models.Lecture, discussion *models.Discussion) (bool, error)
	Drop(ctx context.Context, lecture models.Lecture) (bool, error)
	Edit(ctx context.Context, lecture models.Lecture, discussion models.Discussion) (bool, error)
	// Swap drops one lecture and adds another as a single portal operation. A
	// failed add must not leave the drop applied.
	Swap(ctx context.Context, drop, add models.Lecture, discussion *models.Discussion) (bool, error)
}

// HousingPortal searches rooms and requests assignments.
type HousingPortal interface {
	SearchRooms(ctx context.Context, criteria models.RoomSearch) ([]models.Room, error)
	Assign(ctx context.Context, room models.Room) (bool, error)
}

// Portal covers both automators.
type Portal interface {
	EnrollmentPortal
	HousingPortal
}
