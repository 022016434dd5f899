package models

import "strings"

// SeatStatus is the observed seat availability of a section.
type SeatStatus string

// Seat availability observations. Unknown covers both "never observed" and
// "observation failed" and is never treated as open.
const (
	SeatOpen    SeatStatus = "OPEN"
	SeatClosed  SeatStatus = "CLOSED"
	SeatUnknown SeatStatus = "UNKNOWN"
)

// ParseSeatStatus maps a portal observation onto a SeatStatus. Anything unrecognised is Unknown.
func ParseSeatStatus(raw string) SeatStatus {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case string(SeatOpen):
		return SeatOpen
	case string(SeatClosed):
		return SeatClosed
	default:
		return SeatUnknown
	}
}

// IsOpen reports whether seats were positively observed as open.
func (s SeatStatus) IsOpen() bool {
	return s == SeatOpen
}

// IsClosed reports whether seats were positively observed as closed.
func (s SeatStatus) IsClosed() bool {
	return s == SeatClosed
}

// Section is a single enrollable section with its last seat observation.
type Section struct {
	ID    string     `json:"id" mapstructure:"id" validate:"required"`
	Name  string     `json:"name" mapstructure:"name"`
	Seats SeatStatus `json:"seats" mapstructure:"seats" validate:"required,oneof=OPEN CLOSED UNKNOWN"`
}
