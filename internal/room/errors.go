package room

import (
	"errors"

	"venue-backend/internal/store"
)

var (
	// ErrResourceBusy is returned when checking in to an occupied room.
	ErrResourceBusy = errors.New("this room is already occupied")

	// ErrAlreadyReserved is returned when the room already has a
	// pre-reservation.
	ErrAlreadyReserved = errors.New("this room is already reserved")

	// ErrInvalidSlots is returned for a slot count outside 1..max.
	ErrInvalidSlots = errors.New("invalid number of slots")
)

// IsUserError reports whether err is a rejection meant for the user.
func IsUserError(err error) bool {
	return errors.Is(err, ErrResourceBusy) ||
		errors.Is(err, ErrAlreadyReserved) ||
		errors.Is(err, ErrInvalidSlots)
}

// IsAmbiguous reports whether err signals inconsistent stored state.
func IsAmbiguous(err error) bool {
	return errors.Is(err, store.ErrAmbiguousState)
}
