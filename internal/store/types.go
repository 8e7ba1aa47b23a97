package store

import (
	"errors"

	"gorm.io/gorm"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = gorm.ErrRecordNotFound

	// ErrAmbiguousState means the tables hold a shape that should be
	// impossible, e.g. zero or several occupancy rows where exactly one is
	// expected. The operation is aborted without mutation.
	ErrAmbiguousState = errors.New("ambiguous store state")

	// ErrSlotTaken is returned when inserting an occupancy (or pre-reservation)
	// for a resource that already has one.
	ErrSlotTaken = errors.New("reservation slot already taken")

	// ErrAuctionExists is returned when a resource already hosts an auction.
	ErrAuctionExists = errors.New("auction already exists")

	// ErrStaleWrite is returned when a conditional update lost a race.
	ErrStaleWrite = errors.New("row changed concurrently")
)

// Participant is a bidder and the highest total they reached.
type Participant struct {
	UserID    string
	BestTotal int64
}

// Counts summarizes the live rows, used at startup.
type Counts struct {
	Occupancies     int64
	PreReservations int64
	Auctions        int64
	Pending         int64 // settlements not yet delivered
}
