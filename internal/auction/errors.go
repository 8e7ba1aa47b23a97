package auction

import (
	"errors"
	"fmt"

	"venue-backend/internal/parse"
)

// Validation errors. They are surfaced to the initiating user verbatim and
// never leave state mutated.
var (
	ErrNoActiveAuction      = errors.New("there is no auction running here")
	ErrDuplicateAuction     = errors.New("an auction is already running here")
	ErrSelfOutbid           = errors.New("you are already the highest bidder")
	ErrBidTooLow            = errors.New("bid must be higher than the current bid")
	ErrBidIncrementTooSmall = errors.New("bid must raise the current bid by at least the bid increment")
	ErrBidTooHigh           = errors.New("bid is too far above the current bid")
	ErrNotReady             = errors.New("this topic is not marked ready for an auction")
	ErrNotInProgress        = errors.New("this auction is not in progress")
	ErrInvalidAuction       = errors.New("invalid auction parameters")
)

// BidRejection explains a rejected custom bid. It unwraps to one of
// ErrBidTooLow, ErrBidIncrementTooSmall or ErrBidTooHigh.
type BidRejection struct {
	Reason    error
	Amount    int64
	Current   int64
	Increment int64
	Max       int64
}

func (r *BidRejection) Error() string {
	amount, current := parse.FormatAmount(r.Amount), parse.FormatAmount(r.Current)
	switch r.Reason {
	case ErrBidTooLow:
		return fmt.Sprintf("A bid of %s is not higher than the current bid of %s.", amount, current)
	case ErrBidIncrementTooSmall:
		return fmt.Sprintf("A bid of %s must raise the current bid of %s by at least %s.",
			amount, current, parse.FormatAmount(r.Increment))
	case ErrBidTooHigh:
		return fmt.Sprintf("A bid of %s is too high; the most you can bid right now is %s.",
			amount, parse.FormatAmount(r.Max))
	default:
		return r.Reason.Error()
	}
}

func (r *BidRejection) Unwrap() error { return r.Reason }

var userErrors = []error{
	parse.ErrParse,
	ErrNoActiveAuction,
	ErrDuplicateAuction,
	ErrSelfOutbid,
	ErrBidTooLow,
	ErrBidIncrementTooSmall,
	ErrBidTooHigh,
	ErrNotReady,
	ErrNotInProgress,
	ErrInvalidAuction,
}

// IsUserError reports whether err is a rejection meant for the user rather
// than a failure.
func IsUserError(err error) bool {
	for _, target := range userErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
