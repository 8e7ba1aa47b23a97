package auction

import "context"

// Decision is the outcome of a confirmation step.
type Decision int

const (
	Denied Decision = iota
	Confirmed
	TimedOut
)

func (d Decision) String() string {
	switch d {
	case Confirmed:
		return "confirmed"
	case TimedOut:
		return "timed_out"
	default:
		return "denied"
	}
}

// Confirmer asks userID to confirm prompt for resource. Implementations must
// return TimedOut once ctx is done.
type Confirmer interface {
	Confirm(ctx context.Context, resource, userID, prompt string) (Decision, error)
}

// ConfirmFunc adapts a function to Confirmer.
type ConfirmFunc func(ctx context.Context, resource, userID, prompt string) (Decision, error)

func (f ConfirmFunc) Confirm(ctx context.Context, resource, userID, prompt string) (Decision, error) {
	return f(ctx, resource, userID, prompt)
}

// Preconfirmed returns a Confirmer that answers d without asking, for callers
// that collected the confirmation up front.
func Preconfirmed(d Decision) Confirmer {
	return ConfirmFunc(func(context.Context, string, string, string) (Decision, error) {
		return d, nil
	})
}
