package booking

import (
	"fmt"

	"roombox-service/errs"
	"roombox-service/model"
)

var transitions = map[model.BookingStatus][]model.BookingStatus{
	model.BookingRequested:           {model.BookingAwaitingPayment, model.BookingPaidPendingApproval},
	model.BookingAwaitingPayment:     {model.BookingPaidPendingApproval},
	model.BookingPaidPendingApproval: {model.BookingApproved, model.BookingRejected},
	model.BookingApproved:            nil,
	model.BookingRejected:            nil,
}

// Transition is the only place booking states change. Illegal moves come
// back as a conflict.
func Transition(b *model.Booking, to model.BookingStatus) error {
	if Terminal(b.Status) {
		return errs.NewConflictError(fmt.Sprintf("booking is already %s", b.Status))
	}
	if !CanTransition(b.Status, to) {
		return errs.NewConflictError(fmt.Sprintf("booking cannot move from %s to %s", describe(b.Status), to))
	}
	b.Status = to
	return nil
}

func CanTransition(from, to model.BookingStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition is possible.
func Terminal(s model.BookingStatus) bool {
	next, known := transitions[s]
	return known && len(next) == 0
}

func describe(s model.BookingStatus) model.BookingStatus {
	if s == "" {
		return "unknown"
	}
	return s
}
