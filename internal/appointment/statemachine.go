package appointment

import (
	"time"
)

type guard func(a Appointment, actor Actor) bool

func privileged(_ Appointment, actor Actor) bool { return actor.Privileged }

func owner(a Appointment, actor Actor) bool {
	return actor.SubjectID != "" && actor.SubjectID == a.SubjectID
}

type transitionKey struct {
	from Status
	kind EventKind
}

type transitionRule struct {
	to    Status
	guard guard
}

// transitions is the whole negotiation protocol. Any pair not listed is illegal.
var transitions = map[transitionKey]transitionRule{
	{StatusPending, EventConfirm}:         {to: StatusConfirmed, guard: privileged},
	{StatusPending, EventReject}:          {to: StatusRejected, guard: privileged},
	{StatusPending, EventPropose}:         {to: StatusProposed, guard: privileged},
	{StatusProposed, EventAcceptProposal}: {to: StatusConfirmed, guard: owner},
	{StatusProposed, EventRejectProposal}: {to: StatusRejected, guard: owner},
}

// Apply returns the appointment as it would be after ev. The input is never
// modified. Slot freedom and calendar validity of a proposal are not checked
// here; the ledger does that under the slot lock.
func Apply(a Appointment, ev Event, now time.Time) (Appointment, error) {
	rule, ok := transitions[transitionKey{a.Status, ev.Kind}]
	if !ok {
		return a, &IllegalTransitionError{AppointmentID: a.ID, From: a.Status, Event: ev.Kind}
	}
	if !rule.guard(a, ev.Actor) {
		return a, &IllegalTransitionError{AppointmentID: a.ID, From: a.Status, Event: ev.Kind, Cause: ErrForbidden}
	}

	next := a.clone()
	next.Status = rule.to
	next.UpdatedAt = now

	switch ev.Kind {
	case EventPropose:
		next.Proposal = &Proposal{Date: ev.Date, Time: ev.Time}
	case EventAcceptProposal:
		if next.Proposal == nil {
			return a, &IllegalTransitionError{AppointmentID: a.ID, From: a.Status, Event: ev.Kind}
		}
		next.Date = next.Proposal.Date
		next.Time = next.Proposal.Time
		next.Proposal = nil
	case EventRejectProposal:
		next.Proposal = nil
	}
	return next, nil
}

// introducesSlot reports whether the event makes the appointment occupy a slot
// that must be re-validated against everybody else.
func introducesSlot(kind EventKind) bool {
	return kind == EventPropose || kind == EventAcceptProposal
}

func eventType(kind EventKind) string {
	switch kind {
	case EventConfirm:
		return EventAppointmentConfirmed
	case EventReject:
		return EventAppointmentRejected
	case EventPropose:
		return EventAppointmentProposed
	case EventAcceptProposal:
		return EventProposalAccepted
	case EventRejectProposal:
		return EventProposalRejected
	}
	return string(kind)
}
