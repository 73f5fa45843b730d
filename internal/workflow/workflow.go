// Package workflow defines the approval lifecycle shared by annual plans
// and quarterly reports.
//
//	DRAFT --submit--> SUBMITTED --approve--> APPROVED
//	                            --reject---> REJECTED
//
// APPROVED and REJECTED are terminal.
package workflow

// Status is the lifecycle state of a plan or report.
type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusSubmitted Status = "SUBMITTED"
	StatusApproved  Status = "APPROVED"
	StatusRejected  Status = "REJECTED"
)

// Statuses lists every status in lifecycle order.
var Statuses = []Status{StatusDraft, StatusSubmitted, StatusApproved, StatusRejected}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusSubmitted, StatusApproved, StatusRejected:
		return true
	}
	return false
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// Editable reports whether line items may be added, changed or removed.
func (s Status) Editable() bool {
	return s == StatusDraft
}

// Deletable reports whether a record in this status may be deleted outright.
func (s Status) Deletable() bool {
	return s == StatusDraft || s == StatusRejected
}

// Action names a transition.
type Action string

const (
	ActionSubmit  Action = "submit"
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
)

// Transition describes a single edge of the state machine.
type Transition struct {
	Action Action
	From   Status
	To     Status
	// Reviewer marks transitions reserved for approvers.
	Reviewer bool
}

var transitions = map[Action]Transition{
	ActionSubmit:  {Action: ActionSubmit, From: StatusDraft, To: StatusSubmitted},
	ActionApprove: {Action: ActionApprove, From: StatusSubmitted, To: StatusApproved, Reviewer: true},
	ActionReject:  {Action: ActionReject, From: StatusSubmitted, To: StatusRejected, Reviewer: true},
}

// Lookup returns the transition for an action.
func Lookup(action Action) (Transition, bool) {
	t, ok := transitions[action]
	return t, ok
}

// Allowed reports whether the transition may fire from the given status.
func (t Transition) Allowed(from Status) bool {
	return t.From == from
}

// Next returns the status reached by applying action to current.
func Next(current Status, action Action) (Status, bool) {
	t, ok := transitions[action]
	if !ok || !t.Allowed(current) {
		return current, false
	}
	return t.To, true
}

// PastTense returns the verb used in audit messages, e.g. "approved".
func (a Action) PastTense() string {
	switch a {
	case ActionSubmit:
		return "submitted"
	case ActionApprove:
		return "approved"
	case ActionReject:
		return "rejected"
	}
	return string(a)
}
