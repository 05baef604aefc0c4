package domain

// Status is the workflow state of a solicitation.
type Status string

const (
	StatusSubmitted      Status = "submitted"
	StatusRefused        Status = "refused"
	StatusSentToExecutor Status = "sent_to_executor"
	StatusStarted        Status = "started"
	StatusOnHold         Status = "on_hold"
	StatusFinished       Status = "finished"
)

// Role determines which transitions an actor may invoke. The three roles are
// mutually exclusive; an actor holds exactly one.
type Role string

const (
	RoleSubmitter Role = "submitter"
	RoleReviewer  Role = "reviewer"
	RoleExecutor  Role = "executor"
)

// Statuses lists all workflow states in lifecycle order.
func Statuses() []Status {
	return []Status{
		StatusSubmitted,
		StatusSentToExecutor,
		StatusStarted,
		StatusOnHold,
		StatusFinished,
		StatusRefused,
	}
}

// Roles lists all actor roles.
func Roles() []Role {
	return []Role{RoleSubmitter, RoleReviewer, RoleExecutor}
}

// ValidStatus reports whether s is one of the six workflow states.
func ValidStatus(s Status) bool {
	switch s {
	case StatusSubmitted, StatusRefused, StatusSentToExecutor, StatusStarted, StatusOnHold, StatusFinished:
		return true
	}
	return false
}

// ValidRole reports whether r is one of the three actor roles.
func ValidRole(r Role) bool {
	switch r {
	case RoleSubmitter, RoleReviewer, RoleExecutor:
		return true
	}
	return false
}

// transitions is the single source of truth for the workflow: for each role
// and source status, the legal target statuses. Statuses absent from a role's
// map (and the terminal refused/finished states) have no outbound transitions.
var transitions = map[Role]map[Status][]Status{
	RoleReviewer: {
		StatusSubmitted: {StatusSentToExecutor, StatusRefused},
	},
	RoleExecutor: {
		StatusSentToExecutor: {StatusStarted, StatusOnHold, StatusFinished},
		StatusStarted:        {StatusOnHold, StatusFinished},
		StatusOnHold:         {StatusStarted, StatusFinished},
	},
}

// CanTransition reports whether role may move a solicitation from one status
// to another. It is a pure predicate over the transition table; it never
// permits leaving a terminal state or "moving" to the current status.
func CanTransition(role Role, from, to Status) bool {
	for _, target := range transitions[role][from] {
		if target == to {
			return true
		}
	}
	return false
}

// TargetsFor returns the statuses role may move a solicitation to from the
// given status. Empty for terminal states and for roles with no say.
func TargetsFor(role Role, from Status) []Status {
	targets := transitions[role][from]
	out := make([]Status, len(targets))
	copy(out, targets)
	return out
}

// Terminal reports whether a status has no outbound transitions for any role.
func Terminal(s Status) bool {
	return s == StatusRefused || s == StatusFinished
}
