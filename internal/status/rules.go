package status

import "github.com/user/casedesk/internal/types"

// Role is the side of the conversation the viewer is acting for.
type Role string

const (
	RoleEmployee Role = "employee"
	RoleManager  Role = "manager"
)

func (r Role) Valid() bool {
	return r == RoleEmployee || r == RoleManager
}

// open statuses can still change; the rest are final.
func open(s types.CaseStatus) bool {
	return s == types.StatusPending || s == types.StatusInProgress
}

// Allowed reports whether role may move a case from one status to another.
// Employees can only withdraw a case nobody has picked up yet; managers
// work a case through to a decision.
func Allowed(role Role, from, to types.CaseStatus) bool {
	if from == to || !to.Valid() {
		return false
	}
	switch role {
	case RoleEmployee:
		return from == types.StatusPending && to == types.StatusCancelled
	case RoleManager:
		if !open(from) {
			return false
		}
		switch to {
		case types.StatusInProgress, types.StatusResolved, types.StatusRejected:
			return true
		}
	}
	return false
}

// Targets lists the statuses role may move a case in status from to.
func Targets(role Role, from types.CaseStatus) []types.CaseStatus {
	var out []types.CaseStatus
	for _, to := range []types.CaseStatus{
		types.StatusPending,
		types.StatusInProgress,
		types.StatusResolved,
		types.StatusRejected,
		types.StatusCancelled,
	} {
		if Allowed(role, from, to) {
			out = append(out, to)
		}
	}
	return out
}
