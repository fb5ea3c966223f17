// Package rbac is the capability table for governance actions. The admin
// bypass policy lives here in one place instead of scattered role checks:
// an action either admits a global admin without domain membership or it
// does not.
package rbac

type Role string
type Action string

const (
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
)

const (
	ActionRead            Action = "read"
	ActionCreateDomain    Action = "domain.create"
	ActionDeleteDomain    Action = "domain.delete"
	ActionManageExperts   Action = "domain.experts"
	ActionCreatePost      Action = "post.create"
	ActionVoteContent     Action = "vote.content"
	ActionVoteWingScoped  Action = "vote.wing"
	ActionProposeTransfer Action = "transfer.propose"
	ActionForceTerminate  Action = "transfer.terminate"
	ActionManageElections Action = "election.manage"
	ActionSweep           Action = "sweep"
)

// Capability describes who may attempt an action. RequiresWeight actions are
// additionally gated by the voting-weight resolver: holding the capability
// only lets the request reach the resolver, a zero weight still forbids.
type Capability struct {
	// AdminBypass lets a global admin act without any domain membership.
	AdminBypass bool
	// RequiresWeight means the caller must resolve a non-zero voting weight
	// in the target domain (admins included, unless AdminBypass).
	RequiresWeight bool
}

var capabilities = map[Action]Capability{
	ActionRead:            {AdminBypass: true},
	ActionCreateDomain:    {},
	ActionDeleteDomain:    {},
	ActionManageExperts:   {},
	ActionCreatePost:      {AdminBypass: true},
	ActionVoteContent:     {AdminBypass: true, RequiresWeight: true},
	ActionVoteWingScoped:  {AdminBypass: false, RequiresWeight: true},
	ActionProposeTransfer: {AdminBypass: false, RequiresWeight: true},
	ActionForceTerminate:  {},
	ActionManageElections: {},
	ActionSweep:           {},
}

// adminOnly actions have an empty capability entry above: nobody but an
// admin may attempt them at all.
var adminOnly = map[Action]bool{
	ActionCreateDomain:    true,
	ActionDeleteDomain:    true,
	ActionManageExperts:   true,
	ActionForceTerminate:  true,
	ActionManageElections: true,
	ActionSweep:           true,
}

// Lookup returns the capability entry for an action.
func Lookup(action Action) Capability {
	return capabilities[action]
}

// Can reports whether a role may attempt an action at all. Weight-gated
// actions still require a non-zero resolved weight downstream.
func Can(role Role, action Action) bool {
	if adminOnly[action] {
		return role == RoleAdmin
	}
	_, known := capabilities[action]
	return known
}

// AdminBypasses reports whether a global admin may perform the action
// without holding domain membership.
func AdminBypasses(action Action) bool {
	return capabilities[action].AdminBypass
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleMember, RoleAdmin:
		return Role(role)
	default:
		return RoleMember
	}
}
