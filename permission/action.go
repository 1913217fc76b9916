package permission

import "strings"

// Action is a high-level operation gated by the authority table.
type Action int

const (
	ActionViewMembers Action = iota
	ActionEditCompany
	ActionInviteMembers
	ActionManageMembers
	ActionDeleteMembers
	ActionAcceptInvitations
	ActionEditPermissions
	ActionTransferOwnership

	actionCount
)

var actionNames = [actionCount]string{
	ActionViewMembers:       "view_members",
	ActionEditCompany:       "edit_company",
	ActionInviteMembers:     "invite_members",
	ActionManageMembers:     "manage_members",
	ActionDeleteMembers:     "delete_members",
	ActionAcceptInvitations: "accept_invitations",
	ActionEditPermissions:   "edit_permissions",
	ActionTransferOwnership: "transfer_ownership",
}

func (a Action) String() string {
	if a < 0 || a >= actionCount {
		return "unknown"
	}
	return actionNames[a]
}

// ParseAction resolves an action by its snake_case name.
func ParseAction(s string) (Action, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range actionNames {
		if name == s {
			return Action(i), true
		}
	}
	return -1, false
}
