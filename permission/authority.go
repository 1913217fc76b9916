package permission

// Principal is the (role, level) pair every predicate is a function of.
type Principal struct {
	Role  Role
	Level Level
}

var (
	viewerMask  = Mask64(0).With(ActionViewMembers)
	editorMask  = viewerMask.With(ActionEditCompany)
	managerMask = editorMask.With(
		ActionInviteMembers,
		ActionManageMembers,
		ActionDeleteMembers,
		ActionAcceptInvitations,
	)
	ownerMask = managerMask.With(ActionEditPermissions, ActionTransferOwnership)
	allMask   = ownerMask
)

func levelMask(l Level) Mask64 {
	switch l.rank() {
	case rankManager:
		return managerMask
	case rankEditor:
		return editorMask
	default:
		return viewerMask
	}
}

// EffectiveLevel is the level used for authority decisions. Owner and system
// roles report LevelNone. Missing or unknown levels on level-bearing roles
// resolve to the role's default, and anything else resolves to viewer.
func (p Principal) EffectiveLevel() Level {
	switch {
	case p.Role == RoleSystemAdmin || p.Role.IsOwner():
		return LevelNone
	case p.Role.TakesLevel() && p.Level.Valid():
		return p.Level
	case p.Role.TakesLevel() && p.Level == LevelNone:
		return DefaultLevel(p.Role)
	default:
		return LevelViewer
	}
}

// Authority returns the full action set held by p.
func Authority(p Principal) Mask64 {
	switch {
	case p.Role == RoleSystemAdmin:
		return allMask
	case p.Role.IsOwner():
		return ownerMask
	default:
		return levelMask(p.EffectiveLevel())
	}
}

// Can reports whether p may perform a.
func Can(p Principal, a Action) bool {
	return Authority(p).Has(a)
}

func CanViewMembers(p Principal) bool       { return Can(p, ActionViewMembers) }
func CanEditCompany(p Principal) bool       { return Can(p, ActionEditCompany) }
func CanInviteMembers(p Principal) bool     { return Can(p, ActionInviteMembers) }
func CanManageMembers(p Principal) bool     { return Can(p, ActionManageMembers) }
func CanDeleteMembers(p Principal) bool     { return Can(p, ActionDeleteMembers) }
func CanAcceptInvitations(p Principal) bool { return Can(p, ActionAcceptInvitations) }
func CanManagePermissions(p Principal) bool { return Can(p, ActionEditPermissions) }
func CanTransferOwnership(p Principal) bool { return Can(p, ActionTransferOwnership) }

func (p Principal) rank() int {
	if p.Role.IsOwner() {
		return rankOwner
	}
	return p.EffectiveLevel().rank()
}

// Outranks reports whether a holds strictly more authority than b. Principals
// from different families cannot be compared and yield ErrCrossFamily; the
// system family outranks nothing and is outranked by nothing.
func Outranks(a, b Principal) (bool, error) {
	fa, fb := a.Role.Family(), b.Role.Family()
	if fa != fb || fa == FamilySystem || fa == FamilyUnknown {
		return false, ErrCrossFamily
	}
	return a.rank() > b.rank(), nil
}
