package permission

// Member is the authorization-relevant view of a user.
type Member struct {
	ID      string
	Role    Role
	Level   Level
	GroupID string
	Active  bool
}

// Principal returns m's (role, level) pair.
func (m Member) Principal() Principal {
	return Principal{Role: m.Role, Level: m.Level}
}

func sameGroup(a, b Member) bool {
	return a.GroupID != "" && a.GroupID == b.GroupID
}

// TransferPlan holds the post-transfer state of both parties and the roles
// they held when the plan was made. Callers must persist both members in one
// atomic update, conditional on neither role having changed since.
type TransferPlan struct {
	FormerOwner Member
	NewOwner    Member
	OwnerRole   Role
	TargetRole  Role
}

// PlanOwnershipTransfer computes the hand-off of owner authority from owner
// to target. The former owner is downgraded to the family's manager role at
// manager level and the target becomes owner with no level.
func PlanOwnershipTransfer(owner, target Member) (TransferPlan, error) {
	if !owner.Active || !owner.Role.IsOwner() {
		return TransferPlan{}, ErrNotAuthorized
	}
	if target.ID == "" || target.ID == owner.ID {
		return TransferPlan{}, ErrInvalidTarget
	}
	if !target.Active || target.Role.IsOwner() || !sameGroup(owner, target) {
		return TransferPlan{}, ErrInvalidTarget
	}
	if owner.Role.Family() != target.Role.Family() || !target.Role.TakesLevel() {
		return TransferPlan{}, ErrInvalidTarget
	}

	former := owner
	next := target
	next.Level = LevelNone

	switch owner.Role.Family() {
	case FamilyCompany:
		former.Role = RoleTeamMember
		next.Role = RoleCompanyAdmin
	case FamilyContractor:
		former.Role = RoleContractorManager
		next.Role = RoleContractorAccountOwner
	default:
		return TransferPlan{}, ErrInvalidTarget
	}
	former.Level = LevelManager

	return TransferPlan{
		FormerOwner: former,
		NewOwner:    next,
		OwnerRole:   owner.Role,
		TargetRole:  target.Role,
	}, nil
}

// PlanLevelChange computes target's state after actor sets its level.
// Only principals holding ActionEditPermissions may change levels, never their
// own, and only on level-bearing roles within their group.
func PlanLevelChange(actor, target Member, level Level) (Member, error) {
	if !actor.Active || !CanManagePermissions(actor.Principal()) {
		return Member{}, ErrNotAuthorized
	}
	if target.ID == "" || target.ID == actor.ID {
		return Member{}, ErrInvalidTarget
	}
	if !target.Role.TakesLevel() || !level.Valid() {
		return Member{}, ErrInvalidTarget
	}
	if actor.Role != RoleSystemAdmin && !sameGroup(actor, target) {
		return Member{}, ErrInvalidTarget
	}

	target.Level = level
	return target, nil
}

// Grant is the role and level an invitation confers.
type Grant struct {
	Role  Role
	Level Level
}

// PlanInvitation validates that inviter may confer grant and returns the
// normalized grant. Owner and system roles are never conferred by invitation,
// and an inviter cannot confer a level above its own.
func PlanInvitation(inviter Member, grant Grant) (Grant, error) {
	if !inviter.Active || !CanInviteMembers(inviter.Principal()) {
		return Grant{}, ErrNotAuthorized
	}
	if inviter.GroupID == "" {
		return Grant{}, ErrInvalidTarget
	}
	if !grant.Role.TakesLevel() {
		return Grant{}, ErrInvalidTarget
	}
	if inviter.Role != RoleSystemAdmin && grant.Role.Family() != inviter.Role.Family() {
		return Grant{}, ErrInvalidTarget
	}
	if grant.Level == LevelNone {
		grant.Level = DefaultLevel(grant.Role)
	}
	if !grant.Level.Valid() {
		return Grant{}, ErrInvalidTarget
	}

	granted := Authority(Principal{Role: grant.Role, Level: grant.Level})
	if inviter.Role != RoleSystemAdmin && !Authority(inviter.Principal()).Contains(granted) {
		return Grant{}, ErrNotAuthorized
	}
	return grant, nil
}

// CheckRemoval reports whether actor may deactivate target. Owners cannot be
// removed; non-system actors must share the group and strictly outrank the
// target.
func CheckRemoval(actor, target Member) error {
	if !actor.Active || !CanDeleteMembers(actor.Principal()) {
		return ErrNotAuthorized
	}
	if target.ID == "" || target.ID == actor.ID || target.Role.IsOwner() {
		return ErrInvalidTarget
	}
	if actor.Role == RoleSystemAdmin {
		if target.Role == RoleSystemAdmin {
			return ErrInvalidTarget
		}
		return nil
	}
	if !sameGroup(actor, target) {
		return ErrInvalidTarget
	}
	above, err := Outranks(actor.Principal(), target.Principal())
	if err != nil {
		return ErrInvalidTarget
	}
	if !above {
		return ErrNotAuthorized
	}
	return nil
}
