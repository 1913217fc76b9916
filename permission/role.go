package permission

import "strings"

// Role is the closed set of account roles. Roles are mutually exclusive per
// user.
type Role string

const (
	RoleSystemAdmin            Role = "system_admin"
	RoleCompanyAdmin           Role = "company_admin"
	RoleTeamMember             Role = "team_member"
	RoleContractorIndividual   Role = "contractor_individual"
	RoleContractorAccountOwner Role = "contractor_account_owner"
	RoleContractorManager      Role = "contractor_manager"
	RoleContractorTeamMember   Role = "contractor_team_member"
)

var allRoles = []Role{
	RoleSystemAdmin,
	RoleCompanyAdmin,
	RoleTeamMember,
	RoleContractorIndividual,
	RoleContractorAccountOwner,
	RoleContractorManager,
	RoleContractorTeamMember,
}

// Roles returns every defined role.
func Roles() []Role {
	out := make([]Role, len(allRoles))
	copy(out, allRoles)
	return out
}

// ParseRole normalizes s and reports whether it names a defined role.
func ParseRole(s string) (Role, bool) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	return r, r.Valid()
}

// Valid reports whether r is one of the defined roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystemAdmin, RoleCompanyAdmin, RoleTeamMember,
		RoleContractorIndividual, RoleContractorAccountOwner,
		RoleContractorManager, RoleContractorTeamMember:
		return true
	}
	return false
}

// Family groups roles whose authority may be compared.
type Family int

const (
	FamilyUnknown Family = iota
	FamilySystem
	FamilyCompany
	FamilyContractor
)

func (f Family) String() string {
	switch f {
	case FamilySystem:
		return "system"
	case FamilyCompany:
		return "company"
	case FamilyContractor:
		return "contractor"
	default:
		return "unknown"
	}
}

// Family returns the role's family.
func (r Role) Family() Family {
	switch r {
	case RoleSystemAdmin:
		return FamilySystem
	case RoleCompanyAdmin, RoleTeamMember:
		return FamilyCompany
	case RoleContractorIndividual, RoleContractorAccountOwner,
		RoleContractorManager, RoleContractorTeamMember:
		return FamilyContractor
	default:
		return FamilyUnknown
	}
}

// IsOwner reports whether r holds top authority within its group.
func (r Role) IsOwner() bool {
	switch r {
	case RoleCompanyAdmin, RoleContractorIndividual, RoleContractorAccountOwner:
		return true
	}
	return false
}

// TakesLevel reports whether a permission level is meaningful for r.
func (r Role) TakesLevel() bool {
	switch r {
	case RoleTeamMember, RoleContractorManager, RoleContractorTeamMember:
		return true
	}
	return false
}

// Level is a graduated capability tier beneath an owning role. The zero value
// means no level is set.
type Level string

const (
	LevelNone    Level = ""
	LevelViewer  Level = "viewer"
	LevelEditor  Level = "editor"
	LevelManager Level = "manager"
)

// ParseLevel normalizes s and reports whether it names a defined level.
func ParseLevel(s string) (Level, bool) {
	l := Level(strings.ToLower(strings.TrimSpace(s)))
	return l, l.Valid()
}

// Valid reports whether l is viewer, editor or manager.
func (l Level) Valid() bool {
	switch l {
	case LevelViewer, LevelEditor, LevelManager:
		return true
	}
	return false
}

const (
	rankNone = iota
	rankViewer
	rankEditor
	rankManager
	rankOwner
)

func (l Level) rank() int {
	switch l {
	case LevelEditor:
		return rankEditor
	case LevelManager:
		return rankManager
	default:
		return rankViewer
	}
}

// DefaultLevel is the level assumed for a level-bearing role with no level
// recorded.
func DefaultLevel(r Role) Level {
	if r == RoleContractorManager {
		return LevelManager
	}
	return LevelViewer
}
