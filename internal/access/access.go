// Package access decides whether a resolved identity may act on a project.
// It is pure: callers load the membership row (if any) and the project, and
// the evaluator returns an allow/deny decision with the effective role.
package access

// GlobalRole is a user's role across the whole company, not one project.
type GlobalRole string

const (
	GlobalAdmin      GlobalRole = "admin"
	GlobalMember     GlobalRole = "member"
	GlobalConsultant GlobalRole = "consultant"
	GlobalClient     GlobalRole = "client"
	GlobalGuest      GlobalRole = "guest"
)

// ProjectRole is the role a user holds with respect to one project.
type ProjectRole string

const (
	RoleOwner      ProjectRole = "owner"
	RoleAdmin      ProjectRole = "admin"
	RoleManager    ProjectRole = "manager"
	RoleMember     ProjectRole = "member"
	RoleConsultant ProjectRole = "consultant"
	RoleClient     ProjectRole = "client"
	RoleViewer     ProjectRole = "viewer"
)

// Identity is the resolved caller: user id, global role, company (tenant).
type Identity struct {
	UserID    string
	CompanyID string
	Role      GlobalRole
}

// Project carries the fields the evaluator needs from a project row.
type Project struct {
	ID        string
	CompanyID string
	CreatedBy string
}

// Decision is the outcome of an access check.
type Decision struct {
	Allowed bool
	Role    ProjectRole
}

// Evaluate decides whether identity may access project. membership is the
// caller's project_members role, or nil when no row exists.
//
// Admin bypass is scoped to the admin's own company: an admin with an empty
// company id never bypasses, so a tenant can never reach into another.
// A project creator without a membership row is treated as owner.
func Evaluate(id Identity, project Project, membership *ProjectRole) Decision {
	if id.UserID == "" || project.ID == "" {
		return Decision{}
	}
	if id.Role == GlobalAdmin && id.CompanyID != "" && id.CompanyID == project.CompanyID {
		return Decision{Allowed: true, Role: RoleAdmin}
	}
	if membership != nil {
		return Decision{Allowed: true, Role: NormalizeProject(string(*membership))}
	}
	if project.CreatedBy != "" && project.CreatedBy == id.UserID {
		return Decision{Allowed: true, Role: RoleOwner}
	}
	return Decision{}
}

// CanManage reports whether an effective project role may mutate the project
// itself: rename, status change, member add/remove, delete.
func CanManage(role ProjectRole) bool {
	switch role {
	case RoleOwner, RoleAdmin, RoleManager:
		return true
	default:
		return false
	}
}

func NormalizeGlobal(role string) GlobalRole {
	switch GlobalRole(role) {
	case GlobalAdmin, GlobalMember, GlobalConsultant, GlobalClient, GlobalGuest:
		return GlobalRole(role)
	default:
		return GlobalGuest
	}
}

func NormalizeProject(role string) ProjectRole {
	switch ProjectRole(role) {
	case RoleOwner, RoleAdmin, RoleManager, RoleMember, RoleConsultant, RoleClient, RoleViewer:
		return ProjectRole(role)
	default:
		return RoleViewer
	}
}
