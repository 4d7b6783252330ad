package rbac

type Role string

const (
	RoleUser       Role = "user"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "super_admin"
)

// AnyOf reports whether role is one of the allowed roles.
func AnyOf(role Role, allowed ...Role) bool {
	for _, candidate := range allowed {
		if role == candidate {
			return true
		}
	}
	return false
}

// CanAccessOwned reports whether a user may touch a resource owned by ownerID.
// super_admin bypasses ownership on every resource.
func CanAccessOwned(role Role, userID, ownerID string) bool {
	if role == RoleSuperAdmin {
		return true
	}
	return userID != "" && userID == ownerID
}

func Valid(role Role) bool {
	switch role {
	case RoleUser, RoleAdmin, RoleSuperAdmin:
		return true
	default:
		return false
	}
}

func Normalize(role string) Role {
	if Valid(Role(role)) {
		return Role(role)
	}
	return RoleUser
}
