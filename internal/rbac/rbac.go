package rbac

type Role string
type Action string

const (
	RoleAdmin      Role = "admin"
	RoleClient     Role = "client"
	RoleFreelancer Role = "freelancer"
)

const (
	ActionMessage            Action = "message"
	ActionModerate           Action = "moderate"
	ActionManageParticipants Action = "manage_participants"
	ActionReadAll            Action = "read_all"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleClient, RoleFreelancer:
		return action == ActionMessage
	default:
		return false
	}
}

// Normalize maps unknown roles to the empty role, which can do nothing.
func Normalize(role string) Role {
	switch Role(role) {
	case RoleAdmin, RoleClient, RoleFreelancer:
		return Role(role)
	default:
		return ""
	}
}
