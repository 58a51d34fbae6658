package rbac

type Role string
type Action string

const (
	RoleViewer      Role = "viewer"
	RoleContributor Role = "contributor"
	RoleEditor      Role = "editor"
	RoleAdmin       Role = "admin"
)

const (
	ActionRead    Action = "read"
	ActionSuggest Action = "suggest"
	ActionResolve Action = "resolve"
	ActionWrite   Action = "write"
	ActionAdmin   Action = "admin"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleEditor:
		return action == ActionRead || action == ActionSuggest || action == ActionResolve || action == ActionWrite
	case RoleContributor:
		return action == ActionRead || action == ActionSuggest
	case RoleViewer:
		return action == ActionRead
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleViewer, RoleContributor, RoleEditor, RoleAdmin:
		return Role(role)
	default:
		return RoleViewer
	}
}
