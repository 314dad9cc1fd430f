package app

import "github.com/Gi7-ux/app-sub000/internal/rbac"

const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusDeleted  = "deleted"
)

const deletedMessageText = "Message deleted"

// Visibility is how a single message appears to a single viewer.
type Visibility int

const (
	Hidden Visibility = iota
	// Redacted rows are listed with placeholder text and no attachment.
	Redacted
	Visible
)

// VisibilityOf applies the read rule. Admins see every status. Everyone else
// sees approved messages and their own pending ones; deleted messages are
// reduced to a placeholder.
func VisibilityOf(status string, viewerRole rbac.Role, isOwner bool) Visibility {
	if rbac.Can(viewerRole, rbac.ActionReadAll) {
		return Visible
	}
	switch status {
	case StatusApproved:
		return Visible
	case StatusPending:
		if isOwner {
			return Visible
		}
		return Hidden
	case StatusDeleted:
		return Redacted
	default:
		return Hidden
	}
}

// IsVisible reports whether the viewer may read the message content.
func IsVisible(status string, viewerRole rbac.Role, isOwner bool) bool {
	return VisibilityOf(status, viewerRole, isOwner) == Visible
}
