// Package policy holds the pure authorization rules: given an actor, an
// action, and an entity snapshot, decide allow or deny. No I/O, no side
// effects. Whether the entity is in a state where the action can actually
// succeed is the lifecycle engine's concern, not this package's: a
// reporter is allowed to attempt archiving an already-archived issue, and
// the engine rejects it afterwards.
package policy

import "github.com/calebgardner/trackd/internal/models"

// Action enumerates the operations an actor can attempt.
type Action int

const (
	ActionRead Action = iota
	ActionUpdate
	ActionAssign
	ActionArchive
	ActionChangeStatus
	ActionDelete
)

func (a Action) String() string {
	switch a {
	case ActionRead:
		return "read"
	case ActionUpdate:
		return "update"
	case ActionAssign:
		return "assign"
	case ActionArchive:
		return "archive"
	case ActionChangeStatus:
		return "change_status"
	case ActionDelete:
		return "delete"
	}
	return "unknown"
}

// CanIssue reports whether the actor may attempt the action against the
// issue. Reads are open to any authenticated actor; general updates,
// assignment, and archival belong to the reporter; status changes belong
// to the current assignee. Issue deletion is denied for everyone; the
// HTTP layer additionally rejects it before ever consulting this table.
// Unknown actions are denied.
func CanIssue(actorID string, action Action, issue *models.Issue) bool {
	switch action {
	case ActionRead:
		return true
	case ActionUpdate, ActionAssign, ActionArchive:
		return actorID == issue.ReporterID
	case ActionChangeStatus:
		return issue.AssigneeID != "" && actorID == issue.AssigneeID
	case ActionDelete:
		return false
	}
	return false
}

// CanComment reports whether the actor may attempt the action against the
// comment. Reads are open; update and delete belong to the author.
// Unknown actions are denied.
func CanComment(actorID string, action Action, c *models.Comment) bool {
	switch action {
	case ActionRead:
		return true
	case ActionUpdate, ActionDelete:
		return actorID == c.AuthorID
	}
	return false
}
