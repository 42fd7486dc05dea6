// Package lifecycle validates and applies issue and comment state
// transitions. Authorization is the caller's concern (the policy
// package); the engine only enforces entity-state preconditions. Every
// method is synchronous and leaves the entity untouched when it rejects.
package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"github.com/calebgardner/trackd/internal/models"
)

// ErrInvalidTransition is returned when an entity is not in a state that
// permits the requested mutation: the issue is archived, a status change
// has no assignee to act on, or an archive is requested twice. It always
// indicates a client sequencing error, never a transient fault.
var ErrInvalidTransition = errors.New("invalid transition")

// UserLookup resolves a user id, typically backed by the store. Used to
// verify that an assignment target exists.
type UserLookup interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
}

// Engine applies lifecycle transitions to issues and comments.
type Engine struct {
	users UserLookup
}

// NewEngine creates an Engine that resolves assignment targets through
// the given lookup.
func NewEngine(users UserLookup) *Engine {
	return &Engine{users: users}
}

// CheckMutable is the archived-state gate shared by every mutating path:
// general updates, transitions, and comment create/update/delete all go
// through it. Once archived, an issue and its comments are frozen.
func CheckMutable(issue *models.Issue) error {
	if issue.Archived {
		return fmt.Errorf("%w: issue is archived", ErrInvalidTransition)
	}
	return nil
}

// NewIssueInput carries the client-settable fields for issue creation.
// Status and archived are deliberately absent: a new issue always starts
// open and unarchived regardless of what the client sent.
type NewIssueInput struct {
	Title       string
	Description string
	Priority    models.IssuePriority
	AssigneeID  string
}

// NewIssue builds a new issue with the actor as reporter. Priority
// defaults to medium. An initial assignee is optional; when given it must
// resolve to an existing user.
func (e *Engine) NewIssue(ctx context.Context, actorID string, in NewIssueInput) (*models.Issue, error) {
	priority := in.Priority
	if priority == "" {
		priority = models.IssuePriorityMedium
	}
	if !priority.Valid() {
		return nil, fmt.Errorf("%w: unknown priority %q", ErrInvalidTransition, in.Priority)
	}

	issue := &models.Issue{
		Title:       in.Title,
		Description: in.Description,
		ReporterID:  actorID,
		Status:      models.IssueStatusOpen,
		Priority:    priority,
		Archived:    false,
	}

	if in.AssigneeID != "" {
		user, err := e.users.GetUser(ctx, in.AssigneeID)
		if err != nil {
			return nil, fmt.Errorf("resolve assignee: %w", err)
		}
		issue.AssigneeID = user.ID
	}
	return issue, nil
}

// UpdateIssue applies a general field update. Empty values mean "leave
// unchanged". Status, archived, id, reporter, and created are
// transition-only and cannot be touched through this path.
func (e *Engine) UpdateIssue(issue *models.Issue, title, description string, priority models.IssuePriority) error {
	if err := CheckMutable(issue); err != nil {
		return err
	}
	if priority != "" && !priority.Valid() {
		return fmt.Errorf("%w: unknown priority %q", ErrInvalidTransition, priority)
	}
	if title != "" {
		issue.Title = title
	}
	if description != "" {
		issue.Description = description
	}
	if priority != "" {
		issue.Priority = priority
	}
	return nil
}

// Assign sets the issue's assignee to the given user. The target must
// exist. Assignment does not change status: an open issue stays open
// until the assignee explicitly moves it.
func (e *Engine) Assign(ctx context.Context, issue *models.Issue, targetID string) error {
	if err := CheckMutable(issue); err != nil {
		return err
	}
	user, err := e.users.GetUser(ctx, targetID)
	if err != nil {
		return fmt.Errorf("resolve assignee: %w", err)
	}
	issue.AssigneeID = user.ID
	return nil
}

// ChangeStatus moves the issue to the given status. The issue must be
// unarchived and have an assignee. Any valid status is reachable from any
// other; there is no forward-only ordering.
func (e *Engine) ChangeStatus(issue *models.Issue, status models.IssueStatus) error {
	if err := CheckMutable(issue); err != nil {
		return err
	}
	if issue.AssigneeID == "" {
		return fmt.Errorf("%w: issue has no assignee", ErrInvalidTransition)
	}
	if !status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, status)
	}
	issue.Status = status
	return nil
}

// Archive marks the issue archived. Archiving twice is an error, not a
// no-op; the flag is monotonic and never cleared.
func (e *Engine) Archive(issue *models.Issue) error {
	if issue.Archived {
		return fmt.Errorf("%w: issue already archived", ErrInvalidTransition)
	}
	issue.Archived = true
	return nil
}

// NewComment builds a comment by the actor against the issue. Rejected
// when the issue is archived.
func (e *Engine) NewComment(issue *models.Issue, actorID, content string) (*models.Comment, error) {
	if err := CheckMutable(issue); err != nil {
		return nil, err
	}
	return &models.Comment{
		IssueID:  issue.ID,
		AuthorID: actorID,
		Content:  content,
	}, nil
}

// UpdateComment replaces the comment's content. Rejected when the parent
// issue is archived, even for the comment's own author.
func (e *Engine) UpdateComment(issue *models.Issue, c *models.Comment, content string) error {
	if err := CheckMutable(issue); err != nil {
		return err
	}
	c.Content = content
	return nil
}
