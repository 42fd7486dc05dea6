package store

import (
	"context"
	"errors"

	"github.com/calebgardner/trackd/internal/models"
)

// ErrNotFound is returned when a referenced entity does not exist.
// Callers match it with errors.Is.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a conditional issue update loses a race
// against a concurrent writer. The caller holds a stale snapshot and must
// re-read before retrying.
var ErrConflict = errors.New("conflict")

// IssueListFilter specifies filters and paging for listing issues.
type IssueListFilter struct {
	Status     models.IssueStatus
	Priority   models.IssuePriority
	ReporterID string
	AssigneeID string
	Archived   *bool

	Limit  int
	Offset int
}

// Store defines the persistence interface for trackd.
//
// Issues deliberately have no delete method: issue deletion is disallowed
// everywhere, so the interface cannot express it.
type Store interface {
	// Users
	CreateUser(ctx context.Context, u *models.User) error
	GetUser(ctx context.Context, id string) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	ListUsers(ctx context.Context) ([]*models.User, error)

	// Tokens
	CreateToken(ctx context.Context, digest, userID string) error
	GetUserByTokenDigest(ctx context.Context, digest string) (*models.User, error)

	// Issues
	CreateIssue(ctx context.Context, issue *models.Issue) error
	GetIssue(ctx context.Context, id string) (*models.Issue, error)
	ListIssues(ctx context.Context, filter IssueListFilter) ([]*models.Issue, error)
	CountIssues(ctx context.Context, filter IssueListFilter) (int64, error)
	UpdateIssue(ctx context.Context, issue *models.Issue) error

	// Comments
	CreateComment(ctx context.Context, c *models.Comment) error
	GetComment(ctx context.Context, id string) (*models.Comment, error)
	ListComments(ctx context.Context, issueID string) ([]*models.Comment, error)
	UpdateComment(ctx context.Context, c *models.Comment) error
	DeleteComment(ctx context.Context, id string) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
