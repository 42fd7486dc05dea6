package models

import "time"

// Comment belongs to exactly one issue. Comments have no updated
// timestamp and are frozen the moment their parent issue archives.
type Comment struct {
	ID        string    `json:"id"`
	IssueID   string    `json:"issue_id"`
	AuthorID  string    `json:"author_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}
