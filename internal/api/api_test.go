package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calebgardner/trackd/internal/models"
	"github.com/calebgardner/trackd/internal/store"
)

func setupTestServer(t *testing.T) (http.Handler, store.Store) {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")

	s, err := store.NewSQLiteStore(dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })

	srv := NewServer(s)
	return srv.Router(), s
}

// doJSON performs a request with an optional bearer token and JSON body.
func doJSON(t *testing.T, router http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// signup registers a user and returns a login token.
func signup(t *testing.T, router http.Handler, username string) string {
	t.Helper()
	w := doJSON(t, router, "POST", "/api/v1/register", "", map[string]string{
		"username":  username,
		"email":     username + "@example.com",
		"password":  "s3cret",
		"password2": "s3cret",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = doJSON(t, router, "POST", "/api/v1/login", "", map[string]string{
		"username": username,
		"password": "s3cret",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp["token"])
	return resp["token"]
}

func createIssue(t *testing.T, router http.Handler, token, title string) *models.Issue {
	t.Helper()
	w := doJSON(t, router, "POST", "/api/v1/issues", token, map[string]string{
		"title":       title,
		"description": "something is wrong",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var issue models.Issue
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &issue))
	return &issue
}

func userID(t *testing.T, s store.Store, username string) string {
	t.Helper()
	u, err := s.GetUserByUsername(context.Background(), username)
	require.NoError(t, err)
	return u.ID
}

// --- Registration and login ---

func TestRegister_Validation(t *testing.T) {
	router, _ := setupTestServer(t)

	// Missing fields
	w := doJSON(t, router, "POST", "/api/v1/register", "", map[string]string{"username": "alice"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Password mismatch
	w = doJSON(t, router, "POST", "/api/v1/register", "", map[string]string{
		"username": "alice", "email": "alice@example.com",
		"password": "a", "password2": "b",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "passwords do not match")

	// Duplicate username
	signup(t, router, "alice")
	w = doJSON(t, router, "POST", "/api/v1/register", "", map[string]string{
		"username": "alice", "email": "alice2@example.com",
		"password": "s3cret", "password2": "s3cret",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "username already exists")

	// Duplicate email
	w = doJSON(t, router, "POST", "/api/v1/register", "", map[string]string{
		"username": "alice2", "email": "alice@example.com",
		"password": "s3cret", "password2": "s3cret",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "email already exists")
}

func TestLogin_InvalidCredentials(t *testing.T) {
	router, _ := setupTestServer(t)
	signup(t, router, "alice")

	w := doJSON(t, router, "POST", "/api/v1/login", "", map[string]string{
		"username": "alice", "password": "wrong",
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doJSON(t, router, "POST", "/api/v1/login", "", map[string]string{
		"username": "nobody", "password": "s3cret",
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthRequired(t *testing.T) {
	router, _ := setupTestServer(t)

	w := doJSON(t, router, "GET", "/api/v1/issues", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doJSON(t, router, "GET", "/api/v1/issues", "bogus-token", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestListUsers(t *testing.T) {
	router, _ := setupTestServer(t)
	token := signup(t, router, "alice")
	signup(t, router, "bob")

	w := doJSON(t, router, "GET", "/api/v1/users", token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var users []map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &users))
	require.Len(t, users, 2)
	assert.Equal(t, "alice", users[0]["username"])
}

// --- Issue CRUD ---

func TestCreateIssue(t *testing.T) {
	router, s := setupTestServer(t)
	token := signup(t, router, "alice")

	issue := createIssue(t, router, token, "Broken login")
	assert.NotEmpty(t, issue.ID)
	assert.Equal(t, userID(t, s, "alice"), issue.ReporterID)
	assert.Equal(t, models.IssueStatusOpen, issue.Status)
	assert.Equal(t, models.IssuePriorityMedium, issue.Priority)
	assert.False(t, issue.Archived)

	// Title is required
	w := doJSON(t, router, "POST", "/api/v1/issues", token, map[string]string{"description": "no title"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateIssue_StatusNotClientSettable(t *testing.T) {
	router, _ := setupTestServer(t)
	token := signup(t, router, "alice")

	// A client-sent status is ignored; new issues always start open.
	w := doJSON(t, router, "POST", "/api/v1/issues", token, map[string]string{
		"title":  "Sneaky",
		"status": "resolved",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var issue models.Issue
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &issue))
	assert.Equal(t, models.IssueStatusOpen, issue.Status)
}

func TestListIssues_Pagination(t *testing.T) {
	router, _ := setupTestServer(t)
	token := signup(t, router, "alice")

	for i := 0; i < 5; i++ {
		createIssue(t, router, token, fmt.Sprintf("issue %d", i))
	}

	w := doJSON(t, router, "GET", "/api/v1/issues?page=2&page_size=2", token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var page struct {
		Count    int64           `json:"count"`
		Page     int             `json:"page"`
		PageSize int             `json:"page_size"`
		Results  []*models.Issue `json:"results"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	assert.EqualValues(t, 5, page.Count)
	assert.Equal(t, 2, page.Page)
	assert.Len(t, page.Results, 2)
}

func TestUpdateIssue_ReporterOnly(t *testing.T) {
	router, _ := setupTestServer(t)
	alice := signup(t, router, "alice")
	bob := signup(t, router, "bob")

	issue := createIssue(t, router, alice, "Broken login")

	// Non-reporter denied
	w := doJSON(t, router, "PATCH", "/api/v1/issues/"+issue.ID, bob, map[string]string{"title": "hijacked"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	// Reporter succeeds
	w = doJSON(t, router, "PATCH", "/api/v1/issues/"+issue.ID, alice, map[string]string{
		"title":    "Broken login on Safari",
		"priority": "high",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var updated models.Issue
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &updated))
	assert.Equal(t, "Broken login on Safari", updated.Title)
	assert.Equal(t, models.IssuePriorityHigh, updated.Priority)
}

func TestUpdateIssue_CannotTouchTransitionFields(t *testing.T) {
	router, _ := setupTestServer(t)
	alice := signup(t, router, "alice")

	issue := createIssue(t, router, alice, "Broken login")

	// status and archived keys in a general update are ignored.
	w := doJSON(t, router, "PATCH", "/api/v1/issues/"+issue.ID, alice, map[string]any{
		"status":   "resolved",
		"archived": true,
	})
	require.Equal(t, http.StatusOK, w.Code)

	var updated models.Issue
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &updated))
	assert.Equal(t, models.IssueStatusOpen, updated.Status)
	assert.False(t, updated.Archived)
}

func TestDeleteIssue_AlwaysMethodNotAllowed(t *testing.T) {
	router, _ := setupTestServer(t)
	alice := signup(t, router, "alice")
	bob := signup(t, router, "bob")

	issue := createIssue(t, router, alice, "Broken login")

	// Denied for the reporter, other users, and anonymous callers alike.
	for _, token := range []string{alice, bob, ""} {
		w := doJSON(t, router, "DELETE", "/api/v1/issues/"+issue.ID, token, nil)
		assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	}

	// Issue still there
	w := doJSON(t, router, "GET", "/api/v1/issues/"+issue.ID, alice, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

// --- Transitions ---

func TestAssign(t *testing.T) {
	router, s := setupTestServer(t)
	alice := signup(t, router, "alice")
	bob := signup(t, router, "bob")

	issue := createIssue(t, router, alice, "Broken login")
	bobID := userID(t, s, "bob")

	// Only the reporter may assign
	w := doJSON(t, router, "POST", "/api/v1/issues/"+issue.ID+"/assign", bob, map[string]string{"assignee_id": bobID})
	assert.Equal(t, http.StatusForbidden, w.Code)

	// Unknown target user
	w = doJSON(t, router, "POST", "/api/v1/issues/"+issue.ID+"/assign", alice, map[string]string{"assignee_id": "ghost"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	// Reporter assigns bob; status stays open
	w = doJSON(t, router, "POST", "/api/v1/issues/"+issue.ID+"/assign", alice, map[string]string{"assignee_id": bobID})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var updated models.Issue
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &updated))
	assert.Equal(t, bobID, updated.AssigneeID)
	assert.Equal(t, models.IssueStatusOpen, updated.Status)
}

func TestChangeStatus_AssigneeOnly(t *testing.T) {
	router, s := setupTestServer(t)
	alice := signup(t, router, "alice")
	bob := signup(t, router, "bob")

	issue := createIssue(t, router, alice, "Broken login")
	bobID := userID(t, s, "bob")

	// Unassigned: nobody may change status, reporter included.
	w := doJSON(t, router, "POST", "/api/v1/issues/"+issue.ID+"/change_status", alice, map[string]string{"status": "resolved"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = doJSON(t, router, "POST", "/api/v1/issues/"+issue.ID+"/change_status", bob, map[string]string{"status": "resolved"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	// Assign bob
	w = doJSON(t, router, "POST", "/api/v1/issues/"+issue.ID+"/assign", alice, map[string]string{"assignee_id": bobID})
	require.Equal(t, http.StatusOK, w.Code)

	// Reporter still may not change status
	w = doJSON(t, router, "POST", "/api/v1/issues/"+issue.ID+"/change_status", alice, map[string]string{"status": "resolved"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	// Assignee may, and any status is reachable from any other
	for _, status := range []string{"resolved", "open", "in_progress"} {
		w = doJSON(t, router, "POST", "/api/v1/issues/"+issue.ID+"/change_status", bob, map[string]string{"status": status})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	}

	// Unknown status rejected
	w = doJSON(t, router, "POST", "/api/v1/issues/"+issue.ID+"/change_status", bob, map[string]string{"status": "closed"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestArchive(t *testing.T) {
	router, _ := setupTestServer(t)
	alice := signup(t, router, "alice")
	bob := signup(t, router, "bob")

	issue := createIssue(t, router, alice, "Broken login")

	// Only the reporter may archive
	w := doJSON(t, router, "POST", "/api/v1/issues/"+issue.ID+"/archive", bob, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = doJSON(t, router, "POST", "/api/v1/issues/"+issue.ID+"/archive", alice, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var updated models.Issue
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &updated))
	assert.True(t, updated.Archived)

	// Second archive rejects; it is not a silent no-op.
	w = doJSON(t, router, "POST", "/api/v1/issues/"+issue.ID+"/archive", alice, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestArchivedIssueIsFrozen(t *testing.T) {
	router, s := setupTestServer(t)
	alice := signup(t, router, "alice")
	bob := signup(t, router, "bob")

	issue := createIssue(t, router, alice, "Broken login")
	bobID := userID(t, s, "bob")

	w := doJSON(t, router, "POST", "/api/v1/issues/"+issue.ID+"/assign", alice, map[string]string{"assignee_id": bobID})
	require.Equal(t, http.StatusOK, w.Code)
	w = doJSON(t, router, "POST", "/api/v1/issues/"+issue.ID+"/archive", alice, nil)
	require.Equal(t, http.StatusOK, w.Code)

	// Every mutating operation rejects on the archived issue.
	w = doJSON(t, router, "PATCH", "/api/v1/issues/"+issue.ID, alice, map[string]string{"title": "new"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, router, "POST", "/api/v1/issues/"+issue.ID+"/assign", alice, map[string]string{"assignee_id": bobID})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, router, "POST", "/api/v1/issues/"+issue.ID+"/change_status", bob, map[string]string{"status": "open"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, router, "POST", "/api/v1/issues/"+issue.ID+"/comments", bob, map[string]string{"content": "hello"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Reads still succeed.
	w = doJSON(t, router, "GET", "/api/v1/issues/"+issue.ID, bob, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

// TestIssueLifecycleFlow covers the full reporter/assignee sequence:
// create, failed status change, assign, resolve, archive, frozen.
func TestIssueLifecycleFlow(t *testing.T) {
	router, s := setupTestServer(t)
	alice := signup(t, router, "alice")
	bob := signup(t, router, "bob")

	issue := createIssue(t, router, alice, "Crash on save")
	assert.Equal(t, models.IssueStatusOpen, issue.Status)
	assert.Empty(t, issue.AssigneeID)

	bobID := userID(t, s, "bob")

	// B cannot resolve an unassigned issue.
	w := doJSON(t, router, "POST", "/api/v1/issues/"+issue.ID+"/change_status", bob, map[string]string{"status": "resolved"})
	require.Equal(t, http.StatusForbidden, w.Code)

	// A assigns B.
	w = doJSON(t, router, "POST", "/api/v1/issues/"+issue.ID+"/assign", alice, map[string]string{"assignee_id": bobID})
	require.Equal(t, http.StatusOK, w.Code)

	// B resolves.
	w = doJSON(t, router, "POST", "/api/v1/issues/"+issue.ID+"/change_status", bob, map[string]string{"status": "resolved"})
	require.Equal(t, http.StatusOK, w.Code)
	var resolved models.Issue
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resolved))
	assert.Equal(t, models.IssueStatusResolved, resolved.Status)

	// A archives.
	w = doJSON(t, router, "POST", "/api/v1/issues/"+issue.ID+"/archive", alice, nil)
	require.Equal(t, http.StatusOK, w.Code)

	// B cannot reopen: archived.
	w = doJSON(t, router, "POST", "/api/v1/issues/"+issue.ID+"/change_status", bob, map[string]string{"status": "open"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// --- Comments ---

func TestComments(t *testing.T) {
	router, _ := setupTestServer(t)
	alice := signup(t, router, "alice")
	carol := signup(t, router, "carol")

	issue := createIssue(t, router, alice, "Broken login")

	// Any authenticated user may comment on a live issue.
	w := doJSON(t, router, "POST", "/api/v1/issues/"+issue.ID+"/comments", carol, map[string]string{"content": "same here"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var comment models.Comment
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &comment))
	assert.Equal(t, issue.ID, comment.IssueID)
	assert.NotEmpty(t, comment.AuthorID)

	// Content is required
	w = doJSON(t, router, "POST", "/api/v1/issues/"+issue.ID+"/comments", carol, map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Listing
	w = doJSON(t, router, "GET", "/api/v1/issues/"+issue.ID+"/comments", alice, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var comments []*models.Comment
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &comments))
	assert.Len(t, comments, 1)

	// Only the author may edit
	path := "/api/v1/issues/" + issue.ID + "/comments/" + comment.ID
	w = doJSON(t, router, "PUT", path, alice, map[string]string{"content": "edited by reporter"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = doJSON(t, router, "PUT", path, carol, map[string]string{"content": "same here, edited"})
	require.Equal(t, http.StatusOK, w.Code)

	// Only the author may delete
	w = doJSON(t, router, "DELETE", path, alice, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = doJSON(t, router, "DELETE", path, carol, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = doJSON(t, router, "GET", path, carol, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestComment_FrozenByArchive(t *testing.T) {
	router, _ := setupTestServer(t)
	alice := signup(t, router, "alice")
	carol := signup(t, router, "carol")

	issue := createIssue(t, router, alice, "Broken login")

	w := doJSON(t, router, "POST", "/api/v1/issues/"+issue.ID+"/comments", carol, map[string]string{"content": "same here"})
	require.Equal(t, http.StatusCreated, w.Code)
	var comment models.Comment
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &comment))

	// Reporter archives the issue.
	w = doJSON(t, router, "POST", "/api/v1/issues/"+issue.ID+"/archive", alice, nil)
	require.Equal(t, http.StatusOK, w.Code)

	path := "/api/v1/issues/" + issue.ID + "/comments/" + comment.ID

	// The author can no longer edit or delete their own comment.
	w = doJSON(t, router, "PUT", path, carol, map[string]string{"content": "too late"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = doJSON(t, router, "DELETE", path, carol, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Reading is still fine.
	w = doJSON(t, router, "GET", path, carol, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestComment_WrongIssueNesting(t *testing.T) {
	router, _ := setupTestServer(t)
	alice := signup(t, router, "alice")

	issueA := createIssue(t, router, alice, "Issue A")
	issueB := createIssue(t, router, alice, "Issue B")

	w := doJSON(t, router, "POST", "/api/v1/issues/"+issueA.ID+"/comments", alice, map[string]string{"content": "on A"})
	require.Equal(t, http.StatusCreated, w.Code)
	var comment models.Comment
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &comment))

	// The comment is not reachable under a different issue.
	w = doJSON(t, router, "GET", "/api/v1/issues/"+issueB.ID+"/comments/"+comment.ID, alice, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
