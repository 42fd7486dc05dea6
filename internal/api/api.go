package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/calebgardner/trackd/internal/auth"
	"github.com/calebgardner/trackd/internal/lifecycle"
	"github.com/calebgardner/trackd/internal/models"
	"github.com/calebgardner/trackd/internal/policy"
	"github.com/calebgardner/trackd/internal/store"
)

// Server provides the REST API handlers. Every mutating issue/comment
// route runs the same sequence: load the entity snapshot, gate the action
// through the policy package, validate the transition through the
// lifecycle engine, then persist. A rejection at any step is terminal.
type Server struct {
	store  store.Store
	engine *lifecycle.Engine
}

// NewServer creates a new API server. The store doubles as the engine's
// user lookup for resolving assignment targets.
func NewServer(s store.Store) *Server {
	return &Server{
		store:  s,
		engine: lifecycle.NewEngine(s),
	}
}

// Router returns an http.Handler for the API routes.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/register", s.register)
	mux.HandleFunc("POST /api/v1/login", s.login)

	mux.Handle("GET /api/v1/users", s.authed(s.listUsers))

	mux.Handle("GET /api/v1/issues", s.authed(s.listIssues))
	mux.Handle("POST /api/v1/issues", s.authed(s.createIssue))
	mux.Handle("GET /api/v1/issues/{id}", s.authed(s.getIssue))
	mux.Handle("PUT /api/v1/issues/{id}", s.authed(s.updateIssue))
	mux.Handle("PATCH /api/v1/issues/{id}", s.authed(s.updateIssue))

	// Issue deletion is structurally disallowed. The route is rejected
	// here, before authentication, policy, or lifecycle ever run.
	mux.HandleFunc("DELETE /api/v1/issues/{id}", s.deleteIssue)

	mux.Handle("POST /api/v1/issues/{id}/assign", s.authed(s.assignIssue))
	mux.Handle("POST /api/v1/issues/{id}/change_status", s.authed(s.changeIssueStatus))
	mux.Handle("POST /api/v1/issues/{id}/archive", s.authed(s.archiveIssue))

	mux.Handle("GET /api/v1/issues/{id}/comments", s.authed(s.listComments))
	mux.Handle("POST /api/v1/issues/{id}/comments", s.authed(s.createComment))
	mux.Handle("GET /api/v1/issues/{id}/comments/{commentID}", s.authed(s.getComment))
	mux.Handle("PUT /api/v1/issues/{id}/comments/{commentID}", s.authed(s.updateComment))
	mux.Handle("PATCH /api/v1/issues/{id}/comments/{commentID}", s.authed(s.updateComment))
	mux.Handle("DELETE /api/v1/issues/{id}/comments/{commentID}", s.authed(s.deleteComment))

	return corsMiddleware(logMiddleware(mux))
}

// --- Auth ---

type registerRequest struct {
	Username  string `json:"username"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Password  string `json:"password"`
	Password2 string `json:"password2"`
}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Username == "" || req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username, email, and password are required")
		return
	}
	if req.Password != req.Password2 {
		writeError(w, http.StatusBadRequest, "passwords do not match")
		return
	}

	ctx := r.Context()
	if _, err := s.store.GetUserByUsername(ctx, req.Username); err == nil {
		writeError(w, http.StatusBadRequest, "username already exists")
		return
	} else if !errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if _, err := s.store.GetUserByEmail(ctx, req.Email); err == nil {
		writeError(w, http.StatusBadRequest, "email already exists")
		return
	} else if !errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	user := &models.User{
		Username:     req.Username,
		Email:        req.Email,
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		PasswordHash: hash,
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{
		"message":  "user registered successfully",
		"username": user.Username,
	})
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	user, err := s.store.GetUserByUsername(r.Context(), req.Username)
	if err != nil || !auth.CheckPassword(user.PasswordHash, req.Password) {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, digest, err := auth.NewToken()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := s.store.CreateToken(r.Context(), digest, user.ID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

// --- Users ---

type userListEntry struct {
	Username string `json:"username"`
	FullName string `json:"full_name"`
}

func (s *Server) listUsers(w http.ResponseWriter, r *http.Request, _ *models.User) {
	users, err := s.store.ListUsers(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	entries := make([]userListEntry, 0, len(users))
	for _, u := range users {
		entries = append(entries, userListEntry{Username: u.Username, FullName: u.FullName()})
	}
	writeJSON(w, http.StatusOK, entries)
}

// --- Issues ---

type issuePage struct {
	Count    int64           `json:"count"`
	Page     int             `json:"page"`
	PageSize int             `json:"page_size"`
	Results  []*models.Issue `json:"results"`
}

func (s *Server) listIssues(w http.ResponseWriter, r *http.Request, _ *models.User) {
	q := r.URL.Query()

	filter := store.IssueListFilter{
		Status:     models.IssueStatus(q.Get("status")),
		Priority:   models.IssuePriority(q.Get("priority")),
		ReporterID: q.Get("reporter_id"),
		AssigneeID: q.Get("assignee_id"),
	}
	if v := q.Get("archived"); v != "" {
		archived, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid archived filter")
			return
		}
		filter.Archived = &archived
	}

	page, pageSize := pageParams(q)
	filter.Limit = pageSize
	filter.Offset = (page - 1) * pageSize

	count, err := s.store.CountIssues(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	issues, err := s.store.ListIssues(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if issues == nil {
		issues = []*models.Issue{}
	}

	writeJSON(w, http.StatusOK, issuePage{Count: count, Page: page, PageSize: pageSize, Results: issues})
}

func pageParams(q interface{ Get(string) string }) (page, pageSize int) {
	page, _ = strconv.Atoi(q.Get("page"))
	if page < 1 {
		page = 1
	}
	pageSize, _ = strconv.Atoi(q.Get("page_size"))
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	return page, pageSize
}

type createIssueRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Priority    string `json:"priority"`
	AssigneeID  string `json:"assignee_id"`
}

func (s *Server) createIssue(w http.ResponseWriter, r *http.Request, actor *models.User) {
	var req createIssueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Title == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}

	issue, err := s.engine.NewIssue(r.Context(), actor.ID, lifecycle.NewIssueInput{
		Title:       req.Title,
		Description: req.Description,
		Priority:    models.IssuePriority(req.Priority),
		AssigneeID:  req.AssigneeID,
	})
	if err != nil {
		writeRejection(w, err)
		return
	}
	if err := s.store.CreateIssue(r.Context(), issue); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, issue)
}

func (s *Server) getIssue(w http.ResponseWriter, r *http.Request, _ *models.User) {
	issue, err := s.store.GetIssue(r.Context(), r.PathValue("id"))
	if err != nil {
		writeRejection(w, err)
		return
	}
	writeJSON(w, http.StatusOK, issue)
}

func (s *Server) updateIssue(w http.ResponseWriter, r *http.Request, actor *models.User) {
	issue, err := s.store.GetIssue(r.Context(), r.PathValue("id"))
	if err != nil {
		writeRejection(w, err)
		return
	}
	if !policy.CanIssue(actor.ID, policy.ActionUpdate, issue) {
		writeError(w, http.StatusForbidden, "permission denied")
		return
	}

	var patch map[string]any
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	// Only general fields pass through; status, archived, reporter, and
	// timestamps in the patch are ignored, matching their read-only
	// treatment on this path.
	var title, description, priority string
	patchString(patch, "title", &title)
	patchString(patch, "description", &description)
	patchString(patch, "priority", &priority)

	if err := s.engine.UpdateIssue(issue, title, description, models.IssuePriority(priority)); err != nil {
		writeRejection(w, err)
		return
	}
	if err := s.store.UpdateIssue(r.Context(), issue); err != nil {
		writeRejection(w, err)
		return
	}
	writeJSON(w, http.StatusOK, issue)
}

// deleteIssue always rejects: issues are never destroyed, for any actor,
// reporter included.
func (s *Server) deleteIssue(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusMethodNotAllowed, "issue deletion is not permitted")
}

func (s *Server) assignIssue(w http.ResponseWriter, r *http.Request, actor *models.User) {
	issue, err := s.store.GetIssue(r.Context(), r.PathValue("id"))
	if err != nil {
		writeRejection(w, err)
		return
	}
	if !policy.CanIssue(actor.ID, policy.ActionAssign, issue) {
		writeError(w, http.StatusForbidden, "permission denied")
		return
	}

	var req struct {
		AssigneeID string `json:"assignee_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.AssigneeID == "" {
		writeError(w, http.StatusBadRequest, "assignee_id is required")
		return
	}

	if err := s.engine.Assign(r.Context(), issue, req.AssigneeID); err != nil {
		writeRejection(w, err)
		return
	}
	if err := s.store.UpdateIssue(r.Context(), issue); err != nil {
		writeRejection(w, err)
		return
	}
	writeJSON(w, http.StatusOK, issue)
}

func (s *Server) changeIssueStatus(w http.ResponseWriter, r *http.Request, actor *models.User) {
	issue, err := s.store.GetIssue(r.Context(), r.PathValue("id"))
	if err != nil {
		writeRejection(w, err)
		return
	}
	if !policy.CanIssue(actor.ID, policy.ActionChangeStatus, issue) {
		writeError(w, http.StatusForbidden, "permission denied")
		return
	}

	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Status == "" {
		writeError(w, http.StatusBadRequest, "status is required")
		return
	}

	if err := s.engine.ChangeStatus(issue, models.IssueStatus(req.Status)); err != nil {
		writeRejection(w, err)
		return
	}
	if err := s.store.UpdateIssue(r.Context(), issue); err != nil {
		writeRejection(w, err)
		return
	}
	writeJSON(w, http.StatusOK, issue)
}

func (s *Server) archiveIssue(w http.ResponseWriter, r *http.Request, actor *models.User) {
	issue, err := s.store.GetIssue(r.Context(), r.PathValue("id"))
	if err != nil {
		writeRejection(w, err)
		return
	}
	if !policy.CanIssue(actor.ID, policy.ActionArchive, issue) {
		writeError(w, http.StatusForbidden, "permission denied")
		return
	}

	if err := s.engine.Archive(issue); err != nil {
		writeRejection(w, err)
		return
	}
	if err := s.store.UpdateIssue(r.Context(), issue); err != nil {
		writeRejection(w, err)
		return
	}
	writeJSON(w, http.StatusOK, issue)
}

// --- Comments ---

func (s *Server) listComments(w http.ResponseWriter, r *http.Request, _ *models.User) {
	issue, err := s.store.GetIssue(r.Context(), r.PathValue("id"))
	if err != nil {
		writeRejection(w, err)
		return
	}
	comments, err := s.store.ListComments(r.Context(), issue.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if comments == nil {
		comments = []*models.Comment{}
	}
	writeJSON(w, http.StatusOK, comments)
}

func (s *Server) createComment(w http.ResponseWriter, r *http.Request, actor *models.User) {
	issue, err := s.store.GetIssue(r.Context(), r.PathValue("id"))
	if err != nil {
		writeRejection(w, err)
		return
	}

	var req struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Content == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}

	comment, err := s.engine.NewComment(issue, actor.ID, req.Content)
	if err != nil {
		writeRejection(w, err)
		return
	}
	if err := s.store.CreateComment(r.Context(), comment); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, comment)
}

// loadComment fetches a comment nested under the issue in the URL,
// returning false after writing the response if either is missing or the
// comment belongs to a different issue.
func (s *Server) loadComment(w http.ResponseWriter, r *http.Request) (*models.Issue, *models.Comment, bool) {
	issue, err := s.store.GetIssue(r.Context(), r.PathValue("id"))
	if err != nil {
		writeRejection(w, err)
		return nil, nil, false
	}
	comment, err := s.store.GetComment(r.Context(), r.PathValue("commentID"))
	if err != nil {
		writeRejection(w, err)
		return nil, nil, false
	}
	if comment.IssueID != issue.ID {
		writeError(w, http.StatusNotFound, "comment not found on this issue")
		return nil, nil, false
	}
	return issue, comment, true
}

func (s *Server) getComment(w http.ResponseWriter, r *http.Request, _ *models.User) {
	_, comment, ok := s.loadComment(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, comment)
}

func (s *Server) updateComment(w http.ResponseWriter, r *http.Request, actor *models.User) {
	issue, comment, ok := s.loadComment(w, r)
	if !ok {
		return
	}
	if !policy.CanComment(actor.ID, policy.ActionUpdate, comment) {
		writeError(w, http.StatusForbidden, "permission denied")
		return
	}

	var req struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Content == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}

	if err := s.engine.UpdateComment(issue, comment, req.Content); err != nil {
		writeRejection(w, err)
		return
	}
	if err := s.store.UpdateComment(r.Context(), comment); err != nil {
		writeRejection(w, err)
		return
	}
	writeJSON(w, http.StatusOK, comment)
}

func (s *Server) deleteComment(w http.ResponseWriter, r *http.Request, actor *models.User) {
	issue, comment, ok := s.loadComment(w, r)
	if !ok {
		return
	}
	if !policy.CanComment(actor.ID, policy.ActionDelete, comment) {
		writeError(w, http.StatusForbidden, "permission denied")
		return
	}
	if err := lifecycle.CheckMutable(issue); err != nil {
		writeRejection(w, err)
		return
	}
	if err := s.store.DeleteComment(r.Context(), comment.ID); err != nil {
		writeRejection(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
