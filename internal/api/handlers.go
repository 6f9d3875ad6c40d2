package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"

	"github.com/rickgao/codelab-live/internal/model"
	"github.com/rickgao/codelab-live/internal/store"
)

// session authenticates r and checks it may act in codelabID. It writes the
// error response and returns false on failure.
func (s *Server) session(w http.ResponseWriter, r *http.Request, codelabID string) (model.Session, bool) {
	sess, err := s.deps.Auth.Authenticate(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return model.Session{}, false
	}
	if !sess.CanJoin(codelabID) {
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		return model.Session{}, false
	}
	return sess, true
}

// displayName resolves the name shown for a session's participant.
func (s *Server) displayName(ctx context.Context, sess model.Session, codelabID string) string {
	if sess.Role == model.RoleAdmin {
		return model.FacilitatorName
	}

	if s.nameLookupTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.nameLookupTimeout)
		defer cancel()
	}

	name, err := s.deps.Store.AttendeeName(ctx, codelabID, sess.Identity())
	if err != nil || name == "" {
		return model.FallbackAttendeeName
	}
	return name
}

// handleHelpRequest stores an attendee's help request and announces it.
func (s *Server) handleHelpRequest(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	codelabID := ps.ByName("codelab_id")
	sess, ok := s.session(w, r, codelabID)
	if !ok {
		return
	}
	if sess.Role != model.RoleAttendee {
		http.Error(w, "Only attendees can request help", http.StatusForbidden)
		return
	}

	var body HelpRequestBody
	if err := s.decodeBody(w, r, &body); err != nil {
		http.Error(w, "Invalid help request: "+err.Error(), http.StatusBadRequest)
		return
	}

	h := model.HelpRequest{
		ID:           uuid.New(),
		CodelabID:    codelabID,
		AttendeeID:   sess.Identity(),
		AttendeeName: s.displayName(r.Context(), sess, codelabID),
		StepNumber:   body.StepNumber,
		Status:       model.HelpPending,
		CreatedAt:    time.Now().UTC(),
	}

	if err := s.deps.Store.CreateHelpRequest(r.Context(), h); err != nil {
		s.logger.Error("failed to store help request", "codelab_id", codelabID, "error", err)
		http.Error(w, "Failed to store help request", http.StatusInternalServerError)
		return
	}

	s.deps.Hub.Publish(codelabID, model.NewHelpRequestFrame(h))
	writeJSON(w, http.StatusCreated, newHelpRequestResponse(h))
}

// handleHelpResolve marks a help request resolved and announces it.
func (s *Server) handleHelpResolve(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	codelabID := ps.ByName("codelab_id")
	sess, ok := s.session(w, r, codelabID)
	if !ok {
		return
	}
	if sess.Role != model.RoleAdmin {
		http.Error(w, "Only the facilitator can resolve help requests", http.StatusForbidden)
		return
	}

	id, err := uuid.Parse(ps.ByName("help_id"))
	if err != nil {
		http.Error(w, "Invalid help request id", http.StatusBadRequest)
		return
	}

	h, err := s.deps.Store.ResolveHelpRequest(r.Context(), codelabID, id)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "Help request not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.logger.Error("failed to resolve help request", "codelab_id", codelabID, "help_id", id, "error", err)
		http.Error(w, "Failed to resolve help request", http.StatusInternalServerError)
		return
	}

	s.deps.Hub.Publish(codelabID, model.NewHelpResolvedFrame(h))
	writeJSON(w, http.StatusOK, newHelpRequestResponse(h))
}

// handleComment stores a comment and tells the room its thread changed.
func (s *Server) handleComment(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	codelabID := ps.ByName("codelab_id")
	sess, ok := s.session(w, r, codelabID)
	if !ok {
		return
	}

	var body CommentBody
	if err := s.decodeBody(w, r, &body); err != nil {
		http.Error(w, "Invalid comment: "+err.Error(), http.StatusBadRequest)
		return
	}

	c := model.Comment{
		ID:         uuid.New(),
		CodelabID:  codelabID,
		ThreadID:   ps.ByName("thread_id"),
		AuthorID:   sess.Identity(),
		AuthorName: s.displayName(r.Context(), sess, codelabID),
		Body:       body.Body,
		CreatedAt:  time.Now().UTC(),
	}

	if err := s.deps.Store.InsertComment(r.Context(), c); err != nil {
		s.logger.Error("failed to store comment", "codelab_id", codelabID, "thread_id", c.ThreadID, "error", err)
		http.Error(w, "Failed to store comment", http.StatusInternalServerError)
		return
	}

	s.deps.Hub.Publish(codelabID, model.NewCommentThreadChangedFrame(c.ThreadID))
	writeJSON(w, http.StatusCreated, CommentResponse{
		ID:         c.ID,
		ThreadID:   c.ThreadID,
		AuthorID:   c.AuthorID,
		AuthorName: c.AuthorName,
		Body:       c.Body,
		CreatedAt:  c.CreatedAt,
	})
}

// handleMessages returns the history visible to the caller. The facilitator
// sees every message; attendees see chat plus their own direct messages.
func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	codelabID := ps.ByName("codelab_id")
	sess, ok := s.session(w, r, codelabID)
	if !ok {
		return
	}

	filter := store.HistoryFilter{
		CodelabID: codelabID,
		ViewerID:  sess.Identity(),
		All:       sess.Role == model.RoleAdmin,
	}

	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 1 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		filter.Limit = limit
	}
	if v := q.Get("before"); v != "" {
		before, err := time.Parse(time.RFC3339, v)
		if err != nil {
			http.Error(w, "Invalid before timestamp", http.StatusBadRequest)
			return
		}
		filter.Before = before
	}

	msgs, err := s.deps.Store.ListMessages(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list messages", "codelab_id", codelabID, "error", err)
		http.Error(w, "Failed to list messages", http.StatusInternalServerError)
		return
	}

	resp := MessagesResponse{Messages: make([]MessageResponse, 0, len(msgs))}
	for _, m := range msgs {
		resp.Messages = append(resp.Messages, MessageResponse{
			ID:         m.ID,
			SenderID:   m.SenderID,
			SenderName: m.SenderName,
			Body:       m.Body,
			Kind:       string(m.Kind),
			TargetID:   m.TargetID,
			CreatedAt:  m.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}
