package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/casalink/casalink/internal/audit"
	"github.com/casalink/casalink/internal/link"
)

// handleListLinks returns the authenticated user's account links, newest
// first, including revoked links so the dashboard can show history.
// Token hashes never serialise.
func (s *Server) handleListLinks(w http.ResponseWriter, r *http.Request) {
	links, err := s.links.ListByUser(r.Context(), currentUserID(r))
	if err != nil {
		s.logger.Error("listing account links", "error", err)
		writeInternalError(w, "failed to list links")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"links": links,
		"count": len(links),
	})
}

// handleRevokeLink revokes an active account link from the dashboard side.
// The assistant's copy of the tokens stops resolving immediately.
func (s *Server) handleRevokeLink(w http.ResponseWriter, r *http.Request) {
	subject := chi.URLParam(r, "subject")

	l, err := s.links.GetBySubject(r.Context(), subject)
	if err != nil {
		if errors.Is(err, link.ErrNotFound) {
			writeNotFound(w, "link not found")
			return
		}
		s.logger.Error("loading account link", "error", err)
		writeInternalError(w, "failed to load link")
		return
	}
	if l.UserID != currentUserID(r) {
		writeNotFound(w, "link not found")
		return
	}

	if err := s.links.Revoke(r.Context(), subject); err != nil {
		s.logger.Error("revoking account link", "error", err)
		writeInternalError(w, "failed to revoke link")
		return
	}

	s.recordAudit(r.Context(), audit.Entry{
		Action:     audit.ActionLinkRevoked,
		EntityType: audit.EntityLink,
		EntityID:   subject,
		UserID:     l.UserID,
		Source:     audit.SourceDashboard,
	})

	writeJSON(w, http.StatusNoContent, nil)
}
