package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/casalink/casalink/internal/audit"
)

// recordAudit appends an audit entry. Recording is best-effort: a failed
// write is logged and never fails the request that triggered it.
func (s *Server) recordAudit(ctx context.Context, e audit.Entry) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, &e); err != nil {
		s.logger.Error("recording audit entry", "error", err, "action", e.Action)
	}
}

// handleListAudit returns the authenticated user's audit trail, most
// recent first.
func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeNotFound(w, "audit trail not enabled")
		return
	}

	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	result, err := s.audit.List(r.Context(), audit.Filter{
		UserID: currentUserID(r),
		Action: q.Get("action"),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		s.logger.Error("listing audit entries", "error", err)
		writeInternalError(w, "failed to list audit entries")
		return
	}

	writeJSON(w, http.StatusOK, result)
}
