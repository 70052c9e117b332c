package api

import (
	"encoding/json"
	"net/http"

	"github.com/casalink/casalink/internal/audit"
	"github.com/casalink/casalink/internal/auth"
	"github.com/casalink/casalink/internal/smarthome"
)

// handleFulfillment terminates one assistant envelope.
//
// The transport contract differs from the dashboard API: once an envelope
// parses, the assistant always gets an envelope back. Credential problems
// become the protocol's authFailure error, and a disconnect with a dead
// credential still gets its empty success payload so the response never
// reveals whether a link existed.
func (s *Server) handleFulfillment(w http.ResponseWriter, r *http.Request) {
	var req smarthome.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if !req.Valid() {
		writeBadRequest(w, "envelope requires requestId and at least one input")
		return
	}

	subject, ok := s.assistantSubject(r)
	if !ok {
		if req.Inputs[0].Intent == smarthome.IntentDisconnect {
			writeJSON(w, http.StatusOK, &smarthome.Response{
				RequestID: req.RequestID,
				Payload:   struct{}{},
			})
			return
		}
		writeJSON(w, http.StatusUnauthorized, &smarthome.Response{
			RequestID: req.RequestID,
			Payload:   smarthome.ErrorPayload{ErrorCode: smarthome.CodeAuthFailure},
		})
		return
	}

	// Capture the link owner before a disconnect tears the link down, so
	// the audit entry still lands in the right user's trail.
	var disconnectedUser string
	if req.Inputs[0].Intent == smarthome.IntentDisconnect {
		if l, err := s.links.GetBySubject(r.Context(), subject); err == nil {
			disconnectedUser = l.UserID
		}
	}

	resp := s.dispatcher.Handle(r.Context(), subject, &req)

	if disconnectedUser != "" {
		s.recordAudit(r.Context(), audit.Entry{
			Action:     audit.ActionLinkRevoked,
			EntityType: audit.EntityLink,
			EntityID:   subject,
			UserID:     disconnectedUser,
			Source:     audit.SourceAssistant,
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

// assistantSubject extracts the account-link subject from the bearer
// credential. Returns false if the token is missing, unparsable, or not
// assistant-scoped; link liveness is the dispatcher's concern.
func (s *Server) assistantSubject(r *http.Request) (string, bool) {
	token := bearerToken(r)
	if token == "" {
		return "", false
	}
	claims, err := auth.ParseToken(token, s.secCfg.JWT.Secret)
	if err != nil || claims.Scope != auth.ScopeAssistant {
		return "", false
	}
	return claims.Subject, true
}
