package api

import (
	"errors"
	"html/template"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/casalink/casalink/internal/audit"
	"github.com/casalink/casalink/internal/auth"
	"github.com/casalink/casalink/internal/link"
)

// OAuth error codes per RFC 6749 §5.2.
const (
	oauthErrInvalidRequest = "invalid_request"
	oauthErrInvalidClient  = "invalid_client"
	oauthErrInvalidGrant   = "invalid_grant"
	oauthErrUnsupported    = "unsupported_grant_type"
)

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"` // seconds
	RefreshToken string `json:"refresh_token"`
}

// authorizePage is the minimal consent/login form served to the assistant
// platform's embedded browser during account linking.
var authorizePage = template.Must(template.New("authorize").Parse(`<!DOCTYPE html>
<html>
<head><title>Link your CasaLink account</title></head>
<body>
<h1>Link your CasaLink account</h1>
{{if .Error}}<p>{{.Error}}</p>{{end}}
<form method="POST" action="/oauth/authorize">
<input type="hidden" name="client_id" value="{{.ClientID}}">
<input type="hidden" name="redirect_uri" value="{{.RedirectURI}}">
<input type="hidden" name="state" value="{{.State}}">
<label>Username <input type="text" name="username" autocomplete="username"></label>
<label>Password <input type="password" name="password" autocomplete="current-password"></label>
<button type="submit">Sign in and link</button>
</form>
</body>
</html>
`))

type authorizePageData struct {
	ClientID    string
	RedirectURI string
	State       string
	Error       string
}

// handleAuthorizeForm serves the login form that starts the linking flow.
func (s *Server) handleAuthorizeForm(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("response_type") != "code" {
		writeOAuthError(w, http.StatusBadRequest, oauthErrInvalidRequest, "response_type must be code")
		return
	}
	if !s.validClientRedirect(q.Get("client_id"), q.Get("redirect_uri")) {
		writeOAuthError(w, http.StatusBadRequest, oauthErrInvalidClient, "unknown client or redirect URI")
		return
	}

	s.renderAuthorizePage(w, http.StatusOK, authorizePageData{
		ClientID:    q.Get("client_id"),
		RedirectURI: q.Get("redirect_uri"),
		State:       q.Get("state"),
	})
}

// handleAuthorize verifies the submitted credentials and redirects back to
// the assistant platform with a short-lived single-use authorization code.
func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, http.StatusBadRequest, oauthErrInvalidRequest, "invalid form body")
		return
	}

	clientID := r.PostFormValue("client_id")
	redirectURI := r.PostFormValue("redirect_uri")
	state := r.PostFormValue("state")
	if !s.validClientRedirect(clientID, redirectURI) {
		writeOAuthError(w, http.StatusBadRequest, oauthErrInvalidClient, "unknown client or redirect URI")
		return
	}

	user, err := s.authenticate(r, r.PostFormValue("username"), r.PostFormValue("password"))
	if err != nil {
		s.renderAuthorizePage(w, http.StatusUnauthorized, authorizePageData{
			ClientID:    clientID,
			RedirectURI: redirectURI,
			State:       state,
			Error:       "Invalid username or password.",
		})
		return
	}

	code, err := auth.GenerateRefreshToken()
	if err != nil {
		s.logger.Error("generating authorization code", "error", err)
		writeOAuthError(w, http.StatusInternalServerError, oauthErrInvalidRequest, "failed to issue code")
		return
	}

	expiresAt := time.Now().UTC().Add(time.Duration(s.secCfg.OAuth.CodeTTL) * time.Second)
	if err := s.codes.Insert(r.Context(), auth.HashToken(code), user.ID, expiresAt); err != nil {
		s.logger.Error("storing authorization code", "error", err)
		writeOAuthError(w, http.StatusInternalServerError, oauthErrInvalidRequest, "failed to issue code")
		return
	}

	target, err := url.Parse(redirectURI)
	if err != nil {
		writeOAuthError(w, http.StatusBadRequest, oauthErrInvalidRequest, "invalid redirect URI")
		return
	}
	q := target.Query()
	q.Set("code", code)
	q.Set("state", state)
	target.RawQuery = q.Encode()

	s.logger.Info("authorization code issued", "user_id", user.ID, "client_id", clientID)
	http.Redirect(w, r, target.String(), http.StatusFound)
}

// handleToken exchanges credentials for an assistant token pair.
//
// grant_type=authorization_code consumes a code and creates a fresh account
// link under a new subject. grant_type=refresh_token rotates both tokens on
// an existing link; the previous refresh token stops resolving.
func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, http.StatusBadRequest, oauthErrInvalidRequest, "invalid form body")
		return
	}

	if r.PostFormValue("client_id") != s.secCfg.OAuth.ClientID ||
		r.PostFormValue("client_secret") != s.secCfg.OAuth.ClientSecret {
		writeOAuthError(w, http.StatusUnauthorized, oauthErrInvalidClient, "client authentication failed")
		return
	}

	switch r.PostFormValue("grant_type") {
	case "authorization_code":
		s.exchangeCode(w, r)
	case "refresh_token":
		s.refreshTokens(w, r)
	default:
		writeOAuthError(w, http.StatusBadRequest, oauthErrUnsupported, "grant_type must be authorization_code or refresh_token")
	}
}

// exchangeCode consumes an authorization code and creates the account link.
func (s *Server) exchangeCode(w http.ResponseWriter, r *http.Request) {
	code := r.PostFormValue("code")
	if code == "" {
		writeOAuthError(w, http.StatusBadRequest, oauthErrInvalidRequest, "code is required")
		return
	}

	userID, err := s.codes.Consume(r.Context(), auth.HashToken(code))
	if err != nil {
		if errors.Is(err, link.ErrCodeInvalid) {
			writeOAuthError(w, http.StatusBadRequest, oauthErrInvalidGrant, "authorization code is invalid or expired")
			return
		}
		s.logger.Error("consuming authorization code", "error", err)
		writeOAuthError(w, http.StatusInternalServerError, oauthErrInvalidRequest, "failed to exchange code")
		return
	}

	subject := uuid.NewString()
	access, refresh, expiresAt, err := s.issueAssistantTokens(subject)
	if err != nil {
		s.logger.Error("issuing assistant tokens", "error", err)
		writeOAuthError(w, http.StatusInternalServerError, oauthErrInvalidRequest, "failed to issue tokens")
		return
	}

	l := &link.AccountLink{
		UserID:           userID,
		Subject:          subject,
		AccessTokenHash:  auth.HashToken(access),
		RefreshTokenHash: auth.HashToken(refresh),
		ExpiresAt:        expiresAt,
	}
	if err := s.links.Create(r.Context(), l); err != nil {
		s.logger.Error("creating account link", "error", err)
		writeOAuthError(w, http.StatusInternalServerError, oauthErrInvalidRequest, "failed to create link")
		return
	}

	s.logger.Info("account linked", "user_id", userID, "subject", subject)
	s.recordAudit(r.Context(), audit.Entry{
		Action:     audit.ActionLinkCreated,
		EntityType: audit.EntityLink,
		EntityID:   subject,
		UserID:     userID,
		Source:     audit.SourceOAuth,
	})
	s.writeTokenPair(w, access, refresh, expiresAt)
}

// refreshTokens rotates the token pair on an existing link.
func (s *Server) refreshTokens(w http.ResponseWriter, r *http.Request) {
	refresh := r.PostFormValue("refresh_token")
	if refresh == "" {
		writeOAuthError(w, http.StatusBadRequest, oauthErrInvalidRequest, "refresh_token is required")
		return
	}

	l, err := s.links.GetByRefreshHash(r.Context(), auth.HashToken(refresh))
	if err != nil {
		if errors.Is(err, link.ErrNotFound) {
			writeOAuthError(w, http.StatusBadRequest, oauthErrInvalidGrant, "refresh token is invalid or revoked")
			return
		}
		s.logger.Error("resolving refresh token", "error", err)
		writeOAuthError(w, http.StatusInternalServerError, oauthErrInvalidRequest, "failed to refresh tokens")
		return
	}

	access, newRefresh, expiresAt, err := s.issueAssistantTokens(l.Subject)
	if err != nil {
		s.logger.Error("issuing assistant tokens", "error", err)
		writeOAuthError(w, http.StatusInternalServerError, oauthErrInvalidRequest, "failed to issue tokens")
		return
	}

	if err := s.links.RotateTokens(r.Context(), l.ID, auth.HashToken(access), auth.HashToken(newRefresh), expiresAt); err != nil {
		s.logger.Error("rotating link tokens", "error", err)
		writeOAuthError(w, http.StatusInternalServerError, oauthErrInvalidRequest, "failed to refresh tokens")
		return
	}

	s.writeTokenPair(w, access, newRefresh, expiresAt)
}

// issueAssistantTokens mints an assistant-scope access token and a fresh
// refresh token for a link subject.
func (s *Server) issueAssistantTokens(subject string) (access, refresh string, expiresAt time.Time, err error) {
	access, err = auth.GenerateAccessToken(subject, auth.ScopeAssistant, s.secCfg.JWT.Secret, s.secCfg.JWT.AccessTokenTTL)
	if err != nil {
		return "", "", time.Time{}, err
	}
	refresh, err = auth.GenerateRefreshToken()
	if err != nil {
		return "", "", time.Time{}, err
	}
	expiresAt = time.Now().UTC().Add(time.Duration(s.secCfg.JWT.AccessTokenTTL) * time.Minute)
	return access, refresh, expiresAt, nil
}

func (s *Server) writeTokenPair(w http.ResponseWriter, access, refresh string, expiresAt time.Time) {
	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken:  access,
		TokenType:    "Bearer",
		ExpiresIn:    int(time.Until(expiresAt).Seconds()),
		RefreshToken: refresh,
	})
}

// validClientRedirect checks the client ID and redirect URI against the
// configured assistant platform credentials. Exact string match on the
// redirect URI; no wildcard or prefix matching.
func (s *Server) validClientRedirect(clientID, redirectURI string) bool {
	if clientID != s.secCfg.OAuth.ClientID {
		return false
	}
	for _, allowed := range s.secCfg.OAuth.RedirectURIs {
		if allowed == redirectURI {
			return true
		}
	}
	return false
}

func (s *Server) renderAuthorizePage(w http.ResponseWriter, status int, data authorizePageData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := authorizePage.Execute(w, data); err != nil {
		s.logger.Error("rendering authorize page", "error", err)
	}
}

// writeOAuthError writes an RFC 6749 error object.
func writeOAuthError(w http.ResponseWriter, status int, code, description string) {
	writeJSON(w, status, map[string]string{
		"error":             code,
		"error_description": description,
	})
}
