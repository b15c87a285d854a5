package handlers

import (
	"context"
	"log"
	"net/http"
	"strings"

	"github.com/AnshRaj112/workbridge/internal/models"
)

type identityKey struct{}

// IdentityFrom returns the identity RequireSession stored on the request.
func IdentityFrom(ctx context.Context) (models.Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(models.Identity)
	return id, ok
}

func withIdentity(ctx context.Context, id models.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

func extractBearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}

// authenticate resolves the caller from the Authorization header, falling
// back to the token query parameter for browser WebSocket clients.
func (a *API) authenticate(r *http.Request, allowQuery bool) (models.Identity, bool) {
	token := extractBearerToken(r.Header.Get("Authorization"))
	if token == "" && allowQuery {
		token = r.URL.Query().Get("token")
	}
	if token == "" {
		return models.Identity{}, false
	}
	identity, ok, err := a.Sessions.Validate(r.Context(), token)
	if err != nil {
		log.Printf("[auth] session lookup failed: %v", err)
		return models.Identity{}, false
	}
	return identity, ok
}

// RequireSession rejects requests without a valid session token.
func (a *API) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := a.authenticate(r, false)
		if !ok {
			writeError(w, http.StatusUnauthorized, CodeUnauthorized, "Missing or invalid session token.")
			return
		}
		next.ServeHTTP(w, r.WithContext(withIdentity(r.Context(), identity)))
	})
}

// DevSessionRequest picks the identity a development session is issued for.
type DevSessionRequest struct {
	UserID string `json:"userId"`
	Role   string `json:"role"`
}

// DevSessionResponse carries the issued token.
type DevSessionResponse struct {
	Token    string          `json:"token"`
	Identity models.Identity `json:"identity"`
}

// DevSession issues a session for any identity. Identity and job management
// live outside this service, so this is how local clients log in; routes only
// mounts it outside production.
func (a *API) DevSession(w http.ResponseWriter, r *http.Request) {
	var req DevSessionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	role, err := models.ParseRole(req.Role)
	if err != nil || req.UserID == "" {
		writeError(w, http.StatusBadRequest, CodeInvalidInput, "userId and role (worker or employer) are required.")
		return
	}

	identity := models.Identity{ID: req.UserID, Role: role}
	token, err := a.Sessions.Create(r.Context(), identity)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, DevSessionResponse{Token: token, Identity: identity})
}
