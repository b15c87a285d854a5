package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/AnshRaj112/workbridge/internal/apierr"
	"github.com/AnshRaj112/workbridge/internal/models"
	"github.com/AnshRaj112/workbridge/internal/services"
	"github.com/AnshRaj112/workbridge/internal/worklog"
)

// SessionStore resolves and issues bearer tokens.
type SessionStore interface {
	Validate(ctx context.Context, token string) (models.Identity, bool, error)
	Create(ctx context.Context, identity models.Identity) (string, error)
}

// ChatBackend is the message side of the API.
type ChatBackend interface {
	StartConversation(ctx context.Context, caller models.Identity, counterpartID string) (*models.Conversation, error)
	Conversations(ctx context.Context, caller models.Identity) ([]models.Conversation, error)
	History(ctx context.Context, caller models.Identity, conversationID string, before time.Time, limit int) ([]models.Message, error)
	Send(ctx context.Context, caller models.Identity, conversationID, text string) (*models.Message, error)
	MarkRead(ctx context.Context, caller models.Identity, conversationID string) ([]string, error)
}

// WorkLogBackend is the work-verification side of the API.
type WorkLogBackend interface {
	Get(ctx context.Context, caller models.Identity, jobID, workerID string) (*models.WorkLog, error)
	GenerateOTP(ctx context.Context, caller models.Identity, jobID, workerID string, side models.OTPSide) (*models.WorkLogOTPIssue, error)
	VerifyOTP(ctx context.Context, caller models.Identity, jobID, workerID string, side models.OTPSide, code string) (*models.WorkLog, error)
	AttachPhoto(ctx context.Context, caller models.Identity, jobID, workerID string, side models.OTPSide, content io.Reader, location *models.GeoPoint) (*models.WorkLog, error)
	ShareLocation(ctx context.Context, caller models.Identity, jobID string, point models.GeoPoint, workerName string) error
}

// NotificationBackend serves the notification feed.
type NotificationBackend interface {
	List(ctx context.Context, caller models.Identity, limit int) ([]models.Notification, error)
	MarkRead(ctx context.Context, caller models.Identity, id string) error
	MarkAllRead(ctx context.Context, caller models.Identity) (int64, error)
}

// SocketServer runs an authenticated socket connection.
type SocketServer interface {
	Serve(ctx context.Context, identity models.Identity, conn services.SocketConn)
}

// API holds the collaborators every handler needs.
type API struct {
	Sessions       SessionStore
	Chat           ChatBackend
	WorkLogs       WorkLogBackend
	Notifications  NotificationBackend
	Gateway        SocketServer
	AllowedOrigins []string
}

// Response is the envelope every JSON endpoint answers with.
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Code    string      `json:"code,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// Error codes returned in Response.Code.
const (
	CodeInvalidOTP        = apierr.CodeInvalidOTP
	CodeOTPExpired        = apierr.CodeOTPExpired
	CodeInvalidTransition = apierr.CodeInvalidTransition
	CodeForbiddenRole     = apierr.CodeForbiddenRole
	CodePhotoRequired     = apierr.CodePhotoRequired
	CodeNotFound          = apierr.CodeNotFound
	CodeForbidden         = apierr.CodeForbidden
	CodeInvalidInput      = apierr.CodeInvalidInput
	CodeUnavailable       = apierr.CodeUnavailable
	CodeUnauthorized      = apierr.CodeUnauthorized
	CodeInternal          = apierr.CodeInternal
)

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Response{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Response{Success: false, Code: code, Message: message})
}

// writeServiceError maps domain errors onto HTTP statuses. Unknown errors are
// logged and reported as a generic 500.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, worklog.ErrOTPExpired):
		writeError(w, http.StatusUnprocessableEntity, CodeOTPExpired, "The code has expired. Ask for a new one.")
	case errors.Is(err, worklog.ErrInvalidOTP):
		writeError(w, http.StatusUnprocessableEntity, CodeInvalidOTP, "The code is not valid.")
	case errors.Is(err, worklog.ErrInvalidTransition):
		writeError(w, http.StatusConflict, CodeInvalidTransition, err.Error())
	case errors.Is(err, worklog.ErrForbiddenRole):
		writeError(w, http.StatusForbidden, CodeForbiddenRole, "Your role cannot perform this action.")
	case errors.Is(err, worklog.ErrPhotoRequired):
		writeError(w, http.StatusBadRequest, CodePhotoRequired, "A photo is required.")
	case errors.Is(err, services.ErrNotFound):
		writeError(w, http.StatusNotFound, CodeNotFound, "Not found.")
	case errors.Is(err, services.ErrForbidden):
		writeError(w, http.StatusForbidden, CodeForbidden, "You are not part of this conversation.")
	case errors.Is(err, services.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, CodeInvalidInput, err.Error())
	case errors.Is(err, services.ErrUnavailable):
		writeError(w, http.StatusServiceUnavailable, CodeUnavailable, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, CodeUnavailable, "The request timed out.")
	default:
		log.Printf("[http] %s %s: %v", r.Method, r.URL.Path, err)
		writeError(w, http.StatusInternalServerError, CodeInternal, "Something went wrong.")
	}
}

// decodeBody reads a JSON body of at most 64 KiB into dst.
func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 64<<10)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidInput, "Invalid request body.")
		return false
	}
	return true
}

// requestTimeout bounds every storage round trip a handler makes.
const requestTimeout = 10 * time.Second
