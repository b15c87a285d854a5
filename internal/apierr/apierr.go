// Package apierr holds the errors shared by the server and the API client,
// together with the codes that carry them over the wire.
package apierr

import (
	"errors"
	"fmt"
)

// Codes sent in the "code" field of a failed response.
const (
	CodeInvalidOTP        = "invalid_otp"
	CodeOTPExpired        = "otp_expired"
	CodeInvalidTransition = "invalid_transition"
	CodeForbiddenRole     = "forbidden_role"
	CodePhotoRequired     = "photo_required"
	CodeNotFound          = "not_found"
	CodeForbidden         = "forbidden"
	CodeInvalidInput      = "invalid_input"
	CodeUnavailable       = "unavailable"
	CodeUnauthorized      = "unauthorized"
	CodeInternal          = "internal"
)

var (
	ErrInvalidOTP = errors.New("worklog: invalid otp")
	// ErrOTPExpired wraps ErrInvalidOTP.
	ErrOTPExpired        = fmt.Errorf("%w: expired", ErrInvalidOTP)
	ErrInvalidTransition = errors.New("worklog: invalid transition")
	ErrForbiddenRole     = errors.New("worklog: forbidden for role")
	ErrPhotoRequired     = errors.New("worklog: photo is required")

	ErrNotFound     = errors.New("services: not found")
	ErrForbidden    = errors.New("services: forbidden")
	ErrInvalidInput = errors.New("services: invalid input")
	ErrUnavailable  = errors.New("services: unavailable")
)

var byCode = map[string]error{
	CodeInvalidOTP:        ErrInvalidOTP,
	CodeOTPExpired:        ErrOTPExpired,
	CodeInvalidTransition: ErrInvalidTransition,
	CodeForbiddenRole:     ErrForbiddenRole,
	CodePhotoRequired:     ErrPhotoRequired,
	CodeNotFound:          ErrNotFound,
	CodeForbidden:         ErrForbidden,
	CodeInvalidInput:      ErrInvalidInput,
	CodeUnavailable:       ErrUnavailable,
}

// ForCode returns the sentinel a code stands for, or nil.
func ForCode(code string) error {
	return byCode[code]
}
