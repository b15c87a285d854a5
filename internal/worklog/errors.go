package worklog

import "github.com/AnshRaj112/workbridge/internal/apierr"

var (
	// ErrInvalidOTP is returned when a submitted code does not match the live
	// code for that side, or no code is live.
	ErrInvalidOTP = apierr.ErrInvalidOTP
	// ErrOTPExpired is returned when the live code has passed its expiry. It
	// wraps ErrInvalidOTP so callers can treat both the same way.
	ErrOTPExpired = apierr.ErrOTPExpired
	// ErrInvalidTransition is returned when an operation is not allowed from
	// the work log's current status.
	ErrInvalidTransition = apierr.ErrInvalidTransition
	// ErrForbiddenRole is returned when the acting identity may not perform the
	// operation (employers generate, workers verify and upload).
	ErrForbiddenRole = apierr.ErrForbiddenRole
	// ErrPhotoRequired is returned when photo evidence carries no URL.
	ErrPhotoRequired = apierr.ErrPhotoRequired
)
