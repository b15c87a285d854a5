package services

import "github.com/AnshRaj112/workbridge/internal/apierr"

var (
	// ErrNotFound is returned when a conversation, notification or work log
	// does not exist.
	ErrNotFound = apierr.ErrNotFound
	// ErrForbidden is returned when the caller is not a party to the resource.
	ErrForbidden = apierr.ErrForbidden
	// ErrInvalidInput is returned for requests that fail validation.
	ErrInvalidInput = apierr.ErrInvalidInput
)

// ErrUnavailable is returned when an optional backend (photo storage) is not
// configured.
var ErrUnavailable = apierr.ErrUnavailable
