package apiclient

import (
	"fmt"

	"github.com/AnshRaj112/workbridge/internal/apierr"
)

// APIError is a non-2xx answer. errors.Is matches it against the apierr
// sentinel named by its code, so callers handle remote and local failures
// alike.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api: %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("api: %d: %s", e.Status, e.Message)
}

func (e *APIError) Unwrap() error {
	return apierr.ForCode(e.Code)
}
