package http

import (
	"errors"
	"net/http"

	"google.golang.org/api/googleapi"
)

// quotaReasons are the Google API error reasons that mean the daily budget is
// gone rather than a transient per-second throttle.
var quotaReasons = map[string]bool{
	"quotaExceeded":          true,
	"dailyLimitExceeded":     true,
	"dailyLimitExceededUnreg": true,
}

// googleError is the decoded error envelope of a Google API response.
type googleError struct {
	*googleapi.Error
}

// parseGoogleError reads and closes resp.Body and decodes the Google API
// error envelope. Bodies that are not an envelope yield an error carrying only
// the status code.
func parseGoogleError(resp *http.Response) *googleError {
	defer resp.Body.Close()

	var apiErr *googleapi.Error
	if errors.As(googleapi.CheckResponse(resp), &apiErr) {
		return &googleError{apiErr}
	}
	return &googleError{&googleapi.Error{Code: resp.StatusCode}}
}

func (e *googleError) reason() string {
	for _, item := range e.Errors {
		if item.Reason != "" {
			return item.Reason
		}
	}
	return ""
}

func (e *googleError) isQuota() bool {
	for _, item := range e.Errors {
		if quotaReasons[item.Reason] {
			return true
		}
	}
	return false
}

// IsClientError checks if status code is a client error (4xx).
func IsClientError(statusCode int) bool {
	return statusCode >= 400 && statusCode < 500
}

// IsServerError checks if status code is a server error (5xx).
func IsServerError(statusCode int) bool {
	return statusCode >= 500 && statusCode < 600
}
