package ytingest

import (
	httpclient "ytingest/http"
	"ytingest/internal/retry"
	"ytingest/quota"
	"ytingest/storage"
	"ytingest/youtube"
)

// Error handling types exported for library users.
//
// Using errors.Is() for sentinel errors:
//
//	if errors.Is(err, ytingest.ErrQuotaExceeded) {
//		fmt.Println("budget spent, rerun later")
//	}
//
// Using errors.As() for wrapped errors:
//
//	var reqErr *ytingest.RequestError
//	if errors.As(err, &reqErr) {
//		fmt.Printf("%s failed: %v\n", reqErr.Endpoint, reqErr.Err)
//	}

// Type aliases for convenient error handling.
type (
	// QuotaExceededError reports which local budget ran out.
	QuotaExceededError = quota.ExceededError
	// UpstreamQuotaError is a quota rejection from the Data API.
	UpstreamQuotaError = httpclient.QuotaError
	// RequestError wraps a failed Data API request with its endpoint.
	RequestError = youtube.RequestError
	// RetryableError wraps errors that occurred after retries were exhausted.
	RetryableError = retry.RetryableError
	// StorageError wraps errors during storage operations.
	StorageError = storage.StorageError
)

// Sentinel errors exported from sub-packages.
var (
	// ErrQuotaExceeded matches every quota condition, local or upstream.
	ErrQuotaExceeded = quota.ErrExceeded

	ErrChannelNotFound       = youtube.ErrChannelNotFound
	ErrPlaylistNotFound      = youtube.ErrPlaylistNotFound
	ErrVideoNotFound         = youtube.ErrVideoNotFound
	ErrTranscriptRateLimited = youtube.ErrTranscriptRateLimited
	ErrTranscriptUnavailable = youtube.ErrTranscriptUnavailable

	// Storage errors
	ErrNotFound       = storage.ErrNotFound
	ErrInvalidInput   = storage.ErrInvalidInput
	ErrStorageCorrupt = storage.ErrStorageCorrupt
	ErrLockTimeout    = storage.ErrLockTimeout

	// ErrCircuitOpen is returned while the upstream circuit breaker is open.
	ErrCircuitOpen = httpclient.ErrCircuitOpen
)

// IsQuotaExceeded reports whether err ends a task early rather than the run.
func IsQuotaExceeded(err error) bool {
	return quota.IsExceeded(err)
}

// IsRetryable determines if an error should be retried.
func IsRetryable(err error) bool {
	return retry.IsRetryable(err)
}
