package tts

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"epub2audiobook/internal/utils"
)

// SynthesisError reports a chunk that failed after all retry attempts.
// Chapter is the 1-based chapter number, matching log lines and output file
// names; Sequence is the chunk's 0-based position within the chapter.
type SynthesisError struct {
	Chapter  int
	Sequence int
	Err      error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("synthesis failed for chapter %d chunk %d: %v", e.Chapter, e.Sequence, e.Err)
}

func (e *SynthesisError) Unwrap() error { return e.Err }

// HTTPError is a non-2xx response from a TTS endpoint.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("tts request failed (status %d): %s", e.StatusCode, e.Body)
}

// IsTransient reports whether err is worth retrying: timeouts, rate-limit
// responses, and server errors are; cancellation, auth failures, and
// invalid-voice rejections are not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, utils.ErrConfiguration) {
		return false
	}

	var he *HTTPError
	if errors.As(err, &he) {
		return he.StatusCode == http.StatusRequestTimeout ||
			he.StatusCode == http.StatusTooManyRequests ||
			he.StatusCode >= 500
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne)
}
