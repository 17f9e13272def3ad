package llm

import (
	"errors"
	"strings"
)

// ErrMissingCredential means a backend was configured without an API key.
// Fatal: the operator has to fix the configuration, retrying won't help.
var ErrMissingCredential = errors.New("missing API credential")

// InvalidResponseError means a backend call completed but its output could
// not be reduced to a usable answer key. Distinct from transport failures.
type InvalidResponseError struct {
	Msg string
}

func (e *InvalidResponseError) Error() string {
	return e.Msg
}

// Retryable reports whether the failure looks model/endpoint specific, in
// which case the next backend in the fallback chain is worth trying.
func (e *InvalidResponseError) Retryable() bool {
	return strings.Contains(e.Msg, "API 400") ||
		strings.Contains(e.Msg, "API 404") ||
		strings.Contains(strings.ToLower(e.Msg), "no candidate")
}

// invalidResponse converts any error into an *InvalidResponseError, or
// returns nil if err is not one.
func invalidResponse(err error) *InvalidResponseError {
	var ir *InvalidResponseError
	if errors.As(err, &ir) {
		return ir
	}
	return nil
}
