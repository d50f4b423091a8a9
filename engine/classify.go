package engine

import "strings"

// Delivery error kinds recorded on campaign messages for operator visibility.
const (
	ErrorKindInvalidNumber = "invalid_number"
	ErrorKindNetwork       = "network_error"
	ErrorKindSession       = "session_error"
	ErrorKindRateLimited   = "rate_limited"
	ErrorKindUnknown       = "unknown"
)

// ClassifyError maps a raw gateway error to an error kind by case-insensitive
// substring matching. Classification is recorded for visibility only; it does
// not change the retry decision.
func ClassifyError(err error) string {
	if err == nil {
		return ErrorKindUnknown
	}
	msg := strings.ToLower(err.Error())

	switch {
	case strings.Contains(msg, "not registered"):
		return ErrorKindInvalidNumber
	case strings.Contains(msg, "timeout"),
		strings.Contains(msg, "network"),
		strings.Contains(msg, "econnrefused"):
		return ErrorKindNetwork
	case strings.Contains(msg, "session"),
		strings.Contains(msg, "disconnected"),
		strings.Contains(msg, "expired"):
		return ErrorKindSession
	case strings.Contains(msg, "rate"),
		strings.Contains(msg, "limit"),
		strings.Contains(msg, "spam"):
		return ErrorKindRateLimited
	default:
		return ErrorKindUnknown
	}
}
