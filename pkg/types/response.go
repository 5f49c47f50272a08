// Package types holds the HTTP envelope shapes every handler writes.
package types

// SuccessEnvelope wraps a 2xx body.
type SuccessEnvelope struct {
	Data any `json:"data"`
}

// APIError carries a stable machine code (VALIDATION_ERROR, CONFLICT, ...)
// next to a caller-safe message.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}
