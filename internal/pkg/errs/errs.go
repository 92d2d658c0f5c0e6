/*
Package errs provides the application error type and error-code constants.

This file defines the CustomError struct carrying a business code, the exact
diagnostic message sent to clients, and the HTTP status used when the error
surfaces before the WebSocket upgrade.
*/
package errs

import (
	"fmt"
	"net/http"

	"tildechat/internal/pkg/logx"
)

// CustomError is the error type used across the HTTP surface. Handshake
// rejects carry the protocol's fixed diagnostic bodies verbatim in Message.
type CustomError struct {
	// Code is the application error code (see error_codes.go).
	Code int

	// Message is the diagnostic sent to the client.
	Message string

	// Status is the HTTP status code for pre-upgrade errors.
	Status int
}

// Error implements the error interface.
func (e CustomError) Error() string {
	return fmt.Sprintf("Error Code %d (HTTP %d): %s", e.Code, e.Status, e.Message)
}

// NewError returns the CustomError registered for code. Unknown codes fall
// back to ErrUnknown after logging.
func NewError(code int) *CustomError {
	templateErr, ok := errorMap[code]

	if !ok {
		logx.Logger().Error().Int("requested_code", code).Msg("Unknown error code requested")

		unknownErr := errorMap[ErrUnknown]
		return &unknownErr
	}

	customErr := templateErr
	if customErr.Status == 0 {
		customErr.Status = http.StatusOK
	}

	return &customErr
}
