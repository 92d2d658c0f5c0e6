/*
Package errs provides the application error type and error-code constants.

This file maps each code to its CustomError template. The handshake reject
messages are part of the protocol's compatibility surface and must not be
reworded.
*/
package errs

import "net/http"

// errorMap stores the CustomError template for every application error code.
var errorMap = map[int]CustomError{
	// 1xxx: Handshake and request handling errors
	ErrUsernameQueryFormat: {Code: ErrUsernameQueryFormat, Message: "INVALID USERNAME QUERY FORMAT", Status: http.StatusBadRequest},
	ErrUsernameEmpty:       {Code: ErrUsernameEmpty, Message: "USERNAME CANT BE EMPTY", Status: http.StatusBadRequest},
	ErrUsernameTooLarge:    {Code: ErrUsernameTooLarge, Message: "USERNAME TOO LARGE", Status: http.StatusBadRequest},
	ErrUsernameInvalid:     {Code: ErrUsernameInvalid, Message: "INVALID USERNAME", Status: http.StatusBadRequest},
	ErrRateLimitExceeded:   {Code: ErrRateLimitExceeded, Message: "Too many requests. Please try again later.", Status: http.StatusTooManyRequests},

	// 5xxx: Internal system errors
	ErrUnknown: {Code: ErrUnknown, Message: "Something went wrong. Please try again.", Status: http.StatusInternalServerError},
}
