/*
Package errs provides the application error type and error-code constants.

These codes identify the reasons a connection attempt or HTTP request can be
refused. Post-upgrade logical errors travel on the wire protocol instead
(see internal/pkg/wire).
*/
package errs

// 1xxx: Handshake and request handling errors
const (
	// ErrUsernameQueryFormat indicates the upgrade query string did not carry
	// exactly the one name parameter.
	ErrUsernameQueryFormat = 1001

	// ErrUsernameEmpty indicates a zero-length claimed name.
	ErrUsernameEmpty = 1002

	// ErrUsernameTooLarge indicates a claimed name longer than 255 bytes.
	ErrUsernameTooLarge = 1003

	// ErrUsernameInvalid indicates a reserved or already-taken name.
	ErrUsernameInvalid = 1004

	// ErrRateLimitExceeded indicates the request rate exceeded the limit.
	ErrRateLimitExceeded = 1007
)

// 5xxx: Internal system errors
const (
	// ErrUnknown represents an unclassified internal server error.
	ErrUnknown = 5000
)
