/*
Package resp writes the server's two kinds of HTTP responses: JSON for the
health endpoint and fixed plain-text bodies for handshake rejects.
*/
package resp

import (
	"encoding/json"
	"net/http"

	"tildechat/internal/pkg/errs"
)

// JSON writes payload with the given status. A marshal failure turns into a
// bare 500; there is nothing more useful to send.
func JSON(w http.ResponseWriter, status int, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, "encoding error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	w.Write(body)
}

// Reject answers with the error's diagnostic as a bare-text body. The
// wording of handshake rejects is part of the protocol surface and must
// reach the client without an envelope.
func Reject(w http.ResponseWriter, e *errs.CustomError) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(e.Status)
	w.Write([]byte(e.Message))
}
