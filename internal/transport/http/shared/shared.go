// Package shared holds the JSON envelope helpers every handler uses.
package shared

import (
	"encoding/json"
	"net/http"

	dErrors "custos/pkg/domain-errors"
)

// ErrorResponse is the uniform error envelope. Details carries the full
// list of unmet conditions for multi-failure validations such as the
// workspace activation gate.
type ErrorResponse struct {
	Error   string   `json:"error"`
	Message string   `json:"message"`
	Details []string `json:"details,omitempty"`
}

// WriteJSON writes a JSON body with the given status.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

// WriteError translates a domain error to its HTTP status and envelope.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	resp := ErrorResponse{
		Error:   string(code),
		Message: err.Error(),
		Details: dErrors.DetailsOf(err),
	}
	WriteJSON(w, dErrors.ToHTTPStatus(code), resp)
}

// Decode reads a JSON request body into dst, mapping malformed input to an
// invalid_input error.
func Decode(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return dErrors.New(dErrors.CodeInvalidInput, "invalid request body")
	}
	return nil
}
