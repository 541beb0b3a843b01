package api

import (
	"encoding/json"
	"net/http"

	coreerrors "github.com/mushimuro/agent-company/internal/errors"
)

// APIError is the standard error response format.
type APIError struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// JSONResponse writes a successful JSON response.
func JSONResponse(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(data)
}

// JSONResponseStatus writes a JSON response with a specific status code.
func JSONResponseStatus(w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// JSONError writes a simple error response.
func JSONError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(APIError{Error: message})
}

// HandleError inspects the error type and writes the appropriate response.
// CoreErrors carry their own status mapping; anything else is a 500.
func HandleError(w http.ResponseWriter, err error) {
	if ce := coreerrors.AsCoreError(err); ce != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(ce.HTTPStatus())
		_ = json.NewEncoder(w).Encode(APIError{
			Error:   ce.Error(),
			Code:    string(ce.Code),
			Details: ce.Details,
		})
		return
	}
	JSONError(w, err.Error(), http.StatusInternalServerError)
}

// NoContent writes a 204 No Content response.
func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// decodeJSON reads a request body into dst, rejecting unknown fields.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return coreerrors.ErrProtocol("invalid JSON body: " + err.Error())
	}
	return nil
}
