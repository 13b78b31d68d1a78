package httpserver

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/brokkr/broker/internal/apierr"
)

// Respond writes a JSON response with the given status code.
func Respond(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if data == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("encoding response", "error", err)
	}
}

// ErrorResponse is the standard JSON error envelope: {error, message, detail?}.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Detail  any    `json:"detail,omitempty"`
}

// RespondError writes a JSON error response.
func RespondError(w http.ResponseWriter, status int, code string, message string) {
	Respond(w, status, ErrorResponse{Error: code, Message: message})
}

// RespondErr classifies err (via apierr, defaulting to Internal) and writes
// the corresponding status code and envelope. 5xx bodies never leak the
// underlying error text, only a generic message.
func RespondErr(w http.ResponseWriter, requestID string, err error) {
	ae, ok := apierr.As(err)
	if !ok {
		ae = apierr.Wrap(apierr.Internal, "internal error", err)
	}

	status := ae.Kind.StatusCode()
	message := ae.Message
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "error", err, "request_id", requestID)
		message = "internal error; request_id=" + requestID
		Respond(w, status, ErrorResponse{Error: ae.Kind.Code(), Message: message})
		return
	}

	Respond(w, status, ErrorResponse{Error: ae.Kind.Code(), Message: message, Detail: ae.Detail})
}
