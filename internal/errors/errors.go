// Package errors classifies service errors for the HTTP and JSON-RPC
// surfaces of the SPSA optimization server.
package errors

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"

	"github.com/copyleftdev/spsa/internal/optimization"
)

var (
	// ErrNotFound is returned for unknown job IDs.
	ErrNotFound = stderrors.New("not found")
	// ErrConflict is returned for operations the job's state does not allow.
	ErrConflict = stderrors.New("conflict")
)

// JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeServerError    = -32000
	CodeNotFound       = -32001
	CodeConflict       = -32002
)

// StatusCode maps err to an HTTP status code.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case stderrors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case stderrors.Is(err, ErrConflict):
		return http.StatusConflict
	case stderrors.Is(err, context.Canceled):
		return http.StatusConflict
	}

	switch optimization.KindOf(err) {
	case optimization.KindInvalidArgument:
		return http.StatusBadRequest
	case optimization.KindShapeMismatch, optimization.KindNonFinite:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// RPCCode maps err to a JSON-RPC 2.0 error code.
func RPCCode(err error) int {
	switch StatusCode(err) {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return CodeInvalidParams
	case http.StatusNotFound:
		return CodeNotFound
	case http.StatusConflict:
		return CodeConflict
	default:
		return CodeServerError
	}
}

// Response is the JSON body written for a failed REST request.
type Response struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// WriteJSON writes err as a JSON error response with the status code
// StatusCode reports for it.
func WriteJSON(w http.ResponseWriter, err error) {
	resp := Response{Error: err.Error()}
	if kind := optimization.KindOf(err); kind != optimization.KindUnknown {
		resp.Kind = kind.String()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(StatusCode(err))
	_ = json.NewEncoder(w).Encode(resp)
}
