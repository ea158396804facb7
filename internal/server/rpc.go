package server

import (
	"bytes"
	"encoding/json"
	"net/http"

	"github.com/copyleftdev/spsa/internal/errors"
	"github.com/copyleftdev/spsa/internal/objectives"
	"github.com/copyleftdev/spsa/internal/optimization"
)

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *rpcError   `json:"error,omitempty"`
}

type jobParams struct {
	ID      string `json:"id"`
	History *bool  `json:"history,omitempty"`
}

// handleJSONRPC handles JSON-RPC 2.0 requests
func (s *Server) handleJSONRPC(w http.ResponseWriter, r *http.Request) {
	var request rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		s.respondWithError(w, errors.CodeParseError, "Parse error", nil)
		return
	}

	// Validate JSON-RPC 2.0 request
	if request.JSONRPC != "2.0" || request.Method == "" {
		s.respondWithError(w, errors.CodeInvalidRequest, "Invalid Request", request.ID)
		return
	}

	var result interface{}
	var err error

	switch request.Method {
	case "spsa.minimize":
		result, err = s.rpcMinimize(request.Params)
	case "spsa.status":
		result, err = s.rpcStatus(request.Params)
	case "spsa.cancel":
		result, err = s.rpcCancel(request.Params)
	case "spsa.objectives":
		result = objectives.List()
	default:
		s.respondWithError(w, errors.CodeMethodNotFound, "Method not found", request.ID)
		return
	}

	if err != nil {
		s.respondWithError(w, errors.RPCCode(err), err.Error(), request.ID)
		return
	}

	s.writeJSON(w, http.StatusOK, rpcResponse{
		JSONRPC: "2.0",
		ID:      request.ID,
		Result:  result,
	})
}

// rpcMinimize handles spsa.minimize.
// Params: {"objective": "sphere", "x0": [1, 2], "seed": 7, "settings": {...}}
// Returns: {"id": "...", "status": "pending", "seed": 7}
func (s *Server) rpcMinimize(raw json.RawMessage) (interface{}, error) {
	var req MinimizeRequest
	if err := decodeParams(raw, &req); err != nil {
		return nil, err
	}
	job, err := s.startJob(req)
	if err != nil {
		return nil, err
	}
	return startResponse{ID: job.ID, Status: StatusPending, Seed: job.Seed}, nil
}

// rpcStatus handles spsa.status.
// Params: {"id": "...", "history": false}
func (s *Server) rpcStatus(raw json.RawMessage) (interface{}, error) {
	var p jobParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	if p.ID == "" {
		return nil, optimization.NewError(optimization.KindInvalidArgument, "id is required")
	}
	return s.jobStatus(p.ID, p.History == nil || *p.History)
}

// rpcCancel handles spsa.cancel.
// Params: {"id": "..."}
func (s *Server) rpcCancel(raw json.RawMessage) (interface{}, error) {
	var p jobParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	if p.ID == "" {
		return nil, optimization.NewError(optimization.KindInvalidArgument, "id is required")
	}
	if err := s.cancelJob(p.ID); err != nil {
		return nil, err
	}
	return map[string]string{"status": "cancellation requested"}, nil
}

// decodeParams decodes params given either as an object or as an array
// holding one object.
func decodeParams(raw json.RawMessage, v interface{}) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return optimization.NewError(optimization.KindInvalidArgument, "missing required parameters")
	}
	if raw[0] == '[' {
		var list []json.RawMessage
		if err := json.Unmarshal(raw, &list); err != nil {
			return optimization.WrapError(err, optimization.KindInvalidArgument, "invalid parameters")
		}
		if len(list) == 0 {
			return optimization.NewError(optimization.KindInvalidArgument, "missing required parameters")
		}
		raw = list[0]
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return optimization.WrapError(err, optimization.KindInvalidArgument, "invalid parameters")
	}
	return nil
}

// respondWithError sends a JSON-RPC 2.0 error response
func (s *Server) respondWithError(w http.ResponseWriter, code int, message string, id interface{}) {
	s.logger.Warn("JSON-RPC error", map[string]interface{}{
		"code":    code,
		"message": message,
	})

	s.writeJSON(w, http.StatusOK, rpcResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &rpcError{Code: code, Message: message},
	})
}
