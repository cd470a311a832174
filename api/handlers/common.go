// Package handlers implements the HTTP request surface of the engine.
package handlers

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/BaSui01/graphflow/types"
)

// ErrorResponse is the non-streaming error body.
type ErrorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// WriteJSON writes a JSON body with the given status.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// WriteError writes a typed error as a JSON response. Unknown errors become a
// generic 500 without leaking internals.
func WriteError(w http.ResponseWriter, err error, logger *zap.Logger) {
	status := http.StatusInternalServerError
	code := string(types.ErrInternalError)
	message := "internal error"

	if typed, ok := err.(*types.Error); ok {
		code = string(typed.Code)
		message = typed.Message
		if typed.HTTPStatus != 0 {
			status = typed.HTTPStatus
		} else if typed.Code == types.ErrValidation || typed.Code == types.ErrInvalidRequest {
			status = http.StatusBadRequest
		} else if typed.Code == types.ErrNotFound {
			status = http.StatusNotFound
		}
	}

	logger.Warn("request failed",
		zap.String("code", code),
		zap.Int("status", status),
		zap.Error(err),
	)

	var body ErrorResponse
	body.Error.Code = code
	body.Error.Message = message
	WriteJSON(w, status, body)
}

// DecodeJSONBody decodes the request body into target, writing a 400 on
// failure. The returned bool reports success.
func DecodeJSONBody(w http.ResponseWriter, r *http.Request, target any, logger *zap.Logger) bool {
	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
		WriteError(w, types.NewError(types.ErrInvalidRequest, "malformed JSON body").
			WithHTTPStatus(http.StatusBadRequest).WithCause(err), logger)
		return false
	}
	return true
}

// RequireMethod rejects other methods with 405.
func RequireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		w.Header().Set("Allow", method)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}
