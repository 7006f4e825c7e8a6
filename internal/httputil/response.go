package httputil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/R3E-Network/storefront/internal/errors"
	"github.com/R3E-Network/storefront/pkg/logger"
)

// MaxJSONBody caps request bodies accepted by DecodeJSON.
const MaxJSONBody = 1 << 20

// ErrorBody is the JSON envelope used for every error response.
type ErrorBody struct {
	Error   ErrorPayload `json:"error"`
	TraceID string       `json:"trace_id,omitempty"`
}

// ErrorPayload describes a single error.
type ErrorPayload struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// WriteJSON encodes data with the given status.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(data)
}

// WriteErrorResponse writes the error envelope.
func WriteErrorResponse(w http.ResponseWriter, r *http.Request, status int, code, message string, details map[string]interface{}) {
	body := ErrorBody{Error: ErrorPayload{Code: code, Message: message, Details: details}}
	if r != nil {
		body.TraceID = logger.GetTraceID(r.Context())
	}
	WriteJSON(w, status, body)
}

// WriteError renders any error. Service errors keep their code and status;
// anything else becomes an opaque 500.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	svcErr := errors.GetServiceError(err)
	if svcErr == nil {
		svcErr = errors.Internal("internal server error", err)
	}
	WriteErrorResponse(w, r, svcErr.HTTPStatus, string(svcErr.Code), svcErr.Message, svcErr.Details)
}

// Unauthorized writes a 401 envelope.
func Unauthorized(w http.ResponseWriter, message string) {
	e := errors.Unauthorized(message)
	WriteErrorResponse(w, nil, e.HTTPStatus, string(e.Code), e.Message, nil)
}

// Forbidden writes a 403 envelope.
func Forbidden(w http.ResponseWriter, message string) {
	e := errors.Forbidden(message)
	WriteErrorResponse(w, nil, e.HTTPStatus, string(e.Code), e.Message, nil)
}

// DecodeJSON decodes a bounded request body into dst, rejecting unknown fields.
func DecodeJSON(r *http.Request, dst interface{}) error {
	defer r.Body.Close()
	dec := json.NewDecoder(io.LimitReader(r.Body, MaxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if err == io.EOF {
			return errors.Validation("request body is empty")
		}
		return errors.Validation(fmt.Sprintf("invalid JSON body: %v", err))
	}
	return nil
}

// ReadAllWithLimit reads up to limit bytes and reports whether more remained.
func ReadAllWithLimit(r io.Reader, limit int64) ([]byte, bool, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, false, err
	}
	if int64(len(data)) > limit {
		return data[:limit], true, nil
	}
	return data, false, nil
}

// ReadAllStrict reads r and fails when it exceeds limit bytes.
func ReadAllStrict(r io.Reader, limit int64) ([]byte, error) {
	data, truncated, err := ReadAllWithLimit(r, limit)
	if err != nil {
		return nil, err
	}
	if truncated {
		return nil, fmt.Errorf("body exceeds %d bytes", limit)
	}
	return data, nil
}
