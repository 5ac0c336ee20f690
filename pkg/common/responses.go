package common

import (
	"encoding/json"
	"net/http"

	apperrors "crewcanvas/pkg/errors"
)

// APIResponse represents a standard API response
type APIResponse struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *ErrorInfo `json:"error,omitempty"`
}

// ErrorInfo contains error details
type ErrorInfo struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// RespondJSON sends a JSON response
func RespondJSON(w http.ResponseWriter, status int, data any) {
	response := APIResponse{
		Success: status >= 200 && status < 300,
		Data:    data,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(response)
}

// RespondError sends an error response
func RespondError(w http.ResponseWriter, status int, code, message string) {
	RespondErrorWithDetails(w, status, code, message, nil)
}

// RespondErrorWithDetails sends an error response with additional details
func RespondErrorWithDetails(w http.ResponseWriter, status int, code, message string, details map[string]any) {
	response := APIResponse{
		Success: false,
		Error: &ErrorInfo{
			Code:    code,
			Message: message,
			Details: details,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(response)
}

// RespondAppError maps err onto a status and error code. Errors that are not
// AppErrors are reported as internal errors without leaking their text.
func RespondAppError(w http.ResponseWriter, err error) {
	appErr := apperrors.GetAppError(err)
	if appErr == nil {
		RespondError(w, http.StatusInternalServerError, StandardErrorCodes.InternalError, "internal error")
		return
	}
	code := appErr.Code
	if code == "" {
		code = codeFor(appErr.Type)
	}
	RespondErrorWithDetails(w, apperrors.StatusOf(err), code, appErr.Message, appErr.Details)
}

func codeFor(t apperrors.ErrorType) string {
	switch t {
	case apperrors.ErrorTypeValidation:
		return StandardErrorCodes.ValidationError
	case apperrors.ErrorTypeNotFound:
		return StandardErrorCodes.NotFound
	case apperrors.ErrorTypeConflict:
		return StandardErrorCodes.Conflict
	case apperrors.ErrorTypeUnavailable:
		return StandardErrorCodes.ServiceUnavailable
	case apperrors.ErrorTypeNetwork, apperrors.ErrorTypeExternal:
		return StandardErrorCodes.BadGateway
	case apperrors.ErrorTypeTimeout:
		return StandardErrorCodes.Timeout
	default:
		return StandardErrorCodes.InternalError
	}
}

// StandardErrorCodes defines common error codes
var StandardErrorCodes = struct {
	ValidationError    string
	NotFound           string
	Conflict           string
	InternalError      string
	BadRequest         string
	BadGateway         string
	Timeout            string
	ServiceUnavailable string
}{
	ValidationError:    "VALIDATION_ERROR",
	NotFound:           "NOT_FOUND",
	Conflict:           "CONFLICT",
	InternalError:      "INTERNAL_ERROR",
	BadRequest:         "BAD_REQUEST",
	BadGateway:         "BAD_GATEWAY",
	Timeout:            "TIMEOUT",
	ServiceUnavailable: "SERVICE_UNAVAILABLE",
}

// ParseJSONBody parses JSON request body with size limit
func ParseJSONBody(r *http.Request, v any, maxBytes int64) error {
	r.Body = http.MaxBytesReader(nil, r.Body, maxBytes)

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()

	return decoder.Decode(v)
}
