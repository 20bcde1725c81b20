package response

import (
	"encoding/json"
	"net/http"
)

// Error codes carried in the envelope. Clients map these back to typed errors.
const (
	CodeBadRequest          = "BAD_REQUEST"
	CodeValidation          = "VALIDATION_FAILED"
	CodeUnauthorized        = "UNAUTHORIZED"
	CodeForbidden           = "FORBIDDEN"
	CodeNotFound            = "NOT_FOUND"
	CodeReplayLimitExceeded = "REPLAY_LIMIT_EXCEEDED"
	CodeInternal            = "INTERNAL_ERROR"
)

var statusByCode = map[string]int{
	CodeBadRequest:          http.StatusBadRequest,
	CodeValidation:          http.StatusUnprocessableEntity,
	CodeUnauthorized:        http.StatusUnauthorized,
	CodeForbidden:           http.StatusForbidden,
	CodeNotFound:            http.StatusNotFound,
	CodeReplayLimitExceeded: http.StatusConflict,
	CodeInternal:            http.StatusInternalServerError,
}

// Response is the envelope every endpoint answers with
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *ErrorInfo  `json:"error,omitempty"`
}

// ErrorInfo describes a failed request. Fields lists per-field problems
// for validation failures.
type ErrorInfo struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Fields  interface{} `json:"fields,omitempty"`
}

func write(w http.ResponseWriter, status int, body Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// JSON sends data with an explicit status
func JSON(w http.ResponseWriter, status int, data interface{}) {
	write(w, status, Response{Success: status >= 200 && status < 300, Data: data})
}

// Fail sends an error envelope with the status registered for code
func Fail(w http.ResponseWriter, code, message string) {
	status, ok := statusByCode[code]
	if !ok {
		status = http.StatusInternalServerError
	}
	write(w, status, Response{Error: &ErrorInfo{Code: code, Message: message}})
}

func BadRequest(w http.ResponseWriter, message string) {
	Fail(w, CodeBadRequest, message)
}

// Invalid reports rejected input together with the offending fields
func Invalid(w http.ResponseWriter, message string, fields interface{}) {
	write(w, http.StatusUnprocessableEntity, Response{
		Error: &ErrorInfo{Code: CodeValidation, Message: message, Fields: fields},
	})
}

func Unauthorized(w http.ResponseWriter, message string) {
	Fail(w, CodeUnauthorized, message)
}

func Forbidden(w http.ResponseWriter, message string) {
	Fail(w, CodeForbidden, message)
}

func NotFound(w http.ResponseWriter, message string) {
	Fail(w, CodeNotFound, message)
}

// ReplayLimitExceeded tells a snap recipient the replay budget is spent
func ReplayLimitExceeded(w http.ResponseWriter, message string) {
	Fail(w, CodeReplayLimitExceeded, message)
}

func InternalError(w http.ResponseWriter, message string) {
	Fail(w, CodeInternal, message)
}

func OK(w http.ResponseWriter, data interface{}) {
	JSON(w, http.StatusOK, data)
}

func Created(w http.ResponseWriter, data interface{}) {
	JSON(w, http.StatusCreated, data)
}

// NoContent answers successful deletes
func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}
