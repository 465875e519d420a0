package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/MJE43/forage-arena-go/internal/layout"
	"github.com/MJE43/forage-arena-go/internal/session"
	"github.com/MJE43/forage-arena-go/internal/store"
)

// EngineError is the JSON error envelope.
type EngineError struct {
	Type      string         `json:"type"`
	Message   string         `json:"message"`
	Context   map[string]any `json:"context,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
	Timestamp string         `json:"timestamp,omitempty"`
}

func (e EngineError) Error() string { return e.Message }

const (
	ErrTypeValidation       = "validation_error"
	ErrTypeUnknownCondition = "unknown_condition"
	ErrTypeNotFound         = "not_found"
	ErrTypeScript           = "script_error"
	ErrTypeTimeout          = "timeout"
	ErrTypeInternal         = "internal_error"
)

// ErrorCategory groups error types for log levels.
type ErrorCategory string

const (
	CategoryValidation ErrorCategory = "validation"
	CategoryClient     ErrorCategory = "client"
	CategorySystem     ErrorCategory = "system"
)

// GetErrorCategory returns the category for an error type.
func GetErrorCategory(errType string) ErrorCategory {
	switch errType {
	case ErrTypeValidation, ErrTypeUnknownCondition, ErrTypeScript:
		return CategoryValidation
	case ErrTypeNotFound:
		return CategoryClient
	default:
		return CategorySystem
	}
}

// ErrorBuilder assembles an EngineError.
type ErrorBuilder struct {
	errType   string
	message   string
	context   map[string]any
	requestID string
}

// NewError starts an error of the given type.
func NewError(errType, message string) *ErrorBuilder {
	return &ErrorBuilder{errType: errType, message: message, context: make(map[string]any)}
}

func (eb *ErrorBuilder) WithContext(key string, value any) *ErrorBuilder {
	eb.context[key] = value
	return eb
}

func (eb *ErrorBuilder) WithRequestID(id string) *ErrorBuilder {
	eb.requestID = id
	return eb
}

// WithCause records err's text under "cause".
func (eb *ErrorBuilder) WithCause(err error) *ErrorBuilder {
	if err != nil {
		eb.context["cause"] = err.Error()
	}
	return eb
}

func (eb *ErrorBuilder) Build() EngineError {
	e := EngineError{
		Type:      eb.errType,
		Message:   eb.message,
		RequestID: eb.requestID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if len(eb.context) > 0 {
		e.Context = eb.context
	}
	return e
}

// classify maps domain errors onto a status and error type.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, session.ErrUnknownSession):
		return http.StatusNotFound, ErrTypeNotFound
	case errors.Is(err, layout.ErrUnknownCondition), errors.Is(err, layout.ErrUnknownScheme):
		return http.StatusBadRequest, ErrTypeUnknownCondition
	case errors.Is(err, layout.ErrInvalidConfig):
		return http.StatusBadRequest, ErrTypeValidation
	default:
		return http.StatusInternalServerError, ErrTypeInternal
	}
}

// writeError logs and writes an EngineError.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, eb *ErrorBuilder) {
	e := eb.WithRequestID(middleware.GetReqID(r.Context())).
		WithContext("path", r.URL.Path).
		WithContext("method", r.Method).
		Build()

	kv := []any{"type", e.Type, "status", status, "request_id", e.RequestID, "path", r.URL.Path, "message", e.Message}
	if GetErrorCategory(e.Type) == CategorySystem {
		s.logger.Error("error_occurred", kv...)
	} else {
		s.logger.Warn("error_occurred", kv...)
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Engine-Version", EngineVersion)
	w.Header().Set("X-Error-Type", e.Type)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(e); err != nil {
		s.logger.Error("error_encode_failed", "err", err)
	}
}

// writeDomainError classifies err and writes it.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status, typ := classify(err)
	s.writeError(w, r, status, NewError(typ, err.Error()))
}

// writeValidation reports a bad request field.
func (s *Server) writeValidation(w http.ResponseWriter, r *http.Request, field, format string, args ...any) {
	s.writeError(w, r, http.StatusBadRequest,
		NewError(ErrTypeValidation, fmt.Sprintf("Validation failed: "+format, args...)).WithContext("field", field))
}
