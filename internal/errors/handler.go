package errors

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime"
	"runtime/debug"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"almcli/internal/alm"
)

// Common error types following RFC 7807
const (
	TypeValidation      = "/errors/validation"
	TypeNotFound        = "/errors/not-found"
	TypeMethodNotAllow  = "/errors/method-not-allowed"
	TypeRateLimit       = "/errors/rate-limit"
	TypeInternal        = "/errors/internal"
	TypeServiceDown     = "/errors/service-unavailable"
	TypeTimeout         = "/errors/timeout"
	TypeConflict        = "/errors/conflict"
	TypePayloadTooLarge = "/errors/payload-too-large"
)

// Engine error types
const (
	TypeInvalidMaturity          = "/errors/alm/invalid-maturity"
	TypeInvalidConfiguration     = "/errors/alm/invalid-configuration"
	TypeMissingSeries            = "/errors/alm/missing-series"
	TypeMissingCurve             = "/errors/alm/missing-curve"
	TypeCalibrationInconsistency = "/errors/alm/calibration-inconsistency"
	TypeExportFailed             = "/errors/export/failed"
)

// ErrorHandler provides centralized error handling
type ErrorHandler struct {
	logger       *slog.Logger
	includeStack bool
}

// NewErrorHandler creates a new error handler
func NewErrorHandler(logger *slog.Logger, includeStack bool) *ErrorHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ErrorHandler{
		logger:       logger.With(slog.String("component", "error_handler")),
		includeStack: includeStack,
	}
}

// HandleError converts any error to RFC 7807 format and responds
func (h *ErrorHandler) HandleError(w http.ResponseWriter, r *http.Request, err error) {
	if err == nil {
		return
	}

	reqID := middleware.GetReqID(r.Context())
	problem := h.ErrorToProblem(err, r)

	level := slog.LevelWarn
	if problem.Status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	h.logger.Log(r.Context(), level, "request failed",
		slog.String("error", err.Error()),
		slog.Int("status", problem.Status),
		slog.String("type", problem.Type),
		slog.String("request_id", reqID),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
	)

	problem.WithExtension("trace_id", reqID)
	if h.includeStack && problem.Status >= http.StatusInternalServerError {
		problem.WithExtension("stack", getStackTrace())
	}
	WriteProblem(w, problem)
}

// ErrorToProblem converts an error to RFC 7807 Problem Details
func (h *ErrorHandler) ErrorToProblem(err error, r *http.Request) *ProblemDetails {
	path := r.URL.Path

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return NewProblemDetails(
			http.StatusGatewayTimeout,
			TypeTimeout,
			"Request Timeout",
			"The request took too long to process and was cancelled",
			path,
		)
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return h.apiErrorToProblem(apiErr, r)
	}

	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) {
		return NewProblemDetails(
			http.StatusBadRequest,
			TypeValidation,
			"Validation Failed",
			"Request validation failed",
			path,
		).WithExtension("errors", FieldErrors(fieldErrs))
	}

	if p := engineProblem(err, path); p != nil {
		return p
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		switch appErr.Type {
		case ErrTypeNotFound:
			return NewProblemDetails(http.StatusNotFound, TypeNotFound, "Resource Not Found", appErr.Message, path)
		case ErrTypeExport:
			return NewProblemDetails(http.StatusInternalServerError, TypeExportFailed, "Export Failed", appErr.Message, path)
		case ErrTypeValidation, ErrTypeConfig:
			return NewProblemDetails(http.StatusBadRequest, TypeValidation, "Validation Failed", appErr.Message, path)
		}
	}

	return NewProblemDetails(
		http.StatusInternalServerError,
		TypeInternal,
		"Internal Server Error",
		"An unexpected error occurred while processing your request",
		path,
	)
}

// engineProblem maps the calculation engine's error taxonomy.
func engineProblem(err error, path string) *ProblemDetails {
	var p *ProblemDetails
	switch {
	case errors.Is(err, alm.ErrInvalidMaturity):
		p = NewProblemDetails(http.StatusBadRequest, TypeInvalidMaturity, "Invalid Maturity", err.Error(), path).
			WithExtension("supported", alm.SupportedMaturities)
	case errors.Is(err, alm.ErrInvalidConfiguration):
		p = NewProblemDetails(http.StatusBadRequest, TypeInvalidConfiguration, "Invalid Configuration", err.Error(), path)
		var ve *alm.ValidationError
		if errors.As(err, &ve) && ve.Field != "" {
			p.WithExtension("field", ve.Field)
		}
	case errors.Is(err, alm.ErrMissingSeries):
		p = NewProblemDetails(http.StatusUnprocessableEntity, TypeMissingSeries, "Missing Series", err.Error(), path)
		var se *alm.SeriesError
		if errors.As(err, &se) {
			p.WithExtension("series", se.Series)
			if se.Column != "" {
				p.WithExtension("column", se.Column)
			}
		}
	case errors.Is(err, alm.ErrMissingCurve):
		p = NewProblemDetails(http.StatusConflict, TypeMissingCurve, "Missing Curve", err.Error(), path)
	case errors.Is(err, alm.ErrCalibrationInconsistency):
		p = NewProblemDetails(http.StatusUnprocessableEntity, TypeCalibrationInconsistency, "Calibration Inconsistency", err.Error(), path)
	}
	return p
}

// apiErrorToProblem converts APIError to ProblemDetails
func (h *ErrorHandler) apiErrorToProblem(apiErr *APIError, r *http.Request) *ProblemDetails {
	problemType := TypeInternal
	switch apiErr.ErrorCode {
	case "VALIDATION_FAILED", "INVALID_REQUEST", "MISSING_PARAMETER", "INVALID_PARAMETER":
		problemType = TypeValidation
	case "NOT_FOUND", "REPORT_NOT_FOUND":
		problemType = TypeNotFound
	case "CONFLICT":
		problemType = TypeConflict
	case "RATE_LIMIT_EXCEEDED":
		problemType = TypeRateLimit
	case "EXPORT_FAILED":
		problemType = TypeExportFailed
	case "SERVICE_UNAVAILABLE":
		problemType = TypeServiceDown
	}

	problem := NewProblemDetails(
		apiErr.StatusCode,
		problemType,
		http.StatusText(apiErr.StatusCode),
		apiErr.Message,
		r.URL.Path,
	).WithExtension("error_code", apiErr.ErrorCode)

	if apiErr.Details != nil {
		problem.WithExtension("details", apiErr.Details)
	}
	return problem
}

// FieldErrors flattens validator errors into field/message pairs
func FieldErrors(errs validator.ValidationErrors) []ValidationError {
	out := make([]ValidationError, 0, len(errs))
	for _, fe := range errs {
		msg := fmt.Sprintf("failed on %s", fe.Tag())
		if fe.Param() != "" {
			msg = fmt.Sprintf("failed on %s=%s", fe.Tag(), fe.Param())
		}
		out = append(out, ValidationError{Field: fe.Field(), Message: msg})
	}
	return out
}

// HandlePanic recovers from panics and returns RFC 7807 error
func (h *ErrorHandler) HandlePanic(w http.ResponseWriter, r *http.Request, recovered interface{}) {
	reqID := middleware.GetReqID(r.Context())

	h.logger.ErrorContext(r.Context(), "panic recovered",
		slog.Any("panic", recovered),
		slog.String("request_id", reqID),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("stack", string(debug.Stack())),
	)

	problem := NewProblemDetails(
		http.StatusInternalServerError,
		TypeInternal,
		"Internal Server Error",
		"An unexpected error occurred",
		r.URL.Path,
	).WithExtension("trace_id", reqID)

	if h.includeStack {
		problem.WithExtension("panic", fmt.Sprintf("%v", recovered))
		problem.WithExtension("stack", getStackTrace())
	}
	WriteProblem(w, problem)
}

// NotFound returns a standard 404 error
func (h *ErrorHandler) NotFound(w http.ResponseWriter, r *http.Request) {
	WriteProblem(w, NewProblemDetails(
		http.StatusNotFound,
		TypeNotFound,
		"Not Found",
		"The requested resource was not found",
		r.URL.Path,
	).WithExtension("trace_id", middleware.GetReqID(r.Context())))
}

// MethodNotAllowed returns a standard 405 error
func (h *ErrorHandler) MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	WriteProblem(w, NewProblemDetails(
		http.StatusMethodNotAllowed,
		TypeMethodNotAllow,
		"Method Not Allowed",
		fmt.Sprintf("Method %s is not allowed for this endpoint", r.Method),
		r.URL.Path,
	).WithExtension("trace_id", middleware.GetReqID(r.Context())))
}

// getStackTrace returns the current stack trace
func getStackTrace() string {
	buf := make([]byte, 1024*8)
	n := runtime.Stack(buf, false)
	return string(buf[:n])
}
