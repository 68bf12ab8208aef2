package middleware

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"almcli/internal/alm"
	apierrors "almcli/internal/errors"
	"almcli/internal/exporter"
)

// DefaultMaxBodySize bounds JSON request bodies.
const DefaultMaxBodySize = 1 << 20

// Validator validates request bodies and query structs with struct tags.
// Besides the built-in tags it understands "maturity", "report" and
// "format", backed by the engine's and exporter's parsers.
type Validator struct {
	validate     *validator.Validate
	logger       *slog.Logger
	errorHandler *apierrors.ErrorHandler
	maxBodySize  int64
}

// NewValidator creates a new request validator
func NewValidator(logger *slog.Logger, errorHandler *apierrors.ErrorHandler) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	v := validator.New()
	_ = v.RegisterValidation("maturity", isMaturity)
	_ = v.RegisterValidation("report", isReportName)
	_ = v.RegisterValidation("format", isExportFormat)

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		for _, tag := range []string{"json", "query"} {
			name := strings.SplitN(fld.Tag.Get(tag), ",", 2)[0]
			if name == "-" {
				return ""
			}
			if name != "" {
				return name
			}
		}
		return fld.Name
	})

	return &Validator{
		validate:     v,
		logger:       logger.With(slog.String("component", "validation")),
		errorHandler: errorHandler,
		maxBodySize:  DefaultMaxBodySize,
	}
}

// ValidateRequest rejects oversized or malformed JSON bodies before they
// reach a handler.
func (v *Validator) ValidateRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		if r.ContentLength > v.maxBodySize {
			v.errorHandler.HandleError(w, r, apierrors.NewWithDetails(
				http.StatusRequestEntityTooLarge,
				"PAYLOAD_TOO_LARGE",
				"Request body exceeds maximum allowed size",
				map[string]interface{}{"max_size": v.maxBodySize, "size": r.ContentLength},
			))
			return
		}

		if r.Body != nil && r.Body != http.NoBody {
			body, err := io.ReadAll(io.LimitReader(r.Body, v.maxBodySize+1))
			if err != nil {
				v.logger.WarnContext(r.Context(), "failed to read request body",
					slog.String("error", err.Error()),
					slog.String("request_id", GetRequestID(r.Context())),
				)
				v.errorHandler.HandleError(w, r, apierrors.InvalidRequestWithError(err))
				return
			}
			if int64(len(body)) > v.maxBodySize {
				v.errorHandler.HandleError(w, r, apierrors.New(
					http.StatusRequestEntityTooLarge,
					"PAYLOAD_TOO_LARGE",
					"Request body exceeds maximum allowed size",
				))
				return
			}
			if len(bytes.TrimSpace(body)) > 0 && !json.Valid(body) {
				v.errorHandler.HandleError(w, r, apierrors.New(
					http.StatusBadRequest,
					"INVALID_REQUEST",
					"Request body contains invalid JSON",
				))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))
		}

		next.ServeHTTP(w, r)
	})
}

// Struct validates s and converts failures to a 400 APIError listing every
// offending field.
func (v *Validator) Struct(s interface{}) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return apierrors.InvalidRequestWithError(err)
	}
	out := make([]apierrors.ValidationError, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		out = append(out, apierrors.ValidationError{
			Field:   fe.Field(),
			Message: formatValidationError(fe),
		})
	}
	return apierrors.NewValidationErrors(out)
}

// DecodeJSON decodes the request body into dst and validates it.
func (v *Validator) DecodeJSON(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return apierrors.New(http.StatusBadRequest, "INVALID_REQUEST", "Request body is empty")
		}
		return apierrors.InvalidRequestWithError(err)
	}
	if reflect.Indirect(reflect.ValueOf(dst)).Kind() != reflect.Struct {
		return nil
	}
	return v.Struct(dst)
}

// ContentTypeValidator ensures requests with a body declare an allowed type
func ContentTypeValidator(errorHandler *apierrors.ErrorHandler, contentTypes ...string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodDelete ||
				r.Method == http.MethodOptions || r.ContentLength == 0 {
				next.ServeHTTP(w, r)
				return
			}

			contentType := r.Header.Get("Content-Type")
			for _, allowed := range contentTypes {
				if strings.HasPrefix(contentType, allowed) {
					next.ServeHTTP(w, r)
					return
				}
			}
			errorHandler.HandleError(w, r, apierrors.NewWithDetails(
				http.StatusUnsupportedMediaType,
				"UNSUPPORTED_MEDIA_TYPE",
				"Unsupported content type",
				map[string]interface{}{"content_type": contentType, "allowed": contentTypes},
			))
		})
	}
}

func formatValidationError(err validator.FieldError) string {
	field, param := err.Field(), err.Param()
	switch err.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, param)
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, param)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, strings.ReplaceAll(param, " ", ", "))
	case "maturity":
		return fmt.Sprintf("%s must be a supported maturity", field)
	case "report":
		return fmt.Sprintf("%s must be one of: %s", field, strings.Join(reportNames(), ", "))
	case "format":
		return fmt.Sprintf("%s must be csv or xlsx", field)
	default:
		return fmt.Sprintf("%s failed %s validation", field, err.Tag())
	}
}

func isMaturity(fl validator.FieldLevel) bool {
	_, err := alm.ParseMaturity(fl.Field().String())
	return err == nil
}

func isReportName(fl validator.FieldLevel) bool {
	_, err := alm.ParseReportName(fl.Field().String())
	return err == nil
}

func isExportFormat(fl validator.FieldLevel) bool {
	_, err := exporter.ParseFormat(fl.Field().String())
	return err == nil
}

func reportNames() []string {
	names := alm.ReportNames
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = string(n)
	}
	return out
}
