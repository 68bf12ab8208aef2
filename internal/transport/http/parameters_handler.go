package http

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	apierrors "almcli/internal/errors"
	"almcli/internal/middleware"
	"almcli/internal/services"
)

// ParametersHandler handles parameter and market data requests
type ParametersHandler struct {
	service      ReportServiceInterface
	validator    *middleware.Validator
	logger       *slog.Logger
	errorHandler *apierrors.ErrorHandler
}

// NewParametersHandler creates a new parameters handler
func NewParametersHandler(service ReportServiceInterface, validator *middleware.Validator, logger *slog.Logger, errorHandler *apierrors.ErrorHandler) *ParametersHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ParametersHandler{
		service:      service,
		validator:    validator,
		logger:       logger.With(slog.String("component", "parameters_handler")),
		errorHandler: errorHandler,
	}
}

// Routes returns the parameter routes
func (h *ParametersHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.GetParameters)
	r.Put("/", h.UpdateParameters)
	return r
}

// MarketDataRoutes returns the market data routes
func (h *ParametersHandler) MarketDataRoutes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.GetMarketData)
	r.Post("/reload", h.ReloadMarketData)
	return r
}

// GetParameters handles GET /api/parameters
func (h *ParametersHandler) GetParameters(w http.ResponseWriter, r *http.Request) {
	p := h.service.Parameters()
	values, err := p.AsMap()
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, map[string]interface{}{
		"status": "success",
		"data":   values,
		"hash":   p.Hash(),
	})
}

// UpdateParameters handles PUT /api/parameters. The body is a JSON object
// of parameter overrides keyed by their names.
func (h *ParametersHandler) UpdateParameters(w http.ResponseWriter, r *http.Request) {
	var partial map[string]interface{}
	if err := h.validator.DecodeJSON(r, &partial); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	if len(partial) == 0 {
		h.errorHandler.HandleError(w, r, apierrors.ErrValidation("body", "at least one parameter is required"))
		return
	}

	p, err := h.service.UpdateParameters(r.Context(), partial)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	values, err := p.AsMap()
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, map[string]interface{}{
		"status": "success",
		"data":   values,
		"hash":   p.Hash(),
	})
}

// GetMarketData handles GET /api/marketdata
func (h *ParametersHandler) GetMarketData(w http.ResponseWriter, r *http.Request) {
	res := h.service.MarketData()
	if res == nil {
		h.errorHandler.HandleError(w, r, apierrors.NotFoundError("market data load"))
		return
	}
	render.JSON(w, r, map[string]interface{}{
		"status": "success",
		"data":   res,
	})
}

// ReloadMarketData handles POST /api/marketdata/reload
func (h *ParametersHandler) ReloadMarketData(w http.ResponseWriter, r *http.Request) {
	res, err := h.service.ReloadMarketData(r.Context())
	if err != nil {
		if errors.Is(err, services.ErrNoMarketData) {
			h.errorHandler.HandleError(w, r, apierrors.New(
				http.StatusServiceUnavailable,
				"SERVICE_UNAVAILABLE",
				err.Error(),
			))
			return
		}
		h.errorHandler.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, map[string]interface{}{
		"status": "success",
		"data":   res,
	})
}
