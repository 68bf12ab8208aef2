package http

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"almcli/internal/alm"
	apierrors "almcli/internal/errors"
	"almcli/internal/middleware"
)

type contextKey string

const reportKey contextKey = "report"

type reportQuery struct {
	Maturity string `query:"maturity" validate:"omitempty,maturity"`
}

type saveExportRequest struct {
	Reports  []string `json:"reports" validate:"omitempty,dive,report"`
	Maturity string   `json:"maturity" validate:"omitempty,maturity"`
	Format   string   `json:"format" validate:"omitempty,format"`
	FileName string   `json:"file_name" validate:"omitempty,max=128"`
}

type exportQuery struct {
	Maturity string   `query:"maturity" validate:"omitempty,maturity"`
	Format   string   `query:"format" validate:"omitempty,format"`
	Reports  []string `query:"reports" validate:"omitempty,dive,report"`
}

// ReportHandler handles report, summary and export requests
type ReportHandler struct {
	service      ReportServiceInterface
	validator    *middleware.Validator
	logger       *slog.Logger
	errorHandler *apierrors.ErrorHandler
}

// NewReportHandler creates a new report handler
func NewReportHandler(service ReportServiceInterface, validator *middleware.Validator, logger *slog.Logger, errorHandler *apierrors.ErrorHandler) *ReportHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReportHandler{
		service:      service,
		validator:    validator,
		logger:       logger.With(slog.String("component", "report_handler")),
		errorHandler: errorHandler,
	}
}

// Routes returns the report routes
func (h *ReportHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.ListReports)
	r.Get("/export", h.ExportWorkbook)
	r.Route("/{name}", func(r chi.Router) {
		r.Use(h.ReportCtx)
		r.Get("/", h.GetReport)
		r.Get("/export", h.ExportReport)
	})
	return r
}

// ExportRoutes returns the saved export routes
func (h *ReportHandler) ExportRoutes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.ListExports)
	r.Post("/", h.SaveExport)
	return r
}

// ReportCtx resolves the {name} path parameter
func (h *ReportHandler) ReportCtx(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name, err := alm.ParseReportName(chi.URLParam(r, "name"))
		if err != nil {
			h.errorHandler.HandleError(w, r, apierrors.NewWithDetails(
				http.StatusNotFound,
				"REPORT_NOT_FOUND",
				fmt.Sprintf("Report %q not found", chi.URLParam(r, "name")),
				map[string]interface{}{"available": alm.ReportNames},
			))
			return
		}
		ctx := context.WithValue(r.Context(), reportKey, name)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ListReports handles GET /api/reports
func (h *ReportHandler) ListReports(w http.ResponseWriter, r *http.Request) {
	reports := h.service.ListReports()
	render.JSON(w, r, map[string]interface{}{
		"status": "success",
		"data":   reports,
		"count":  len(reports),
	})
}

// GetReport handles GET /api/reports/{name}
func (h *ReportHandler) GetReport(w http.ResponseWriter, r *http.Request) {
	q := reportQuery{Maturity: r.URL.Query().Get("maturity")}
	if err := h.validator.Struct(q); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	name := r.Context().Value(reportKey).(alm.ReportName)
	view, err := h.service.Report(r.Context(), name, normalizeMaturity(q.Maturity))
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	w.Header().Set("X-Cache", cacheHeader(view.Cached))
	render.JSON(w, r, map[string]interface{}{
		"status": "success",
		"data":   view,
	})
}

// ExportReport handles GET /api/reports/{name}/export
func (h *ReportHandler) ExportReport(w http.ResponseWriter, r *http.Request) {
	q := exportQuery{
		Maturity: r.URL.Query().Get("maturity"),
		Format:   r.URL.Query().Get("format"),
	}
	if err := h.validator.Struct(q); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	name := r.Context().Value(reportKey).(alm.ReportName)
	h.export(w, r, q, name)
}

// ExportWorkbook handles GET /api/reports/export. The reports parameter is a
// comma separated list; it defaults to every report.
func (h *ReportHandler) ExportWorkbook(w http.ResponseWriter, r *http.Request) {
	q := exportQuery{
		Maturity: r.URL.Query().Get("maturity"),
		Format:   r.URL.Query().Get("format"),
	}
	if q.Format == "" {
		q.Format = "xlsx"
	}
	if list := r.URL.Query().Get("reports"); list != "" {
		for _, s := range strings.Split(list, ",") {
			q.Reports = append(q.Reports, strings.TrimSpace(s))
		}
	}
	if err := h.validator.Struct(q); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	names := make([]alm.ReportName, 0, len(q.Reports))
	for _, s := range q.Reports {
		name, _ := alm.ParseReportName(s)
		names = append(names, name)
	}
	h.export(w, r, q, names...)
}

func (h *ReportHandler) export(w http.ResponseWriter, r *http.Request, q exportQuery, names ...alm.ReportName) {
	data, fileName, format, err := h.service.Export(r.Context(), q.Format, normalizeMaturity(q.Maturity), names...)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "serving export",
		slog.String("file", fileName),
		slog.Int("bytes", len(data)))

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", fileName))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		h.logger.WarnContext(r.Context(), "failed to write export", slog.String("error", err.Error()))
	}
}

// ListExports handles GET /api/exports
func (h *ReportHandler) ListExports(w http.ResponseWriter, r *http.Request) {
	exports, err := h.service.Exports()
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, map[string]interface{}{
		"status": "success",
		"data":   exports,
		"count":  len(exports),
	})
}

// SaveExport handles POST /api/exports. It writes the export into the export
// directory; the format defaults to xlsx and the reports to every report.
func (h *ReportHandler) SaveExport(w http.ResponseWriter, r *http.Request) {
	var req saveExportRequest
	if err := h.validator.DecodeJSON(r, &req); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	if req.FileName != "" && (strings.ContainsAny(req.FileName, `/\`) || req.FileName == "..") {
		h.errorHandler.HandleError(w, r, apierrors.ErrValidation("file_name", "file_name must be a plain file name"))
		return
	}
	if req.Format == "" {
		req.Format = "xlsx"
	}

	names := make([]alm.ReportName, 0, len(req.Reports))
	for _, s := range req.Reports {
		name, _ := alm.ParseReportName(s)
		names = append(names, name)
	}

	path, err := h.service.SaveExport(r.Context(), req.FileName, req.Format, normalizeMaturity(req.Maturity), names...)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "export saved", slog.String("path", path))
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, map[string]interface{}{
		"status": "success",
		"data":   map[string]string{"file": filepath.Base(path)},
	})
}

// Summary handles GET /api/summary
func (h *ReportHandler) Summary(w http.ResponseWriter, r *http.Request) {
	q := reportQuery{Maturity: r.URL.Query().Get("maturity")}
	if err := h.validator.Struct(q); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	summary, err := h.service.Summary(r.Context(), normalizeMaturity(q.Maturity))
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, map[string]interface{}{
		"status": "success",
		"data":   summary,
	})
}

// normalizeMaturity canonicalizes an already validated maturity query value.
// An empty value stays empty.
func normalizeMaturity(s string) alm.Maturity {
	m, err := alm.ParseMaturity(s)
	if err != nil {
		return ""
	}
	return m
}

func cacheHeader(hit bool) string {
	if hit {
		return "HIT"
	}
	return "MISS"
}
