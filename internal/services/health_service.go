package services

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"time"

	"almcli/internal/config"
	"almcli/internal/infrastructure"
	ws "almcli/internal/websocket"
)

// HealthService provides health check functionality
type HealthService struct {
	version   string
	buildTime string
	paths     config.PathsConfig
	reports   *ReportService
	hub       *ws.Hub
	runtime   *infrastructure.RuntimeCollector
	startTime time.Time
	logger    *slog.Logger
}

// HealthStatus represents the health status response
type HealthStatus struct {
	Status    string                       `json:"status"`
	Timestamp time.Time                    `json:"timestamp"`
	Version   string                       `json:"version"`
	Runtime   *infrastructure.RuntimeStats `json:"runtime,omitempty"`
	Services  map[string]ServiceHealth     `json:"services,omitempty"`
}

// ServiceHealth represents individual service health
type ServiceHealth struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// NewHealthService creates a health service. Any dependency may be nil; a
// nil one is reported as not ready.
func NewHealthService(version, buildTime string, paths config.PathsConfig, reports *ReportService, hub *ws.Hub, collector *infrastructure.RuntimeCollector, logger *slog.Logger) *HealthService {
	if logger == nil {
		logger = slog.Default()
	}
	return &HealthService{
		version:   version,
		buildTime: buildTime,
		paths:     paths,
		reports:   reports,
		hub:       hub,
		runtime:   collector,
		startTime: time.Now(),
		logger:    logger.With(slog.String("component", "health")),
	}
}

// HealthCheck returns overall health status
func (hs *HealthService) HealthCheck(ctx context.Context) HealthStatus {
	status := hs.ReadinessCheck(ctx)
	if status.Status == "ready" {
		status.Status = "ok"
	} else {
		status.Status = "degraded"
	}
	status.Runtime = hs.runtimeStats(ctx)
	return status
}

// ReadinessCheck returns readiness status
func (hs *HealthService) ReadinessCheck(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status:    "ready",
		Timestamp: time.Now().UTC(),
		Version:   hs.version,
		Services: map[string]ServiceHealth{
			"market_data": hs.checkMarketData(),
			"websocket":   hs.checkWebSocket(),
			"exports":     hs.checkExportDir(),
		},
	}

	for name, sh := range status.Services {
		if sh.Status != "ready" {
			status.Status = "not_ready"
			hs.logger.WarnContext(ctx, "service not ready",
				slog.String("service", name),
				slog.String("message", sh.Message))
		}
	}
	return status
}

// LivenessCheck returns liveness status
func (hs *HealthService) LivenessCheck(ctx context.Context) HealthStatus {
	return HealthStatus{
		Status:    "alive",
		Timestamp: time.Now().UTC(),
		Version:   hs.version,
		Runtime:   hs.runtimeStats(ctx),
	}
}

// Version returns version information
func (hs *HealthService) Version() map[string]interface{} {
	result := map[string]interface{}{
		"name":       config.AppName,
		"version":    hs.version,
		"go_version": runtime.Version(),
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
		"uptime":     time.Since(hs.startTime).Seconds(),
		"start_time": hs.startTime.Format(time.RFC3339),
	}
	if hs.buildTime != "" {
		result["build_time"] = hs.buildTime
	}
	return result
}

func (hs *HealthService) runtimeStats(ctx context.Context) *infrastructure.RuntimeStats {
	if hs.runtime == nil {
		return nil
	}
	stats := hs.runtime.Collect(ctx)
	return &stats
}

func (hs *HealthService) checkMarketData() ServiceHealth {
	if hs.reports == nil {
		return ServiceHealth{Status: "not_ready", Message: "report service not initialized"}
	}
	if err := hs.reports.Ready(); err != nil {
		return ServiceHealth{Status: "not_ready", Message: err.Error()}
	}
	msg := "forward rates loaded"
	if res := hs.reports.MarketData(); res != nil && len(res.Missing) > 0 {
		msg = fmt.Sprintf("forward rates loaded, %d optional series missing", len(res.Missing))
	}
	return ServiceHealth{Status: "ready", Message: msg}
}

func (hs *HealthService) checkWebSocket() ServiceHealth {
	if hs.hub == nil {
		return ServiceHealth{Status: "not_ready", Message: "websocket hub not initialized"}
	}
	select {
	case <-hs.hub.Done():
		return ServiceHealth{Status: "not_ready", Message: "websocket hub stopped"}
	default:
	}
	return ServiceHealth{Status: "ready", Message: fmt.Sprintf("%d clients", hs.hub.ClientCount())}
}

func (hs *HealthService) checkExportDir() ServiceHealth {
	dir := hs.paths.ExportDir
	if dir == "" {
		return ServiceHealth{Status: "ready", Message: "exports served in memory only"}
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return ServiceHealth{Status: "not_ready", Message: fmt.Sprintf("cannot create export directory: %v", err)}
	}
	return ServiceHealth{Status: "ready", Message: dir}
}
