package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"almcli/internal/alm"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

// TestDefault tests the default configuration
func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.validate())

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, []string{"http://localhost:8080"}, cfg.Security.AllowedOrigins)
	assert.True(t, cfg.Security.RateLimit.Enabled)
	assert.Equal(t, "memory", cfg.Cache.Backend)
	assert.Equal(t, "5Y", cfg.Model.DefaultMaturity)
	assert.Equal(t, "strict", cfg.Model.CurvePolicy)
	assert.True(t, cfg.Paths.DefaultMortality)
	assert.Equal(t, ":8080", cfg.Server.Address())
}

// TestLoadFrom tests file and environment layering
func TestLoadFrom(t *testing.T) {
	tests := []struct {
		name        string
		file        string
		env         map[string]string
		wantErr     bool
		validateCfg func(*testing.T, *Config)
	}{
		{
			name: "defaults without file",
			validateCfg: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 8080, cfg.Server.Port)
				assert.Equal(t, "info", cfg.Logging.Level)
			},
		},
		{
			name: "file overrides defaults",
			file: `
server:
  port: 9090
  read_timeout: 5s
logging:
  level: debug
model:
  default_maturity: 10Y
  curve_policy: implicit
  overrides:
    insured_number: "5000"
`,
			validateCfg: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 9090, cfg.Server.Port)
				assert.Equal(t, 5*time.Second, cfg.Server.ReadTimeout)
				assert.Equal(t, 30*time.Second, cfg.Server.WriteTimeout, "untouched values keep defaults")
				assert.Equal(t, "debug", cfg.Logging.Level)
				assert.Equal(t, "10Y", cfg.Model.DefaultMaturity)
				assert.Equal(t, map[string]string{"insured_number": "5000"}, cfg.Model.Overrides)
			},
		},
		{
			name: "environment overrides file",
			file: "server:\n  port: 9090\n",
			env: map[string]string{
				"ALM_SERVER_PORT":              "7070",
				"ALM_CACHE_BACKEND":            "redis",
				"ALM_CACHE_REDIS_URL":          "redis://localhost:6379/0",
				"ALM_MODEL_OVERRIDES":          "tax_rate:0.3",
				"ALM_SECURITY_ALLOWED_ORIGINS": "http://a.test,http://b.test",
			},
			validateCfg: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 7070, cfg.Server.Port)
				assert.Equal(t, "redis", cfg.Cache.Backend)
				assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.Security.AllowedOrigins)
				assert.Equal(t, map[string]string{"tax_rate": "0.3"}, cfg.Model.Overrides)
			},
		},
		{
			name:    "unsupported maturity",
			env:     map[string]string{"ALM_MODEL_DEFAULT_MATURITY": "6Y"},
			wantErr: true,
		},
		{
			name:    "unknown parameter override",
			file:    "model:\n  overrides:\n    premium_amount: \"1\"\n",
			wantErr: true,
		},
		{
			name:    "redis without url",
			env:     map[string]string{"ALM_CACHE_BACKEND": "redis"},
			wantErr: true,
		},
		{
			name:    "invalid port",
			file:    "server:\n  port: 70000\n",
			wantErr: true,
		},
		{
			name:    "unsupported trace exporter",
			env:     map[string]string{"ALM_TELEMETRY_TRACE_EXPORTER": "jaeger"},
			wantErr: true,
		},
		{
			name: "telemetry from environment",
			env: map[string]string{
				"ALM_TELEMETRY_TRACE_EXPORTER": "stdout",
				"ALM_TELEMETRY_SAMPLE_RATIO":   "0.25",
			},
			validateCfg: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "stdout", cfg.Telemetry.TraceExporter)
				assert.Equal(t, "prometheus", cfg.Telemetry.MetricExporter)
				assert.InDelta(t, 0.25, cfg.Telemetry.SampleRatio, 1e-12)
			},
		},
		{
			name:    "malformed yaml",
			file:    "server: [",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			path := ""
			if tt.file != "" {
				path = writeConfig(t, tt.file)
			}

			cfg, err := LoadFrom(path)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.validateCfg(t, cfg)
		})
	}
}

// TestModelParameters tests override parsing
func TestModelParameters(t *testing.T) {
	m := ModelConfig{Overrides: map[string]string{
		"insured_number": "2500",
		"tax_rate":       " 0.3 ",
	}}
	p, err := m.Parameters()
	require.NoError(t, err)
	assert.Equal(t, 2500, p.InsuredNumber)
	assert.Equal(t, 0.3, p.TaxRate)

	_, err = ModelConfig{Overrides: map[string]string{"tax_rate": "high"}}.Parameters()
	assert.True(t, errors.Is(err, alm.ErrInvalidConfiguration))

	_, err = ModelConfig{Overrides: map[string]string{"alloc_cash": "0.5"}}.Parameters()
	assert.True(t, errors.Is(err, alm.ErrInvalidConfiguration))

	opts, err := ModelConfig{DefaultMaturity: "10y", CurvePolicy: "implicit"}.EngineOptions()
	require.NoError(t, err)
	e, err := alm.NewEngine(alm.DefaultParameters(), nil, opts...)
	require.NoError(t, err)
	assert.Equal(t, alm.CurveImplicit, e.Policy())
	assert.Equal(t, alm.Maturity("10Y"), e.ActiveMaturity())
}

// TestModelConfig_EngineOptions tests rejection of unvalidated model settings
func TestModelConfig_EngineOptions(t *testing.T) {
	tests := []struct {
		name    string
		model   ModelConfig
		wantErr error
	}{
		{"defaults", Default().Model, nil},
		{"empty maturity", ModelConfig{CurvePolicy: "strict"}, alm.ErrInvalidMaturity},
		{"unsupported maturity", ModelConfig{DefaultMaturity: "6Y", CurvePolicy: "strict"}, alm.ErrInvalidMaturity},
		{"empty policy", ModelConfig{DefaultMaturity: "5Y"}, alm.ErrInvalidConfiguration},
		{"unknown policy", ModelConfig{DefaultMaturity: "5Y", CurvePolicy: "lazy"}, alm.ErrInvalidConfiguration},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts, err := tt.model.EngineOptions()
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, opts)
				return
			}
			require.NoError(t, err)
			assert.Len(t, opts, 2)
		})
	}
}
