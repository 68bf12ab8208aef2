package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"almcli/internal/alm"
	"almcli/internal/config"
	"almcli/internal/exporter"
	"almcli/internal/infrastructure"
	"almcli/internal/marketdata"
	"almcli/internal/services"
)

// cli carries the state shared by every subcommand
type cli struct {
	configFile string
	logLevel   string
	dataDir    string
	exportDir  string
	sets       []string

	cfg    *config.Config
	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:   "almctl",
		Short: "Asset-liability management reports",
		Long: `almctl projects an insurance portfolio against market data and prints or
exports the ALM reports: discount_rate, neutral_risk, asset_liability,
cash_flow, pnl and stress.

Market data is read from the data directory (forward_rates.csv,
liquidity_premium.csv, repurchase_rates.csv, mortality_table.csv or the
matching sheets of market_data.xlsx).`,
		SilenceUsage:      true,
		PersistentPreRunE: c.load,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&c.configFile, "config", "", "config file path (default: ./config.yaml or ./configs/config.yaml)")
	flags.StringVar(&c.logLevel, "log-level", "", "log level override (debug, info, warn, error)")
	flags.StringVar(&c.dataDir, "data", "", "market data directory (overrides paths.data_dir)")
	flags.StringVar(&c.exportDir, "export-dir", "", "export directory (overrides paths.export_dir)")
	flags.StringArrayVar(&c.sets, "set", nil, "parameter override as key=value, repeatable")

	root.AddCommand(
		c.reportCmd(),
		c.exportCmd(),
		c.summaryCmd(),
		c.paramsCmd(),
		versionCmd(),
	)
	return root
}

// load reads the configuration and applies the global flags
func (c *cli) load(cmd *cobra.Command, _ []string) error {
	var err error
	if c.configFile != "" {
		c.cfg, err = config.LoadFrom(c.configFile)
	} else {
		c.cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if c.logLevel != "" {
		c.cfg.Logging.Level = c.logLevel
	}
	if c.dataDir != "" {
		c.cfg.Paths.DataDir = c.dataDir
	}
	if c.exportDir != "" {
		c.cfg.Paths.ExportDir = c.exportDir
	}
	if len(c.sets) > 0 {
		overrides := make(map[string]string, len(c.cfg.Model.Overrides)+len(c.sets))
		for k, v := range c.cfg.Model.Overrides {
			overrides[k] = v
		}
		for _, s := range c.sets {
			key, value, ok := strings.Cut(s, "=")
			if !ok {
				return fmt.Errorf("invalid --set %q: expected key=value", s)
			}
			overrides[strings.TrimSpace(key)] = strings.TrimSpace(value)
		}
		c.cfg.Model.Overrides = overrides
	}

	c.logger = infrastructure.WithComponent(infrastructure.NewLogger(cmd.ErrOrStderr(), c.cfg.Logging), "almctl")
	cmd.SetContext(infrastructure.EnsureTraceID(cmd.Context()))
	return nil
}

// service builds a report service over the configured data directory
func (c *cli) service(cmd *cobra.Command) (*services.ReportService, error) {
	params, err := c.cfg.Model.Parameters()
	if err != nil {
		return nil, err
	}
	opts, err := c.cfg.Model.EngineOptions()
	if err != nil {
		return nil, err
	}
	return services.NewReportService(cmd.Context(), services.ReportServiceConfig{
		Parameters: params,
		Options:    opts,
		Loader:     marketdata.NewLoader(c.cfg.Paths.DataDir, c.cfg.Paths.DefaultMortality, c.logger),
		Exporter:   exporter.NewExporter(c.cfg.Paths.ExportDir, c.logger),
	}, c.logger)
}

func (c *cli) reportCmd() *cobra.Command {
	var maturity, output string
	cmd := &cobra.Command{
		Use:   "report <name>",
		Short: "Generate one report and print it",
		Example: `  almctl report cash_flow --maturity 10Y
  almctl report pnl --output csv --set tax_rate=0.25`,
		Args:      cobra.ExactArgs(1),
		ValidArgs: reportArgs(),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, err := alm.ParseReportName(args[0])
			if err != nil {
				return err
			}
			m, err := parseMaturityFlag(maturity)
			if err != nil {
				return err
			}
			svc, err := c.service(cmd)
			if err != nil {
				return err
			}

			switch output {
			case "json":
				view, err := svc.Report(cmd.Context(), name, m)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), view)
			case "csv":
				data, _, _, err := svc.Export(cmd.Context(), string(exporter.FormatCSV), m, name)
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(data)
				return err
			default:
				return fmt.Errorf("unsupported output %q (json or csv)", output)
			}
		},
	}
	cmd.Flags().StringVarP(&maturity, "maturity", "m", "", "discount curve maturity, e.g. 5Y or 10Y (default: configured maturity)")
	cmd.Flags().StringVarP(&output, "output", "o", "json", "output format (json or csv)")
	return cmd
}

func (c *cli) exportCmd() *cobra.Command {
	var maturity, format, out string
	cmd := &cobra.Command{
		Use:   "export [report...]",
		Short: "Write reports to a CSV file or an XLSX workbook",
		Long: `Write reports to the export directory. Without report names every report
is written to one workbook. CSV takes exactly one report.`,
		Example: `  almctl export --maturity 5Y
  almctl export cash_flow --format csv --out cash_flow.csv`,
		RunE: func(cmd *cobra.Command, args []string) error {
			names := make([]alm.ReportName, 0, len(args))
			for _, a := range args {
				name, err := alm.ParseReportName(a)
				if err != nil {
					return err
				}
				names = append(names, name)
			}
			m, err := parseMaturityFlag(maturity)
			if err != nil {
				return err
			}
			svc, err := c.service(cmd)
			if err != nil {
				return err
			}

			path, err := svc.SaveExport(cmd.Context(), out, format, m, names...)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
	cmd.Flags().StringVarP(&maturity, "maturity", "m", "", "discount curve maturity, e.g. 5Y or 10Y (default: configured maturity)")
	cmd.Flags().StringVarP(&format, "format", "f", string(exporter.FormatXLSX), "export format (csv or xlsx)")
	cmd.Flags().StringVar(&out, "out", "", "file name, relative to the export directory unless absolute")
	return cmd
}

func (c *cli) summaryCmd() *cobra.Command {
	var maturity string
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Print headline figures and the neutral calibration",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := parseMaturityFlag(maturity)
			if err != nil {
				return err
			}
			svc, err := c.service(cmd)
			if err != nil {
				return err
			}
			summary, err := svc.Summary(cmd.Context(), m)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), summary)
		},
	}
	cmd.Flags().StringVarP(&maturity, "maturity", "m", "", "discount curve maturity, e.g. 5Y or 10Y (default: configured maturity)")
	return cmd
}

func (c *cli) paramsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "params",
		Short: "Print the effective model parameters",
		Long:  "Print the default parameters with config overrides and --set flags applied.",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := c.cfg.Model.Parameters()
			if err != nil {
				return err
			}
			values, err := p.AsMap()
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), map[string]interface{}{
				"parameters": values,
				"hash":       p.Hash(),
			})
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		// Skips config loading
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "almctl %s\n", version)
			fmt.Fprintf(out, "  commit:  %s\n", commit)
			fmt.Fprintf(out, "  built:   %s\n", date)
		},
	}
}

func parseMaturityFlag(s string) (alm.Maturity, error) {
	if s == "" {
		return "", nil
	}
	return alm.ParseMaturity(s)
}

func reportArgs() []string {
	out := make([]string, 0, len(alm.ReportNames))
	for _, n := range alm.ReportNames {
		out = append(out, string(n))
	}
	return out
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
