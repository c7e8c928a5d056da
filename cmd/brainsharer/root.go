package main

import (
	"fmt"
	"io"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"brainsharer/pkg/config"
	"brainsharer/pkg/logging"
	"brainsharer/pkg/metrics"
	"brainsharer/pkg/reconstruction"
)

var (
	configPath string
	logLevel   string

	cfg      *config.Config
	logger   logging.Logger = logging.NullLogger
	registry                = prometheus.NewRegistry()
	pipeline                = metrics.NewPipeline(registry)
)

var rootCmd = &cobra.Command{
	Use:           "brainsharer",
	Short:         "Annotation geometry pipeline for the brain atlas viewer",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if cfg, err = config.LoadConfig(configPath); err != nil {
			return err
		}
		if cmd.Flags().Changed("log-level") {
			cfg.Logging.Level = logLevel
		}
		if logger, err = cfg.Logger(); err != nil {
			return err
		}
		logger.Debugf("Using configuration %s", configPath)
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		defer logger.Shutdown()
		if cfg.Output.MetricsFile == "" {
			return nil
		}
		return metrics.WriteTextfile(cfg.Output.MetricsFile, registry)
	},
}

// Execute runs the command line and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "brainsharer.yaml", "Configuration file (YAML or TOML)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warning, error or silent")
}

// params builds pipeline parameters from the loaded configuration.
func params() *reconstruction.Params {
	return &reconstruction.Params{
		Scale:       cfg.Scale,
		Downsample:  cfg.Pipeline.Downsample,
		Unordered:   cfg.Pipeline.Unordered,
		Meters:      cfg.Pipeline.Meters,
		Interpolate: cfg.Pipeline.Interpolate,
		VertexCount: cfg.Pipeline.VertexCount,
		Label:       cfg.Pipeline.Label,
		Workers:     cfg.Pipeline.Workers,
		Bucket:      cfg.Output.Bucket,
		Gzip:        cfg.Output.Gzip,
		ChunkSize:   cfg.Output.ChunkSize,
		Mesh:        cfg.Output.Mesh,
		PreviewDir:  cfg.Output.PreviewDir,
		PreviewZoom: 1,
	}
}

func readLayer(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}
