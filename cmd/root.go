package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/kamusis/symsvg/internal/config"
)

var (
	flagConfig    string
	flagCatalogue string
	flagVerbose   bool

	logger = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:          "symsvg",
	Short:        "symsvg — render and cache SVGs for a math symbol catalogue",
	SilenceUsage: true, // don't print usage on operational errors
	Long: `symsvg finds catalogue entries that have no cached SVG yet, renders their
TeX source with an external typesetting engine and writes the results back
into the catalogue. Entries that already carry an SVG are never touched.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zc := zap.NewProductionConfig()
		zc.Encoding = "console"
		zc.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
		if flagVerbose {
			zc.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		l, err := zc.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		logger = l
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
	RunE: runRender,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", config.DefaultFile, "Path to symsvg.yaml")
	rootCmd.PersistentFlags().StringVar(&flagCatalogue, "catalogue", "", "Catalogue JSON file (overrides config)")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Verbose logging")
}

// loadConfig resolves the effective configuration for a command.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, fmt.Errorf("cannot load config: %w", err)
	}
	if flagCatalogue != "" {
		cfg.Catalogue = flagCatalogue
		cfg.Dir = "."
	}
	return cfg, nil
}

// Execute is called by main.go.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
