package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/kamusis/symsvg/internal/config"
)

var flagForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default symsvg.yaml and .env template",
	Long: `Write symsvg.yaml (at --config) with default settings and a .env template
next to it. Existing files are kept unless --force is given; .env is never
overwritten.`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&flagForce, "force", false, "Overwrite an existing symsvg.yaml")
	rootCmd.AddCommand(initCmd)
}

func runInit(_ *cobra.Command, _ []string) error {
	cfgPath := flagConfig
	if _, err := os.Stat(cfgPath); err == nil && !flagForce {
		printSkip("", fmt.Sprintf("Config already exists: %s", cfgPath))
	} else {
		if err := config.Save(cfgPath, config.DefaultConfig()); err != nil {
			return err
		}
		printOK("", fmt.Sprintf("Config written: %s", cfgPath))
	}

	dir := filepath.Dir(cfgPath)
	if err := config.EnsureDotEnvTemplate(dir); err != nil {
		return err
	}
	printOK("", fmt.Sprintf("Env template ready: %s", config.DotEnvPath(dir)))
	return nil
}
