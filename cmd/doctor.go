package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kamusis/symsvg/internal/catalogue"
)

// sampleSource is typeset by doctor to check the engine end to end.
const sampleSource = `\alpha`

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run pre-flight checks on config, catalogue and engine",
	Long: `Check that the configuration loads, the catalogue parses and the
typesetting engine starts and renders a sample symbol.
Run this command when a render fails before any symbol is processed.`,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

func runDoctor(cmd *cobra.Command, _ []string) error {
	allOK := true
	failD := func(format string, args ...any) {
		printErr("", fmt.Sprintf(format, args...))
		allOK = false
	}

	printSection("symsvg doctor")

	fmt.Println("\n[ config ]")
	cfg, err := loadConfig()
	if err != nil {
		failD("%v", err)
		return fmt.Errorf("doctor found problems")
	}
	printOK("", fmt.Sprintf("engine: %s", cfg.Engine.Kind))

	fmt.Println("\n[ catalogue ]")
	path, err := cfg.CataloguePath()
	if err != nil {
		failD("%v", err)
	} else if doc, err := catalogue.Load(path, cfg.Key); err != nil {
		failD("%v", err)
	} else {
		printOK("", fmt.Sprintf("%s: %d symbols", path, doc.Symbols.Len()))
	}

	fmt.Println("\n[ engine ]")
	ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
	defer cancel()
	eng, err := startEngine(ctx, cfg)
	if err != nil {
		failD("%v", err)
	} else {
		defer func() { _ = eng.Close() }()
		if _, err := eng.Typeset(ctx, sampleSource); err != nil {
			failD("sample %s failed: %v", sampleSource, err)
		} else {
			printOK("", fmt.Sprintf("sample %s rendered", sampleSource))
		}
	}

	fmt.Println()
	if !allOK {
		return fmt.Errorf("doctor found problems")
	}
	printOK("", "all checks passed")
	return nil
}
