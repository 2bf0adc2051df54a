package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kamusis/symsvg/internal/catalogue"
	"github.com/kamusis/symsvg/internal/config"
	"github.com/kamusis/symsvg/internal/engine"
	"github.com/kamusis/symsvg/internal/render"
)

var renderCmd = &cobra.Command{
	Use:   "render",
	Short: "Render and cache SVGs for catalogue entries that have none",
	Long: `Render every catalogue entry without an "svg" field, decorate the result
(accessible title, optional shrink class) and write the catalogue back.
The catalogue file is only rewritten when at least one symbol was rendered.`,
	RunE: runRender,
}

func init() {
	rootCmd.AddCommand(renderCmd)
}

func runRender(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	eng, err := startEngine(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := eng.Close(); err != nil {
			logger.Warn("engine shutdown failed", zap.Error(err))
		}
	}()
	return renderOnce(cmd.Context(), cfg, eng)
}

// startEngine constructs the configured engine and waits until it is ready.
func startEngine(ctx context.Context, cfg *config.Config) (engine.Engine, error) {
	eng, err := engine.NewFromConfig(cfg.Engine)
	if err != nil {
		return nil, err
	}
	if err := eng.Start(ctx); err != nil {
		_ = eng.Close()
		return nil, fmt.Errorf("cannot start %s engine: %w", cfg.Engine.Kind, err)
	}
	logger.Debug("engine ready", zap.String("kind", cfg.Engine.Kind))
	return eng, nil
}

// renderOnce performs one locked load → render → persist cycle.
func renderOnce(ctx context.Context, cfg *config.Config, ts render.Typesetter) error {
	path, err := cfg.CataloguePath()
	if err != nil {
		return err
	}
	release, err := catalogue.Lock(path, cfg.LockTimeout)
	if err != nil {
		return err
	}
	defer release()

	doc, err := catalogue.Load(path, cfg.Key)
	if err != nil {
		return err
	}

	p := render.New(ts, logger, render.Options{
		Concurrency:   cfg.Concurrency,
		RenderTimeout: cfg.RenderTimeout,
	})
	res, err := p.Run(ctx, doc)
	report(res)
	if err != nil {
		return fmt.Errorf("rendered symbols were not cached: %w", err)
	}
	if n := len(res.Failures); n > 0 {
		return fmt.Errorf("%d symbols failed to render", n)
	}
	return nil
}

// report prints the run summary. Nothing is printed for a run that rendered
// and failed nothing.
func report(res *render.Result) {
	if res == nil {
		return
	}
	if res.Rendered > 0 {
		printOK("", fmt.Sprintf("%d symbols rendered and cached", res.Rendered))
	}
	for _, f := range res.Failures {
		printErr(f.Category+"/"+f.Name, f.Err.Error())
	}
}
