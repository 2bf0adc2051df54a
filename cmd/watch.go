package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var flagDebounce time.Duration

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Render now, then again whenever the catalogue changes",
	Long: `Run one render pass, then watch the catalogue file and run another pass
after every change. A pass that finds nothing to render does not write the
file, so the write made by a pass settles after one more (empty) pass.`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().DurationVar(&flagDebounce, "debounce", 300*time.Millisecond, "Quiet period before re-rendering after a change")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	path, err := cfg.CataloguePath()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	eng, err := startEngine(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := eng.Close(); err != nil {
			logger.Warn("engine shutdown failed", zap.Error(err))
		}
	}()

	pass := func() {
		if err := renderOnce(ctx, cfg, eng); err != nil {
			printErr("", err.Error())
		}
	}
	pass()
	printInfo("", fmt.Sprintf("watching %s (Ctrl-C to stop)", path))
	return watchFile(ctx, path, flagDebounce, pass)
}

// watchFile calls onChange after path is written or replaced, once per burst
// of events separated by less than debounce. It returns when ctx ends.
func watchFile(ctx context.Context, path string, debounce time.Duration, onChange func()) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("cannot create watcher: %w", err)
	}
	defer w.Close()

	path = filepath.Clean(path)
	// Watch the directory: atomic replacement swaps the file's inode.
	if err := w.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("cannot watch %s: %w", filepath.Dir(path), err)
	}

	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != path {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
				logger.Debug("catalogue changed", zap.String("op", ev.Op.String()))
				fire = time.After(debounce)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watch error", zap.Error(err))
		case <-fire:
			fire = nil
			onChange()
		}
	}
}
