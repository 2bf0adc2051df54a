// Package engine provides handles to the external TeX to SVG typesetting
// service. A handle is constructed explicitly, started once, shared by every
// concurrent render of a run and closed at the end.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kamusis/symsvg/internal/config"
)

// InputFormat is the only input format requested from the engine.
const InputFormat = "TeX"

// ErrNotStarted is returned by Typeset before Start has completed.
var ErrNotStarted = errors.New("engine not started")

// Engine typesets TeX markup into SVG markup.
//
// Typeset must be safe for concurrent use once Start has returned.
type Engine interface {
	Start(ctx context.Context) error
	Typeset(ctx context.Context, math string) (string, error)
	Close() error
}

// TypesetError carries the messages an engine reported for one input.
type TypesetError struct {
	Messages []string
}

func (e *TypesetError) Error() string {
	if len(e.Messages) == 0 {
		return "typeset failed"
	}
	if len(e.Messages) == 1 {
		return "typeset failed: " + e.Messages[0]
	}
	return fmt.Sprintf("typeset failed: %s (and %d more)", e.Messages[0], len(e.Messages)-1)
}

// NewFromConfig returns an engine for cfg.Kind.
func NewFromConfig(cfg config.Engine) (Engine, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	switch cfg.Kind {
	case "":
		return nil, fmt.Errorf("engine kind is not configured (set engine.kind or SYMSVG_ENGINE)")
	case "process":
		if cfg.Command == "" {
			return nil, fmt.Errorf("process engine requires engine.command")
		}
		return NewProcess(cfg.Command, cfg.Args, timeout), nil
	case "http":
		if cfg.URL == "" {
			return nil, fmt.Errorf("http engine requires engine.url")
		}
		return NewHTTP(cfg.URL, timeout), nil
	default:
		return nil, fmt.Errorf("unsupported engine kind: %s", cfg.Kind)
	}
}
