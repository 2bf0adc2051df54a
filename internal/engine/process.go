package engine

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"go.uber.org/multierr"
)

// maxLine bounds a single response line from the helper process.
const maxLine = 16 << 20

type processRequest struct {
	ID      uint64 `json:"id"`
	Math    string `json:"math"`
	Format  string `json:"format"`
	SVGNode bool   `json:"svgNode"`
}

type processMessage struct {
	ID     uint64   `json:"id"`
	Ready  bool     `json:"ready"`
	SVG    string   `json:"svg"`
	Errors []string `json:"errors"`
}

type processReply struct {
	msg processMessage
	err error
}

type processEngine struct {
	command string
	args    []string
	timeout time.Duration

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr *tailBuffer
	ready  chan struct{}
	done   chan struct{}

	writeMu sync.Mutex
	enc     *json.Encoder

	mu      sync.Mutex
	started bool
	nextID  uint64
	pending map[uint64]chan processReply
	exitErr error

	closeOnce sync.Once
	closeErr  error
}

// NewProcess constructs an engine backed by a long-running helper process.
//
// The helper reads one JSON request per line on stdin:
//
//	{"id": 1, "math": "\\alpha", "format": "TeX", "svgNode": true}
//
// and answers, in any order, one JSON line per request on stdout:
//
//	{"id": 1, "svg": "<svg ...>...</svg>"}  or  {"id": 1, "errors": ["..."]}
//
// It must print {"ready": true} once its own initialization is complete.
//
// The default helper, dev/tex2svg-server.js, runs mathjax-node with TeX input
// (extensions AMSmath, AMSsymbols, autoload-all, color, noUndefined) and SVG
// output with useGlobalCache disabled, so every SVG carries its own glyph
// definitions.
func NewProcess(command string, args []string, timeout time.Duration) Engine {
	return &processEngine{
		command: command,
		args:    args,
		timeout: timeout,
		stderr:  &tailBuffer{max: 4096},
		ready:   make(chan struct{}),
		done:    make(chan struct{}),
		pending: make(map[uint64]chan processReply),
	}
}

// Start spawns the helper and blocks until it reports ready.
func (e *processEngine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.cmd != nil {
		e.mu.Unlock()
		return fmt.Errorf("engine already started")
	}
	c := exec.Command(e.command, e.args...)
	e.cmd = c
	e.mu.Unlock()

	stdin, err := c.StdinPipe()
	if err != nil {
		return fmt.Errorf("cannot open engine stdin: %w", err)
	}
	stdout, err := c.StdoutPipe()
	if err != nil {
		return fmt.Errorf("cannot open engine stdout: %w", err)
	}
	c.Stderr = e.stderr
	if err := c.Start(); err != nil {
		close(e.done)
		return fmt.Errorf("cannot start engine %s: %w", e.command, err)
	}
	e.stdin = stdin
	e.enc = json.NewEncoder(stdin)

	go e.readLoop(stdout)

	wait := e.timeout
	if wait <= 0 {
		wait = 30 * time.Second
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-e.ready:
		e.mu.Lock()
		e.started = true
		e.mu.Unlock()
		return nil
	case <-e.done:
		e.mu.Lock()
		err := e.exitErr
		e.mu.Unlock()
		return fmt.Errorf("engine exited during startup: %w", err)
	case <-ctx.Done():
		return multierr.Append(fmt.Errorf("engine startup aborted: %w", ctx.Err()), e.Close())
	case <-timer.C:
		return multierr.Append(fmt.Errorf("engine not ready after %s", wait), e.Close())
	}
}

// readLoop routes helper responses to their waiting requests until stdout
// closes, then fails everything still pending.
func (e *processEngine) readLoop(stdout io.Reader) {
	sc := bufio.NewScanner(stdout)
	sc.Buffer(make([]byte, 0, 64<<10), maxLine)
	readyOnce := sync.Once{}

	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var msg processMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			// Helpers may log to stdout; only JSON lines are protocol.
			continue
		}
		if msg.Ready {
			readyOnce.Do(func() { close(e.ready) })
			continue
		}
		e.mu.Lock()
		ch, ok := e.pending[msg.ID]
		delete(e.pending, msg.ID)
		e.mu.Unlock()
		if ok {
			ch <- processReply{msg: msg}
		}
	}

	waitErr := e.cmd.Wait()
	exitErr := fmt.Errorf("engine process exited")
	switch {
	case sc.Err() != nil:
		exitErr = fmt.Errorf("cannot read engine output: %w", sc.Err())
	case waitErr != nil:
		exitErr = fmt.Errorf("engine process exited: %w", waitErr)
	}
	if tail := strings.TrimSpace(e.stderr.String()); tail != "" {
		exitErr = fmt.Errorf("%w: %s", exitErr, tail)
	}

	e.mu.Lock()
	e.exitErr = exitErr
	pending := e.pending
	e.pending = map[uint64]chan processReply{}
	e.mu.Unlock()

	for _, ch := range pending {
		ch <- processReply{err: exitErr}
	}
	close(e.done)
}

func (e *processEngine) Typeset(ctx context.Context, math string) (string, error) {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return "", ErrNotStarted
	}
	if e.exitErr != nil {
		err := e.exitErr
		e.mu.Unlock()
		return "", err
	}
	e.nextID++
	id := e.nextID
	ch := make(chan processReply, 1)
	e.pending[id] = ch
	e.mu.Unlock()

	forget := func() {
		e.mu.Lock()
		delete(e.pending, id)
		e.mu.Unlock()
	}

	e.writeMu.Lock()
	err := e.enc.Encode(processRequest{ID: id, Math: math, Format: InputFormat, SVGNode: true})
	e.writeMu.Unlock()
	if err != nil {
		forget()
		return "", fmt.Errorf("cannot send to engine: %w", err)
	}

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	select {
	case <-ctx.Done():
		forget()
		return "", ctx.Err()
	case r := <-ch:
		if r.err != nil {
			return "", r.err
		}
		if len(r.msg.Errors) > 0 {
			return "", &TypesetError{Messages: r.msg.Errors}
		}
		if r.msg.SVG == "" {
			return "", fmt.Errorf("engine response missing svg")
		}
		return r.msg.SVG, nil
	}
}

// Close ends the helper by closing its stdin, killing it if it lingers.
func (e *processEngine) Close() error {
	e.closeOnce.Do(func() {
		e.mu.Lock()
		c := e.cmd
		e.mu.Unlock()
		if c == nil || c.Process == nil {
			return
		}
		if e.stdin != nil {
			e.writeMu.Lock()
			if err := e.stdin.Close(); err != nil && !errors.Is(err, io.ErrClosedPipe) {
				e.closeErr = multierr.Append(e.closeErr, err)
			}
			e.writeMu.Unlock()
		}
		select {
		case <-e.done:
		case <-time.After(5 * time.Second):
			e.closeErr = multierr.Append(e.closeErr, c.Process.Kill())
			<-e.done
		}
	})
	return e.closeErr
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.max; over > 0 {
		b.buf = b.buf[over:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
