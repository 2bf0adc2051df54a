package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

type httpEngine struct {
	baseURL string
	client  *http.Client
	started atomic.Bool
}

// NewHTTP constructs an engine backed by a typeset HTTP service.
//
// It uses the REST endpoint:
//
//	POST {baseURL}/typeset
//
// with JSON body:
//
//	{"math": "...", "format": "TeX", "svg": true}
//
// and expects {"svg": "..."} or {"errors": ["..."]} back.
func NewHTTP(baseURL string, timeout time.Duration) Engine {
	return &httpEngine{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// Start checks that the service answers before any render is issued.
func (e *httpEngine) Start(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("typeset service unreachable at %s: %w", e.baseURL, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("typeset service health check failed: HTTP %d", resp.StatusCode)
	}
	e.started.Store(true)
	return nil
}

func (e *httpEngine) Typeset(ctx context.Context, math string) (string, error) {
	if !e.started.Load() {
		return "", ErrNotStarted
	}

	b, err := json.Marshal(map[string]any{
		"math":   math,
		"format": InputFormat,
		"svg":    true,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/typeset", bytes.NewReader(b))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<20))

	var parsed struct {
		SVG    string   `json:"svg"`
		Errors []string `json:"errors"`
	}
	decodeErr := json.Unmarshal(body, &parsed)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if decodeErr == nil && len(parsed.Errors) > 0 {
			return "", &TypesetError{Messages: parsed.Errors}
		}
		return "", fmt.Errorf("typeset request failed: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if decodeErr != nil {
		return "", fmt.Errorf("cannot parse typeset response: %w", decodeErr)
	}
	if len(parsed.Errors) > 0 {
		return "", &TypesetError{Messages: parsed.Errors}
	}
	if parsed.SVG == "" {
		return "", fmt.Errorf("typeset response missing svg")
	}
	return parsed.SVG, nil
}

func (e *httpEngine) Close() error {
	e.client.CloseIdleConnections()
	return nil
}
