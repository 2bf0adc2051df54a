package render

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kamusis/symsvg/internal/catalogue"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var errUndefined = errors.New("Undefined control sequence")

// fakeEngine answers from a fixed table and counts calls.
type fakeEngine struct {
	mu     sync.Mutex
	svgs   map[string]string
	fail   map[string]error
	calls  atomic.Int32
	seen   []string
	gate   chan struct{}
	arrive sync.WaitGroup
}

func (f *fakeEngine) Typeset(ctx context.Context, math string) (string, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.seen = append(f.seen, math)
	f.mu.Unlock()
	if f.gate != nil {
		f.arrive.Done()
		select {
		case <-f.gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err, ok := f.fail[math]; ok {
		return "", err
	}
	if svg, ok := f.svgs[math]; ok {
		return svg, nil
	}
	return "<svg><title>" + math + "</title></svg>", nil
}

func writeCatalogue(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "snippetpanel.json")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func load(t *testing.T, p string) *catalogue.Document {
	t.Helper()
	doc, err := catalogue.Load(p, catalogue.DefaultKey)
	require.NoError(t, err)
	return doc
}

func TestRun_EndToEnd(t *testing.T) {
	p := writeCatalogue(t, `{"mathSymbols": {"greek": [
		{"name": "alpha", "source": "\\alpha", "snippet": "\\alpha", "keywords": "first letter"}
	]}}`)
	eng := &fakeEngine{svgs: map[string]string{`\alpha`: "<svg><title>Alpha</title>...</svg>"}}

	res, err := New(eng, zap.NewNop(), Options{}).Run(context.Background(), load(t, p))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Scheduled)
	assert.Equal(t, 1, res.Rendered)
	assert.Empty(t, res.Failures)
	assert.NoError(t, res.Err())

	after := load(t, p)
	assert.Equal(t, "<svg><title>ALPHA. Keywords: first letter</title>...</svg>", after.Symbols["greek"][0].SVG)
}

func TestRun_SelectiveRendering(t *testing.T) {
	p := writeCatalogue(t, `{"mathSymbols": {
		"greek": [
			{"name": "alpha", "source": "\\alpha", "snippet": "\\alpha"},
			{"name": "beta", "source": "\\beta", "snippet": "\\beta", "svg": "<svg>cached beta</svg>"}
		],
		"ops": [
			{"name": "sum", "source": "\\sum", "snippet": "\\sum", "shrink": true},
			{"name": "prod", "source": "\\prod", "snippet": "\\prod", "svg": "<svg>cached prod</svg>"}
		]
	}}`)
	eng := &fakeEngine{}

	res, err := New(eng, nil, Options{}).Run(context.Background(), load(t, p))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Rendered)
	assert.EqualValues(t, 2, eng.calls.Load())
	assert.ElementsMatch(t, []string{`\alpha`, `\sum`}, eng.seen)

	after := load(t, p)
	assert.Equal(t, "<svg>cached beta</svg>", after.Symbols["greek"][1].SVG)
	assert.Equal(t, "<svg>cached prod</svg>", after.Symbols["ops"][1].SVG)
	assert.Equal(t, "<svg><title>ALPHA.</title></svg>", after.Symbols["greek"][0].SVG)
	assert.Equal(t, `<svg class="shrink"><title>SUM.</title></svg>`, after.Symbols["ops"][0].SVG)
}

func TestRun_PresentButEmptySVGIsCacheHit(t *testing.T) {
	body := `{"mathSymbols": {"greek": [
		{"name": "a", "source": "a", "snippet": "a", "svg": ""},
		{"name": "b", "source": "b", "snippet": "b", "svg": null}
	]}}`
	p := writeCatalogue(t, body)
	doc := load(t, p)
	assert.Empty(t, WorkSet(doc.Symbols))

	eng := &fakeEngine{}
	res, err := New(eng, nil, Options{}).Run(context.Background(), doc)
	require.NoError(t, err)
	assert.Zero(t, res.Rendered)
	assert.Zero(t, eng.calls.Load())

	b, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, body, string(b))
}

func TestRun_IdempotentAndNoWrite(t *testing.T) {
	body := `{"mathSymbols": {"greek": [
		{"name": "alpha", "source": "\\alpha", "snippet": "\\alpha", "svg": "<svg>a</svg>"}
	]}}`
	p := writeCatalogue(t, body)
	old := time.Now().Add(-time.Hour).Truncate(time.Second)
	require.NoError(t, os.Chtimes(p, old, old))

	eng := &fakeEngine{}
	pl := New(eng, nil, Options{})
	for i := 0; i < 2; i++ {
		res, err := pl.Run(context.Background(), load(t, p))
		require.NoError(t, err)
		assert.Zero(t, res.Scheduled)
		assert.Zero(t, res.Rendered)
	}
	assert.Zero(t, eng.calls.Load())

	st, err := os.Stat(p)
	require.NoError(t, err)
	assert.True(t, st.ModTime().Equal(old), "catalogue was rewritten")
	b, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, body, string(b))
}

func TestRun_SecondRunAfterRenderIsNoop(t *testing.T) {
	p := writeCatalogue(t, `{"mathSymbols": {"greek": [
		{"name": "alpha", "source": "\\alpha", "snippet": "\\alpha"}
	]}}`)
	eng := &fakeEngine{}
	pl := New(eng, nil, Options{})

	_, err := pl.Run(context.Background(), load(t, p))
	require.NoError(t, err)
	first, err := os.ReadFile(p)
	require.NoError(t, err)

	res, err := pl.Run(context.Background(), load(t, p))
	require.NoError(t, err)
	assert.Zero(t, res.Rendered)
	assert.EqualValues(t, 1, eng.calls.Load())

	second, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, string(first), string(second))
}

func TestRun_FailureIsIsolated(t *testing.T) {
	p := writeCatalogue(t, `{"mathSymbols": {"greek": [
		{"name": "alpha", "source": "\\alpha", "snippet": "\\alpha"},
		{"name": "bogus", "source": "\\bogus", "snippet": "\\bogus"}
	]}}`)
	eng := &fakeEngine{fail: map[string]error{`\bogus`: errUndefined}}

	res, err := New(eng, zap.NewNop(), Options{}).Run(context.Background(), load(t, p))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Scheduled)
	assert.Equal(t, 1, res.Rendered)
	require.Len(t, res.Failures, 1)

	f := res.Failures[0]
	assert.Equal(t, "greek", f.Category)
	assert.Equal(t, "bogus", f.Name)
	assert.ErrorIs(t, f, errUndefined)
	assert.ErrorIs(t, res.Err(), errUndefined)

	after := load(t, p)
	assert.Equal(t, "<svg><title>ALPHA.</title></svg>", after.Symbols["greek"][0].SVG)
	assert.False(t, after.Symbols["greek"][1].Cached())
}

func TestRun_FailureLoggedOnlyAtDebug(t *testing.T) {
	p := writeCatalogue(t, `{"mathSymbols": {"greek": [{"name": "bogus", "source": "\\bogus", "snippet": "\\bogus"}]}}`)
	eng := &fakeEngine{fail: map[string]error{`\bogus`: errUndefined}}

	core, logs := observer.New(zapcore.DebugLevel)
	res, err := New(eng, zap.New(core), Options{}).Run(context.Background(), load(t, p))
	require.NoError(t, err)
	require.Len(t, res.Failures, 1)

	assert.Zero(t, logs.Filter(func(e observer.LoggedEntry) bool { return e.Level >= zapcore.WarnLevel }).Len())
	failed := logs.FilterMessage("render failed").All()
	require.Len(t, failed, 1)
	assert.Equal(t, zapcore.DebugLevel, failed[0].Level)
	assert.Equal(t, "bogus", failed[0].ContextMap()["name"])
}

func TestRun_AllFailedNoWrite(t *testing.T) {
	body := `{"mathSymbols": {"greek": [{"name": "bogus", "source": "\\bogus", "snippet": "\\bogus"}]}}`
	p := writeCatalogue(t, body)
	eng := &fakeEngine{fail: map[string]error{`\bogus`: errUndefined}}

	res, err := New(eng, nil, Options{}).Run(context.Background(), load(t, p))
	require.NoError(t, err)
	assert.Zero(t, res.Rendered)
	assert.Len(t, res.Failures, 1)

	b, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, body, string(b))
}

func TestRun_PersistFailure(t *testing.T) {
	p := writeCatalogue(t, `{"mathSymbols": {"greek": [{"name": "alpha", "source": "\\alpha", "snippet": "\\alpha"}]}}`)
	doc := load(t, p)
	doc.Path = filepath.Join(t.TempDir(), "gone", "snippetpanel.json")

	res, err := New(&fakeEngine{}, nil, Options{}).Run(context.Background(), doc)
	require.ErrorIs(t, err, catalogue.ErrWrite)
	assert.Equal(t, 1, res.Rendered)
}

func TestRender_DispatchesWithoutWaiting(t *testing.T) {
	const n = 16
	eng := &fakeEngine{gate: make(chan struct{})}
	eng.arrive.Add(n)

	cat := catalogue.Catalogue{"c": nil}
	for i := 0; i < n; i++ {
		src := string(rune('a' + i))
		cat["c"] = append(cat["c"], &catalogue.Entry{Name: src, Source: src, Snippet: src})
	}

	// Every call must be in flight before any is allowed to finish.
	go func() {
		eng.arrive.Wait()
		close(eng.gate)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res := New(eng, nil, Options{}).Render(ctx, WorkSet(cat))
	require.Empty(t, res.Failures)
	assert.Equal(t, n, res.Rendered)
}

func TestRender_ConcurrencyLimit(t *testing.T) {
	var inFlight, peak atomic.Int32
	eng := typesetFunc(func(ctx context.Context, math string) (string, error) {
		cur := inFlight.Add(1)
		for {
			old := peak.Load()
			if cur <= old || peak.CompareAndSwap(old, cur) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		inFlight.Add(-1)
		return "<svg></svg>", nil
	})

	cat := catalogue.Catalogue{}
	for i := 0; i < 12; i++ {
		cat["c"] = append(cat["c"], &catalogue.Entry{Name: "n", Source: "s"})
	}
	res := New(eng, nil, Options{Concurrency: 3}).Render(context.Background(), WorkSet(cat))
	assert.Equal(t, 12, res.Rendered)
	assert.LessOrEqual(t, peak.Load(), int32(3))
}

func TestRender_TimeoutFailsEntry(t *testing.T) {
	eng := typesetFunc(func(ctx context.Context, math string) (string, error) {
		if math == "slow" {
			<-ctx.Done()
			return "", ctx.Err()
		}
		return "<svg></svg>", nil
	})
	cat := catalogue.Catalogue{"c": {
		{Name: "slow", Source: "slow"},
		{Name: "fast", Source: "fast"},
	}}
	res := New(eng, nil, Options{RenderTimeout: 20 * time.Millisecond}).Render(context.Background(), WorkSet(cat))
	assert.Equal(t, 1, res.Rendered)
	require.Len(t, res.Failures, 1)
	assert.ErrorIs(t, res.Failures[0], context.DeadlineExceeded)
	assert.Equal(t, "<svg></svg>", cat["c"][1].SVG)
}

func TestRender_EmptyOutputIsFailure(t *testing.T) {
	eng := typesetFunc(func(ctx context.Context, math string) (string, error) { return "", nil })
	cat := catalogue.Catalogue{"c": {{Name: "x", Source: "x"}}}
	res := New(eng, nil, Options{}).Render(context.Background(), WorkSet(cat))
	require.Len(t, res.Failures, 1)
	assert.ErrorIs(t, res.Failures[0], ErrEmptyOutput)
	assert.Zero(t, res.Rendered)
}

func TestWorkSet_Order(t *testing.T) {
	cat := catalogue.Catalogue{
		"b": {{Name: "b0"}, {Name: "b1", SVG: "<svg/>"}, {Name: "b2"}},
		"a": {{Name: "a0"}},
	}
	jobs := WorkSet(cat)
	var names []string
	for _, j := range jobs {
		names = append(names, j.Entry.Name)
	}
	assert.Equal(t, []string{"a0", "b0", "b2"}, names)
	assert.Equal(t, 2, jobs[2].Index)
}

type typesetFunc func(ctx context.Context, math string) (string, error)

func (f typesetFunc) Typeset(ctx context.Context, math string) (string, error) {
	return f(ctx, math)
}
