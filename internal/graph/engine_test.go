package graph

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seantiz/filterd/internal/frame"
	"github.com/seantiz/filterd/internal/runner"
)

type fakeGPU bool

func (g fakeGPU) Active() bool { return bool(g) }

type forwarded struct {
	producer string
	frame    *frame.Frame
	userData any
}

// collector keeps a reference to every forwarded frame, like the runner does
// until dispatch.
type collector struct {
	got []forwarded
}

func (c *collector) forward(producer string, f runner.Frame, userData any) {
	f.Retain()
	c.got = append(c.got, forwarded{producer: producer, frame: f.(*frame.Frame), userData: userData})
}

func (c *collector) releaseAll() {
	for _, g := range c.got {
		g.frame.Release()
	}
}

func testDefinition(count int, interval string) *Definition {
	return &Definition{
		GraphName: "test",
		Filters: []FilterSpec{
			{Name: "cam", Type: TypePattern, Params: map[string]any{"count": count, "width": 4, "height": 2, "interval": interval}},
			{Name: "inv", Type: TypeInvert},
			{Name: "out", Type: TypeCallback, Params: map[string]any{"user_data": "tag"}},
		},
	}
}

func newTestEngine(t *testing.T, def *Definition, gpu GPU) (*Engine, *frame.Pool, *collector) {
	t.Helper()
	pool := frame.NewPool()
	c := &collector{}
	e, err := NewEngine(def, Env{
		Pool:    pool,
		GPU:     gpu,
		Forward: c.forward,
		Logger:  slog.New(slog.NewJSONHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	return e, pool, c
}

// stepAll drives the engine the way the worker loop does.
func stepAll(t *testing.T, e *Engine) []runner.StepStatus {
	t.Helper()
	var statuses []runner.StepStatus
	for range 1000 {
		s := e.Step(true)
		statuses = append(statuses, s)
		if s == runner.StepSleeping {
			e.WaitUntilWake()
		}
		if s.IsTerminal() {
			return statuses
		}
	}
	t.Fatal("engine did not reach a terminal status")
	return nil
}

func TestEngineRunsPipelineToCompletion(t *testing.T) {
	e, pool, c := newTestEngine(t, testDefinition(3, "0s"), fakeGPU(true))

	require.NoError(t, e.Open())
	require.NoError(t, e.AssertReady())
	statuses := stepAll(t, e)
	e.Close()

	assert.Equal(t, runner.StepFinished, statuses[len(statuses)-1])
	require.Len(t, c.got, 3)
	for i, g := range c.got {
		assert.Equal(t, "out", g.producer)
		assert.Equal(t, "tag", g.userData)
		assert.Equal(t, uint64(i), g.frame.Seq())
		assert.Equal(t, int32(1), g.frame.RefCount(), "only the collector should hold frame %d", i)
		// Pattern pixel (0,0) is seq*4; inverted.
		assert.Equal(t, byte(255-i*4), g.frame.Data()[0])
	}

	c.releaseAll()
	assert.Zero(t, pool.Live())
}

func TestEngineSleepsBetweenPacedFrames(t *testing.T) {
	e, pool, c := newTestEngine(t, testDefinition(2, "20ms"), fakeGPU(true))

	require.NoError(t, e.Open())
	start := time.Now()
	statuses := stepAll(t, e)
	e.Close()

	assert.Contains(t, statuses, runner.StepSleeping)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	assert.Len(t, c.got, 2)

	c.releaseAll()
	assert.Zero(t, pool.Live())
}

func TestEngineCloseReleasesQueuedFrames(t *testing.T) {
	e, pool, c := newTestEngine(t, testDefinition(5, "0s"), fakeGPU(true))

	require.NoError(t, e.Open())
	// Source runs, then invert, then the sink, then the source again.
	for range 4 {
		require.Equal(t, runner.StepRunning, e.Step(true))
	}
	require.Len(t, c.got, 1)
	assert.Equal(t, int64(2), pool.Live(), "one queued frame plus the forwarded one")

	e.Close()
	c.releaseAll()
	assert.Zero(t, pool.Live())
}

func TestEngineTransformNeedsGPU(t *testing.T) {
	e, pool, _ := newTestEngine(t, testDefinition(1, "0s"), fakeGPU(false))

	require.NoError(t, e.Open())
	assert.Equal(t, runner.StepRunning, e.Step(true))
	assert.Equal(t, runner.StepError, e.Step(true))
	e.Close()
	assert.Zero(t, pool.Live())
}

func TestEngineAssertReady(t *testing.T) {
	e, _, _ := newTestEngine(t, testDefinition(1, "0s"), nil)
	assert.Error(t, e.AssertReady(), "unopened engine must not be ready")
	assert.Equal(t, runner.StepError, e.Step(true))

	noForward, err := NewEngine(testDefinition(1, "0s"), Env{Pool: frame.NewPool()})
	require.NoError(t, err)
	require.NoError(t, noForward.Open())
	assert.Error(t, noForward.AssertReady())
	noForward.Close()
}

func TestEngineReopenRestartsSource(t *testing.T) {
	e, pool, c := newTestEngine(t, testDefinition(2, "0s"), fakeGPU(true))

	for range 2 {
		require.NoError(t, e.Open())
		require.NoError(t, e.Open(), "Open must be idempotent")
		stepAll(t, e)
		e.Close()
	}

	assert.Len(t, c.got, 4)
	c.releaseAll()
	assert.Zero(t, pool.Live())
}

func TestFactoryRejectsForeignGraph(t *testing.T) {
	f := Factory(func() Env { return Env{Pool: frame.NewPool()} })
	_, err := f(otherGraph{})
	assert.ErrorIs(t, err, ErrInvalidDefinition)
}

type otherGraph struct{}

func (otherGraph) Name() string { return "other" }
