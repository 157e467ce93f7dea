package graph

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/seantiz/filterd/internal/frame"
)

// Filter type names accepted in definitions.
const (
	TypePattern  = "pattern"
	TypeInvert   = "invert"
	TypeGain     = "gain"
	TypeCallback = "callback"
)

var errGPUInactive = errors.New("gpu context is not active on this thread")

// filter is one stage of a pipeline. process takes ownership of in (nil for
// sources) and returns an owned output frame, or nil.
type filter interface {
	name() string
	open(env Env) error
	process(in *frame.Frame) (*frame.Frame, error)
	close()
}

// sourceFilter produces frames on its own schedule.
type sourceFilter interface {
	filter
	// poll reports whether a frame can be produced at now, and otherwise
	// when to try again. done means the source will never produce again.
	poll(now time.Time) (ready bool, wakeAt time.Time, done bool)
}

type filterBuilder func(spec FilterSpec) (filter, error)

var filterTypes = map[string]filterBuilder{
	TypePattern:  newPatternSource,
	TypeInvert:   newInvertFilter,
	TypeGain:     newGainFilter,
	TypeCallback: newCallbackFilter,
}

func newFilter(spec FilterSpec) (filter, error) {
	build, ok := filterTypes[spec.Type]
	if !ok {
		return nil, fmt.Errorf("filter %q: unknown type %q", spec.Name, spec.Type)
	}
	f, err := build(spec)
	if err != nil {
		return nil, fmt.Errorf("filter %q: %w", spec.Name, err)
	}
	return f, nil
}

// decodeParams fills cfg from the free-form params of a filter. Durations may
// be written as strings such as "33ms".
func decodeParams(params map[string]any, cfg any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           cfg,
	})
	if err != nil {
		return fmt.Errorf("params decoder: %w", err)
	}
	if err := dec.Decode(params); err != nil {
		return fmt.Errorf("params: %w", err)
	}
	return nil
}

// maxFrameSide bounds each dimension of a generated frame. Frames are one
// byte per pixel, so the largest frame is 16 MiB.
const maxFrameSide = 4096

type patternConfig struct {
	Count    int           `mapstructure:"count"`
	Width    int           `mapstructure:"width"`
	Height   int           `mapstructure:"height"`
	Interval time.Duration `mapstructure:"interval"`
}

// patternSource emits Count frames filled with a moving gradient, at most
// one per Interval.
type patternSource struct {
	id  string
	cfg patternConfig

	pool     *frame.Pool
	produced int
	nextAt   time.Time
}

func newPatternSource(spec FilterSpec) (filter, error) {
	cfg := patternConfig{Count: 30, Width: 64, Height: 48}
	if err := decodeParams(spec.Params, &cfg); err != nil {
		return nil, err
	}
	if cfg.Count <= 0 {
		return nil, fmt.Errorf("count must be positive, got %d", cfg.Count)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.Width > maxFrameSide || cfg.Height > maxFrameSide {
		return nil, fmt.Errorf("invalid size %dx%d, each side must be in 1..%d", cfg.Width, cfg.Height, maxFrameSide)
	}
	if cfg.Interval < 0 {
		return nil, fmt.Errorf("interval must not be negative")
	}
	return &patternSource{id: spec.Name, cfg: cfg}, nil
}

func (s *patternSource) name() string { return s.id }

func (s *patternSource) open(env Env) error {
	if env.Pool == nil {
		return fmt.Errorf("%s: no frame pool", s.id)
	}
	s.pool = env.Pool
	s.produced = 0
	s.nextAt = time.Time{}
	return nil
}

func (s *patternSource) poll(now time.Time) (bool, time.Time, bool) {
	if s.produced >= s.cfg.Count {
		return false, time.Time{}, true
	}
	if now.Before(s.nextAt) {
		return false, s.nextAt, false
	}
	return true, now, false
}

func (s *patternSource) process(*frame.Frame) (*frame.Frame, error) {
	now := time.Now()
	f := s.pool.Get(frame.Format{Width: s.cfg.Width, Height: s.cfg.Height})
	f.SetSeq(uint64(s.produced))
	f.SetTimestamp(now.UnixNano())

	data := f.Data()
	shift := s.produced * 4
	for y := range s.cfg.Height {
		row := data[y*s.cfg.Width : (y+1)*s.cfg.Width]
		for x := range row {
			row[x] = byte(x + y + shift)
		}
	}

	s.produced++
	s.nextAt = now.Add(s.cfg.Interval)
	return f, nil
}

func (s *patternSource) close() {}

// pixelFilter renders a new frame from its input with a per-byte function.
// It needs the GPU context to be current on the stepping thread.
type pixelFilter struct {
	id  string
	fn  func(b byte) byte
	env Env
}

func (p *pixelFilter) name() string { return p.id }

func (p *pixelFilter) open(env Env) error {
	if env.Pool == nil {
		return fmt.Errorf("%s: no frame pool", p.id)
	}
	p.env = env
	return nil
}

func (p *pixelFilter) process(in *frame.Frame) (*frame.Frame, error) {
	defer in.Release()

	if p.env.GPU != nil && !p.env.GPU.Active() {
		return nil, fmt.Errorf("%s: %w", p.id, errGPUInactive)
	}

	out := p.env.Pool.Get(in.Format())
	out.SetSeq(in.Seq())
	out.SetTimestamp(in.Timestamp())
	src, dst := in.Data(), out.Data()
	for i, b := range src {
		dst[i] = p.fn(b)
	}
	return out, nil
}

func (p *pixelFilter) close() {}

func newInvertFilter(spec FilterSpec) (filter, error) {
	if err := decodeParams(spec.Params, &struct{}{}); err != nil {
		return nil, err
	}
	return &pixelFilter{id: spec.Name, fn: func(b byte) byte { return 255 - b }}, nil
}

type gainConfig struct {
	Factor float64 `mapstructure:"factor"`
}

func newGainFilter(spec FilterSpec) (filter, error) {
	cfg := gainConfig{Factor: 2}
	if err := decodeParams(spec.Params, &cfg); err != nil {
		return nil, err
	}
	if math.IsNaN(cfg.Factor) || math.IsInf(cfg.Factor, 0) || cfg.Factor < 0 {
		return nil, fmt.Errorf("factor must be a finite non-negative number, got %g", cfg.Factor)
	}
	return &pixelFilter{id: spec.Name, fn: func(b byte) byte {
		v := float64(b) * cfg.Factor
		if v > 255 {
			return 255
		}
		return byte(v)
	}}, nil
}

type callbackConfig struct {
	UserData string `mapstructure:"user_data"`
}

// callbackFilter reports every input frame through the forwarder and then
// drops its own reference.
type callbackFilter struct {
	id  string
	cfg callbackConfig
	env Env
}

func newCallbackFilter(spec FilterSpec) (filter, error) {
	var cfg callbackConfig
	if err := decodeParams(spec.Params, &cfg); err != nil {
		return nil, err
	}
	return &callbackFilter{id: spec.Name, cfg: cfg}, nil
}

func (c *callbackFilter) name() string { return c.id }

func (c *callbackFilter) open(env Env) error {
	c.env = env
	return nil
}

func (c *callbackFilter) process(in *frame.Frame) (*frame.Frame, error) {
	defer in.Release()
	if c.env.Forward != nil {
		var userData any
		if c.cfg.UserData != "" {
			userData = c.cfg.UserData
		}
		c.env.Forward(c.id, in, userData)
	}
	return nil, nil
}

func (c *callbackFilter) close() {}
