package audio

import (
	"context"
	"errors"
	"sync"
	"time"

	"murmur/encoder"
)

type State int32

const (
	StateIdle State = iota
	StateAcquiring
	StateRecording
	StateFinalizing
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAcquiring:
		return "acquiring"
	case StateRecording:
		return "recording"
	case StateFinalizing:
		return "finalizing"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

type ControllerConfig struct {
	Device        *DeviceInfo
	Format        string
	AutoStop      bool
	LevelInterval time.Duration // 60 Hz when zero
	TickInterval  time.Duration // 1s when zero
	SilenceTick   time.Duration // 100ms when zero
	Sink          Sink
}

// Controller owns the microphone. One recording at a time; every path that
// ends a recording goes through the recording's release.
type Controller struct {
	actx Context
	cfg  ControllerConfig
	sink Sink

	mu     sync.Mutex
	state  State
	active *recording
	closed bool
}

func NewController(actx Context, cfg ControllerConfig) *Controller {
	if cfg.LevelInterval <= 0 {
		cfg.LevelInterval = time.Second / 60
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	if cfg.SilenceTick <= 0 {
		cfg.SilenceTick = silenceTick
	}
	sink := cfg.Sink
	if sink == nil {
		sink = NopSink{}
	}
	return &Controller{actx: actx, cfg: cfg, sink: sink}
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Elapsed reports how long the current recording has run.
func (c *Controller) Elapsed() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return 0
	}
	return time.Since(c.active.started)
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	c.sink.CaptureState(s)
}

// Start acquires the device and begins recording. It returns once the
// controller is recording or acquisition has failed.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state != StateIdle {
		c.mu.Unlock()
		return ErrNotIdle
	}
	c.state = StateAcquiring
	c.mu.Unlock()
	c.sink.CaptureState(StateAcquiring)

	rec, err := c.acquire(ctx)
	if err != nil {
		c.setState(StateError)
		c.sink.CaptureFailed(err)
		c.setState(StateIdle)
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.state = StateIdle
		c.mu.Unlock()
		rec.release()
		c.sink.CaptureState(StateIdle)
		return ErrClosed
	}
	c.state = StateRecording
	c.active = rec
	c.mu.Unlock()

	rec.run(c.cfg, c.sink, c.autoStop)
	c.sink.CaptureState(StateRecording)
	return nil
}

func (c *Controller) acquire(ctx context.Context) (*recording, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dev, err := c.actx.NewCapture(c.cfg.Device, CaptureConfig{
		SampleRate: encoder.SampleRate,
		Channels:   encoder.Channels,
	})
	if err != nil {
		return nil, classify(err)
	}

	rec := &recording{
		dev:      dev,
		analyser: NewAnalyser(),
		done:     make(chan struct{}),
	}
	dev.SetCallback(rec.feed)
	if err := dev.Start(); err != nil {
		dev.ClearCallback()
		dev.Close()
		rec.analyser.Close()
		return nil, classify(err)
	}
	if err := ctx.Err(); err != nil {
		rec.release()
		return nil, err
	}
	rec.started = time.Now()
	return rec, nil
}

// Stop ends the recording and returns the finished clip. A recording that
// captured nothing yields ErrEmptyCapture.
func (c *Controller) Stop() (*Clip, error) {
	c.mu.Lock()
	if c.state != StateRecording || c.active == nil {
		c.mu.Unlock()
		return nil, ErrNotRecording
	}
	rec := c.active
	c.active = nil
	c.state = StateFinalizing
	c.mu.Unlock()
	c.sink.CaptureState(StateFinalizing)
	defer c.setState(StateIdle)

	rec.release()
	return NewClip(c.cfg.Format, rec.take())
}

// autoStop ends a recording after the silence timeout and hands the clip to
// the sink like a manual stop would.
func (c *Controller) autoStop() {
	go func() {
		clip, err := c.Stop()
		switch {
		case err == nil:
			c.sink.AutoStopped(clip)
		case errors.Is(err, ErrNotRecording), errors.Is(err, ErrEmptyCapture):
		default:
			c.sink.CaptureFailed(err)
		}
	}()
}

// Shutdown releases any live recording and refuses further starts. Safe to
// call from any state and more than once.
func (c *Controller) Shutdown() {
	c.mu.Lock()
	c.closed = true
	rec := c.active
	c.active = nil
	if rec != nil {
		c.state = StateIdle
	}
	c.mu.Unlock()

	if rec != nil {
		rec.release()
		c.sink.CaptureState(StateIdle)
	}
}

type recording struct {
	dev      CaptureDevice
	analyser *Analyser
	started  time.Time

	bufMu sync.Mutex
	pcm   []byte

	done chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

func (r *recording) feed(data []byte, _ uint32) {
	r.bufMu.Lock()
	r.pcm = append(r.pcm, data...)
	r.bufMu.Unlock()
	r.analyser.Write(data)
}

func (r *recording) take() []byte {
	r.bufMu.Lock()
	defer r.bufMu.Unlock()
	pcm := r.pcm
	r.pcm = nil
	return pcm
}

func (r *recording) run(cfg ControllerConfig, sink Sink, autoStop func()) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		tick := time.NewTicker(cfg.TickInterval)
		level := time.NewTicker(cfg.LevelInterval)
		voice := time.NewTicker(cfg.SilenceTick)
		defer tick.Stop()
		defer level.Stop()
		defer voice.Stop()

		monitor := newSilenceMonitor(cfg.AutoStop)
		seconds := 0
		last := 0.0
		for {
			select {
			case <-r.done:
				return
			case <-tick.C:
				seconds++
				sink.RecordingTick(seconds)
			case <-level.C:
				last = r.analyser.Level()
				sink.AudioLevel(last)
			case <-voice.C:
				ev := monitor.Level(last)
				if ev == SilenceNone {
					continue
				}
				sink.Silence(ev)
				if ev == SilenceAutoStop {
					autoStop()
					return
				}
			}
		}
	}()
}

// release tears the recording down exactly once.
func (r *recording) release() {
	r.once.Do(func() {
		close(r.done)
		r.wg.Wait()
		r.dev.Stop()
		r.dev.ClearCallback()
		r.dev.Close()
		r.analyser.Close()
	})
}
