package audio

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type recordingSink struct {
	mu     sync.Mutex
	states []State
	ticks  int
	levels int
	failed []error
	auto   []*Clip
}

func (s *recordingSink) CaptureState(st State) {
	s.mu.Lock()
	s.states = append(s.states, st)
	s.mu.Unlock()
}

func (s *recordingSink) RecordingTick(int) {
	s.mu.Lock()
	s.ticks++
	s.mu.Unlock()
}

func (s *recordingSink) AudioLevel(float64) {
	s.mu.Lock()
	s.levels++
	s.mu.Unlock()
}

func (s *recordingSink) Silence(SilenceEvent) {}

func (s *recordingSink) CaptureFailed(err error) {
	s.mu.Lock()
	s.failed = append(s.failed, err)
	s.mu.Unlock()
}

func (s *recordingSink) AutoStopped(clip *Clip) {
	s.mu.Lock()
	s.auto = append(s.auto, clip)
	s.mu.Unlock()
}

func (s *recordingSink) autoStopped() []*Clip {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Clip(nil), s.auto...)
}

func (s *recordingSink) snapshot() ([]State, int, int, []error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]State(nil), s.states...), s.ticks, s.levels, append([]error(nil), s.failed...)
}

func newTestController(pcm []byte) (*Controller, *FakeContext, *recordingSink) {
	fake := NewFakeContextPCM(pcm, false)
	sink := &recordingSink{}
	c := NewController(fake, ControllerConfig{
		Sink:          sink,
		TickInterval:  5 * time.Millisecond,
		LevelInterval: 2 * time.Millisecond,
	})
	return c, fake, sink
}

func TestControllerRecordAndStop(t *testing.T) {
	defer goleak.VerifyNone(t)
	c, fake, sink := newTestController(sinePCM(440, 0.5, 16000))

	require.NoError(t, c.Start(context.Background()))
	assert.Equal(t, StateRecording, c.State())

	require.Eventually(t, func() bool {
		_, ticks, levels, _ := sink.snapshot()
		return ticks > 0 && levels > 0
	}, time.Second, time.Millisecond)

	clip, err := c.Stop()
	require.NoError(t, err)
	assert.Equal(t, "wav", clip.Format())
	assert.Equal(t, "recording.wav", clip.Filename())
	assert.Equal(t, time.Second, clip.Duration())
	assert.Equal(t, 44+32000, clip.Size())

	assert.Equal(t, StateIdle, c.State())
	assert.Zero(t, fake.Open())

	states, _, _, failed := sink.snapshot()
	assert.Equal(t, []State{StateAcquiring, StateRecording, StateFinalizing, StateIdle}, states)
	assert.Empty(t, failed)
}

func TestControllerStartWhileRecording(t *testing.T) {
	defer goleak.VerifyNone(t)
	c, fake, _ := newTestController(sinePCM(440, 0.5, 1600))

	require.NoError(t, c.Start(context.Background()))
	assert.ErrorIs(t, c.Start(context.Background()), ErrNotIdle)
	assert.Equal(t, StateRecording, c.State())
	assert.Equal(t, 1, fake.Open())

	_, err := c.Stop()
	require.NoError(t, err)
}

func TestControllerStopWhenIdle(t *testing.T) {
	c, _, sink := newTestController(nil)
	_, err := c.Stop()
	assert.ErrorIs(t, err, ErrNotRecording)
	states, _, _, _ := sink.snapshot()
	assert.Empty(t, states)
}

func TestControllerEmptyCapture(t *testing.T) {
	defer goleak.VerifyNone(t)
	c, fake, _ := newTestController(nil)

	require.NoError(t, c.Start(context.Background()))
	clip, err := c.Stop()
	assert.Nil(t, clip)
	assert.ErrorIs(t, err, ErrEmptyCapture)
	assert.Equal(t, StateIdle, c.State())
	assert.Zero(t, fake.Open())
}

func TestControllerPartialSampleIsEmpty(t *testing.T) {
	defer goleak.VerifyNone(t)
	c, fake, _ := newTestController([]byte{0x7f})

	require.NoError(t, c.Start(context.Background()))
	<-fake.Last().AudioDone()
	clip, err := c.Stop()
	assert.Nil(t, clip)
	assert.ErrorIs(t, err, ErrEmptyCapture)

	_, err = NewClip("wav", []byte{0x7f})
	assert.ErrorIs(t, err, ErrEmptyCapture)
	_, err = NewClip("wav", []byte{0x7f, 0x00})
	assert.NoError(t, err)
}

func TestControllerPermissionDenied(t *testing.T) {
	defer goleak.VerifyNone(t)
	c, fake, sink := newTestController(nil)
	fake.FailOpen(errors.New("pulse: Access denied"))

	err := c.Start(context.Background())
	assert.ErrorIs(t, err, ErrPermissionDenied)
	assert.NotErrorIs(t, err, ErrDeviceUnavailable)
	assert.Equal(t, StateIdle, c.State())

	states, _, _, failed := sink.snapshot()
	assert.Equal(t, []State{StateAcquiring, StateError, StateIdle}, states)
	require.Len(t, failed, 1)
	assert.ErrorIs(t, failed[0], ErrPermissionDenied)

	// retry is allowed after a failure
	fake.FailOpen(nil)
	require.NoError(t, c.Start(context.Background()))
	c.Shutdown()
}

func TestControllerDeviceUnavailable(t *testing.T) {
	defer goleak.VerifyNone(t)
	c, fake, _ := newTestController(nil)
	fake.FailStart(errors.New("no such device"))

	err := c.Start(context.Background())
	assert.ErrorIs(t, err, ErrDeviceUnavailable)
	assert.Zero(t, fake.Open())
}

func TestControllerShutdown(t *testing.T) {
	defer goleak.VerifyNone(t)
	c, fake, _ := newTestController(sinePCM(440, 0.5, 1600))

	require.NoError(t, c.Start(context.Background()))
	c.Shutdown()
	c.Shutdown()

	assert.Zero(t, fake.Open())
	assert.Equal(t, StateIdle, c.State())
	assert.ErrorIs(t, c.Start(context.Background()), ErrClosed)
	_, err := c.Stop()
	assert.ErrorIs(t, err, ErrNotRecording)
}

func TestControllerRepeatedCycles(t *testing.T) {
	defer goleak.VerifyNone(t)
	c, fake, _ := newTestController(sinePCM(440, 0.5, 800))
	for range 20 {
		require.NoError(t, c.Start(context.Background()))
		_, err := c.Stop()
		require.NoError(t, err)
	}
	assert.Zero(t, fake.Open())
}

func TestControllerCancelledContext(t *testing.T) {
	c, fake, _ := newTestController(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, c.Start(ctx), context.Canceled)
	assert.Equal(t, StateIdle, c.State())
	assert.Zero(t, fake.Open())
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want error
	}{
		{errors.New("Permission denied"), ErrPermissionDenied},
		{errors.New("malgo init device: not authorized"), ErrPermissionDenied},
		{errors.New("connection refused"), ErrDeviceUnavailable},
	}
	for _, tt := range tests {
		got := classify(tt.err)
		if !errors.Is(got, tt.want) {
			t.Errorf("classify(%q) = %v, want %v", tt.err, got, tt.want)
		}
		if !errors.Is(got, tt.err) {
			t.Errorf("classify(%q) lost the cause", tt.err)
		}
	}
}

func TestIsBluetooth(t *testing.T) {
	if !IsBluetooth("AirPods Pro") {
		t.Error("AirPods should be bluetooth")
	}
	if IsBluetooth("Built-in Microphone") {
		t.Error("built-in mic is not bluetooth")
	}
}

func TestFindDevice(t *testing.T) {
	ctx := NewFakeContextPCM(nil, false)

	dev, err := FindDevice(ctx, "")
	require.NoError(t, err)
	assert.Nil(t, dev)

	dev, err = FindDevice(ctx, "FAK")
	require.NoError(t, err)
	require.NotNil(t, dev)
	assert.Equal(t, "fake", dev.Name)

	_, err = FindDevice(ctx, "usb")
	assert.Error(t, err)

	_, err = FindDevice(Unavailable(ErrDeviceUnavailable), "usb")
	assert.ErrorIs(t, err, ErrDeviceUnavailable)
}

func TestControllerAutoStopDeliversClip(t *testing.T) {
	defer goleak.VerifyNone(t)
	pcm := append(sinePCM(440, 0.5, 16000), make([]byte, 16000)...)
	fake := NewFakeContextPCM(pcm, false)
	sink := &recordingSink{}
	c := NewController(fake, ControllerConfig{
		Sink:        sink,
		AutoStop:    true,
		SilenceTick: time.Millisecond,
	})

	require.NoError(t, c.Start(context.Background()))
	<-fake.Last().AudioDone()
	require.Eventually(t, func() bool { return len(sink.autoStopped()) == 1 }, 5*time.Second, time.Millisecond)

	clip := sink.autoStopped()[0]
	require.NotNil(t, clip)
	assert.Equal(t, 44+len(pcm), clip.Size())
	assert.Equal(t, StateIdle, c.State())
	assert.Zero(t, fake.Open())

	_, _, _, failed := sink.snapshot()
	assert.Empty(t, failed)
	_, err := c.Stop()
	assert.ErrorIs(t, err, ErrNotRecording)
}

func TestControllerAutoStopEmptyCapture(t *testing.T) {
	defer goleak.VerifyNone(t)
	fake := NewFakeContextPCM(nil, false)
	sink := &recordingSink{}
	c := NewController(fake, ControllerConfig{
		Sink:        sink,
		AutoStop:    true,
		SilenceTick: time.Millisecond,
	})

	require.NoError(t, c.Start(context.Background()))
	require.Eventually(t, func() bool { return c.State() == StateIdle }, 5*time.Second, time.Millisecond)
	time.Sleep(10 * time.Millisecond)

	assert.Empty(t, sink.autoStopped())
	_, _, _, failed := sink.snapshot()
	assert.Empty(t, failed)
}
