package doctor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"murmur/assistant"
	"murmur/audio"
	"murmur/clipboard"
)

type Status int

const (
	Pass Status = iota
	Warn
	Fail
	Skip
)

func (s Status) String() string {
	switch s {
	case Pass:
		return "PASS"
	case Warn:
		return "WARN"
	case Fail:
		return "FAIL"
	default:
		return "SKIP"
	}
}

type Result struct {
	Name   string
	Status Status
	Detail string
}

type Options struct {
	Audio     audio.Context
	Device    string
	Format    string
	Record    time.Duration // microphone check is skipped when zero
	Assistant assistant.Assistant
	DataDir   string
}

// Check runs every diagnostic in order. The microphone check only runs when
// a capture device was found.
func Check(ctx context.Context, opts Options) []Result {
	dev, devices := checkDevices(opts)
	results := []Result{devices}
	if devices.Status == Fail {
		results = append(results, Result{Name: "Microphone", Status: Skip, Detail: "no capture device"})
	} else {
		results = append(results, checkMicrophone(ctx, opts, dev))
	}
	return append(results,
		checkService(ctx, opts.Assistant),
		checkDataDir(opts.DataDir),
		checkClipboard(),
	)
}

// Run prints the checks to w and returns an exit code (0=no failures, 1=any fail).
func Run(ctx context.Context, opts Options, w io.Writer) int {
	fmt.Fprintln(w, "murmur doctor - system diagnostics")
	fmt.Fprintln(w, "==================================")
	return Report(w, Check(ctx, opts))
}

func Report(w io.Writer, results []Result) int {
	failed := false
	for i, r := range results {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "[%d/%d] %s\n", i+1, len(results), r.Name)
		fmt.Fprintf(w, "  %s: %s\n", r.Status, r.Detail)
		if r.Status == Fail {
			failed = true
		}
	}
	fmt.Fprintln(w)
	if failed {
		fmt.Fprintln(w, "Some checks failed. See details above.")
		return 1
	}
	fmt.Fprintln(w, "All checks passed!")
	return 0
}

func checkDevices(opts Options) (*audio.DeviceInfo, Result) {
	r := Result{Name: "Audio devices"}
	if opts.Audio == nil {
		r.Status, r.Detail = Fail, "no audio backend"
		return nil, r
	}
	devices, err := opts.Audio.Devices()
	if err != nil {
		r.Status, r.Detail = Fail, fmt.Sprintf("cannot list devices: %v", err)
		return nil, r
	}
	if len(devices) == 0 {
		r.Status, r.Detail = Fail, "no capture devices found"
		return nil, r
	}
	dev, err := audio.FindDevice(opts.Audio, opts.Device)
	if err != nil {
		r.Status, r.Detail = Fail, err.Error()
		return nil, r
	}
	name := "system default"
	if dev != nil {
		name = dev.Name
	}
	r.Status, r.Detail = Pass, fmt.Sprintf("%d device(s), using %s", len(devices), name)
	if audio.IsBluetooth(name) {
		r.Status = Warn
		r.Detail += " (bluetooth input lowers audio quality)"
	}
	return dev, r
}

type levelSink struct {
	audio.NopSink
	mu   sync.Mutex
	peak float64
}

func (s *levelSink) AudioLevel(level float64) {
	s.mu.Lock()
	s.peak = max(s.peak, level)
	s.mu.Unlock()
}

func (s *levelSink) Peak() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peak
}

func checkMicrophone(ctx context.Context, opts Options, dev *audio.DeviceInfo) Result {
	r := Result{Name: "Microphone"}
	if opts.Record <= 0 {
		r.Status, r.Detail = Skip, "recording disabled"
		return r
	}
	sink := &levelSink{}
	ctrl := audio.NewController(opts.Audio, audio.ControllerConfig{
		Device: dev,
		Format: opts.Format,
		Sink:   sink,
	})
	defer ctrl.Shutdown()

	if err := ctrl.Start(ctx); err != nil {
		r.Status, r.Detail = Fail, captureDetail(err)
		return r
	}
	select {
	case <-time.After(opts.Record):
	case <-ctx.Done():
	}
	clip, err := ctrl.Stop()
	if err != nil {
		r.Status, r.Detail = Fail, captureDetail(err)
		return r
	}
	r.Status = Pass
	r.Detail = fmt.Sprintf("recorded %.1fs, %.1f KB %s, peak level %.2f",
		clip.Duration().Seconds(), float64(clip.Size())/1024, clip.Format(), sink.Peak())
	return r
}

func captureDetail(err error) string {
	switch {
	case errors.Is(err, audio.ErrPermissionDenied):
		return "microphone access denied; allow it in your system privacy settings"
	case errors.Is(err, audio.ErrEmptyCapture):
		return "no audio captured"
	default:
		return fmt.Sprintf("recording error: %v", err)
	}
}

func checkService(ctx context.Context, svc assistant.Assistant) Result {
	r := Result{Name: "Response service"}
	if svc == nil {
		r.Status, r.Detail = Skip, "not configured"
		return r
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := svc.Health(ctx); err != nil {
		r.Status, r.Detail = Fail, err.Error()
		return r
	}
	r.Status, r.Detail = Pass, "healthy"
	if c, ok := svc.(*assistant.Client); ok {
		r.Detail = "healthy at " + c.BaseURL()
	}
	return r
}

func checkDataDir(dir string) Result {
	r := Result{Name: "Data directory"}
	if dir == "" {
		r.Status, r.Detail = Skip, "in-memory session"
		return r
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		r.Status, r.Detail = Fail, err.Error()
		return r
	}
	f, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		r.Status, r.Detail = Fail, fmt.Sprintf("not writable: %v", err)
		return r
	}
	f.Close()
	os.Remove(f.Name())
	r.Status, r.Detail = Pass, dir+" is writable"
	return r
}

func checkClipboard() Result {
	r := Result{Name: "Clipboard"}
	if !clipboard.Available() {
		r.Status, r.Detail = Warn, clipboard.ErrUnsupported.Error()
		return r
	}
	r.Status, r.Detail = Pass, "available"
	return r
}
