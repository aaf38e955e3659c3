package beep

import (
	"math"
	"sync"
	"sync/atomic"
)

type Sound int

const (
	Start Sound = iota
	Stop
	Reply
	Error
)

const sampleRate = 44100

type cue struct {
	freq     float64
	duration float64
	volume   float64
	decay    float64
	double   bool
}

var cues = map[Sound]cue{
	// high and short
	Start: {freq: 1200, duration: 0.03, volume: 0.5, decay: 60},
	Stop:  {freq: 900, duration: 0.05, volume: 0.5, decay: 40},
	Reply: {freq: 660, duration: 0.08, volume: 0.35, decay: 25},
	// low double-beep
	Error: {freq: 350, duration: 0.08, volume: 0.6, decay: 30, double: true},
}

var (
	disabled atomic.Bool
	gate     atomic.Pointer[func() bool]

	// output is swapped out in tests.
	output = play

	cacheOnce sync.Once
	cache     map[Sound][]int16
)

func Disable() { disabled.Store(true) }

// SetGate installs a check consulted before every sound, such as the
// sound-effects setting. A nil gate lets every sound through.
func SetGate(fn func() bool) {
	if fn == nil {
		gate.Store(nil)
		return
	}
	gate.Store(&fn)
}

func enabled() bool {
	if disabled.Load() {
		return false
	}
	if fn := gate.Load(); fn != nil {
		return (*fn)()
	}
	return true
}

// Init renders every cue up front so the first sound plays without delay.
func Init() {
	cacheOnce.Do(render)
}

func render() {
	cache = make(map[Sound][]int16, len(cues))
	for s, c := range cues {
		d := max(c.duration, minDuration)
		if c.double {
			cache[s] = doubleBeep(sampleRate, c.freq, c.duration, 0.05, c.volume, c.decay)
		} else {
			cache[s] = tick(sampleRate, c.freq, d, c.volume, c.decay)
		}
	}
}

func samples(s Sound) []int16 {
	cacheOnce.Do(render)
	return cache[s]
}

// Play sounds s unless sounds are disabled or gated off. It does not block.
func Play(s Sound) {
	if !enabled() {
		return
	}
	output(s)
}

func PlayStart() { Play(Start) }
func PlayEnd()   { Play(Stop) }
func PlayReply() { Play(Reply) }
func PlayError() { Play(Error) }

// tick is a mono sine with an exponential decay envelope.
func tick(rate int, freq, duration, volume, decay float64) []int16 {
	n := int(float64(rate) * duration)
	out := make([]int16, n)
	for i := range out {
		t := float64(i) / float64(rate)
		envelope := math.Exp(-t * decay)
		out[i] = int16(math.Sin(2*math.Pi*freq*t) * 32767 * volume * envelope)
	}
	return out
}

func doubleBeep(rate int, freq, beepDur, gapDur, volume, decay float64) []int16 {
	beep := tick(rate, freq, beepDur, volume, decay)
	gap := make([]int16, int(float64(rate)*gapDur))
	out := make([]int16, 0, len(beep)*2+len(gap))
	out = append(out, beep...)
	out = append(out, gap...)
	return append(out, beep...)
}
