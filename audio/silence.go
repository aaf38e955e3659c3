package audio

import "time"

const (
	silenceTick         = 100 * time.Millisecond
	silenceWarnEvery    = 8 * time.Second
	silenceAutoStopDur  = 30 * time.Second
	speechMinRatio      = 0.10
	speechClearRatio    = 0.25 // hysteresis
	voiceLevelThreshold = 0.30
)

type SilenceEvent int

const (
	SilenceNone      SilenceEvent = iota
	SilenceWarn                   // no voice for 8s
	SilenceWarnClear              // voice resumed after a warning
	SilenceRepeat                 // still silent, every 8s (auto-stop mode)
	SilenceAutoStop               // 30s of silence (auto-stop mode)
)

func (e SilenceEvent) String() string {
	switch e {
	case SilenceWarn:
		return "warn"
	case SilenceWarnClear:
		return "clear"
	case SilenceRepeat:
		return "repeat"
	case SilenceAutoStop:
		return "auto-stop"
	default:
		return "none"
	}
}

// silenceMonitor keeps a sliding window of voice/no-voice ticks.
type silenceMonitor struct {
	warnAt   int
	windowSz int
	autoStop bool

	ticks       int
	window      []bool
	speechCount int
	warned      bool
	lastWarn    int
}

func newSilenceMonitor(autoStop bool) *silenceMonitor {
	windowSz := int(silenceAutoStopDur / silenceTick)
	return &silenceMonitor{
		warnAt:   int(silenceWarnEvery / silenceTick),
		windowSz: windowSz,
		autoStop: autoStop,
		window:   make([]bool, windowSz),
	}
}

func (m *silenceMonitor) ratio(n int) float64 {
	n = min(n, m.ticks)
	if n == 0 {
		return 1.0
	}
	count := 0
	for i := range n {
		if m.window[(m.ticks-1-i+m.windowSz)%m.windowSz] {
			count++
		}
	}
	return float64(count) / float64(n)
}

// Level feeds one analyser reading.
func (m *silenceMonitor) Level(level float64) SilenceEvent {
	return m.Tick(level >= voiceLevelThreshold)
}

func (m *silenceMonitor) Tick(voice bool) SilenceEvent {
	idx := m.ticks % m.windowSz
	if m.ticks >= m.windowSz && m.window[idx] {
		m.speechCount--
	}
	m.window[idx] = voice
	if voice {
		m.speechCount++
	}
	m.ticks++

	r := m.ratio(m.warnAt)
	if m.ticks >= m.warnAt && r < speechMinRatio && !m.warned {
		m.warned = true
		m.lastWarn = m.ticks
		return SilenceWarn
	}
	if m.warned && r >= speechClearRatio {
		m.warned = false
		return SilenceWarnClear
	}

	if !m.autoStop {
		return SilenceNone
	}
	// auto-stop wins over repeat
	if m.ticks >= m.windowSz && float64(m.speechCount)/float64(m.windowSz) < speechMinRatio {
		return SilenceAutoStop
	}
	if m.warned && m.ticks-m.lastWarn >= m.warnAt {
		m.lastWarn = m.ticks
		return SilenceRepeat
	}
	return SilenceNone
}
