package audio

// Sink receives controller notifications. Calls come from controller
// goroutines and must not block.
type Sink interface {
	CaptureState(s State)
	RecordingTick(seconds int)
	AudioLevel(level float64)
	Silence(ev SilenceEvent)
	CaptureFailed(err error)
	// AutoStopped delivers the clip of a recording ended by the silence
	// timeout. Empty recordings are not delivered.
	AutoStopped(clip *Clip)
}

type NopSink struct{}

func (NopSink) CaptureState(State)   {}
func (NopSink) RecordingTick(int)    {}
func (NopSink) AudioLevel(float64)   {}
func (NopSink) Silence(SilenceEvent) {}
func (NopSink) CaptureFailed(error)  {}
func (NopSink) AutoStopped(*Clip)    {}
