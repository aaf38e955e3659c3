package exchange

import (
	"context"
	"errors"

	"murmur/audio"
	"murmur/conversation"
)

// SessionState is what a front end needs to render controls.
type SessionState struct {
	ActiveID conversation.ID
	Busy     bool
	Capture  audio.State
}

// Session ties the process-wide pieces together: one store, one microphone
// and one coordinator.
type Session struct {
	Store     *conversation.Store
	Capture   *audio.Controller
	Exchanges *Coordinator
}

func NewSession(store *conversation.Store, capture *audio.Controller, coord *Coordinator) *Session {
	return &Session{Store: store, Capture: capture, Exchanges: coord}
}

func (s *Session) State() SessionState {
	id := s.Store.ActiveID()
	st := SessionState{ActiveID: id, Busy: s.Store.Busy(id), Capture: audio.StateIdle}
	if s.Capture != nil {
		st.Capture = s.Capture.State()
	}
	return st
}

// Record starts capturing for the active conversation.
func (s *Session) Record(ctx context.Context) error {
	if s.Capture == nil {
		return audio.ErrDeviceUnavailable
	}
	return s.Capture.Start(ctx)
}

// Finish stops capturing and returns the clip. An empty recording returns
// nil, nil and is meant to be dropped.
func (s *Session) Finish() (*audio.Clip, error) {
	if s.Capture == nil {
		return nil, audio.ErrNotRecording
	}
	clip, err := s.Capture.Stop()
	if errors.Is(err, audio.ErrEmptyCapture) {
		return nil, nil
	}
	return clip, err
}

// SendVoice sends clip to conversation id.
func (s *Session) SendVoice(ctx context.Context, id conversation.ID, clip *audio.Clip) error {
	return s.Exchanges.SendVoice(ctx, id, clip)
}

func (s *Session) SendText(ctx context.Context, text string) error {
	return s.Exchanges.SendText(ctx, s.Store.ActiveID(), text)
}

func (s *Session) Edit(ctx context.Context, index int, text string) error {
	return s.Exchanges.Edit(ctx, s.Store.ActiveID(), index, text)
}

// Close releases the microphone and waits for exchanges in flight, each of
// which is bounded by the request timeout.
func (s *Session) Close() {
	if s.Capture != nil {
		s.Capture.Shutdown()
	}
	s.Exchanges.Close()
}
