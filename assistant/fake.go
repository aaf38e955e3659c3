package assistant

import (
	"context"
	"io"
	"sync"
	"time"
)

// Call records one request made to a Fake.
type Call struct {
	Voice   bool
	Message string
	Clip    []byte
	History []Turn
}

// Fake answers from fixed values. Gate, when set, holds every call until it
// receives or is closed.
type Fake struct {
	Transcript string
	Response   string
	Err        error
	Delay      time.Duration
	Gate       chan struct{}

	mu    sync.Mutex
	calls []Call
}

func NewFake(transcript, response string, err error) *Fake {
	return &Fake{Transcript: transcript, Response: response, Err: err}
}

func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

func (f *Fake) wait(ctx context.Context) error {
	if f.Gate != nil {
		select {
		case <-f.Gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if f.Delay > 0 {
		select {
		case <-time.After(f.Delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (f *Fake) TranscribeAndRespond(ctx context.Context, clip Upload, history []Turn) (*Reply, error) {
	data, err := io.ReadAll(clip.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.calls = append(f.calls, Call{Voice: true, Clip: data, History: history})
	f.mu.Unlock()
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	if f.Err != nil {
		return nil, f.Err
	}
	return &Reply{Transcript: f.Transcript, Response: f.Response, Metrics: &NetworkMetrics{}}, nil
}

func (f *Fake) Chat(ctx context.Context, message string, history []Turn) (*Reply, error) {
	f.mu.Lock()
	f.calls = append(f.calls, Call{Message: message, History: history})
	f.mu.Unlock()
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	if f.Err != nil {
		return nil, f.Err
	}
	return &Reply{Response: f.Response, Metrics: &NetworkMetrics{}}, nil
}

func (f *Fake) Health(context.Context) error { return f.Err }
