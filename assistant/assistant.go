package assistant

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

// Turn is one history entry sent as context.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Reply struct {
	Transcript string // voice exchanges only
	Response   string
	Metrics    *NetworkMetrics
}

// Upload is the clip payload of a voice exchange.
type Upload struct {
	Filename    string
	ContentType string
	Body        io.Reader
}

type Assistant interface {
	// TranscribeAndRespond sends a clip and gets its transcript plus a reply.
	TranscribeAndRespond(ctx context.Context, clip Upload, history []Turn) (*Reply, error)
	Chat(ctx context.Context, message string, history []Turn) (*Reply, error)
	Health(ctx context.Context) error
}

var (
	ErrTransport = errors.New("assistant: transport failure")
	ErrMalformed = fmt.Errorf("%w: malformed response", ErrTransport)
)

// ServiceError is an error reported by the service itself, either in the
// body's error field or as a bare non-2xx status.
type ServiceError struct {
	StatusCode int
	Message    string
}

func (e *ServiceError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("assistant: service returned HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("assistant: service error (HTTP %d): %s", e.StatusCode, e.Message)
}

func (e *ServiceError) Is(target error) bool { return target == ErrTransport }

type NetworkMetrics struct {
	DNS        time.Duration
	ConnWait   time.Duration
	TCP        time.Duration
	TLS        time.Duration
	ReqHeaders time.Duration
	ReqBody    time.Duration
	TTFB       time.Duration
	Download   time.Duration
	Total      time.Duration
	ConnReused bool
}

func (m *NetworkMetrics) Sum() time.Duration {
	return m.ConnWait + m.DNS + m.TCP + m.TLS + m.ReqHeaders + m.ReqBody + m.TTFB + m.Download
}
