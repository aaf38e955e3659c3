package audio

import (
	"errors"
	"io/fs"
	"strings"
)

var btKeywords = []string{
	"airpods", "beats", "bose", "wh-1000", "wf-1000",
	"sony wh-", "sony wf-",
	"jabra", "galaxy buds", "pixel buds", "powerbeats",
	"jbl ", "sennheiser momentum", "plantronics",
	"tozo", "anker soundcore", "skullcandy",
	"bluetooth", " bt ", " bt)", " bt]",
}

func IsBluetooth(name string) bool {
	lower := strings.ToLower(name)
	for _, kw := range btKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

type DataCallback func(data []byte, frameCount uint32)

type CaptureConfig struct {
	SampleRate uint32
	Channels   uint32
}

type DeviceInfo struct {
	ID   string // opaque platform-specific identifier
	Name string
}

type Context interface {
	Devices() ([]DeviceInfo, error)
	NewCapture(device *DeviceInfo, config CaptureConfig) (CaptureDevice, error)
	Close()
}

type CaptureDevice interface {
	Start() error
	Stop()
	Close()
	SetCallback(cb DataCallback)
	ClearCallback()
	DeviceName() string
}

var (
	ErrPermissionDenied  = errors.New("microphone permission denied")
	ErrDeviceUnavailable = errors.New("microphone unavailable")
	ErrEmptyCapture      = errors.New("nothing was captured")
	ErrNotIdle           = errors.New("capture already in progress")
	ErrNotRecording      = errors.New("not recording")
	ErrClosed            = errors.New("capture controller closed")
)

// CaptureError pairs a failure kind (ErrPermissionDenied or
// ErrDeviceUnavailable) with the backend error that caused it.
type CaptureError struct {
	Kind error
	Err  error
}

func (e *CaptureError) Error() string {
	return e.Kind.Error() + ": " + e.Err.Error()
}

func (e *CaptureError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

var permissionHints = []string{"permission denied", "access denied", "not authorized", "not permitted"}

func classify(err error) error {
	var ce *CaptureError
	if errors.As(err, &ce) {
		return err
	}
	kind := ErrDeviceUnavailable
	if errors.Is(err, fs.ErrPermission) {
		kind = ErrPermissionDenied
	} else {
		lower := strings.ToLower(err.Error())
		for _, hint := range permissionHints {
			if strings.Contains(lower, hint) {
				kind = ErrPermissionDenied
				break
			}
		}
	}
	return &CaptureError{Kind: kind, Err: err}
}

// Unavailable returns a Context whose captures always fail with err. It stands
// in when the platform audio system cannot be reached at startup, so the
// failure surfaces on the first capture attempt instead of at launch.
func Unavailable(err error) Context {
	return unavailableContext{err: err}
}

type unavailableContext struct{ err error }

func (u unavailableContext) Devices() ([]DeviceInfo, error) { return nil, u.err }
func (u unavailableContext) Close()                         {}

func (u unavailableContext) NewCapture(*DeviceInfo, CaptureConfig) (CaptureDevice, error) {
	return nil, u.err
}
