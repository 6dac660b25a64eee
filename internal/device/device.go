package device

import (
	"context"
	"time"
)

// Kind identifies the control protocol a device speaks.
type Kind string

const (
	KindADB    Kind = "adb"
	KindHDC    Kind = "hdc"
	KindXCTest Kind = "xctest"
)

// Device describes one attached device.
type Device struct {
	ID     string `json:"id"`
	Kind   Kind   `json:"kind"`
	Model  string `json:"model,omitempty"`
	Status string `json:"status"`
}

// Screenshot is one captured frame with the pixel dimensions needed to
// map grid coordinates back to the screen.
type Screenshot struct {
	PNG        []byte
	Width      int
	Height     int
	CapturedAt time.Time
}

// App is the foreground application detected on a device.
type App struct {
	Package  string `json:"package"`
	Activity string `json:"activity,omitempty"`
}

// Backend executes primitive operations against one class of device. All
// methods honor context cancellation and deadlines. Operations a protocol
// cannot express return ErrUnsupported.
type Backend interface {
	// Kind reports the protocol this backend speaks.
	Kind() Kind

	// ListDevices enumerates attached devices.
	ListDevices(ctx context.Context) ([]Device, error)

	// Screenshot captures the current screen as PNG.
	Screenshot(ctx context.Context, deviceID string) (*Screenshot, error)

	// Tap touches the screen at pixel coordinates.
	Tap(ctx context.Context, deviceID string, x, y int) error

	// Swipe drags from one pixel point to another over the duration.
	Swipe(ctx context.Context, deviceID string, x1, y1, x2, y2 int, duration time.Duration) error

	// LongPress holds a touch at pixel coordinates for the duration.
	LongPress(ctx context.Context, deviceID string, x, y int, duration time.Duration) error

	// KeyEvent sends a named or numeric key.
	KeyEvent(ctx context.Context, deviceID, key string) error

	// TypeText inserts text into the focused field. Implementations
	// split on newlines and confirm each line with an enter key.
	TypeText(ctx context.Context, deviceID, text string) error

	// LaunchApp starts an application by package or bundle identifier.
	LaunchApp(ctx context.Context, deviceID, pkg string) error

	// ForegroundApp reports the application currently in the foreground.
	// Exactly one foreground candidate must be found; zero or several
	// yield ErrAmbiguousForeground.
	ForegroundApp(ctx context.Context, deviceID string) (*App, error)
}
