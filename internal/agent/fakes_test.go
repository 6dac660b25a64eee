package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/phonepilot/phonepilot/internal/device"
	"github.com/phonepilot/phonepilot/internal/model"
)

// fakeBackend records calls and serves a changing screen by default.
type fakeBackend struct {
	mu        sync.Mutex
	calls     []string
	frame     int
	staticPNG []byte // when set, every capture returns this frame
	failWith  error  // when set, every input command fails with it
	shotFails int    // fail this many captures before succeeding
	shotErr   error
	devices   []device.Device
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		devices: []device.Device{{ID: "dev-1", Kind: device.KindADB, Status: "device"}},
	}
}

func (f *fakeBackend) record(format string, args ...any) error {
	f.mu.Lock()
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
	f.mu.Unlock()
	return f.failWith
}

func (f *fakeBackend) callList() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

func (f *fakeBackend) Kind() device.Kind { return device.KindADB }

func (f *fakeBackend) ListDevices(context.Context) ([]device.Device, error) {
	return f.devices, nil
}

func (f *fakeBackend) Screenshot(context.Context, string) (*device.Screenshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "screenshot")
	if f.shotFails > 0 {
		f.shotFails--
		return nil, f.shotErr
	}
	f.frame++
	png := f.staticPNG
	if png == nil {
		png = []byte(fmt.Sprintf("frame-%d", f.frame))
	}
	return &device.Screenshot{PNG: png, Width: 1000, Height: 2000, CapturedAt: time.Now()}, nil
}

func (f *fakeBackend) Tap(_ context.Context, _ string, x, y int) error {
	return f.record("tap %d %d", x, y)
}

func (f *fakeBackend) Swipe(_ context.Context, _ string, x1, y1, x2, y2 int, _ time.Duration) error {
	return f.record("swipe %d %d %d %d", x1, y1, x2, y2)
}

func (f *fakeBackend) LongPress(_ context.Context, _ string, x, y int, _ time.Duration) error {
	return f.record("longpress %d %d", x, y)
}

func (f *fakeBackend) KeyEvent(_ context.Context, _ string, key string) error {
	return f.record("key %s", key)
}

func (f *fakeBackend) TypeText(_ context.Context, _ string, text string) error {
	return f.record("type %s", text)
}

func (f *fakeBackend) LaunchApp(_ context.Context, _ string, app string) error {
	return f.record("launch %s", app)
}

func (f *fakeBackend) ForegroundApp(context.Context, string) (*device.App, error) {
	return &device.App{Package: "com.example.app"}, nil
}

// fakeModel replays scripted responses. The last response repeats once
// the script runs out.
type fakeModel struct {
	mu        sync.Mutex
	responses []string
	calls     int
	err       error
	block     chan struct{} // when set, Complete waits for ctx or close
}

func (f *fakeModel) Complete(ctx context.Context, _ []model.Message, onChunk model.ChunkHandler) (string, error) {
	f.mu.Lock()
	f.calls++
	idx := f.calls - 1
	if idx >= len(f.responses) {
		idx = len(f.responses) - 1
	}
	var resp string
	if idx >= 0 {
		resp = f.responses[idx]
	}
	err := f.err
	block := f.block
	f.mu.Unlock()

	if block != nil {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-block:
		}
	}
	if err != nil {
		return "", err
	}
	return resp, nil
}
