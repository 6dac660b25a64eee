package adb

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image/png"
	"strconv"
	"strings"
	"time"

	"github.com/phonepilot/phonepilot/internal/device"
	"github.com/phonepilot/phonepilot/internal/infrastructure/logging"
	"go.uber.org/zap"
)

const (
	// adbKeyboardIME receives text as base64 broadcasts, which survives
	// unicode and shell quoting where `input text` does not.
	adbKeyboardIME = "com.android.adbkeyboard/.AdbIME"

	keycodeHome  = "3"
	keycodeBack  = "4"
	keycodeEnter = "66"

	// DefaultForegroundPattern matches the focused window line in
	// `dumpsys window windows` output.
	DefaultForegroundPattern = `mCurrentFocus=Window\{\S+ \S+ ([\w.]+)/([\w.$]+)\}`
)

// Backend drives Android devices through the adb CLI.
type Backend struct {
	path       string
	run        device.Runner
	foreground *device.ForegroundScanner
	catalog    *device.Catalog
	chunkSize  int
	log        *logging.Logger
}

// Options configures the backend.
type Options struct {
	// Path is the adb binary, default "adb".
	Path string
	// ForegroundPattern overrides DefaultForegroundPattern.
	ForegroundPattern string
	// Catalog resolves app names; nil means pass-through.
	Catalog *device.Catalog
	// ChunkSize caps runes per text broadcast, default 256.
	ChunkSize int
}

// New creates an adb backend using the runner for process execution.
func New(run device.Runner, log *logging.Logger, opts Options) (*Backend, error) {
	if opts.Path == "" {
		opts.Path = "adb"
	}
	if opts.ForegroundPattern == "" {
		opts.ForegroundPattern = DefaultForegroundPattern
	}
	if opts.Catalog == nil {
		opts.Catalog = device.EmptyCatalog()
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 256
	}

	scanner, err := device.NewForegroundScanner(opts.ForegroundPattern)
	if err != nil {
		return nil, err
	}

	return &Backend{
		path:       opts.Path,
		run:        run,
		foreground: scanner,
		catalog:    opts.Catalog,
		chunkSize:  opts.ChunkSize,
		log:        log,
	}, nil
}

// Kind reports the protocol.
func (b *Backend) Kind() device.Kind { return device.KindADB }

func (b *Backend) adb(ctx context.Context, deviceID string, args ...string) ([]byte, error) {
	full := append([]string{"-s", deviceID}, args...)
	out, err := b.run.Run(ctx, b.path, full...)
	if err != nil {
		return nil, classify(err)
	}
	return out, nil
}

// classify maps adb failure text onto the shared error taxonomy.
func classify(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "device offline"),
		strings.Contains(msg, "device unauthorized"),
		strings.Contains(msg, "device not found"),
		strings.Contains(msg, "no devices"):
		return fmt.Errorf("%s: %w", msg, device.ErrUnavailable)
	default:
		return err
	}
}

// ListDevices parses `adb devices -l`.
func (b *Backend) ListDevices(ctx context.Context) ([]device.Device, error) {
	out, err := b.run.Run(ctx, b.path, "devices", "-l")
	if err != nil {
		return nil, classify(err)
	}

	var devices []device.Device
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "List of devices") || strings.HasPrefix(line, "*") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		d := device.Device{ID: fields[0], Kind: device.KindADB, Status: fields[1]}
		for _, f := range fields[2:] {
			if v, ok := strings.CutPrefix(f, "model:"); ok {
				d.Model = v
			}
		}
		devices = append(devices, d)
	}
	return devices, nil
}

// Screenshot captures via `exec-out screencap -p` and reads the frame
// dimensions from the PNG header.
func (b *Backend) Screenshot(ctx context.Context, deviceID string) (*device.Screenshot, error) {
	data, err := b.adb(ctx, deviceID, "exec-out", "screencap", "-p")
	if err != nil {
		return nil, err
	}

	cfg, err := png.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("screencap returned invalid PNG: %w", err)
	}

	return &device.Screenshot{
		PNG:        data,
		Width:      cfg.Width,
		Height:     cfg.Height,
		CapturedAt: time.Now(),
	}, nil
}

// Tap sends `input tap`.
func (b *Backend) Tap(ctx context.Context, deviceID string, x, y int) error {
	_, err := b.adb(ctx, deviceID, "shell", "input", "tap", itoa(x), itoa(y))
	return err
}

// Swipe sends `input swipe` with the duration in milliseconds.
func (b *Backend) Swipe(ctx context.Context, deviceID string, x1, y1, x2, y2 int, duration time.Duration) error {
	_, err := b.adb(ctx, deviceID, "shell", "input", "swipe",
		itoa(x1), itoa(y1), itoa(x2), itoa(y2), itoa(int(duration.Milliseconds())))
	return err
}

// LongPress is a zero-distance swipe held for the duration.
func (b *Backend) LongPress(ctx context.Context, deviceID string, x, y int, duration time.Duration) error {
	return b.Swipe(ctx, deviceID, x, y, x, y, duration)
}

// KeyEvent sends `input keyevent`. Common names map to Android keycodes;
// anything else passes through for raw codes like "KEYCODE_MENU" or "82".
func (b *Backend) KeyEvent(ctx context.Context, deviceID, key string) error {
	code := key
	switch strings.ToUpper(key) {
	case "HOME":
		code = keycodeHome
	case "BACK":
		code = keycodeBack
	case "ENTER":
		code = keycodeEnter
	}
	_, err := b.adb(ctx, deviceID, "shell", "input", "keyevent", code)
	return err
}

// TypeText inserts text through the ADB keyboard IME. The previous IME is
// restored afterwards. Newlines become enter presses between lines, and
// each line is broadcast in bounded base64 chunks.
func (b *Backend) TypeText(ctx context.Context, deviceID, text string) error {
	prev, err := b.currentIME(ctx, deviceID)
	if err != nil {
		return err
	}

	if prev != adbKeyboardIME {
		if _, err := b.adb(ctx, deviceID, "shell", "ime", "set", adbKeyboardIME); err != nil {
			return fmt.Errorf("failed to enable adb keyboard: %w", err)
		}
		defer func() {
			if prev == "" {
				return
			}
			restoreCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if _, rerr := b.adb(restoreCtx, deviceID, "shell", "ime", "set", prev); rerr != nil {
				b.log.Warn("Failed to restore IME",
					zap.String("device_id", deviceID),
					zap.String("ime", prev),
					zap.Error(rerr))
			}
		}()
	}

	for i, line := range device.SplitLines(text) {
		if i > 0 {
			if err := b.KeyEvent(ctx, deviceID, "ENTER"); err != nil {
				return err
			}
		}
		for _, chunk := range device.ChunkRunes(line, b.chunkSize) {
			if chunk == "" {
				continue
			}
			encoded := base64.StdEncoding.EncodeToString([]byte(chunk))
			if _, err := b.adb(ctx, deviceID, "shell", "am", "broadcast",
				"-a", "ADB_INPUT_B64", "--es", "msg", encoded); err != nil {
				return err
			}
		}
	}
	return nil
}

func (b *Backend) currentIME(ctx context.Context, deviceID string) (string, error) {
	out, err := b.adb(ctx, deviceID, "shell", "settings", "get", "secure", "default_input_method")
	if err != nil {
		return "", err
	}
	ime := strings.TrimSpace(string(out))
	if ime == "null" {
		ime = ""
	}
	return ime, nil
}

// LaunchApp starts the app's launcher activity through monkey.
func (b *Backend) LaunchApp(ctx context.Context, deviceID, name string) error {
	pkg := b.catalog.Resolve(name, device.KindADB)
	out, err := b.adb(ctx, deviceID, "shell", "monkey", "-p", pkg,
		"-c", "android.intent.category.LAUNCHER", "1")
	if err != nil {
		return err
	}
	if strings.Contains(string(out), "No activities found") {
		return fmt.Errorf("app %s not installed: %w", pkg, device.ErrUnsupported)
	}
	return nil
}

// ForegroundApp scans `dumpsys window windows` for the focused window.
func (b *Backend) ForegroundApp(ctx context.Context, deviceID string) (*device.App, error) {
	out, err := b.adb(ctx, deviceID, "shell", "dumpsys", "window", "windows")
	if err != nil {
		return nil, err
	}
	return b.foreground.Scan(string(out))
}

func itoa(v int) string { return strconv.Itoa(v) }
