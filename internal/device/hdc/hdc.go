package hdc

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/phonepilot/phonepilot/internal/device"
	"github.com/phonepilot/phonepilot/internal/infrastructure/logging"
	"go.uber.org/zap"
)

// HarmonyOS key codes used by `uitest uiInput keyEvent`.
const (
	keycodeHome  = "1"
	keycodeBack  = "2"
	keycodeEnter = "2054"
)

const remoteShotDir = "/data/local/tmp"

// Backend drives HarmonyOS devices through the hdc command line tool.
type Backend struct {
	path      string
	run       device.Runner
	catalog   *device.Catalog
	chunkSize int
	log       *logging.Logger

	mu    sync.Mutex
	sizes map[string][2]int // deviceID -> last seen width, height
}

// Options configures the backend.
type Options struct {
	// Path is the hdc binary, default "hdc".
	Path string
	// Catalog resolves app names; nil means pass-through.
	Catalog *device.Catalog
	// ChunkSize caps runes per inputText call, default 256.
	ChunkSize int
}

// New creates an hdc backend using the runner for process execution.
func New(run device.Runner, log *logging.Logger, opts Options) *Backend {
	if opts.Path == "" {
		opts.Path = "hdc"
	}
	if opts.Catalog == nil {
		opts.Catalog = device.EmptyCatalog()
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 256
	}
	return &Backend{
		path:      opts.Path,
		run:       run,
		catalog:   opts.Catalog,
		chunkSize: opts.ChunkSize,
		log:       log,
		sizes:     make(map[string][2]int),
	}
}

// Kind reports the protocol.
func (b *Backend) Kind() device.Kind { return device.KindHDC }

func (b *Backend) hdc(ctx context.Context, deviceID string, args ...string) ([]byte, error) {
	full := append([]string{"-t", deviceID}, args...)
	out, err := b.run.Run(ctx, b.path, full...)
	if err != nil {
		return nil, classify(err)
	}
	// hdc reports some failures on stdout with a zero exit.
	if msg := string(out); strings.Contains(msg, "[Fail]") {
		return nil, classify(fmt.Errorf("hdc: %s", strings.TrimSpace(msg)))
	}
	return out, nil
}

func classify(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "device not found"),
		strings.Contains(msg, "Device not founded"),
		strings.Contains(msg, "connect failed"):
		return fmt.Errorf("%s: %w", msg, device.ErrUnavailable)
	default:
		return err
	}
}

// ListDevices parses `hdc list targets`.
func (b *Backend) ListDevices(ctx context.Context) ([]device.Device, error) {
	out, err := b.run.Run(ctx, b.path, "list", "targets")
	if err != nil {
		return nil, classify(err)
	}

	var devices []device.Device
	for _, line := range strings.Split(string(out), "\n") {
		id := strings.TrimSpace(line)
		if id == "" || id == "[Empty]" {
			continue
		}
		devices = append(devices, device.Device{ID: id, Kind: device.KindHDC, Status: "device"})
	}
	return devices, nil
}

// Screenshot captures through snapshot_display, pulls the file with
// `file recv`, and cleans up both copies.
func (b *Backend) Screenshot(ctx context.Context, deviceID string) (*device.Screenshot, error) {
	name := fmt.Sprintf("phonepilot-%s.png", uuid.NewString())
	remote := remoteShotDir + "/" + name
	local := filepath.Join(os.TempDir(), name)

	if _, err := b.hdc(ctx, deviceID, "shell", "snapshot_display", "-f", remote); err != nil {
		return nil, err
	}
	defer func() {
		cleanCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if _, err := b.hdc(cleanCtx, deviceID, "shell", "rm", "-f", remote); err != nil {
			b.log.Warn("Failed to remove remote screenshot",
				zap.String("device_id", deviceID), zap.Error(err))
		}
	}()

	if _, err := b.hdc(ctx, deviceID, "file", "recv", remote, local); err != nil {
		return nil, err
	}
	defer os.Remove(local)

	data, err := os.ReadFile(local)
	if err != nil {
		return nil, fmt.Errorf("failed to read pulled screenshot: %w", err)
	}

	cfg, err := png.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("snapshot_display returned invalid PNG: %w", err)
	}

	b.mu.Lock()
	b.sizes[deviceID] = [2]int{cfg.Width, cfg.Height}
	b.mu.Unlock()

	return &device.Screenshot{
		PNG:        data,
		Width:      cfg.Width,
		Height:     cfg.Height,
		CapturedAt: time.Now(),
	}, nil
}

// Tap sends `uitest uiInput click`.
func (b *Backend) Tap(ctx context.Context, deviceID string, x, y int) error {
	_, err := b.hdc(ctx, deviceID, "shell", "uitest", "uiInput", "click", itoa(x), itoa(y))
	return err
}

// Swipe sends `uitest uiInput swipe`. uitest takes a speed in px/s, so
// the duration is converted using the gesture distance and clamped to
// the range uitest accepts.
func (b *Backend) Swipe(ctx context.Context, deviceID string, x1, y1, x2, y2 int, duration time.Duration) error {
	speed := swipeSpeed(x1, y1, x2, y2, duration)
	_, err := b.hdc(ctx, deviceID, "shell", "uitest", "uiInput", "swipe",
		itoa(x1), itoa(y1), itoa(x2), itoa(y2), itoa(speed))
	return err
}

func swipeSpeed(x1, y1, x2, y2 int, duration time.Duration) int {
	const minSpeed, maxSpeed, defaultSpeed = 200, 40000, 600
	if duration <= 0 {
		return defaultSpeed
	}
	dx, dy := x2-x1, y2-y1
	dist := intSqrt(dx*dx + dy*dy)
	speed := int(float64(dist) / duration.Seconds())
	if speed < minSpeed {
		return minSpeed
	}
	if speed > maxSpeed {
		return maxSpeed
	}
	return speed
}

func intSqrt(v int) int {
	if v <= 0 {
		return 0
	}
	r := v
	for r*r > v {
		r = (r + v/r) / 2
	}
	return r
}

// LongPress sends `uitest uiInput longClick`. uitest fixes the hold
// duration, so the requested duration only needs to be nonzero.
func (b *Backend) LongPress(ctx context.Context, deviceID string, x, y int, _ time.Duration) error {
	_, err := b.hdc(ctx, deviceID, "shell", "uitest", "uiInput", "longClick", itoa(x), itoa(y))
	return err
}

// KeyEvent sends `uitest uiInput keyEvent` with HarmonyOS key codes.
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
	_, err := b.hdc(ctx, deviceID, "shell", "uitest", "uiInput", "keyEvent", code)
	return err
}

// TypeText inserts text through `uitest uiInput inputText`, which needs
// screen coordinates; the center of the last captured frame is used.
// Newlines become enter presses between lines.
func (b *Backend) TypeText(ctx context.Context, deviceID, text string) error {
	cx, cy, err := b.center(ctx, deviceID)
	if err != nil {
		return err
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
			if _, err := b.hdc(ctx, deviceID, "shell", "uitest", "uiInput", "inputText",
				itoa(cx), itoa(cy), chunk); err != nil {
				return err
			}
		}
	}
	return nil
}

func (b *Backend) center(ctx context.Context, deviceID string) (int, int, error) {
	b.mu.Lock()
	size, ok := b.sizes[deviceID]
	b.mu.Unlock()
	if !ok {
		shot, err := b.Screenshot(ctx, deviceID)
		if err != nil {
			return 0, 0, fmt.Errorf("screen size unknown: %w", err)
		}
		size = [2]int{shot.Width, shot.Height}
	}
	return size[0] / 2, size[1] / 2, nil
}

// LaunchApp starts an ability with `aa start`. Catalog identifiers use
// the form "bundle" or "bundle/Ability"; the ability defaults to
// EntryAbility.
func (b *Backend) LaunchApp(ctx context.Context, deviceID, name string) error {
	id := b.catalog.Resolve(name, device.KindHDC)
	bundle, ability, ok := strings.Cut(id, "/")
	if !ok {
		ability = "EntryAbility"
	}
	_, err := b.hdc(ctx, deviceID, "shell", "aa", "start", "-b", bundle, "-a", ability)
	return err
}

// ForegroundApp parses `aa dump -l` mission records, accepting exactly
// one record in the FOREGROUND state.
func (b *Backend) ForegroundApp(ctx context.Context, deviceID string) (*device.App, error) {
	out, err := b.hdc(ctx, deviceID, "shell", "aa", "dump", "-l")
	if err != nil {
		return nil, err
	}
	return parseForeground(string(out))
}

// parseForeground walks ability records line by line. Records carry
// their bundle and ability names before the state line, so the scan
// tracks the most recent values of each.
func parseForeground(dump string) (*device.App, error) {
	var (
		bundle, ability string
		found           *device.App
	)
	for _, line := range strings.Split(dump, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "bundle name ["):
			bundle = strings.TrimSuffix(strings.TrimPrefix(line, "bundle name ["), "]")
		case strings.HasPrefix(line, "main name ["):
			ability = strings.TrimSuffix(strings.TrimPrefix(line, "main name ["), "]")
		case strings.HasPrefix(line, "state #FOREGROUND"):
			if bundle == "" {
				continue
			}
			candidate := &device.App{Package: bundle, Activity: ability}
			if found != nil && (found.Package != candidate.Package || found.Activity != candidate.Activity) {
				return nil, fmt.Errorf("multiple foreground abilities (%s, %s): %w",
					found.Package, candidate.Package, device.ErrAmbiguousForeground)
			}
			found = candidate
		}
	}
	if found == nil {
		return nil, fmt.Errorf("no foreground ability in dump: %w", device.ErrAmbiguousForeground)
	}
	return found, nil
}

func itoa(v int) string { return strconv.Itoa(v) }
