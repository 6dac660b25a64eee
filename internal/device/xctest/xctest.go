package xctest

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image/png"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/phonepilot/phonepilot/internal/device"
	"github.com/phonepilot/phonepilot/internal/infrastructure/logging"
	"go.uber.org/zap"
)

// Backend drives iOS devices through a WebDriverAgent-compatible XCTest
// HTTP endpoint. One endpoint serves one device.
type Backend struct {
	client   *resty.Client
	deviceID string
	catalog  *device.Catalog
	log      *logging.Logger

	mu      sync.Mutex
	session string
}

// Options configures the backend.
type Options struct {
	// BaseURL is the XCTest server, e.g. "http://localhost:8100".
	BaseURL string
	// DeviceID names the device in listings, default "ios".
	DeviceID string
	// Timeout bounds each HTTP call, default 15s.
	Timeout time.Duration
	// Catalog resolves app names; nil means pass-through.
	Catalog *device.Catalog
}

// New creates an xctest backend.
func New(log *logging.Logger, opts Options) *Backend {
	if opts.DeviceID == "" {
		opts.DeviceID = "ios"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.Catalog == nil {
		opts.Catalog = device.EmptyCatalog()
	}

	client := resty.New().
		SetBaseURL(strings.TrimRight(opts.BaseURL, "/")).
		SetTimeout(opts.Timeout).
		SetRetryCount(2).
		SetRetryWaitTime(200 * time.Millisecond).
		SetHeader("Content-Type", "application/json")

	return &Backend{
		client:   client,
		deviceID: opts.DeviceID,
		catalog:  opts.Catalog,
		log:      log,
	}
}

// Kind reports the protocol.
func (b *Backend) Kind() device.Kind { return device.KindXCTest }

// response is the WebDriver envelope every endpoint returns.
type response struct {
	SessionID string          `json:"sessionId"`
	Value     json.RawMessage `json:"value"`
}

func classify(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "no such host"):
		return fmt.Errorf("%s: %w", msg, device.ErrUnavailable)
	case strings.Contains(msg, "context deadline exceeded"),
		strings.Contains(msg, "Client.Timeout"):
		return fmt.Errorf("%s: %w", msg, device.ErrTimeout)
	default:
		return err
	}
}

func (b *Backend) get(ctx context.Context, path string, out *response) error {
	resp, err := b.client.R().SetContext(ctx).SetResult(out).Get(path)
	if err != nil {
		return classify(err)
	}
	if resp.IsError() {
		return fmt.Errorf("xctest %s: status %d: %s", path, resp.StatusCode(), resp.String())
	}
	return nil
}

func (b *Backend) post(ctx context.Context, path string, body any, out *response) error {
	req := b.client.R().SetContext(ctx)
	if body != nil {
		req.SetBody(body)
	}
	if out != nil {
		req.SetResult(out)
	}
	resp, err := req.Post(path)
	if err != nil {
		return classify(err)
	}
	if resp.IsError() {
		return fmt.Errorf("xctest %s: status %d: %s", path, resp.StatusCode(), resp.String())
	}
	return nil
}

// ensureSession creates the WebDriver session on first use.
func (b *Backend) ensureSession(ctx context.Context) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.session != "" {
		return b.session, nil
	}

	var out response
	body := map[string]any{"capabilities": map[string]any{}}
	if err := b.post(ctx, "/session", body, &out); err != nil {
		return "", err
	}
	if out.SessionID == "" {
		var value struct {
			SessionID string `json:"sessionId"`
		}
		_ = json.Unmarshal(out.Value, &value)
		out.SessionID = value.SessionID
	}
	if out.SessionID == "" {
		return "", fmt.Errorf("xctest session creation returned no session id")
	}
	b.session = out.SessionID
	b.log.Info("XCTest session created", zap.String("session_id", out.SessionID))
	return b.session, nil
}

func (b *Backend) sessionPath(ctx context.Context, suffix string) (string, error) {
	session, err := b.ensureSession(ctx)
	if err != nil {
		return "", err
	}
	return "/session/" + session + suffix, nil
}

func (b *Backend) checkDevice(deviceID string) error {
	if deviceID != b.deviceID {
		return fmt.Errorf("device %s not served by this endpoint: %w", deviceID, device.ErrUnavailable)
	}
	return nil
}

// ListDevices probes /status; a reachable endpoint is one online device.
func (b *Backend) ListDevices(ctx context.Context) ([]device.Device, error) {
	var out response
	if err := b.get(ctx, "/status", &out); err != nil {
		return nil, err
	}

	var status struct {
		OS struct {
			Name    string `json:"name"`
			Version string `json:"version"`
		} `json:"os"`
	}
	_ = json.Unmarshal(out.Value, &status)

	d := device.Device{ID: b.deviceID, Kind: device.KindXCTest, Status: "device"}
	if status.OS.Name != "" {
		d.Model = strings.TrimSpace(status.OS.Name + " " + status.OS.Version)
	}
	return []device.Device{d}, nil
}

// Screenshot fetches /screenshot and decodes the base64 PNG payload.
func (b *Backend) Screenshot(ctx context.Context, deviceID string) (*device.Screenshot, error) {
	if err := b.checkDevice(deviceID); err != nil {
		return nil, err
	}

	var out response
	if err := b.get(ctx, "/screenshot", &out); err != nil {
		return nil, err
	}

	var encoded string
	if err := json.Unmarshal(out.Value, &encoded); err != nil {
		return nil, fmt.Errorf("unexpected screenshot payload: %w", err)
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("screenshot is not valid base64: %w", err)
	}

	cfg, err := png.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("screenshot is not valid PNG: %w", err)
	}

	return &device.Screenshot{
		PNG:        data,
		Width:      cfg.Width,
		Height:     cfg.Height,
		CapturedAt: time.Now(),
	}, nil
}

// Tap posts /wda/tap/0.
func (b *Backend) Tap(ctx context.Context, deviceID string, x, y int) error {
	if err := b.checkDevice(deviceID); err != nil {
		return err
	}
	path, err := b.sessionPath(ctx, "/wda/tap/0")
	if err != nil {
		return err
	}
	return b.post(ctx, path, map[string]any{"x": x, "y": y}, nil)
}

// Swipe posts /wda/dragfromtoforduration.
func (b *Backend) Swipe(ctx context.Context, deviceID string, x1, y1, x2, y2 int, duration time.Duration) error {
	if err := b.checkDevice(deviceID); err != nil {
		return err
	}
	path, err := b.sessionPath(ctx, "/wda/dragfromtoforduration")
	if err != nil {
		return err
	}
	return b.post(ctx, path, map[string]any{
		"fromX": x1, "fromY": y1,
		"toX": x2, "toY": y2,
		"duration": duration.Seconds(),
	}, nil)
}

// LongPress posts /wda/touchAndHold.
func (b *Backend) LongPress(ctx context.Context, deviceID string, x, y int, duration time.Duration) error {
	if err := b.checkDevice(deviceID); err != nil {
		return err
	}
	path, err := b.sessionPath(ctx, "/wda/touchAndHold")
	if err != nil {
		return err
	}
	return b.post(ctx, path, map[string]any{
		"x": x, "y": y, "duration": duration.Seconds(),
	}, nil)
}

// KeyEvent maps ENTER to a newline keystroke and everything else to the
// hardware button endpoint.
func (b *Backend) KeyEvent(ctx context.Context, deviceID, key string) error {
	if err := b.checkDevice(deviceID); err != nil {
		return err
	}
	switch strings.ToUpper(key) {
	case "ENTER":
		return b.sendKeys(ctx, "\n")
	case "BACK":
		// iOS has no hardware back button.
		return fmt.Errorf("key %q: %w", key, device.ErrUnsupported)
	default:
		path, err := b.sessionPath(ctx, "/wda/pressButton")
		if err != nil {
			return err
		}
		return b.post(ctx, path, map[string]any{"name": strings.ToLower(key)}, nil)
	}
}

func (b *Backend) sendKeys(ctx context.Context, text string) error {
	path, err := b.sessionPath(ctx, "/wda/keys")
	if err != nil {
		return err
	}
	return b.post(ctx, path, map[string]any{"value": []string{text}}, nil)
}

// TypeText sends text through /wda/keys, one line at a time with a
// newline keystroke between lines.
func (b *Backend) TypeText(ctx context.Context, deviceID, text string) error {
	if err := b.checkDevice(deviceID); err != nil {
		return err
	}
	for i, line := range device.SplitLines(text) {
		if i > 0 {
			if err := b.sendKeys(ctx, "\n"); err != nil {
				return err
			}
		}
		if line == "" {
			continue
		}
		if err := b.sendKeys(ctx, line); err != nil {
			return err
		}
	}
	return nil
}

// LaunchApp posts /wda/apps/launch with the resolved bundle identifier.
func (b *Backend) LaunchApp(ctx context.Context, deviceID, name string) error {
	if err := b.checkDevice(deviceID); err != nil {
		return err
	}
	bundle := b.catalog.Resolve(name, device.KindXCTest)
	path, err := b.sessionPath(ctx, "/wda/apps/launch")
	if err != nil {
		return err
	}
	return b.post(ctx, path, map[string]any{"bundleId": bundle}, nil)
}

// ForegroundApp fetches /wda/activeAppInfo.
func (b *Backend) ForegroundApp(ctx context.Context, deviceID string) (*device.App, error) {
	if err := b.checkDevice(deviceID); err != nil {
		return nil, err
	}

	var out response
	if err := b.get(ctx, "/wda/activeAppInfo", &out); err != nil {
		return nil, err
	}

	var info struct {
		BundleID string `json:"bundleId"`
		Name     string `json:"name"`
	}
	if err := json.Unmarshal(out.Value, &info); err != nil || info.BundleID == "" {
		return nil, fmt.Errorf("no active app reported: %w", device.ErrAmbiguousForeground)
	}
	return &device.App{Package: info.BundleID, Activity: info.Name}, nil
}
