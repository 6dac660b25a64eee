package device

import (
	"context"
	"fmt"
	"time"

	"github.com/phonepilot/phonepilot/internal/infrastructure/logging"
	"go.uber.org/zap"
)

// Manager aggregates the configured backends and routes device IDs to
// the backend that owns them.
type Manager struct {
	backends []Backend
	log      *logging.Logger

	// ProbeTimeout bounds each backend's device enumeration. Zero means
	// the caller's context is the only bound.
	ProbeTimeout time.Duration
}

// NewManager creates a manager over the given backends.
func NewManager(log *logging.Logger, backends ...Backend) *Manager {
	return &Manager{backends: backends, log: log}
}

// ListDevices enumerates devices across all backends. A backend that
// fails to enumerate is logged and skipped so one dead toolchain does
// not hide the others' devices.
func (m *Manager) ListDevices(ctx context.Context) []Device {
	var all []Device
	for _, b := range m.backends {
		devices, err := m.list(ctx, b)
		if err != nil {
			m.log.Warn("Backend enumeration failed",
				zap.String("backend", string(b.Kind())),
				zap.Error(err))
			continue
		}
		all = append(all, devices...)
	}
	return all
}

// Find locates the backend that owns the device and its current record.
// Unknown or offline devices yield ErrUnavailable.
func (m *Manager) Find(ctx context.Context, deviceID string) (Backend, *Device, error) {
	for _, b := range m.backends {
		devices, err := m.list(ctx, b)
		if err != nil {
			continue
		}
		for i := range devices {
			if devices[i].ID == deviceID {
				return b, &devices[i], nil
			}
		}
	}
	return nil, nil, fmt.Errorf("device %s: %w", deviceID, ErrUnavailable)
}

func (m *Manager) list(ctx context.Context, b Backend) ([]Device, error) {
	if m.ProbeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.ProbeTimeout)
		defer cancel()
	}
	return b.ListDevices(ctx)
}

// Backend returns the backend for a protocol kind, or nil.
func (m *Manager) Backend(kind Kind) Backend {
	for _, b := range m.backends {
		if b.Kind() == kind {
			return b
		}
	}
	return nil
}
