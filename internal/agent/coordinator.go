package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/phonepilot/phonepilot/internal/device"
	"github.com/phonepilot/phonepilot/internal/infrastructure/logging"
	"github.com/phonepilot/phonepilot/internal/infrastructure/monitoring"
	"github.com/phonepilot/phonepilot/internal/model"
)

var (
	// ErrDeviceBusy means the device already runs a task.
	ErrDeviceBusy = errors.New("device is busy with another task")
	// ErrNoTask means no task, running or finished, exists for the
	// device.
	ErrNoTask = errors.New("no task for device")
)

// PromptConfig carries the per-session prompt settings.
type PromptConfig struct {
	Language     model.Language
	Thinking     bool
	HistoryTurns int
	EmbedSystem  bool
}

// TaskOptions overrides loop and prompt settings for one task. Zero
// values keep the configured defaults.
type TaskOptions struct {
	MaxSteps int
	Language model.Language
}

type runningTask struct {
	session *Session
	cancel  context.CancelFunc
	done    chan struct{}
}

// Coordinator runs at most one session per device. A device with a live
// session rejects new tasks; the moment a session reaches a terminal
// status the device accepts the next one.
type Coordinator struct {
	manager *device.Manager
	mdl     Completer
	loopCfg LoopConfig
	prompt  PromptConfig
	log     *logging.Logger
	metrics *monitoring.Metrics
	audit   *Audit

	mu      sync.Mutex
	running map[string]*runningTask
	last    map[string]*Session

	subMu sync.Mutex
	subs  map[chan Event]string // channel -> device filter, "" for all
}

// NewCoordinator wires a coordinator. metrics and audit may be nil.
func NewCoordinator(manager *device.Manager, mdl Completer, loopCfg LoopConfig,
	prompt PromptConfig, log *logging.Logger, metrics *monitoring.Metrics, audit *Audit) *Coordinator {
	if prompt.Language == "" {
		prompt.Language = model.LangEN
	}
	return &Coordinator{
		manager: manager,
		mdl:     mdl,
		loopCfg: loopCfg,
		prompt:  prompt,
		log:     log,
		metrics: metrics,
		audit:   audit,
		running: make(map[string]*runningTask),
		last:    make(map[string]*Session),
		subs:    make(map[chan Event]string),
	}
}

// Start launches a task on a device. The returned session is already
// running; ctx only bounds device lookup, not the session itself.
func (c *Coordinator) Start(ctx context.Context, deviceID, task string, opts TaskOptions) (*Session, error) {
	backend, dev, err := c.manager.Find(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if dev.Status != "device" {
		return nil, fmt.Errorf("device %s is %s: %w", deviceID, dev.Status, device.ErrUnavailable)
	}

	loopCfg := c.loopCfg
	if opts.MaxSteps > 0 {
		loopCfg.MaxSteps = opts.MaxSteps
	}
	lang := c.prompt.Language
	if opts.Language != "" {
		lang = opts.Language
	}

	session := NewSession(deviceID, task)
	builder := model.NewBuilder(task,
		model.SystemPrompt(lang, c.prompt.Thinking, time.Now()),
		c.prompt.HistoryTurns, c.prompt.EmbedSystem)

	runCtx, cancel := context.WithCancel(context.Background())
	rt := &runningTask{session: session, cancel: cancel, done: make(chan struct{})}

	c.mu.Lock()
	if _, busy := c.running[deviceID]; busy {
		c.mu.Unlock()
		cancel()
		return nil, fmt.Errorf("device %s: %w", deviceID, ErrDeviceBusy)
	}
	c.running[deviceID] = rt
	c.mu.Unlock()

	loop := NewLoop(backend, c.mdl, builder, session, loopCfg,
		c.log, c.metrics, c.audit, c.publish)

	go func() {
		defer close(rt.done)
		defer cancel()
		if err := loop.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			c.log.Warn("Session failed",
				zap.String("device_id", deviceID),
				zap.String("session_id", session.ID()),
				zap.Error(err))
		}

		c.mu.Lock()
		delete(c.running, deviceID)
		c.last[deviceID] = session
		c.mu.Unlock()
	}()

	return session, nil
}

// Cancel stops the running task on a device and waits for the loop to
// unwind.
func (c *Coordinator) Cancel(ctx context.Context, deviceID string) error {
	c.mu.Lock()
	rt, ok := c.running[deviceID]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("device %s: %w", deviceID, ErrNoTask)
	}

	rt.session.Finish(StatusCancelled, "cancelled by request")
	rt.cancel()
	select {
	case <-rt.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status returns the running session for a device, or the most recently
// finished one.
func (c *Coordinator) Status(deviceID string) (View, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rt, ok := c.running[deviceID]; ok {
		return rt.session.Snapshot(), nil
	}
	if s, ok := c.last[deviceID]; ok {
		return s.Snapshot(), nil
	}
	return View{}, fmt.Errorf("device %s: %w", deviceID, ErrNoTask)
}

// Sessions returns a snapshot of every known session, running first.
func (c *Coordinator) Sessions() []View {
	c.mu.Lock()
	defer c.mu.Unlock()

	views := make([]View, 0, len(c.running)+len(c.last))
	for _, rt := range c.running {
		views = append(views, rt.session.Snapshot())
	}
	for id, s := range c.last {
		if _, live := c.running[id]; !live {
			views = append(views, s.Snapshot())
		}
	}
	return views
}

// Subscribe registers an event channel. An empty deviceID receives all
// devices. The returned function unsubscribes.
func (c *Coordinator) Subscribe(deviceID string) (<-chan Event, func()) {
	ch := make(chan Event, 64)
	c.subMu.Lock()
	c.subs[ch] = deviceID
	c.subMu.Unlock()

	return ch, func() {
		c.subMu.Lock()
		delete(c.subs, ch)
		c.subMu.Unlock()
		close(ch)
	}
}

// publish fans an event out to matching subscribers. Slow consumers drop
// events rather than stall the loop.
func (c *Coordinator) publish(ev Event) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for ch, filter := range c.subs {
		if filter != "" && filter != ev.DeviceID {
			continue
		}
		select {
		case ch <- ev:
		default:
		}
	}
}

// Shutdown cancels every running session and waits for the loops to
// unwind, bounded by ctx.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	tasks := make([]*runningTask, 0, len(c.running))
	for _, rt := range c.running {
		rt.session.Finish(StatusCancelled, "server shutting down")
		rt.cancel()
		tasks = append(tasks, rt)
	}
	c.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	for _, rt := range tasks {
		rt := rt
		g.Go(func() error {
			select {
			case <-rt.done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}
	return g.Wait()
}
