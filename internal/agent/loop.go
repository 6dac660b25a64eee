package agent

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/phonepilot/phonepilot/internal/action"
	"github.com/phonepilot/phonepilot/internal/device"
	"github.com/phonepilot/phonepilot/internal/infrastructure/logging"
	"github.com/phonepilot/phonepilot/internal/infrastructure/monitoring"
	"github.com/phonepilot/phonepilot/internal/infrastructure/resilience"
	"github.com/phonepilot/phonepilot/internal/model"
)

// ErrStepLimit means the loop hit its step budget without the model
// finishing the task.
var ErrStepLimit = errors.New("step limit exceeded")

// Completer is the model surface the loop needs.
type Completer interface {
	Complete(ctx context.Context, messages []model.Message, onChunk model.ChunkHandler) (string, error)
}

// LoopConfig bounds one session.
type LoopConfig struct {
	// MaxSteps is the hard step budget. The loop executes at most this
	// many steps.
	MaxSteps int
	// DecodeRetries is how many times an unparseable response is
	// re-requested before the session fails.
	DecodeRetries int
	// StepDelay is the pause between steps, letting UI animations
	// settle before the next capture.
	StepDelay time.Duration
	// LoopWindow is how many recent actions the repetition check
	// examines.
	LoopWindow int
	// StuckScreens is how many identical consecutive captures are
	// tolerated before the session fails.
	StuckScreens int
}

func (c *LoopConfig) defaults() {
	if c.MaxSteps <= 0 {
		c.MaxSteps = 100
	}
	if c.DecodeRetries < 0 {
		c.DecodeRetries = 0
	}
	if c.LoopWindow <= 0 {
		c.LoopWindow = 6
	}
	if c.StuckScreens <= 0 {
		c.StuckScreens = 5
	}
}

// Loop drives one session: capture, ask the model, decode, execute,
// record, repeat until a terminal action or a budget runs out.
type Loop struct {
	backend device.Backend
	mdl     Completer
	builder *model.Builder
	session *Session
	cfg     LoopConfig
	log     *logging.Logger
	metrics *monitoring.Metrics
	audit   *Audit
	emit    func(Event)
	retry   resilience.Retry

	lastScreen [32]byte
	sameScreen int
}

// NewLoop wires a loop. metrics, audit, and emit may be nil.
func NewLoop(backend device.Backend, mdl Completer, builder *model.Builder,
	session *Session, cfg LoopConfig, log *logging.Logger,
	metrics *monitoring.Metrics, audit *Audit, emit func(Event)) *Loop {
	cfg.defaults()
	if emit == nil {
		emit = func(Event) {}
	}
	return &Loop{
		backend: backend,
		mdl:     mdl,
		builder: builder,
		session: session,
		cfg:     cfg,
		log:     log.WithDevice(session.DeviceID()),
		metrics: metrics,
		audit:   audit,
		emit:    emit,
		retry:   resilience.DefaultRetry(),
	}
}

// Run executes the session to completion. The returned error reflects
// why a session failed; a model-directed finish returns nil.
func (l *Loop) Run(ctx context.Context) error {
	if l.metrics != nil {
		l.metrics.LoopsActive.Inc()
		defer l.metrics.LoopsActive.Dec()
	}

	l.log.Info("Session started",
		zap.String("session_id", l.session.ID()),
		zap.String("task", l.session.Task()))

	err := l.run(ctx)
	view := l.session.Snapshot()

	if l.metrics != nil {
		l.metrics.RecordTask(string(view.Status))
	}
	l.emit(Event{
		Type:      EventStatus,
		SessionID: view.ID,
		DeviceID:  view.DeviceID,
		Status:    view.Status,
		Message:   view.Message,
	})
	l.log.Info("Session ended",
		zap.String("session_id", view.ID),
		zap.String("status", string(view.Status)),
		zap.Int("steps", view.StepCount))
	return err
}

func (l *Loop) run(ctx context.Context) error {
	for step := 1; step <= l.cfg.MaxSteps; step++ {
		if err := ctx.Err(); err != nil {
			l.session.Finish(StatusCancelled, "cancelled")
			return err
		}

		terminal, err := l.step(ctx, step)
		if err != nil {
			if ctx.Err() != nil {
				l.session.Finish(StatusCancelled, "cancelled")
				return ctx.Err()
			}
			l.session.Finish(StatusFailed, err.Error())
			return err
		}
		if terminal {
			return nil
		}

		if sigs := l.session.signatures(l.cfg.LoopWindow); repetitive(sigs, l.cfg.LoopWindow) {
			err := fmt.Errorf("model is repeating actions without progress: %s", sigs[len(sigs)-1])
			l.session.Finish(StatusFailed, err.Error())
			return err
		}

		if l.cfg.StepDelay > 0 {
			if err := sleep(ctx, l.cfg.StepDelay); err != nil {
				l.session.Finish(StatusCancelled, "cancelled")
				return err
			}
		}
	}

	l.session.Finish(StatusFailed, ErrStepLimit.Error())
	return ErrStepLimit
}

// step runs one perception-action turn. It reports whether the turn was
// terminal.
func (l *Loop) step(ctx context.Context, index int) (bool, error) {
	started := time.Now()

	shot, err := l.capture(ctx)
	if err != nil {
		return false, err
	}

	decoded, err := l.decide(ctx, shot)
	if err != nil {
		return false, err
	}
	act := decoded.Action

	summary := summarize(act)
	var execErr error
	if !act.Terminal() {
		execErr = l.execute(ctx, act, shot)
	}

	step := Step{
		Thinking: decoded.Thinking,
		Action:   act,
		Summary:  summary,
		Duration: time.Since(started),
	}
	if execErr != nil {
		step.Error = execErr.Error()
	}
	step = l.session.AddStep(step)

	if l.audit != nil {
		if err := l.audit.SaveStep(l.session.ID(), step, shot.PNG); err != nil {
			l.log.Warn("Audit write failed", zap.Error(err))
		}
	}
	if l.metrics != nil {
		l.metrics.RecordStep(l.session.DeviceID(), string(act.Kind), step.Duration)
	}
	l.emit(Event{
		Type:      EventStep,
		SessionID: l.session.ID(),
		DeviceID:  l.session.DeviceID(),
		Step:      &step,
	})
	l.log.Info("Step executed",
		zap.Int("step", step.Index),
		zap.String("action", summary),
		zap.Duration("duration", step.Duration))

	if execErr != nil {
		return false, execErr
	}

	switch act.Kind {
	case action.KindFinish:
		l.session.Finish(StatusFinished, act.Message)
		return true, nil
	case action.KindFail:
		l.session.Finish(StatusFailed, act.Message)
		return true, nil
	}

	l.builder.Record(summary)
	return false, nil
}

// capture grabs a screenshot and tracks how long the screen has been
// static. A screen frozen across many turns means the device stopped
// responding to input.
func (l *Loop) capture(ctx context.Context) (*device.Screenshot, error) {
	retry := l.retry
	retry.OnRetry = func(attempt int, err error) {
		l.log.Warn("Screen capture retry", zap.Int("attempt", attempt), zap.Error(err))
	}

	var shot *device.Screenshot
	err := retry.Do(ctx, func() error {
		started := time.Now()
		var captureErr error
		shot, captureErr = l.backend.Screenshot(ctx, l.session.DeviceID())
		if l.metrics != nil {
			l.metrics.RecordBackendCommand(string(l.backend.Kind()), "screenshot", statusOf(captureErr), time.Since(started))
		}
		if errors.Is(captureErr, device.ErrUnsupported) {
			return resilience.NoRetry(captureErr)
		}
		return captureErr
	})
	if err != nil {
		return nil, fmt.Errorf("screen capture failed: %w", err)
	}

	hash := sha256.Sum256(shot.PNG)
	if hash == l.lastScreen {
		l.sameScreen++
		if l.sameScreen >= l.cfg.StuckScreens {
			return nil, fmt.Errorf("screen unchanged for %d steps, device appears stuck", l.sameScreen)
		}
	} else {
		l.lastScreen = hash
		l.sameScreen = 0
	}
	return shot, nil
}

// decide asks the model for the next action, re-asking within the decode
// retry budget when the response does not parse.
func (l *Loop) decide(ctx context.Context, shot *device.Screenshot) (*action.Decoded, error) {
	messages := l.builder.Build(shot.PNG)

	var lastErr error
	for attempt := 0; attempt <= l.cfg.DecodeRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		turn := messages
		if attempt > 0 {
			turn = append(append([]model.Message{}, messages...), model.Message{
				Role:    "user",
				Content: "Your previous response did not contain exactly one valid action call. Re-read the screen and output one do(...), finish(...), or fail(...) call.",
			})
		}

		started := time.Now()
		raw, err := l.mdl.Complete(ctx, turn, func(thinking bool, delta string) {
			if thinking {
				l.emit(Event{
					Type:      EventThinking,
					SessionID: l.session.ID(),
					DeviceID:  l.session.DeviceID(),
					Delta:     delta,
				})
			}
		})
		if l.metrics != nil {
			l.metrics.RecordModelCall(statusOf(err), time.Since(started))
		}
		if err != nil {
			return nil, fmt.Errorf("model call failed: %w", err)
		}

		decoded, err := action.Decode(raw)
		if err == nil {
			return decoded, nil
		}
		lastErr = err
		if l.metrics != nil {
			l.metrics.DecodeRetries.Inc()
		}
		l.log.Warn("Undecodable model response",
			zap.Int("attempt", attempt+1),
			zap.String("raw", truncate(raw, 500)),
			zap.Error(err))
	}
	return nil, fmt.Errorf("no decodable action after %d attempts: %w", l.cfg.DecodeRetries+1, lastErr)
}

// execute performs one non-terminal action, mapping grid coordinates to
// this frame's pixels. Transient backend failures are retried with
// backoff before the turn fails.
func (l *Loop) execute(ctx context.Context, act *action.Action, shot *device.Screenshot) error {
	switch act.Kind {
	case action.KindWait:
		return sleep(ctx, act.Duration)
	case action.KindTakeOver:
		// Nothing to drive; the user acts on the device directly and
		// the next capture reflects it.
		l.log.Info("Handing control to the user", zap.String("reason", act.Message))
		return nil
	}

	deviceID := l.session.DeviceID()
	started := time.Now()

	retry := l.retry
	retry.OnRetry = func(attempt int, err error) {
		l.log.Warn("Backend command retry",
			zap.String("action", string(act.Kind)),
			zap.Int("attempt", attempt),
			zap.Error(err))
	}

	err := retry.Do(ctx, func() error {
		var err error
		switch act.Kind {
		case action.KindTap:
			x, y := act.Element.Absolute(shot.Width, shot.Height)
			err = l.backend.Tap(ctx, deviceID, x, y)
		case action.KindDoubleTap:
			x, y := act.Element.Absolute(shot.Width, shot.Height)
			if err = l.backend.Tap(ctx, deviceID, x, y); err == nil {
				err = l.backend.Tap(ctx, deviceID, x, y)
			}
		case action.KindLongPress:
			x, y := act.Element.Absolute(shot.Width, shot.Height)
			err = l.backend.LongPress(ctx, deviceID, x, y, act.Duration)
		case action.KindSwipe:
			x1, y1 := act.Start.Absolute(shot.Width, shot.Height)
			x2, y2 := act.End.Absolute(shot.Width, shot.Height)
			err = l.backend.Swipe(ctx, deviceID, x1, y1, x2, y2, act.Duration)
		case action.KindType:
			err = l.backend.TypeText(ctx, deviceID, act.Text)
		case action.KindKeyEvent:
			err = l.backend.KeyEvent(ctx, deviceID, act.Key)
		case action.KindBack:
			err = l.backend.KeyEvent(ctx, deviceID, "BACK")
		case action.KindHome:
			err = l.backend.KeyEvent(ctx, deviceID, "HOME")
		case action.KindLaunch:
			err = l.backend.LaunchApp(ctx, deviceID, act.App)
		default:
			err = fmt.Errorf("action %s cannot be executed", act.Kind)
		}
		if err != nil && !errors.Is(err, device.ErrUnavailable) && !errors.Is(err, device.ErrTimeout) {
			return resilience.NoRetry(err)
		}
		return err
	})

	if l.metrics != nil {
		l.metrics.RecordBackendCommand(string(l.backend.Kind()), string(act.Kind), statusOf(err), time.Since(started))
	}
	return err
}

// repetitive reports whether the recent signatures show no progress:
// either one action repeated across the whole window or two actions
// strictly alternating.
func repetitive(sigs []string, window int) bool {
	if len(sigs) < window {
		return false
	}
	same := true
	for _, s := range sigs[1:] {
		if s != sigs[0] {
			same = false
			break
		}
	}
	if same {
		return true
	}

	if sigs[0] == sigs[1] {
		return false
	}
	for i, s := range sigs {
		if s != sigs[i%2] {
			return false
		}
	}
	return true
}

func summarize(act *action.Action) string {
	switch act.Kind {
	case action.KindTap, action.KindDoubleTap, action.KindLongPress:
		return fmt.Sprintf("%s [%d, %d]", titleOf(act.Kind), act.Element.X, act.Element.Y)
	case action.KindSwipe:
		return fmt.Sprintf("Swipe [%d, %d] -> [%d, %d]", act.Start.X, act.Start.Y, act.End.X, act.End.Y)
	case action.KindType:
		return fmt.Sprintf("Type %q", truncate(act.Text, 80))
	case action.KindKeyEvent:
		return "Key " + act.Key
	case action.KindLaunch:
		return fmt.Sprintf("Launch %q", act.App)
	case action.KindWait:
		return "Wait " + act.Duration.String()
	case action.KindTakeOver:
		return "Take over: " + act.Message
	case action.KindFinish:
		return "Finish: " + act.Message
	case action.KindFail:
		return "Fail: " + act.Message
	default:
		return string(act.Kind)
	}
}

func titleOf(k action.Kind) string {
	switch k {
	case action.KindDoubleTap:
		return "Double tap"
	case action.KindLongPress:
		return "Long press"
	default:
		return "Tap"
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func statusOf(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
