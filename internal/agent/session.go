package agent

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/phonepilot/phonepilot/internal/action"
)

// Status is the lifecycle state of a session.
type Status string

const (
	StatusRunning   Status = "running"
	StatusFinished  Status = "finished"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s == StatusFinished || s == StatusFailed || s == StatusCancelled
}

// Step records one completed perception-action turn.
type Step struct {
	Index    int            `json:"index"`
	Thinking string         `json:"thinking,omitempty"`
	Action   *action.Action `json:"action,omitempty"`
	Summary  string         `json:"summary"`
	Error    string         `json:"error,omitempty"`
	Duration time.Duration  `json:"duration"`
	At       time.Time      `json:"at"`
}

// Session is the append-only record of one task on one device. Steps are
// only ever appended, so the step count always equals the number of
// turns taken.
type Session struct {
	mu sync.RWMutex

	id        string
	deviceID  string
	task      string
	status    Status
	steps     []Step
	message   string
	createdAt time.Time
	endedAt   time.Time
}

// NewSession creates a running session.
func NewSession(deviceID, task string) *Session {
	return &Session{
		id:        uuid.NewString(),
		deviceID:  deviceID,
		task:      task,
		status:    StatusRunning,
		createdAt: time.Now(),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// DeviceID returns the device this session runs on.
func (s *Session) DeviceID() string { return s.deviceID }

// Task returns the task description.
func (s *Session) Task() string { return s.task }

// Status returns the current lifecycle state.
func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// StepCount returns the number of completed steps.
func (s *Session) StepCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.steps)
}

// AddStep appends one completed step and returns it with its index set.
func (s *Session) AddStep(step Step) Step {
	s.mu.Lock()
	defer s.mu.Unlock()
	step.Index = len(s.steps) + 1
	step.At = time.Now()
	s.steps = append(s.steps, step)
	return step
}

// Finish moves the session to a terminal status. Further calls are
// ignored so a cancellation racing a natural finish cannot flip the
// outcome.
func (s *Session) Finish(status Status, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.Terminal() {
		return
	}
	s.status = status
	s.message = message
	s.endedAt = time.Now()
}

// View is an immutable snapshot for API responses.
type View struct {
	ID        string     `json:"id"`
	DeviceID  string     `json:"device_id"`
	Task      string     `json:"task"`
	Status    Status     `json:"status"`
	Message   string     `json:"message,omitempty"`
	StepCount int        `json:"step_count"`
	Steps     []Step     `json:"steps"`
	CreatedAt time.Time  `json:"created_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// Snapshot copies the session state.
func (s *Session) Snapshot() View {
	s.mu.RLock()
	defer s.mu.RUnlock()

	steps := make([]Step, len(s.steps))
	copy(steps, s.steps)

	v := View{
		ID:        s.id,
		DeviceID:  s.deviceID,
		Task:      s.task,
		Status:    s.status,
		Message:   s.message,
		StepCount: len(s.steps),
		Steps:     steps,
		CreatedAt: s.createdAt,
	}
	if !s.endedAt.IsZero() {
		ended := s.endedAt
		v.EndedAt = &ended
	}
	return v
}

// signatures returns the recent action signatures for loop detection.
func (s *Session) signatures(n int) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	start := len(s.steps) - n
	if start < 0 {
		start = 0
	}
	sigs := make([]string, 0, len(s.steps)-start)
	for _, st := range s.steps[start:] {
		if st.Action != nil {
			sigs = append(sigs, st.Action.Signature())
		}
	}
	return sigs
}
