// Package agent contains the control loop that turns a task description
// into device actions, the append-only session record behind it, and the
// coordinator that runs at most one session per device.
//
// The loop repeats a fixed turn: capture the screen, ask the model,
// decode its response, execute the action, record the step. It ends when
// the model finishes, fails, the step budget runs out, the screen stops
// changing, the model starts repeating itself, or the session is
// cancelled.
package agent
