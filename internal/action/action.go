package action

import (
	"fmt"
	"time"
)

// Kind discriminates the action variants a model may request.
type Kind string

const (
	KindTap       Kind = "tap"
	KindDoubleTap Kind = "double_tap"
	KindLongPress Kind = "long_press"
	KindSwipe     Kind = "swipe"
	KindType      Kind = "type"
	KindKeyEvent  Kind = "key_event"
	KindLaunch    Kind = "launch"
	KindBack      Kind = "back"
	KindHome      Kind = "home"
	KindWait      Kind = "wait"
	KindTakeOver  Kind = "take_over"
	KindFinish    Kind = "finish"
	KindFail      Kind = "fail"
)

// GridMax is the exclusive upper bound of the model's relative coordinate
// grid. Models emit positions in [0, 999]; backends scale them to pixels.
const GridMax = 1000

// Point is a position on the relative coordinate grid.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Absolute scales the point to the given screen dimensions.
func (p Point) Absolute(width, height int) (int, int) {
	return p.X * width / GridMax, p.Y * height / GridMax
}

// Action is one atomic device operation decided by the model.
// Exactly the fields relevant to Kind are populated.
type Action struct {
	Kind Kind `json:"kind"`

	Element  *Point        `json:"element,omitempty"`  // tap, double_tap, long_press
	Start    *Point        `json:"start,omitempty"`    // swipe
	End      *Point        `json:"end,omitempty"`      // swipe
	Duration time.Duration `json:"duration,omitempty"` // swipe, wait, long_press
	Text     string        `json:"text,omitempty"`     // type
	Key      string        `json:"key,omitempty"`      // key_event
	App      string        `json:"app,omitempty"`      // launch
	Message  string        `json:"message,omitempty"`  // finish, fail, take_over, sensitive tap
}

// Terminal reports whether the action ends the task.
func (a *Action) Terminal() bool {
	return a.Kind == KindFinish || a.Kind == KindFail
}

// Signature returns a stable description used for repeated-action
// detection. Coordinates are included so "tapping the same spot" and
// "tapping around" are distinguishable.
func (a *Action) Signature() string {
	switch a.Kind {
	case KindTap, KindDoubleTap, KindLongPress:
		if a.Element != nil {
			return fmt.Sprintf("%s:%d,%d", a.Kind, a.Element.X, a.Element.Y)
		}
		return string(a.Kind)
	case KindSwipe:
		if a.Start != nil && a.End != nil {
			return fmt.Sprintf("swipe:%d,%d->%d,%d", a.Start.X, a.Start.Y, a.End.X, a.End.Y)
		}
		return "swipe"
	case KindType:
		return "type:" + a.Text
	case KindLaunch:
		return "launch:" + a.App
	case KindKeyEvent:
		return "key:" + a.Key
	case KindWait:
		return fmt.Sprintf("wait:%s", a.Duration)
	default:
		return string(a.Kind)
	}
}

// Validate checks that the fields required by Kind are present.
func (a *Action) Validate() error {
	switch a.Kind {
	case KindTap, KindDoubleTap, KindLongPress:
		if a.Element == nil {
			return fmt.Errorf("%s requires element coordinates", a.Kind)
		}
	case KindSwipe:
		if a.Start == nil || a.End == nil {
			return fmt.Errorf("swipe requires start and end coordinates")
		}
	case KindType:
		// Empty text is allowed; it clears the field.
	case KindLaunch:
		if a.App == "" {
			return fmt.Errorf("launch requires an app name")
		}
	case KindKeyEvent:
		if a.Key == "" {
			return fmt.Errorf("key_event requires a key code")
		}
	case KindBack, KindHome, KindWait, KindTakeOver, KindFinish, KindFail:
	default:
		return fmt.Errorf("unknown action kind %q", a.Kind)
	}

	for _, p := range []*Point{a.Element, a.Start, a.End} {
		if p == nil {
			continue
		}
		if p.X < 0 || p.X >= GridMax || p.Y < 0 || p.Y >= GridMax {
			return fmt.Errorf("coordinate (%d,%d) outside grid 0-%d", p.X, p.Y, GridMax-1)
		}
	}
	return nil
}

// Finish builds a terminal success action.
func Finish(message string) *Action {
	return &Action{Kind: KindFinish, Message: message}
}

// Fail builds a terminal failure action.
func Fail(reason string) *Action {
	return &Action{Kind: KindFail, Message: reason}
}
