package action

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DecodeError reports unparseable model output. The offending text is
// retained so a failed turn stays diagnosable from logs alone.
type DecodeError struct {
	Raw    string
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode action: %s", e.Reason)
}

// Decoded is the result of parsing one complete model response.
type Decoded struct {
	Thinking string
	Action   *Action
	Raw      string
}

// Decode parses a model response into an optional thinking segment and a
// typed action. The response text is never evaluated as code: everything
// goes through a strict scan of the do(...)/finish(...)/fail(...) call
// grammar or a JSON object payload. Decoding is deterministic.
func Decode(raw string) (*Decoded, error) {
	thinking, answer := splitThinking(raw)
	text := stripWrappers(answer)

	// Some models emit the action as a bare JSON object.
	if strings.HasPrefix(text, "{") && strings.HasSuffix(text, "}") {
		if act, ok := decodeJSONPayload(text); ok {
			if err := act.Validate(); err != nil {
				return nil, &DecodeError{Raw: raw, Reason: err.Error()}
			}
			return &Decoded{Thinking: thinking, Action: act, Raw: raw}, nil
		}
	}

	call := extractCall(text)
	if call == "" {
		return nil, &DecodeError{Raw: raw, Reason: "no do()/finish()/fail() call found"}
	}

	fn, args, err := parseCall(normalizeTypos(call))
	if err != nil {
		return nil, &DecodeError{Raw: raw, Reason: err.Error()}
	}

	act, err := fromCall(fn, args)
	if err != nil {
		return nil, &DecodeError{Raw: raw, Reason: err.Error()}
	}
	if err := act.Validate(); err != nil {
		return nil, &DecodeError{Raw: raw, Reason: err.Error()}
	}

	return &Decoded{Thinking: thinking, Action: act, Raw: raw}, nil
}

// splitThinking separates a <think>...</think> segment from the rest.
// Responses without the thinking convention pass through unchanged.
func splitThinking(raw string) (thinking, rest string) {
	start := strings.Index(raw, "<think>")
	if start < 0 {
		return "", raw
	}
	end := strings.Index(raw, "</think>")
	if end < 0 || end < start {
		// Unterminated thinking: everything after the tag may still hold
		// the action, so keep it in the answer side.
		return "", raw
	}
	thinking = strings.TrimSpace(raw[start+len("<think>") : end])
	rest = raw[:start] + raw[end+len("</think>"):]
	return thinking, rest
}

var fenceRe = regexp.MustCompile("(?s)```(?:python|json)?\\s*(.*?)\\s*```")

// stripWrappers removes XML-ish tags and markdown fences some models wrap
// around the action call.
func stripWrappers(text string) string {
	for _, tag := range []string{"<answer>", "</answer>", "<tool_call>", "</tool_call>"} {
		text = strings.ReplaceAll(text, tag, " ")
	}
	if m := fenceRe.FindStringSubmatch(text); m != nil {
		text = m[1]
	}
	return strings.TrimSpace(text)
}

var typoReplacer = strings.NewReplacer(
	"“", `"`, "”", `"`, // fullwidth double quotes
	"‘", "'", "’", "'", // fullwidth single quotes
	"，", ",", "：", ":", // fullwidth comma / colon
)

var jsonSepRe = regexp.MustCompile(`"?\b(action|element|start|end|app|text|message|duration|key)"?\s*[:=]\s*`)

// normalizeTypos repairs the separator mistakes models commonly make:
// fullwidth punctuation, JSON-style `"key":` separators inside a call, and
// trailing semicolons.
func normalizeTypos(text string) string {
	text = typoReplacer.Replace(strings.TrimSpace(text))
	text = jsonSepRe.ReplaceAllString(text, "$1=")
	return strings.TrimRight(text, ";")
}

// extractCall returns the first balanced do(...)/finish(...)/fail(...)
// call, honoring quoting so parentheses inside strings do not terminate
// the scan.
func extractCall(text string) string {
	start := -1
	for _, prefix := range []string{"do(", "finish(", "fail("} {
		if idx := strings.Index(text, prefix); idx >= 0 && (start < 0 || idx < start) {
			start = idx
		}
	}
	if start < 0 {
		return ""
	}

	var quote byte
	escaped := false
	depth := 0
	for i := start; i < len(text); i++ {
		ch := text[i]
		if quote != 0 {
			if escaped {
				escaped = false
				continue
			}
			switch ch {
			case '\\':
				escaped = true
			case quote:
				quote = 0
			}
			continue
		}
		switch ch {
		case '\'', '"':
			quote = ch
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return strings.TrimSpace(text[start : i+1])
			}
		}
	}
	// Unbalanced call: return the tail and let parseCall reject it.
	return strings.TrimSpace(text[start:])
}

// parseCall splits `fn(k=v, ...)` into the function name and raw argument
// values. Argument splitting is quote- and bracket-aware.
func parseCall(call string) (fn string, args map[string]string, err error) {
	open := strings.IndexByte(call, '(')
	closing := strings.LastIndexByte(call, ')')
	if open < 0 || closing < 0 || closing <= open {
		return "", nil, fmt.Errorf("malformed call %q", call)
	}

	fn = strings.TrimSpace(call[:open])
	switch fn {
	case "do", "finish", "fail":
	default:
		return "", nil, fmt.Errorf("expected do(), finish() or fail(), got %q", fn)
	}

	args = make(map[string]string)
	for _, part := range splitTopLevel(call[open+1 : closing]) {
		eq := strings.IndexByte(part, '=')
		if eq < 0 {
			return "", nil, fmt.Errorf("argument %q is not key=value", part)
		}
		key := strings.Trim(strings.TrimSpace(part[:eq]), `"'`)
		if key == "" {
			return "", nil, fmt.Errorf("argument %q has an empty key", part)
		}
		args[key] = strings.TrimSpace(part[eq+1:])
	}
	return fn, args, nil
}

// splitTopLevel splits on commas outside quotes and brackets.
func splitTopLevel(s string) []string {
	var parts []string
	var buf strings.Builder
	var quote byte
	escaped := false
	depth := 0

	flush := func() {
		if part := strings.TrimSpace(buf.String()); part != "" {
			parts = append(parts, part)
		}
		buf.Reset()
	}

	for i := 0; i < len(s); i++ {
		ch := s[i]
		if quote != 0 {
			buf.WriteByte(ch)
			if escaped {
				escaped = false
			} else if ch == '\\' {
				escaped = true
			} else if ch == quote {
				quote = 0
			}
			continue
		}
		switch ch {
		case '\'', '"':
			quote = ch
			buf.WriteByte(ch)
		case '[', '{':
			depth++
			buf.WriteByte(ch)
		case ']', '}':
			if depth > 0 {
				depth--
			}
			buf.WriteByte(ch)
		case ',':
			if depth == 0 {
				flush()
			} else {
				buf.WriteByte(ch)
			}
		default:
			buf.WriteByte(ch)
		}
	}
	flush()
	return parts
}

// parseString unquotes a string value, tolerating unescaped quotes inside
// by matching the outermost quote pair.
func parseString(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return ""
	}
	if v[0] == '\'' || v[0] == '"' {
		q := v[0]
		end := strings.LastIndexByte(v, q)
		inner := v[1:]
		if end > 0 {
			inner = v[1:end]
		}
		inner = strings.ReplaceAll(inner, `\n`, "\n")
		inner = strings.ReplaceAll(inner, `\r`, "\r")
		inner = strings.ReplaceAll(inner, `\t`, "\t")
		inner = strings.ReplaceAll(inner, `\"`, `"`)
		inner = strings.ReplaceAll(inner, `\'`, "'")
		return strings.TrimSpace(inner)
	}
	return v
}

// parsePoint parses `[x, y]` into a grid point.
func parsePoint(v string) (*Point, error) {
	v = strings.TrimSpace(v)
	if !strings.HasPrefix(v, "[") || !strings.HasSuffix(v, "]") {
		return nil, fmt.Errorf("expected [x, y], got %q", v)
	}
	fields := strings.Split(v[1:len(v)-1], ",")
	if len(fields) != 2 {
		return nil, fmt.Errorf("expected two coordinates, got %q", v)
	}
	x, err := strconv.Atoi(strings.TrimSpace(fields[0]))
	if err != nil {
		return nil, fmt.Errorf("bad x coordinate in %q", v)
	}
	y, err := strconv.Atoi(strings.TrimSpace(fields[1]))
	if err != nil {
		return nil, fmt.Errorf("bad y coordinate in %q", v)
	}
	return &Point{X: x, Y: y}, nil
}

var durationNumRe = regexp.MustCompile(`[0-9]+(\.[0-9]+)?`)

// parseLooseDuration accepts `"2 seconds"`, `"500 ms"`, bare numbers
// (seconds), and Go duration syntax. Unparseable input falls back to 1s,
// matching the tolerance models need here.
func parseLooseDuration(v string) time.Duration {
	v = strings.TrimSpace(parseString(v))
	if v == "" {
		return time.Second
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	num := durationNumRe.FindString(v)
	if num == "" {
		return time.Second
	}
	f, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return time.Second
	}
	if strings.Contains(v, "ms") || strings.Contains(v, "millis") {
		return time.Duration(f * float64(time.Millisecond))
	}
	return time.Duration(f * float64(time.Second))
}

// kindNames maps the model's action vocabulary to kinds.
var kindNames = map[string]Kind{
	"Tap":        KindTap,
	"Double Tap": KindDoubleTap,
	"Long Press": KindLongPress,
	"Swipe":      KindSwipe,
	"Type":       KindType,
	"Type_Name":  KindType,
	"Key":        KindKeyEvent,
	"Launch":     KindLaunch,
	"Back":       KindBack,
	"Home":       KindHome,
	"Wait":       KindWait,
	"Take_over":  KindTakeOver,
}

// fromCall converts a parsed call into a typed action.
func fromCall(fn string, args map[string]string) (*Action, error) {
	switch fn {
	case "finish":
		return Finish(parseString(args["message"])), nil
	case "fail":
		msg := parseString(args["message"])
		if msg == "" {
			msg = parseString(args["reason"])
		}
		return Fail(msg), nil
	}

	name := parseString(args["action"])
	kind, ok := kindNames[name]
	if !ok {
		return nil, fmt.Errorf("unknown action %q", name)
	}

	act := &Action{Kind: kind, Message: parseString(args["message"])}
	var err error

	switch kind {
	case KindTap, KindDoubleTap, KindLongPress:
		if act.Element, err = parsePoint(args["element"]); err != nil {
			return nil, err
		}
		if kind == KindLongPress {
			act.Duration = time.Second
		}
	case KindSwipe:
		if act.Start, err = parsePoint(args["start"]); err != nil {
			return nil, err
		}
		if act.End, err = parsePoint(args["end"]); err != nil {
			return nil, err
		}
		act.Duration = 300 * time.Millisecond
		if v, ok := args["duration"]; ok {
			act.Duration = parseLooseDuration(v)
		}
	case KindType:
		act.Text = parseString(args["text"])
	case KindKeyEvent:
		act.Key = parseString(args["key"])
		if act.Key == "" {
			act.Key = parseString(args["code"])
		}
	case KindLaunch:
		act.App = parseString(args["app"])
	case KindWait:
		act.Duration = parseLooseDuration(args["duration"])
	}

	return act, nil
}

// decodeJSONPayload maps a bare JSON object onto an action. Returns false
// when the text is not valid JSON; the caller then falls through to the
// call grammar.
func decodeJSONPayload(text string) (*Action, bool) {
	var payload struct {
		Metadata string          `json:"_metadata"`
		Action   string          `json:"action"`
		Element  []int           `json:"element"`
		Start    []int           `json:"start"`
		End      []int           `json:"end"`
		Text     string          `json:"text"`
		App      string          `json:"app"`
		Message  string          `json:"message"`
		Duration json.RawMessage `json:"duration"`
		Key      string          `json:"key"`
	}
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		return nil, false
	}

	isFinish := payload.Metadata == "finish" ||
		(payload.Metadata == "" && payload.Action == "" && payload.Message != "")
	if isFinish {
		return Finish(payload.Message), true
	}

	args := map[string]string{"action": payload.Action}
	if len(payload.Element) == 2 {
		args["element"] = fmt.Sprintf("[%d, %d]", payload.Element[0], payload.Element[1])
	}
	if len(payload.Start) == 2 {
		args["start"] = fmt.Sprintf("[%d, %d]", payload.Start[0], payload.Start[1])
	}
	if len(payload.End) == 2 {
		args["end"] = fmt.Sprintf("[%d, %d]", payload.End[0], payload.End[1])
	}
	if payload.Text != "" {
		args["text"] = payload.Text
	}
	if payload.App != "" {
		args["app"] = payload.App
	}
	if payload.Message != "" {
		args["message"] = payload.Message
	}
	if payload.Key != "" {
		args["key"] = payload.Key
	}
	if len(payload.Duration) > 0 {
		args["duration"] = strings.Trim(string(payload.Duration), `"`)
	}

	act, err := fromCall("do", args)
	if err != nil {
		return nil, false
	}
	return act, true
}
