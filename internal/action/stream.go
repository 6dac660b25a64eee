package action

import "strings"

// Assembler accumulates a streamed model response and surfaces deltas to
// an observer while they arrive, separating inline <think> content from
// answer text. The action itself is only decoded once the stream is
// complete, so a partial call can never be executed.
type Assembler struct {
	buf      strings.Builder
	observer func(thinking bool, delta string)

	inThinking   bool
	doneThinking bool
	emitted      int
}

// NewAssembler creates an assembler. The observer, if non-nil, receives
// text deltas as they stream in, with thinking content flagged.
func NewAssembler(observer func(thinking bool, delta string)) *Assembler {
	return &Assembler{observer: observer}
}

// Feed appends one streamed chunk, scanning it for inline think tags.
func (a *Assembler) Feed(chunk string) {
	a.buf.WriteString(chunk)
	a.observe()
}

// FeedThinking appends text the transport already identified as thinking
// content, for APIs that stream reasoning on a separate channel.
func (a *Assembler) FeedThinking(chunk string) {
	if !a.inThinking {
		a.buf.WriteString("<think>")
		a.inThinking = true
	}
	a.buf.WriteString(chunk)
	if a.observer != nil {
		a.observer(true, chunk)
	}
	a.emitted = a.buf.Len()
}

// FeedAnswer appends text the transport identified as answer content,
// closing an open thinking segment first.
func (a *Assembler) FeedAnswer(chunk string) {
	if a.inThinking {
		a.buf.WriteString("</think>")
		a.inThinking = false
		a.doneThinking = true
	}
	a.buf.WriteString(chunk)
	if a.observer != nil {
		a.observer(false, chunk)
	}
	a.emitted = a.buf.Len()
}

// observe emits newly buffered text to the observer, switching channels
// at the think tags. Text that could be the start of a tag is held back
// until the next chunk settles it.
func (a *Assembler) observe() {
	if a.observer == nil {
		return
	}
	text := a.buf.String()
	for a.emitted < len(text) {
		pending := text[a.emitted:]

		if a.doneThinking {
			a.observer(false, pending)
			a.emitted = len(text)
			return
		}

		tag, thinking := "<think>", false
		if a.inThinking {
			tag, thinking = "</think>", true
		}

		if idx := strings.Index(pending, tag); idx >= 0 {
			if idx > 0 {
				a.observer(thinking, pending[:idx])
			}
			a.emitted += idx + len(tag)
			if a.inThinking {
				a.inThinking = false
				a.doneThinking = true
			} else {
				a.inThinking = true
			}
			continue
		}

		safe := len(pending)
		for i := max(0, len(pending)-len(tag)+1); i < len(pending); i++ {
			if strings.HasPrefix(tag, pending[i:]) {
				safe = i
				break
			}
		}
		if safe > 0 {
			a.observer(thinking, pending[:safe])
			a.emitted += safe
		}
		return
	}
}

// Raw returns everything buffered so far.
func (a *Assembler) Raw() string {
	return a.buf.String()
}

// Text closes any open thinking segment and returns the full response.
func (a *Assembler) Text() string {
	if a.inThinking {
		a.buf.WriteString("</think>")
		a.inThinking = false
		a.doneThinking = true
	}
	return a.buf.String()
}

// Finalize closes any open thinking segment and decodes the full response.
func (a *Assembler) Finalize() (*Decoded, error) {
	return Decode(a.Text())
}
