package model

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// ContentPart is one element of a multimodal message.
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL carries an image as a data URL.
type ImageURL struct {
	URL string `json:"url"`
}

// Message is one chat turn. Content is either a string or []ContentPart.
type Message struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

// Builder assembles the message list for one perception turn. It keeps
// the task, the rolling action history, and the prompt settings; only
// the latest screenshot is ever attached, so context stays bounded.
type Builder struct {
	task         string
	system       string
	history      []string
	historyTurns int
	embedSystem  bool
}

// NewBuilder creates a builder for one session.
func NewBuilder(task, systemPrompt string, historyTurns int, embedSystem bool) *Builder {
	if historyTurns <= 0 {
		historyTurns = 5
	}
	return &Builder{
		task:         task,
		system:       systemPrompt,
		historyTurns: historyTurns,
		embedSystem:  embedSystem,
	}
}

// Record appends one executed action summary to the history.
func (b *Builder) Record(summary string) {
	b.history = append(b.history, summary)
}

// Build produces the messages for the next turn from the current
// screenshot.
func (b *Builder) Build(screenshotPNG []byte) []Message {
	var task strings.Builder
	fmt.Fprintf(&task, "Task: %s", b.task)

	if len(b.history) > 0 {
		recent := b.history
		if len(recent) > b.historyTurns {
			recent = recent[len(recent)-b.historyTurns:]
		}
		task.WriteString("\n\nPrevious actions:\n")
		offset := len(b.history) - len(recent)
		for i, h := range recent {
			fmt.Fprintf(&task, "Step %d: %s\n", offset+i+1, h)
		}
		task.WriteString("\nOutput the next action for the current screen:")
	}

	image := &ImageURL{
		URL: "data:image/png;base64," + base64.StdEncoding.EncodeToString(screenshotPNG),
	}

	if b.embedSystem {
		// Some APIs reject the system role for multimodal models; fold
		// the prompt into the user turn instead.
		return []Message{{
			Role: "user",
			Content: []ContentPart{
				{Type: "text", Text: b.system + "\n\n---\n" + task.String()},
				{Type: "image_url", ImageURL: image},
			},
		}}
	}

	return []Message{
		{Role: "system", Content: b.system},
		{
			Role: "user",
			Content: []ContentPart{
				{Type: "text", Text: task.String()},
				{Type: "image_url", ImageURL: image},
			},
		},
	}
}
