package model

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phonepilot/phonepilot/internal/infrastructure/logging"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, opts Options) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	opts.BaseURL = server.URL
	if opts.Model == "" {
		opts.Model = "test-model"
	}
	return New(logging.NewNop(), opts)
}

func TestCompleteNonStreaming(t *testing.T) {
	var gotReq chatRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"choices": [{"message": {"content": "do(action=\"Back\")"}}]}`)
	}, Options{})

	msgs := NewBuilder("go back", SystemPrompt(LangEN, false, time.Now()), 5, false).Build([]byte("png"))
	text, err := client.Complete(context.Background(), msgs, nil)
	require.NoError(t, err)
	assert.Equal(t, `do(action="Back")`, text)
	assert.Equal(t, "test-model", gotReq.Model)
	assert.False(t, gotReq.Stream)
	require.Len(t, gotReq.Messages, 2)
}

func TestCompleteFoldsReasoning(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"choices": [{"message": {"content": "do(action=\"Home\")", "reasoning_content": "going home"}}]}`)
	}, Options{})

	text, err := client.Complete(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, `<think>going home</think>do(action="Home")`, text)
}

func TestCompleteStreaming(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.True(t, req.Stream)

		w.Header().Set("Content-Type", "text/event-stream")
		for _, e := range []string{
			`{"choices": [{"delta": {"reasoning_content": "tapping "}}]}`,
			`{"choices": [{"delta": {"reasoning_content": "the icon"}}]}`,
			`{"choices": [{"delta": {"content": "do(action=\"Tap\", "}}]}`,
			`{"choices": [{"delta": {"content": "element=[5, 5])"}}]}`,
		} {
			fmt.Fprintf(w, "data: %s\n\n", e)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}, Options{Stream: true})

	var thinking, answer strings.Builder
	text, err := client.Complete(context.Background(), nil, func(isThinking bool, delta string) {
		if isThinking {
			thinking.WriteString(delta)
		} else {
			answer.WriteString(delta)
		}
	})
	require.NoError(t, err)
	assert.Equal(t, "tapping the icon", thinking.String())
	assert.Equal(t, `do(action="Tap", element=[5, 5])`, answer.String())
	assert.Equal(t, `<think>tapping the icon</think>do(action="Tap", element=[5, 5])`, text)
}

func TestCompleteStreamingInlineThinking(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, e := range []string{
			`{"choices": [{"delta": {"content": "<think>tap the "}}]}`,
			`{"choices": [{"delta": {"content": "cart icon</th"}}]}`,
			`{"choices": [{"delta": {"content": "ink>do(action=\"Tap\", element=[7, 7])"}}]}`,
		} {
			fmt.Fprintf(w, "data: %s\n\n", e)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}, Options{Stream: true})

	var thinking, answer strings.Builder
	text, err := client.Complete(context.Background(), nil, func(isThinking bool, delta string) {
		if isThinking {
			thinking.WriteString(delta)
		} else {
			answer.WriteString(delta)
		}
	})
	require.NoError(t, err)
	// Thinking embedded in content deltas surfaces incrementally, with
	// the tags stripped and never leaked into the answer channel.
	assert.Equal(t, "tap the cart icon", thinking.String())
	assert.Equal(t, `do(action="Tap", element=[7, 7])`, answer.String())
	assert.Equal(t, `<think>tap the cart icon</think>do(action="Tap", element=[7, 7])`, text)
}

func TestCompleteRetriesTransient(t *testing.T) {
	calls := 0
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"choices": [{"message": {"content": "ok"}}]}`)
	}, Options{MaxRetries: 2})

	text, err := client.Complete(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", text)
	assert.Equal(t, 2, calls)
}

func TestCompleteUnavailable(t *testing.T) {
	client := New(logging.NewNop(), Options{BaseURL: "http://127.0.0.1:1", Timeout: time.Second})

	_, err := client.Complete(context.Background(), nil, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestBuilderHistory(t *testing.T) {
	b := NewBuilder("buy milk", "SYSTEM", 2, false)
	b.Record(`Tap [100, 200]`)
	b.Record(`Type "milk"`)
	b.Record(`Tap [900, 100]`)

	msgs := b.Build([]byte("png"))
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].Role)

	parts, ok := msgs[1].Content.([]ContentPart)
	require.True(t, ok)
	require.Len(t, parts, 2)
	// Only the last two history entries survive, numbered absolutely.
	assert.NotContains(t, parts[0].Text, "Step 1:")
	assert.Contains(t, parts[0].Text, `Step 2: Type "milk"`)
	assert.Contains(t, parts[0].Text, "Step 3: Tap [900, 100]")
	assert.True(t, strings.HasPrefix(parts[1].ImageURL.URL, "data:image/png;base64,"))
}

func TestBuilderEmbedsSystemPrompt(t *testing.T) {
	b := NewBuilder("task", "SYSTEM", 5, true)
	msgs := b.Build([]byte("png"))
	require.Len(t, msgs, 1)
	assert.Equal(t, "user", msgs[0].Role)

	parts := msgs[0].Content.([]ContentPart)
	assert.Contains(t, parts[0].Text, "SYSTEM")
	assert.Contains(t, parts[0].Text, "Task: task")
}

func TestSystemPromptLanguages(t *testing.T) {
	en := SystemPrompt(LangEN, true, time.Date(2026, 8, 29, 0, 0, 0, 0, time.UTC))
	assert.Contains(t, en, "2026-08-29")
	assert.Contains(t, en, "<think>")
	assert.Contains(t, en, `do(action="Tap", element=[x,y])`)

	cn := SystemPrompt(LangCN, false, time.Now())
	assert.Contains(t, cn, "手机自动化助手")
	assert.NotContains(t, cn, "<think>")
}
