package model

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/phonepilot/phonepilot/internal/action"
	"github.com/phonepilot/phonepilot/internal/infrastructure/logging"
	"github.com/phonepilot/phonepilot/internal/infrastructure/resilience"
)

// ErrUnavailable means the model endpoint cannot serve completions right
// now: unreachable, persistently erroring, or the breaker is open.
var ErrUnavailable = errors.New("model service unavailable")

// Options configures the client.
type Options struct {
	// BaseURL is the OpenAI-compatible API root, e.g.
	// "http://localhost:8000/v1".
	BaseURL string
	// Model is the model name sent with each request.
	Model string
	// APIKey, if set, is sent as a bearer token.
	APIKey string
	// Timeout bounds one completion end to end.
	Timeout time.Duration
	// MaxRetries is the transport-level retry budget for transient
	// failures.
	MaxRetries int
	// Stream requests server-sent events instead of one response body.
	Stream bool
	// RatePerSec and RateBurst bound outbound request rate. Zero
	// disables limiting.
	RatePerSec float64
	RateBurst  int
	// MaxTokens caps the completion length. Zero lets the server decide.
	MaxTokens int
}

// ChunkHandler observes streamed deltas. thinking marks reasoning-channel
// content.
type ChunkHandler func(thinking bool, delta string)

// Client talks to an OpenAI-compatible chat completions endpoint.
// Transient failures retry at the transport; a breaker stops hammering an
// endpoint that keeps failing.
type Client struct {
	http    *resty.Client
	opts    Options
	breaker *resilience.Breaker
	limiter *rate.Limiter
	log     *logging.Logger
}

// New creates a client.
func New(log *logging.Logger, opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 120 * time.Second
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = opts.MaxRetries
	retryClient.RetryWaitMin = 500 * time.Millisecond
	retryClient.RetryWaitMax = 10 * time.Second
	retryClient.Logger = nil

	httpClient := resty.NewWithClient(retryClient.StandardClient()).
		SetBaseURL(strings.TrimRight(opts.BaseURL, "/")).
		SetTimeout(opts.Timeout).
		SetHeader("Content-Type", "application/json")
	if opts.APIKey != "" {
		httpClient.SetAuthToken(opts.APIKey)
	}

	var limiter *rate.Limiter
	if opts.RatePerSec > 0 {
		burst := opts.RateBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RatePerSec), burst)
	}

	breaker := resilience.NewBreaker("model", resilience.Settings{
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		OnStateChange: func(name string, from, to resilience.State) {
			log.Warn("Circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	return &Client{
		http:    httpClient,
		opts:    opts,
		breaker: breaker,
		limiter: limiter,
		log:     log,
	}
}

type chatRequest struct {
	Model     string    `json:"model"`
	Messages  []Message `json:"messages"`
	Stream    bool      `json:"stream,omitempty"`
	MaxTokens int       `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content          string `json:"content"`
			ReasoningContent string `json:"reasoning_content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

type streamEvent struct {
	Choices []struct {
		Delta struct {
			Content          string `json:"content"`
			ReasoningContent string `json:"reasoning_content"`
		} `json:"delta"`
	} `json:"choices"`
}

// Complete runs one perception turn and returns the full response text.
// Reasoning-channel content is folded into <think> tags so the response
// decodes the same way in both streaming modes. onChunk may be nil.
func (c *Client) Complete(ctx context.Context, messages []Message, onChunk ChunkHandler) (string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", err
		}
	}

	var text string
	started := time.Now()
	err := c.breaker.Do(func() error {
		var err error
		if c.opts.Stream {
			text, err = c.completeStream(ctx, messages, onChunk)
		} else {
			text, err = c.completeOnce(ctx, messages)
		}
		return err
	})
	if err != nil {
		if errors.Is(err, resilience.ErrCircuitOpen) || errors.Is(err, resilience.ErrTooManyRequests) {
			return "", fmt.Errorf("%s: %w", err, ErrUnavailable)
		}
		return "", err
	}

	c.log.Debug("Model completion finished",
		zap.String("model", c.opts.Model),
		zap.Duration("duration", time.Since(started)),
		zap.Int("response_len", len(text)))
	return text, nil
}

func (c *Client) completeOnce(ctx context.Context, messages []Message) (string, error) {
	var out chatResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(chatRequest{Model: c.opts.Model, Messages: messages, MaxTokens: c.opts.MaxTokens}).
		SetResult(&out).
		Post("/chat/completions")
	if err != nil {
		return "", classify(err)
	}
	if resp.IsError() {
		return "", classifyStatus(resp.StatusCode(), resp.String())
	}
	if out.Error != nil {
		return "", fmt.Errorf("model error: %s", out.Error.Message)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("model returned no choices")
	}

	msg := out.Choices[0].Message
	if msg.ReasoningContent != "" {
		return "<think>" + msg.ReasoningContent + "</think>" + msg.Content, nil
	}
	return msg.Content, nil
}

func (c *Client) completeStream(ctx context.Context, messages []Message, onChunk ChunkHandler) (string, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(chatRequest{Model: c.opts.Model, Messages: messages, Stream: true, MaxTokens: c.opts.MaxTokens}).
		SetDoNotParseResponse(true).
		Post("/chat/completions")
	if err != nil {
		return "", classify(err)
	}
	body := resp.RawBody()
	defer body.Close()

	if resp.IsError() {
		return "", classifyStatus(resp.StatusCode(), "")
	}

	// The assembler separates thinking from answer text regardless of
	// whether the server streams reasoning on its own channel or inline
	// as <think> tags in content.
	var observer func(thinking bool, delta string)
	if onChunk != nil {
		observer = func(thinking bool, delta string) { onChunk(thinking, delta) }
	}
	asm := action.NewAssembler(observer)
	sawReasoning := false

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		line := strings.TrimSpace(scanner.Text())
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		data = strings.TrimSpace(data)
		if data == "[DONE]" {
			break
		}

		var event streamEvent
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			c.log.Warn("Skipping malformed stream event", zap.String("data", data))
			continue
		}
		if len(event.Choices) == 0 {
			continue
		}
		delta := event.Choices[0].Delta
		if delta.ReasoningContent != "" {
			sawReasoning = true
			asm.FeedThinking(delta.ReasoningContent)
		}
		if delta.Content != "" {
			if sawReasoning {
				asm.FeedAnswer(delta.Content)
			} else {
				asm.Feed(delta.Content)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return "", classify(err)
	}

	return asm.Text(), nil
}

func classify(err error) error {
	msg := err.Error()
	if strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "giving up after") {
		return fmt.Errorf("%s: %w", msg, ErrUnavailable)
	}
	return err
}

func classifyStatus(code int, body string) error {
	if code >= 500 || code == 429 {
		return fmt.Errorf("model returned status %d: %w", code, ErrUnavailable)
	}
	return fmt.Errorf("model returned status %d: %s", code, strings.TrimSpace(body))
}
