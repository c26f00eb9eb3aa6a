package inference

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const OpenAIEngineName = "openai"

// OpenAIConfig holds configuration for the OpenAI-compatible engine.
// BaseURL may point at any server speaking the chat completions API,
// including a local llama.cpp or vLLM instance.
type OpenAIConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	MaxRetries int
	RetryDelay time.Duration
	Timeout    time.Duration
	HTTPClient *http.Client // optional (tests)
}

// OpenAIEngine implements Engine against an OpenAI-compatible server using
// the official SDK.
type OpenAIEngine struct {
	model      string
	maxRetries int
	retryDelay time.Duration
	client     openai.Client
}

// NewOpenAIEngine creates an engine from cfg, applying defaults for any
// unset field.
func NewOpenAIEngine(cfg OpenAIConfig) *OpenAIEngine {
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = 2 * time.Second
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(httpClient),
		// The SDK's own retries are disabled; retry-go below owns backoff
		// so attempts are visible to logging and respect our delays.
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &OpenAIEngine{
		model:      cfg.Model,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		client:     openai.NewClient(opts...),
	}
}

// Name returns the engine identifier.
func (e *OpenAIEngine) Name() string { return OpenAIEngineName }

// Generate issues one chat completion, retrying transient transport errors
// with exponential backoff.
func (e *OpenAIEngine) Generate(ctx context.Context, req *Request) (*Result, error) {
	start := time.Now()

	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(e.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(req.System),
			openai.UserMessage(req.User),
		},
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}

	var completion *openai.ChatCompletion
	err := retry.Do(
		func() error {
			var callErr error
			completion, callErr = e.client.Chat.Completions.New(ctx, params)
			return callErr
		},
		retry.Attempts(uint(e.maxRetries)),
		retry.Delay(e.retryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, NewError(KindTimeout, "chat completion timed out", err)
		}
		return nil, NewError(KindBackend, "chat completion failed", err)
	}

	if len(completion.Choices) == 0 {
		return nil, NewError(KindEmpty, "completion returned no choices", nil)
	}
	text := strings.TrimSpace(completion.Choices[0].Message.Content)
	if text == "" {
		return nil, NewError(KindEmpty, "completion returned empty content", nil)
	}

	return &Result{
		Text:             text,
		PromptTokens:     int(completion.Usage.PromptTokens),
		CompletionTokens: int(completion.Usage.CompletionTokens),
		Duration:         time.Since(start),
	}, nil
}
