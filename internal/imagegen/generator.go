// Package imagegen turns a text prompt into a stored image in two stages:
// a chat completion rewrites the prompt for the image model, then the image
// model renders it.
package imagegen

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"

	"github.com/alnah/mediaforge/internal/apierr"
	"github.com/alnah/mediaforge/internal/logging"
	"github.com/alnah/mediaforge/internal/metrics"
)

// Generation defaults. Retries are fewer than transcription's because image
// calls are slow and expensive.
const (
	defaultChatModel  = openai.GPT4oMini
	defaultImageModel = openai.CreateImageModelDallE3

	defaultMaxRetries     = 3
	defaultBaseDelay      = 1 * time.Second
	defaultMaxDelay       = 30 * time.Second
	defaultRequestTimeout = 2 * time.Minute
)

// enhanceSystemPrompt steers the rewrite stage.
const enhanceSystemPrompt = "You rewrite image prompts. Expand the user's idea into one vivid, " +
	"concrete paragraph an image model can render well: subject, setting, lighting, " +
	"composition, style. Reply with the rewritten prompt only."

// allowedSizes are the render dimensions the image model accepts.
var allowedSizes = map[string]bool{
	openai.CreateImageSize1024x1024: true,
	openai.CreateImageSize1792x1024: true,
	openai.CreateImageSize1024x1792: true,
}

// chatImageClient is an internal interface for the provider client.
// *openai.Client implements this implicitly; tests inject mocks.
type chatImageClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
	CreateImage(ctx context.Context, req openai.ImageRequest) (openai.ImageResponse, error)
}

// Compile-time interface compliance check.
var _ chatImageClient = (*openai.Client)(nil)

// Request is one image generation call.
type Request struct {
	Prompt  string `json:"prompt"`
	Size    string `json:"size,omitempty"`
	Quality string `json:"quality,omitempty"`
}

// Result points at the stored image and records both prompt stages.
type Result struct {
	ID             string `json:"id"`
	Prompt         string `json:"prompt"`
	EnhancedPrompt string `json:"enhancedPrompt"`
	ImagePath      string `json:"imagePath"`
}

// Generator is the two-stage image pipeline. It is safe for concurrent use.
type Generator struct {
	client     chatImageClient
	outputRoot string
	chatModel  string
	imageModel string
	retry      apierr.RetryConfig
	timeout    time.Duration
	log        *slog.Logger
}

// Option configures a Generator.
type Option func(*Generator)

// WithChatModel sets the prompt-rewrite model.
func WithChatModel(model string) Option {
	return func(g *Generator) { g.chatModel = model }
}

// WithImageModel sets the render model.
func WithImageModel(model string) Option {
	return func(g *Generator) { g.imageModel = model }
}

// WithRetry sets the retry schedule for both stages.
func WithRetry(cfg apierr.RetryConfig) Option {
	return func(g *Generator) { g.retry = cfg }
}

// WithRequestTimeout bounds each provider call.
func WithRequestTimeout(d time.Duration) Option {
	return func(g *Generator) {
		if d > 0 {
			g.timeout = d
		}
	}
}

// NewGenerator creates an image generator writing under outputRoot.
func NewGenerator(client chatImageClient, outputRoot string, opts ...Option) *Generator {
	g := &Generator{
		client:     client,
		outputRoot: outputRoot,
		chatModel:  defaultChatModel,
		imageModel: defaultImageModel,
		retry: apierr.RetryConfig{
			MaxRetries: defaultMaxRetries,
			BaseDelay:  defaultBaseDelay,
			MaxDelay:   defaultMaxDelay,
			Jitter:     true,
		},
		timeout: defaultRequestTimeout,
		log:     logging.ForService("imagegen"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate runs both stages and stores the decoded image under
// outputRoot/{id}/image.png. A failed rewrite falls back to the raw prompt;
// a failed render fails the call.
func (g *Generator) Generate(ctx context.Context, req Request) (*Result, error) {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return nil, fmt.Errorf("prompt is required: %w", apierr.ErrValidation)
	}
	size := req.Size
	if size == "" {
		size = openai.CreateImageSize1024x1024
	}
	if !allowedSizes[size] {
		return nil, fmt.Errorf("unsupported size %q: %w", req.Size, apierr.ErrValidation)
	}
	quality := req.Quality
	if quality == "" {
		quality = openai.CreateImageQualityStandard
	}

	enhanced, err := g.enhancePrompt(ctx, prompt)
	if err != nil {
		// The raw prompt still renders; losing the rewrite is not worth
		// failing the call.
		g.log.Warn("prompt enhancement failed, using raw prompt", "error", err)
		enhanced = prompt
	}

	data, err := g.render(ctx, enhanced, size, quality)
	if err != nil {
		metrics.ImagesGenerated.WithLabelValues("error").Inc()
		return nil, err
	}

	id := uuid.NewString()
	dir := filepath.Join(g.outputRoot, id)
	if err := os.MkdirAll(dir, 0o750); err != nil { // #nosec G301 -- server output dir
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	path := filepath.Join(dir, "image.png")
	if err := os.WriteFile(path, data, 0o640); err != nil { // #nosec G306
		return nil, fmt.Errorf("write image: %w", err)
	}

	metrics.ImagesGenerated.WithLabelValues("ok").Inc()
	g.log.Info("image generated", "id", id, "bytes", len(data), "size", size)
	return &Result{ID: id, Prompt: prompt, EnhancedPrompt: enhanced, ImagePath: path}, nil
}

// enhancePrompt asks the chat model for a render-ready rewrite.
func (g *Generator) enhancePrompt(ctx context.Context, prompt string) (string, error) {
	return apierr.RetryWithBackoff(ctx, g.retry, func() (string, error) {
		callCtx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()

		resp, err := g.client.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
			Model: g.chatModel,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: enhanceSystemPrompt},
				{Role: openai.ChatMessageRoleUser, Content: prompt},
			},
		})
		if err != nil {
			return "", classify(err)
		}
		if len(resp.Choices) == 0 {
			return "", fmt.Errorf("chat completion returned no choices: %w", apierr.ErrSilentResponse)
		}
		enhanced := strings.TrimSpace(resp.Choices[0].Message.Content)
		if enhanced == "" {
			return "", fmt.Errorf("chat completion returned empty content: %w", apierr.ErrSilentResponse)
		}
		return enhanced, nil
	}, shouldRetry)
}

// render creates the image and returns its decoded bytes.
func (g *Generator) render(ctx context.Context, prompt, size, quality string) ([]byte, error) {
	return apierr.RetryWithBackoff(ctx, g.retry, func() ([]byte, error) {
		callCtx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()

		resp, err := g.client.CreateImage(callCtx, openai.ImageRequest{
			Prompt:         prompt,
			Model:          g.imageModel,
			N:              1,
			Size:           size,
			Quality:        quality,
			ResponseFormat: openai.CreateImageResponseFormatB64JSON,
		})
		if err != nil {
			return nil, classify(err)
		}
		if len(resp.Data) == 0 || resp.Data[0].B64JSON == "" {
			return nil, fmt.Errorf("image response carries no payload: %w", apierr.ErrSilentResponse)
		}
		data, err := base64.StdEncoding.DecodeString(resp.Data[0].B64JSON)
		if err != nil {
			return nil, fmt.Errorf("decode image payload: %w", err)
		}
		return data, nil
	}, shouldRetry)
}

// classify maps provider errors to sentinel errors.
func classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apierr.FromStatus(apiErr.HTTPStatusCode, apiErr.Message)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("request timed out: %w", apierr.ErrTimeout)
	}
	return err
}

func shouldRetry(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	return !apierr.IsFatal(err)
}
