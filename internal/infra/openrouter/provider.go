package openrouter

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"golang.org/x/time/rate"
)

// DefaultBaseURL is the OpenRouter OpenAI-compatible endpoint.
const DefaultBaseURL = "https://openrouter.ai/api/v1"

const systemPrompt = "You are a quiz master for a tech learning server. Generate a single multiple-choice question (MCQ) on %s. " +
	"Make it educational for beginners in Cybersecurity, Blender, Web Dev, Blockchain, or NFTs. " +
	"Difficulty: %s. For blockchain, include NFT-related questions (e.g., Moana NFT minting).\n" +
	"Output ONLY valid JSON in this exact format: " +
	"{ 'question': 'The question text?', 'options': ['1. Option A', '2. Option B', '3. Option C', '4. Option D'], 'answer': 1 }\n" +
	"Rules: 1. Provide exactly 4 options, each starting with its number (e.g., '1. ...'). 2. Only one option is correct. " +
	"3. The answer field must be an integer 1-4 matching the correct option. 4. Do not include explanations or any extra text. " +
	"5. Output only valid JSON, no markdown or commentary."

// ErrEmptyCompletion is returned when the model answered with no choices.
var ErrEmptyCompletion = errors.New("empty completion")

// Config configures the provider.
type Config struct {
	APIKey  string
	BaseURL string
	// RequestsPerMinute bounds calls across all models; zero disables the limit.
	RequestsPerMinute int
	Timeout           time.Duration
	MaxTokens         int64
	Temperature       float64
	HTTPClient        *http.Client
}

// Provider asks OpenRouter models for quiz questions.
type Provider struct {
	client      openai.Client
	limiter     *rate.Limiter
	maxTokens   int64
	temperature float64
}

func New(cfg Config) *Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 200
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = 0.7
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 1)
	}

	return &Provider{
		client: openai.NewClient(
			option.WithAPIKey(cfg.APIKey),
			option.WithBaseURL(cfg.BaseURL),
			option.WithHTTPClient(httpClient),
			// model fallback replaces SDK retries
			option.WithMaxRetries(0),
		),
		limiter:     limiter,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
	}
}

// Complete sends one chat completion to model and returns the reply text.
func (p *Provider) Complete(ctx context.Context, model, category, difficulty string) (string, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit wait: %w", err)
	}
	resp, err := p.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(fmt.Sprintf(systemPrompt, category, difficulty)),
			openai.UserMessage(fmt.Sprintf("Generate a question for: %s. Difficulty: %s.", category, difficulty)),
		},
		MaxTokens:   openai.Int(p.maxTokens),
		Temperature: openai.Float(p.temperature),
	})
	if err != nil {
		return "", fmt.Errorf("chat completion %s: %w", model, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%s: %w", model, ErrEmptyCompletion)
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
