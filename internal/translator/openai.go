package translator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/JonMunkholm/tabula/internal/fault"
	"github.com/JonMunkholm/tabula/internal/operation"
)

// OpenAIConfig configures the OpenAI-backed translator.
type OpenAIConfig struct {
	APIKey  string
	Model   string
	BaseURL string // optional, for compatible endpoints
	Timeout time.Duration
}

// chatClient is the subset of *openai.Client the translator uses.
type chatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAI translates instructions with a chat-completion model. The model is
// asked for a JSON object; anything else is a TranslationFailure.
type OpenAI struct {
	client  chatClient
	model   string
	timeout time.Duration
}

// NewOpenAI builds a translator from cfg.
func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai api key is required")
	}
	model := cfg.Model
	if model == "" {
		model = openai.GPT4oMini
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	slog.Info("initializing openai translator", "model", model)
	return &OpenAI{
		client:  openai.NewClientWithConfig(clientCfg),
		model:   model,
		timeout: cfg.Timeout,
	}, nil
}

func (o *OpenAI) Translate(ctx context.Context, req Request) (operation.Operation, error) {
	if strings.TrimSpace(req.Instruction) == "" {
		return operation.Operation{}, failure("instruction is empty")
	}
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	user, err := userPrompt(req)
	if err != nil {
		return operation.Operation{}, fault.Wrap(fault.TranslationFailure, "translate", err)
	}

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt(req.Kind)},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		Temperature: 0,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return operation.Operation{}, fault.Wrap(fault.TranslationFailure, "translate", fmt.Errorf("deadline exceeded: %w", err))
		}
		return operation.Operation{}, fault.Wrap(fault.TranslationFailure, "translate", fmt.Errorf("openai request: %w", err))
	}
	if len(resp.Choices) == 0 {
		return operation.Operation{}, failure("model returned no choices")
	}

	slog.Debug("translator reply", "model", o.model, "finish_reason", resp.Choices[0].FinishReason)
	return ParseCandidate(resp.Choices[0].Message.Content, req.Kind)
}

func userPrompt(req Request) (string, error) {
	sample, err := json.Marshal(req.Sample.bounded())
	if err != nil {
		return "", fmt.Errorf("encode sample: %w", err)
	}
	return fmt.Sprintf("Dataset sample:\n%s\n\nInstruction:\n%s", sample, req.Instruction), nil
}

const basePrompt = `You convert a spreadsheet instruction into exactly one operation, returned as a JSON object.

Operation kinds:
- "substitute": {"kind":"substitute","pattern":"<RE2 regular expression>","replacement":"<literal text>","column":"<exact column name or empty for all columns>"}
  The replacement is literal; capture group references are not expanded.
- "filter": {"kind":"filter","expression":"<predicate>"}
  Keeps rows where the predicate is true. Operators: == != < <= > >= and or not, + - * / %, parentheses.
  Strings use single or double quotes.
- "compute": {"kind":"compute","expression":"<Target> := <arithmetic over existing columns>"}

Column names must match the sample exactly, including case and spaces. Wrap any name that is not a
single word in backticks, for example ` + "`Unit Price`" + `.
If the instruction cannot be expressed as one of these operations, return {"kind":"invalid","error":"<short reason>"}.
Return only the JSON object.`

func systemPrompt(kind operation.Kind) string {
	if kind == "" {
		return basePrompt
	}
	return basePrompt + fmt.Sprintf("\nThe operation kind must be %q.", string(kind))
}
