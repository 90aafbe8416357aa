// Package intent turns free-form user text into structured wallet actions
// using an LLM. The model is asked for strict JSON; anything it wraps around
// the JSON (markdown fences, prose) is stripped before decoding.
package intent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/lumengrid/lumengrid/internal/stellar"
)

// Action identifiers the parser can produce.
const (
	ActionSendXLM      = "send_xlm"
	ActionCheckBalance = "check_balance"
	ActionCreateAgent  = "create_agent"
	ActionUnknown      = "unknown"
)

// Intent is the structured form of a user's request.
type Intent struct {
	Action      string  `json:"action"`
	Destination string  `json:"destination,omitempty"`
	AmountXLM   float64 `json:"amount_xlm,omitempty"`
	Strategy    string  `json:"strategy,omitempty"`
	Note        string  `json:"note,omitempty"`
}

const systemPrompt = `You convert user requests about a Stellar wallet into JSON.
Respond with ONLY a JSON object, no prose, with fields:
  action: one of "send_xlm", "check_balance", "create_agent", "unknown"
  destination: Stellar address (G...) when the user names a recipient
  amount_xlm: number, XLM amount when the user names one
  strategy: one of "recurring_payment", "auto_rebalance", "price_alert" for create_agent
  note: one short sentence when the request is ambiguous
Use "unknown" when the request does not map to a wallet action.`

// chatClient is the slice of the OpenAI client the parser needs.
type chatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Parser extracts intents from natural-language text.
type Parser struct {
	client chatClient
	model  string
}

// NewParser builds a Parser backed by the OpenAI API.
func NewParser(apiKey string) *Parser {
	return &Parser{client: openai.NewClient(apiKey), model: openai.GPT4oMini}
}

// newParserWithClient is the test seam.
func newParserWithClient(c chatClient, model string) *Parser {
	return &Parser{client: c, model: model}
}

// Parse asks the model to classify the text and validates what comes back.
func (p *Parser) Parse(ctx context.Context, text string) (*Intent, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("empty input")
	}

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       p.model,
		Temperature: 0,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: text},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("intent completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("intent completion: no choices")
	}

	raw := extractJSON(resp.Choices[0].Message.Content)
	var intent Intent
	if err := json.Unmarshal([]byte(raw), &intent); err != nil {
		return nil, fmt.Errorf("intent response is not valid JSON: %w", err)
	}

	switch intent.Action {
	case ActionSendXLM:
		if !stellar.IsValidAddress(intent.Destination) {
			return nil, fmt.Errorf("intent names an invalid destination %q", intent.Destination)
		}
		if intent.AmountXLM <= 0 {
			return nil, fmt.Errorf("intent names an invalid amount %v", intent.AmountXLM)
		}
	case ActionCheckBalance, ActionCreateAgent, ActionUnknown:
	default:
		return nil, fmt.Errorf("intent names an unknown action %q", intent.Action)
	}
	return &intent, nil
}

// extractJSON trims markdown fences and any prose around the first balanced
// JSON object in s.
func extractJSON(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.Index(s, "{"); i >= 0 {
		if j := strings.LastIndex(s, "}"); j > i {
			return s[i : j+1]
		}
	}
	return s
}
