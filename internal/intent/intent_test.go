package intent

import (
	"context"
	"errors"
	"testing"

	openai "github.com/sashabaranov/go-openai"
)

const testDestination = "GBVFTZL5HIPT4PFQVTZVIWR77V7LWYCXU4CLYWWHHOEXB64XPG5LDMTU"

type scriptedChat struct {
	content string
	err     error
	gotUser string
}

func (s *scriptedChat) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	for _, m := range req.Messages {
		if m.Role == openai.ChatMessageRoleUser {
			s.gotUser = m.Content
		}
	}
	if s.err != nil {
		return openai.ChatCompletionResponse{}, s.err
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: s.content}},
		},
	}, nil
}

func TestParseSendIntent(t *testing.T) {
	chat := &scriptedChat{
		content: `{"action":"send_xlm","destination":"` + testDestination + `","amount_xlm":25}`,
	}
	p := newParserWithClient(chat, "test-model")

	intent, err := p.Parse(context.Background(), "send 25 xlm to my landlord")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if intent.Action != ActionSendXLM || intent.AmountXLM != 25 || intent.Destination != testDestination {
		t.Fatalf("intent = %+v", intent)
	}
	if chat.gotUser != "send 25 xlm to my landlord" {
		t.Fatalf("user message = %q", chat.gotUser)
	}
}

func TestParseStripsMarkdownFences(t *testing.T) {
	chat := &scriptedChat{
		content: "```json\n{\"action\":\"check_balance\"}\n```",
	}
	p := newParserWithClient(chat, "test-model")

	intent, err := p.Parse(context.Background(), "how much do I have?")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if intent.Action != ActionCheckBalance {
		t.Fatalf("action = %q", intent.Action)
	}
}

func TestParseRejectsInvalidDestination(t *testing.T) {
	chat := &scriptedChat{content: `{"action":"send_xlm","destination":"bob","amount_xlm":5}`}
	p := newParserWithClient(chat, "test-model")

	if _, err := p.Parse(context.Background(), "send 5 xlm to bob"); err == nil {
		t.Fatal("expected error for invalid destination")
	}
}

func TestParseRejectsUnknownAction(t *testing.T) {
	chat := &scriptedChat{content: `{"action":"transmute_gold"}`}
	p := newParserWithClient(chat, "test-model")

	if _, err := p.Parse(context.Background(), "turn lead into gold"); err == nil {
		t.Fatal("expected error for unknown action")
	}
}

func TestParsePropagatesAPIError(t *testing.T) {
	chat := &scriptedChat{err: errors.New("rate limited")}
	p := newParserWithClient(chat, "test-model")

	if _, err := p.Parse(context.Background(), "send 1 xlm"); err == nil {
		t.Fatal("expected error")
	}
}

func TestParseRejectsEmptyInput(t *testing.T) {
	p := newParserWithClient(&scriptedChat{}, "test-model")
	if _, err := p.Parse(context.Background(), "   "); err == nil {
		t.Fatal("expected error for empty input")
	}
}
