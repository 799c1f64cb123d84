package llmadapter

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
)

// MockLLM is a deterministic offline llms.Model. It answers with the last non-empty
// line of the prompt so runs without network access still exercise the full pipeline.
type MockLLM struct {
	model string
}

func NewMockLLM(model string) *MockLLM {
	return &MockLLM{model: model}
}

func (m *MockLLM) GenerateContent(
	ctx context.Context,
	messages []llms.MessageContent,
	_ ...llms.CallOption,
) (*llms.ContentResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{Content: m.reply(promptText(messages))}},
	}, nil
}

// Call implements the legacy single-prompt interface.
func (m *MockLLM) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

func (m *MockLLM) reply(prompt string) string {
	lines := strings.Split(strings.TrimSpace(prompt), "\n")
	last := ""
	for i := len(lines) - 1; i >= 0; i-- {
		if s := strings.TrimSpace(lines[i]); s != "" {
			last = s
			break
		}
	}
	return fmt.Sprintf("[%s] %s", m.model, last)
}

func promptText(messages []llms.MessageContent) string {
	var b strings.Builder
	for _, message := range messages {
		for _, part := range message.Parts {
			if textPart, ok := part.(llms.TextContent); ok {
				if b.Len() > 0 {
					b.WriteString("\n")
				}
				b.WriteString(textPart.Text)
			}
		}
	}
	return b.String()
}
