package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/coursechat-go/internal/apperr"
)

// Completer turns a system prompt and a user message into model text.
type Completer interface {
	Complete(ctx context.Context, systemPrompt, userMessage string) (string, error)
}

// ChatCompleter adapts an eino chat model to Completer.
type ChatCompleter struct {
	model model.BaseChatModel
}

// NewCompleter wraps m.
func NewCompleter(m model.BaseChatModel) (*ChatCompleter, error) {
	if m == nil {
		return nil, fmt.Errorf("provider: chat model must not be nil")
	}
	return &ChatCompleter{model: m}, nil
}

// Complete sends one system and one user message and returns the reply.
// Any provider failure, including a blank reply or an elapsed deadline, is a
// ProviderUnavailable error.
func (c *ChatCompleter) Complete(ctx context.Context, systemPrompt, userMessage string) (string, error) {
	const op = "provider.Complete"
	msgs := []*schema.Message{
		schema.SystemMessage(systemPrompt),
		schema.UserMessage(userMessage),
	}
	out, err := c.model.Generate(ctx, msgs)
	if err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() == context.Canceled {
			return "", err
		}
		return "", apperr.ProviderUnavailable(op, err)
	}
	if out == nil || strings.TrimSpace(out.Content) == "" {
		return "", apperr.ProviderUnavailable(op, errors.New("model returned an empty reply"))
	}
	return out.Content, nil
}
