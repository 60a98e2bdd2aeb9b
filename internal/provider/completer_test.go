package provider

import (
	"context"
	"errors"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/coursechat-go/internal/apperr"
)

// fakeChatModel records the messages it receives.
type fakeChatModel struct {
	reply string
	err   error
	got   []*schema.Message
}

func (f *fakeChatModel) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	f.got = input
	if f.err != nil {
		return nil, f.err
	}
	return schema.AssistantMessage(f.reply, nil), nil
}

func (f *fakeChatModel) Stream(_ context.Context, _ []*schema.Message, _ ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("not implemented")
}

func TestChatCompleter_Complete(t *testing.T) {
	t.Parallel()
	m := &fakeChatModel{reply: "The midterm is in week 7."}
	c, err := NewCompleter(m)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	got, err := c.Complete(context.Background(), "answer from context", "when is the midterm?")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if got != "The midterm is in week 7." {
		t.Errorf("reply = %q", got)
	}
	if len(m.got) != 2 || m.got[0].Role != schema.System || m.got[1].Role != schema.User {
		t.Fatalf("unexpected messages: %+v", m.got)
	}
	if m.got[1].Content != "when is the midterm?" {
		t.Errorf("user message = %q", m.got[1].Content)
	}
}

func TestChatCompleter_FailuresAreProviderUnavailable(t *testing.T) {
	t.Parallel()
	for name, m := range map[string]*fakeChatModel{
		"error":       {err: errors.New("503 service unavailable")},
		"blank reply": {reply: "  \n"},
		"deadline":    {err: context.DeadlineExceeded},
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			c, _ := NewCompleter(m)
			_, err := c.Complete(context.Background(), "sys", "q")
			if !errors.Is(err, apperr.ErrProviderUnavailable) {
				t.Errorf("want ProviderUnavailable, got %v", err)
			}
		})
	}
}

func TestValidate_IsConfigurationError(t *testing.T) {
	t.Parallel()
	cfg := Config{Backend: BackendOpenAI}
	if err := cfg.Validate(); !errors.Is(err, apperr.ErrConfiguration) {
		t.Errorf("want ConfigurationError, got %v", err)
	}
}
