// Package chat answers student questions from course materials. The
// orchestrator checks read access, retrieves the most relevant chunks of the
// course, asks the language model to answer from that context only, and
// records the exchange.
package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/coursechat-go/internal/apperr"
	"github.com/54b3r/coursechat-go/internal/authz"
	"github.com/54b3r/coursechat-go/internal/budget"
	"github.com/54b3r/coursechat-go/internal/logging"
	"github.com/54b3r/coursechat-go/internal/rag"
	"github.com/54b3r/coursechat-go/internal/store"
)

const (
	// DefaultTopK is the number of chunks retrieved per question.
	DefaultTopK = 3
	// excerptRunes is the length of a source excerpt before truncation.
	excerptRunes = 150
	// defaultRecentLimit and maxRecentLimit bound RecentQueries.
	defaultRecentLimit = 10
	maxRecentLimit     = 50
)

// NoContextAnswer is returned when the course has no relevant material.
const NoContextAnswer = "I don't have information about that in the course materials. " +
	"Try rephrasing your question, or ask your professor."

// instructions constrains the model to the supplied context.
const instructions = `You are a course assistant helping a student with questions about their course.
Answer using ONLY the context from the course materials below.
If the context does not contain the answer, say that the course materials do not cover it.
Do not make up information and do not use outside knowledge.
Answer in a helpful, educational tone using Markdown, and name the materials you relied on.`

// Retriever returns ranked course chunks for a query.
type Retriever interface {
	Retrieve(ctx context.Context, query, courseID string, k int) ([]rag.Result, error)
}

// Completer produces model text from a system prompt and a user message.
type Completer interface {
	Complete(ctx context.Context, systemPrompt, userMessage string) (string, error)
}

// ReadGate is the authorization check run before retrieval.
type ReadGate interface {
	Require(ctx context.Context, actorID, courseID string, cap authz.Capability) error
}

// QueryLog persists answered questions.
type QueryLog interface {
	AppendQuery(ctx context.Context, r *store.QueryRecord) error
	RecentQueries(ctx context.Context, studentID string, n int) ([]store.QueryRecord, error)
}

// Source is one piece of material an answer was grounded on.
type Source struct {
	Title   string `json:"title"`
	Kind    string `json:"type"`
	Excerpt string `json:"excerpt"`
}

// Answer is the reply to a student question.
type Answer struct {
	Answer  string   `json:"response"`
	Sources []Source `json:"sources"`
}

// Config tunes an Orchestrator.
type Config struct {
	// TopK is the number of chunks retrieved. Default DefaultTopK.
	TopK int
	// MaxContextTokens bounds the prompt. Default budget.DefaultMaxContextTokens.
	MaxContextTokens int
	// OnAnswer, when set, is called after every Answer call with whether
	// context was found and the error. It must not block.
	OnAnswer func(retrieved int, err error)
}

// Orchestrator answers questions scoped to one course.
type Orchestrator struct {
	gate      ReadGate
	retriever Retriever
	completer Completer
	log       QueryLog
	cfg       Config
}

// New constructs an Orchestrator.
func New(gate ReadGate, retriever Retriever, completer Completer, log QueryLog, cfg Config) (*Orchestrator, error) {
	switch {
	case gate == nil:
		return nil, fmt.Errorf("chat: gate must not be nil")
	case retriever == nil:
		return nil, fmt.Errorf("chat: retriever must not be nil")
	case completer == nil:
		return nil, fmt.Errorf("chat: completer must not be nil")
	case log == nil:
		return nil, fmt.Errorf("chat: query log must not be nil")
	}
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}
	if cfg.MaxContextTokens <= 0 {
		cfg.MaxContextTokens = budget.DefaultMaxContextTokens
	}
	return &Orchestrator{gate: gate, retriever: retriever, completer: completer, log: log, cfg: cfg}, nil
}

// Answer answers question for studentID from courseID's materials.
//
// The read check runs first; a denial returns before any retrieval. With no
// relevant chunks the model is not called and NoContextAnswer is returned.
// A model failure is a ProviderUnavailable error and nothing is recorded.
// Failing to record the exchange is logged and does not fail the answer.
func (o *Orchestrator) Answer(ctx context.Context, studentID, courseID, question string) (ans *Answer, err error) {
	const op = "chat.Answer"
	retrieved := 0
	if o.cfg.OnAnswer != nil {
		defer func() { o.cfg.OnAnswer(retrieved, err) }()
	}

	if err := o.gate.Require(ctx, studentID, courseID, authz.Read); err != nil {
		return nil, err
	}
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, apperr.Validation(op, "message is required")
	}

	results, err := o.retriever.Retrieve(ctx, question, courseID, o.cfg.TopK)
	if err != nil {
		return nil, err
	}
	retrieved = len(results)

	if len(results) == 0 {
		ans = &Answer{Answer: NoContextAnswer, Sources: []Source{}}
		o.record(ctx, studentID, courseID, question, ans.Answer)
		return ans, nil
	}

	used := o.fit(ctx, question, results)
	system := instructions + "\n\nContext from course materials:\n\n" + contextBlock(used)

	reply, err := o.completer.Complete(ctx, system, question)
	if err != nil {
		if apperr.KindOf(err) != apperr.KindProviderUnavailable {
			err = apperr.ProviderUnavailable(op, err)
		}
		return nil, err
	}

	ans = &Answer{Answer: reply, Sources: Sources(used)}
	o.record(ctx, studentID, courseID, question, reply)
	return ans, nil
}

// RecentQueries returns the caller's most recent exchanges, newest first.
// limit is clamped to [1, 50] with 10 used for non-positive values.
func (o *Orchestrator) RecentQueries(ctx context.Context, studentID string, limit int) ([]store.QueryRecord, error) {
	if studentID == "" {
		return nil, apperr.Unauthorized("chat.RecentQueries", "no identity presented")
	}
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	if limit > maxRecentLimit {
		limit = maxRecentLimit
	}
	return o.log.RecentQueries(ctx, studentID, limit)
}

// fit drops the lowest-ranked results until the prompt fits the budget.
// The top result is always kept.
func (o *Orchestrator) fit(ctx context.Context, question string, results []rag.Result) []rag.Result {
	fixed := []*schema.Message{schema.SystemMessage(instructions), schema.UserMessage(question)}
	items := make([]string, len(results))
	for i, r := range results {
		items[i] = contextEntry(r)
	}
	n := budget.FitRanked(fixed, items, o.cfg.MaxContextTokens)
	if n < 1 {
		n = 1
	}
	if dropped := len(results) - n; dropped > 0 {
		logging.FromContext(ctx).Warn("budget: dropped retrieved chunks to fit context window",
			slog.Int("dropped", dropped),
			slog.Int("retained", n),
			slog.Int("max_tokens", o.cfg.MaxContextTokens),
		)
	}
	return results[:n]
}

func (o *Orchestrator) record(ctx context.Context, studentID, courseID, question, answer string) {
	rec := &store.QueryRecord{StudentID: studentID, CourseID: courseID, Question: question, Answer: answer}
	if err := o.log.AppendQuery(ctx, rec); err != nil {
		logging.FromContext(ctx).Warn("query log: failed to record answer",
			slog.String("course_id", courseID), slog.Any("error", err))
	}
}

// contextBlock joins results in rank order.
func contextBlock(results []rag.Result) string {
	entries := make([]string, len(results))
	for i, r := range results {
		entries[i] = contextEntry(r)
	}
	return strings.Join(entries, "\n\n")
}

func contextEntry(r rag.Result) string {
	return fmt.Sprintf("Content: %s\nSource: %s, Type: %s", r.Content, titleOf(r), kindOf(r))
}

// Sources derives the source list from the chunks given to the model, in
// rank order, independent of what the reply cites.
func Sources(results []rag.Result) []Source {
	out := make([]Source, len(results))
	for i, r := range results {
		out[i] = Source{Title: titleOf(r), Kind: kindOf(r), Excerpt: Excerpt(r.Content)}
	}
	return out
}

// Excerpt returns the first 150 runes of s, with "..." appended when s was
// truncated.
func Excerpt(s string) string {
	if utf8.RuneCountInString(s) <= excerptRunes {
		return s
	}
	n := 0
	for i := range s {
		if n == excerptRunes {
			return s[:i] + "..."
		}
		n++
	}
	return s
}

func titleOf(r rag.Result) string {
	if r.Title == "" {
		return "Course Material"
	}
	return r.Title
}

func kindOf(r rag.Result) string {
	if r.Kind == "" {
		return string(store.KindOther)
	}
	return r.Kind
}
