package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/dshills/lens/internal/logging"
	"github.com/dshills/lens/internal/providers"
	"github.com/dshills/lens/internal/redact"
	"github.com/dshills/lens/internal/source"
)

// Options configures an LLM oracle.
type Options struct {
	Redactor *redact.Redactor
	// DraftTemperature applies to review drafts; analysis calls use 0.
	DraftTemperature float64
	DraftMaxTokens   int
	Log              *zap.Logger
}

// LLM is an Oracle backed by a language model.
type LLM struct {
	c    providers.Completer
	opts Options
	log  *zap.Logger
}

// NewLLM returns an Oracle that sends every call to c.
func NewLLM(c providers.Completer, opts Options) *LLM {
	log := logging.OrNop(opts.Log)
	if opts.DraftMaxTokens <= 0 {
		opts.DraftMaxTokens = 2000
	}
	return &LLM{c: c, opts: opts, log: log}
}

func (o *LLM) complete(ctx context.Context, call string, req providers.Request) (string, error) {
	redacted := 0
	for i := range req.Messages {
		var n int
		req.Messages[i].Content, n = o.opts.Redactor.Text(req.Messages[i].Content)
		redacted += n
	}
	if redacted > 0 {
		o.log.Debug("redacted secrets from payload", zap.String("call", call), zap.Int("count", redacted))
	}
	resp, err := o.c.Complete(ctx, req)
	if err != nil {
		return "", fmt.Errorf("%s: %w", call, err)
	}
	o.log.Debug("oracle call", zap.String("call", call), zap.String("provider", o.c.Name()), zap.Int("tokens", resp.TokensUsed))
	return strings.TrimSpace(resp.Content), nil
}

func single(system, prompt string, maxTokens int, temperature float64) providers.Request {
	return providers.Request{
		System:      system,
		Messages:    []providers.Message{{Role: providers.RoleUser, Content: prompt}},
		MaxTokens:   maxTokens,
		Temperature: temperature,
	}
}

// InferTypes asks for the types of the variable expressions in body.
func (o *LLM) InferTypes(ctx context.Context, body, related, fullText string) (TypeInfo, error) {
	exprs := source.Expressions(body)
	if len(exprs) == 0 {
		return TypeInfo{}, nil
	}
	text, err := o.complete(ctx, "infer types", single(analysisSystem, typesPrompt(exprs, body, related, fullText), 800, 0))
	if err != nil {
		return nil, err
	}
	return parseTypes(text)
}

// parseTypes accepts {"expr": "tag"} or {"expr": ["tag", ...]}, optionally
// wrapped in a markdown fence.
func parseTypes(text string) (TypeInfo, error) {
	text = stripFences(text)
	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, fmt.Errorf("parsing inferred types: %w", err)
	}
	info := TypeInfo{}
	for expr, v := range raw {
		var one string
		if err := json.Unmarshal(v, &one); err == nil {
			info.Add(expr, normalizeTag(one))
			continue
		}
		var many []string
		if err := json.Unmarshal(v, &many); err == nil {
			for _, tag := range many {
				info.Add(expr, normalizeTag(tag))
			}
		}
	}
	return info, nil
}

func normalizeTag(tag string) string {
	tag = strings.TrimSpace(tag)
	if strings.HasPrefix(strings.ToLower(tag), "class:") {
		return "class:" + strings.TrimSpace(tag[len("class:"):])
	}
	tag = strings.ToLower(tag)
	if tag == "" {
		return source.TypeUnknown
	}
	return tag
}

// SelectValidators asks which of available apply to body. Names the model
// invents are dropped.
func (o *LLM) SelectValidators(ctx context.Context, body, related string, available []string) ([]string, error) {
	text, err := o.complete(ctx, "select validators", single(analysisSystem, selectPrompt(body, related, available), 100, 0))
	if err != nil {
		return nil, err
	}
	return ParseSelection(text, available), nil
}

// RunCheck runs one validator's instructions against the unit.
// The full file is subject to the redactor's path policy.
func (o *LLM) RunCheck(ctx context.Context, in CheckInput) (string, error) {
	in.FullText = o.opts.Redactor.File(in.Path, in.FullText)
	return o.complete(ctx, "check "+in.Validator, single(reviewerSystem, checkPrompt(in), 800, 0))
}

// DraftReview drafts the review, replaying the conversation so far.
func (o *LLM) DraftReview(ctx context.Context, in DraftInput) (string, error) {
	system := reviewerSystem + "\n\n" + clarifyRule
	if in.Final {
		system = reviewerSystem + "\n\n" + finalRule
	}
	req := providers.Request{
		System:      system,
		Messages:    draftMessages(in),
		MaxTokens:   o.opts.DraftMaxTokens,
		Temperature: o.opts.DraftTemperature,
	}
	return o.complete(ctx, "draft review", req)
}

// draftMessages builds an alternating user/assistant conversation that opens
// with the draft prompt and ends with a user turn.
func draftMessages(in DraftInput) []providers.Message {
	msgs := []providers.Message{{Role: providers.RoleUser, Content: draftPrompt(in)}}
	for _, t := range in.History {
		role := providers.RoleUser
		content := t.Text
		if t.Role == RoleAssistant {
			role = providers.RoleAssistant
		} else {
			content = "Author's answer: " + t.Text + "\n\nRevise your review with this answer."
		}
		if last := &msgs[len(msgs)-1]; last.Role == role {
			last.Content += "\n\n" + content
			continue
		}
		msgs = append(msgs, providers.Message{Role: role, Content: content})
	}
	if msgs[len(msgs)-1].Role == providers.RoleAssistant {
		msgs = append(msgs, providers.Message{Role: providers.RoleUser, Content: "Continue the review."})
	}
	if in.Final && len(in.History) > 0 {
		msgs[len(msgs)-1].Content += "\n\n" + finalRule
	}
	return msgs
}

// Summarize compresses a large context fragment.
func (o *LLM) Summarize(ctx context.Context, label, text string) (string, error) {
	return o.complete(ctx, "summarize", single(analysisSystem, summarizePrompt(label, text), 600, 0))
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx >= 0 {
			s = s[idx+1:]
		}
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}
	return s
}
