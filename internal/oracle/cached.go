package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dshills/lens/internal/cache"
)

// Cached memoizes every call of an Oracle in a cache.Cache.
type Cached struct {
	next  Oracle
	cache *cache.Cache
	scope string
}

// WithCache wraps o so that calls with byte-identical inputs reach o at most
// once. scope separates entries of different models sharing a store.
func WithCache(o Oracle, c *cache.Cache, scope string) *Cached {
	return &Cached{next: o, cache: c, scope: scope}
}

func (c *Cached) key(kind string, parts ...string) string {
	return cache.Key(kind, append([]string{c.scope}, parts...)...)
}

func (c *Cached) InferTypes(ctx context.Context, body, related, fullText string) (TypeInfo, error) {
	v, err := c.cache.GetOrCompute(c.key("infer", body, related, fullText), func() (string, error) {
		info, err := c.next.InferTypes(ctx, body, related, fullText)
		if err != nil {
			return "", err
		}
		data, err := json.Marshal(info)
		if err != nil {
			return "", fmt.Errorf("encoding types: %w", err)
		}
		return string(data), nil
	})
	if err != nil {
		return nil, err
	}
	var info TypeInfo
	if err := json.Unmarshal([]byte(v), &info); err != nil {
		return nil, fmt.Errorf("decoding cached types: %w", err)
	}
	return info, nil
}

func (c *Cached) SelectValidators(ctx context.Context, body, related string, available []string) ([]string, error) {
	v, err := c.cache.GetOrCompute(c.key("select", body, related, strings.Join(available, ",")), func() (string, error) {
		names, err := c.next.SelectValidators(ctx, body, related, available)
		if err != nil {
			return "", err
		}
		data, err := json.Marshal(names)
		if err != nil {
			return "", err
		}
		return string(data), nil
	})
	if err != nil {
		return nil, err
	}
	var names []string
	if err := json.Unmarshal([]byte(v), &names); err != nil {
		return nil, fmt.Errorf("decoding cached selection: %w", err)
	}
	return names, nil
}

func (c *Cached) RunCheck(ctx context.Context, in CheckInput) (string, error) {
	key := c.key("check", in.Validator, in.Instructions, in.Path, in.Body, in.Changed, in.Context, in.FullText)
	return c.cache.GetOrCompute(key, func() (string, error) {
		return c.next.RunCheck(ctx, in)
	})
}

func (c *Cached) DraftReview(ctx context.Context, in DraftInput) (string, error) {
	parts := []string{
		in.Unit.ID(), in.Unit.Body, in.Unit.ChangedText(),
		in.Context, in.Findings, in.OddParams, in.Types, fmt.Sprint(in.Final),
	}
	for _, t := range in.History {
		parts = append(parts, t.Role, t.Text)
	}
	return c.cache.GetOrCompute(c.key("draft", parts...), func() (string, error) {
		return c.next.DraftReview(ctx, in)
	})
}

func (c *Cached) Summarize(ctx context.Context, label, text string) (string, error) {
	return c.cache.GetOrCompute(c.key("summarize", label, text), func() (string, error) {
		return c.next.Summarize(ctx, label, text)
	})
}
