package agent

import (
	"context"
	"fmt"

	"huginn/internal/browserpool"
	"huginn/internal/intent"
	"huginn/pkg/logx"
)

// executeAction performs the side effect of a task and returns the text shown
// to the user.
func (c *Coordinator) executeAction(ctx context.Context, action string, params map[string]string) (string, error) {
	switch action {
	case string(intent.ActionSearch):
		return c.runSearch(ctx, params["query"])
	case string(intent.ActionAddNote):
		return c.runAddNote(ctx, params["content"])
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownAction, action)
	}
}

func (c *Coordinator) runSearch(ctx context.Context, query string) (string, error) {
	if query == "" {
		return "", fmt.Errorf("search: empty query")
	}

	var results []browserpool.SearchResult
	err := c.deps.Pool.Execute(ctx, func(ctx context.Context, b browserpool.Browser) error {
		var serr error
		results, serr = b.Search(ctx, query)
		return serr
	})
	if err != nil {
		return "", fmt.Errorf("search %q: %w", query, err)
	}

	if c.deps.Knowledge != nil && len(results) > 0 {
		added, kerr := c.deps.Knowledge.AddSearchResults(ctx, query, results)
		if kerr != nil {
			c.log.Warn("result capture failed", logx.String("query", query), logx.Err(kerr))
		} else {
			c.log.Debug("results captured",
				logx.String("query", query),
				logx.Int("added", added),
				logx.Int("total", len(results)))
		}
	}
	return formatResults(query, results), nil
}

func (c *Coordinator) runAddNote(ctx context.Context, content string) (string, error) {
	if content == "" {
		return "", fmt.Errorf("add note: empty content")
	}
	if c.deps.Knowledge == nil {
		return "", fmt.Errorf("add note: knowledge store is disabled")
	}
	added, err := c.deps.Knowledge.AddDocument(ctx, content, map[string]string{"source": "note"})
	if err != nil {
		return "", fmt.Errorf("add note: %w", err)
	}
	if !added {
		return "That note is already saved.", nil
	}
	return "Noted.", nil
}

// actionParams flattens the intent payload into the stored parameter map.
func actionParams(it intent.Intent) map[string]string {
	switch it.Action {
	case intent.ActionAddNote:
		return map[string]string{"content": it.Query}
	default:
		return map[string]string{"query": it.Query}
	}
}

func ackText(a intent.Action) string {
	if a == intent.ActionSearch {
		return "Searching..."
	}
	return "Working on it..."
}
