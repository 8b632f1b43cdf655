package browserpool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	logx "huginn/pkg/logx"
)

const (
	defaultSearxTimeout = 20 * time.Second
	maxSearxResults     = 10
)

// Searx queries a SearxNG instance's JSON API. It implements Browser; each
// pool slot gets its own instance so per-worker state (http keep-alives)
// stays isolated.
type Searx struct {
	base string
	hc   *http.Client
	log  logx.Logger
}

func NewSearx(baseURL string, timeout time.Duration, log logx.Logger) (*Searx, error) {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		return nil, errors.New("browserpool: searx url is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("browserpool: searx url: %w", err)
	}
	if timeout <= 0 {
		timeout = defaultSearxTimeout
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Searx{
		base: base,
		hc:   &http.Client{Timeout: timeout},
		log:  log,
	}, nil
}

type searxResponse struct {
	Results []struct {
		Title   string `json:"title"`
		URL     string `json:"url"`
		Content string `json:"content"`
	} `json:"results"`
}

func (s *Searx) Search(ctx context.Context, query string) ([]SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.New("browserpool: empty query")
	}

	q := url.Values{}
	q.Set("q", query)
	q.Set("format", "json")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.base+"/search?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := s.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("browserpool: search request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// drain so the connection can be reused
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("browserpool: search returned %s", resp.Status)
	}

	var sr searxResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("browserpool: decode search response: %w", err)
	}

	out := make([]SearchResult, 0, len(sr.Results))
	for _, r := range sr.Results {
		if r.Title == "" && r.URL == "" {
			continue
		}
		out = append(out, SearchResult{Title: r.Title, URL: r.URL, Snippet: r.Content})
		if len(out) >= maxSearxResults {
			break
		}
	}
	s.log.Debug("search completed",
		logx.String("query", query),
		logx.Int("results", len(out)),
		logx.Duration("took", time.Since(start)),
	)
	return out, nil
}
