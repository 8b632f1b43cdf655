package intent

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	logx "huginn/pkg/logx"
)

const systemPrompt = `You are an intent parser for a personal automation agent. Extract structured information from user commands.

Available actions:
- search: Search for information on the web
- add_note: Add a note to the knowledge base
- list_tasks: List scheduled tasks
- cancel_task: Cancel a scheduled task
- unknown: Cannot understand the intent

Extract these fields:
- action: The main action (search, add_note, list_tasks, cancel_task, unknown)
- query: The search query or note content
- schedule: When to execute (immediate, specific time in ISO format, or null)
- recurrence: If recurring (daily, weekly, monthly, or null)
- task_name: For cancel_task action, the name of the task to cancel

Respond ONLY with valid JSON in this exact format:
{
  "action": "search",
  "query": "articles about Thales",
  "schedule": "2026-02-08T14:00:00",
  "recurrence": null,
  "task_name": null
}

If schedule is relative (e.g., "tomorrow at 2pm"), convert to ISO format.
If no schedule is specified, use "immediate".
If the query contains quotes, preserve them.
Be precise with dates and times.`

// Config controls the OpenAI-backed parser.
type Config struct {
	APIKey  string
	BaseURL string // OpenAI-compatible endpoint, empty for api.openai.com
	Model   string
	Timeout time.Duration
}

// OpenAIParser asks a chat model to extract the intent. It degrades rather
// than fails: model refusals and malformed output come back as
// Action=unknown with the error text in Raw.
type OpenAIParser struct {
	client  *openai.Client
	model   string
	timeout time.Duration
	log     logx.Logger

	now func() time.Time
}

func NewOpenAIParser(cfg Config, log logx.Logger) (*OpenAIParser, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("intent: api key is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	cc := openai.DefaultConfig(cfg.APIKey)
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		cc.BaseURL = base
	}
	model := cfg.Model
	if model == "" {
		model = openai.GPT4oMini
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &OpenAIParser{
		client:  openai.NewClientWithConfig(cc),
		model:   model,
		timeout: timeout,
		log:     log,
		now:     time.Now,
	}, nil
}

// wireIntent matches the JSON shape the prompt demands.
type wireIntent struct {
	Action     string `json:"action"`
	Query      string `json:"query"`
	Schedule   string `json:"schedule"`
	Recurrence string `json:"recurrence"`
	TaskName   string `json:"task_name"`
}

func (p *OpenAIParser) Parse(ctx context.Context, message string) (Intent, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       p.model,
		Temperature: 0.3,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: "Parse this command: " + message},
		},
	})
	if err != nil {
		return Intent{}, err
	}
	if len(resp.Choices) == 0 {
		return Intent{Action: ActionUnknown, Raw: "empty model response"}, nil
	}

	content := resp.Choices[0].Message.Content
	raw, ok := extractJSON(content)
	if !ok {
		p.log.Warn("intent response had no JSON", logx.Int("len", len(content)))
		return Intent{Action: ActionUnknown, Raw: "no JSON found in response"}, nil
	}

	var w wireIntent
	if err := json.Unmarshal([]byte(raw), &w); err != nil {
		p.log.Warn("intent JSON undecodable", logx.Err(err))
		return Intent{Action: ActionUnknown, Raw: "failed to parse JSON"}, nil
	}
	return p.fromWire(w), nil
}

func (p *OpenAIParser) fromWire(w wireIntent) Intent {
	in := Intent{
		Action:     Action(strings.ToLower(strings.TrimSpace(w.Action))),
		Query:      strings.TrimSpace(w.Query),
		TaskName:   strings.TrimSpace(w.TaskName),
		Schedule:   NormalizeSchedule(w.Schedule, p.now()),
		Recurrence: cleanNull(w.Recurrence),
	}
	if !in.Action.Known() {
		in.Action = ActionUnknown
	}
	return in
}

func cleanNull(s string) string {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, "null") {
		return ""
	}
	return s
}

// extractJSON pulls the outermost JSON object out of a chat reply that may
// be wrapped in prose or code fences.
func extractJSON(s string) (string, bool) {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return s[start : end+1], true
}
