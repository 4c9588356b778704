package investigate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/BlearKK/deepdriver/pkg/events"
)

const (
	openRouterURL      = "https://openrouter.ai/api/v1/chat/completions"
	DefaultModel       = "perplexity/sonar-reasoning-pro"
	defaultReferer     = "https://osintdigger.com"
	defaultTitle       = "OSINT Digger"
	defaultTemperature = 0.1
)

const systemPrompt = `You are an expert in analyzing relationships between institutions. Your task is to analyze the relationship between target institution A and risk institution B.

Please return JSON results in the following format:
[
  {
    "relationship_type": "Direct/Indirect/Significant Mention/No Evidence Found",
    "summary": "Detailed relationship analysis and evidence summary",
    "intermediaries": ["Potential intermediary institution, if any"],
    "sources": ["Source URL, if any"]
  }
]

Relationship type description:
- Direct: Direct relationship, such as partners, subsidiaries, funding, etc.
- Indirect: Indirect relationship, such as connections established through third parties
- Significant Mention: Important mention, but the relationship is unclear
- No Evidence Found: No obvious evidence of relationship found

Please ensure that the returned result is valid JSON format.`

// OpenRouterInvestigator performs the lookup through the OpenRouter chat
// completions API using a web-search-capable model.
type OpenRouterInvestigator struct {
	APIKey string
	Model  string
	Client *http.Client
}

var _ Investigator = &OpenRouterInvestigator{}

func NewOpenRouterInvestigator(apiKey, model string) *OpenRouterInvestigator {
	if model == "" {
		model = DefaultModel
	}
	return &OpenRouterInvestigator{
		APIKey: apiKey,
		Model:  model,
		Client: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Stream      bool          `json:"stream"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// lookupFinding is the shape the model is prompted to return per item.
type lookupFinding struct {
	RelationshipType string   `json:"relationship_type"`
	Summary          string   `json:"summary"`
	FindingSummary   string   `json:"finding_summary"` // older prompt revisions
	Intermediaries   []string `json:"intermediaries"`
	Sources          []string `json:"sources"`
}

func (o *OpenRouterInvestigator) Investigate(ctx context.Context, target, item string) (events.WorkResult, error) {
	userPrompt := fmt.Sprintf(
		"Please analyze the relationship between %s and %s.\nReturn the result in the required JSON format.",
		sanitize(target), sanitize(item),
	)

	payload := chatRequest{
		Model: o.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Stream:      false,
		Temperature: defaultTemperature,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return events.WorkResult{}, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, openRouterURL, bytes.NewBuffer(body))
	if err != nil {
		return events.WorkResult{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+o.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("HTTP-Referer", defaultReferer)
	req.Header.Set("X-Title", defaultTitle)

	resp, err := o.Client.Do(req)
	if err != nil {
		return events.WorkResult{}, fmt.Errorf("call openrouter: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return events.WorkResult{}, fmt.Errorf("openrouter status %d: %s", resp.StatusCode, string(b))
	}

	var chat chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chat); err != nil {
		return events.WorkResult{}, fmt.Errorf("decode response: %w", err)
	}
	if len(chat.Choices) == 0 {
		return events.WorkResult{}, fmt.Errorf("openrouter returned no choices")
	}

	return ParseFinding(chat.Choices[0].Message.Content, target, item), nil
}

// ParseFinding extracts the structured finding from the model's reply. The
// model often wraps the JSON array in reasoning prose, so the first balanced
// [ ... ] slice is tried before the raw content. Parse failure degrades to an
// Unknown result instead of an error: one unparseable reply must never fail
// the batch.
func ParseFinding(content, target, item string) events.WorkResult {
	res := events.WorkResult{
		ItemID:           item,
		Target:           target,
		RelationshipType: events.RelationshipUnknown,
	}

	raw := content
	if start := strings.Index(content, "["); start >= 0 {
		if end := strings.LastIndex(content, "]"); end > start {
			raw = content[start : end+1]
		}
	}

	var findings []lookupFinding
	if err := json.Unmarshal([]byte(raw), &findings); err != nil || len(findings) == 0 {
		var single lookupFinding
		if err := json.Unmarshal([]byte(raw), &single); err != nil {
			res.Summary = "Failed to parse lookup response"
			return res
		}
		findings = []lookupFinding{single}
	}

	f := findings[0]
	if t := events.RelationshipType(f.RelationshipType); t.Valid() {
		res.RelationshipType = t
	}
	res.Summary = f.Summary
	if res.Summary == "" {
		res.Summary = f.FindingSummary
	}
	res.Intermediaries = f.Intermediaries
	res.Sources = f.Sources
	return res
}

// sanitize strips characters that would break the prompt or the JSON the
// model echoes back.
func sanitize(s string) string {
	s = strings.ReplaceAll(s, `\`, "")
	s = strings.ReplaceAll(s, `"`, "")
	return strings.TrimSpace(s)
}
