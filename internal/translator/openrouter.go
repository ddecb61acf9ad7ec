package translator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/valpere/transfold/internal/placeholder"
	"github.com/valpere/transfold/internal/postprocess"
)

// batchDelimiter is the reserved string the model is instructed to place
// between translations in a multi-segment response. It is not expected to
// occur in natural text.
const batchDelimiter = "<<<SEGMENT_BREAK>>>"

// DefaultOpenRouterBaseURL is the production chat-completions endpoint root.
const DefaultOpenRouterBaseURL = "https://openrouter.ai/api/v1"

// OpenRouterPort translates through the OpenRouter chat completions API.
// Single-text submissions send one plain prompt; multi-text submissions join
// the inputs with boundary markers and demand a delimiter-joined response.
type OpenRouterPort struct {
	apiKey       string
	baseURL      string
	model        string
	glossary     map[string]string
	systemPrompt string
	client       *http.Client
}

// OpenRouterOption mutates an OpenRouterPort during construction.
type OpenRouterOption func(*OpenRouterPort)

// WithGlossary injects terminology the model must translate verbatim.
func WithGlossary(terms map[string]string) OpenRouterOption {
	return func(p *OpenRouterPort) { p.glossary = terms }
}

// WithSystemPrompt overrides the default system prompt.
func WithSystemPrompt(prompt string) OpenRouterOption {
	return func(p *OpenRouterPort) { p.systemPrompt = prompt }
}

// WithHTTPClient overrides the HTTP client, used by tests.
func WithHTTPClient(client *http.Client) OpenRouterOption {
	return func(p *OpenRouterPort) { p.client = client }
}

// NewOpenRouterPort creates an OpenRouter-backed Port. baseURL may be empty
// to use the production endpoint.
func NewOpenRouterPort(apiKey, baseURL, model string, opts ...OpenRouterOption) *OpenRouterPort {
	if baseURL == "" {
		baseURL = DefaultOpenRouterBaseURL
	}
	p := &OpenRouterPort{
		apiKey:  apiKey,
		baseURL: baseURL,
		model:   model,
		client:  &http.Client{Timeout: 120 * time.Second},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *OpenRouterPort) Name() string { return "openrouter" }

// Submit implements Port. The returned slice always has len(texts) entries on
// success; a count mismatch in a multi-text response is reported as a
// MismatchError carrying the call's token usage.
func (p *OpenRouterPort) Submit(ctx context.Context, texts []string, sourceLang, targetLang string) ([]string, Usage, error) {
	if len(texts) == 0 {
		return nil, Usage{}, nil
	}
	if p.apiKey == "" {
		return nil, Usage{}, fmt.Errorf("OpenRouter API key required")
	}

	// Inline code spans and HTML tags survive translation as numbered
	// placeholders, restored per piece afterwards.
	protected := make([]string, len(texts))
	markers := make([][]string, len(texts))
	anyMarkers := false
	for i, text := range texts {
		protected[i], markers[i] = placeholder.Protect(text)
		if len(markers[i]) > 0 {
			anyMarkers = true
		}
	}

	batched := len(texts) > 1
	content, usage, err := p.request(ctx, p.userPrompt(protected, sourceLang, targetLang, batched), p.buildSystemPrompt(targetLang, batched, anyMarkers))
	if err != nil {
		return nil, usage, err
	}

	var translations []string
	if batched {
		translations, err = parseBatchResponse(content, len(texts))
		if err != nil {
			if mismatch, ok := err.(*MismatchError); ok {
				mismatch.Usage = usage
			}
			return nil, usage, err
		}
	} else {
		cleaned := postprocess.Clean(content)
		if cleaned == "" {
			return nil, usage, fmt.Errorf("OpenRouter returned an empty translation")
		}
		translations = []string{cleaned}
	}

	for i := range translations {
		if missing := placeholder.Validate(translations[i], markers[i]); len(missing) > 0 {
			return nil, usage, fmt.Errorf("translation dropped %d protected markers", len(missing))
		}
		translations[i] = placeholder.Restore(translations[i], markers[i])
	}
	return translations, usage, nil
}

func (p *OpenRouterPort) request(ctx context.Context, userPrompt, systemPrompt string) (string, Usage, error) {
	payload := map[string]any{
		"model":       p.model,
		"temperature": 0,
		"messages": []map[string]string{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": userPrompt},
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", Usage{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", Usage{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("HTTP-Referer", "https://transfold.local")
	req.Header.Set("X-Title", "Transfold")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", Usage{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", Usage{}, fmt.Errorf("OpenRouter API returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	var decoded struct {
		Choices []struct {
			Message struct {
				Content json.RawMessage `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
		} `json:"usage"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", Usage{}, fmt.Errorf("failed to decode response: %w", err)
	}
	usage := Usage{
		PromptTokens:     decoded.Usage.PromptTokens,
		CompletionTokens: decoded.Usage.CompletionTokens,
	}
	if len(decoded.Choices) == 0 {
		return "", usage, fmt.Errorf("empty response from OpenRouter API")
	}

	content, err := normalizeContent(decoded.Choices[0].Message.Content)
	if err != nil {
		return "", usage, err
	}
	return content, usage, nil
}

// normalizeContent flattens the two message content shapes OpenRouter models
// produce (a string, or a list of typed chunks) into one string. The
// polymorphism stops here; the scheduler only ever sees strings.
func normalizeContent(raw json.RawMessage) (string, error) {
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return asString, nil
	}
	var chunks []struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &chunks); err == nil {
		var sb strings.Builder
		for _, chunk := range chunks {
			sb.WriteString(chunk.Text)
		}
		return sb.String(), nil
	}
	return "", fmt.Errorf("unexpected response content shape from OpenRouter API")
}

// parseBatchResponse splits a delimiter-joined response into individual
// translations. Empty fragments produced by a trailing delimiter are
// discarded; any remaining count difference is a MismatchError.
func parseBatchResponse(message string, expected int) ([]string, error) {
	parts := strings.Split(message, batchDelimiter)
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	for len(parts) > 0 && parts[len(parts)-1] == "" {
		parts = parts[:len(parts)-1]
	}
	if len(parts) != expected {
		return nil, &MismatchError{Expected: expected, Actual: len(parts)}
	}
	return parts, nil
}

func (p *OpenRouterPort) buildSystemPrompt(targetLang string, batched, hasMarkers bool) string {
	if p.systemPrompt != "" {
		return p.systemPrompt
	}

	var sb strings.Builder
	sb.WriteString("You are a professional technical documentation translator.\n")
	fmt.Fprintf(&sb, "Translate all provided text into %s while preserving Markdown structure and formatting.\n", targetLang)
	sb.WriteString("Do not translate fenced code blocks, inline code spans, URLs, or image paths.\n")
	sb.WriteString("Do not add commentary or explanations; respond with the translated text only.")

	if batched {
		fmt.Fprintf(&sb, "\nThe input contains multiple numbered segments separated by the marker %q.\n", batchDelimiter)
		fmt.Fprintf(&sb, "Translate each segment independently and respond with the translations in the same order, joined by the exact marker %q, with nothing else.", batchDelimiter)
	}
	if hasMarkers {
		sb.WriteString("\n")
		sb.WriteString(placeholder.InstructionHint())
	}
	if len(p.glossary) > 0 {
		sb.WriteString("\nGlossary (use these translations verbatim):\n")
		for src, dst := range p.glossary {
			fmt.Fprintf(&sb, "- %s -> %s\n", src, dst)
		}
	}
	return sb.String()
}

func (p *OpenRouterPort) userPrompt(texts []string, sourceLang, targetLang string, batched bool) string {
	var sb strings.Builder
	if sourceLang != "" && sourceLang != "auto" {
		fmt.Fprintf(&sb, "The source language is %s.\n", sourceLang)
	} else {
		sb.WriteString("Detect the source language automatically.\n")
	}
	fmt.Fprintf(&sb, "The target language is %s.\n", targetLang)
	sb.WriteString("Translate the following content. Return only the translated text without wrapping quotes.\n")
	sb.WriteString("---\n")
	if batched {
		sb.WriteString(strings.Join(texts, "\n"+batchDelimiter+"\n"))
	} else {
		sb.WriteString(texts[0])
	}
	sb.WriteString("\n---")
	return sb.String()
}
