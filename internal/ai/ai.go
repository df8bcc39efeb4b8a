/*
Package ai asks Gemini for a short digest of a run's gazette matches.
*/
package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/shanehull/douclip/internal/types"
)

const DefaultModel = "gemini-2.5-flash"

// ErrNoAPIKey is returned when no Gemini API key is configured.
var ErrNoAPIKey = errors.New("gemini API key is required")

type Highlight struct {
	Filter  string `json:"filter"`
	Details string `json:"details"`
}

type Digest struct {
	Summary    []string    `json:"summary"`
	Highlights []Highlight `json:"highlights"`
}

// generateFunc sends the prompts and returns the raw JSON text of the reply.
type generateFunc func(ctx context.Context, system, prompt string) (string, error)

type Summarizer struct {
	apiKey   string
	model    string
	generate generateFunc
}

func NewSummarizer(apiKey, model string) *Summarizer {
	if model == "" {
		model = DefaultModel
	}
	s := &Summarizer{apiKey: apiKey, model: model}
	s.generate = s.callGemini
	return s
}

// Summarize returns a digest of matches. An empty match list yields an empty
// digest without calling the API.
func (s *Summarizer) Summarize(ctx context.Context, matches []types.Match) (*Digest, error) {
	if s.apiKey == "" {
		return nil, ErrNoAPIKey
	}
	if len(matches) == 0 {
		return &Digest{}, nil
	}

	raw, err := s.generate(ctx, systemInstruction, buildUserPrompt(matches))
	if err != nil {
		return nil, err
	}
	return parseDigest(raw)
}

func (s *Summarizer) callGemini(ctx context.Context, system, prompt string) (string, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  s.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return "", fmt.Errorf("failed to create gemini client: %w", err)
	}

	contents := []*genai.Content{
		{
			Parts: []*genai.Part{{Text: prompt}},
			Role:  "user",
		},
	}

	resp, err := client.Models.GenerateContent(ctx, s.model, contents, &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: system}}},
		ResponseMIMEType:  "application/json",
		ResponseSchema:    getResponseSchema(),
	})
	if err != nil {
		return "", fmt.Errorf("gemini API call failed: %w", err)
	}
	return resp.Text(), nil
}

func parseDigest(raw string) (*Digest, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")

	var d Digest
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &d); err != nil {
		return nil, fmt.Errorf("failed to unmarshal gemini JSON response: %w. Raw text: %s", err, raw)
	}
	return &d, nil
}

func getResponseSchema() *genai.Schema {
	highlightSchema := &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"filter":  {Type: genai.TypeString, Description: "Name of the filter the act matched."},
			"details": {Type: genai.TypeString, Description: "What the act decides, for whom, and any date or amount."},
		},
		Required: []string{"filter", "details"},
	}

	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"summary": {
				Type:        genai.TypeArray,
				Items:       &genai.Schema{Type: genai.TypeString},
				Description: "Three to five bullet points summarizing the day's relevant acts.",
			},
			"highlights": {
				Type:        genai.TypeArray,
				Items:       highlightSchema,
				Description: "One entry per act that needs attention.",
			},
		},
		Required: []string{"summary", "highlights"},
	}
}
