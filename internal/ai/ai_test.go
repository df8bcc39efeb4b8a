package ai

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shanehull/douclip/internal/types"
)

func TestSummarize_NoKey(t *testing.T) {
	_, err := NewSummarizer("", "").Summarize(context.Background(), []types.Match{{FilterName: "x"}})
	assert.True(t, errors.Is(err, ErrNoAPIKey))
}

func TestSummarize_NoMatchesSkipsAPI(t *testing.T) {
	s := NewSummarizer("key", "")
	s.generate = func(context.Context, string, string) (string, error) {
		t.Fatal("generate must not be called")
		return "", nil
	}
	d, err := s.Summarize(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, d.Summary)
}

func TestSummarize_ParsesReply(t *testing.T) {
	s := NewSummarizer("key", "gemini-test")
	var gotPrompt string
	s.generate = func(_ context.Context, system, prompt string) (string, error) {
		assert.Contains(t, system, "Diário Oficial")
		gotPrompt = prompt
		return "```json\n{\"summary\":[\"ANTT autoriza trecho\"],\"highlights\":[{\"filter\":\"sufer\",\"details\":\"Portaria 12\"}]}\n```", nil
	}

	d, err := s.Summarize(context.Background(), []types.Match{{
		FilterName: "sufer", KeywordHit: "autorização", Organization: "ANTT/SUFER",
		Title: "PORTARIA Nº 12", Snippet: "concede autorização", PubDate: "2025-01-07",
	}})
	require.NoError(t, err)
	assert.Equal(t, []string{"ANTT autoriza trecho"}, d.Summary)
	assert.Equal(t, []Highlight{{Filter: "sufer", Details: "Portaria 12"}}, d.Highlights)

	assert.Contains(t, gotPrompt, "filter=sufer keyword=autorização date=2025-01-07")
	assert.Contains(t, gotPrompt, "organization: ANTT/SUFER")
}

func TestSummarize_BadJSON(t *testing.T) {
	s := NewSummarizer("key", "")
	s.generate = func(context.Context, string, string) (string, error) { return "not json", nil }
	_, err := s.Summarize(context.Background(), []types.Match{{FilterName: "x"}})
	require.Error(t, err)
}

func TestBuildUserPrompt_Truncates(t *testing.T) {
	matches := make([]types.Match, maxPromptMatches+5)
	for i := range matches {
		matches[i] = types.Match{FilterName: "f", Snippet: "s"}
	}
	p := buildUserPrompt(matches)
	assert.Equal(t, maxPromptMatches, strings.Count(p, "filter=f"))
	assert.Contains(t, p, "5 further excerpt(s) were omitted.")
}
