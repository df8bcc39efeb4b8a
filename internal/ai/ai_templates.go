package ai

import (
	"fmt"
	"strings"

	"github.com/shanehull/douclip/internal/types"
)

// maxPromptMatches bounds how many snippets are sent in one request.
const maxPromptMatches = 60

const systemInstruction = `
# [INSTRUCTION]

You are a regulatory analyst monitoring the Diário Oficial da União (DOU), the
official gazette of the Brazilian federal government.

You receive excerpts of gazette acts that matched a client's monitoring filters.
Each excerpt names the filter, the issuing organization, the act title and a
snippet of text around the matched keyword.

Write in Brazilian Portuguese.

---

# [CRITICAL INSTRUCTION]

- Only use the information in the excerpts. Do not invent act numbers, dates,
  companies or amounts.
- For each highlight, state what the act decides (authorization, revocation,
  penalty, tender, contract, appointment), who it affects, and any deadline,
  term or value it mentions.
- Skip excerpts where the keyword appears only incidentally.
- If nothing is relevant, return empty lists.
`

const userPromptTemplate = `
Summarize the following %d gazette excerpt(s):
---
%s
---
%s`

func buildUserPrompt(matches []types.Match) string {
	shown := matches
	omitted := ""
	if len(shown) > maxPromptMatches {
		shown = shown[:maxPromptMatches]
		omitted = fmt.Sprintf("\n%d further excerpt(s) were omitted.\n", len(matches)-maxPromptMatches)
	}

	var sb strings.Builder
	for i, m := range shown {
		fmt.Fprintf(&sb, "[%d] filter=%s keyword=%s date=%s\n", i+1, m.FilterName, m.KeywordHit, m.PubDate)
		if m.Organization != "" {
			fmt.Fprintf(&sb, "organization: %s\n", m.Organization)
		}
		if m.Title != "" {
			fmt.Fprintf(&sb, "title: %s\n", m.Title)
		}
		fmt.Fprintf(&sb, "text: %s\n\n", m.Snippet)
	}

	return fmt.Sprintf(userPromptTemplate, len(matches), strings.TrimSpace(sb.String()), omitted)
}
