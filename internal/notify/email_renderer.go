package notify

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"

	"github.com/shanehull/douclip/internal/ai"
	"github.com/shanehull/douclip/internal/types"
)

const DefaultSubjectPrefix = "[DOU]"

// RenderedMessage is a ready-to-send email.
type RenderedMessage struct {
	Subject string
	Text    string
	HTML    string
}

// HTMLEmailRenderer renders digests as HTML emails with a plain text fallback.
type HTMLEmailRenderer struct {
	tmpl   *template.Template
	prefix string
}

// NewHTMLEmailRenderer creates a renderer with the default email template.
func NewHTMLEmailRenderer(subjectPrefix string) *HTMLEmailRenderer {
	if subjectPrefix == "" {
		subjectPrefix = DefaultSubjectPrefix
	}
	t := template.Must(template.New("email").Parse(emailHTMLTemplate))
	return &HTMLEmailRenderer{tmpl: t, prefix: subjectPrefix}
}

type matchGroup struct {
	Filter  string
	Matches []types.Match
}

type digestView struct {
	Subject     string
	Window      string
	RunID       string
	Operational bool
	MatchCount  int
	Processed   int
	Failed      int
	Groups      []matchGroup
	Analysis    *ai.Digest
}

// Render produces an HTML email with plain text alternative.
func (r *HTMLEmailRenderer) Render(d Digest) (*RenderedMessage, error) {
	if d.Run == nil {
		return nil, fmt.Errorf("digest has no run")
	}
	view := r.view(d)

	var htmlBuf bytes.Buffer
	if err := r.tmpl.Execute(&htmlBuf, view); err != nil {
		return nil, fmt.Errorf("failed to render HTML template: %w", err)
	}

	return &RenderedMessage{
		Subject: view.Subject,
		Text:    renderPlainText(view),
		HTML:    htmlBuf.String(),
	}, nil
}

func (r *HTMLEmailRenderer) view(d Digest) digestView {
	run := d.Run
	end := run.EndDate.Format(types.DateLayout)

	window := end
	if start := run.StartDate.Format(types.DateLayout); start != end {
		window = start + " a " + end
	}

	subject := fmt.Sprintf("%s %s - %d achado(s)", r.prefix, end, len(d.Matches))
	if d.Operational {
		subject = fmt.Sprintf("%s %s - sistema operacional, 0 achados", r.prefix, end)
	}

	return digestView{
		Subject:     subject,
		Window:      window,
		RunID:       run.ID,
		Operational: d.Operational,
		MatchCount:  len(d.Matches),
		Processed:   run.FilesProcessed,
		Failed:      run.FilesFailed,
		Groups:      groupByFilter(d.Matches),
		Analysis:    d.Analysis,
	}
}

// groupByFilter keeps filters in order of first appearance and matches in
// their recorded order.
func groupByFilter(matches []types.Match) []matchGroup {
	var groups []matchGroup
	index := make(map[string]int)
	for _, m := range matches {
		i, ok := index[m.FilterName]
		if !ok {
			i = len(groups)
			index[m.FilterName] = i
			groups = append(groups, matchGroup{Filter: m.FilterName})
		}
		groups[i].Matches = append(groups[i].Matches, m)
	}
	return groups
}

// renderPlainText produces a readable plain text version for email clients
// that don't support HTML.
func renderPlainText(v digestView) string {
	var sb strings.Builder

	sb.WriteString(v.Subject + "\n")
	sb.WriteString(strings.Repeat("=", 50) + "\n\n")
	sb.WriteString(fmt.Sprintf("Período: %s\n", v.Window))
	sb.WriteString(fmt.Sprintf("Arquivos processados: %d (falhas: %d)\n", v.Processed, v.Failed))
	sb.WriteString(fmt.Sprintf("Execução: %s\n\n", v.RunID))

	if v.Operational {
		sb.WriteString("Sistema operacional. Nenhum achado novo no período.\n")
		return sb.String()
	}

	if v.Analysis != nil && len(v.Analysis.Summary) > 0 {
		sb.WriteString("RESUMO (IA)\n")
		sb.WriteString(strings.Repeat("-", 20) + "\n")
		for _, s := range v.Analysis.Summary {
			sb.WriteString(fmt.Sprintf("• %s\n", s))
		}
		for _, h := range v.Analysis.Highlights {
			sb.WriteString(fmt.Sprintf("• [%s] %s\n", h.Filter, h.Details))
		}
		sb.WriteString("\n")
	}

	for _, g := range v.Groups {
		sb.WriteString(fmt.Sprintf("%s (%d)\n", strings.ToUpper(g.Filter), len(g.Matches)))
		sb.WriteString(strings.Repeat("-", 20) + "\n")
		for _, m := range g.Matches {
			sb.WriteString(fmt.Sprintf("Arquivo: %s (%s)\n", m.SourceFile, m.PubDate))
			if m.Organization != "" {
				sb.WriteString(fmt.Sprintf("Órgão: %s\n", m.Organization))
			}
			if m.Title != "" {
				sb.WriteString(fmt.Sprintf("Título: %s\n", m.Title))
			}
			sb.WriteString(fmt.Sprintf("Palavra-chave: %s\n", m.KeywordHit))
			if m.Link != "" {
				sb.WriteString(fmt.Sprintf("Link: %s\n", m.Link))
			}
			sb.WriteString(fmt.Sprintf("Trecho: %s\n\n", m.Snippet))
		}
	}

	return sb.String()
}
