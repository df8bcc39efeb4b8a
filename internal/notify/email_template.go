package notify

const emailHTMLTemplate = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <title>{{.Subject}}</title>
  <style>
    body {
      margin: 0;
      padding: 24px;
      background-color: #f3f4f6;
      font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, sans-serif;
      color: #111827;
      line-height: 1.5;
    }

    .container {
      max-width: 720px;
      margin: 0 auto;
      background: #ffffff;
      border-radius: 8px;
      border: 1px solid #e5e7eb;
      overflow: hidden;
    }

    .header {
      padding: 20px 24px;
      background: linear-gradient(135deg, #1f4e3d 0%, #27332f 100%);
      color: #ffffff;
    }

    .headline {
      font-size: 20px;
      font-weight: 700;
      margin-bottom: 4px;
    }

    .window {
      font-size: 14px;
      opacity: 0.9;
    }

    .section {
      padding: 16px 24px;
      border-top: 1px solid #f3f4f6;
    }

    .section-title {
      font-size: 11px;
      font-weight: 700;
      color: #6b7280;
      text-transform: uppercase;
      letter-spacing: 0.1em;
      margin-bottom: 12px;
    }

    .match {
      margin-bottom: 16px;
    }

    .match-title {
      font-size: 14px;
      font-weight: 600;
    }

    .match-meta {
      font-size: 12px;
      color: #6b7280;
    }

    .keyword-tag {
      display: inline-block;
      padding: 2px 8px;
      font-size: 12px;
      font-weight: 500;
      background: #e0f2fe;
      color: #0369a1;
      border-radius: 4px;
    }

    .context-box {
      background: #f9fafb;
      border-left: 3px solid #1f4e3d;
      padding: 10px 14px;
      margin-top: 6px;
      font-size: 13px;
      color: #374151;
      border-radius: 0 4px 4px 0;
    }

    .summary-list {
      margin: 0;
      padding-left: 20px;
      font-size: 14px;
    }

    .summary-list li {
      margin-bottom: 6px;
    }

    .footer {
      padding: 16px 24px;
      font-size: 12px;
      color: #9ca3af;
      text-align: center;
      background: #f9fafb;
      border-top: 1px solid #f3f4f6;
    }

    a {
      color: #0b3d91;
      text-decoration: none;
    }
  </style>
</head>
<body>
  <div class="container">
    <div class="header">
      {{if .Operational}}
      <div class="headline">Sistema operacional</div>
      {{else}}
      <div class="headline">{{.MatchCount}} achado(s) no DOU</div>
      {{end}}
      <div class="window">Período: {{.Window}}</div>
    </div>

    {{if .Operational}}
    <div class="section">
      Nenhum achado novo no período. {{.Processed}} arquivo(s) processado(s).
    </div>
    {{end}}

    {{if .Analysis}}
      {{if .Analysis.Summary}}
      <div class="section">
        <div class="section-title">Resumo (IA)</div>
        <ul class="summary-list">
          {{range .Analysis.Summary}}
          <li>{{.}}</li>
          {{end}}
          {{range .Analysis.Highlights}}
          <li><span class="keyword-tag">{{.Filter}}</span> {{.Details}}</li>
          {{end}}
        </ul>
      </div>
      {{end}}
    {{end}}

    {{range .Groups}}
    <div class="section">
      <div class="section-title">{{.Filter}} ({{len .Matches}})</div>
      {{range .Matches}}
      <div class="match">
        <div class="match-title">
          {{if .Link}}<a href="{{.Link}}" target="_blank" rel="noopener">{{.Title}}</a>{{else}}{{.Title}}{{end}}
        </div>
        <div class="match-meta">
          {{if .Organization}}{{.Organization}} · {{end}}{{.SourceFile}} · {{.PubDate}}
          <span class="keyword-tag">{{.KeywordHit}}</span>
        </div>
        <div class="context-box">{{.Snippet}}</div>
      </div>
      {{end}}
    </div>
    {{end}}

    <div class="footer">
      Execução {{.RunID}} · {{.Processed}} arquivo(s) processado(s), {{.Failed}} falha(s)
    </div>
  </div>
</body>
</html>`
