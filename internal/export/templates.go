package export

import (
	"bytes"
	"html/template"
	"strings"
	"time"
)

var reportTemplate = template.Must(template.New("report").Funcs(template.FuncMap{
	"lower": strings.ToLower,
	"formatDate": func(t time.Time, layout string) string {
		return t.Format(layout)
	},
	"paragraphs": func(s string) []string {
		out := []string{}
		for _, p := range strings.Split(s, "\n\n") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	},
}).Parse(reportHTML))

// RenderReportHTML renders the report template.
func RenderReportHTML(report Report) (string, error) {
	var buf bytes.Buffer
	if err := reportTemplate.Execute(&buf, report); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const reportHTML = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.Title}}</title>
  <style>
    body { font-family: Arial, sans-serif; line-height: 1.6; max-width: 800px; margin: 2rem auto; color: #222; }
    h1 { border-bottom: 2px solid #333; padding-bottom: 0.5rem; }
    .meta { color: #666; font-size: 0.9em; margin-bottom: 2rem; }
    .badge { display: inline-block; padding: 0 0.5rem; border-radius: 3px; background: #eee; }
    .entry { padding: 0.5rem 1rem; margin: 0.5rem 0; border-left: 3px solid #ccc; }
    .entry.comment { border-color: #333; background: #f5f5f5; }
    .entry.reply { margin-left: 2rem; }
    .entry.event { color: #666; font-size: 0.9em; }
  </style>
</head>
<body>
  <h1>{{.Title}}</h1>
  <div class="meta">
    {{.ProjectName}} | <span class="badge status-{{lower .Status}}">{{.Status}}</span>
    <span class="badge">{{.Priority}}</span>{{if .Archived}} <span class="badge">archived</span>{{end}}<br>
    Reported by {{.ReporterName}} on {{formatDate .CreatedAt "Jan 2, 2006"}}{{if .AssigneeName}} | Assigned to {{.AssigneeName}}{{end}}
  </div>
  {{range paragraphs .Body}}<p>{{.}}</p>
  {{end}}
  {{if .Entries}}
  <h2>Activity</h2>
  {{range .Entries}}<div class="entry {{.Kind}}{{if .Reply}} reply{{end}}">
    <strong>{{.Author}}</strong> <span class="meta">{{formatDate .CreatedAt "Jan 2, 2006 15:04"}}</span>
    <div>{{.Text}}</div>
  </div>
  {{end}}
  {{end}}
</body>
</html>`
