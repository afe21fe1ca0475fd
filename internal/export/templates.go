package export

import (
	"bytes"
	"html/template"
	"strings"
	"time"
)

var reportTemplate *template.Template

func init() {
	funcMap := template.FuncMap{
		"lower": strings.ToLower,
		"formatDate": func(t time.Time, layout string) string {
			return t.Format(layout)
		},
	}
	reportTemplate = template.Must(template.New("report").Funcs(funcMap).Parse(reportTemplateHTML))
}

// TemplateData holds data for report template rendering
type TemplateData struct {
	ProjectName string
	CompanyName string
	Status      string
	Address     string
	Description string
	GeneratedAt time.Time
	Tasks       []TemplateTask
	Approvals   []TemplateApproval
	Documents   []TemplateDocument
}

// TemplateTask holds task data for the report
type TemplateTask struct {
	Title    string
	Status   string
	Priority string
	Assignee string
	DueDate  string
}

// TemplateApproval holds approval data for the report
type TemplateApproval struct {
	Authority   string
	Status      string
	Reference   string
	Notes       string
	SubmittedAt string
	DecidedAt   string
}

// TemplateDocument holds document data for the report
type TemplateDocument struct {
	Name       string
	Version    int
	UploadedAt string
}

// RenderReportHTML renders the status report template with provided data
func RenderReportHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := reportTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const reportTemplateHTML = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.ProjectName}} Status Report</title>
  <style>
    body { font-family: Arial, sans-serif; line-height: 1.6; max-width: 800px; margin: 2rem auto; color: #222; }
    h1 { border-bottom: 2px solid #1a5f7a; padding-bottom: 0.5rem; }
    h2 { margin-top: 2rem; color: #1a5f7a; }
    .meta { color: #666; font-size: 0.9em; margin-bottom: 2rem; }
    .status { display: inline-block; padding: 2px 10px; border-radius: 10px; background: #eef; font-size: 0.85em; }
    table { width: 100%; border-collapse: collapse; margin: 1rem 0; }
    th, td { text-align: left; padding: 6px 8px; border-bottom: 1px solid #ddd; font-size: 0.9em; }
    th { background: #f5f5f5; }
    .empty { color: #999; font-style: italic; }
  </style>
</head>
<body>
  <h1>{{.ProjectName}}</h1>
  <div class="meta">
    {{if .CompanyName}}{{.CompanyName}} | {{end}}Status: <span class="status">{{.Status}}</span>
    {{if .Address}}| {{.Address}}{{end}}
    | Generated {{formatDate .GeneratedAt "Jan 2, 2006"}}
  </div>
  {{if .Description}}<p>{{.Description}}</p>{{end}}

  {{if .Tasks}}
  <h2>Tasks</h2>
  <table>
    <tr><th>Task</th><th>Status</th><th>Priority</th><th>Assignee</th><th>Due</th></tr>
    {{range .Tasks}}
    <tr><td>{{.Title}}</td><td>{{.Status}}</td><td>{{.Priority}}</td><td>{{.Assignee}}</td><td>{{.DueDate}}</td></tr>
    {{end}}
  </table>
  {{end}}

  {{if .Approvals}}
  <h2>City Approvals</h2>
  <table>
    <tr><th>Authority</th><th>Status</th><th>Reference</th><th>Submitted</th><th>Decided</th></tr>
    {{range .Approvals}}
    <tr><td>{{.Authority}}</td><td>{{.Status}}</td><td>{{.Reference}}</td><td>{{.SubmittedAt}}</td><td>{{.DecidedAt}}</td></tr>
    {{end}}
  </table>
  {{end}}

  {{if .Documents}}
  <h2>Documents</h2>
  <table>
    <tr><th>Name</th><th>Version</th><th>Uploaded</th></tr>
    {{range .Documents}}
    <tr><td>{{.Name}}</td><td>v{{.Version}}</td><td>{{.UploadedAt}}</td></tr>
    {{end}}
  </table>
  {{end}}
</body>
</html>`
