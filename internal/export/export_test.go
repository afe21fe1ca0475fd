package export

import (
	"strings"
	"testing"
	"time"
)

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Hello World", "Hello-World"},
		{"Riverside Library v1.2", "Riverside-Library-v12"},
		{"Special!@#$%Chars", "SpecialChars"},
		{"", "report"},
		{"Very Long Title That Exceeds Fifty Characters Limit", "Very-Long-Title-That-Exceeds-Fifty-Characters-Limi"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := sanitizeFilename(tt.input)
			if result != tt.expected {
				t.Errorf("sanitizeFilename(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestPercentEncodeForDataURL(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"hello world", "hello%20world"},       // Spaces encoded as %20, not +
		{"test+sign", "test%2Bsign"},           // + signs are encoded
		{"special<>", "special%3C%3E"},         // Special chars encoded
		{"normal-text.txt", "normal-text.txt"}, // Unreserved chars pass through
		{"", ""},                               // Empty string
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := percentEncodeForDataURL(tt.input)
			if result != tt.expected {
				t.Errorf("percentEncodeForDataURL(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestRenderReportHTML(t *testing.T) {
	data := TemplateData{
		ProjectName: "Riverside Library",
		CompanyName: "Meridian Studio",
		Status:      "active",
		Address:     "12 River St",
		Description: "Public library renovation",
		GeneratedAt: time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC),
		Tasks: []TemplateTask{
			{Title: "Submit structural calcs", Status: "in_progress", Priority: "high", Assignee: "Omar Haddad", DueDate: "Apr 1, 2026"},
		},
		Approvals: []TemplateApproval{
			{Authority: "City of Portland", Status: "submitted", Reference: "BP-2026-0142", SubmittedAt: "Mar 1, 2026"},
		},
		Documents: []TemplateDocument{
			{Name: "plan.pdf", Version: 3, UploadedAt: "Mar 10, 2026"},
		},
	}

	html, err := RenderReportHTML(data)
	if err != nil {
		t.Fatalf("RenderReportHTML() error = %v", err)
	}

	for _, want := range []string{
		"Riverside Library",
		"Meridian Studio",
		"Public library renovation",
		"Submit structural calcs",
		"Omar Haddad",
		"City of Portland",
		"BP-2026-0142",
		"plan.pdf",
		"v3",
		"Mar 14, 2026",
	} {
		if !strings.Contains(html, want) {
			t.Errorf("HTML missing %q", want)
		}
	}
}

func TestRenderReportHTMLOmitsEmptySections(t *testing.T) {
	data := TemplateData{
		ProjectName: "Empty Project",
		Status:      "planning",
		GeneratedAt: time.Now(),
	}

	html, err := RenderReportHTML(data)
	if err != nil {
		t.Fatalf("RenderReportHTML() error = %v", err)
	}

	if strings.Contains(html, "<h2>Tasks</h2>") {
		t.Error("empty report should not include a tasks section")
	}
	if strings.Contains(html, "<h2>City Approvals</h2>") {
		t.Error("empty report should not include an approvals section")
	}
	if strings.Contains(html, "<h2>Documents</h2>") {
		t.Error("empty report should not include a documents section")
	}
}
