package email

import (
	"strings"
	"testing"
)

func TestServiceIsConfigured(t *testing.T) {
	tests := []struct {
		name     string
		config   Config
		expected bool
	}{
		{
			name:     "empty config",
			config:   Config{},
			expected: false,
		},
		{
			name: "missing host",
			config: Config{
				Port: "587",
				From: "noreply@planroom.app",
			},
			expected: false,
		},
		{
			name: "missing port",
			config: Config{
				Host: "smtp.example.com",
				From: "noreply@planroom.app",
			},
			expected: false,
		},
		{
			name: "missing from",
			config: Config{
				Host: "smtp.example.com",
				Port: "587",
			},
			expected: false,
		},
		{
			name: "fully configured",
			config: Config{
				Host: "smtp.example.com",
				Port: "587",
				From: "noreply@planroom.app",
			},
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(tt.config)
			if svc.IsConfigured() != tt.expected {
				t.Errorf("IsConfigured() = %v, want %v", svc.IsConfigured(), tt.expected)
			}
		})
	}
}

func TestSendEmailUnconfigured(t *testing.T) {
	svc := NewService(Config{})
	if err := svc.SendEmail([]string{"someone@example.com"}, "hi", "body"); err == nil {
		t.Error("expected error when email is not configured")
	}
	if err := svc.SendHTMLEmail([]string{"someone@example.com"}, "hi", "<p>body</p>"); err == nil {
		t.Error("expected error when email is not configured")
	}
}

func TestRenderVerificationTemplate(t *testing.T) {
	data := VerificationData{
		AppName:         "Planroom",
		UserName:        "Maya Chen",
		VerificationURL: "https://example.com/verify?token=abc123",
	}

	html, err := renderTemplate(verificationEmailTemplate, data)
	if err != nil {
		t.Fatalf("renderTemplate failed: %v", err)
	}

	if !strings.Contains(html, "Planroom") {
		t.Error("template should contain app name")
	}
	if !strings.Contains(html, "Maya Chen") {
		t.Error("template should contain user name")
	}
	if !strings.Contains(html, "https://example.com/verify?token=abc123") {
		t.Error("template should contain verification URL")
	}
}

func TestRenderPasswordResetTemplate(t *testing.T) {
	data := PasswordResetData{
		AppName:  "Planroom",
		UserName: "Maya Chen",
		ResetURL: "https://example.com/reset?token=xyz789",
	}

	html, err := renderTemplate(passwordResetEmailTemplate, data)
	if err != nil {
		t.Fatalf("renderTemplate failed: %v", err)
	}

	if !strings.Contains(html, "Planroom") {
		t.Error("template should contain app name")
	}
	if !strings.Contains(html, "Maya Chen") {
		t.Error("template should contain user name")
	}
	if !strings.Contains(html, "https://example.com/reset?token=xyz789") {
		t.Error("template should contain reset URL")
	}
	if !strings.Contains(html, "1 hour") {
		t.Error("template should mention expiration time")
	}
}

func TestRenderNotificationTemplate(t *testing.T) {
	data := NotificationData{
		AppName:     "Planroom",
		UserName:    "Omar Haddad",
		Heading:     "You were assigned a task",
		Body:        `Maya Chen assigned you "Submit structural calcs" in Riverside Library.`,
		ProjectName: "Riverside Library",
		ActionURL:   "https://example.com/projects/proj_123",
		ActionLabel: "View task",
	}

	html, err := renderTemplate(notificationEmailTemplate, data)
	if err != nil {
		t.Fatalf("renderTemplate failed: %v", err)
	}

	if !strings.Contains(html, "Omar Haddad") {
		t.Error("template should contain user name")
	}
	if !strings.Contains(html, "You were assigned a task") {
		t.Error("template should contain heading")
	}
	if !strings.Contains(html, "Riverside Library") {
		t.Error("template should contain project name")
	}
	if !strings.Contains(html, "https://example.com/projects/proj_123") {
		t.Error("template should contain action URL")
	}
}

func TestRenderNotificationTemplateWithoutAction(t *testing.T) {
	data := NotificationData{
		AppName:  "Planroom",
		UserName: "Omar Haddad",
		Heading:  "Approval status changed",
		Body:     "The building permit for Riverside Library was approved.",
	}

	html, err := renderTemplate(notificationEmailTemplate, data)
	if err != nil {
		t.Fatalf("renderTemplate failed: %v", err)
	}

	if strings.Contains(html, "class=\"button\"") {
		t.Error("template should omit the action button when no URL is set")
	}
}
