package email

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"strings"
	"time"
)

//go:embed templates/*.html
var templateFS embed.FS

type baseEmailData struct {
	Title      string
	Heading    string
	Subheading string
	CTALabel   string
	CTAURL     string
}

type welcomeEmailData struct {
	baseEmailData
	Name       string
	TenantName string
}

type activityReminderEmailData struct {
	baseEmailData
	Name    string
	Subject string
	Type    string
	DueDate string
}

type slaBreachEmailData struct {
	baseEmailData
	Name         string
	TicketNumber string
	Subject      string
	Priority     string
	DueDate      string
}

type customEmailData struct {
	baseEmailData
	Body template.HTML
}

func renderEmailTemplate(name string, data any) (string, error) {
	templates := []string{"templates/base.html", "templates/" + name}
	tmpl, err := template.New("base.html").ParseFS(templateFS, templates...)
	if err != nil {
		return "", fmt.Errorf("parse email template %s: %w", name, err)
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "email", data); err != nil {
		return "", fmt.Errorf("execute email template %s: %w", name, err)
	}
	return buf.String(), nil
}

func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format("Mon, 02 Jan 2006 15:04 MST")
}

// looksLikeHTML decides whether custom bodies are wrapped as HTML or escaped as text.
func looksLikeHTML(body string) bool {
	trimmed := strings.TrimSpace(body)
	return strings.HasPrefix(trimmed, "<") && strings.Contains(trimmed, ">")
}
