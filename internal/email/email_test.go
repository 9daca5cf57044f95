package email

import (
	"strings"
	"testing"
	"time"
)

func TestRenderWelcomeTemplate(t *testing.T) {
	out, err := renderEmailTemplate("welcome.html", welcomeEmailData{
		baseEmailData: baseEmailData{Title: "t", Heading: "Your account is ready", CTALabel: "Sign in", CTAURL: "https://app.test/login"},
		Name:          "Ada",
		TenantName:    "Acme",
	})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	for _, want := range []string{"Ada", "Acme", "https://app.test/login"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output", want)
		}
	}
}

func TestRenderCustomEscapesPlainText(t *testing.T) {
	out, err := RenderCustom("Hello", "<p>Dear <b>friend</b></p>")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "<b>friend</b>") {
		t.Fatal("bodies that start with a tag are treated as HTML")
	}

	out, err = RenderCustom("Hello", "a < b\nnext line")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "a &lt; b<br>next line") {
		t.Fatalf("plain text must be escaped and keep line breaks: %s", out)
	}
}

func TestFormatDate(t *testing.T) {
	if formatDate(nil) != "" {
		t.Fatal("nil date renders empty")
	}
	d := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	if got := formatDate(&d); got != "Mon, 02 Mar 2026 09:30 UTC" {
		t.Fatalf("unexpected date %q", got)
	}
}
