package validator

import (
	"errors"
	"testing"
)

type sample struct {
	Password   string  `json:"password" validate:"required,strongpassword"`
	Culture    *string `json:"culture" validate:"omitempty,culture"`
	TimeZone   *string `json:"timeZone" validate:"omitempty,timezone"`
	Schedule   *string `json:"schedule" validate:"omitempty,cron"`
	Color      *string `json:"primaryColor" validate:"omitempty,hexcolor6"`
	Identifier string  `json:"identifier" validate:"required,identifier"`
}

func ptr(s string) *string { return &s }

func TestCustomTagsAcceptValidInput(t *testing.T) {
	v := New()
	in := sample{
		Password:   "Sup3r$ecret",
		Culture:    ptr("en-US"),
		TimeZone:   ptr("Europe/Amsterdam"),
		Schedule:   ptr("*/5 * * * *"),
		Color:      ptr("#1A2b3C"),
		Identifier: "acme-corp",
	}
	if err := v.Struct(in); err != nil {
		t.Fatalf("expected valid input, got %v", err)
	}
}

func TestCustomTagsRejectInvalidInput(t *testing.T) {
	v := New()
	in := sample{
		Password:   "password",
		Culture:    ptr("not a culture!"),
		TimeZone:   ptr("Mars/Olympus"),
		Schedule:   ptr("every minute"),
		Color:      ptr("blue"),
		Identifier: "A",
	}

	err := v.Struct(in)
	if err == nil {
		t.Fatal("expected validation error")
	}

	details, ok := Details(err).([]FieldError)
	if !ok {
		t.Fatalf("expected field errors, got %T", Details(err))
	}

	fields := map[string]bool{}
	for _, d := range details {
		fields[d.Field] = true
	}
	for _, want := range []string{"password", "culture", "timeZone", "schedule", "primaryColor", "identifier"} {
		if !fields[want] {
			t.Fatalf("expected %q among failing fields, got %v", want, details)
		}
	}
}

func TestDetailsFallsBackToMessage(t *testing.T) {
	if got := Details(errors.New("boom")); got != "boom" {
		t.Fatalf("expected plain message, got %v", got)
	}
}
