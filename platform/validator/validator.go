// Package validator provides validation infrastructure for the application.
// This is part of the platform layer and contains no business logic.
package validator

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
	"golang.org/x/text/language"
)

var (
	hexColorPattern   = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)
	identifierPattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{1,61}[a-z0-9])$`)
)

// Validator wraps the go-playground validator for structured validation.
type Validator struct {
	v *validator.Validate
}

// FieldError is one entry of a validation failure response.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// New creates a Validator with the shared custom tags registered.
func New() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(jsonFieldName)

	custom := map[string]validator.Func{
		"strongpassword": strongPassword,
		"culture":        culture,
		"timezone":       timezone,
		"cron":           cronSpec,
		"hexcolor6":      hexColor6,
		"identifier":     identifier,
	}
	for tag, fn := range custom {
		if err := v.RegisterValidation(tag, fn); err != nil {
			panic(fmt.Sprintf("register validation %s: %v", tag, err))
		}
	}

	return &Validator{v: v}
}

// Struct validates a struct based on validation tags.
func (val *Validator) Struct(s any) error {
	return val.v.Struct(s)
}

// Var validates a single variable against a tag.
func (val *Validator) Var(field any, tag string) error {
	return val.v.Var(field, tag)
}

// RegisterValidation registers a custom validation function.
func (val *Validator) RegisterValidation(tag string, fn validator.Func) error {
	return val.v.RegisterValidation(tag, fn)
}

// Details turns a validation error into response details.
// Non-validation errors are returned as their message.
func Details(err error) any {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		if err == nil {
			return nil
		}
		return err.Error()
	}

	out := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, FieldError{Field: fe.Field(), Message: message(fe)})
	}
	return out
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_if", "required_without":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	case "oneof":
		return "must be one of: " + fe.Param()
	case "url", "http_url":
		return "must be a valid URL"
	case "eqfield":
		return "must match " + fe.Param()
	case "strongpassword":
		return "must be at least 8 characters with upper, lower, digit and symbol"
	case "culture":
		return "must be a BCP-47 language tag"
	case "timezone":
		return "must be an IANA time zone"
	case "cron":
		return "must be a 5-field cron expression"
	case "hexcolor6":
		return "must be a #RRGGBB color"
	case "identifier":
		return "must be 3-63 lowercase letters, digits or hyphens"
	default:
		return "failed " + fe.Tag() + " validation"
	}
}

func jsonFieldName(fld reflect.StructField) string {
	for _, tag := range []string{"json", "form"} {
		name := strings.SplitN(fld.Tag.Get(tag), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name != "" {
			return name
		}
	}
	return fld.Name
}

func strongPassword(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	if len(s) < 8 {
		return false
	}
	var upper, lower, digit, symbol bool
	for _, r := range s {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			symbol = true
		}
	}
	return upper && lower && digit && symbol
}

func culture(fl validator.FieldLevel) bool {
	_, err := language.Parse(fl.Field().String())
	return err == nil
}

func timezone(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	if s == "" || strings.EqualFold(s, "local") {
		return false
	}
	_, err := time.LoadLocation(s)
	return err == nil
}

func cronSpec(fl validator.FieldLevel) bool {
	_, err := cron.ParseStandard(fl.Field().String())
	return err == nil
}

func hexColor6(fl validator.FieldLevel) bool {
	return hexColorPattern.MatchString(fl.Field().String())
}

func identifier(fl validator.FieldLevel) bool {
	return identifierPattern.MatchString(fl.Field().String())
}
