package model

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
)

type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

type ValidationFinding struct {
	Check    string   `json:"check"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
	Field    string   `json:"field,omitempty"`
}

type ValidationResult struct {
	App      string              `json:"app"`
	Errors   int                 `json:"errors"`
	Warnings int                 `json:"warnings"`
	Findings []ValidationFinding `json:"findings"`
}

func (r *ValidationResult) Add(f ValidationFinding) {
	r.Findings = append(r.Findings, f)
	switch f.Severity {
	case SeverityError:
		r.Errors++
	case SeverityWarning:
		r.Warnings++
	}
}

func (r *ValidationResult) Valid() bool {
	return r.Errors == 0
}

// Summary joins error findings into one line.
func (r *ValidationResult) Summary() string {
	var parts []string
	for _, f := range r.Findings {
		if f.Severity == SeverityError {
			parts = append(parts, f.Message)
		}
	}
	return strings.Join(parts, "; ")
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func siteValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterValidation("duration", func(fl validator.FieldLevel) bool {
			d, err := time.ParseDuration(fl.Field().String())
			return err == nil && d > 0
		})
		validate.RegisterValidation("slot", func(fl validator.FieldLevel) bool {
			_, err := ParseSlot(fl.Field().String())
			return err == nil
		})
	})
	return validate
}

// ValidateSite checks struct constraints plus the cross-field rules the
// tags cannot express.
func ValidateSite(s *Site) *ValidationResult {
	res := &ValidationResult{App: s.App}

	if err := siteValidator().Struct(s); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			res.Add(ValidationFinding{Check: "struct", Severity: SeverityError, Message: err.Error()})
			return res
		}
		for _, fe := range verrs {
			res.Add(ValidationFinding{
				Check:    fe.Tag(),
				Severity: SeverityError,
				Field:    fe.Namespace(),
				Message:  fieldMessage(fe),
			})
		}
	}

	if s.Slots.A != "" && s.Slots.A == s.Slots.B {
		res.Add(ValidationFinding{
			Check:    "distinct-slots",
			Severity: SeverityError,
			Field:    "Site.Slots",
			Message:  fmt.Sprintf("slots A and B share address %s", s.Slots.A),
		})
	}
	if s.Provisioner.Kind == "none" {
		res.Add(ValidationFinding{
			Check:    "provisioner",
			Severity: SeverityWarning,
			Field:    "Site.Provisioner.Kind",
			Message:  "provisioner is none; slots must be refreshed out of band",
		})
	}
	return res
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_if":
		return fmt.Sprintf("%s is required", fe.Namespace())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s], got %q", fe.Namespace(), fe.Param(), fe.Value())
	case "hostname_port":
		return fmt.Sprintf("%s must be host:port, got %q", fe.Namespace(), fe.Value())
	case "duration":
		return fmt.Sprintf("%s must be a positive duration, got %q", fe.Namespace(), fe.Value())
	case "slot":
		return fmt.Sprintf("%s must be A or B, got %q", fe.Namespace(), fe.Value())
	default:
		return fmt.Sprintf("%s failed %s check", fe.Namespace(), fe.Tag())
	}
}
