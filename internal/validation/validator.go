package validation

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"storefront-orders/internal/apperror"

	"github.com/go-playground/validator/v10"
)

// Rule is a cross-field refinement: when Violated reports true, Message is attached to Path.
// Rules run only after every per-field rule passed, so they may assume well-typed input.
type Rule struct {
	Path     string
	Message  string
	Violated func() bool
}

// Schema is a request payload that knows how to normalize itself and which
// cross-field rules apply once its fields are individually valid
type Schema interface {
	Normalize()
	Rules() []Rule
}

// Validator validates request payloads against struct-tag schemas
type Validator struct {
	validate *validator.Validate
}

// New creates a validator reporting field paths by their JSON names
func New() *Validator {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return field.Name
		}
		return name
	})
	return &Validator{validate: v}
}

// Bind decodes body into dst, normalizes it and validates it.
// Malformed JSON yields INVALID_JSON; every other rejection is VALIDATION_ERROR.
func (v *Validator) Bind(body []byte, dst Schema) error {
	if len(strings.TrimSpace(string(body))) == 0 {
		return apperror.New(apperror.KindInvalidJSON, "request body is empty")
	}

	if err := json.Unmarshal(body, dst); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return apperror.Validation("invalid request", apperror.FieldViolation{
				Field:   typeErrorPath(body, typeErr),
				Message: fmt.Sprintf("must be of type %s", typeErr.Type.String()),
			})
		}
		return apperror.Wrap(apperror.KindInvalidJSON, "request body is not valid JSON", err)
	}

	return v.Check(dst)
}

// Check normalizes and validates an already decoded schema
func (v *Validator) Check(dst Schema) error {
	dst.Normalize()

	if violations := v.Fields(dst); len(violations) > 0 {
		return apperror.Validation("invalid request", violations...)
	}

	if violations := Refine(dst.Rules()); len(violations) > 0 {
		return apperror.Validation("invalid request", violations...)
	}
	return nil
}

// Fields runs the per-field struct-tag rules only
func (v *Validator) Fields(s interface{}) []apperror.FieldViolation {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return []apperror.FieldViolation{{Field: "body", Message: err.Error()}}
	}

	violations := make([]apperror.FieldViolation, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		violations = append(violations, apperror.FieldViolation{
			Field:   fieldPath(fe.Namespace()),
			Message: message(fe),
		})
	}
	return violations
}

// Refine evaluates cross-field rules in declaration order
func Refine(rules []Rule) []apperror.FieldViolation {
	var violations []apperror.FieldViolation
	for _, rule := range rules {
		if rule.Violated() {
			violations = append(violations, apperror.FieldViolation{Field: rule.Path, Message: rule.Message})
		}
	}
	return violations
}

// fieldPath drops the root struct name from a validator namespace
func fieldPath(namespace string) string {
	if i := strings.Index(namespace, "."); i >= 0 {
		return namespace[i+1:]
	}
	return namespace
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		if fe.Kind() == reflect.Bool {
			return "must be true"
		}
		return "is required"
	case "email":
		return "must be a valid email address"
	case "oneof":
		return "must be one of: " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "min":
		if fe.Kind() == reflect.Slice {
			return fmt.Sprintf("must contain at least %s item(s)", fe.Param())
		}
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("must be at least %s characters", fe.Param())
		}
		return "must be at least " + fe.Param()
	case "max":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("must be at most %s characters", fe.Param())
		}
		return "must be at most " + fe.Param()
	case "gt":
		return "must be greater than " + fe.Param()
	case "gte":
		return "must be greater than or equal to " + fe.Param()
	case "lte":
		return "must be less than or equal to " + fe.Param()
	case "eq":
		return "must be " + fe.Param()
	case "uuid":
		return "must be a valid UUID"
	default:
		return fmt.Sprintf("failed %s validation", fe.Tag())
	}
}
