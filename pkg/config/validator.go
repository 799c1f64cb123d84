package config

import (
	"strings"

	"github.com/go-playground/validator/v10"
)

// RegisterCustomValidators registers validation functions used by config struct tags.
func RegisterCustomValidators(v *validator.Validate) error {
	return v.RegisterValidation("template_ref", validateTemplateRef)
}

// validateTemplateRef accepts a preset name or a template carrying both placeholders.
func validateTemplateRef(fl validator.FieldLevel) bool {
	value := strings.TrimSpace(fl.Field().String())
	switch strings.ToLower(value) {
	case "", TemplateDefault, TemplateExpert:
		return true
	}
	return strings.Contains(value, "{context}") && strings.Contains(value, "{question}")
}
