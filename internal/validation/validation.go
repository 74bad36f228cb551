// Package validation checks a Configuration document against its
// struct tags before it is persisted, so a malformed set_config request
// or on-disk edit is rejected with a field-level reason instead of
// silently producing a broken account at the next poll cycle.
package validation

import (
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Validate runs struct validation using the `validate` tags on
// store.Configuration, store.Account, and store.Rule.
func Validate(v any) error {
	return validate.Struct(v)
}

// FieldErrors extracts a field-name -> failed-tag map from a
// validator.ValidationErrors, for building a human-readable message in
// the control RPC's set_config response.
func FieldErrors(err error) map[string]string {
	out := make(map[string]string)
	if verrs, ok := err.(validator.ValidationErrors); ok {
		for _, e := range verrs {
			out[e.Namespace()] = e.Tag()
		}
	}
	return out
}
