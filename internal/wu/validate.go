package wu

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// validate is a package-level validator instance; config.Validate
// (internal/config/config.go) built its own hand-rolled checks because
// that package had no declarative validator wired. LumenFlow instead uses
// go-playground/validator (grounded on jordigilh-kubernaut),
// registering custom rules for the WU enums and the ≥50-char description
// requirement from spec.md §3.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("wu_status", func(fl validator.FieldLevel) bool {
		return Status(fl.Field().String()).Valid()
	})
	_ = v.RegisterValidation("wu_type", func(fl validator.FieldLevel) bool {
		return Type(fl.Field().String()).Valid()
	})
	_ = v.RegisterValidation("wu_priority", func(fl validator.FieldLevel) bool {
		return Priority(fl.Field().String()).Valid()
	})
	return v
}

// structForValidation mirrors WU but with validator tags; kept separate
// from the YAML-facing WU struct so YAML tag churn never silently disables
// a validation rule.
type structForValidation struct {
	ID          string   `validate:"required"`
	Title       string   `validate:"required"`
	Lane        string   `validate:"required"`
	Type        string   `validate:"required,wu_type"`
	Status      string   `validate:"required,wu_status"`
	Priority    string   `validate:"required,wu_priority"`
	Description string   `validate:"required,min=50"`
	Acceptance  []string `validate:"required,min=1"`
}

// ValidateSchema runs structural + declarative validation over w and
// returns every violation found (it does not stop at the first).
func ValidateSchema(w *WU) []error {
	var errs []error

	if !ValidID(w.ID) {
		errs = append(errs, fmt.Errorf("id must match WU-<N>, got %q", w.ID))
	}

	sv := structForValidation{
		ID:          w.ID,
		Title:       w.Title,
		Lane:        w.Lane,
		Type:        string(w.Type),
		Status:      string(w.Status),
		Priority:    string(w.Priority),
		Description: w.Description,
		Acceptance:  w.Acceptance,
	}
	if err := validate.Struct(sv); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range verrs {
				errs = append(errs, describeFieldError(fe))
			}
		} else {
			errs = append(errs, err)
		}
	}

	if !w.ClaimedMode.Valid() {
		errs = append(errs, fmt.Errorf("claimed_mode %q is not a recognized mode", w.ClaimedMode))
	}

	errs = append(errs, w.CheckInvariants()...)
	return errs
}

func describeFieldError(fe validator.FieldError) error {
	switch fe.Tag() {
	case "required":
		return fmt.Errorf("%s is required", strings.ToLower(fe.Field()))
	case "min":
		return fmt.Errorf("%s must have at least %s characters/elements", strings.ToLower(fe.Field()), fe.Param())
	case "wu_status":
		return fmt.Errorf("status %q is not a recognized status", fe.Value())
	case "wu_type":
		return fmt.Errorf("type %q is not a recognized type", fe.Value())
	case "wu_priority":
		return fmt.Errorf("priority %q is not a recognized priority", fe.Value())
	default:
		return fmt.Errorf("%s failed %s validation", strings.ToLower(fe.Field()), fe.Tag())
	}
}
