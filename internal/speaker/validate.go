package speaker

import (
	"errors"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
)

// minFieldLength is the minimum trimmed length of a non-empty name or role.
const minFieldLength = 2

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// validatorInstance returns the shared validator with the trimmin rule
// registered and json tag names used for field names.
func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
			if name == "" || name == "-" {
				return strings.ToLower(fld.Name)
			}
			return name
		})
		if err := v.RegisterValidation("trimmin", trimMin); err != nil {
			panic("speaker: register trimmin validation: " + err.Error())
		}
		validate = v
	})
	return validate
}

// trimMin accepts the empty string ("not yet specified") and otherwise
// requires at least param runes once surrounding whitespace is removed.
func trimMin(fl validator.FieldLevel) bool {
	raw := fl.Field().String()
	if raw == "" {
		return true
	}
	n, err := strconv.Atoi(fl.Param())
	if err != nil {
		return false
	}
	return utf8.RuneCountInString(strings.TrimSpace(raw)) >= n
}

// Validate checks a name/role candidate against the field rules.
//
// Rules:
//   - An empty field is valid; it means "not yet specified".
//   - A non-empty field shorter than 2 characters after trimming is rejected.
//
// Validate has no side effects. It returns nil when v passes.
func Validate(v Values) []FieldError {
	err := validatorInstance().Struct(v)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []FieldError{{Field: FieldName, Message: err.Error()}}
	}

	out := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		field := Field(fe.Field())
		out = append(out, FieldError{
			Field:   field,
			Message: tooShort(field, fe.Param()),
		})
	}
	return out
}

// ValidateAll validates every mapping and returns the failures keyed by
// speaker id. The map is empty, never nil, when everything passes.
func ValidateAll(mappings []Mapping) map[string][]FieldError {
	out := make(map[string][]FieldError)
	for _, m := range mappings {
		if errs := Validate(m.Values()); len(errs) > 0 {
			out[m.SpeakerID] = errs
		}
	}
	return out
}

func tooShort(field Field, param string) string {
	if param == "" {
		param = strconv.Itoa(minFieldLength)
	}
	return string(field) + " is too short (minimum " + param + " characters)"
}
