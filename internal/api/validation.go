package api

import (
	"errors"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/hackgods/visit-booking/internal/calendar"
)

var validate *validator.Validate

// hhmm only checks the shape. Whether the time is on the grid is a calendar
// rule and is reported as an invalid slot.
var hhmmPattern = regexp.MustCompile(`^\d{2}:\d{2}(:\d{2})?$`)

func init() {
	validate = validator.New()
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = validate.RegisterValidation("ymd", validateDate)
	_ = validate.RegisterValidation("hhmm", validateTime)
}

func validateDate(fl validator.FieldLevel) bool {
	_, err := calendar.ParseDate(fl.Field().String())
	return err == nil
}

func validateTime(fl validator.FieldLevel) bool {
	return hhmmPattern.MatchString(strings.TrimSpace(fl.Field().String()))
}

var validationMessages = map[string]string{
	"required": "is required",
	"ymd":      "must be a date formatted as YYYY-MM-DD",
	"hhmm":     "must be a time formatted as HH:MM",
	"max":      "is too long",
}

// formatValidationErrors turns validator output into one readable line.
func formatValidationErrors(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msg, ok := validationMessages[fe.Tag()]
		if !ok {
			msg = "is invalid"
		}
		msgs = append(msgs, fe.Field()+" "+msg)
	}
	return strings.Join(msgs, ", ")
}

// slotTime canonicalizes a grid time and passes anything else through so the
// ledger can reject it as an invalid slot.
func slotTime(raw string) string {
	if t, err := calendar.ParseTime(raw); err == nil {
		return t
	}
	return strings.TrimSpace(raw)
}
