package validator

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	apperrors "github.com/jwalitptl/clinic-api/pkg/errors"
)

// TagName is shared with gin's binding so one set of struct tags drives both
// request binding and service-level validation.
const TagName = "binding"

var (
	once     sync.Once
	instance *validator.Validate
)

// New returns the shared, fully configured validator.
func New() *validator.Validate {
	once.Do(func() {
		v := validator.New()
		v.SetTagName(TagName)
		if err := Register(v); err != nil {
			panic(err)
		}
		instance = v
	})
	return instance
}

// Register installs the custom rules and json field naming on v.
func Register(v *validator.Validate) error {
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})

	if err := v.RegisterValidation("hhmm", func(fl validator.FieldLevel) bool {
		_, err := time.Parse("15:04", fl.Field().String())
		return err == nil
	}); err != nil {
		return err
	}

	return v.RegisterValidation("isodate", func(fl validator.FieldLevel) bool {
		_, err := time.Parse("2006-01-02", fl.Field().String())
		return err == nil
	})
}

// Struct validates obj and returns a VALIDATION_ERROR AppError on failure.
func Struct(obj interface{}) error {
	if err := New().Struct(obj); err != nil {
		return Translate(err)
	}
	return nil
}

// Translate converts validator errors into an AppError carrying one detail per field.
func Translate(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperrors.NewValidation(err.Error())
	}

	appErr := apperrors.NewValidation("request validation failed")
	for _, fe := range verrs {
		appErr.WithDetail(fe.Field(), message(fe))
	}
	return appErr
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "hhmm":
		return "must be a time in HH:MM format"
	case "isodate":
		return "must be a date in YYYY-MM-DD format"
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "min":
		return fmt.Sprintf("must contain at least %s items", fe.Param())
	default:
		return fmt.Sprintf("failed %s validation", fe.Tag())
	}
}
