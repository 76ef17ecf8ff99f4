package handler

import (
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/verdandi/shop/internal/domain"
)

// RequestValidator adapts go-playground/validator to echo's Validator
// interface. Validation failures surface as EINVALID domain errors so
// the error handler maps them to 400.
type RequestValidator struct {
	validate *validator.Validate
}

// NewRequestValidator creates a validator for request binding.
func NewRequestValidator() *RequestValidator {
	return &RequestValidator{validate: validator.New(validator.WithRequiredStructEnabled())}
}

func (v *RequestValidator) Validate(i interface{}) error {
	if err := v.validate.Struct(i); err != nil {
		return domain.WrapError(err, domain.EINVALID, "request.validate", validationMessage(err))
	}
	return nil
}

func validationMessage(err error) string {
	errs, ok := err.(validator.ValidationErrors)
	if !ok || len(errs) == 0 {
		return "invalid request"
	}
	fe := errs[0]
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "uuid":
		return fe.Field() + " must be a valid UUID"
	case "gt", "gte", "min":
		return fe.Field() + " is too small"
	case "email":
		return fe.Field() + " must be a valid email address"
	case "oneof":
		return fe.Field() + " must be one of: " + fe.Param()
	default:
		return fe.Field() + " is invalid"
	}
}

var _ echo.Validator = (*RequestValidator)(nil)
