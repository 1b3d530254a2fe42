package helper

import (
	"fmt"

	logger "go-line-scheduler/src/infrastructure/logger"

	"github.com/go-playground/validator/v10"
)

type Validator interface {
	GetErrorMsg(fe validator.FieldError) string
}

type validatorHelper struct {
	Logger *logger.Logger
}

func NewValidator(loggerInstance *logger.Logger) Validator {
	return &validatorHelper{Logger: loggerInstance}
}

func (v *validatorHelper) GetErrorMsg(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "This field is required"
	case "min":
		return fmt.Sprintf("Must contain at least %s item(s)", fe.Param())
	case "max":
		return fmt.Sprintf("Must contain at most %s item(s)", fe.Param())
	case "oneof":
		return fmt.Sprintf("Must be one of: %s", fe.Param())
	case "url":
		return "Must be a valid URL"
	}
	v.Logger.Debug("Unmapped validation tag " + fe.Tag())
	return "Unknown error"
}
