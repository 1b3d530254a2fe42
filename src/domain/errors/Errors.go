package errors

import (
	"errors"
	"net/http"
)

const (
	NotFound              = "NotFound"
	ValidationError       = "ValidationError"
	ResourceAlreadyExists = "ResourceAlreadyExists"
	NotAuthenticated      = "NotAuthenticated"
	Conflict              = "Conflict"
	Configuration         = "Configuration"
	UnknownError          = "UnknownError"
)

const (
	notFoundMessage              = "record not found"
	validationErrorMessage       = "validation error"
	alreadyExistsErrorMessage    = "resource already exists"
	notAuthenticatedErrorMessage = "not authenticated"
	conflictErrorMessage         = "resource is in a conflicting state"
	configurationErrorMessage    = "missing or invalid configuration"
	unknownErrorMessage          = "something went wrong"
)

// AppError carries an error together with the category used to map it onto an HTTP status
// and onto the engine's terminal/transient decision.
type AppError struct {
	Err  error
	Type string
}

// GormErr is the shape of a driver error once marshalled through json, used to read vendor codes.
type GormErr struct {
	Number  int    `json:"Number"`
	Message string `json:"Message"`
}

func NewAppError(err error, errType string) *AppError {
	return &AppError{
		Err:  err,
		Type: errType,
	}
}

func NewAppErrorWithType(errType string) *AppError {
	var err error

	switch errType {
	case NotFound:
		err = errors.New(notFoundMessage)
	case ValidationError:
		err = errors.New(validationErrorMessage)
	case ResourceAlreadyExists:
		err = errors.New(alreadyExistsErrorMessage)
	case NotAuthenticated:
		err = errors.New(notAuthenticatedErrorMessage)
	case Conflict:
		err = errors.New(conflictErrorMessage)
	case Configuration:
		err = errors.New(configurationErrorMessage)
	default:
		err = errors.New(unknownErrorMessage)
	}

	return &AppError{
		Err:  err,
		Type: errType,
	}
}

func (appErr *AppError) Error() string {
	return appErr.Err.Error()
}

func (appErr *AppError) Unwrap() error {
	return appErr.Err
}

// IsType reports whether err, or anything it wraps, is an AppError of the given type.
func IsType(err error, errType string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type == errType
	}
	return false
}

func AppErrorToHTTP(appErr *AppError) (int, string) {
	switch appErr.Type {
	case NotFound:
		return http.StatusNotFound, appErr.Error()
	case ValidationError:
		return http.StatusBadRequest, appErr.Error()
	case ResourceAlreadyExists, Conflict:
		return http.StatusConflict, appErr.Error()
	case NotAuthenticated:
		return http.StatusUnauthorized, appErr.Error()
	case Configuration:
		return http.StatusUnprocessableEntity, appErr.Error()
	default:
		return http.StatusInternalServerError, unknownErrorMessage
	}
}
