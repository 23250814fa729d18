package app

import (
	"errors"
	"fmt"
	"net/http"
)

const (
	CodeNotFound     = "NOT_FOUND"
	CodeForbidden    = "FORBIDDEN"
	CodeBadRequest   = "BAD_REQUEST"
	CodeConflict     = "CONFLICT"
	CodeValidation   = "VALIDATION_ERROR"
	CodeUnauthorized = "UNAUTHORIZED"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func notFound(message string) *DomainError {
	return domainError(http.StatusNotFound, CodeNotFound, message, nil)
}

func forbidden(message string) *DomainError {
	return domainError(http.StatusForbidden, CodeForbidden, message, nil)
}

func badRequest(message string) *DomainError {
	return domainError(http.StatusBadRequest, CodeBadRequest, message, nil)
}

func validationError(field, message string) *DomainError {
	return domainError(http.StatusUnprocessableEntity, CodeValidation, "Validation failed",
		[]map[string]string{{"field": field, "message": message}})
}

func codeOf(err error) string {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code
	}
	return ""
}

func IsNotFound(err error) bool   { return codeOf(err) == CodeNotFound }
func IsForbidden(err error) bool  { return codeOf(err) == CodeForbidden }
func IsBadRequest(err error) bool { return codeOf(err) == CodeBadRequest }
func IsValidation(err error) bool { return codeOf(err) == CodeValidation }
