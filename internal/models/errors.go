package models

import (
	"errors"
	"fmt"
	"strings"
)

// ValidationError represents an invalid tool or engine parameter.
type ValidationError struct {
	Parameter string
	message   string
}

// NewValidationError creates a new validation error
func NewValidationError(format string, args ...interface{}) *ValidationError {
	return &ValidationError{
		message: fmt.Sprintf(format, args...),
	}
}

// NewParameterError creates a validation error naming the offending parameter.
func NewParameterError(parameter, format string, args ...interface{}) *ValidationError {
	return &ValidationError{
		Parameter: parameter,
		message:   fmt.Sprintf(format, args...),
	}
}

// Error returns the error message
func (e *ValidationError) Error() string {
	if e.Parameter != "" {
		return fmt.Sprintf("%s: %s", e.Parameter, e.message)
	}
	return e.message
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// NotFoundError is returned when an identifier resolves to zero entities.
// Candidates carries a sample of known entity ids to help the caller correct
// the query.
type NotFoundError struct {
	Identifier string
	Candidates []string
}

func NewNotFoundError(identifier string, candidates []string) *NotFoundError {
	return &NotFoundError{Identifier: identifier, Candidates: candidates}
}

func (e *NotFoundError) Error() string {
	if len(e.Candidates) == 0 {
		return fmt.Sprintf("no entity matches %q", e.Identifier)
	}
	return fmt.Sprintf("no entity matches %q (known entities include: %s)",
		e.Identifier, strings.Join(e.Candidates, ", "))
}

// IsNotFoundError checks if an error is a not-found error
func IsNotFoundError(err error) bool {
	var nfe *NotFoundError
	return errors.As(err, &nfe)
}

// ColumnNotFoundError is returned when a filter, group or sort column does
// not exist in the table. Available lists the columns that do.
type ColumnNotFoundError struct {
	Column    string
	Available []string
}

func NewColumnNotFoundError(column string, available []string) *ColumnNotFoundError {
	return &ColumnNotFoundError{Column: column, Available: available}
}

func (e *ColumnNotFoundError) Error() string {
	return fmt.Sprintf("column %q not found. Available: %s", e.Column, strings.Join(e.Available, ", "))
}

// IsColumnNotFoundError checks if an error is a column-not-found error
func IsColumnNotFoundError(err error) bool {
	var cnf *ColumnNotFoundError
	return errors.As(err, &cnf)
}

// InvalidExpressionError is returned when a derive/eval expression fails to
// parse or references an unknown column.
type InvalidExpressionError struct {
	Expression string
	Reason     string
}

func NewInvalidExpressionError(expression, format string, args ...interface{}) *InvalidExpressionError {
	return &InvalidExpressionError{
		Expression: expression,
		Reason:     fmt.Sprintf(format, args...),
	}
}

func (e *InvalidExpressionError) Error() string {
	return fmt.Sprintf("invalid expression %q: %s", e.Expression, e.Reason)
}

// IsInvalidExpressionError checks if an error is an invalid-expression error
func IsInvalidExpressionError(err error) bool {
	var iee *InvalidExpressionError
	return errors.As(err, &iee)
}
