// Package services provides the business logic layer for the groupwork application.
// This file defines the error taxonomy shared by the group service and the
// bulk job runner.
package services

import (
	"errors"
	"fmt"
)

// GroupOperationError is a domain / business-rule failure: duplicate group
// name, user not enrolled, group full, bad join code, and similar. It always
// carries a message safe to show to the acting user.
//
// Bulk operations catch this error type per record and keep going; anything
// that is not a GroupOperationError (and not a StatusError) is treated as an
// infrastructure error that aborts the enclosing transaction.
type GroupOperationError struct {
	Message string
}

// Error implements the error interface.
func (e *GroupOperationError) Error() string {
	return e.Message
}

// NewGroupOperationError creates a GroupOperationError with a formatted message.
func NewGroupOperationError(format string, args ...interface{}) *GroupOperationError {
	return &GroupOperationError{Message: fmt.Sprintf(format, args...)}
}

// IsGroupOperationError reports whether err is (or wraps) a domain error.
func IsGroupOperationError(err error) bool {
	var opErr *GroupOperationError
	return errors.As(err, &opErr)
}

// StatusError is an authorization or lookup failure with HTTP semantics:
// 403 for permission/mismatch problems, 404 for missing resources. It is
// always fatal to the single call that produced it.
type StatusError struct {
	Status  int
	Message string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	return e.Message
}

// NewStatusError creates a StatusError with a formatted message.
func NewStatusError(status int, format string, args ...interface{}) *StatusError {
	return &StatusError{Status: status, Message: fmt.Sprintf(format, args...)}
}
