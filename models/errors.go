package models

import (
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/google/uuid"
)

// Error types returned by the engines. Use errors.IsType to test them.
const (
	ErrTypeNotFound           = "not-found"
	ErrTypeValidationFailed   = "validation-failed"
	ErrTypeLockConflict       = "lock-conflict"
	ErrTypeDependencyConflict = "dependency-conflict"
	ErrTypeIndexDesync        = "index-desync"
	ErrTypeTransactionFailed  = "transaction-failed"
	ErrTypeNoTransaction      = "no-transaction"
	ErrTypeInvalidGeometry    = "invalid-geometry"
	ErrTypeAlreadyExists      = "already-exists"
	ErrTypePoolClosed         = "pool-closed"
)

// Violations is the cause wrapped by validation-failed errors.
type Violations []Violation

func (v Violations) Error() string {
	msgs := make([]string, len(v))
	for i, violation := range v {
		msgs[i] = violation.Message
	}
	return fmt.Sprintf("%d violation(s): %s", len(v), strings.Join(msgs, "; "))
}

// Dependents is the cause wrapped by dependency-conflict errors.
type Dependents []uuid.UUID

func (d Dependents) Error() string {
	ids := make([]string, len(d))
	for i, id := range d {
		ids[i] = id.String()
	}
	return "blocked by dependents: " + strings.Join(ids, ", ")
}

func NewNotFoundError(kind string, id uuid.UUID) error {
	instrumentError(ErrTypeNotFound)
	return errors.New(kind+" not found").
		WithType(ErrTypeNotFound).
		WithTag(kind+"_id", id)
}

func NewValidationError(id uuid.UUID, violations []Violation) error {
	instrumentError(ErrTypeValidationFailed)
	return errors.New("validation failed").
		WithType(ErrTypeValidationFailed).
		WithTag("object_id", id).
		Wrap(Violations(violations))
}

func NewLockConflictError(id uuid.UUID, holder, actor string) error {
	instrumentError(ErrTypeLockConflict)
	return errors.New("object is locked by another actor").
		WithType(ErrTypeLockConflict).
		WithTag("object_id", id).
		WithTag("holder", holder).
		WithTag("actor", actor)
}

func NewDependencyError(id uuid.UUID, dependents []uuid.UUID) error {
	instrumentError(ErrTypeDependencyConflict)
	return errors.New("object has dependents").
		WithType(ErrTypeDependencyConflict).
		WithTag("object_id", id).
		Wrap(Dependents(dependents))
}

// ViolationsOf returns the violations carried by a validation-failed error.
func ViolationsOf(err error) []Violation {
	var v Violations
	if stderrors.As(err, &v) {
		return v
	}
	return nil
}

// DependentsOf returns the blocking object ids carried by a
// dependency-conflict error.
func DependentsOf(err error) []uuid.UUID {
	var d Dependents
	if stderrors.As(err, &d) {
		return d
	}
	return nil
}
