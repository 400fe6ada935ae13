package models

import (
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/google/uuid"
)

// NewID returns a random 128-bit identifier.
func NewID() uuid.UUID {
	return uuid.New()
}

// ParseID parses an identifier from its string form.
func ParseID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, errors.New("invalid id").
			WithType(ErrTypeNotFound).
			WithTag("id", s).
			Wrap(err)
	}
	return id, nil
}
