// Package domain contains pure business logic and types.
// No infrastructure dependencies allowed - this is the innermost ring.
package domain

import (
	"fmt"

	"github.com/google/uuid"
)

// DocumentID is a value object identifying a document within a collection.
// Always valid in memory - use NewDocumentID to construct.
type DocumentID struct {
	value string
}

// NewDocumentID creates a DocumentID from a raw string, validating it is a valid UUID.
func NewDocumentID(raw string) (DocumentID, error) {
	if raw == "" {
		return DocumentID{}, ErrEmptyID
	}
	if _, err := uuid.Parse(raw); err != nil {
		return DocumentID{}, fmt.Errorf("invalid document ID %q: %w", raw, ErrInvalidID)
	}
	return DocumentID{value: raw}, nil
}

// MustDocumentID creates a DocumentID, panicking on invalid input. Use only in tests.
func MustDocumentID(raw string) DocumentID {
	id, err := NewDocumentID(raw)
	if err != nil {
		panic(err)
	}
	return id
}

// GenerateDocumentID creates a new random DocumentID.
func GenerateDocumentID() DocumentID {
	return DocumentID{value: uuid.NewString()}
}

func (id DocumentID) String() string { return id.value }
func (id DocumentID) IsZero() bool   { return id.value == "" }

// PIN is a validated 4-digit code. The digits never appear in logs.
type PIN struct {
	value SecretString
}

// NewPIN validates raw as exactly PINLength ASCII digits.
func NewPIN(raw string) (PIN, error) {
	if len(raw) != PINLength {
		return PIN{}, ErrInvalidPIN
	}
	for i := 0; i < len(raw); i++ {
		if raw[i] < '0' || raw[i] > '9' {
			return PIN{}, ErrInvalidPIN
		}
	}
	return PIN{value: SecretString(raw)}, nil
}

// Expose returns the digits. Use only for hashing and comparison.
func (p PIN) Expose() string { return p.value.Expose() }

func (p PIN) String() string { return p.value.String() }
func (p PIN) IsZero() bool   { return p.value.IsEmpty() }
