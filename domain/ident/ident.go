// Package ident validates user identifiers according to the scheme chosen at
// process start. Everything downstream of a Parser only sees a UserID.
package ident

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Scheme names the storage type of users.id.
type Scheme string

const (
	SchemeUUID   Scheme = "uuid"
	SchemeBigInt Scheme = "bigint"
	SchemeInt    Scheme = "int"
)

// Schemes lists every supported scheme.
func Schemes() []Scheme {
	return []Scheme{SchemeUUID, SchemeBigInt, SchemeInt}
}

// UserID is a validated identifier in canonical string form.
type UserID struct {
	value string
}

// String returns the canonical form.
func (id UserID) String() string {
	return id.value
}

// IsZero reports whether id was never parsed.
func (id UserID) IsZero() bool {
	return id.value == ""
}

// Parser validates raw identifiers.
type Parser interface {
	Parse(raw string) (UserID, error)
	Scheme() Scheme
}

// NewParser returns the parser for scheme.
func NewParser(scheme Scheme) (Parser, error) {
	switch scheme {
	case SchemeUUID:
		return uuidParser{}, nil
	case SchemeBigInt:
		return intParser{scheme: SchemeBigInt, min: 1, max: math.MaxInt64}, nil
	case SchemeInt:
		return intParser{scheme: SchemeInt, min: 1, max: math.MaxInt32}, nil
	default:
		return nil, fmt.Errorf("unknown user id scheme %q (want one of %v)", scheme, Schemes())
	}
}

// MustParser is NewParser for package-level initialisation in tests.
func MustParser(scheme Scheme) Parser {
	p, err := NewParser(scheme)
	if err != nil {
		panic(err)
	}
	return p
}

type uuidParser struct{}

func (uuidParser) Scheme() Scheme { return SchemeUUID }

func (uuidParser) Parse(raw string) (UserID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return UserID{}, fmt.Errorf("user id is empty")
	}
	u, err := uuid.Parse(raw)
	if err != nil {
		return UserID{}, fmt.Errorf("user id %q is not a uuid: %w", raw, err)
	}
	return UserID{value: u.String()}, nil
}

type intParser struct {
	scheme Scheme
	min    int64
	max    int64
}

func (p intParser) Scheme() Scheme { return p.scheme }

func (p intParser) Parse(raw string) (UserID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return UserID{}, fmt.Errorf("user id is empty")
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return UserID{}, fmt.Errorf("user id %q is not an integer", raw)
	}
	if n < p.min || n > p.max {
		return UserID{}, fmt.Errorf("user id %d out of range for %s", n, p.scheme)
	}
	return UserID{value: strconv.FormatInt(n, 10)}, nil
}
