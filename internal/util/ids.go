package util

import (
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// NewID returns a new random URL-safe identifier.
func NewID() (string, error) {
	return gonanoid.New()
}

// MustNewID is NewID for callers that cannot recover from a broken random source.
func MustNewID() string {
	return gonanoid.Must()
}
