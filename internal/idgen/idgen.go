// Package idgen generates short, URL-safe prefixed IDs backed by nanoid.
package idgen

import (
	"fmt"

	nanoid "github.com/matoous/go-nanoid/v2"
)

// ID prefixes per entity.
const (
	PrefixProject   = "prj-"
	PrefixJob       = "job-"
	PrefixDocument  = "doc-"
	PrefixWorkspace = "ws-"
)

// Alphabet is the character set of the random portion.
const Alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// Length is the number of random characters after the prefix.
const Length = 12

// New returns a fresh ID with the given prefix.
func New(prefix string) (string, error) {
	id, err := nanoid.Generate(Alphabet, Length)
	if err != nil {
		return "", fmt.Errorf("idgen: %w", err)
	}
	return prefix + id, nil
}
