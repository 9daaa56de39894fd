// Package uuid generates run identifiers.
package uuid

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/JakeFAU/hoops-harvester/internal/harvest"
)

// Generator creates time-ordered UUIDv7 strings, so run IDs sort by
// creation time.
type Generator struct{}

var _ harvest.IDGenerator = Generator{}

// New creates a new Generator.
func New() Generator {
	return Generator{}
}

// NewID returns a UUIDv7 string.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return id.String(), nil
}

// Valid reports whether s is a well-formed run ID.
func Valid(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
