package corebank

import (
	"strconv"

	"github.com/google/uuid"
)

// IDGenerator produces unique identifiers for new entities. Swappable for
// deterministic IDs in tests.
type IDGenerator interface {
	NewID() string
}

type uuidGenerator struct{}

func (uuidGenerator) NewID() string { return uuid.New().String() }

// UUIDGenerator returns the production IDGenerator.
func UUIDGenerator() IDGenerator { return uuidGenerator{} }

// SequentialIDGenerator is a deterministic test IDGenerator that returns
// prefix+"-"+N for increasing N, starting at 1.
type SequentialIDGenerator struct {
	Prefix string
	next   int
}

func (g *SequentialIDGenerator) NewID() string {
	g.next++
	return g.Prefix + "-" + strconv.Itoa(g.next)
}
