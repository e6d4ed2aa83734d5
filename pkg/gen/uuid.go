package gen

import (
	"strings"

	"github.com/google/uuid"
)

type UUIDGenerator func() uuid.UUID

func UUID() UUIDGenerator {
	return func() uuid.UUID {
		return uuid.Must(uuid.NewRandom())
	}
}

func (g UUIDGenerator) Next() uuid.UUID {
	if g == nil {
		return uuid.Nil
	}

	return g()
}

// ShortID returns a 12-character hex identifier, used to prefix stored
// upload filenames so concurrent uploads of the same file never collide.
func (g UUIDGenerator) ShortID() string {
	id := g.Next()
	return strings.ReplaceAll(id.String(), "-", "")[:12]
}
