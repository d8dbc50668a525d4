package pipeline

import "fmt"

// PlaceholderPrefix marks identities created without an intake identifier.
const PlaceholderPrefix = "PENDING"

// Sequence hands out placeholder identifiers for one run. Identifiers already
// in use are skipped, so a placeholder never lands on an existing identity.
type Sequence struct {
	prefix   string
	n        int
	reserved map[string]bool
}

// NewSequence creates a Sequence producing prefix-0001, prefix-0002, ...
func NewSequence(prefix string) *Sequence {
	return &Sequence{prefix: prefix, reserved: make(map[string]bool)}
}

// Reserve marks ids as taken.
func (s *Sequence) Reserve(ids ...string) {
	for _, id := range ids {
		s.reserved[id] = true
	}
}

// Next returns the next free identifier.
func (s *Sequence) Next() string {
	for {
		s.n++
		id := fmt.Sprintf("%s-%04d", s.prefix, s.n)
		if !s.reserved[id] {
			s.reserved[id] = true
			return id
		}
	}
}
