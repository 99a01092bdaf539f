package idgen

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestShortIDGenerator_Shape(t *testing.T) {
	req := require.New(t)
	gen := NewShortIDGenerator()

	// Digits 2-9 plus lowercase minus i and l, exactly 32 symbols
	req.Equal("23456789abcdefghjkmnopqrstuvwxyz", Alphabet)
	req.Len(Alphabet, 32)
	for _, banned := range "01il" {
		req.NotContains(Alphabet, string(banned))
	}
	req.Equal(strings.ToLower(Alphabet), Alphabet)

	id, err := gen.NewID()
	req.NoError(err)
	req.Len(id, Length)
	for _, r := range id {
		req.True(strings.ContainsRune(Alphabet, r), "character %q not in alphabet", r)
	}
}

func TestShortIDGenerator_NoEarlyRepeats(t *testing.T) {
	req := require.New(t)
	gen := NewShortIDGenerator()

	seen := make(map[string]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		id, err := gen.NewID()
		req.NoError(err)
		_, dup := seen[id]
		req.False(dup, "id %s issued twice", id)
		seen[id] = struct{}{}
	}
}
