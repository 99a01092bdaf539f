//go:generate go run go.uber.org/mock/mockgen -source=idgen.go -destination=../mocks/mock_idgen.go -package=mocks
package idgen

import (
	gonanoid "github.com/matoous/go-nanoid/v2"
)

const (
	// Alphabet is the fixed 32-symbol set used for short ids: the digits
	// 2-9 and the lowercase letters minus i and l. Uppercase, 0 and 1
	// never appear, and with 0 absent o reads unambiguously, so an id
	// survives being read over the phone or retyped from a screenshot.
	Alphabet = "23456789abcdefghjkmnopqrstuvwxyz"

	// Length 7 over 32 symbols gives 32^7 combinations. No collision
	// check happens here; the registry verifies uniqueness and retries
	// within a fixed bound.
	Length = 7
)

type Generator interface {
	NewID() (string, error)
}

// ShortIDGenerator issues human-shareable ids backed by crypto/rand.
type ShortIDGenerator struct{}

func NewShortIDGenerator() ShortIDGenerator {
	return ShortIDGenerator{}
}

func (ShortIDGenerator) NewID() (string, error) {
	return gonanoid.Generate(Alphabet, Length)
}
