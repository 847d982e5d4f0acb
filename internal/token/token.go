// Package token generates and validates room tokens. A token is both the
// rendezvous lookup key of a room and the pre-shared key a joining peer
// presents to the host.
package token

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

const (
	// Prefix starts every room token.
	Prefix = "vcollab-"

	suffixLength = 10
	alphabet     = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	// Length is the total length of a valid token.
	Length = len(Prefix) + suffixLength
)

// ErrInvalid is returned for tokens with the wrong length or prefix.
var ErrInvalid = errors.New("invalid room token")

// New returns a fresh random token.
func New() (string, error) {
	var b strings.Builder
	b.Grow(Length)
	b.WriteString(Prefix)

	limit := big.NewInt(int64(len(alphabet)))
	for range suffixLength {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("failed to generate room token: %w", err)
		}
		b.WriteByte(alphabet[n.Int64()])
	}
	return b.String(), nil
}

// IsValid reports whether s has the shape of a room token.
func IsValid(s string) bool {
	return len(s) == Length && strings.HasPrefix(s, Prefix)
}

// Validate returns ErrInvalid (wrapped with the offending value) when s is
// not a room token.
func Validate(s string) error {
	if !IsValid(s) {
		return fmt.Errorf("%w: %q (want %q followed by %d characters)", ErrInvalid, s, Prefix, suffixLength)
	}
	return nil
}
