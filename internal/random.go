package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

// MaxCodeLength bounds generated codes; longer values are refused rather than truncated.
const MaxCodeLength = 32

var errInvalidCodeLength = errors.New("invalid code length")

// NewNumericCode returns exactly length decimal digits, each drawn independently
// from crypto/rand. Leading zeros are kept.
func NewNumericCode(length int) (string, error) {
	if length <= 0 || length > MaxCodeLength {
		return "", errInvalidCodeLength
	}

	var b strings.Builder
	b.Grow(length)

	max := big.NewInt(10)
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + n.Int64()))
	}

	code := b.String()
	if len(code) != length {
		return "", fmt.Errorf("invalid code generation length")
	}
	return code, nil
}

// HashCode is the stored form of a code: sha256(salt || code), lowercase hex.
func HashCode(salt, code string) string {
	sum := sha256.Sum256([]byte(salt + code))
	return hex.EncodeToString(sum[:])
}

// CodeHashEqual compares two hex hashes in constant time. Malformed input never matches.
func CodeHashEqual(stored, provided string) bool {
	a, err := hex.DecodeString(stored)
	if err != nil || len(a) != sha256.Size {
		return false
	}
	b, err := hex.DecodeString(provided)
	if err != nil || len(b) != sha256.Size {
		return false
	}
	return subtle.ConstantTimeCompare(a, b) == 1
}

// DigitsOnly strips every non-digit from input.
func DigitsOnly(input string) string {
	var b strings.Builder
	b.Grow(len(input))
	for i := 0; i < len(input); i++ {
		c := input[i]
		if c >= '0' && c <= '9' {
			b.WriteByte(c)
		}
	}
	return b.String()
}
