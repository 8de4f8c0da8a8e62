// Package accesscode issues and validates SOPH mentoring access codes.
package accesscode

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
	"regexp"
	"strings"
)

const (
	// Alphabet omits the look-alike characters 0, O, 1, I and L
	Alphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

	codePrefix    = "SOPH"
	groupLength   = 4
	groupCount    = 2
	codeSeparator = "-"
)

var codePattern = regexp.MustCompile(`^SOPH-[A-Z0-9]{4}-[A-Z0-9]{4}$`)

// Normalize trims and upper-cases user input
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// WellFormed reports whether a normalized code has the SOPH-XXXX-XXXX shape
func WellFormed(code string) bool {
	return codePattern.MatchString(code)
}

// Generate returns a new random code read from r
func Generate(r io.Reader) (string, error) {
	max := big.NewInt(int64(len(Alphabet)))

	var sb strings.Builder
	sb.Grow(len(codePrefix) + groupCount*(groupLength+1))
	sb.WriteString(codePrefix)
	for g := 0; g < groupCount; g++ {
		sb.WriteString(codeSeparator)
		for i := 0; i < groupLength; i++ {
			n, err := rand.Int(r, max)
			if err != nil {
				return "", fmt.Errorf("generate access code: %w", err)
			}
			sb.WriteByte(Alphabet[n.Int64()])
		}
	}
	return sb.String(), nil
}
