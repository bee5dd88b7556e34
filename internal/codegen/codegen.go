// Package codegen produces unguessable promo code strings.
//
// Uniqueness is not checked here; the store rejects colliding codes.
package codegen

import (
	"crypto/rand"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"
)

const (
	// DefaultAlphabet excludes the ambiguous 0, 1, I and O.
	DefaultAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	// LegacyAlphabet excludes B, D, O, Q, I and V.
	LegacyAlphabet = "ACEFGHJKLMNPRSTUWXYZ0123456789"

	// LegacyCodeLength is the body length that selects the legacy format
	// when no prefix is given.
	LegacyCodeLength = 12
)

var invalidPrefixChars = regexp.MustCompile(`[^A-Z0-9-]`)

// Generator draws code characters from a random source.
type Generator struct {
	random io.Reader
}

// New returns a Generator reading from crypto/rand.
func New() *Generator {
	return &Generator{random: rand.Reader}
}

// NewWithReader returns a Generator reading from r.
func NewWithReader(r io.Reader) *Generator {
	if r == nil {
		r = rand.Reader
	}
	return &Generator{random: r}
}

// Generate returns prefix followed by length characters of DefaultAlphabet.
func (g *Generator) Generate(prefix string, length int) (string, error) {
	body, err := g.draw(DefaultAlphabet, length)
	if err != nil {
		return "", err
	}
	return prefix + body, nil
}

// GenerateLegacy returns a code shaped XXXX-XXYY-XXMM-XXDD where YY, MM and
// DD are the two-digit year, month and day of createdAt.
func (g *Generator) GenerateLegacy(createdAt time.Time) (string, error) {
	random, err := g.draw(LegacyAlphabet, 10)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("%s-%s%s-%s%02d-%s%02d",
		random[0:4],
		random[4:6], createdAt.Format("06"),
		random[6:8], int(createdAt.Month()),
		random[8:10], createdAt.Day(),
	), nil
}

func (g *Generator) draw(alphabet string, n int) (string, error) {
	if n <= 0 {
		return "", nil
	}

	buf := make([]byte, n)
	if _, err := io.ReadFull(g.random, buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}

	var sb strings.Builder
	sb.Grow(n)
	for _, b := range buf {
		sb.WriteByte(alphabet[int(b)%len(alphabet)])
	}
	return sb.String(), nil
}

// NormalizePrefix trims, uppercases and strips every character outside [A-Z0-9-].
func NormalizePrefix(prefix string) string {
	return invalidPrefixChars.ReplaceAllString(strings.ToUpper(strings.TrimSpace(prefix)), "")
}

// UseLegacyFormat reports whether a job emits legacy dashed codes: either
// explicitly requested, or no prefix with the legacy body length.
func UseLegacyFormat(format string, prefix string, length int) bool {
	return strings.EqualFold(format, "legacy") || (prefix == "" && length == LegacyCodeLength)
}
