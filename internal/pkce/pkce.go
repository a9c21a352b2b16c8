// Package pkce provides the randomness and encoding primitives used by the
// OAuth 2.0 PKCE flow (RFC 7636).
package pkce

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"regexp"
)

const (
	verifierBytes = 32
	stateBytes    = 8

	minVerifierLength = 43
	maxVerifierLength = 128
)

var verifierCharset = regexp.MustCompile(`^[A-Za-z0-9\-._~]+$`)

// Generator draws randomness from Rand. The zero value uses crypto/rand.
type Generator struct {
	Rand io.Reader
}

var defaultGenerator = Generator{}

// RandomBytes returns n bytes from the generator's source. A read failure is
// returned as is; callers must not fall back to a weaker source.
func (g Generator) RandomBytes(n int) ([]byte, error) {
	if n <= 0 {
		return nil, fmt.Errorf("pkce: invalid byte length %d", n)
	}
	src := g.Rand
	if src == nil {
		src = rand.Reader
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(src, buf); err != nil {
		return nil, fmt.Errorf("pkce: read random bytes: %w", err)
	}
	return buf, nil
}

// CodeVerifier returns 32 random bytes encoded as unpadded base64url (43 chars).
func (g Generator) CodeVerifier() (string, error) {
	buf, err := g.RandomBytes(verifierBytes)
	if err != nil {
		return "", err
	}
	return Encode(buf), nil
}

// State returns 8 random bytes encoded as unpadded base64url.
func (g Generator) State() (string, error) {
	buf, err := g.RandomBytes(stateBytes)
	if err != nil {
		return "", err
	}
	return Encode(buf), nil
}

// RandomBytes reads n bytes from crypto/rand.
func RandomBytes(n int) ([]byte, error) {
	return defaultGenerator.RandomBytes(n)
}

// GenerateCodeVerifier returns a fresh PKCE code verifier.
func GenerateCodeVerifier() (string, error) {
	return defaultGenerator.CodeVerifier()
}

// GenerateState returns a fresh CSRF correlation nonce.
func GenerateState() (string, error) {
	return defaultGenerator.State()
}

// Encode is base64url without padding (RFC 4648 §5).
func Encode(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

// SHA256 digests the UTF-8 bytes of input and returns the base64url encoding.
func SHA256(input string) string {
	sum := sha256.Sum256([]byte(input))
	return Encode(sum[:])
}

// CodeChallenge derives the S256 challenge for a verifier.
func CodeChallenge(verifier string) string {
	return SHA256(verifier)
}

// ValidateCodeVerifier reports whether s is a well-formed PKCE verifier.
func ValidateCodeVerifier(s string) bool {
	if len(s) < minVerifierLength || len(s) > maxVerifierLength {
		return false
	}
	return verifierCharset.MatchString(s)
}
