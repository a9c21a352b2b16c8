// Package credential verifies login secrets configured as user:pass pairs.
// Plaintext secrets are hashed with argon2id on load and discarded.
package credential

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	hashTime    uint32 = 3
	hashMemory  uint32 = 64 * 1024
	hashThreads uint8  = 2
	hashKeyLen  uint32 = 32
	hashSaltLen        = 16
)

// Roles of the binary authorization model.
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

var (
	errInvalidHash = errors.New("invalid credential hash")

	// ErrNoCredentials is returned when the configuration yields no usable pair.
	ErrNoCredentials = errors.New("credential: no user:pass pairs configured")
)

// Store maps usernames to argon2id hashes.
type Store struct {
	hashes map[string]string
	// dummy is verified for unknown users so both paths cost the same.
	dummy string
}

// Parse builds a Store from "user:pass,user2:pass2". Malformed pairs are skipped.
func Parse(raw string) (*Store, error) {
	s := &Store{hashes: make(map[string]string)}
	for _, pair := range strings.Split(raw, ",") {
		username, secret, ok := strings.Cut(strings.TrimSpace(pair), ":")
		username, secret = strings.TrimSpace(username), strings.TrimSpace(secret)
		if !ok || username == "" || secret == "" {
			continue
		}
		hash, err := Hash(secret)
		if err != nil {
			return nil, fmt.Errorf("hash secret for %s: %w", username, err)
		}
		s.hashes[username] = hash
	}
	if len(s.hashes) == 0 {
		return nil, ErrNoCredentials
	}
	dummy, err := Hash("unused")
	if err != nil {
		return nil, fmt.Errorf("hash placeholder: %w", err)
	}
	s.dummy = dummy
	return s, nil
}

// Authenticate checks the pair and returns the user's role.
func (s *Store) Authenticate(username, secret string) (string, bool) {
	hash, known := s.hashes[username]
	if !known {
		_, _ = Verify(secret, s.dummy)
		return "", false
	}
	ok, err := Verify(secret, hash)
	if err != nil || !ok {
		return "", false
	}
	return RoleFor(username), true
}

// Len reports how many users are configured.
func (s *Store) Len() int {
	return len(s.hashes)
}

// RoleFor returns admin for the "admin" username and user otherwise.
func RoleFor(username string) string {
	if username == RoleAdmin {
		return RoleAdmin
	}
	return RoleUser
}

// Hash returns an argon2id hash string including parameters and salt.
func Hash(secret string) (string, error) {
	salt := make([]byte, hashSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	sum := argon2.IDKey([]byte(secret), salt, hashTime, hashMemory, hashThreads, hashKeyLen)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		hashMemory,
		hashTime,
		hashThreads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(sum),
	), nil
}

// Verify checks secret against an encoded argon2id hash.
func Verify(secret, hash string) (bool, error) {
	parts := strings.Split(hash, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return false, errInvalidHash
	}
	if v, err := parseParam(parts[2], "v="); err != nil || v != argon2.Version {
		return false, errInvalidHash
	}

	params := strings.Split(parts[3], ",")
	if len(params) != 3 {
		return false, errInvalidHash
	}
	mem, err := parseParam(params[0], "m=")
	if err != nil {
		return false, errInvalidHash
	}
	timeCost, err := parseParam(params[1], "t=")
	if err != nil {
		return false, errInvalidHash
	}
	threads, err := parseParam(params[2], "p=")
	if err != nil || threads > 255 {
		return false, errInvalidHash
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, errInvalidHash
	}
	expected, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false, errInvalidHash
	}

	actual := argon2.IDKey([]byte(secret), salt, uint32(timeCost), uint32(mem), uint8(threads), uint32(len(expected)))
	return subtle.ConstantTimeCompare(actual, expected) == 1, nil
}

func parseParam(value, prefix string) (int, error) {
	if !strings.HasPrefix(value, prefix) {
		return 0, errInvalidHash
	}
	n, err := strconv.ParseUint(strings.TrimPrefix(value, prefix), 10, 32)
	if err != nil {
		return 0, errInvalidHash
	}
	return int(n), nil
}
