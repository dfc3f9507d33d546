// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 OTPGate Contributors

package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/samber/oops"
	"golang.org/x/crypto/argon2"
)

// argon2id parameters (OWASP recommendations).
const (
	argon2Time    = 1
	argon2Memory  = 64 * 1024 // KiB
	argon2Threads = 4
	argon2SaltLen = 16
	argon2KeyLen  = 32
)

// ErrEmptyPassword is returned when attempting to hash an empty password.
var ErrEmptyPassword = oops.Code("AUTH_EMPTY_PASSWORD").Errorf("password cannot be empty")

// PasswordHasher is the one-way hash capability consumed by the auth core.
type PasswordHasher interface {
	// Hash produces an opaque hash of the plaintext password.
	Hash(password string) (string, error)

	// Verify checks the password against the stored hash.
	// Returns (true, nil) on match, (false, nil) on mismatch, or an error
	// for an unparseable hash.
	Verify(password, hash string) (bool, error)

	// NeedsUpgrade reports whether the stored hash predates the current
	// scheme and should be recomputed on the next successful login.
	NeedsUpgrade(hash string) bool
}

// Argon2idHasher implements PasswordHasher using argon2id, encoding hashes
// in the PHC string format:
//
//	$argon2id$v=19$m=65536,t=1,p=4$<salt>$<hash>
type Argon2idHasher struct{}

// NewArgon2idHasher creates a new Argon2idHasher.
func NewArgon2idHasher() *Argon2idHasher {
	return &Argon2idHasher{}
}

// Hash produces an argon2id hash of the password with a random salt.
func (h *Argon2idHasher) Hash(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}

	salt := make([]byte, argon2SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", oops.Code("AUTH_SALT_FAILED").Wrap(err)
	}

	key := argon2.IDKey([]byte(password), salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen)

	encoded := fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		argon2Memory,
		argon2Time,
		argon2Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	)
	return encoded, nil
}

// Verify recomputes the hash with the parameters embedded in encodedHash
// and compares in constant time.
func (h *Argon2idHasher) Verify(password, encodedHash string) (bool, error) {
	salt, expected, memory, time, threads, err := decodeArgon2id(encodedHash)
	if err != nil {
		return false, err
	}

	computed := argon2.IDKey([]byte(password), salt, time, memory, threads, uint32(len(expected)))
	return subtle.ConstantTimeCompare(computed, expected) == 1, nil
}

// NeedsUpgrade reports true for any hash not produced by argon2id
// (e.g. a bcrypt hash imported from an older system).
func (h *Argon2idHasher) NeedsUpgrade(hash string) bool {
	return !strings.HasPrefix(hash, "$argon2id$")
}

// decodeArgon2id parses a PHC-format argon2id hash into its salt, key, and
// cost parameters.
func decodeArgon2id(encodedHash string) (salt, key []byte, memory, time uint32, threads uint8, err error) {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 {
		return nil, nil, 0, 0, 0, oops.Code("AUTH_INVALID_HASH").Errorf("invalid hash format")
	}
	if parts[1] != "argon2id" {
		return nil, nil, 0, 0, 0, oops.Code("AUTH_INVALID_HASH").Errorf("unsupported hash algorithm: %s", parts[1])
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return nil, nil, 0, 0, 0, oops.Code("AUTH_INVALID_HASH").Wrap(err)
	}

	var par uint32
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &time, &par); err != nil {
		return nil, nil, 0, 0, 0, oops.Code("AUTH_INVALID_HASH").Wrap(err)
	}
	// Parallelism must fit in uint8; reject instead of silently truncating.
	if par > 255 {
		return nil, nil, 0, 0, 0, oops.Code("AUTH_INVALID_HASH").Errorf("threads value %d exceeds uint8 max", par)
	}
	threads = uint8(par)

	salt, err = base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return nil, nil, 0, 0, 0, oops.Code("AUTH_INVALID_HASH").Wrap(err)
	}
	key, err = base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return nil, nil, 0, 0, 0, oops.Code("AUTH_INVALID_HASH").Wrap(err)
	}
	if len(key) == 0 || len(key) > 1<<30 {
		return nil, nil, 0, 0, 0, oops.Code("AUTH_INVALID_HASH").Errorf("invalid hash key length: %d", len(key))
	}
	return salt, key, memory, time, threads, nil
}
