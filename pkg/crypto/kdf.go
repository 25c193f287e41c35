package crypto

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/pbkdf2"
)

// Version identifies a key-derivation/cipher combination in a backup envelope.
type Version uint32

const (
	// VersionLegacy derives keys with PBKDF2-HMAC-SHA256.
	VersionLegacy Version = 1

	// VersionCurrent derives keys with Argon2id. New envelopes always use it.
	VersionCurrent Version = 2
)

// PBKDF2 parameters (legacy, version 1).
const (
	// PBKDF2Iterations follows the OWASP 2023 recommendation for SHA-256.
	PBKDF2Iterations = 600000
)

// Argon2id parameters (current, version 2).
const (
	// Argon2Memory is the memory cost in KiB (64MB).
	Argon2Memory = 64 * 1024

	// Argon2Time is the number of iterations.
	Argon2Time = 3

	// Argon2Threads is the degree of parallelism.
	Argon2Threads = 4
)

// ErrUnsupportedVersion indicates a version outside the key-derivation table.
var ErrUnsupportedVersion = errors.New("crypto: unsupported encryption version")

// KDFSpec describes the fixed key-derivation parameters of one version.
type KDFSpec struct {
	Version     Version
	Algorithm   string
	Iterations  uint32
	Memory      uint32 // KiB, Argon2id only
	Parallelism uint8  // Argon2id only

	derive func(password, salt []byte) []byte
}

// kdfTable is the closed set of supported versions. Adding a scheme means
// adding a row here; envelopes already on disk keep decrypting.
var kdfTable = map[Version]KDFSpec{
	VersionLegacy: {
		Version:    VersionLegacy,
		Algorithm:  "PBKDF2-HMAC-SHA256",
		Iterations: PBKDF2Iterations,
		derive: func(password, salt []byte) []byte {
			return pbkdf2.Key(password, salt, PBKDF2Iterations, KeyLength, sha256.New)
		},
	},
	VersionCurrent: {
		Version:     VersionCurrent,
		Algorithm:   "Argon2id",
		Iterations:  Argon2Time,
		Memory:      Argon2Memory,
		Parallelism: Argon2Threads,
		derive: func(password, salt []byte) []byte {
			return argon2.IDKey(password, salt, Argon2Time, Argon2Memory, Argon2Threads, KeyLength)
		},
	},
}

// Spec returns the key-derivation parameters for a version.
func Spec(v Version) (KDFSpec, error) {
	spec, ok := kdfTable[v]
	if !ok {
		return KDFSpec{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, v)
	}
	return spec, nil
}

// Supported reports whether v has an entry in the key-derivation table.
func Supported(v Version) bool {
	_, ok := kdfTable[v]
	return ok
}

// DeriveKey derives a 256-bit key from a password and salt using the
// algorithm registered for version v.
//
// The result is deterministic for a given (version, password, salt).
// Returns ErrUnsupportedVersion for any version outside the table.
func DeriveKey(v Version, password, salt []byte) ([]byte, error) {
	spec, err := Spec(v)
	if err != nil {
		return nil, err
	}
	return spec.derive(password, salt), nil
}
