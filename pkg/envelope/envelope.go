// Package envelope implements the versioned encrypted backup file format.
//
// Layout on disk (no padding, no length prefixes):
//
//	version:u32-BE | salt:16 | nonce:12 | ciphertext||tag
//
// The version selects the key-derivation scheme from pkg/crypto. Encryption
// always writes crypto.VersionCurrent; decryption accepts every version in the
// key-derivation table so older backups stay readable.
package envelope

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/forest6511/bwbackup/pkg/crypto"
)

const (
	// VersionLength is the size of the big-endian version tag.
	VersionLength = 4

	// HeaderLength is the fixed prefix before the ciphertext.
	HeaderLength = VersionLength + crypto.SaltLength + crypto.NonceLength

	// MinLength is the smallest well-formed envelope (empty plaintext).
	MinLength = HeaderLength + crypto.TagLength
)

// Envelope is the unit persisted to disk.
type Envelope struct {
	Version    crypto.Version
	Salt       []byte
	Nonce      []byte
	Ciphertext []byte // AEAD ciphertext with the 16-byte tag appended
}

// Marshal serializes the envelope into its on-disk byte layout.
func (e *Envelope) Marshal() []byte {
	out := make([]byte, VersionLength, HeaderLength+len(e.Ciphertext))
	binary.BigEndian.PutUint32(out, uint32(e.Version))
	out = append(out, e.Salt...)
	out = append(out, e.Nonce...)
	out = append(out, e.Ciphertext...)
	return out
}

// Parse splits raw bytes into envelope fields without decrypting.
//
// The version is checked before the remaining fields so an unknown version is
// reported as ErrUnsupportedVersion even when the rest of the input is short.
// The returned slices alias data.
func Parse(data []byte) (*Envelope, error) {
	if len(data) < VersionLength {
		return nil, fmt.Errorf("%w: missing version header (%d bytes)", ErrMalformedEnvelope, len(data))
	}
	version := crypto.Version(binary.BigEndian.Uint32(data[:VersionLength]))
	if !crypto.Supported(version) {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, version)
	}

	offset := VersionLength
	if len(data) < offset+crypto.SaltLength {
		return nil, fmt.Errorf("%w: truncated salt", ErrMalformedEnvelope)
	}
	salt := data[offset : offset+crypto.SaltLength]
	offset += crypto.SaltLength

	if len(data) < offset+crypto.NonceLength {
		return nil, fmt.Errorf("%w: truncated nonce", ErrMalformedEnvelope)
	}
	nonce := data[offset : offset+crypto.NonceLength]
	offset += crypto.NonceLength

	if len(data)-offset < crypto.TagLength {
		return nil, fmt.Errorf("%w: ciphertext shorter than authentication tag", ErrMalformedEnvelope)
	}

	return &Envelope{
		Version:    version,
		Salt:       salt,
		Nonce:      nonce,
		Ciphertext: data[offset:],
	}, nil
}

// Encrypt seals plaintext under a key derived from password with the current
// version's KDF. Salt and nonce are fresh for every call, so encrypting the
// same input twice never produces the same envelope.
func Encrypt(plaintext []byte, password string) (*Envelope, error) {
	salt, err := crypto.GenerateRandom(crypto.SaltLength)
	if err != nil {
		return nil, fmt.Errorf("envelope: failed to generate salt: %w", err)
	}

	key, err := crypto.DeriveKey(crypto.VersionCurrent, []byte(password), salt)
	if err != nil {
		return nil, err
	}
	defer crypto.SecureWipe(key)

	ciphertext, nonce, err := crypto.Encrypt(key, plaintext)
	if err != nil {
		return nil, fmt.Errorf("envelope: encryption failed: %w", err)
	}

	return &Envelope{
		Version:    crypto.VersionCurrent,
		Salt:       salt,
		Nonce:      nonce,
		Ciphertext: ciphertext,
	}, nil
}

// Seal is Encrypt followed by Marshal.
func Seal(plaintext []byte, password string) ([]byte, error) {
	env, err := Encrypt(plaintext, password)
	if err != nil {
		return nil, err
	}
	return env.Marshal(), nil
}

// Open decrypts a parsed envelope. Any tag failure is ErrAuthentication and no
// partial plaintext is returned.
func (e *Envelope) Open(password string) ([]byte, error) {
	key, err := crypto.DeriveKey(e.Version, []byte(password), e.Salt)
	if err != nil {
		return nil, err
	}
	defer crypto.SecureWipe(key)

	plaintext, err := crypto.Decrypt(key, e.Ciphertext, e.Nonce)
	if err != nil {
		if errors.Is(err, crypto.ErrDecryptionFailed) || errors.Is(err, crypto.ErrCiphertextTooShort) {
			return nil, ErrAuthentication
		}
		return nil, fmt.Errorf("envelope: %w", err)
	}
	return plaintext, nil
}

// Decrypt parses data and returns the plaintext it protects.
func Decrypt(data []byte, password string) ([]byte, error) {
	env, err := Parse(data)
	if err != nil {
		return nil, err
	}
	return env.Open(password)
}
