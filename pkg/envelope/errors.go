package envelope

import (
	"errors"

	"github.com/forest6511/bwbackup/pkg/crypto"
)

// Envelope errors
var (
	// ErrMalformedEnvelope indicates the input is too short to hold the
	// fields its version requires.
	ErrMalformedEnvelope = errors.New("envelope: malformed backup file")

	// ErrUnsupportedVersion indicates the version tag has no key-derivation entry.
	// It is the same value as crypto.ErrUnsupportedVersion.
	ErrUnsupportedVersion = crypto.ErrUnsupportedVersion

	// ErrAuthentication indicates the authentication tag did not verify.
	// A wrong password and modified data are reported identically.
	ErrAuthentication = errors.New("envelope: decryption failed: invalid password or corrupted data")
)
