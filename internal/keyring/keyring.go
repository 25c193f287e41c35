// Package keyring keeps the backup file password in the OS keyring so that
// decrypt and verify can run without a prompt.
package keyring

import (
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

const serviceName = "bwbackup"

// DefaultAccount is used when no account name is given.
const DefaultAccount = "file-password"

// ErrNotFound is returned when no password is stored for the account.
var ErrNotFound = errors.New("keyring: no password stored")

func account(name string) string {
	if name == "" {
		return DefaultAccount
	}
	return name
}

// SavePassword stores password under the given account.
func SavePassword(name, password string) error {
	if password == "" {
		return fmt.Errorf("keyring: refusing to store an empty password")
	}
	if err := keyring.Set(serviceName, account(name), password); err != nil {
		return fmt.Errorf("keyring: %w", err)
	}
	return nil
}

// Password returns the stored password for the account.
func Password(name string) (string, error) {
	pw, err := keyring.Get(serviceName, account(name))
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("keyring: %w", err)
	}
	return pw, nil
}

// DeletePassword removes the stored password. Deleting a missing entry
// returns ErrNotFound.
func DeletePassword(name string) error {
	if err := keyring.Delete(serviceName, account(name)); err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("keyring: %w", err)
	}
	return nil
}

// HasPassword reports whether a password is stored for the account.
func HasPassword(name string) bool {
	_, err := keyring.Get(serviceName, account(name))
	return err == nil
}
