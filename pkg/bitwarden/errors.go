package bitwarden

import "errors"

var (
	// ErrConfigure is returned when the server URL cannot be set.
	ErrConfigure = errors.New("bitwarden: failed to configure server")

	// ErrLogin is returned when login fails after all retries.
	ErrLogin = errors.New("bitwarden: login failed")

	// ErrUnlock is returned when unlock fails after all retries.
	ErrUnlock = errors.New("bitwarden: unlock failed")

	// ErrExport is returned when the vault export fails.
	ErrExport = errors.New("bitwarden: export failed")

	// ErrInvalidState is returned when an operation is called in the wrong session state.
	ErrInvalidState = errors.New("bitwarden: invalid session state")

	// ErrInvalidExport is returned when export data is not a Bitwarden JSON export.
	ErrInvalidExport = errors.New("bitwarden: invalid export data")
)
