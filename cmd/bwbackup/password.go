package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/forest6511/bwbackup/internal/keyring"
)

var (
	passwordStdin   bool
	keyringAccount  string
	errNoFilePasswd = errors.New("no file password: set BW_FILE_PASSWORD, store one with 'bwbackup keyring set', or run interactively")
)

// readPassword prompts on stderr and reads without echo.
func readPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	pw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return string(pw), nil
}

// readNewPassword prompts twice and requires both entries to match.
func readNewPassword(prompt string) (string, error) {
	pw1, err := readPassword(prompt + ": ")
	if err != nil {
		return "", err
	}
	pw2, err := readPassword("Confirm " + strings.ToLower(prompt[:1]) + prompt[1:] + ": ")
	if err != nil {
		return "", err
	}
	if pw1 != pw2 {
		return "", errors.New("passwords do not match")
	}
	if pw1 == "" {
		return "", errors.New("password cannot be empty")
	}
	return pw1, nil
}

// filePassword resolves the backup file password: --password-stdin, then
// the configuration, then the OS keyring, then an interactive prompt.
func filePassword() (string, error) {
	if passwordStdin {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return "", fmt.Errorf("failed to read password from stdin: %w", err)
		}
		return strings.TrimRight(line, "\r\n"), nil
	}
	if cfg.Backup.FilePassword != "" {
		return cfg.Backup.FilePassword, nil
	}
	pw, err := keyring.Password(keyringAccount)
	if err == nil {
		return pw, nil
	}
	if !errors.Is(err, keyring.ErrNotFound) {
		logger.Debug("keyring unavailable")
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return "", errNoFilePasswd
	}
	return readPassword("Enter file password: ")
}

func addPasswordFlags(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "Read the file password from the first line of stdin")
	cmd.Flags().StringVar(&keyringAccount, "keyring-account", keyring.DefaultAccount, "Keyring account holding the file password")
}
