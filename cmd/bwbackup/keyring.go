package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/forest6511/bwbackup/internal/keyring"
	"github.com/forest6511/bwbackup/pkg/security"
)

func init() {
	rootCmd.AddCommand(keyringCmd)
	keyringCmd.AddCommand(keyringSetCmd)
	keyringCmd.AddCommand(keyringGetCmd)
	keyringCmd.AddCommand(keyringDeleteCmd)

	keyringCmd.PersistentFlags().StringVar(&keyringAccount, "account", keyring.DefaultAccount, "Keyring account name")
}

var keyringCmd = &cobra.Command{
	Use:   "keyring",
	Short: "Keep the file password in the OS keyring",
	Long: `Store the backup file password in the OS keyring so that decrypt, verify
and diff can run without BW_FILE_PASSWORD or a prompt.`,
}

var keyringSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Store the file password",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		pw, err := readNewPassword("File password")
		if err != nil {
			return err
		}
		if s := security.CheckPasswordStrength(pw); s < security.PasswordGood {
			fmt.Printf("Warning: password strength is %s\n", s)
		}
		if err := keyring.SavePassword(keyringAccount, pw); err != nil {
			return err
		}
		fmt.Printf("Password stored for account %q\n", keyringAccount)
		return nil
	},
}

var keyringGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Report whether a file password is stored",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !keyring.HasPassword(keyringAccount) {
			return fmt.Errorf("account %q: %w", keyringAccount, keyring.ErrNotFound)
		}
		fmt.Printf("Password stored for account %q\n", keyringAccount)
		return nil
	},
}

var keyringDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Remove the stored file password",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		err := keyring.DeletePassword(keyringAccount)
		if errors.Is(err, keyring.ErrNotFound) {
			fmt.Printf("No password stored for account %q\n", keyringAccount)
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Printf("Password removed for account %q\n", keyringAccount)
		return nil
	},
}
