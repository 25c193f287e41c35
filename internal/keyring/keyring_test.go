package keyring

import (
	"errors"
	"testing"

	"github.com/zalando/go-keyring"
)

func TestPasswordLifecycle(t *testing.T) {
	keyring.MockInit()

	if HasPassword("") {
		t.Fatal("expected no password before saving")
	}
	if _, err := Password(""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Password() error = %v, want ErrNotFound", err)
	}

	if err := SavePassword("", "file-secret"); err != nil {
		t.Fatalf("SavePassword() error = %v", err)
	}
	if !HasPassword(DefaultAccount) {
		t.Error("empty account name should map to the default account")
	}
	got, err := Password("")
	if err != nil || got != "file-secret" {
		t.Errorf("Password() = %q, %v", got, err)
	}

	if err := DeletePassword(""); err != nil {
		t.Fatalf("DeletePassword() error = %v", err)
	}
	if err := DeletePassword(""); !errors.Is(err, ErrNotFound) {
		t.Errorf("second DeletePassword() error = %v, want ErrNotFound", err)
	}
}

func TestAccountsAreSeparate(t *testing.T) {
	keyring.MockInit()

	if err := SavePassword("prod", "one"); err != nil {
		t.Fatal(err)
	}
	if err := SavePassword("staging", "two"); err != nil {
		t.Fatal(err)
	}
	for name, want := range map[string]string{"prod": "one", "staging": "two"} {
		if got, _ := Password(name); got != want {
			t.Errorf("Password(%s) = %q, want %q", name, got, want)
		}
	}
}

func TestSaveRejectsEmpty(t *testing.T) {
	keyring.MockInit()
	if err := SavePassword("x", ""); err == nil {
		t.Error("expected error for empty password")
	}
}
