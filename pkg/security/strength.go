// Package security validates backup file locations and rates the credentials
// that pass through a backup run.
package security

// PasswordStrength represents the strength level of a password or API key.
type PasswordStrength int

const (
	// PasswordWeak indicates an insecure password (less than 8 chars for passwords, 16 for API keys).
	PasswordWeak PasswordStrength = iota
	// PasswordFair indicates a minimally acceptable password.
	PasswordFair
	// PasswordGood indicates a good password.
	PasswordGood
	// PasswordStrong indicates a strong password.
	PasswordStrong
)

// String returns a human-readable representation of the password strength.
func (s PasswordStrength) String() string {
	switch s {
	case PasswordWeak:
		return "Weak"
	case PasswordFair:
		return "Fair"
	case PasswordGood:
		return "Good"
	case PasswordStrong:
		return "Strong"
	default:
		return "Unknown"
	}
}

// CredentialKind selects the rating rule for a value.
type CredentialKind int

const (
	// KindPassword is a human-chosen password.
	KindPassword CredentialKind = iota
	// KindToken is a machine-generated secret such as an API client secret.
	KindToken
)

// Rate returns the strength of value for the given kind.
func Rate(value string, kind CredentialKind) PasswordStrength {
	if kind == KindToken {
		return rateToken(value)
	}
	return ratePassword(value)
}

// CheckPasswordStrength rates the password used to encrypt backup files.
// Backups are still written with a weak password; callers log a warning.
func CheckPasswordStrength(password string) PasswordStrength {
	return ratePassword(password)
}

// ratePassword follows NIST SP 800-63B: length is the only factor,
// composition rules are not applied.
func ratePassword(value string) PasswordStrength {
	length := len(value)

	switch {
	case length >= 20:
		return PasswordStrong
	case length >= 14:
		return PasswordGood
	case length >= 8:
		return PasswordFair
	default:
		return PasswordWeak
	}
}

// rateToken evaluates random strings, where length tracks entropy:
// 32+ chars Strong, 20+ Good, 16+ Fair.
func rateToken(value string) PasswordStrength {
	length := len(value)

	switch {
	case length >= 32:
		return PasswordStrong
	case length >= 20:
		return PasswordGood
	case length >= 16:
		return PasswordFair
	default:
		return PasswordWeak
	}
}
