package runner

import (
	"bytes"
	"fmt"
	"sort"
	"sync"
)

// minSecretLength avoids masking short common substrings.
const minSecretLength = 4

// Sanitizer replaces known secret values with [REDACTED:NAME] placeholders.
// It is safe for concurrent use.
type Sanitizer struct {
	mu           sync.RWMutex
	replacements []replacement
}

type replacement struct {
	secret      []byte
	placeholder []byte
}

// Add registers a secret. Values shorter than four bytes are ignored.
func (s *Sanitizer) Add(name string, value []byte) {
	if len(value) < minSecretLength {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.replacements {
		if bytes.Equal(r.secret, value) {
			return
		}
	}
	s.replacements = append(s.replacements, replacement{
		secret:      bytes.Clone(value),
		placeholder: []byte(fmt.Sprintf("[REDACTED:%s]", name)),
	})
	// Longest first, so a secret containing another is masked whole.
	sort.SliceStable(s.replacements, func(i, j int) bool {
		return len(s.replacements[i].secret) > len(s.replacements[j].secret)
	})
}

// Sanitize returns data with every registered secret masked.
func (s *Sanitizer) Sanitize(data []byte) []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := data
	for _, r := range s.replacements {
		if bytes.Contains(result, r.secret) {
			result = bytes.ReplaceAll(result, r.secret, r.placeholder)
		}
	}
	return result
}

// SanitizeString is Sanitize for strings.
func (s *Sanitizer) SanitizeString(v string) string {
	return string(s.Sanitize([]byte(v)))
}
