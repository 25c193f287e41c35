package security

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// ReuseGroup is a set of item ids that share one password.
type ReuseGroup struct {
	IDs   []string `json:"ids"`
	Count int      `json:"count"`
}

// ReuseDetector finds values shared by several items without keeping the
// values themselves. Each detector hashes with its own random HMAC key, so
// hashes are useless outside the process and are never persisted.
type ReuseDetector struct {
	key    []byte
	groups map[string][]string
}

// NewReuseDetector creates a detector with a fresh session-local key.
func NewReuseDetector() (*ReuseDetector, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("security: failed to generate hash key: %w", err)
	}
	return &ReuseDetector{key: key, groups: make(map[string][]string)}, nil
}

// Add records that item id uses value. Blank values are ignored.
func (d *ReuseDetector) Add(id, value string) {
	value = strings.TrimSpace(value)
	if value == "" {
		return
	}
	h := hmac.New(sha256.New, d.key)
	h.Write([]byte(value))
	sum := hex.EncodeToString(h.Sum(nil))
	d.groups[sum] = append(d.groups[sum], id)
}

// Groups returns every value used by more than one item, most reused first.
func (d *ReuseDetector) Groups() []ReuseGroup {
	var groups []ReuseGroup
	for _, ids := range d.groups {
		if len(ids) < 2 {
			continue
		}
		groups = append(groups, ReuseGroup{IDs: append([]string(nil), ids...), Count: len(ids)})
	}
	sort.Slice(groups, func(i, j int) bool {
		if groups[i].Count != groups[j].Count {
			return groups[i].Count > groups[j].Count
		}
		return groups[i].IDs[0] < groups[j].IDs[0]
	})
	return groups
}
