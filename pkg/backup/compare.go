package backup

import (
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/forest6511/bwbackup/pkg/bitwarden"
)

// Diff lists items that differ between two exports. Lines have the form
// "type<TAB>folder/name"; no secret field is ever included.
type Diff struct {
	Added     []string `json:"added"`
	Removed   []string `json:"removed"`
	Unchanged int      `json:"unchanged"`
	Patch     string   `json:"patch,omitempty"`
}

// Empty reports whether the two exports list the same items.
func (d *Diff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0
}

// Compare diffs the item listings of two plaintext exports.
func Compare(oldPlain, newPlain []byte) (*Diff, error) {
	oldList, err := bitwarden.Listing(oldPlain)
	if err != nil {
		return nil, err
	}
	newList, err := bitwarden.Listing(newPlain)
	if err != nil {
		return nil, err
	}
	oldText := joinLines(oldList)
	newText := joinLines(newList)

	dmp := diffmatchpatch.New()
	a, b, lineArray := dmp.DiffLinesToChars(oldText, newText)
	diffs := dmp.DiffMain(a, b, false)
	diffs = dmp.DiffCharsToLines(diffs, lineArray)

	d := &Diff{}
	for _, df := range diffs {
		lines := splitLines(df.Text)
		switch df.Type {
		case diffmatchpatch.DiffInsert:
			d.Added = append(d.Added, lines...)
		case diffmatchpatch.DiffDelete:
			d.Removed = append(d.Removed, lines...)
		case diffmatchpatch.DiffEqual:
			d.Unchanged += len(lines)
		}
	}
	if !d.Empty() {
		d.Patch = dmp.PatchToText(dmp.PatchMake(oldText, diffs))
	}
	return d, nil
}

func joinLines(lines []string) string {
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n") + "\n"
}

func splitLines(s string) []string {
	s = strings.TrimSuffix(s, "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}
