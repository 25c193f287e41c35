package bitwarden

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/forest6511/bwbackup/pkg/security"
)

// Item type codes used in Bitwarden JSON exports.
const (
	TypeLogin      = 1
	TypeSecureNote = 2
	TypeCard       = 3
	TypeIdentity   = 4
	TypeSSHKey     = 5
)

// TypeName returns the display name of an item type code.
func TypeName(t int) string {
	switch t {
	case TypeLogin:
		return "login"
	case TypeSecureNote:
		return "note"
	case TypeCard:
		return "card"
	case TypeIdentity:
		return "identity"
	case TypeSSHKey:
		return "ssh_key"
	default:
		return fmt.Sprintf("type_%d", t)
	}
}

// exportDoc holds only the fields needed for summaries. Card numbers,
// notes and identity data are never decoded.
type exportDoc struct {
	Encrypted *bool          `json:"encrypted"`
	Folders   []exportFolder `json:"folders"`
	Items     []exportItem   `json:"items"`
}

type exportFolder struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type exportItem struct {
	ID       string       `json:"id"`
	Type     int          `json:"type"`
	Name     string       `json:"name"`
	FolderID *string      `json:"folderId"`
	Login    *exportLogin `json:"login"`
}

type exportLogin struct {
	Password string `json:"password"`
}

// Summary describes an export without any secret values.
type Summary struct {
	Items           int            `json:"items"`
	Folders         int            `json:"folders"`
	ByType          map[string]int `json:"by_type"`
	WeakPasswords   int            `json:"weak_passwords"`
	ReusedGroups    int            `json:"reused_password_groups"`
	ReusedPasswords int            `json:"reused_passwords"`
}

func parseExport(data []byte) (*exportDoc, error) {
	var doc exportDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidExport, err)
	}
	if doc.Encrypted == nil && doc.Items == nil {
		return nil, fmt.Errorf("%w: no items array", ErrInvalidExport)
	}
	if doc.Encrypted != nil && *doc.Encrypted {
		return nil, fmt.Errorf("%w: export is password protected", ErrInvalidExport)
	}
	return &doc, nil
}

// Summarize counts items by type and folders, and rates login passwords.
// Password values are only hashed in memory and never leave this function.
func Summarize(data []byte) (*Summary, error) {
	doc, err := parseExport(data)
	if err != nil {
		return nil, err
	}

	reuse, err := security.NewReuseDetector()
	if err != nil {
		return nil, err
	}

	sum := &Summary{
		Items:   len(doc.Items),
		Folders: len(doc.Folders),
		ByType:  make(map[string]int),
	}
	for i, item := range doc.Items {
		sum.ByType[TypeName(item.Type)]++
		if item.Login == nil || item.Login.Password == "" {
			continue
		}
		if security.Rate(item.Login.Password, security.KindPassword) == security.PasswordWeak {
			sum.WeakPasswords++
		}
		id := item.ID
		if id == "" {
			id = fmt.Sprintf("#%d", i)
		}
		reuse.Add(id, item.Login.Password)
	}

	for _, g := range reuse.Groups() {
		sum.ReusedGroups++
		sum.ReusedPasswords += g.Count
	}
	return sum, nil
}

// Listing returns one sorted line per item, "type<TAB>folder/name", for
// comparing exports. Items outside any folder have an empty folder part.
func Listing(data []byte) ([]string, error) {
	doc, err := parseExport(data)
	if err != nil {
		return nil, err
	}

	folders := make(map[string]string, len(doc.Folders))
	for _, f := range doc.Folders {
		folders[f.ID] = f.Name
	}

	lines := make([]string, 0, len(doc.Items))
	for _, item := range doc.Items {
		folder := ""
		if item.FolderID != nil {
			folder = folders[*item.FolderID]
		}
		name := strings.ReplaceAll(item.Name, "\n", " ")
		lines = append(lines, TypeName(item.Type)+"\t"+folder+"/"+name)
	}
	sort.Strings(lines)
	return lines, nil
}
