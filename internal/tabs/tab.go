package tabs

import (
	"fmt"
	"strings"
)

// Kind distinguishes fixed tabs from user-created ones.
type Kind int

const (
	// KindPermanent tabs always exist and cannot be closed.
	KindPermanent Kind = iota
	// KindDraft tabs hold a note and can be renamed and closed.
	KindDraft
)

func (k Kind) String() string {
	switch k {
	case KindPermanent:
		return "permanent"
	case KindDraft:
		return "draft"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// MarshalText renders the kind as its name.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(text []byte) error {
	switch string(text) {
	case "permanent":
		*k = KindPermanent
	case "draft":
		*k = KindDraft
	default:
		return fmt.Errorf("unknown tab kind %q", text)
	}
	return nil
}

// Tab is a snapshot of one navigable pane.
type Tab struct {
	ID     string `json:"id"`
	Kind   Kind   `json:"kind"`
	Title  string `json:"title"`
	Seq    int    `json:"seq,omitempty"`
	Active bool   `json:"active"`
}

// DefaultTitle is the label a draft tab falls back to when renamed to nothing.
func (t Tab) DefaultTitle() string {
	if t.Kind != KindDraft {
		return t.Title
	}
	return draftTitle(t.Seq)
}

// Closable reports whether the tab may be removed.
func (t Tab) Closable() bool {
	return t.Kind == KindDraft
}

type permanentTab struct {
	id    string
	title string
	slug  string
}

// Display order of the fixed tabs; the first one receives focus when an
// active draft tab is closed.
var permanentTabs = []permanentTab{
	{id: "about", title: "About", slug: "about"},
	{id: "likes", title: "Likes", slug: "likes"},
	{id: "journal", title: "Journal", slug: "journal"},
	{id: "links", title: "Links", slug: "links"},
	{id: "albums", title: "Albums", slug: "recommended-albums"},
}

// DefaultBaseAddress prefixes every address label.
const DefaultBaseAddress = "rhye.dev/"

// PermanentIDs lists the fixed tab ids in display order.
func PermanentIDs() []string {
	ids := make([]string, 0, len(permanentTabs))
	for _, p := range permanentTabs {
		ids = append(ids, p.id)
	}
	return ids
}

// IsPermanent reports whether id names a fixed tab.
func IsPermanent(id string) bool {
	for _, p := range permanentTabs {
		if p.id == id {
			return true
		}
	}
	return false
}

// AddressFor returns the address label shown for a tab id. Ids outside the
// slug table (all draft tabs) use the id itself.
func AddressFor(base, id string) string {
	slug := id
	for _, p := range permanentTabs {
		if p.id == id {
			slug = p.slug
			break
		}
	}
	return base + strings.ToLower(slug)
}

func draftID(seq int) string {
	return fmt.Sprintf("custom-%d", seq)
}

func draftTitle(seq int) string {
	return fmt.Sprintf("Random %d", seq)
}
