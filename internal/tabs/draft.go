package tabs

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"
)

// Store is the durable string key-value storage drafts are kept in.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, keys ...string) error
}

// Pane is the in-memory note of a draft tab.
type Pane struct {
	Author  string `json:"author"`
	Content string `json:"content"`
	Chars   int    `json:"chars"`
	Words   int    `json:"words"`
}

func newPane(author, content string) Pane {
	return Pane{
		Author:  author,
		Content: content,
		Chars:   CharCount(content),
		Words:   WordCount(content),
	}
}

func (p Pane) empty() bool {
	return blank(p.Author) && blank(p.Content)
}

// Draft is the persisted state of a draft tab's note.
type Draft struct {
	TabID      string    `json:"tab_id"`
	Content    string    `json:"content"`
	AuthorName string    `json:"author"`
	SavedAt    time.Time `json:"saved_at"`
	Chars      int       `json:"chars"`
	Words      int       `json:"words"`
}

// CharCount counts the characters of content without trimming. It counts
// Unicode code points, so text outside the Basic Multilingual Plane (most
// emoji) counts one per character where a browser's String.length counts
// two UTF-16 units.
func CharCount(content string) int {
	return utf8.RuneCountInString(content)
}

// WordCount counts whitespace-delimited tokens; blank input has none.
func WordCount(content string) int {
	return len(strings.Fields(content))
}

// Storage keys for a tab's draft.
func draftKey(tabID string) string   { return "draft:" + tabID }
func authorKey(tabID string) string  { return "draft:" + tabID + ":author" }
func savedAtKey(tabID string) string { return "draft:" + tabID + ":savedAt" }

// DraftKeys returns every storage key written for tabID.
func DraftKeys(tabID string) []string {
	return []string{draftKey(tabID), authorKey(tabID), savedAtKey(tabID)}
}

func blank(s string) bool {
	return strings.TrimSpace(s) == ""
}
