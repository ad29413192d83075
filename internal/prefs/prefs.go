package prefs

import (
	"context"
	"fmt"

	"github.com/rhye/rhye-dev/internal/kv"
)

// Theme is the page colour scheme.
type Theme string

const (
	Light Theme = "light"
	Dark  Theme = "dark"
)

const (
	themeKey   = "theme"
	visitedKey = "visited-before"
)

// Icon is the toggle glyph shown for a theme: the sun offers a way back to light.
func (t Theme) Icon() string {
	if t == Dark {
		return "bx bxs-sun"
	}
	return "bx bxs-moon"
}

// LoadTheme returns the saved theme, light when nothing valid is stored.
func LoadTheme(ctx context.Context, store kv.Store) (Theme, error) {
	v, ok, err := store.Get(ctx, themeKey)
	if err != nil {
		return Light, fmt.Errorf("load theme: %w", err)
	}
	if !ok || Theme(v) != Dark {
		return Light, nil
	}
	return Dark, nil
}

// ToggleTheme flips and persists the theme.
func ToggleTheme(ctx context.Context, store kv.Store) (Theme, error) {
	current, err := LoadTheme(ctx, store)
	if err != nil {
		return current, err
	}
	next := Dark
	if current == Dark {
		next = Light
	}
	if err := store.Set(ctx, themeKey, string(next)); err != nil {
		return current, fmt.Errorf("save theme: %w", err)
	}
	return next, nil
}

// FirstVisit reports true the first time it is called for a store and marks
// the store as visited.
func FirstVisit(ctx context.Context, store kv.Store) (bool, error) {
	_, seen, err := store.Get(ctx, visitedKey)
	if err != nil {
		return false, fmt.Errorf("load visited flag: %w", err)
	}
	if seen {
		return false, nil
	}
	if err := store.Set(ctx, visitedKey, "true"); err != nil {
		return false, fmt.Errorf("save visited flag: %w", err)
	}
	return true, nil
}
