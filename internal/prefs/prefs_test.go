package prefs

import (
	"context"
	"testing"

	"github.com/rhye/rhye-dev/internal/kv"
)

func TestThemeDefaultsToLight(t *testing.T) {
	store := kv.NewMemory()
	theme, err := LoadTheme(context.Background(), store)
	if err != nil || theme != Light {
		t.Fatalf("expected light, got %q %v", theme, err)
	}
	_ = store.Set(context.Background(), "theme", "purple")
	if theme, _ := LoadTheme(context.Background(), store); theme != Light {
		t.Fatalf("unknown values fall back to light, got %q", theme)
	}
}

func TestToggleThemePersists(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory()

	theme, err := ToggleTheme(ctx, store)
	if err != nil || theme != Dark {
		t.Fatalf("expected dark, got %q %v", theme, err)
	}
	if v, _, _ := store.Get(ctx, "theme"); v != "dark" {
		t.Fatalf("expected stored dark, got %q", v)
	}
	if theme.Icon() != "bx bxs-sun" {
		t.Fatalf("unexpected icon %q", theme.Icon())
	}
	theme, _ = ToggleTheme(ctx, store)
	if theme != Light {
		t.Fatalf("expected light, got %q", theme)
	}
}

func TestFirstVisitIsOneShot(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory()
	first, err := FirstVisit(ctx, store)
	if err != nil || !first {
		t.Fatalf("expected first visit, got %v %v", first, err)
	}
	again, _ := FirstVisit(ctx, store)
	if again {
		t.Fatalf("second call must report a returning visitor")
	}
	if v, _, _ := store.Get(ctx, "visited-before"); v != "true" {
		t.Fatalf("unexpected flag %q", v)
	}
}
