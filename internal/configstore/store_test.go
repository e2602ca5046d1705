package configstore

import (
	"context"
	"reflect"
	"testing"
)

func TestKeyRoundTrip(t *testing.T) {
	key := Key{Community: "guild-1", Category: "cat-1", Owner: "user-1"}
	parsed, err := ParseKey(key.String())
	if err != nil {
		t.Fatalf("ParseKey: %v", err)
	}
	if parsed != key {
		t.Fatalf("parsed = %+v, want %+v", parsed, key)
	}
}

func TestParseKeyRejectsMalformed(t *testing.T) {
	for _, raw := range []string{"", "a:b", "a:b:c:d", "a::c", ":b:c"} {
		if _, err := ParseKey(raw); err == nil {
			t.Errorf("ParseKey(%q): expected error", raw)
		}
	}
}

func TestNormalizeDedupsAndSorts(t *testing.T) {
	config := RoomConfig{
		Name:   "  my room ",
		Blocks: []string{"b", "a", "b", ""},
		Mutes:  []string{"z", "z"},
	}
	normalized := config.Normalize()
	if normalized.Name != "my room" {
		t.Fatalf("name = %q", normalized.Name)
	}
	if !reflect.DeepEqual(normalized.Blocks, []string{"a", "b"}) {
		t.Fatalf("blocks = %v", normalized.Blocks)
	}
	if !reflect.DeepEqual(normalized.Mutes, []string{"z"}) {
		t.Fatalf("mutes = %v", normalized.Mutes)
	}
}

func TestNormalizeComposesName(t *testing.T) {
	// "e" followed by a combining acute accent must collapse to the
	// precomposed form.
	config := RoomConfig{Name: "cafe\u0301"}
	if got := config.Normalize().Name; got != "caf\u00e9" {
		t.Fatalf("name = %q, want NFC form", got)
	}
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	key := Key{Community: "g", Category: "c", Owner: "o"}

	if _, found, err := store.Get(ctx, key); err != nil || found {
		t.Fatalf("Get on empty store: found=%v err=%v", found, err)
	}

	config := RoomConfig{Name: "den", Blocks: []string{"b", "a"}}
	if err := store.Put(ctx, key, config); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, found, err := store.Get(ctx, key)
	if err != nil || !found {
		t.Fatalf("Get: found=%v err=%v", found, err)
	}
	if !reflect.DeepEqual(got.Blocks, []string{"a", "b"}) {
		t.Fatalf("stored blocks = %v, want normalized order", got.Blocks)
	}

	if err := store.Remove(ctx, key); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, found, _ := store.Get(ctx, key); found {
		t.Fatal("config should be gone after Remove")
	}
	if err := store.Remove(ctx, key); err != nil {
		t.Fatalf("Remove must be idempotent: %v", err)
	}
}
