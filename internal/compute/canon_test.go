package compute

import "testing"

func TestCanonicalizeArgsSortsKeys(t *testing.T) {
	a := CanonicalizeArgs(map[string]string{"b": "2", "a": "1"})
	b := CanonicalizeArgs(map[string]string{"a": "1", "b": "2"})
	if a != b {
		t.Fatalf("expected key order independence: %q vs %q", a, b)
	}
	if a != `{"a":"1","b":"2"}` {
		t.Fatalf("unexpected canonical form: %q", a)
	}
}

func TestCanonicalizeArgsEmpty(t *testing.T) {
	if got := CanonicalizeArgs(nil); got != "{}" {
		t.Fatalf("expected {} for nil args, got %q", got)
	}
	if got := CanonicalizeArgs(map[string]string{}); got != "{}" {
		t.Fatalf("expected {} for empty args, got %q", got)
	}
}

func TestArgsHashStableUnderKeyOrder(t *testing.T) {
	h1 := ArgsHash(map[string]string{"address": "wasm1abc", "contract": "wasm1def"})
	h2 := ArgsHash(map[string]string{"contract": "wasm1def", "address": "wasm1abc"})
	if h1 != h2 {
		t.Fatalf("hash depends on map iteration order: %s vs %s", h1, h2)
	}
}

func TestArgsHashDiffersOnValueChange(t *testing.T) {
	h1 := ArgsHash(map[string]string{"address": "wasm1abc"})
	h2 := ArgsHash(map[string]string{"address": "wasm1xyz"})
	if h1 == h2 {
		t.Fatal("expected different args to hash differently")
	}
}
