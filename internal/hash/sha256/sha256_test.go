package sha256

import "testing"

// TestHasherHashDeterministic ensures repeated hashing yields the same digest.
func TestHasherHashDeterministic(t *testing.T) {
	t.Parallel()

	h := New()
	got, err := h.Hash([]byte("hello world"))
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	want := "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"
	if got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

// TestFingerprintIgnoresMapOrder checks that map insertion order does not leak into fingerprints.
func TestFingerprintIgnoresMapOrder(t *testing.T) {
	t.Parallel()

	h := New()
	a := map[string][]string{"first_prize": {"12345"}, "special_prize": {"99999"}}
	b := map[string][]string{"special_prize": {"99999"}, "first_prize": {"12345"}}
	fa, err := h.Fingerprint(a)
	if err != nil {
		t.Fatalf("Fingerprint(a) error = %v", err)
	}
	fb, err := h.Fingerprint(b)
	if err != nil {
		t.Fatalf("Fingerprint(b) error = %v", err)
	}
	if fa != fb {
		t.Fatalf("expected equal fingerprints, got %s vs %s", fa, fb)
	}

	b["first_prize"] = []string{"54321"}
	fc, err := h.Fingerprint(b)
	if err != nil {
		t.Fatalf("Fingerprint(c) error = %v", err)
	}
	if fc == fa {
		t.Fatal("expected fingerprint to change with content")
	}
}

func TestFingerprintRejectsUnencodable(t *testing.T) {
	t.Parallel()

	if _, err := New().Fingerprint(make(chan int)); err == nil {
		t.Fatal("expected marshal error")
	}
}
