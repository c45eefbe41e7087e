package bouncekey

import "testing"

func TestGenerateRoundTrip(t *testing.T) {
	k, err := Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(k) != 32 {
		t.Fatalf("Generate: got %d bytes, want 32", len(k))
	}
	parsed, err := Parse(k.String())
	if err != nil {
		t.Fatalf("Parse(%q): %v", k.String(), err)
	}
	if string(parsed) != string(k) {
		t.Fatalf("round trip mismatch: %v != %v", parsed, k)
	}
}

func TestParseRejectsBadLength(t *testing.T) {
	for _, n := range []int{0, 1, 15, 17, 33} {
		b := make([]byte, n)
		k := Key(b)
		if _, err := Parse(k.String()); err == nil {
			t.Fatalf("Parse accepted %d-byte key", n)
		}
	}
}

func TestParseRejectsBadBase64(t *testing.T) {
	if _, err := Parse("not valid base64!!"); err == nil {
		t.Fatal("Parse accepted invalid base64")
	}
}

func TestValidLengths(t *testing.T) {
	for _, n := range []int{16, 24, 32} {
		if !Key(make([]byte, n)).Valid() {
			t.Fatalf("Valid() false for %d-byte key", n)
		}
	}
}
