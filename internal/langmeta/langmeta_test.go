package langmeta

import "testing"

func TestIsSupported(t *testing.T) {
	for _, code := range []string{"en", "hi", "ta", "bn", "ur"} {
		if !IsSupported(code) {
			t.Fatalf("IsSupported(%q) = false, want true", code)
		}
	}
	for _, code := range []string{"", "fr", "EN", "hindi"} {
		if IsSupported(code) {
			t.Fatalf("IsSupported(%q) = true, want false", code)
		}
	}
}

func TestName(t *testing.T) {
	if got := Name("hi"); got != "Hindi" {
		t.Fatalf("Name(hi) = %q, want Hindi", got)
	}
	if got := Name("xx"); got != "Unknown" {
		t.Fatalf("Name(xx) = %q, want Unknown", got)
	}
}

func TestSupportedCoversBaseLanguage(t *testing.T) {
	if !IsSupported(BaseLanguage) {
		t.Fatalf("base language %q not in supported set", BaseLanguage)
	}
	codes := Supported()
	if len(codes) != 13 {
		t.Fatalf("len(Supported()) = %d, want 13", len(codes))
	}
	seen := make(map[string]bool, len(codes))
	for _, code := range codes {
		if seen[code] {
			t.Fatalf("duplicate code %q", code)
		}
		seen[code] = true
	}
}
