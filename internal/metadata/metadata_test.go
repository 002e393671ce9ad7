package metadata

import (
	"errors"
	"strings"
	"testing"
)

func TestParse_Valid(t *testing.T) {
	m, err := Parse("  Mini Pump Token ", "MPT", "https://example.com/mpt.json")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Name != "Mini Pump Token" {
		t.Errorf("expected trimmed name, got %q", m.Name)
	}
	if m.Symbol != "MPT" {
		t.Errorf("expected symbol=MPT, got %s", m.Symbol)
	}
}

func TestParse_Schemes(t *testing.T) {
	tests := []struct {
		uri string
		ok  bool
	}{
		{"https://example.com/a.json", true},
		{"http://example.com/a.json", true},
		{"ipfs://bafybeigdyrzt5sfp7udm7hu76uh7y26nf3efuylqabf3oclgtqy55fbzdi", true},
		{"ar://abc123", true},
		{"ftp://example.com/a.json", false},
		{"javascript:alert(1)", false},
		{"example.com/a.json", false},
		{"https://", false},
		{"", false},
	}
	for _, tt := range tests {
		_, err := Parse("Token", "TKN", tt.uri)
		if tt.ok && err != nil {
			t.Errorf("uri %q: unexpected error: %v", tt.uri, err)
		}
		if !tt.ok && !errors.Is(err, ErrInvalidURI) {
			t.Errorf("uri %q: expected ErrInvalidURI, got %v", tt.uri, err)
		}
	}
}

func TestParse_InvalidSymbol(t *testing.T) {
	for _, sym := range []string{"", "mpt", "TOOLONGSYMBOL", "M-P", "MP T"} {
		if _, err := Parse("Token", sym, "https://example.com"); !errors.Is(err, ErrInvalidSymbol) {
			t.Errorf("symbol %q: expected ErrInvalidSymbol, got %v", sym, err)
		}
	}
}

func TestParse_NameLength(t *testing.T) {
	if _, err := Parse("", "TKN", "https://example.com"); !errors.Is(err, ErrInvalidName) {
		t.Errorf("expected ErrInvalidName for empty name, got %v", err)
	}
	if _, err := Parse(strings.Repeat("a", MaxNameLen+1), "TKN", "https://example.com"); !errors.Is(err, ErrInvalidName) {
		t.Errorf("expected ErrInvalidName for long name, got %v", err)
	}
	// Multi-byte runes count once.
	if _, err := Parse(strings.Repeat("é", MaxNameLen), "TKN", "https://example.com"); err != nil {
		t.Errorf("unexpected error for %d runes: %v", MaxNameLen, err)
	}
}

func TestParse_URILength(t *testing.T) {
	uri := "https://example.com/" + strings.Repeat("a", MaxURILen)
	if _, err := Parse("Token", "TKN", uri); !errors.Is(err, ErrInvalidURI) {
		t.Errorf("expected ErrInvalidURI, got %v", err)
	}
}
