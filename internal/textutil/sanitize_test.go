package textutil

import "testing"

func TestSanitizeFileName(t *testing.T) {
	cases := map[string]string{
		"  Plain Title ":          "Plain Title",
		"AC/DC: Live":             "AC-DC- Live",
		`What? "Quoted" <x> | y*`: "What Quoted x  y-",
		"":                        "",
	}
	for input, want := range cases {
		if got := SanitizeFileName(input); got != want {
			t.Errorf("SanitizeFileName(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestJoinNameDropsEmptyParts(t *testing.T) {
	if got := JoinName("Dune", "", "Frank Herbert"); got != "Dune - Frank Herbert" {
		t.Fatalf("unexpected join %q", got)
	}
	if got := JoinName("Book/One", "A:B"); got != "Book-One - A-B" {
		t.Fatalf("unexpected sanitized join %q", got)
	}
}
