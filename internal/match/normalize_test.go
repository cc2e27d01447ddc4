package match

import "testing"

func TestNormalize(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"lowercase", "Jigokuraku", "jigokuraku"},
		{"diacritics", "Péché Originel", "peche originel"},
		{"brackets", "Frieren [VOSTFR] (2023)", "frieren"},
		{"release tags", "Dandadan VOSTFR 1080p x265", "dandadan"},
		{"punctuation", "Re:Zero - Starting Life", "re zero starting life"},
		{"whitespace collapse", "  One   Piece  ", "one piece"},
		{"mixed", "L'Attaque des Titans (Saison Finale) VF HD", "l attaque des titans"},
		{"empty", "", ""},
		{"only tags", "[Judas] VOSTFR", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Normalize(tt.input)
			if got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{
		"Jigokuraku",
		"Péché Originel [1080p]",
		"Re:Zero − Starting Life in Another World",
		"SPY×FAMILY Saison 2 VOSTFR",
	}
	for _, in := range inputs {
		once := Normalize(in)
		twice := Normalize(once)
		if once != twice {
			t.Errorf("Normalize not idempotent for %q: %q != %q", in, once, twice)
		}
	}
}

func TestKeys(t *testing.T) {
	if got := AnimeKey("Jigokuraku", 0); got != "jigokuraku|s1" {
		t.Errorf("AnimeKey season 0 = %q, want jigokuraku|s1", got)
	}
	if got := AnimeKey("Jigokuraku", 2); got != "jigokuraku|s2" {
		t.Errorf("AnimeKey season 2 = %q", got)
	}
	if got := EpisodeKey("Jigokuraku", 2, 5); got != "jigokuraku|s2|e5" {
		t.Errorf("EpisodeKey = %q", got)
	}
}
