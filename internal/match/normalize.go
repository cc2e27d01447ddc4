package match

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	bracketedRe = regexp.MustCompile(`[\[(].*?[\])]`)
	releaseTags = regexp.MustCompile(`\b(vostfr|vf|multi|hd|1080p|720p|x264|x265|web|bluray)\b`)
	nonAlnumRe  = regexp.MustCompile(`[^a-z0-9]+`)

	// NFD decomposition followed by removal of combining marks strips
	// diacritics (é -> e, ū -> u).
	deaccent = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)))
)

// Normalize canonicalizes a title for matching and key building:
// lowercase, diacritics stripped, bracketed segments and release tags
// removed, and every non-alphanumeric run collapsed to a single space.
// The result is stable: Normalize(Normalize(s)) == Normalize(s).
func Normalize(s string) string {
	s = strings.ToLower(s)

	if out, _, err := transform.String(deaccent, s); err == nil {
		s = out
	}

	s = bracketedRe.ReplaceAllString(s, " ")
	s = releaseTags.ReplaceAllString(s, " ")
	s = nonAlnumRe.ReplaceAllString(s, " ")

	return strings.TrimSpace(s)
}

// AnimeKey builds the link-cache key for a title and season.
// Season values below 1 are treated as season 1.
func AnimeKey(title string, season int) string {
	if season < 1 {
		season = 1
	}
	return fmt.Sprintf("%s|s%d", Normalize(title), season)
}

// EpisodeKey identifies a single episode of a show for mark idempotency.
func EpisodeKey(title string, season, episode int) string {
	return fmt.Sprintf("%s|e%d", AnimeKey(title, season), episode)
}
