// Package naming implements the file and folder naming conventions used in
// the Drive folders: order prefixes, type prefixes and flag suffixes.
package naming

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/fruitsalade/drivecms/pkg/models"
)

// Longest first, so "_notitle" is never read as a shorter suffix.
var suffixes = []struct {
	text  string
	apply func(*models.ParsedName)
}{
	{"_notitle", func(p *models.ParsedName) { p.NoTitle = true }},
	{"_hidden", func(p *models.ParsedName) { p.Hidden = true }},
	{"_night", func(p *models.ParsedName) { p.ThemeDark = true }},
	{"_dark", func(p *models.ParsedName) { p.ThemeDark = true }},
}

var (
	orderSeparated = regexp.MustCompile(`^(\d+)[._-]`)
	orderParens    = regexp.MustCompile(`^\((\d+)\)`)
	typePrefix     = regexp.MustCompile(`^(?i)([a-z]+)_`)
	extension      = regexp.MustCompile(`\.[A-Za-z0-9]{1,5}$`)
	nonAlnum       = regexp.MustCompile(`[^a-z0-9]+`)
)

// KnownTypes lists the semantic type prefixes recognized by Parse.
var KnownTypes = map[string]bool{
	"video":        true,
	"image":        true,
	"button":       true,
	"section":      true,
	"sidebar":      true,
	"tab":          true,
	"tabs":         true,
	"link":         true,
	"document":     true,
	"card":         true,
	"presentation": true,
	"spreadsheet":  true,
}

// Parse applies the naming conventions to raw. Every input has a valid parse.
func Parse(raw string) models.ParsedName {
	p := models.ParsedName{Order: models.DefaultOrder}
	name := raw

	for stripped := true; stripped; {
		stripped = false
		lower := strings.ToLower(name)
		for _, s := range suffixes {
			if strings.HasSuffix(lower, s.text) {
				name = name[:len(name)-len(s.text)]
				s.apply(&p)
				stripped = true
				break
			}
		}
	}

	if m := orderSeparated.FindStringSubmatch(name); m != nil {
		p.Order = atoiOrDefault(m[1])
		name = name[len(m[0]):]
	} else if m := orderParens.FindStringSubmatch(name); m != nil {
		p.Order = atoiOrDefault(m[1])
		name = name[len(m[0]):]
	}

	if m := typePrefix.FindStringSubmatch(name); m != nil {
		word := strings.ToLower(m[1])
		if KnownTypes[word] {
			p.SemanticType = &word
			name = name[len(m[0]):]
		}
	}

	p.DisplayName = strings.TrimSpace(name)
	return p
}

// NativePrefix starts the MIME type of Google-native files (Docs, Sheets,
// Slides). Their titles carry no extension.
const NativePrefix = "application/vnd.google-apps."

// ParseFile parses a file name after dropping its extension. Names of
// Google-native files are parsed whole, so "Plan v1.2" keeps its ".2".
func ParseFile(raw, mimeType string) models.ParsedName {
	if strings.HasPrefix(mimeType, NativePrefix) {
		return Parse(raw)
	}
	return Parse(StripExtension(raw))
}

// StripExtension removes a trailing ".ext" (1-5 alphanumerics, at least one
// letter) from name. A name that is only an extension is returned unchanged.
func StripExtension(name string) string {
	loc := extension.FindStringIndex(name)
	if loc == nil || loc[0] == 0 {
		return name
	}
	if !strings.ContainsFunc(name[loc[0]+1:], unicode.IsLetter) {
		return name
	}
	return name[:loc[0]]
}

// Slug normalizes s for use in identifiers: diacritics are removed, the
// result is lowercased and every run of other characters becomes "-".
func Slug(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	out := nonAlnum.ReplaceAllString(strings.ToLower(folded), "-")
	return strings.Trim(out, "-")
}

func atoiOrDefault(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		// only overflow can fail here
		return models.DefaultOrder
	}
	return n
}
