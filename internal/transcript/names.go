package transcript

import (
	"path/filepath"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// fillerTokens never form part of a worker name taken from a filename.
var fillerTokens = map[string]bool{
	"transcript": true, "transcripts": true, "call": true, "calls": true,
	"notes": true, "note": true, "meeting": true, "meetings": true,
	"recording": true, "recordings": true, "session": true, "discussion": true,
	"case": true, "worker": true, "review": true, "update": true,
	"teams": true, "zoom": true, "phone": true, "audio": true, "final": true,
	"copy": true, "draft": true, "with": true, "and": true, "re": true,
	"jan": true, "feb": true, "mar": true, "apr": true, "may": true, "jun": true,
	"jul": true, "aug": true, "sep": true, "sept": true, "oct": true, "nov": true, "dec": true,
	"january": true, "february": true, "march": true, "april": true, "june": true,
	"july": true, "august": true, "september": true, "october": true,
	"november": true, "december": true,
}

// cleanName tidies a captured header value.
func cleanName(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.Trim(s, "*_[]()\"' \t")
	s = strings.TrimRight(s, ".,;:")
	return strings.Join(strings.Fields(s), " ")
}

func nameFromBody(body string) string {
	m := mentionRe.FindStringSubmatch(body)
	if m == nil {
		return ""
	}
	return cleanName(m[1])
}

// nameFromFilename derives a worker name from the file's base name with
// filler words, dates and numbers removed, title-cased.
func nameFromFilename(path string) string {
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	tokens := strings.FieldsFunc(base, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})

	var kept []string
	for _, tok := range tokens {
		lt := strings.ToLower(tok)
		if fillerTokens[lt] || hasDigit(lt) {
			continue
		}
		kept = append(kept, lt)
	}
	if len(kept) == 0 {
		return ""
	}

	// Casers are stateful; one per call.
	caser := cases.Title(language.Und)
	return caser.String(strings.Join(kept, " "))
}

func hasDigit(s string) bool {
	for _, r := range s {
		if unicode.IsDigit(r) {
			return true
		}
	}
	return false
}
