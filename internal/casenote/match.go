package casenote

import (
	"strings"
	"unicode"
)

// NameScore returns a similarity in [0,1] between two person names. Exact
// token matches dominate; a shared surname with a matching first initial
// ("J. Smith" vs "Jordan Smith") still scores well, while a shared surname
// with a different first name ("Alex Smith") does not.
func NameScore(a, b string) float64 {
	ta := nameTokens(a)
	tb := nameTokens(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	if strings.Join(ta, " ") == strings.Join(tb, " ") {
		return 1
	}

	setB := make(map[string]struct{}, len(tb))
	for _, t := range tb {
		setB[t] = struct{}{}
	}

	var matched float64
	for _, t := range ta {
		if _, ok := setB[t]; ok {
			matched++
			continue
		}
		if len(t) == 1 {
			for _, o := range tb {
				if strings.HasPrefix(o, t) {
					matched += 0.5
					break
				}
			}
		}
	}

	union := float64(len(ta)+len(tb)) - matched
	if union <= 0 {
		return 0
	}
	score := matched / union

	// Surname agreement is the strongest signal in free-text notes, unless
	// the first names contradict each other.
	if ta[len(ta)-1] == tb[len(tb)-1] {
		switch {
		case len(ta) == 1 || len(tb) == 1:
			score = max(score, 0.6)
		case firstNamesAgree(ta[0], tb[0]):
			score = max(score, 0.8)
		}
	}
	return score
}

func firstNamesAgree(a, b string) bool {
	if a == b {
		return true
	}
	if len(a) == 1 && strings.HasPrefix(b, a) {
		return true
	}
	return len(b) == 1 && strings.HasPrefix(a, b)
}

// NormalizeName lowercases and strips punctuation, collapsing whitespace.
func NormalizeName(name string) string {
	return strings.Join(nameTokens(name), " ")
}

func nameTokens(name string) []string {
	fields := strings.FieldsFunc(strings.ToLower(name), func(r rune) bool {
		return !unicode.IsLetter(r) && r != '\''
	})
	out := fields[:0]
	for _, f := range fields {
		f = strings.Trim(f, "'")
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}
