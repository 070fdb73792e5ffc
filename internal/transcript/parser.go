// Package transcript turns free-text and subtitle call transcripts into
// structured per-worker notes using fixed heuristics.
package transcript

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// Note is one parsed transcript section about a single worker.
type Note struct {
	WorkerName              string
	Timestamp               time.Time
	RawText                 string
	Summary                 string
	NextSteps               []string
	RiskFlags               []string
	UpdatesCompliance       bool
	UpdatesRecoveryTimeline bool
}

const (
	maxSummaryRunes = 360
	maxNextSteps    = 5
)

var (
	dividerRe  = regexp.MustCompile(`^\s*-{3,}\s*$`)
	headerRe   = regexp.MustCompile(`(?i)^\s*(?:#+\s*)?\[?\s*(?:\*\*)?(?:worker|case)(?:\*\*)?\s*:\s*(.+?)\s*\]?\s*$`)
	mentionRe  = regexp.MustCompile(`(?i:\b(?:worker|case)\s*:\s*)([A-Z][\w'.-]*(?:[ \t]+[A-Z][\w'.-]*){0,3})`)
	metaLineRe = regexp.MustCompile(`(?i)^\s*(?:date|time|attendees?|participants?|duration)\s*:`)

	cueIndexRe  = regexp.MustCompile(`^\s*\d+\s*$`)
	cueTimingRe = regexp.MustCompile(`^\s*(?:\d{1,2}:)?\d{2}:\d{2}[.,]\d{3}\s+-->\s+(?:\d{1,2}:)?\d{2}:\d{2}[.,]\d{3}`)
	cueTagRe    = regexp.MustCompile(`</?[a-zA-Z][^>]*>`)

	explicitStepRe = regexp.MustCompile(`(?i)\b(?:next steps?|action items?|follow[- ]?ups?)\s*:\s*(.+)$`)
	bulletRe       = regexp.MustCompile(`^\s*[-*•]\s+(.+)$`)
	actionVerbRe   = regexp.MustCompile(`(?i)\b(?:review|submit|notify|call|email|book|schedule|follow|attend)\w*`)

	complianceTermRe = regexp.MustCompile(`(?i)\b(?:complian\w*|polic(?:y|ies)|audit\w*)`)
	recoveryTermRe   = regexp.MustCompile(`(?i)\b(?:certificate\w*|capacity|rehab\w*|surger(?:y|ies)|surgical|treatment\w*|therap\w*|assessment\w*|physio\w*)`)
)

type riskRule struct {
	label string
	re    *regexp.Regexp
}

var riskRules = []riskRule{
	{"Compliance risk", regexp.MustCompile(`(?i)\bnon[- ]?complian\w*|\bbreach\w*`)},
	{"Attendance risk", regexp.MustCompile(`(?i)\bmissed\s+(?:an?\s+|the\s+|their\s+|his\s+|her\s+)?appointments?|\bno[- ]shows?\b|\bdid not attend\b|\bfailed to attend\b|\bno contact\b|\buncontactable\b`)},
	{"Escalation required", regexp.MustCompile(`(?i)\bescalat\w*|\bhigh[- ]risk\b`)},
	{"Recovery delay", regexp.MustCompile(`(?i)\bdelay\w*|\bstalled\b|\bsetback\w*|\bplateau\w*`)},
	{"Capacity change", regexp.MustCompile(`(?i)\b(?:medical\s+)?certificate\w*|\bcapacity\s+(?:change\w*|increase\w*|decrease\w*|reduc\w*|upgrade\w*)|\bchange\w*\s+(?:in|to)\s+capacity\b`)},
}

// section is a slice of the transcript before it becomes a Note.
type section struct {
	header string
	lines  []string
}

// Parse converts transcript text into notes. path is used to detect subtitle
// formats and as the last-resort source of a worker name; fallback stamps
// sections that carry no date of their own. Sections without a body or
// without a resolvable worker name are dropped, so the result may be empty.
func Parse(path, text string, fallback time.Time) []Note {
	lines := normalize(path, text)

	sections, preamble := split(lines)

	// A date line above the first worker header applies to every section.
	if ts, ok := findTimestamp(preamble); ok {
		fallback = ts
	}

	var notes []Note
	for _, sec := range sections {
		body := strings.TrimSpace(strings.Join(sec.lines, "\n"))
		if body == "" {
			continue
		}

		name := cleanName(sec.header)
		if name == "" {
			name = nameFromBody(body)
		}
		if name == "" {
			name = nameFromFilename(path)
		}
		if name == "" {
			continue
		}

		ts, ok := findTimestamp(sec.lines)
		if !ok {
			ts = fallback
		}

		flags := riskFlags(body)
		notes = append(notes, Note{
			WorkerName:              name,
			Timestamp:               ts,
			RawText:                 body,
			Summary:                 summarize(sec.lines),
			NextSteps:               nextSteps(sec.lines),
			RiskFlags:               flags,
			UpdatesCompliance:       updatesCompliance(body, flags),
			UpdatesRecoveryTimeline: recoveryTermRe.MatchString(body),
		})
	}
	return notes
}

// ParseFile reads path and parses it, using the file's modification time as
// the fallback timestamp so an unchanged file always yields the same notes.
func ParseFile(path string) ([]Note, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat transcript: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read transcript: %w", err)
	}
	return Parse(path, string(data), info.ModTime().UTC()), nil
}

// IsSubtitle reports whether path names a cue-based subtitle format.
func IsSubtitle(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".vtt", ".srt":
		return true
	}
	return false
}

func normalize(path, text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = strings.ReplaceAll(text, "\ufeff", "")

	lines := strings.Split(text, "\n")
	if !IsSubtitle(path) {
		return lines
	}

	out := lines[:0]
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		switch {
		case i == 0 && strings.HasPrefix(trimmed, "WEBVTT"):
			continue
		case cueIndexRe.MatchString(trimmed), cueTimingRe.MatchString(trimmed):
			continue
		}
		out = append(out, cueTagRe.ReplaceAllString(line, ""))
	}
	return out
}

// split returns the transcript's sections and any lines that precede the
// first worker header.
func split(lines []string) ([]section, []string) {
	hasDivider := false
	for _, l := range lines {
		if dividerRe.MatchString(l) {
			hasDivider = true
			break
		}
	}

	if hasDivider {
		var sections []section
		var cur section
		flush := func() {
			sections = append(sections, cur)
			cur = section{}
		}
		for _, l := range lines {
			if dividerRe.MatchString(l) {
				flush()
				continue
			}
			if cur.header == "" {
				if m := headerRe.FindStringSubmatch(l); m != nil {
					cur.header = m[1]
					continue
				}
			}
			cur.lines = append(cur.lines, l)
		}
		flush()
		return sections, nil
	}

	var sections []section
	var preamble []string
	for _, l := range lines {
		if m := headerRe.FindStringSubmatch(l); m != nil {
			sections = append(sections, section{header: m[1]})
			continue
		}
		if len(sections) == 0 {
			preamble = append(preamble, l)
			continue
		}
		last := &sections[len(sections)-1]
		last.lines = append(last.lines, l)
	}
	if len(sections) == 0 {
		return []section{{lines: preamble}}, nil
	}
	return sections, preamble
}

func summarize(lines []string) string {
	var parts []string
	for _, l := range lines {
		if metaLineRe.MatchString(l) {
			continue
		}
		if t := strings.TrimSpace(l); t != "" {
			parts = append(parts, t)
		}
	}
	text := strings.Join(strings.Fields(strings.Join(parts, " ")), " ")

	sentences := splitSentences(text, 2)
	summary := strings.Join(sentences, " ")

	if r := []rune(summary); len(r) > maxSummaryRunes {
		summary = strings.TrimSpace(string(r[:maxSummaryRunes]))
	}
	return summary
}

// splitSentences returns up to n sentences. A sentence ends at '.', '?' or
// '!' followed by whitespace.
func splitSentences(text string, n int) []string {
	var out []string
	start := 0
	for i := 0; i < len(text)-1 && len(out) < n; i++ {
		switch text[i] {
		case '.', '?', '!':
			if text[i+1] == ' ' {
				out = append(out, strings.TrimSpace(text[start:i+1]))
				start = i + 1
			}
		}
	}
	if len(out) < n {
		if rest := strings.TrimSpace(text[start:]); rest != "" {
			out = append(out, rest)
		}
	}
	return out
}

func nextSteps(lines []string) []string {
	seen := make(map[string]struct{})
	var steps []string
	add := func(s string) {
		s = strings.TrimSpace(s)
		if s == "" {
			return
		}
		if _, ok := seen[s]; ok {
			return
		}
		seen[s] = struct{}{}
		steps = append(steps, s)
	}

	for _, l := range lines {
		if len(steps) >= maxNextSteps {
			break
		}
		if m := explicitStepRe.FindStringSubmatch(l); m != nil {
			add(m[1])
			continue
		}
		if m := bulletRe.FindStringSubmatch(l); m != nil && actionVerbRe.MatchString(m[1]) {
			add(m[1])
		}
	}
	if len(steps) > maxNextSteps {
		steps = steps[:maxNextSteps]
	}
	return steps
}

func riskFlags(body string) []string {
	var flags []string
	for _, r := range riskRules {
		if r.re.MatchString(body) {
			flags = append(flags, r.label)
		}
	}
	return flags
}

func updatesCompliance(body string, flags []string) bool {
	if complianceTermRe.MatchString(body) {
		return true
	}
	for _, f := range flags {
		lf := strings.ToLower(f)
		if strings.Contains(lf, "compliance") || strings.Contains(lf, "breach") {
			return true
		}
	}
	return false
}
