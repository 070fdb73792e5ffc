package transcript

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"
)

var fallback = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func TestParse_MarkdownWithHeader(t *testing.T) {
	text := "## Worker: Jordan Smith\nDate: 2025-02-19\n\nDiscussed rehab progress. Next steps: book physio.\n"

	notes := Parse("/t/weekly.md", text, fallback)
	if len(notes) != 1 {
		t.Fatalf("expected 1 note, got %d", len(notes))
	}
	n := notes[0]
	if n.WorkerName != "Jordan Smith" {
		t.Errorf("WorkerName = %q", n.WorkerName)
	}
	if !n.UpdatesRecoveryTimeline {
		t.Error("expected UpdatesRecoveryTimeline")
	}
	if !slices.Contains(n.NextSteps, "book physio.") {
		t.Errorf("NextSteps = %q, want to contain %q", n.NextSteps, "book physio.")
	}
	if want := time.Date(2025, 2, 19, 0, 0, 0, 0, time.UTC); !n.Timestamp.Equal(want) {
		t.Errorf("Timestamp = %v, want %v", n.Timestamp, want)
	}
	if n.Summary != "Discussed rehab progress. Next steps: book physio." {
		t.Errorf("Summary = %q", n.Summary)
	}
}

func TestParse_VTTWithRiskKeyword(t *testing.T) {
	text := "WEBVTT\n\n1\n00:00:01.000 --> 00:00:04.000\n<v Case Manager>Missed appointment and no contact. Need compliance review.</v>\n\n2\n00:00:04.500 --> 00:00:07.000\nWill try again tomorrow.\n"

	notes := Parse("/t/jordan-smith-call-2025-02-19.vtt", text, fallback)
	if len(notes) != 1 {
		t.Fatalf("expected 1 note, got %d", len(notes))
	}
	n := notes[0]
	if n.WorkerName != "Jordan Smith" {
		t.Errorf("WorkerName = %q, want name from filename", n.WorkerName)
	}
	if !slices.Contains(n.RiskFlags, "Attendance risk") {
		t.Errorf("RiskFlags = %q, want Attendance risk", n.RiskFlags)
	}
	if !n.UpdatesCompliance {
		t.Error("expected UpdatesCompliance")
	}
	for _, bad := range []string{"-->", "WEBVTT", "<v"} {
		if strings.Contains(n.RawText, bad) {
			t.Errorf("RawText still contains %q: %q", bad, n.RawText)
		}
	}
}

func TestParse_DividerSections(t *testing.T) {
	text := `# Worker: Jordan Smith
Spoke on 3 March 2025 14:30. Certificate updated to modified duties.
---
# Worker: Priya Natarajan
No-show at the IME. Escalate to team lead.
- Email employer about the missed session
- Schedule follow-up call
- Coffee was cold
---
`
	notes := Parse("/t/batch.txt", text, fallback)
	if len(notes) != 2 {
		t.Fatalf("expected 2 notes, got %d", len(notes))
	}

	if notes[0].WorkerName != "Jordan Smith" {
		t.Errorf("note 0 worker = %q", notes[0].WorkerName)
	}
	if want := time.Date(2025, 3, 3, 14, 30, 0, 0, time.UTC); !notes[0].Timestamp.Equal(want) {
		t.Errorf("note 0 timestamp = %v, want %v", notes[0].Timestamp, want)
	}
	if !slices.Contains(notes[0].RiskFlags, "Capacity change") {
		t.Errorf("note 0 flags = %q", notes[0].RiskFlags)
	}

	p := notes[1]
	if p.WorkerName != "Priya Natarajan" {
		t.Errorf("note 1 worker = %q", p.WorkerName)
	}
	if !p.Timestamp.Equal(fallback) {
		t.Errorf("note 1 should use the fallback timestamp, got %v", p.Timestamp)
	}
	for _, want := range []string{"Attendance risk", "Escalation required"} {
		if !slices.Contains(p.RiskFlags, want) {
			t.Errorf("note 1 flags = %q, missing %q", p.RiskFlags, want)
		}
	}
	if len(p.NextSteps) != 2 || p.NextSteps[0] != "Email employer about the missed session" {
		t.Errorf("note 1 next steps = %q", p.NextSteps)
	}
}

func TestParse_HeaderSectionsSharePreambleDate(t *testing.T) {
	text := "Case review 2025-01-10 09:00\n\nWorker: Jordan Smith\nSurgery booked.\n\n[Worker: Sam Lee]\nReturned to full duties.\n\nCase: Alex Wong\n\n"

	notes := Parse("/t/review.md", text, fallback)
	if len(notes) != 2 {
		t.Fatalf("expected 2 notes (empty section dropped), got %d", len(notes))
	}
	want := time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC)
	for _, n := range notes {
		if !n.Timestamp.Equal(want) {
			t.Errorf("%s timestamp = %v, want %v", n.WorkerName, n.Timestamp, want)
		}
	}
	if notes[1].WorkerName != "Sam Lee" {
		t.Errorf("bracketed header not parsed: %q", notes[1].WorkerName)
	}
}

func TestParse_NameFromBody(t *testing.T) {
	text := "Follow-up call re: worker: Jordan Smith regarding the treatment plan."
	notes := Parse("/t/notes.txt", text, fallback)
	if len(notes) != 1 || notes[0].WorkerName != "Jordan Smith" {
		t.Fatalf("unexpected notes: %+v", notes)
	}
}

func TestParse_NoWorkerNameDropsSection(t *testing.T) {
	notes := Parse("/t/call-notes-2025-02-19.txt", "General team catch-up about rosters.", fallback)
	if len(notes) != 0 {
		t.Errorf("expected no notes, got %+v", notes)
	}
}

func TestParse_EmptyInput(t *testing.T) {
	for _, text := range []string{"", "\n\n", "\ufeff   \r\n"} {
		if notes := Parse("/t/jordan-smith.md", text, fallback); len(notes) != 0 {
			t.Errorf("Parse(%q) = %d notes, want 0", text, len(notes))
		}
	}
}

func TestParse_SummaryTruncated(t *testing.T) {
	long := "Worker: Jordan Smith\n"
	for i := 0; i < 50; i++ {
		long += "word "
	}
	long += "end of a very long first sentence that keeps going well past the limit of the summary field and then some more words to be sure."
	for i := 0; i < 50; i++ {
		long += " more"
	}

	notes := Parse("/t/x.md", long, fallback)
	if len(notes) != 1 {
		t.Fatalf("expected 1 note, got %d", len(notes))
	}
	if n := len([]rune(notes[0].Summary)); n > maxSummaryRunes {
		t.Errorf("summary has %d runes, want <= %d", n, maxSummaryRunes)
	}
}

func TestNextSteps_DedupAndCap(t *testing.T) {
	lines := []string{
		"Action items: call employer",
		"- Call employer",
		"- Call employer",
		"- Review certificate",
		"* Submit claim form",
		"• Notify insurer",
		"- Book IME",
		"- Attend case conference",
	}
	got := nextSteps(lines)
	want := []string{"call employer", "Call employer", "Review certificate", "Submit claim form", "Notify insurer"}
	if !slices.Equal(got, want) {
		t.Errorf("nextSteps = %q, want %q", got, want)
	}
}

func TestRiskFlags(t *testing.T) {
	tests := []struct {
		body string
		want []string
	}{
		{"Employer in breach of the RTW plan.", []string{"Compliance risk"}},
		{"Non-compliance with treatment noted.", []string{"Compliance risk"}},
		{"Worker missed the appointment on Tuesday.", []string{"Attendance risk"}},
		{"High-risk claim, escalated to manager.", []string{"Escalation required"}},
		{"Progress has stalled; surgery delayed.", []string{"Recovery delay"}},
		{"New medical certificate received.", []string{"Capacity change"}},
		{"All good, no concerns.", nil},
	}
	for _, tt := range tests {
		got := riskFlags(tt.body)
		if !slices.Equal(got, tt.want) {
			t.Errorf("riskFlags(%q) = %q, want %q", tt.body, got, tt.want)
		}
	}
}

func TestNameFromFilename(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/t/jordan-smith-call-2025-02-19.vtt", "Jordan Smith"},
		{"/t/Transcript_PRIYA_natarajan.md", "Priya Natarajan"},
		{"/t/call notes 12 March.txt", ""},
		{"/t/2025-03-12_zoom_recording_sam-lee.vtt", "Sam Lee"},
	}
	for _, tt := range tests {
		if got := nameFromFilename(tt.path); got != tt.want {
			t.Errorf("nameFromFilename(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestFindTimestamp(t *testing.T) {
	tests := []struct {
		line string
		want time.Time
		ok   bool
	}{
		{"2025-02-19 10:30 call", time.Date(2025, 2, 19, 10, 30, 0, 0, time.UTC), true},
		{"on 2025-02-19T08:05", time.Date(2025, 2, 19, 8, 5, 0, 0, time.UTC), true},
		{"Met 5 March 2025", time.Date(2025, 3, 5, 0, 0, 0, 0, time.UTC), true},
		{"Met 21st Sep 2024, 16:45", time.Date(2024, 9, 21, 16, 45, 0, 0, time.UTC), true},
		{"2025-02-31", time.Time{}, false},
		{"no dates here", time.Time{}, false},
	}
	for _, tt := range tests {
		got, ok := findTimestamp([]string{tt.line})
		if ok != tt.ok || !got.Equal(tt.want) {
			t.Errorf("findTimestamp(%q) = %v, %v; want %v, %v", tt.line, got, ok, tt.want, tt.ok)
		}
	}
}

func TestParseFile_UsesModTime(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jordan-smith.txt")
	if err := os.WriteFile(path, []byte("Discussed rehab."), 0o644); err != nil {
		t.Fatal(err)
	}
	mtime := time.Date(2025, 2, 1, 8, 0, 0, 0, time.UTC)
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatal(err)
	}

	a, err := ParseFile(path)
	if err != nil {
		t.Fatal(err)
	}
	b, err := ParseFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(a) != 1 || !a[0].Timestamp.Equal(mtime) || !a[0].Timestamp.Equal(b[0].Timestamp) {
		t.Errorf("expected stable mtime timestamp, got %+v / %+v", a, b)
	}
}
