package casenote

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Fixed namespaces keep ids stable across processes and hosts.
var (
	noteNamespace    = uuid.MustParse("6f1c7d2e-8a4b-4c1f-9e3d-2b5a7c9e1f04")
	insightNamespace = uuid.MustParse("b3e9a1d4-5c7f-4e2a-8d6b-0f1e3a5c7b92")
)

// NoteID derives the identifier of a discussion note. The same source file,
// worker, summary and timestamp always produce the same id, which is what
// makes re-ingesting an unchanged file a no-op at the store.
func NoteID(sourcePath, workerName, summary string, ts time.Time) uuid.UUID {
	key := strings.Join([]string{
		sourcePath,
		workerName,
		summary,
		ts.UTC().Format(time.RFC3339Nano),
	}, "|")
	return uuid.NewSHA1(noteNamespace, []byte(key))
}

// InsightID derives the identifier of an insight from its owning note.
func InsightID(noteID uuid.UUID, area Area, summary string) uuid.UUID {
	key := noteID.String() + "|" + string(area) + "|" + summary
	return uuid.NewSHA1(insightNamespace, []byte(key))
}
