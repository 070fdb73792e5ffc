// Package insight maps parsed discussion notes to tagged insights.
package insight

import (
	"time"

	"github.com/MikeSquared-Agency/caseflow/internal/casenote"
)

type rule struct {
	area     casenote.Area
	severity casenote.Severity
	summary  string
}

// flagRules maps each parser risk flag to the insight it produces.
var flagRules = map[string]rule{
	"Compliance risk":     {casenote.AreaCompliance, casenote.SeverityCritical, "Compliance breach or non-compliance reported"},
	"Attendance risk":     {casenote.AreaEngagement, casenote.SeverityWarning, "Missed appointment or lost contact with worker"},
	"Escalation required": {casenote.AreaRisk, casenote.SeverityCritical, "Case flagged for escalation"},
	"Recovery delay":      {casenote.AreaRecovery, casenote.SeverityWarning, "Recovery progress delayed or stalled"},
	"Capacity change":     {casenote.AreaReturnToWork, casenote.SeverityInfo, "Work capacity or medical certificate changed"},
}

var (
	complianceUpdate = rule{casenote.AreaCompliance, casenote.SeverityInfo, "Compliance obligations discussed"}
	recoveryUpdate   = rule{casenote.AreaRecovery, casenote.SeverityInfo, "Recovery timeline updated"}
)

// Derive returns the insights for a persisted note, in risk-flag order
// followed by the general compliance and recovery updates. An area already
// covered by a flag is not repeated by the general updates.
func Derive(note casenote.DiscussionNote, now time.Time) []casenote.Insight {
	var out []casenote.Insight
	covered := make(map[casenote.Area]bool)

	add := func(r rule) {
		out = append(out, casenote.Insight{
			ID:        casenote.InsightID(note.ID, r.area, r.summary),
			NoteID:    note.ID,
			CaseID:    note.CaseID,
			Area:      r.area,
			Severity:  r.severity,
			Summary:   r.summary,
			Detail:    note.Summary,
			CreatedAt: now,
		})
		covered[r.area] = true
	}

	for _, flag := range note.RiskFlags {
		if r, ok := flagRules[flag]; ok {
			add(r)
		}
	}

	if note.UpdatesCompliance && !covered[casenote.AreaCompliance] {
		add(complianceUpdate)
	}
	if note.UpdatesRecoveryTimeline && !covered[casenote.AreaRecovery] && !covered[casenote.AreaReturnToWork] {
		add(recoveryUpdate)
	}
	return out
}
