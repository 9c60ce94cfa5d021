package server

import "github.com/contextcache/contextcache/internal/types"

// auditReport is the result of walking a project's audit chain.
type auditReport struct {
	Valid  bool        `json:"valid"`
	Events int         `json:"events"`
	Break  *auditBreak `json:"first_break,omitempty"`
}

// auditBreak identifies the first event that fails verification.
type auditBreak struct {
	Index   int    `json:"index"`
	EventID string `json:"event_id"`
	Reason  string `json:"reason"`
}

// auditVerify walks the chain in append order, checking that each event's
// prev_hash links to its predecessor and that the stored hash matches a
// recomputation over the stored fields. The first failure stops the walk.
func auditVerify(events []*types.AuditEvent) *auditReport {
	report := &auditReport{Valid: true, Events: len(events)}
	prev := types.ZeroHash
	for i, e := range events {
		if e.PrevHash != prev {
			report.Valid = false
			report.Break = &auditBreak{Index: i, EventID: e.ID, Reason: "prev_hash does not match predecessor"}
			return report
		}
		if !e.Verify() {
			report.Valid = false
			report.Break = &auditBreak{Index: i, EventID: e.ID, Reason: "stored hash does not match recomputation"}
			return report
		}
		prev = e.CurrentHash
	}
	return report
}
