package approval

import "time"

// DefaultDueSoonHorizon is the fallback window for due-soon classification.
// Callers may pass any horizon; this is only the default.
const DefaultDueSoonHorizon = 72 * time.Hour

// SLAPolicy maps workflow steps to the time an approver gets before the
// approval is considered overdue. The zero value assigns no due dates.
//
// DueDate is pure: identical inputs always produce identical outputs, which
// keeps approval-row creation reproducible in tests.
type SLAPolicy struct {
	// PerStep overrides the default for specific steps.
	PerStep map[int]time.Duration
	// Default applies to steps absent from PerStep. Zero means no deadline.
	Default time.Duration
}

// DueDate returns the deadline for the given step anchored at activatedAt,
// or nil when the policy assigns none.
func (p SLAPolicy) DueDate(step int, activatedAt time.Time) *time.Time {
	d, ok := p.PerStep[step]
	if !ok {
		d = p.Default
	}
	if d <= 0 {
		return nil
	}
	due := activatedAt.Add(d)
	return &due
}
