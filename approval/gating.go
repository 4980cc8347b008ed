package approval

// Gating decides whether a pending row at the given step may legally be
// decided given every row of the contract. Implementations are pure
// predicates; the commit logic never branches on the concrete policy.
type Gating interface {
	// CanDecide returns ErrOutOfSequence (or nil) for a decision on step.
	CanDecide(rows []Row, step int) error
}

// SerialGating enforces strict step ordering: step K may only be decided
// once every row of every step below K is approved. A rejection anywhere
// terminalizes the contract before gating is ever consulted again, so only
// approved/pending states matter here.
type SerialGating struct{}

func (SerialGating) CanDecide(rows []Row, step int) error {
	for _, r := range rows {
		if r.WorkflowStep < step && r.Status != StatusApproved {
			return ErrOutOfSequence
		}
	}
	return nil
}

// ParallelGating imposes no ordering: any pending row may be decided at any
// time. Swapping this in changes only the legality predicate, never the
// transition or commit behavior.
type ParallelGating struct{}

func (ParallelGating) CanDecide([]Row, int) error { return nil }
