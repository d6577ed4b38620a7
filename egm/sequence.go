package egm

// Outcome classifies one observed sequence number relative to the stream
// seen so far.
type Outcome int

const (
	// OutcomeFresh is the next expected number, or the first ever observed.
	OutcomeFresh Outcome = iota
	// OutcomeDuplicate is a number at or below the current baseline,
	// within the reset tolerance. The frame is stale and should be dropped.
	OutcomeDuplicate
	// OutcomeReordered is a number ahead of the next expected one. The
	// intervening frames were lost or are still in flight; the baseline
	// advances to the observed number.
	OutcomeReordered
	// OutcomeReset is a number below the baseline by more than the
	// tolerance. The peer restarted its counter; the tracker re-baselines.
	OutcomeReset
)

// String returns the string representation of an Outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeFresh:
		return "fresh"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeReordered:
		return "reordered"
	case OutcomeReset:
		return "reset"
	default:
		return "unknown"
	}
}

// Observation is the result of classifying one sequence number.
type Observation struct {
	Outcome  Outcome
	Expected uint32 // the number the tracker expected next
	Got      uint32 // the number actually observed
}

// Tracker classifies incoming sequence numbers. It only classifies; what to
// do with a duplicate or a reset is the caller's policy.
//
// Tracker is not safe for concurrent use. The streaming session calls it
// from its single receive goroutine.
type Tracker struct {
	tolerance uint32
	started   bool
	last      uint32
}

// NewTracker creates a tracker. A backwards jump larger than tolerance is
// treated as a peer restart rather than a stale frame.
func NewTracker(tolerance uint32) *Tracker {
	return &Tracker{tolerance: tolerance}
}

// Observe classifies seq and updates the baseline.
func (t *Tracker) Observe(seq uint32) Observation {
	if !t.started {
		t.started = true
		t.last = seq
		return Observation{Outcome: OutcomeFresh, Expected: seq, Got: seq}
	}

	expected := t.last + 1

	switch {
	case seq == expected:
		t.last = seq
		return Observation{Outcome: OutcomeFresh, Expected: expected, Got: seq}

	case seq > expected:
		t.last = seq
		return Observation{Outcome: OutcomeReordered, Expected: expected, Got: seq}

	case t.last-seq > t.tolerance:
		// Peer restarted its counter. Re-baseline, not an error.
		t.last = seq
		return Observation{Outcome: OutcomeReset, Expected: expected, Got: seq}

	default:
		return Observation{Outcome: OutcomeDuplicate, Expected: expected, Got: seq}
	}
}

// Reset clears the baseline so the next observation is treated as the first.
func (t *Tracker) Reset() {
	t.started = false
	t.last = 0
}
