package search

// Step sizes: coarse until the target has been crossed from both sides,
// then unit refinement.
const (
	CoarseStep = 5
	FineStep   = 1
)

// State is the per-clip search position. It is a value: each iteration
// derives the next State from the previous one and the observed score.
type State struct {
	Quality   int  // CRF to try next
	SeenAbove bool // A score above the target has been observed
	SeenBelow bool // A score below the target has been observed after SeenAbove
}

// Bracketed reports whether the target has been crossed from both
// directions. Every step taken from a bracketed state is FineStep.
func (s State) Bracketed() bool {
	return s.SeenAbove && s.SeenBelow
}

// Advance returns the state for the next iteration after score was
// observed at s.Quality, along with the signed CRF change. It must not be
// called with score == target.
//
// A score below the target means the CRF is too aggressive, so it goes
// down; above the target it goes up. Going down uses FineStep once a score
// above the target has been seen; going up uses FineStep once a score below
// has been seen after that.
func (s State) Advance(score, target int) (State, int) {
	next := s
	var delta int

	switch {
	case score < target:
		if s.SeenAbove {
			next.SeenBelow = true
			delta = -FineStep
		} else {
			delta = -CoarseStep
		}
	case score > target:
		next.SeenAbove = true
		if s.SeenBelow {
			delta = FineStep
		} else {
			delta = CoarseStep
		}
	}

	next.Quality = s.Quality + delta
	return next, delta
}
