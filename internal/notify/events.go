package notify

// Event types emitted by the monitor. Operators list the subset they want in
// config; an empty list forwards everything.
const (
	// EventSettlement fires after a match settles with at least one resolved
	// wager or combination.
	EventSettlement = "settlement"

	// EventMatchFinalized fires when absence detection finalizes a live match
	// that the source stopped reporting.
	EventMatchFinalized = "match_finalized"

	// EventError fires on cycle-level failures the loop will retry.
	EventError = "error"
)
