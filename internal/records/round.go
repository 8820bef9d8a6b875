package records

// KeyEvent is one accepted key press during the collection phase.
type KeyEvent struct {
	// Number is the 1-based attempt counter within the round.
	Number int `json:"keytapNumber"`
	// Position is the 0-based index of the sequence slot the press targeted.
	Position int    `json:"position"`
	Key      string `json:"key"`
	Expected string `json:"expected"`
	Correct  bool   `json:"correct"`
	DownAt   int64  `json:"timestamp"`
	// UpAt is zero until the matching key-up arrives.
	UpAt int64 `json:"keyupTimestamp,omitempty"`
}

// Round is one reaching-then-collection cycle.
type Round struct {
	SchemaVersion int    `json:"schemaVersion"`
	ParticipantID string `json:"participantId"`
	BlockIndex    int    `json:"blockIndex"`
	Environment   string `json:"environment"`
	RoundIndex    int    `json:"roundIndex"`

	DurationMs int64    `json:"durationMs"`
	Reward     int      `json:"rewardValue"`
	Sequence   []string `json:"keySequence"`
	// SequenceFlagged marks a key sequence that kept an adjacent duplicate.
	SequenceFlagged bool `json:"sequenceFlagged,omitempty"`

	Events []KeyEvent `json:"keyEvents"`

	StartedAt           int64 `json:"startedAt"`
	CollectionStartedAt int64 `json:"collectionStartedAt"`
	CompletedAt         int64 `json:"completedAt"`

	Completed bool `json:"completed"`
	Abandoned bool `json:"abandoned,omitempty"`

	TotalPresses         int     `json:"totalPresses"`
	CorrectPresses       int     `json:"correctPresses"`
	Accuracy             float64 `json:"accuracy"`
	MeanInterKeyInterval float64 `json:"averageInterKeyInterval"`
	CompletionTimeMs     int64   `json:"completionTime"`
	Overshoot            int     `json:"overshoot"`

	ReachCount     int `json:"reachCount"`
	DroppedSamples int `json:"droppedSamples"`
	ScoreAfter     int `json:"currScore"`
}

// Key returns the composite key of the round.
func (r *Round) Key() RoundKey {
	return RoundKey{ParticipantID: r.ParticipantID, BlockIndex: r.BlockIndex, RoundIndex: r.RoundIndex}
}

// Summary condenses the round for the session document.
func (r *Round) Summary() RoundSummary {
	return RoundSummary{
		BlockIndex:  r.BlockIndex,
		Environment: r.Environment,
		RoundIndex:  r.RoundIndex,
		Reward:      r.Reward,
		Completed:   r.Completed,
		Abandoned:   r.Abandoned,
		Accuracy:    r.Accuracy,
		ReachCount:  r.ReachCount,
		DurationMs:  r.DurationMs,
	}
}

// Clone returns a deep copy of the round.
func (r Round) Clone() Round {
	cloned := r
	cloned.Sequence = append([]string(nil), r.Sequence...)
	cloned.Events = append([]KeyEvent(nil), r.Events...)
	return cloned
}
