package records

// Reach is one wall-to-wall pointer excursion. The four sample arrays are
// index-aligned: entry i of each describes the same pointer sample.
type Reach struct {
	SchemaVersion int    `json:"schemaVersion"`
	ParticipantID string `json:"participantId"`
	BlockIndex    int    `json:"blockIndex"`
	Environment   string `json:"environment"`
	RoundIndex    int    `json:"roundIndex"`
	ReachIndex    int    `json:"reachIndex"`

	StartWall Wall `json:"startWall"`
	EndWall   Wall `json:"endWall"`
	// Implicit is set when the reach was closed by the end of the reaching
	// phase rather than by arriving at the opposite wall.
	Implicit bool `json:"implicit"`

	GameStates []GameState `json:"gameStateArray"`
	PosX       []float64   `json:"posXArray"`
	PosY       []float64   `json:"posYArray"`
	Timestamps []int64     `json:"timestampArray"`

	SampleCount int     `json:"sampleCount"`
	DurationMs  int64   `json:"durationMs"`
	SampleRate  float64 `json:"sampleRateHz"`
	ScoreAtSeal int     `json:"currScore"`
	SealedAt    int64   `json:"completedAt"`
}

// Key returns the composite key of the reach.
func (r *Reach) Key() ReachKey {
	return ReachKey{
		ParticipantID: r.ParticipantID,
		BlockIndex:    r.BlockIndex,
		RoundIndex:    r.RoundIndex,
		ReachIndex:    r.ReachIndex,
	}
}

// AppendSample records one pointer sample across all synchronized arrays.
func (r *Reach) AppendSample(state GameState, x, y float64, ts int64) {
	r.GameStates = append(r.GameStates, state)
	r.PosX = append(r.PosX, x)
	r.PosY = append(r.PosY, y)
	r.Timestamps = append(r.Timestamps, ts)
}

// Len reports the number of samples, assuming the arrays are aligned.
func (r *Reach) Len() int {
	return len(r.Timestamps)
}

// Aligned reports whether every synchronized array has the same length.
func (r *Reach) Aligned() bool {
	n := len(r.Timestamps)
	return len(r.GameStates) == n && len(r.PosX) == n && len(r.PosY) == n
}

// Truncate cuts every synchronized array to the shortest one and returns the
// number of entries removed across all arrays.
func (r *Reach) Truncate() int {
	n := min(len(r.GameStates), len(r.PosX), len(r.PosY), len(r.Timestamps))
	removed := len(r.GameStates) + len(r.PosX) + len(r.PosY) + len(r.Timestamps) - 4*n
	r.GameStates = r.GameStates[:n]
	r.PosX = r.PosX[:n]
	r.PosY = r.PosY[:n]
	r.Timestamps = r.Timestamps[:n]
	return removed
}

// Finalize fills the derived sample metadata. It must run after the last
// sample has been appended.
func (r *Reach) Finalize(sealedAt int64, score int) {
	r.SchemaVersion = SchemaVersion
	r.SampleCount = r.Len()
	r.SealedAt = sealedAt
	r.ScoreAtSeal = score
	r.DurationMs = 0
	r.SampleRate = 0
	if n := len(r.Timestamps); n > 1 {
		r.DurationMs = r.Timestamps[n-1] - r.Timestamps[0]
		if r.DurationMs > 0 {
			r.SampleRate = float64(n) / (float64(r.DurationMs) / 1000)
		}
	}
}

// Clone returns a deep copy so the caller can hand the reach to another owner.
func (r Reach) Clone() Reach {
	cloned := r
	cloned.GameStates = append([]GameState(nil), r.GameStates...)
	cloned.PosX = append([]float64(nil), r.PosX...)
	cloned.PosY = append([]float64(nil), r.PosY...)
	cloned.Timestamps = append([]int64(nil), r.Timestamps...)
	return cloned
}
