package records

// SessionStatus describes how a session ended.
type SessionStatus string

const (
	SessionCompleted SessionStatus = "completed"
	SessionAborted   SessionStatus = "aborted"
)

// RoundSummary is the per-round entry of a session document.
type RoundSummary struct {
	BlockIndex  int     `json:"blockIndex"`
	Environment string  `json:"environment"`
	RoundIndex  int     `json:"roundIndex"`
	Reward      int     `json:"rewardValue"`
	Completed   bool    `json:"completed"`
	Abandoned   bool    `json:"abandoned,omitempty"`
	Accuracy    float64 `json:"accuracy"`
	ReachCount  int     `json:"reachCount"`
	DurationMs  int64   `json:"durationMs"`
}

// BlockSummary is the per-block entry of a session document.
type BlockSummary struct {
	BlockIndex  int    `json:"blockIndex"`
	Environment string `json:"environment"`
	Rounds      int    `json:"rounds"`
	Score       int    `json:"score"`
}

// Session is the whole-participant record, written once when the experiment ends.
type Session struct {
	SchemaVersion int            `json:"schemaVersion"`
	ParticipantID string         `json:"participantId"`
	Status        SessionStatus  `json:"status"`
	Reason        string         `json:"reason,omitempty"`
	StartedAt     int64          `json:"sessionStartTime"`
	EndedAt       int64          `json:"sessionEnd"`
	TotalDuration int64          `json:"totalDuration"`
	Score         int            `json:"score"`
	Blocks        []BlockSummary `json:"blocks"`
	Rounds        []RoundSummary `json:"rounds"`
	TotalReaches  int            `json:"totalReaches"`
}

// Clone returns a deep copy of the session.
func (s Session) Clone() Session {
	cloned := s
	cloned.Blocks = append([]BlockSummary(nil), s.Blocks...)
	cloned.Rounds = append([]RoundSummary(nil), s.Rounds...)
	return cloned
}
