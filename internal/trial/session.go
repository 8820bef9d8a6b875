package trial

import (
	"slices"

	"github.com/ssukumar/GlobalInvigoration/internal/records"
)

type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseReaching   Phase = "reaching"
	PhaseCollecting Phase = "collecting"
	PhaseBreak      Phase = "break"
	PhaseEnd        Phase = "end"
)

// Gateway receives sealed records. Calls must not block and report no
// errors; the implementation owns retries and failure logging.
type Gateway interface {
	PutReach(key records.ReachKey, reach records.Reach)
	PutRound(key records.RoundKey, round records.Round)
	PutSession(participantID string, session records.Session)
}

// SessionContext holds the counters of one participant. Only the Machine
// mutates it.
type SessionContext struct {
	ParticipantID string
	BlockIndex    int
	// RoundIndex is 1-based within the block.
	RoundIndex int
	Score      int
	// Token increases on every phase transition. Timer callbacks compare the
	// token they captured with the current one.
	Token     uint64
	Phase     Phase
	Cue       bool
	StartedAt int64

	blockScore  int
	blockRounds int
	blocks      []records.BlockSummary
	rounds      []records.RoundSummary
	reaches     int
}

// Snapshot is the read-only view pushed to the client.
type Snapshot struct {
	ParticipantID string   `json:"participantId"`
	Phase         Phase    `json:"phase"`
	Cue           bool     `json:"cue"`
	Environment   string   `json:"environment,omitempty"`
	BlockIndex    int      `json:"blockIndex"`
	BlockCount    int      `json:"blockCount"`
	RoundIndex    int      `json:"roundIndex"`
	RoundsInBlock int      `json:"roundsInBlock"`
	Score         int      `json:"score"`
	Warning       bool     `json:"speedWarning"`
	Reward        int      `json:"reward,omitempty"`
	Sequence      []string `json:"sequence,omitempty"`
	Position      int      `json:"position"`
	ReachCount    int      `json:"reachCount"`
	Token         uint64   `json:"token"`
	Status        string   `json:"status,omitempty"`
}

// Clone returns a copy safe to hand to another goroutine.
func (s Snapshot) Clone() Snapshot {
	s.Sequence = slices.Clone(s.Sequence)
	return s
}
