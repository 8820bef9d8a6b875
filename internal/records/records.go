// Package records defines the immutable telemetry units the trial engine emits:
// reaches, rounds and the participant session summary.
package records

import "fmt"

// SchemaVersion is stamped on every persisted record.
const SchemaVersion = 1

// Wall identifies which screen zone a pointer sample falls into.
type Wall string

const (
	WallLeft  Wall = "L"
	WallRight Wall = "R"
	WallNone  Wall = "N"
)

// GameState tags a pointer sample. StateWarning and StateReaching are mutually
// exclusive: a sample between the walls is WS while the speed warning is raised
// and RO otherwise.
type GameState string

const (
	StateAtSource GameState = "ASW"
	StateAtTarget GameState = "ATW"
	StateWarning  GameState = "WS"
	StateReaching GameState = "RO"
)

// ReachKey is the composite identity of a reach document.
type ReachKey struct {
	ParticipantID string `json:"participantId"`
	BlockIndex    int    `json:"blockIndex"`
	RoundIndex    int    `json:"roundIndex"`
	ReachIndex    int    `json:"reachIndex"`
}

// DocID renders the reach document id. Block numbers are 1-based.
func (k ReachKey) DocID() string {
	return fmt.Sprintf("%s_block%d_round%d_reach%d", k.ParticipantID, k.BlockIndex+1, k.RoundIndex, k.ReachIndex)
}

// RoundKey is the composite identity of a round document.
type RoundKey struct {
	ParticipantID string `json:"participantId"`
	BlockIndex    int    `json:"blockIndex"`
	RoundIndex    int    `json:"roundIndex"`
}

// DocID renders the round document id. Block numbers are 1-based.
func (k RoundKey) DocID() string {
	return fmt.Sprintf("%s_block%d_round%d", k.ParticipantID, k.BlockIndex+1, k.RoundIndex)
}

// SessionDocID renders the session document id.
func SessionDocID(participantID string) string {
	return participantID
}
