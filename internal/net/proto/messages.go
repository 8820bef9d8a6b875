// Package proto defines the JSON wire messages exchanged with the browser
// client.
package proto

import (
	"encoding/json"
	"strings"

	"github.com/m-mizutani/goerr/v2"

	"github.com/ssukumar/GlobalInvigoration/internal/records"
	"github.com/ssukumar/GlobalInvigoration/internal/trial"
)

const (
	// Version tracks the wire-protocol revision expected by clients.
	Version = 1
)

// Client message type identifiers.
const (
	TypePointer   = "pointer"
	TypeKeyDown   = "keydown"
	TypeKeyUp     = "keyup"
	TypeResume    = "resume"
	TypeViewport  = "viewport"
	TypeHeartbeat = "heartbeat"
)

// Server message type identifiers.
const (
	TypeState = "state"
	TypeEnded = "ended"
	TypeError = "error"
)

// ClientMessage captures an inbound websocket message from the client.
// Timestamps are client Unix milliseconds; zero means absent.
type ClientMessage struct {
	Ver    int     `json:"ver,omitempty"`
	Type   string  `json:"type"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	T      int64   `json:"t"`
	Key    string  `json:"key"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	SentAt int64   `json:"sentAt"`
}

// DecodeClientMessage parses and validates one inbound message.
func DecodeClientMessage(data []byte) (ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return ClientMessage{}, goerr.Wrap(err, "malformed client message")
	}
	if msg.Ver != 0 && msg.Ver != Version {
		return ClientMessage{}, goerr.New("unsupported protocol version", goerr.V("ver", msg.Ver))
	}
	switch msg.Type {
	case TypePointer, TypeResume, TypeHeartbeat:
	case TypeKeyDown, TypeKeyUp:
		if msg.Key == "" {
			return ClientMessage{}, goerr.New("key message without key", goerr.V("type", msg.Type))
		}
		msg.Key = strings.ToLower(msg.Key)
	case TypeViewport:
		if msg.Width <= 0 {
			return ClientMessage{}, goerr.New("viewport width must be positive", goerr.V("width", msg.Width))
		}
	default:
		return ClientMessage{}, goerr.New("unknown message type", goerr.V("type", msg.Type))
	}
	return msg, nil
}

// StateMessage carries the participant's latest snapshot.
type StateMessage struct {
	Ver        int            `json:"ver"`
	Type       string         `json:"type"`
	ServerTime int64          `json:"serverTime"`
	State      trial.Snapshot `json:"state"`
}

// EndedMessage is sent once when the session is sealed.
type EndedMessage struct {
	Ver     int             `json:"ver"`
	Type    string          `json:"type"`
	Session records.Session `json:"session"`
}

type HeartbeatMessage struct {
	Ver        int    `json:"ver"`
	Type       string `json:"type"`
	ServerTime int64  `json:"serverTime"`
	ClientTime int64  `json:"clientTime"`
	RTTMillis  int64  `json:"rtt"`
}

type ErrorMessage struct {
	Ver    int    `json:"ver"`
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

// JoinResponse answers POST /join.
type JoinResponse struct {
	Ver        int    `json:"ver"`
	ID         string `json:"id"`
	Experiment any    `json:"experiment"`
}

func NewState(serverTime int64, snap trial.Snapshot) StateMessage {
	return StateMessage{Ver: Version, Type: TypeState, ServerTime: serverTime, State: snap}
}

func NewEnded(session records.Session) EndedMessage {
	return EndedMessage{Ver: Version, Type: TypeEnded, Session: session}
}

func NewHeartbeat(serverTime, clientTime, rttMillis int64) HeartbeatMessage {
	return HeartbeatMessage{Ver: Version, Type: TypeHeartbeat, ServerTime: serverTime, ClientTime: clientTime, RTTMillis: rttMillis}
}

func NewError(reason string) ErrorMessage {
	return ErrorMessage{Ver: Version, Type: TypeError, Reason: reason}
}

// Encode renders an outbound message.
func Encode(msg any) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to encode message")
	}
	return data, nil
}
