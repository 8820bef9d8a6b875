package store

import (
	"encoding/json"
	"errors"

	"github.com/m-mizutani/goerr/v2"

	"github.com/ssukumar/GlobalInvigoration/internal/records"
)

const CurrentCodecVersion = 1

var ErrVersionMismatch = errors.New("record version mismatch")

func EncodeReach(r records.Reach) ([]byte, error) {
	return json.Marshal(r)
}

func DecodeReach(data []byte) (records.Reach, error) {
	var reach records.Reach
	if err := json.Unmarshal(data, &reach); err != nil {
		return records.Reach{}, err
	}
	if err := checkVersion(reach.SchemaVersion); err != nil {
		return records.Reach{}, err
	}
	return reach, nil
}

func EncodeRound(r records.Round) ([]byte, error) {
	return json.Marshal(r)
}

func DecodeRound(data []byte) (records.Round, error) {
	var round records.Round
	if err := json.Unmarshal(data, &round); err != nil {
		return records.Round{}, err
	}
	if err := checkVersion(round.SchemaVersion); err != nil {
		return records.Round{}, err
	}
	return round, nil
}

func EncodeSession(s records.Session) ([]byte, error) {
	return json.Marshal(s)
}

func DecodeSession(data []byte) (records.Session, error) {
	var session records.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return records.Session{}, err
	}
	if err := checkVersion(session.SchemaVersion); err != nil {
		return records.Session{}, err
	}
	return session, nil
}

func checkVersion(schema int) error {
	if schema != records.SchemaVersion {
		return goerr.Wrap(ErrVersionMismatch, "unsupported schema version",
			goerr.V("got", schema),
			goerr.V("want", records.SchemaVersion))
	}
	return nil
}
