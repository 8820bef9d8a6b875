// Package export dumps stored experiment records for analysis. CSV output
// writes one file per record kind with sample arrays JSON-encoded in their
// cells; NDJSON writes every document on its own line.
package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/m-mizutani/goerr/v2"

	"github.com/ssukumar/GlobalInvigoration/internal/records"
	"github.com/ssukumar/GlobalInvigoration/internal/store"
)

type Format string

const (
	FormatCSV    Format = "csv"
	FormatNDJSON Format = "ndjson"
)

// ErrUnknownFormat is returned for formats other than csv and ndjson.
var ErrUnknownFormat = errors.New("unknown export format")

// Dataset is every record of the selected participants.
type Dataset struct {
	Sessions []records.Session
	Rounds   []records.Round
	Reaches  []records.Reach
}

// Load reads the records of one participant, or of everyone when
// participantID is empty.
func Load(ctx context.Context, st store.Store, participantID string) (Dataset, error) {
	var ds Dataset
	sessions, err := st.ListSessions(ctx)
	if err != nil {
		return ds, goerr.Wrap(err, "failed to list sessions")
	}
	for _, session := range sessions {
		if participantID == "" || session.ParticipantID == participantID {
			ds.Sessions = append(ds.Sessions, session)
		}
	}
	if ds.Rounds, err = st.ListRounds(ctx, participantID); err != nil {
		return ds, goerr.Wrap(err, "failed to list rounds", goerr.V("participant", participantID))
	}
	if ds.Reaches, err = st.ListReaches(ctx, participantID); err != nil {
		return ds, goerr.Wrap(err, "failed to list reaches", goerr.V("participant", participantID))
	}
	return ds, nil
}

// Options selects what Export writes and where. CSV output goes to Dir;
// NDJSON goes to Out.
type Options struct {
	Format        Format
	ParticipantID string
	Dir           string
	Out           io.Writer
}

// Export loads the selected records and writes them in the requested
// format. It returns the files written, if any.
func Export(ctx context.Context, st store.Store, opts Options) ([]string, error) {
	switch opts.Format {
	case FormatCSV, FormatNDJSON:
	default:
		return nil, goerr.Wrap(ErrUnknownFormat, "cannot export", goerr.V("format", opts.Format))
	}
	ds, err := Load(ctx, st, opts.ParticipantID)
	if err != nil {
		return nil, err
	}
	if opts.Format == FormatNDJSON {
		out := opts.Out
		if out == nil {
			out = os.Stdout
		}
		return nil, WriteNDJSON(out, ds)
	}
	dir := opts.Dir
	if dir == "" {
		dir = "."
	}
	return WriteCSVFiles(dir, ds)
}

type ndjsonLine struct {
	Kind string `json:"kind"`
	ID   string `json:"id"`
	Doc  any    `json:"doc"`
}

// WriteNDJSON writes sessions, then rounds, then reaches.
func WriteNDJSON(w io.Writer, ds Dataset) error {
	enc := json.NewEncoder(w)
	for _, session := range ds.Sessions {
		if err := enc.Encode(ndjsonLine{Kind: "session", ID: records.SessionDocID(session.ParticipantID), Doc: session}); err != nil {
			return goerr.Wrap(err, "failed to write session")
		}
	}
	for _, round := range ds.Rounds {
		if err := enc.Encode(ndjsonLine{Kind: "round", ID: round.Key().DocID(), Doc: round}); err != nil {
			return goerr.Wrap(err, "failed to write round")
		}
	}
	for _, reach := range ds.Reaches {
		if err := enc.Encode(ndjsonLine{Kind: "reach", ID: reach.Key().DocID(), Doc: reach}); err != nil {
			return goerr.Wrap(err, "failed to write reach")
		}
	}
	return nil
}

// WriteCSVFiles writes sessions.csv, rounds.csv and reaches.csv into dir and
// returns their paths.
func WriteCSVFiles(dir string, ds Dataset) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, goerr.Wrap(err, "failed to create export directory", goerr.V("dir", dir))
	}
	files := []struct {
		name  string
		write func(io.Writer) error
	}{
		{"sessions.csv", func(w io.Writer) error { return WriteSessionsCSV(w, ds.Sessions) }},
		{"rounds.csv", func(w io.Writer) error { return WriteRoundsCSV(w, ds.Rounds) }},
		{"reaches.csv", func(w io.Writer) error { return WriteReachesCSV(w, ds.Reaches) }},
	}
	paths := make([]string, 0, len(files))
	for _, file := range files {
		path := filepath.Join(dir, file.name)
		if err := writeFile(path, file.write); err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func writeFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return goerr.Wrap(err, "failed to create export file", goerr.V("path", path))
	}
	if err := write(f); err != nil {
		f.Close()
		return goerr.Wrap(err, "failed to write export file", goerr.V("path", path))
	}
	if err := f.Close(); err != nil {
		return goerr.Wrap(err, "failed to close export file", goerr.V("path", path))
	}
	return nil
}

var sessionHeader = []string{
	"id", "participantId", "status", "reason", "sessionStartTime", "sessionEnd",
	"totalDuration", "score", "rounds", "totalReaches", "blocks",
}

func WriteSessionsCSV(w io.Writer, sessions []records.Session) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(sessionHeader); err != nil {
		return err
	}
	for _, s := range sessions {
		blocks, err := jsonCell(s.Blocks)
		if err != nil {
			return err
		}
		row := []string{
			records.SessionDocID(s.ParticipantID),
			s.ParticipantID,
			string(s.Status),
			s.Reason,
			itoa64(s.StartedAt),
			itoa64(s.EndedAt),
			itoa64(s.TotalDuration),
			strconv.Itoa(s.Score),
			strconv.Itoa(len(s.Rounds)),
			strconv.Itoa(s.TotalReaches),
			blocks,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

var roundHeader = []string{
	"id", "participantId", "block", "environment", "round", "durationMs", "rewardValue",
	"keySequence", "sequenceFlagged", "completed", "abandoned", "totalPresses", "correctPresses",
	"accuracy", "averageInterKeyInterval", "completionTime", "overshoot", "reachCount",
	"droppedSamples", "currScore", "startedAt", "collectionStartedAt", "completedAt", "keyEvents",
}

func WriteRoundsCSV(w io.Writer, rounds []records.Round) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(roundHeader); err != nil {
		return err
	}
	for _, r := range rounds {
		sequence, err := jsonCell(r.Sequence)
		if err != nil {
			return err
		}
		events, err := jsonCell(r.Events)
		if err != nil {
			return err
		}
		row := []string{
			r.Key().DocID(),
			r.ParticipantID,
			strconv.Itoa(r.BlockIndex + 1),
			r.Environment,
			strconv.Itoa(r.RoundIndex),
			itoa64(r.DurationMs),
			strconv.Itoa(r.Reward),
			sequence,
			strconv.FormatBool(r.SequenceFlagged),
			strconv.FormatBool(r.Completed),
			strconv.FormatBool(r.Abandoned),
			strconv.Itoa(r.TotalPresses),
			strconv.Itoa(r.CorrectPresses),
			ftoa(r.Accuracy),
			ftoa(r.MeanInterKeyInterval),
			itoa64(r.CompletionTimeMs),
			strconv.Itoa(r.Overshoot),
			strconv.Itoa(r.ReachCount),
			strconv.Itoa(r.DroppedSamples),
			strconv.Itoa(r.ScoreAfter),
			itoa64(r.StartedAt),
			itoa64(r.CollectionStartedAt),
			itoa64(r.CompletedAt),
			events,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

var reachHeader = []string{
	"id", "participantId", "block", "environment", "round", "reach", "startWall", "endWall",
	"implicit", "sampleCount", "durationMs", "sampleRateHz", "currScore", "completedAt",
	"gameStateArray", "posXArray", "posYArray", "timestampArray",
}

func WriteReachesCSV(w io.Writer, reaches []records.Reach) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(reachHeader); err != nil {
		return err
	}
	for _, r := range reaches {
		cells := make([]string, 0, 4)
		for _, array := range []any{r.GameStates, r.PosX, r.PosY, r.Timestamps} {
			cell, err := jsonCell(array)
			if err != nil {
				return err
			}
			cells = append(cells, cell)
		}
		row := []string{
			r.Key().DocID(),
			r.ParticipantID,
			strconv.Itoa(r.BlockIndex + 1),
			r.Environment,
			strconv.Itoa(r.RoundIndex),
			strconv.Itoa(r.ReachIndex),
			string(r.StartWall),
			string(r.EndWall),
			strconv.FormatBool(r.Implicit),
			strconv.Itoa(r.SampleCount),
			itoa64(r.DurationMs),
			ftoa(r.SampleRate),
			strconv.Itoa(r.ScoreAtSeal),
			itoa64(r.SealedAt),
		}
		row = append(row, cells...)
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func jsonCell(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", goerr.Wrap(err, "failed to encode cell")
	}
	return string(data), nil
}

func itoa64(v int64) string {
	return strconv.FormatInt(v, 10)
}

func ftoa(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
