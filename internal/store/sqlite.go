package store

import (
	"context"
	"database/sql"
	"errors"
	"sync"

	"github.com/m-mizutani/goerr/v2"
	_ "modernc.org/sqlite"

	"github.com/ssukumar/GlobalInvigoration/internal/records"
)

type SQLiteStore struct {
	path string

	mu sync.RWMutex
	db *sql.DB
}

func NewSQLiteStore(path string) *SQLiteStore {
	return &SQLiteStore{path: path}
}

func (s *SQLiteStore) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return goerr.New("sqlite path is required")
	}
	if s.db != nil {
		return nil
	}

	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return goerr.Wrap(err, "open sqlite", goerr.V("path", s.path))
	}
	// One connection serializes writers; SQLite allows a single writer anyway.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return goerr.Wrap(err, "ping sqlite", goerr.V("path", s.path))
	}

	if err := createTables(ctx, db); err != nil {
		_ = db.Close()
		return goerr.Wrap(err, "create tables", goerr.V("path", s.path))
	}

	s.db = db
	return nil
}

func (s *SQLiteStore) PutReach(ctx context.Context, reach records.Reach) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	payload, err := EncodeReach(reach)
	if err != nil {
		return err
	}

	id := reach.Key().DocID()
	_, err = db.ExecContext(ctx, `
		INSERT INTO reaches (id, participant_id, block_index, round_index, reach_index, schema_version, codec_version, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			schema_version = excluded.schema_version,
			codec_version = excluded.codec_version,
			payload = excluded.payload
	`, id, reach.ParticipantID, reach.BlockIndex, reach.RoundIndex, reach.ReachIndex, reach.SchemaVersion, CurrentCodecVersion, payload)
	if err != nil {
		return goerr.Wrap(err, "upsert reach", goerr.V("id", id))
	}
	return nil
}

func (s *SQLiteStore) GetReach(ctx context.Context, id string) (records.Reach, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return records.Reach{}, false, err
	}

	var payload []byte
	err = db.QueryRowContext(ctx, `SELECT payload FROM reaches WHERE id = ?`, id).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return records.Reach{}, false, nil
		}
		return records.Reach{}, false, err
	}

	reach, err := DecodeReach(payload)
	if err != nil {
		return records.Reach{}, false, goerr.Wrap(err, "decode reach", goerr.V("id", id))
	}
	return reach, true, nil
}

func (s *SQLiteStore) PutRound(ctx context.Context, round records.Round) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	payload, err := EncodeRound(round)
	if err != nil {
		return err
	}

	id := round.Key().DocID()
	_, err = db.ExecContext(ctx, `
		INSERT INTO rounds (id, participant_id, block_index, round_index, schema_version, codec_version, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			schema_version = excluded.schema_version,
			codec_version = excluded.codec_version,
			payload = excluded.payload
	`, id, round.ParticipantID, round.BlockIndex, round.RoundIndex, round.SchemaVersion, CurrentCodecVersion, payload)
	if err != nil {
		return goerr.Wrap(err, "upsert round", goerr.V("id", id))
	}
	return nil
}

func (s *SQLiteStore) GetRound(ctx context.Context, id string) (records.Round, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return records.Round{}, false, err
	}

	var payload []byte
	err = db.QueryRowContext(ctx, `SELECT payload FROM rounds WHERE id = ?`, id).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return records.Round{}, false, nil
		}
		return records.Round{}, false, err
	}

	round, err := DecodeRound(payload)
	if err != nil {
		return records.Round{}, false, goerr.Wrap(err, "decode round", goerr.V("id", id))
	}
	return round, true, nil
}

func (s *SQLiteStore) PutSession(ctx context.Context, session records.Session) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	payload, err := EncodeSession(session)
	if err != nil {
		return err
	}

	id := records.SessionDocID(session.ParticipantID)
	_, err = db.ExecContext(ctx, `
		INSERT INTO sessions (id, status, schema_version, codec_version, payload)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			schema_version = excluded.schema_version,
			codec_version = excluded.codec_version,
			payload = excluded.payload
	`, id, string(session.Status), session.SchemaVersion, CurrentCodecVersion, payload)
	if err != nil {
		return goerr.Wrap(err, "upsert session", goerr.V("id", id))
	}
	return nil
}

func (s *SQLiteStore) GetSession(ctx context.Context, participantID string) (records.Session, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return records.Session{}, false, err
	}

	id := records.SessionDocID(participantID)
	var payload []byte
	err = db.QueryRowContext(ctx, `SELECT payload FROM sessions WHERE id = ?`, id).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return records.Session{}, false, nil
		}
		return records.Session{}, false, err
	}

	session, err := DecodeSession(payload)
	if err != nil {
		return records.Session{}, false, goerr.Wrap(err, "decode session", goerr.V("id", id))
	}
	return session, true, nil
}

func (s *SQLiteStore) ListReaches(ctx context.Context, participantID string) ([]records.Reach, error) {
	payloads, err := s.listPayloads(ctx, `
		SELECT payload FROM reaches
		WHERE ? = '' OR participant_id = ?
		ORDER BY participant_id, block_index, round_index, reach_index
	`, participantID, participantID)
	if err != nil {
		return nil, err
	}
	out := make([]records.Reach, 0, len(payloads))
	for _, payload := range payloads {
		reach, err := DecodeReach(payload)
		if err != nil {
			return nil, goerr.Wrap(err, "decode reach")
		}
		out = append(out, reach)
	}
	return out, nil
}

func (s *SQLiteStore) ListRounds(ctx context.Context, participantID string) ([]records.Round, error) {
	payloads, err := s.listPayloads(ctx, `
		SELECT payload FROM rounds
		WHERE ? = '' OR participant_id = ?
		ORDER BY participant_id, block_index, round_index
	`, participantID, participantID)
	if err != nil {
		return nil, err
	}
	out := make([]records.Round, 0, len(payloads))
	for _, payload := range payloads {
		round, err := DecodeRound(payload)
		if err != nil {
			return nil, goerr.Wrap(err, "decode round")
		}
		out = append(out, round)
	}
	return out, nil
}

func (s *SQLiteStore) ListSessions(ctx context.Context) ([]records.Session, error) {
	payloads, err := s.listPayloads(ctx, `SELECT payload FROM sessions ORDER BY id`)
	if err != nil {
		return nil, err
	}
	out := make([]records.Session, 0, len(payloads))
	for _, payload := range payloads {
		session, err := DecodeSession(payload)
		if err != nil {
			return nil, goerr.Wrap(err, "decode session")
		}
		out = append(out, session)
	}
	return out, nil
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *SQLiteStore) listPayloads(ctx context.Context, query string, args ...any) ([][]byte, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, goerr.Wrap(err, "query payloads")
	}
	defer rows.Close()

	var payloads [][]byte
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, goerr.Wrap(err, "scan payload")
		}
		payloads = append(payloads, payload)
	}
	return payloads, rows.Err()
}

func (s *SQLiteStore) getDB() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, ErrNotInitialized
	}
	return s.db, nil
}

func createTables(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS reaches (
			id TEXT PRIMARY KEY,
			participant_id TEXT NOT NULL,
			block_index INTEGER NOT NULL,
			round_index INTEGER NOT NULL,
			reach_index INTEGER NOT NULL,
			schema_version INTEGER NOT NULL,
			codec_version INTEGER NOT NULL,
			payload BLOB NOT NULL
		);
		CREATE INDEX IF NOT EXISTS reaches_participant ON reaches (participant_id, block_index, round_index, reach_index);
		CREATE TABLE IF NOT EXISTS rounds (
			id TEXT PRIMARY KEY,
			participant_id TEXT NOT NULL,
			block_index INTEGER NOT NULL,
			round_index INTEGER NOT NULL,
			schema_version INTEGER NOT NULL,
			codec_version INTEGER NOT NULL,
			payload BLOB NOT NULL
		);
		CREATE INDEX IF NOT EXISTS rounds_participant ON rounds (participant_id, block_index, round_index);
		CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			schema_version INTEGER NOT NULL,
			codec_version INTEGER NOT NULL,
			payload BLOB NOT NULL
		);
	`)
	return err
}
