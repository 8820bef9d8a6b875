package store

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/ssukumar/GlobalInvigoration/internal/records"
)

type MemoryStore struct {
	mu          sync.RWMutex
	initialized bool
	reaches     map[string]records.Reach
	rounds      map[string]records.Round
	sessions    map[string]records.Session
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.initialized {
		return nil
	}
	s.initialized = true
	s.reaches = make(map[string]records.Reach)
	s.rounds = make(map[string]records.Round)
	s.sessions = make(map[string]records.Session)
	return nil
}

func (s *MemoryStore) PutReach(_ context.Context, reach records.Reach) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return ErrNotInitialized
	}
	s.reaches[reach.Key().DocID()] = reach.Clone()
	return nil
}

func (s *MemoryStore) GetReach(_ context.Context, id string) (records.Reach, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.initialized {
		return records.Reach{}, false, ErrNotInitialized
	}
	reach, ok := s.reaches[id]
	return reach.Clone(), ok, nil
}

func (s *MemoryStore) PutRound(_ context.Context, round records.Round) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return ErrNotInitialized
	}
	s.rounds[round.Key().DocID()] = round.Clone()
	return nil
}

func (s *MemoryStore) GetRound(_ context.Context, id string) (records.Round, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.initialized {
		return records.Round{}, false, ErrNotInitialized
	}
	round, ok := s.rounds[id]
	return round.Clone(), ok, nil
}

func (s *MemoryStore) PutSession(_ context.Context, session records.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return ErrNotInitialized
	}
	s.sessions[records.SessionDocID(session.ParticipantID)] = session.Clone()
	return nil
}

func (s *MemoryStore) GetSession(_ context.Context, participantID string) (records.Session, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.initialized {
		return records.Session{}, false, ErrNotInitialized
	}
	session, ok := s.sessions[records.SessionDocID(participantID)]
	return session.Clone(), ok, nil
}

func (s *MemoryStore) ListReaches(_ context.Context, participantID string) ([]records.Reach, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.initialized {
		return nil, ErrNotInitialized
	}
	out := make([]records.Reach, 0, len(s.reaches))
	for _, reach := range s.reaches {
		if participantID == "" || reach.ParticipantID == participantID {
			out = append(out, reach.Clone())
		}
	}
	slices.SortFunc(out, func(a, b records.Reach) int {
		return cmp.Or(
			cmp.Compare(a.ParticipantID, b.ParticipantID),
			cmp.Compare(a.BlockIndex, b.BlockIndex),
			cmp.Compare(a.RoundIndex, b.RoundIndex),
			cmp.Compare(a.ReachIndex, b.ReachIndex),
		)
	})
	return out, nil
}

func (s *MemoryStore) ListRounds(_ context.Context, participantID string) ([]records.Round, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.initialized {
		return nil, ErrNotInitialized
	}
	out := make([]records.Round, 0, len(s.rounds))
	for _, round := range s.rounds {
		if participantID == "" || round.ParticipantID == participantID {
			out = append(out, round.Clone())
		}
	}
	slices.SortFunc(out, func(a, b records.Round) int {
		return cmp.Or(
			cmp.Compare(a.ParticipantID, b.ParticipantID),
			cmp.Compare(a.BlockIndex, b.BlockIndex),
			cmp.Compare(a.RoundIndex, b.RoundIndex),
		)
	})
	return out, nil
}

func (s *MemoryStore) ListSessions(_ context.Context) ([]records.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.initialized {
		return nil, ErrNotInitialized
	}
	out := make([]records.Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		out = append(out, session.Clone())
	}
	slices.SortFunc(out, func(a, b records.Session) int {
		return cmp.Compare(a.ParticipantID, b.ParticipantID)
	})
	return out, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
