package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ssukumar/GlobalInvigoration/internal/clock"
	"github.com/ssukumar/GlobalInvigoration/internal/hub"
	"github.com/ssukumar/GlobalInvigoration/internal/net/proto"
)

// session is one websocket connection of a participant. All writes go
// through the send queue so the connection has a single writer.
type session struct {
	participantID string
	conn          *websocket.Conn
	clock         clock.Clock
	logger        *zap.Logger
	writeWait     time.Duration

	send   chan []byte
	closed chan struct{}
	done   chan struct{}
	once   sync.Once
}

func newSession(participantID string, conn *websocket.Conn, c clock.Clock, logger *zap.Logger, buffer int, writeWait time.Duration) *session {
	s := &session{
		participantID: participantID,
		conn:          conn,
		clock:         c,
		logger:        logger,
		writeWait:     writeWait,
		send:          make(chan []byte, buffer),
		closed:        make(chan struct{}),
		done:          make(chan struct{}),
	}
	go s.writeLoop()
	return s
}

// Send implements hub.Subscriber. It never blocks; a full queue drops the
// update and the next state supersedes it.
func (s *session) Send(update hub.Update) {
	s.write(proto.NewState(clock.UnixMilli(s.clock), update.Snapshot))
	if update.Session != nil {
		s.write(proto.NewEnded(*update.Session))
	}
}

// Close implements hub.Subscriber.
func (s *session) Close() {
	s.once.Do(func() {
		close(s.closed)
		s.conn.Close()
	})
}

func (s *session) write(msg any) {
	data, err := proto.Encode(msg)
	if err != nil {
		s.logger.Error("failed to encode message", zap.String("participant", s.participantID), zap.Error(err))
		return
	}
	select {
	case <-s.closed:
	case s.send <- data:
	default:
		s.logger.Warn("send queue full, dropping message", zap.String("participant", s.participantID))
	}
}

func (s *session) writeLoop() {
	defer close(s.done)
	for {
		select {
		case <-s.closed:
			return
		case data := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(s.writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.logger.Debug("write failed", zap.String("participant", s.participantID), zap.Error(err))
				s.Close()
				return
			}
		}
	}
}

// wait blocks until the writer goroutine has exited.
func (s *session) wait() {
	<-s.done
}
