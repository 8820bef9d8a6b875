// Package ws serves participant websocket connections.
package ws

import (
	nethttp "net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ssukumar/GlobalInvigoration/internal/clock"
	"github.com/ssukumar/GlobalInvigoration/internal/hub"
	"github.com/ssukumar/GlobalInvigoration/internal/net/intake"
	"github.com/ssukumar/GlobalInvigoration/internal/net/proto"
	"github.com/ssukumar/GlobalInvigoration/internal/telemetry"
)

const (
	defaultWriteWait  = 10 * time.Second
	defaultSendBuffer = 64

	metricMessagesIn  = "ws_messages_in_total"
	metricMalformed   = "ws_messages_malformed_total"
	metricConnections = "ws_connections_total"
)

type HandlerConfig struct {
	Logger     *zap.Logger
	Clock      clock.Clock
	Metrics    telemetry.Metrics
	SendBuffer int
	WriteWait  time.Duration
}

type Handler struct {
	hub      *hub.Hub
	logger   *zap.Logger
	clock    clock.Clock
	metrics  telemetry.Metrics
	cfg      HandlerConfig
	upgrader websocket.Upgrader
}

func NewHandler(h *hub.Hub, cfg HandlerConfig) *Handler {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.System()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = telemetry.Nop()
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = defaultSendBuffer
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = defaultWriteWait
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *nethttp.Request) bool {
			return true
		},
	}

	return &Handler{
		hub:      h,
		logger:   cfg.Logger,
		clock:    cfg.Clock,
		metrics:  cfg.Metrics,
		cfg:      cfg,
		upgrader: upgrader,
	}
}

// Handle upgrades the request and runs the participant's read loop until the
// connection closes.
func (h *Handler) Handle(w nethttp.ResponseWriter, r *nethttp.Request) {
	participantID := r.URL.Query().Get("id")
	if participantID == "" {
		nethttp.Error(w, "missing id", nethttp.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", zap.String("participant", participantID), zap.Error(err))
		return
	}
	h.metrics.Add(metricConnections, 1)

	sess := newSession(participantID, conn, h.clock, h.logger, h.cfg.SendBuffer, h.cfg.WriteWait)
	defer sess.wait()

	if err := h.hub.Subscribe(participantID, sess); err != nil {
		h.logger.Info("rejecting connection", zap.String("participant", participantID), zap.Error(err))
		message := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "unknown participant")
		conn.WriteControl(websocket.CloseMessage, message, time.Now().Add(time.Second))
		sess.Close()
		return
	}

	var rebaser intake.Rebaser
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			h.hub.Disconnect(participantID, sess, disconnectReason(err))
			sess.Close()
			return
		}
		h.metrics.Add(metricMessagesIn, 1)

		msg, err := proto.DecodeClientMessage(payload)
		if err != nil {
			h.metrics.Add(metricMalformed, 1)
			h.logger.Debug("discarding client message", zap.String("participant", participantID), zap.Error(err))
			sess.write(proto.NewError(err.Error()))
			continue
		}

		now := h.clock.Now()
		if msg.Type == proto.TypeHeartbeat {
			rtt, ok := h.hub.UpdateHeartbeat(participantID, now, msg.SentAt)
			if !ok {
				sess.Close()
				return
			}
			sess.write(proto.NewHeartbeat(now.UnixMilli(), msg.SentAt, rtt.Milliseconds()))
			continue
		}

		call, ok := intake.Stage(msg, rebaser.Server(msg.T, now.UnixMilli()))
		if !ok {
			continue
		}
		if err := h.hub.Dispatch(participantID, call); err != nil {
			h.logger.Info("participant gone, closing connection", zap.String("participant", participantID), zap.Error(err))
			sess.Close()
			return
		}
	}
}

func disconnectReason(err error) string {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return "closed by client"
	}
	return "connection lost"
}
