package net

import (
	"encoding/json"
	nethttp "net/http"

	"go.uber.org/zap"

	"github.com/ssukumar/GlobalInvigoration/internal/clock"
	"github.com/ssukumar/GlobalInvigoration/internal/hub"
	"github.com/ssukumar/GlobalInvigoration/internal/net/proto"
	"github.com/ssukumar/GlobalInvigoration/internal/net/ws"
	"github.com/ssukumar/GlobalInvigoration/internal/observability"
	"github.com/ssukumar/GlobalInvigoration/internal/telemetry"
	"github.com/ssukumar/GlobalInvigoration/logging"
)

type HTTPHandlerConfig struct {
	Logger        *zap.Logger
	Clock         clock.Clock
	Metrics       *logging.Metrics
	Router        *logging.Router
	Observability observability.Config
	// ClientDir serves the participant client when set.
	ClientDir string
}

func NewHTTPHandler(h *hub.Hub, cfg HTTPHandlerConfig) nethttp.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	c := cfg.Clock
	if c == nil {
		c = clock.System()
	}

	mux := nethttp.NewServeMux()

	mux.HandleFunc("/health", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("ok"))
	})

	mux.HandleFunc("/diagnostics", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		payload := struct {
			Status       string                       `json:"status"`
			ServerTime   int64                        `json:"serverTime"`
			Participants []hub.ParticipantDiagnostics `json:"participants"`
			Telemetry    map[string]uint64            `json:"telemetry"`
			Events       *logging.RouterStats         `json:"events,omitempty"`
		}{
			Status:       "ok",
			ServerTime:   clock.UnixMilli(c),
			Participants: h.Diagnostics(),
		}
		if cfg.Metrics != nil {
			payload.Telemetry = cfg.Metrics.Snapshot()
		}
		if cfg.Router != nil {
			stats := cfg.Router.Stats()
			payload.Events = &stats
		}
		writeJSON(w, logger, payload)
	})

	mux.HandleFunc("/join", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if r.Method != nethttp.MethodPost {
			httpError(w, "method not allowed", nethttp.StatusMethodNotAllowed)
			return
		}
		join, err := h.Join()
		if err != nil {
			logger.Error("join failed", zap.Error(err))
			httpError(w, "join unavailable", nethttp.StatusServiceUnavailable)
			return
		}
		writeJSON(w, logger, proto.JoinResponse{Ver: proto.Version, ID: join.ID, Experiment: join.Experiment})
	})

	var metrics telemetry.Metrics
	if cfg.Metrics != nil {
		metrics = telemetry.WrapMetrics(cfg.Metrics)
	}
	wsHandler := ws.NewHandler(h, ws.HandlerConfig{Logger: logger, Clock: c, Metrics: metrics})
	mux.HandleFunc("/ws", wsHandler.Handle)

	observability.Register(mux, cfg.Observability)

	if cfg.ClientDir != "" {
		mux.Handle("/", nethttp.FileServer(nethttp.Dir(cfg.ClientDir)))
	}

	return mux
}

func writeJSON(w nethttp.ResponseWriter, logger *zap.Logger, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		logger.Error("failed to encode response", zap.Error(err))
		httpError(w, "failed to encode", nethttp.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

func httpError(w nethttp.ResponseWriter, msg string, code int) {
	nethttp.Error(w, msg, code)
}
