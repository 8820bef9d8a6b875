package app

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ssukumar/GlobalInvigoration/internal/config"
	"github.com/ssukumar/GlobalInvigoration/logging"
)

func TestRunStopsOnCancel(t *testing.T) {
	cfg := config.Default()
	cfg.Server.Addr = "127.0.0.1:0"
	cfg.Store.Kind = "memory"
	_, err := cfg.Validate()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Run(ctx, cfg, zap.NewNop()) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestOpenStoreRejectsUnknownKind(t *testing.T) {
	_, err := OpenStore(context.Background(), config.StoreConfig{Kind: "cassandra"})
	assert.Error(t, err)
}

func TestNewRouterWritesJSONEvents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.ndjson")
	router, err := NewRouter(config.LoggingConfig{Sinks: []string{"json"}, JSONPath: path}, &logging.Metrics{}, zap.NewNop())
	require.NoError(t, err)

	router.Publish(context.Background(), logging.Event{
		Type:     logging.EventType("test.event"),
		Severity: logging.SeverityInfo,
		Actor:    logging.EntityRef{ID: "P_1"},
	})
	require.NoError(t, router.Close(context.Background()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), `"test.event"`), string(data))
	assert.True(t, strings.Contains(string(data), `"invigoration"`), string(data))
}

func TestNewRouterRequiresJSONPath(t *testing.T) {
	_, err := NewRouter(config.LoggingConfig{Sinks: []string{"json"}}, &logging.Metrics{}, zap.NewNop())
	assert.Error(t, err)
}

func TestNewRouterWarnsOnUnknownSink(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	router, err := NewRouter(config.LoggingConfig{Sinks: []string{"zap", "kafka"}, MinimumSeverity: "loud"}, &logging.Metrics{}, zap.New(core))
	require.NoError(t, err)
	require.NoError(t, router.Close(context.Background()))

	assert.Equal(t, 1, logs.FilterMessage("unknown event sink ignored").Len())
	assert.Equal(t, 1, logs.FilterMessage("invalid logging.minimum_severity").Len())
}
