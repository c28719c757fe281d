package bridge

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/greenhouse-bridge/internal/infrastructure/config"
	"github.com/nerrad567/greenhouse-bridge/internal/infrastructure/mqtt"
)

// =============================================================================
// Test doubles
// =============================================================================

type published struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// fakeBus records what the bridge asks of the bus client and lets tests
// fire its callbacks directly.
type fakeBus struct {
	mu             sync.Mutex
	filters        []string
	publishes      []published
	publishErr     error
	subscribeErr   error
	startErr       error
	started        int
	handler        mqtt.MessageHandler
	onConnect      func()
	onDisconnect   func(err error)
	onPublishError func(topic string, err error)
}

func (b *fakeBus) Publish(topic string, payload []byte, qos byte, retained bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.publishErr != nil {
		return b.publishErr
	}
	b.publishes = append(b.publishes, published{topic, payload, qos, retained})
	return nil
}

func (b *fakeBus) Subscribe(filters ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subscribeErr != nil {
		return b.subscribeErr
	}
	b.filters = append(b.filters, filters...)
	return nil
}

func (b *fakeBus) SetMessageHandler(handler mqtt.MessageHandler) { b.handler = handler }
func (b *fakeBus) SetOnConnect(callback func())                  { b.onConnect = callback }
func (b *fakeBus) SetOnDisconnect(callback func(err error))      { b.onDisconnect = callback }
func (b *fakeBus) SetOnPublishError(callback func(topic string, err error)) {
	b.onPublishError = callback
}

func (b *fakeBus) Start(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.started++
	return b.startErr
}

// deliver mimics the bus client's dispatch: errors are swallowed.
func (b *fakeBus) deliver(topic, payload string) {
	if b.handler != nil {
		_ = b.handler(topic, []byte(payload))
	}
}

func (b *fakeBus) connect()       { b.onConnect() }
func (b *fakeBus) drop(err error) { b.onDisconnect(err) }

func (b *fakeBus) published() []published {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]published(nil), b.publishes...)
}

type broadcastCall struct {
	event   string
	payload any
}

type fakeBroadcaster struct {
	mu    sync.Mutex
	calls []broadcastCall
}

func (f *fakeBroadcaster) Broadcast(event string, payload any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, broadcastCall{event, payload})
}

func (f *fakeBroadcaster) all() []broadcastCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]broadcastCall(nil), f.calls...)
}

type logEntry struct {
	level string
	msg   string
	args  []any
}

// recordingLogger captures log calls for assertions.
type recordingLogger struct {
	mu      sync.Mutex
	entries []logEntry
}

func (l *recordingLogger) add(level, msg string, args []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, logEntry{level, msg, args})
}

func (l *recordingLogger) Debug(msg string, args ...any) { l.add("debug", msg, args) }
func (l *recordingLogger) Info(msg string, args ...any)  { l.add("info", msg, args) }
func (l *recordingLogger) Warn(msg string, args ...any)  { l.add("warn", msg, args) }
func (l *recordingLogger) Error(msg string, args ...any) { l.add("error", msg, args) }

// atLeast returns entries at info level or above.
func (l *recordingLogger) atLeast(level string) []logEntry {
	rank := map[string]int{"debug": 0, "info": 1, "warn": 2, "error": 3}
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []logEntry
	for _, e := range l.entries {
		if rank[e.level] >= rank[level] {
			out = append(out, e)
		}
	}
	return out
}

func (l *recordingLogger) reset() {
	l.mu.Lock()
	l.entries = nil
	l.mu.Unlock()
}

// attr returns the value logged under key, formatted with %v.
func (e logEntry) attr(key string) (string, bool) {
	for i := 0; i+1 < len(e.args); i += 2 {
		if k, ok := e.args[i].(string); ok && k == key {
			return fmt.Sprint(e.args[i+1]), true
		}
	}
	return "", false
}

var fixedNow = time.Date(2026, 10, 16, 12, 0, 0, 123_000_000, time.UTC)

func defaultBridgeConfig() config.BridgeConfig {
	return config.BridgeConfig{
		TelemetryFilter: "env/+/raw",
		EventFilter:     "env/event/#",
		ControlTopic:    "greenhouse/control/simulate",
	}
}

type harness struct {
	bridge *Bridge
	bus    *fakeBus
	hub    *fakeBroadcaster
	logger *recordingLogger
}

// newRunningBridge builds a started bridge whose bus has connected once.
func newRunningBridge(t *testing.T) *harness {
	t.Helper()
	h := newHarness(t, nil)
	if err := h.bridge.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	h.bus.connect()
	if got := h.bridge.State(); got != StateRunning {
		t.Fatalf("State() = %v, want %v", got, StateRunning)
	}
	h.logger.reset()
	return h
}

func newHarness(t *testing.T, metrics *Metrics) *harness {
	t.Helper()
	h := &harness{
		bus:    &fakeBus{},
		hub:    &fakeBroadcaster{},
		logger: &recordingLogger{},
	}
	b, err := New(Deps{
		Config:      defaultBridgeConfig(),
		Bus:         h.bus,
		Broadcaster: h.hub,
		Logger:      h.logger,
		Metrics:     metrics,
		Now:         func() time.Time { return fixedNow },
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	h.bridge = b
	return h
}
