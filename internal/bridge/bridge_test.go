package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Deps{Config: defaultBridgeConfig(), Logger: &recordingLogger{}})
	if !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("New() error = %v, want ErrInvalidConfig", err)
	}
}

func TestNew_InvalidTopics(t *testing.T) {
	cfg := defaultBridgeConfig()
	cfg.ControlTopic = "greenhouse/control/#"

	_, err := New(Deps{
		Config:      cfg,
		Bus:         &fakeBus{},
		Broadcaster: &fakeBroadcaster{},
		Logger:      &recordingLogger{},
	})
	if !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("New() error = %v, want ErrInvalidConfig", err)
	}
}

func TestBridge_StartSubscribesAndConnects(t *testing.T) {
	h := newHarness(t, nil)

	if got := h.bridge.State(); got != StateStarting {
		t.Errorf("initial State() = %v, want %v", got, StateStarting)
	}

	if err := h.bridge.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if !slices.Equal(h.bus.filters, []string{"env/+/raw", "env/event/#"}) {
		t.Errorf("subscribed filters = %v, want [env/+/raw env/event/#]", h.bus.filters)
	}
	if h.bus.started != 1 {
		t.Errorf("bus started %d times, want 1", h.bus.started)
	}
	if got := h.bridge.State(); got != StateBusConnecting {
		t.Errorf("State() after Start = %v, want %v", got, StateBusConnecting)
	}
	if h.bus.handler == nil || h.bus.onConnect == nil || h.bus.onDisconnect == nil || h.bus.onPublishError == nil {
		t.Error("Start() did not register every bus callback")
	}

	h.bus.connect()
	if got := h.bridge.State(); got != StateRunning {
		t.Errorf("State() after connect = %v, want %v", got, StateRunning)
	}
}

func TestBridge_StartTwice(t *testing.T) {
	h := newHarness(t, nil)
	if err := h.bridge.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := h.bridge.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start() error = %v, want ErrAlreadyStarted", err)
	}
}

func TestBridge_StartSubscribeFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.bus.subscribeErr = errors.New("mqtt: invalid filter")

	if err := h.bridge.Start(context.Background()); err == nil {
		t.Fatal("Start() error = nil, want subscribe error")
	}
	if h.bus.started != 0 {
		t.Error("bus started despite subscribe failure")
	}
}

// Scenario: telemetry on env/node7/raw reaches sessions as sensor_data.
func TestHandleMessage_Telemetry(t *testing.T) {
	h := newRunningBridge(t)

	h.bus.deliver("env/node7/raw", `{"temp":21.5}`)

	calls := h.hub.all()
	if len(calls) != 1 {
		t.Fatalf("broadcast %d times, want 1", len(calls))
	}
	if calls[0].event != EventSensorData {
		t.Errorf("event = %q, want %q", calls[0].event, EventSensorData)
	}
	assertPayload(t, calls[0].payload, map[string]any{"temp": 21.5})

	if n := len(h.logger.atLeast("info")); n != 0 {
		t.Errorf("telemetry produced %d log entries, want 0", n)
	}
}

// Scenario: an event is broadcast as sensor_event and logged with its type and node.
func TestHandleMessage_Event(t *testing.T) {
	h := newRunningBridge(t)

	h.bus.deliver("env/event/frost-warning", `{"node":"node7","event_type":"frost"}`)

	calls := h.hub.all()
	if len(calls) != 1 {
		t.Fatalf("broadcast %d times, want 1", len(calls))
	}
	if calls[0].event != EventSensorEvent {
		t.Errorf("event = %q, want %q", calls[0].event, EventSensorEvent)
	}
	assertPayload(t, calls[0].payload, map[string]any{"node": "node7", "event_type": "frost"})

	entries := h.logger.atLeast("info")
	if len(entries) != 1 {
		t.Fatalf("logged %d entries, want 1", len(entries))
	}
	if v, _ := entries[0].attr("event_type"); v != "frost" {
		t.Errorf("logged event_type = %q, want frost", v)
	}
	if v, _ := entries[0].attr("node"); v != "node7" {
		t.Errorf("logged node = %q, want node7", v)
	}
}

// Scenario: unrecognized topics are neither broadcast nor logged.
func TestHandleMessage_Unrecognized(t *testing.T) {
	h := newRunningBridge(t)

	for _, payload := range []string{`{"temp":1}`, `garbage`} {
		if err := h.bridge.HandleMessage("other/stuff", []byte(payload)); err != nil {
			t.Errorf("HandleMessage(other/stuff, %q) error = %v, want nil", payload, err)
		}
	}

	if n := len(h.hub.all()); n != 0 {
		t.Errorf("broadcast %d times, want 0", n)
	}
	if n := len(h.logger.entries); n != 0 {
		t.Errorf("logged %d entries, want 0", n)
	}
}

func TestHandleMessage_DecodeErrorDoesNotBroadcast(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())
	h := newHarness(t, metrics)
	if err := h.bridge.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	h.bus.connect()

	err := h.bridge.HandleMessage("env/node7/raw", []byte(`{"temp":`))
	if !errors.Is(err, ErrDecode) {
		t.Errorf("HandleMessage() error = %v, want ErrDecode", err)
	}
	if n := len(h.hub.all()); n != 0 {
		t.Errorf("broadcast %d times after decode error, want 0", n)
	}

	warns := h.logger.atLeast("warn")
	if len(warns) != 1 {
		t.Fatalf("warn entries = %d, want 1", len(warns))
	}
	if v, _ := warns[0].attr("topic"); v != "env/node7/raw" {
		t.Errorf("logged topic = %q, want env/node7/raw", v)
	}
	if got := testutil.ToFloat64(metrics.decodeErrors); got != 1 {
		t.Errorf("decode errors = %v, want 1", got)
	}

	// The next message is unaffected.
	h.bus.deliver("env/node7/raw", `{"temp":22}`)
	if n := len(h.hub.all()); n != 1 {
		t.Errorf("broadcast %d times after recovery, want 1", n)
	}
}

// Scenario: messages arriving while the bus is down are dropped quietly and
// flow resumes after reconnection.
func TestHandleMessage_DuringReconnect(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())
	h := newHarness(t, metrics)
	if err := h.bridge.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	h.bus.connect()

	h.bus.drop(errors.New("connection reset by peer"))
	if got := h.bridge.State(); got != StateBusReconnecting {
		t.Fatalf("State() after drop = %v, want %v", got, StateBusReconnecting)
	}
	if got := testutil.ToFloat64(metrics.busConnected); got != 0 {
		t.Errorf("bus connected gauge = %v, want 0", got)
	}

	h.bus.deliver("env/node7/raw", `{"temp":18}`)
	if n := len(h.hub.all()); n != 0 {
		t.Errorf("broadcast %d times while reconnecting, want 0", n)
	}
	if got := testutil.ToFloat64(metrics.dropped); got != 1 {
		t.Errorf("dropped = %v, want 1", got)
	}

	h.bus.connect()
	if got := h.bridge.State(); got != StateRunning {
		t.Fatalf("State() after reconnect = %v, want %v", got, StateRunning)
	}
	if got := testutil.ToFloat64(metrics.busConnected); got != 1 {
		t.Errorf("bus connected gauge = %v, want 1", got)
	}

	h.bus.deliver("env/node7/raw", `{"temp":19}`)
	if n := len(h.hub.all()); n != 1 {
		t.Errorf("broadcast %d times after reconnect, want 1", n)
	}
}

func TestHandleMessage_BeforeFirstConnect(t *testing.T) {
	h := newHarness(t, nil)
	if err := h.bridge.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	err := h.bridge.HandleMessage("env/node7/raw", []byte(`{"temp":1}`))
	if !errors.Is(err, ErrNotRunning) {
		t.Errorf("HandleMessage() error = %v, want ErrNotRunning", err)
	}
	if n := len(h.hub.all()); n != 0 {
		t.Errorf("broadcast %d times, want 0", n)
	}
}

func TestHandleMessage_UnrecognizedBeforeRunning(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())
	h := newHarness(t, metrics)
	if err := h.bridge.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	h.logger.reset()

	if err := h.bridge.HandleMessage("other/stuff", []byte(`garbage`)); err != nil {
		t.Errorf("HandleMessage(other/stuff) error = %v, want nil", err)
	}
	if n := len(h.logger.atLeast("debug")); n != 0 {
		t.Errorf("logged %d entries, want 0", n)
	}
	if got := testutil.ToFloat64(metrics.dropped); got != 0 {
		t.Errorf("dropped = %v, want 0", got)
	}
}

// Scenario: a simulation command is published with the server's timestamp.
func TestHandleCommand(t *testing.T) {
	h := newRunningBridge(t)

	if err := h.bridge.HandleCommand("session-1", "drought"); err != nil {
		t.Fatalf("HandleCommand() error = %v", err)
	}

	pubs := h.bus.published()
	if len(pubs) != 1 {
		t.Fatalf("published %d messages, want 1", len(pubs))
	}
	if pubs[0].topic != "greenhouse/control/simulate" {
		t.Errorf("topic = %q", pubs[0].topic)
	}

	var cmd Command
	if err := json.Unmarshal(pubs[0].payload, &cmd); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if cmd.Type != "drought" {
		t.Errorf("Type = %q, want drought", cmd.Type)
	}
	if cmd.Timestamp != "2026-10-16T12:00:00.123Z" {
		t.Errorf("Timestamp = %q, want server time", cmd.Timestamp)
	}
}

func TestBridge_BackgroundPublishError(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())
	h := newHarness(t, metrics)
	if err := h.bridge.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	h.bus.onPublishError("greenhouse/control/simulate", errors.New("timeout"))

	if got := testutil.ToFloat64(metrics.publishErrors); got != 1 {
		t.Errorf("publish errors = %v, want 1", got)
	}
	if n := len(h.logger.atLeast("error")); n != 1 {
		t.Errorf("error entries = %d, want 1", n)
	}
}

func TestBridge_HealthCheck(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	if err := h.bridge.HealthCheck(ctx); !errors.Is(err, ErrNotRunning) {
		t.Errorf("HealthCheck() before start = %v, want ErrNotRunning", err)
	}

	if err := h.bridge.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	h.bus.connect()
	if err := h.bridge.HealthCheck(ctx); err != nil {
		t.Errorf("HealthCheck() while running = %v, want nil", err)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if err := h.bridge.HealthCheck(cancelled); !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck(cancelled) = %v, want context.Canceled", err)
	}
}

func TestState_Transitions(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{StateStarting, StateBusConnecting, true},
		{StateBusConnecting, StateRunning, true},
		{StateRunning, StateBusReconnecting, true},
		{StateBusReconnecting, StateRunning, true},
		{StateStarting, StateRunning, false},
		{StateRunning, StateStarting, false},
		{StateBusConnecting, StateBusReconnecting, false},
	}
	for _, tt := range tests {
		if got := canTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("canTransition(%v, %v) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		s    State
		want string
	}{
		{StateStarting, "starting"},
		{StateBusConnecting, "bus_connecting"},
		{StateRunning, "running"},
		{StateBusReconnecting, "bus_reconnecting"},
		{State(42), "State(42)"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", int32(tt.s), got, tt.want)
		}
	}
}

func TestMetrics_StateGauge(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())
	h := newHarness(t, metrics)
	if err := h.bridge.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	h.bus.connect()

	if got := testutil.ToFloat64(metrics.state); got != float64(StateRunning) {
		t.Errorf("state gauge = %v, want %v", got, float64(StateRunning))
	}
	if got := testutil.ToFloat64(metrics.stateChanges.WithLabelValues("running")); got != 1 {
		t.Errorf("transitions to running = %v, want 1", got)
	}

	h.bus.deliver("env/node1/raw", `{"v":1}`)
	h.bus.deliver("env/event/light_low", `{"node":"node1"}`)
	if got := testutil.ToFloat64(metrics.broadcasts.WithLabelValues(EventSensorData)); got != 1 {
		t.Errorf("sensor_data broadcasts = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.messages.WithLabelValues("event")); got != 1 {
		t.Errorf("event messages = %v, want 1", got)
	}
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.RecordMessage(CategoryTelemetry)
	m.RecordDecodeError()
	m.recordDropped()
	m.recordBroadcast(EventSensorData)
	m.recordCommand()
	m.recordRejected()
	m.recordPublishError()
	m.setBusConnected(true)
	m.setState(StateRunning)
}

func assertPayload(t *testing.T, payload any, want map[string]any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("payload is not an object: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("payload = %v, want %v", got, want)
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("payload[%s] = %v, want %v", k, got[k], v)
		}
	}
}
