package bridge

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func newTestCommandChannel(t *testing.T, bus *fakeBus, metrics *Metrics) (*CommandChannel, *recordingLogger) {
	t.Helper()
	logger := &recordingLogger{}
	c, err := NewCommandChannel(bus, "greenhouse/control/simulate", 0, logger, metrics)
	if err != nil {
		t.Fatalf("NewCommandChannel() error = %v", err)
	}
	c.now = func() time.Time { return fixedNow }
	return c, logger
}

func TestNewCommandChannel_InvalidTopic(t *testing.T) {
	for _, topic := range []string{"", "greenhouse/control/#", "greenhouse/+/simulate"} {
		if _, err := NewCommandChannel(&fakeBus{}, topic, 0, &recordingLogger{}, nil); !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("NewCommandChannel(%q) error = %v, want ErrInvalidConfig", topic, err)
		}
	}
}

func TestOnCommand_PublishesServerTimestamp(t *testing.T) {
	bus := &fakeBus{}
	c, logger := newTestCommandChannel(t, bus, nil)

	if err := c.OnCommand("session-1", "drought"); err != nil {
		t.Fatalf("OnCommand() error = %v", err)
	}

	pubs := bus.published()
	if len(pubs) != 1 {
		t.Fatalf("published %d messages, want 1", len(pubs))
	}
	if pubs[0].topic != "greenhouse/control/simulate" {
		t.Errorf("topic = %q, want greenhouse/control/simulate", pubs[0].topic)
	}
	if pubs[0].retained {
		t.Error("command published retained, want not retained")
	}

	want := `{"type":"drought","timestamp":"2026-10-16T12:00:00.123Z"}`
	if got := string(pubs[0].payload); got != want {
		t.Errorf("payload = %s, want %s", got, want)
	}

	entries := logger.atLeast("info")
	if len(entries) != 1 {
		t.Fatalf("logged %d entries, want 1", len(entries))
	}
	if v, _ := entries[0].attr("type"); v != "drought" {
		t.Errorf("log type = %q, want drought", v)
	}
}

func TestOnCommand_ConvertsToUTC(t *testing.T) {
	bus := &fakeBus{}
	c, _ := newTestCommandChannel(t, bus, nil)
	c.now = func() time.Time {
		return time.Date(2026, 10, 16, 14, 0, 0, 5_000_000, time.FixedZone("CEST", 2*60*60))
	}

	if err := c.OnCommand("s", "reset"); err != nil {
		t.Fatalf("OnCommand() error = %v", err)
	}

	var cmd Command
	if err := json.Unmarshal(bus.published()[0].payload, &cmd); err != nil {
		t.Fatalf("payload is not a command: %v", err)
	}
	if cmd.Timestamp != "2026-10-16T12:00:00.005Z" {
		t.Errorf("Timestamp = %q, want 2026-10-16T12:00:00.005Z", cmd.Timestamp)
	}
}

func TestOnCommand_Rejects(t *testing.T) {
	tests := []struct {
		name        string
		commandType string
	}{
		{"empty", ""},
		{"whitespace", "   "},
		{"too long", strings.Repeat("x", MaxCommandTypeLength+1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bus := &fakeBus{}
			metrics := NewMetrics(prometheus.NewRegistry())
			c, _ := newTestCommandChannel(t, bus, metrics)

			err := c.OnCommand("session-1", tt.commandType)
			if !errors.Is(err, ErrInvalidCommand) {
				t.Errorf("OnCommand() error = %v, want ErrInvalidCommand", err)
			}
			if n := len(bus.published()); n != 0 {
				t.Errorf("published %d messages, want 0", n)
			}
			if got := testutil.ToFloat64(metrics.rejected); got != 1 {
				t.Errorf("rejected = %v, want 1", got)
			}
		})
	}
}

func TestOnCommand_PublishFailure(t *testing.T) {
	bus := &fakeBus{publishErr: errors.New("mqtt: not connected")}
	metrics := NewMetrics(prometheus.NewRegistry())
	c, logger := newTestCommandChannel(t, bus, metrics)

	if err := c.OnCommand("session-1", "overheat"); err == nil {
		t.Fatal("OnCommand() error = nil, want publish error")
	}
	if got := testutil.ToFloat64(metrics.publishErrors); got != 1 {
		t.Errorf("publish errors = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.commands); got != 0 {
		t.Errorf("commands = %v, want 0", got)
	}
	if n := len(logger.atLeast("error")); n != 1 {
		t.Errorf("error log entries = %d, want 1", n)
	}
}

func TestOnCommand_TrimsType(t *testing.T) {
	bus := &fakeBus{}
	c, _ := newTestCommandChannel(t, bus, nil)

	if err := c.OnCommand("s", "  lowlight \n"); err != nil {
		t.Fatalf("OnCommand() error = %v", err)
	}
	var cmd Command
	if err := json.Unmarshal(bus.published()[0].payload, &cmd); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if cmd.Type != "lowlight" {
		t.Errorf("Type = %q, want lowlight", cmd.Type)
	}
}
