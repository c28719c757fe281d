package mqtt

import (
	"sync"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// =============================================================================
// Test doubles for paho
// =============================================================================

type fakeToken struct {
	err  error
	done chan struct{}
}

func newDoneToken(err error) *fakeToken {
	done := make(chan struct{})
	close(done)
	return &fakeToken{err: err, done: done}
}

func newPendingToken() *fakeToken {
	return &fakeToken{done: make(chan struct{})}
}

func (t *fakeToken) Wait() bool {
	<-t.done
	return true
}

func (t *fakeToken) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(d):
		return false
	}
}

func (t *fakeToken) Done() <-chan struct{} { return t.done }
func (t *fakeToken) Error() error          { return t.err }

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return 0 }
func (m *fakeMessage) Retained() bool    { return false }
func (m *fakeMessage) Topic() string     { return m.topic }
func (m *fakeMessage) MessageID() uint16 { return 1 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}

type publishRecord struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

// fakePaho implements pahomqtt.Client without a network.
type fakePaho struct {
	mu   sync.Mutex
	opts *pahomqtt.ClientOptions

	connected    bool
	hangConnect  bool
	connectErrs  []error // consumed one per Connect call; empty means success
	connectCalls int
	disconnects  int

	subscribeErr   error
	subscribeCalls []map[string]byte
	unsubscribed   []string

	publishErr error
	published  []publishRecord
}

func (f *fakePaho) factory(opts *pahomqtt.ClientOptions) pahomqtt.Client {
	f.mu.Lock()
	f.opts = opts
	f.mu.Unlock()
	return f
}

func (f *fakePaho) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakePaho) IsConnectionOpen() bool {
	return f.IsConnected()
}

func (f *fakePaho) Connect() pahomqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.connectCalls++
	if f.hangConnect {
		return newPendingToken()
	}
	var err error
	if len(f.connectErrs) > 0 {
		err = f.connectErrs[0]
		f.connectErrs = f.connectErrs[1:]
	}
	f.connected = err == nil
	return newDoneToken(err)
}

func (f *fakePaho) Disconnect(_ uint) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	f.disconnects++
}

func (f *fakePaho) Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, _ := payload.([]byte)
	f.published = append(f.published, publishRecord{topic: topic, qos: qos, retained: retained, payload: b})
	return newDoneToken(f.publishErr)
}

func (f *fakePaho) Subscribe(topic string, qos byte, callback pahomqtt.MessageHandler) pahomqtt.Token {
	return f.SubscribeMultiple(map[string]byte{topic: qos}, callback)
}

func (f *fakePaho) SubscribeMultiple(filters map[string]byte, _ pahomqtt.MessageHandler) pahomqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make(map[string]byte, len(filters))
	for k, v := range filters {
		cp[k] = v
	}
	f.subscribeCalls = append(f.subscribeCalls, cp)
	return newDoneToken(f.subscribeErr)
}

func (f *fakePaho) Unsubscribe(topics ...string) pahomqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubscribed = append(f.unsubscribed, topics...)
	return newDoneToken(nil)
}

func (f *fakePaho) AddRoute(string, pahomqtt.MessageHandler) {}

func (f *fakePaho) OptionsReader() pahomqtt.ClientOptionsReader {
	return pahomqtt.ClientOptionsReader{}
}

// dropConnection simulates the broker going away.
func (f *fakePaho) dropConnection(err error) {
	f.mu.Lock()
	f.connected = false
	lost := f.opts.OnConnectionLost
	f.mu.Unlock()
	lost(f, err)
}

// deliver simulates an inbound message reaching the default handler.
func (f *fakePaho) deliver(topic string, payload []byte) {
	f.mu.Lock()
	handler := f.opts.DefaultPublishHandler
	f.mu.Unlock()
	handler(f, &fakeMessage{topic: topic, payload: payload})
}

func (f *fakePaho) failNextConnects(errs ...error) {
	f.mu.Lock()
	f.connectErrs = append(f.connectErrs, errs...)
	f.mu.Unlock()
}

func (f *fakePaho) connects() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connectCalls
}

func (f *fakePaho) subscriptions() []map[string]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]map[string]byte(nil), f.subscribeCalls...)
}

func (f *fakePaho) publishes() []publishRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]publishRecord(nil), f.published...)
}

// =============================================================================
// Manual clock
// =============================================================================

type clockWaiter struct {
	at time.Time
	ch chan time.Time
}

type manualClock struct {
	mu        sync.Mutex
	now       time.Time
	waiters   []clockWaiter
	durations []time.Duration
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)}
}

func (m *manualClock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *manualClock) After(d time.Duration) <-chan time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := make(chan time.Time, 1)
	m.waiters = append(m.waiters, clockWaiter{at: m.now.Add(d), ch: ch})
	m.durations = append(m.durations, d)
	return ch
}

// Advance moves time forward and fires every timer that became due.
func (m *manualClock) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
	pending := m.waiters[:0]
	for _, w := range m.waiters {
		if !w.at.After(m.now) {
			w.ch <- m.now
			continue
		}
		pending = append(pending, w)
	}
	m.waiters = pending
}

func (m *manualClock) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.waiters)
}

func (m *manualClock) Durations() []time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]time.Duration(nil), m.durations...)
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// recordingLogger captures messages by level.
type recordingLogger struct {
	mu      sync.Mutex
	entries []string
}

func (l *recordingLogger) record(level, msg string) {
	l.mu.Lock()
	l.entries = append(l.entries, level+": "+msg)
	l.mu.Unlock()
}

func (l *recordingLogger) Debug(msg string, _ ...any) { l.record("debug", msg) }
func (l *recordingLogger) Info(msg string, _ ...any)  { l.record("info", msg) }
func (l *recordingLogger) Warn(msg string, _ ...any)  { l.record("warn", msg) }
func (l *recordingLogger) Error(msg string, _ ...any) { l.record("error", msg) }

func (l *recordingLogger) has(entry string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if e == entry {
			return true
		}
	}
	return false
}
