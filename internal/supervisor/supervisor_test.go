package supervisor

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"
)

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  string
}

type will struct {
	topic    string
	qos      byte
	retained bool
	payload  string
}

// fakeTransport records calls and lets tests drive the connection outcome.
// Callbacks are always invoked without holding mu.
type fakeTransport struct {
	mu           sync.Mutex
	connected    bool
	host         string
	port         int
	keepAlive    time.Duration
	will         will
	connects     int
	disconnects  int
	published    []published
	publishErr   error
	onConnect    func()
	onDisconnect func(error)

	// connectResult, when set, is consulted synchronously inside Connect.
	connectResult func() error
}

func (f *fakeTransport) SetServer(host string, port int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.host, f.port = host, port
}

func (f *fakeTransport) SetKeepAlive(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keepAlive = d
}

func (f *fakeTransport) SetWill(topic string, qos byte, retained bool, payload string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.will = will{topic, qos, retained, payload}
}

func (f *fakeTransport) Connect() {
	f.mu.Lock()
	f.connects++
	result := f.connectResult
	f.mu.Unlock()

	if result == nil {
		return
	}
	if err := result(); err != nil {
		f.fail(err)
		return
	}
	f.succeed()
}

func (f *fakeTransport) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeTransport) Publish(topic string, qos byte, retained bool, payload string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, published{topic, qos, retained, payload})
	return nil
}

func (f *fakeTransport) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
	f.connected = false
}

func (f *fakeTransport) OnConnect(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onConnect = fn
}

func (f *fakeTransport) OnDisconnect(fn func(error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onDisconnect = fn
}

// succeed completes a pending connection attempt.
func (f *fakeTransport) succeed() {
	f.mu.Lock()
	f.connected = true
	cb := f.onConnect
	f.mu.Unlock()
	cb()
}

// fail reports a failed attempt or a dropped session.
func (f *fakeTransport) fail(err error) {
	f.mu.Lock()
	f.connected = false
	cb := f.onDisconnect
	f.mu.Unlock()
	cb(err)
}

func (f *fakeTransport) connectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects
}

func (f *fakeTransport) publishes() []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]published(nil), f.published...)
}

var (
	errRefused = errors.New("connection refused")
	epoch      = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
)

func newTestSupervisor(t *testing.T) (*Supervisor, *fakeTransport, *clocktesting.FakeClock) {
	t.Helper()
	tr := &fakeTransport{}
	clk := clocktesting.NewFakeClock(epoch)
	s := New(tr, Options{Clock: clk})
	require.NoError(t, s.SetServer("10.0.0.5", 1883))
	return s, tr, clk
}

func TestNew_Defaults(t *testing.T) {
	tr := &fakeTransport{}
	clk := clocktesting.NewFakeClock(epoch)
	s := New(tr, Options{Clock: clk})

	b := s.Broker()
	assert.Empty(t, b.Server)
	assert.Equal(t, DefaultPort, b.Port)
	assert.Empty(t, b.LWTTopic)
	assert.Equal(t, "on", b.OnlinePayload)
	assert.Equal(t, "off", b.OfflinePayload)
	assert.Equal(t, DefaultInitialDelay, s.Delay())
	assert.Equal(t, epoch, s.LastAttempt())
	assert.Equal(t, StateDisconnected, s.State())
	assert.NotNil(t, tr.onConnect)
	assert.NotNil(t, tr.onDisconnect)
}

func TestSetServer(t *testing.T) {
	tests := []struct {
		name    string
		address string
		port    int
		wantErr error
	}{
		{"valid", "10.0.0.5", 1883, nil},
		{"hostname", "broker.local", 8883, nil},
		{"max port", "10.0.0.5", 65535, nil},
		{"empty address", "", 1883, ErrInvalidServer},
		{"zero port", "10.0.0.5", 0, ErrInvalidPort},
		{"port too large", "10.0.0.5", 65536, ErrInvalidPort},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(&fakeTransport{}, Options{})
			err := s.SetServer(tt.address, tt.port)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Empty(t, s.Broker().Server)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.address, s.Broker().Server)
			assert.Equal(t, tt.port, s.Broker().Port)
		})
	}
}

func TestSetServer_LastCallWins(t *testing.T) {
	s := New(&fakeTransport{}, Options{})
	require.NoError(t, s.SetServer("10.0.0.5", 1883))
	require.NoError(t, s.SetServer("10.0.0.6", 8883))

	assert.Equal(t, "10.0.0.6:8883", s.Broker().Address())
}

func TestConnect_ConfiguresTransport(t *testing.T) {
	s, tr, _ := newTestSupervisor(t)
	s.SetLWT("dev/status")

	s.Connect()

	assert.Equal(t, 1, tr.connectCount())
	assert.Equal(t, "10.0.0.5", tr.host)
	assert.Equal(t, 1883, tr.port)
	assert.Equal(t, DefaultKeepAlive, tr.keepAlive)
	assert.Equal(t, will{"dev/status", 0, true, "off"}, tr.will)
}

func TestConnect_NoopWhenConnected(t *testing.T) {
	s, tr, _ := newTestSupervisor(t)
	s.Connect()
	tr.succeed()

	s.Connect()

	assert.Equal(t, 1, tr.connectCount())
}

func TestConnect_NoServer(t *testing.T) {
	tr := &fakeTransport{}
	s := New(tr, Options{})

	s.Connect()

	assert.Equal(t, 0, tr.connectCount())
}

func TestConnect_DoesNotTouchRetryState(t *testing.T) {
	s, _, clk := newTestSupervisor(t)
	clk.Step(5 * time.Second)

	s.Connect()

	assert.Equal(t, epoch, s.LastAttempt())
	assert.Equal(t, DefaultInitialDelay, s.Delay())
	assert.Equal(t, 0, s.Attempts())
}

func TestReconnect_DelaySequence(t *testing.T) {
	s, tr, clk := newTestSupervisor(t)
	tr.connectResult = func() error { return errRefused }

	for n := 1; n <= 10; n++ {
		clk.Step(s.Delay())
		s.Reconnect()

		want := min(time.Duration(1000<<n)*time.Millisecond, DefaultMaxDelay)
		assert.Equal(t, want, s.Delay(), "after attempt %d", n)
		assert.Equal(t, n, s.Attempts())
		assert.Equal(t, clk.Now(), s.LastAttempt())
	}
	assert.Equal(t, 10, tr.connectCount())
}

func TestReconnect_GatedByBackoff(t *testing.T) {
	s, tr, clk := newTestSupervisor(t)

	clk.Step(999 * time.Millisecond)
	s.Reconnect()
	assert.Equal(t, 0, tr.connectCount())
	assert.Equal(t, epoch, s.LastAttempt())

	clk.Step(time.Millisecond)
	s.Reconnect()
	assert.Equal(t, 1, tr.connectCount())
	assert.Equal(t, 2*time.Second, s.Delay())

	// Within the new window.
	clk.Step(1999 * time.Millisecond)
	s.Reconnect()
	assert.Equal(t, 1, tr.connectCount())
}

func TestReconnect_NoopWhenConnected(t *testing.T) {
	s, tr, clk := newTestSupervisor(t)
	s.Connect()
	tr.succeed()
	clk.Step(time.Minute)

	s.Reconnect()

	assert.Equal(t, 1, tr.connectCount())
	assert.Equal(t, epoch, s.LastAttempt())
	assert.Equal(t, DefaultInitialDelay, s.Delay())
}

func TestReconnect_SynchronousSuccessResetsDelay(t *testing.T) {
	s, tr, clk := newTestSupervisor(t)
	tr.connectResult = func() error { return errRefused }
	for range 3 {
		clk.Step(s.Delay())
		s.Reconnect()
	}
	require.Equal(t, 8*time.Second, s.Delay())

	tr.connectResult = func() error { return nil }
	clk.Step(s.Delay())
	s.Reconnect()

	assert.True(t, s.IsConnected())
	assert.Equal(t, DefaultInitialDelay, s.Delay())
	assert.Equal(t, 0, s.Attempts())
}

func TestSendMessage_Connected(t *testing.T) {
	s, tr, _ := newTestSupervisor(t)
	s.Connect()
	tr.succeed()

	err := s.SendMessage("dev/temp", "21.5")

	require.NoError(t, err)
	assert.Equal(t, []published{{"dev/temp", 0, true, "21.5"}}, tr.publishes())
}

func TestSendMessage_Disconnected(t *testing.T) {
	s, tr, clk := newTestSupervisor(t)
	clk.Step(time.Second)

	err := s.SendMessage("dev/temp", "21.5")

	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Empty(t, tr.publishes())
	// Exactly one reconnect: one attempt recorded, one connect issued.
	assert.Equal(t, 1, s.Attempts())
	assert.Equal(t, 1, tr.connectCount())
}

func TestSendMessage_DisconnectedWithinWindow(t *testing.T) {
	s, tr, _ := newTestSupervisor(t)

	err := s.SendMessage("dev/temp", "21.5")

	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Empty(t, tr.publishes())
	assert.Equal(t, 0, tr.connectCount())
}

func TestSendMessage_EmptyTopic(t *testing.T) {
	s, tr, _ := newTestSupervisor(t)
	s.Connect()
	tr.succeed()

	err := s.SendMessage("", "x")

	assert.ErrorIs(t, err, ErrInvalidTopic)
	assert.Empty(t, tr.publishes())
}

func TestSendMessage_EmptyTopicWhileDisconnected(t *testing.T) {
	s, tr, clk := newTestSupervisor(t)
	clk.Step(time.Second)

	err := s.SendMessage("", "x")

	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Empty(t, tr.publishes())
	assert.Equal(t, 1, s.Attempts())
	assert.Equal(t, 1, tr.connectCount())
}

func TestSendMessage_PublishError(t *testing.T) {
	s, tr, _ := newTestSupervisor(t)
	s.Connect()
	tr.succeed()
	tr.publishErr = errors.New("queue full")

	err := s.SendMessage("dev/temp", "21.5")

	assert.ErrorIs(t, err, ErrPublishFailed)
	assert.ErrorContains(t, err, "queue full")
}

func TestConnectCallback_PublishesOnline(t *testing.T) {
	s, tr, _ := newTestSupervisor(t)
	s.SetLWT("dev/status")
	s.Connect()

	tr.succeed()

	assert.Equal(t, StateConnected, s.State())
	assert.Equal(t, []published{{"dev/status", 0, true, "on"}}, tr.publishes())
}

func TestConnectCallback_NoLWTTopic(t *testing.T) {
	s, tr, _ := newTestSupervisor(t)
	s.Connect()

	tr.succeed()

	assert.Empty(t, tr.publishes())
	assert.Empty(t, tr.will.topic)
}

// Failed attempts at t=0, 1000 and 3000ms, success at 7000ms.
func TestScenario_FailuresThenSuccess(t *testing.T) {
	s, tr, clk := newTestSupervisor(t)
	s.SetLWT("dev/status")

	s.Connect()
	tr.fail(errRefused)
	assert.Equal(t, 1*time.Second, s.Delay())
	assert.Equal(t, 1, tr.connectCount(), "disconnect at t=0 is inside the first window")

	clk.SetTime(epoch.Add(1000 * time.Millisecond))
	s.Reconnect()
	require.Equal(t, 2, tr.connectCount())
	tr.fail(errRefused)
	assert.Equal(t, 2*time.Second, s.Delay())

	clk.SetTime(epoch.Add(3000 * time.Millisecond))
	s.Reconnect()
	require.Equal(t, 3, tr.connectCount())
	tr.fail(errRefused)
	assert.Equal(t, 4*time.Second, s.Delay())

	// Polls inside the window do nothing.
	clk.SetTime(epoch.Add(6999 * time.Millisecond))
	s.Reconnect()
	require.Equal(t, 3, tr.connectCount())

	clk.SetTime(epoch.Add(7000 * time.Millisecond))
	s.Reconnect()
	require.Equal(t, 4, tr.connectCount())
	tr.succeed()

	assert.Equal(t, 1*time.Second, s.Delay())
	assert.True(t, s.IsConnected())
	assert.Equal(t, []published{{"dev/status", 0, true, "on"}}, tr.publishes())
}

func TestScenario_SessionDrop(t *testing.T) {
	s, tr, clk := newTestSupervisor(t)
	s.Connect()
	tr.succeed()

	// Session drops shortly after the supervisor was created; the window
	// since the last attempt has not elapsed.
	clk.Step(500 * time.Millisecond)
	tr.fail(errors.New("connection lost"))

	assert.Equal(t, StateDisconnected, s.State())
	assert.Equal(t, 1, tr.connectCount())

	clk.Step(500 * time.Millisecond)
	s.Reconnect()
	assert.Equal(t, 2, tr.connectCount())
}

func TestScenario_SessionDropReconnectsImmediately(t *testing.T) {
	s, tr, clk := newTestSupervisor(t)
	s.Connect()
	tr.succeed()

	clk.Step(time.Minute)
	tr.fail(errors.New("connection lost"))

	assert.Equal(t, 2, tr.connectCount())
	assert.Equal(t, clk.Now(), s.LastAttempt())
}

func TestDisconnect_DelayCompounds(t *testing.T) {
	s, tr, clk := newTestSupervisor(t)
	tr.connectResult = func() error { return errRefused }
	for range 3 {
		clk.Step(s.Delay())
		s.Reconnect()
	}
	require.Equal(t, 8*time.Second, s.Delay())

	// A dropped session without an intervening success keeps the window.
	tr.fail(errors.New("connection lost"))

	assert.Equal(t, 8*time.Second, s.Delay())
}

func TestClose(t *testing.T) {
	s, tr, clk := newTestSupervisor(t)
	s.SetLWT("dev/status")
	s.Connect()
	tr.succeed()

	require.NoError(t, s.Close())

	assert.Equal(t, []published{
		{"dev/status", 0, true, "on"},
		{"dev/status", 0, true, "off"},
	}, tr.publishes())
	assert.Equal(t, 1, tr.disconnects)
	assert.False(t, s.IsConnected())
	assert.Equal(t, StateDisconnected, s.State())

	clk.Step(time.Hour)
	s.Reconnect()
	s.Connect()
	assert.Equal(t, 1, tr.connectCount())

	require.NoError(t, s.Close())
	assert.Equal(t, 1, tr.disconnects)
}

func TestClose_LateConnectIsDropped(t *testing.T) {
	s, tr, _ := newTestSupervisor(t)
	s.Connect()
	require.NoError(t, s.Close())

	tr.succeed()

	assert.False(t, tr.Connected())
	assert.Equal(t, StateDisconnected, s.State())
}

type recordingObserver struct {
	attempts  []time.Duration
	connected int
	dropped   []error
	sent      []string
	failed    []string
}

func (r *recordingObserver) ConnectAttempt(next time.Duration) { r.attempts = append(r.attempts, next) }
func (r *recordingObserver) Connected()                        { r.connected++ }
func (r *recordingObserver) Disconnected(err error)            { r.dropped = append(r.dropped, err) }
func (r *recordingObserver) Published(topic string)            { r.sent = append(r.sent, topic) }
func (r *recordingObserver) PublishFailed(topic string, _ error) {
	r.failed = append(r.failed, topic)
}

func TestObserver(t *testing.T) {
	obs := &recordingObserver{}
	tr := &fakeTransport{}
	clk := clocktesting.NewFakeClock(epoch)
	s := New(tr, Options{Clock: clk, Observer: Observers{obs, NopObserver{}}})
	require.NoError(t, s.SetServer("10.0.0.5", 1883))
	s.SetLWT("dev/status")

	clk.Step(time.Second)
	s.Reconnect()
	tr.fail(errRefused)
	clk.Step(2 * time.Second)
	s.Reconnect()
	tr.succeed()
	_ = s.SendMessage("dev/temp", "1")

	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, obs.attempts)
	assert.Equal(t, 1, obs.connected)
	assert.Equal(t, []error{errRefused}, obs.dropped)
	assert.Equal(t, []string{"dev/status", "dev/temp"}, obs.sent)
	assert.Empty(t, obs.failed)
}

func TestOptions_CustomBounds(t *testing.T) {
	tr := &fakeTransport{connectResult: func() error { return errRefused }}
	clk := clocktesting.NewFakeClock(epoch)
	s := New(tr, Options{
		Clock:        clk,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     2 * time.Second,
	})
	require.NoError(t, s.SetServer("10.0.0.5", 1883))

	var got []time.Duration
	for range 4 {
		clk.Step(s.Delay())
		s.Reconnect()
		got = append(got, s.Delay())
	}

	assert.Equal(t, []time.Duration{
		1 * time.Second, 2 * time.Second, 2 * time.Second, 2 * time.Second,
	}, got)
}
