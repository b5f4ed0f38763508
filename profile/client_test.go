package profile

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/bluerange/config"
	"github.com/user/bluerange/gatt"
)

// recordingCallbacks collects the upper-layer event stream
type recordingCallbacks struct {
	mu           sync.Mutex
	ready        []string
	disconnected []string
	fields       map[string][]byte
	timeouts     int
}

func newRecordingCallbacks() *recordingCallbacks {
	return &recordingCallbacks{fields: make(map[string][]byte)}
}

func (r *recordingCallbacks) OnDeviceReady(address, _ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ready = append(r.ready, address)
}

func (r *recordingCallbacks) OnFieldChanged(_ string, fieldID string, newValue []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fields[fieldID] = append([]byte{}, newValue...)
}

func (r *recordingCallbacks) OnOperationTimeout(string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.timeouts++
}

func (r *recordingCallbacks) OnWriteBatchComplete(string, bool) {}

func (r *recordingCallbacks) OnDisconnected(address string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disconnected = append(r.disconnected, address)
}

func (r *recordingCallbacks) readyCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ready)
}

// testHooks is a minimal profile that becomes ready as soon as its service
// resolves
type testHooks struct {
	s          *Session
	resolved   bool
	released   bool
	reconnects int
	notified   [][]byte
}

func (h *testHooks) ServiceUUID() []byte { return testServiceUUID }

func (h *testHooks) OnServiceResolved(svc *gatt.Service) bool {
	h.resolved = true
	return true
}

func (h *testHooks) UseCachedData(*CachedDeviceData) bool { return false }

func (h *testHooks) StartInit(bool) { h.s.MarkReady() }

func (h *testHooks) OnNotification(_ uint16, value []byte) {
	h.notified = append(h.notified, value)
}

func (h *testHooks) Capabilities() string { return "test" }

func (h *testHooks) OnReconnectRequest() { h.reconnects++ }

func (h *testHooks) OnRelease() { h.released = true }

func testEngineConfig() *config.Config {
	cfg := config.Default()
	cfg.MaxDevices = 1
	return cfg
}

func newTestEngine(transport Transport, callbacks Callbacks, cfg *config.Config) (*Client, map[string]*testHooks) {
	hooks := make(map[string]*testHooks)
	client := NewClient("TEST", transport, callbacks, cfg, func(s *Session) Hooks {
		h := &testHooks{s: s}
		hooks[s.Address()] = h
		return h
	})
	return client, hooks
}

func connectedTransport() *stubTransport {
	return &stubTransport{
		discoverServices: func(uint16) ([]gatt.Service, error) {
			return []gatt.Service{*testService()}, nil
		},
	}
}

func TestClientConnectToReady(t *testing.T) {
	callbacks := newRecordingCallbacks()
	client, hooks := newTestEngine(connectedTransport(), callbacks, testEngineConfig())
	defer client.Stop()

	require.NoError(t, client.Connect("aa"))
	client.HandleConnected("aa", 1, nil)
	client.Queue().Sync(func() {})

	assert.Equal(t, StateReady, client.State("aa"))
	assert.Equal(t, []string{"aa"}, callbacks.ready)
	assert.True(t, hooks["aa"].resolved)
}

func TestClientMaxDeviceSlots(t *testing.T) {
	callbacks := newRecordingCallbacks()
	client, _ := newTestEngine(connectedTransport(), callbacks, testEngineConfig())
	defer client.Stop()

	require.NoError(t, client.Connect("aa"))
	client.HandleConnected("aa", 1, nil)

	err := client.Connect("bb")
	require.Error(t, err)
	assert.Equal(t, StateDisconnected, client.State("bb"))
	assert.Equal(t, 1, callbacks.readyCount())

	// Releasing the slot lets the second device in
	client.HandleDisconnected(1)
	client.Queue().Sync(func() {})
	require.NoError(t, client.Connect("bb"))
	client.HandleConnected("bb", 2, nil)
	client.Queue().Sync(func() {})
	assert.Equal(t, StateReady, client.State("bb"))
}

func TestClientReconnectRequestOnLiveSession(t *testing.T) {
	callbacks := newRecordingCallbacks()
	client, hooks := newTestEngine(connectedTransport(), callbacks, testEngineConfig())
	defer client.Stop()

	require.NoError(t, client.Connect("aa"))
	client.HandleConnected("aa", 1, nil)
	client.Queue().Sync(func() {})

	// A second connect against the live session routes to the profile, no
	// new session is created
	require.NoError(t, client.Connect("aa"))
	client.Queue().Sync(func() {})
	assert.Equal(t, 1, hooks["aa"].reconnects)
	assert.Equal(t, 1, callbacks.readyCount(), "ready must fire at most once per connection")
}

func TestClientMissingServiceStaysNotReady(t *testing.T) {
	callbacks := newRecordingCallbacks()
	transport := &stubTransport{
		discoverServices: func(uint16) ([]gatt.Service, error) {
			return []gatt.Service{}, nil
		},
	}
	client, _ := newTestEngine(transport, callbacks, testEngineConfig())
	defer client.Stop()

	require.NoError(t, client.Connect("aa"))
	client.HandleConnected("aa", 1, nil)
	client.Queue().Sync(func() {})

	assert.Equal(t, StateServiceSearch, client.State("aa"))
	assert.Zero(t, callbacks.readyCount())
}

func TestClientConnectFailureDropsSession(t *testing.T) {
	callbacks := newRecordingCallbacks()
	client, hooks := newTestEngine(connectedTransport(), callbacks, testEngineConfig())
	defer client.Stop()

	require.NoError(t, client.Connect("aa"))
	client.HandleConnected("aa", 0, errors.New("page timeout"))
	client.Queue().Sync(func() {})

	assert.Equal(t, StateDisconnected, client.State("aa"))
	// The profile forgets the device and the caller hears about the failure
	assert.True(t, hooks["aa"].released)
	assert.Equal(t, []string{"aa"}, callbacks.disconnected)

	// The slot is free again
	require.NoError(t, client.Connect("bb"))
}

func TestClientDisconnectReleasesProfileState(t *testing.T) {
	callbacks := newRecordingCallbacks()
	client, hooks := newTestEngine(connectedTransport(), callbacks, testEngineConfig())
	defer client.Stop()

	require.NoError(t, client.Connect("aa"))
	client.HandleConnected("aa", 1, nil)
	client.HandleDisconnected(1)
	client.Queue().Sync(func() {})

	assert.True(t, hooks["aa"].released)
	assert.Equal(t, []string{"aa"}, callbacks.disconnected)
	assert.Equal(t, StateDisconnected, client.State("aa"))
	assert.Equal(t, 0, client.Queue().PendingAlarms())
}

func TestClientRoutesNotificationsByConnID(t *testing.T) {
	callbacks := newRecordingCallbacks()
	client, hooks := newTestEngine(connectedTransport(), callbacks, testEngineConfig())
	defer client.Stop()

	require.NoError(t, client.Connect("aa"))
	client.HandleConnected("aa", 1, nil)
	client.HandleNotification(1, 0x0012, []byte{0x07})
	// Unknown connection ids are dropped, not crashed on
	client.HandleNotification(99, 0x0012, []byte{0x08})
	client.Queue().Sync(func() {})

	require.Len(t, hooks["aa"].notified, 1)
	assert.Equal(t, []byte{0x07}, hooks["aa"].notified[0])
}

func TestClientConnIntervalUpdate(t *testing.T) {
	callbacks := newRecordingCallbacks()
	client, _ := newTestEngine(connectedTransport(), callbacks, testEngineConfig())
	defer client.Stop()

	require.NoError(t, client.Connect("aa"))
	client.HandleConnected("aa", 1, nil)
	client.HandleConnIntervalUpdated(1, 0x0102)
	client.Queue().Sync(func() {})

	session := client.Session("aa")
	require.NotNil(t, session)
	assert.Equal(t, uint16(0x0102), session.ConnInterval())

	callbacks.mu.Lock()
	defer callbacks.mu.Unlock()
	assert.Equal(t, []byte{0x02, 0x01}, callbacks.fields["conn_interval"])
}
