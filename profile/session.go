package profile

import (
	"github.com/user/bluerange/gatt"
	"github.com/user/bluerange/logger"
)

// SessionState is the per-connection lifecycle state
type SessionState int

const (
	StateDisconnected SessionState = iota
	StateConnecting
	StateServiceSearch
	StateInitializing
	StateReady
)

func (s SessionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateServiceSearch:
		return "service-search"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	default:
		return "disconnected"
	}
}

// Hooks is the profile-specific behavior plugged into a Session. Every
// method runs on the engine queue.
type Hooks interface {
	// ServiceUUID is the primary service the profile looks for
	ServiceUUID() []byte

	// OnServiceResolved builds the profile's handle tables from the located
	// service. Returning false means mandatory handles are missing; the
	// session stays connected but unusable for this profile.
	OnServiceResolved(svc *gatt.Service) bool

	// UseCachedData checks whether a cache entry covers every static field
	// the profile needs, loading it into profile state when it does
	UseCachedData(data *CachedDeviceData) bool

	// StartInit issues the subscriptions and initial reads. fastPath is set
	// when cached data made the mandatory reads redundant.
	StartInit(fastPath bool)

	// OnNotification routes an incoming notification by value handle
	OnNotification(handle uint16, value []byte)

	// Capabilities summarizes the remote for the OnDeviceReady callback
	Capabilities() string

	// OnReconnectRequest handles a Connect call against an already-live
	// session (e.g. re-subscribing a stream dropped by a timeout)
	OnReconnectRequest()

	// OnRelease cleans up profile state (deregister notifications) right
	// before the session is discarded
	OnRelease()
}

// Session is the top-level per-connection object: it owns the connection
// id, the discovered service, the subscription manager, the operation
// tracker and the pending-handle readiness set. All access happens on the
// engine queue.
type Session struct {
	queue     *SerialQueue
	transport Transport
	callbacks Callbacks
	cache     *DeviceCache

	address string
	prefix  string

	connID       uint16
	state        SessionState
	service      *gatt.Service
	allServices  []gatt.Service
	subs         *SubscriptionManager
	tracker      *OperationTracker
	pending      *PendingHandleSet
	hooks        Hooks
	ready        bool
	connInterval uint16
}

func newSession(queue *SerialQueue, transport Transport, callbacks Callbacks,
	cache *DeviceCache, address string, prefix string) *Session {
	return &Session{
		queue:     queue,
		transport: transport,
		callbacks: callbacks,
		cache:     cache,
		address:   address,
		prefix:    prefix,
		state:     StateConnecting,
		tracker:   NewOperationTracker(queue),
		pending:   NewPendingHandleSet(),
	}
}

// Address returns the remote device address
func (s *Session) Address() string { return s.address }

// Prefix returns the log prefix tagging this session's output
func (s *Session) Prefix() string { return s.prefix }

// ConnID returns the connection id assigned by the transport
func (s *Session) ConnID() uint16 { return s.connID }

// State returns the current lifecycle state
func (s *Session) State() SessionState { return s.state }

// Ready reports whether all mandatory handles resolved and initial reads
// completed for this connection
func (s *Session) Ready() bool { return s.ready }

// Service returns the discovered primary service, nil before resolution
func (s *Session) Service() *gatt.Service { return s.service }

// Subscriptions returns the session's subscription manager, nil before the
// connection is confirmed
func (s *Session) Subscriptions() *SubscriptionManager { return s.subs }

// Tracker returns the session's operation tracker
func (s *Session) Tracker() *OperationTracker { return s.tracker }

// Pending returns the pending-handle readiness set
func (s *Session) Pending() *PendingHandleSet { return s.pending }

// Cache returns the shared device cache
func (s *Session) Cache() *DeviceCache { return s.cache }

// Transport returns the GATT transport
func (s *Session) Transport() Transport { return s.transport }

// ConnInterval returns the last reported connection interval, 0 if unknown
func (s *Session) ConnInterval() uint16 { return s.connInterval }

// handleConnected processes the transport-level connect confirmation and
// issues the service search.
func (s *Session) handleConnected(connID uint16) {
	s.connID = connID
	s.state = StateServiceSearch
	s.subs = NewSubscriptionManager(s.transport, s.address, connID, s.prefix)

	logger.Info(s.prefix, "connected conn_id=0x%04x, searching services", connID)

	services, err := s.transport.DiscoverServices(connID)
	if err != nil {
		logger.Error(s.prefix, "service discovery failed: %v", err)
		return
	}
	s.handleSearchComplete(services)
}

// handleSearchComplete locates the target primary service and decides
// between the cached fast path and full initialization. A missing service
// is an error for this profile but not fatal to the link.
func (s *Session) handleSearchComplete(services []gatt.Service) {
	svc := gatt.FindServiceByUUID(services, s.hooks.ServiceUUID())
	if svc == nil {
		logger.Error(s.prefix, "service %s not found, device unusable for this profile",
			gatt.Key(s.hooks.ServiceUUID()))
		return
	}

	logger.Info(s.prefix, "found service handle=0x%04x", svc.Handle)
	s.service = svc
	s.allServices = services

	if !s.hooks.OnServiceResolved(svc) {
		logger.Warn(s.prefix, "mandatory handles missing, device unusable for this profile")
		return
	}

	s.state = StateInitializing

	fastPath := false
	if cached, ok := s.cache.Lookup(s.address); ok && s.hooks.UseCachedData(cached) {
		logger.Info(s.prefix, "using cached static fields, skipping redundant reads")
		fastPath = true
	}
	s.hooks.StartInit(fastPath)
}

// markReady transitions to Ready and notifies the upper layer. Reachable at
// most once per connection; re-entering needs a full reconnect.
func (s *Session) markReady() {
	if s.ready {
		return
	}
	s.ready = true
	s.state = StateReady
	logger.Info(s.prefix, "device ready")
	s.callbacks.OnDeviceReady(s.address, s.hooks.Capabilities())
}

// MarkReady is the hooks-facing readiness trigger
func (s *Session) MarkReady() {
	s.markReady()
}

// handleNotification routes an incoming notification to the profile
func (s *Session) handleNotification(handle uint16, value []byte) {
	if s.state == StateDisconnected {
		return
	}
	s.hooks.OnNotification(handle, value)
}

// handleConnIntervalUpdated records a connection parameter update
func (s *Session) handleConnIntervalUpdated(interval uint16) {
	s.connInterval = interval
	logger.Info(s.prefix, "conn interval updated to %d", interval)
	s.callbacks.OnFieldChanged(s.address, "conn_interval", []byte{byte(interval), byte(interval >> 8)})
}

// handleDisconnected tears the session down: alarms are cancelled
// synchronously before any state is discarded so no expiry handler runs
// into a dead session.
func (s *Session) handleDisconnected() {
	logger.Info(s.prefix, "disconnected conn_id=0x%04x", s.connID)

	s.tracker.Release()
	if s.hooks != nil {
		s.hooks.OnRelease()
	}
	s.pending.Reset()
	s.service = nil
	s.ready = false
	s.state = StateDisconnected
	s.callbacks.OnDisconnected(s.address)
}

// AllServices returns the full discovery result, for profiles that resolve
// included services (e.g. volume offsets and audio inputs)
func (s *Session) AllServices() []gatt.Service { return s.allServices }
