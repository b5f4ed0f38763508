package profile

import (
	"fmt"

	"github.com/user/bluerange/config"
	"github.com/user/bluerange/logger"
)

// HooksFactory builds the profile-specific behavior for a new session
type HooksFactory func(s *Session) Hooks

// Client owns the per-device sessions of one profile. It is explicitly
// constructed and injected into collaborators; there is no package-level
// instance. Public API calls are marshalled onto the engine queue before
// touching any session state.
type Client struct {
	queue     *SerialQueue
	transport Transport
	callbacks Callbacks
	cache     *DeviceCache
	cfg       *config.Config
	factory   HooksFactory
	sessions  map[string]*Session
	name      string
}

// NewClient creates a profile client. The name tags log output.
func NewClient(name string, transport Transport, callbacks Callbacks,
	cfg *config.Config, factory HooksFactory) *Client {
	queue := NewSerialQueue()
	return &Client{
		queue:     queue,
		transport: transport,
		callbacks: callbacks,
		cache:     NewDeviceCache(cfg.CachedDeviceCapacity, name),
		cfg:       cfg,
		factory:   factory,
		sessions:  make(map[string]*Session),
		name:      name,
	}
}

// Queue returns the engine queue, used by transport integrations to post
// their callbacks and by tests to synchronize
func (c *Client) Queue() *SerialQueue { return c.queue }

// Config returns the policy configuration
func (c *Client) Config() *config.Config { return c.cfg }

// Cache returns the shared device cache
func (c *Client) Cache() *DeviceCache { return c.cache }

// Connect initiates a profile connection to the given address. Connecting a
// device beyond the configured slot limit fails and the device stays
// disconnected.
func (c *Client) Connect(address string) error {
	var err error
	c.queue.Sync(func() {
		err = c.connect(address)
	})
	return err
}

func (c *Client) connect(address string) error {
	if session, ok := c.sessions[address]; ok && session.state != StateDisconnected {
		logger.Info(c.prefix(address), "already connected")
		session.hooks.OnReconnectRequest()
		return nil
	}

	if c.connectedCount() >= c.cfg.MaxDevices {
		logger.Warn(c.prefix(address), "max device slots (%d) in use, refusing connect",
			c.cfg.MaxDevices)
		return fmt.Errorf("profile %s: no free device slot for %s", c.name, address)
	}

	session := newSession(c.queue, c.transport, c.callbacks, c.cache, address, c.prefix(address))
	session.hooks = c.factory(session)
	c.sessions[address] = session

	if err := c.transport.Connect(address); err != nil {
		delete(c.sessions, address)
		return fmt.Errorf("connect %s: %w", address, err)
	}
	return nil
}

// Disconnect tears down the connection for an address
func (c *Client) Disconnect(address string) {
	c.queue.Sync(func() {
		session, ok := c.sessions[address]
		if !ok || session.state == StateDisconnected {
			return
		}
		if err := c.transport.Disconnect(session.connID); err != nil {
			logger.Warn(c.prefix(address), "transport disconnect failed: %v", err)
		}
	})
}

// Session returns the session for an address, or nil. Test and integration
// helper; the result must only be inspected from queue handlers.
func (c *Client) Session(address string) *Session {
	var session *Session
	c.queue.Sync(func() {
		session = c.sessions[address]
	})
	return session
}

// State returns the lifecycle state for an address
func (c *Client) State(address string) SessionState {
	state := StateDisconnected
	c.queue.Sync(func() {
		if session, ok := c.sessions[address]; ok {
			state = session.state
		}
	})
	return state
}

// HandleConnected is the transport integration entry point for connect
// confirmations
func (c *Client) HandleConnected(address string, connID uint16, connErr error) {
	c.queue.Post(func() {
		session, ok := c.sessions[address]
		if !ok {
			logger.Warn(c.prefix(address), "skipping unknown device")
			return
		}
		if connErr != nil {
			logger.Error(c.prefix(address), "failed to connect: %v", connErr)
			session.handleDisconnected()
			delete(c.sessions, address)
			return
		}
		session.handleConnected(connID)
	})
}

// HandleDisconnected is the transport integration entry point for link loss
func (c *Client) HandleDisconnected(connID uint16) {
	c.queue.Post(func() {
		session := c.findByConnID(connID)
		if session == nil {
			logger.Warn(c.name, "disconnect for unknown conn_id=0x%04x", connID)
			return
		}
		session.handleDisconnected()
		delete(c.sessions, session.address)
	})
}

// HandleNotification is the transport integration entry point for
// notifications and indications
func (c *Client) HandleNotification(connID uint16, handle uint16, value []byte) {
	c.queue.Post(func() {
		session := c.findByConnID(connID)
		if session == nil {
			logger.Warn(c.name, "notification for unknown conn_id=0x%04x", connID)
			return
		}
		session.handleNotification(handle, value)
	})
}

// HandleConnIntervalUpdated is the transport integration entry point for
// connection parameter updates
func (c *Client) HandleConnIntervalUpdated(connID uint16, interval uint16) {
	c.queue.Post(func() {
		session := c.findByConnID(connID)
		if session == nil {
			return
		}
		session.handleConnIntervalUpdated(interval)
	})
}

// Stop releases every session and stops the engine queue
func (c *Client) Stop() {
	c.queue.Sync(func() {
		for address, session := range c.sessions {
			if session.state != StateDisconnected {
				session.handleDisconnected()
			}
			delete(c.sessions, address)
		}
	})
	c.queue.Stop()
}

func (c *Client) findByConnID(connID uint16) *Session {
	for _, session := range c.sessions {
		if session.connID == connID && session.state != StateDisconnected {
			return session
		}
	}
	return nil
}

func (c *Client) connectedCount() int {
	count := 0
	for _, session := range c.sessions {
		if session.state != StateDisconnected {
			count++
		}
	}
	return count
}

func (c *Client) prefix(address string) string {
	return fmt.Sprintf("%s %s", c.name, shortAddr(address))
}

// shortAddr trims an address for log prefixes
func shortAddr(address string) string {
	if len(address) <= 8 {
		return address
	}
	return address[:8]
}
