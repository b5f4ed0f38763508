// Package fakegatt is an in-memory GATT transport with a scripted service
// database, used by tests and the demo command. Reads and writes complete
// synchronously; connect confirmations and notifications are posted to the
// bound engine the way a real transport integration would.
package fakegatt

import (
	"fmt"
	"sync"

	"github.com/user/bluerange/gatt"
	"github.com/user/bluerange/profile"
)

// Engine is the slice of the profile client the fake posts events into
type Engine interface {
	HandleConnected(address string, connID uint16, err error)
	HandleDisconnected(connID uint16)
	HandleNotification(connID uint16, handle uint16, value []byte)
	HandleConnIntervalUpdated(connID uint16, interval uint16)
}

// WriteRecord is one observed characteristic write
type WriteRecord struct {
	ConnID    uint16
	Handle    uint16
	Value     []byte
	WriteType gatt.WriteType
}

// DescriptorWrite is one observed descriptor write
type DescriptorWrite struct {
	ConnID uint16
	Handle uint16
	Value  []byte
}

// Transport is the fake. Zero value is not usable; create with New.
type Transport struct {
	mu sync.Mutex

	engine Engine

	services map[string][]gatt.Service
	values   map[string]map[uint16][]byte

	nextConnID uint16
	conns      map[string]uint16 // address -> connID
	addrs      map[uint16]string // connID -> address

	registered map[string]map[uint16]bool

	connectErr  map[string]error
	registerErr map[uint16]error
	readErr     map[uint16]error
	writeErr    map[uint16]error

	writes     []WriteRecord
	descWrites []DescriptorWrite
}

// New creates an empty fake transport
func New() *Transport {
	return &Transport{
		services:    make(map[string][]gatt.Service),
		values:      make(map[string]map[uint16][]byte),
		nextConnID:  1,
		conns:       make(map[string]uint16),
		addrs:       make(map[uint16]string),
		registered:  make(map[string]map[uint16]bool),
		connectErr:  make(map[string]error),
		registerErr: make(map[uint16]error),
		readErr:     make(map[uint16]error),
		writeErr:    make(map[uint16]error),
	}
}

// Bind attaches the engine that receives connect confirmations and
// notifications. Must happen before the first Connect.
func (t *Transport) Bind(engine Engine) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.engine = engine
}

// SetServices scripts the discovery result for an address
func (t *Transport) SetServices(address string, services []gatt.Service) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.services[address] = services
}

// SetValue scripts the read value of a characteristic handle
func (t *Transport) SetValue(address string, handle uint16, value []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.values[address] == nil {
		t.values[address] = make(map[uint16][]byte)
	}
	t.values[address][handle] = value
}

// FailConnect scripts a connect confirmation error for an address
func (t *Transport) FailConnect(address string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connectErr[address] = err
}

// FailRegister scripts a notification registration error for a handle
func (t *Transport) FailRegister(handle uint16, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.registerErr[handle] = err
}

// FailRead scripts a read error for a handle
func (t *Transport) FailRead(handle uint16, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.readErr[handle] = err
}

// FailWrite scripts a write completion error for a handle
func (t *Transport) FailWrite(handle uint16, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.writeErr[handle] = err
}

// Connect assigns a connection id and posts the confirmation to the engine
func (t *Transport) Connect(address string) error {
	t.mu.Lock()
	connID := t.nextConnID
	t.nextConnID++
	t.conns[address] = connID
	t.addrs[connID] = address
	err := t.connectErr[address]
	engine := t.engine
	t.mu.Unlock()

	if engine == nil {
		return fmt.Errorf("no engine bound")
	}
	engine.HandleConnected(address, connID, err)
	return nil
}

// Disconnect posts the link loss to the engine
func (t *Transport) Disconnect(connID uint16) error {
	t.mu.Lock()
	address, ok := t.addrs[connID]
	if ok {
		delete(t.addrs, connID)
		delete(t.conns, address)
	}
	engine := t.engine
	t.mu.Unlock()

	if !ok {
		return fmt.Errorf("unknown conn_id 0x%04x", connID)
	}
	engine.HandleDisconnected(connID)
	return nil
}

// DiscoverServices returns the scripted database for the connection
func (t *Transport) DiscoverServices(connID uint16) ([]gatt.Service, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	address, ok := t.addrs[connID]
	if !ok {
		return nil, fmt.Errorf("unknown conn_id 0x%04x", connID)
	}
	return t.services[address], nil
}

// ReadCharacteristic completes synchronously with the scripted value.
// Reading a handle without a scripted value fails the way a remote rejects
// an invalid handle.
func (t *Transport) ReadCharacteristic(connID uint16, handle uint16, cb profile.ReadCallback) error {
	t.mu.Lock()
	address, ok := t.addrs[connID]
	if !ok {
		t.mu.Unlock()
		return fmt.Errorf("unknown conn_id 0x%04x", connID)
	}
	if err := t.readErr[handle]; err != nil {
		t.mu.Unlock()
		cb(connID, handle, nil, err)
		return nil
	}
	value, found := t.values[address][handle]
	t.mu.Unlock()

	if !found {
		cb(connID, handle, nil, fmt.Errorf("read handle=0x%04x: %v", handle, gatt.ErrInvalidHandle))
		return nil
	}
	cb(connID, handle, value, nil)
	return nil
}

// WriteCharacteristic records the write and completes synchronously
func (t *Transport) WriteCharacteristic(connID uint16, handle uint16, value []byte,
	writeType gatt.WriteType, cb profile.WriteCallback) error {
	t.mu.Lock()
	if _, ok := t.addrs[connID]; !ok {
		t.mu.Unlock()
		return fmt.Errorf("unknown conn_id 0x%04x", connID)
	}
	t.writes = append(t.writes, WriteRecord{
		ConnID:    connID,
		Handle:    handle,
		Value:     append([]byte{}, value...),
		WriteType: writeType,
	})
	err := t.writeErr[handle]
	t.mu.Unlock()

	if cb != nil {
		cb(connID, handle, err)
	}
	return nil
}

// WriteDescriptor records the write and completes synchronously
func (t *Transport) WriteDescriptor(connID uint16, handle uint16, value []byte, cb profile.WriteCallback) error {
	t.mu.Lock()
	if _, ok := t.addrs[connID]; !ok {
		t.mu.Unlock()
		return fmt.Errorf("unknown conn_id 0x%04x", connID)
	}
	t.descWrites = append(t.descWrites, DescriptorWrite{
		ConnID: connID,
		Handle: handle,
		Value:  append([]byte{}, value...),
	})
	err := t.writeErr[handle]
	t.mu.Unlock()

	if cb != nil {
		cb(connID, handle, err)
	}
	return nil
}

// RegisterForNotifications records local notification interest
func (t *Transport) RegisterForNotifications(address string, handle uint16) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.registerErr[handle]; err != nil {
		return err
	}
	if t.registered[address] == nil {
		t.registered[address] = make(map[uint16]bool)
	}
	t.registered[address][handle] = true
	return nil
}

// DeregisterForNotifications drops local notification interest
func (t *Transport) DeregisterForNotifications(address string, handle uint16) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.registered[address], handle)
	return nil
}

// Notify posts a notification for a connected address to the engine
func (t *Transport) Notify(address string, handle uint16, value []byte) error {
	t.mu.Lock()
	connID, ok := t.conns[address]
	engine := t.engine
	t.mu.Unlock()

	if !ok {
		return fmt.Errorf("address %s not connected", address)
	}
	engine.HandleNotification(connID, handle, value)
	return nil
}

// UpdateConnInterval posts a connection parameter update to the engine
func (t *Transport) UpdateConnInterval(address string, interval uint16) error {
	t.mu.Lock()
	connID, ok := t.conns[address]
	engine := t.engine
	t.mu.Unlock()

	if !ok {
		return fmt.Errorf("address %s not connected", address)
	}
	engine.HandleConnIntervalUpdated(connID, interval)
	return nil
}

// DropLink simulates a remote-initiated disconnect
func (t *Transport) DropLink(address string) error {
	t.mu.Lock()
	connID, ok := t.conns[address]
	if ok {
		delete(t.conns, address)
		delete(t.addrs, connID)
	}
	engine := t.engine
	t.mu.Unlock()

	if !ok {
		return fmt.Errorf("address %s not connected", address)
	}
	engine.HandleDisconnected(connID)
	return nil
}

// ConnID returns the live connection id for an address
func (t *Transport) ConnID(address string) (uint16, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	connID, ok := t.conns[address]
	return connID, ok
}

// Registered reports whether local notification interest exists for a handle
func (t *Transport) Registered(address string, handle uint16) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.registered[address][handle]
}

// Writes returns a copy of the observed characteristic writes
func (t *Transport) Writes() []WriteRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]WriteRecord{}, t.writes...)
}

// DescriptorWrites returns a copy of the observed descriptor writes
func (t *Transport) DescriptorWrites() []DescriptorWrite {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]DescriptorWrite{}, t.descWrites...)
}

// WritesTo returns the observed characteristic writes against one handle
func (t *Transport) WritesTo(handle uint16) []WriteRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []WriteRecord
	for _, w := range t.writes {
		if w.Handle == handle {
			out = append(out, w)
		}
	}
	return out
}

// ClearWrites forgets the recorded writes
func (t *Transport) ClearWrites() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.writes = nil
	t.descWrites = nil
}
