package profile

import (
	"github.com/user/bluerange/gatt"
	"github.com/user/bluerange/logger"
)

// SubscriptionManager enables and disables remote notifications for one
// connection. Subscribing registers local interest first and only then
// writes the CCC descriptor, so no notification delivered between the two
// steps is dropped. Profiles always subscribe before issuing their initial
// reads for the same reason.
type SubscriptionManager struct {
	transport Transport
	address   string
	connID    uint16
	prefix    string
}

// NewSubscriptionManager creates a subscription manager for a live
// connection
func NewSubscriptionManager(transport Transport, address string, connID uint16, prefix string) *SubscriptionManager {
	return &SubscriptionManager{
		transport: transport,
		address:   address,
		connID:    connID,
		prefix:    prefix,
	}
}

// Subscribe registers for notifications on a value handle and writes the
// enable bit pattern to its CCC descriptor. The CCC write selects
// indications when the characteristic does not support notifications.
// Returns false without writing the descriptor if registration fails.
func (sm *SubscriptionManager) Subscribe(handles FieldHandles, cb WriteCallback) bool {
	if err := sm.transport.RegisterForNotifications(sm.address, handles.ValueHandle); err != nil {
		logger.Error(sm.prefix, "failed to register notifications for handle=0x%04x: %v",
			handles.ValueHandle, err)
		return false
	}

	logger.Debug(sm.prefix, "subscribe handle=0x%04x ccc=0x%04x",
		handles.ValueHandle, handles.CCCHandle)

	value := gatt.EncodeCCCDValue(handles.Properties&gatt.PropNotify != 0,
		handles.Properties&gatt.PropNotify == 0)
	if err := sm.transport.WriteDescriptor(sm.connID, handles.CCCHandle, value, cb); err != nil {
		logger.Error(sm.prefix, "failed to write CCC handle=0x%04x: %v", handles.CCCHandle, err)
		return false
	}

	return true
}

// Unsubscribe deregisters notification interest and clears the CCC
// descriptor. The descriptor write is best-effort and happens regardless of
// the deregister outcome.
func (sm *SubscriptionManager) Unsubscribe(handles FieldHandles) {
	if err := sm.transport.DeregisterForNotifications(sm.address, handles.ValueHandle); err != nil {
		logger.Error(sm.prefix, "failed to deregister notifications for handle=0x%04x: %v",
			handles.ValueHandle, err)
	}

	logger.Info(sm.prefix, "unsubscribe handle=0x%04x", handles.ValueHandle)

	value := gatt.EncodeCCCDValue(false, false)
	if err := sm.transport.WriteDescriptor(sm.connID, handles.CCCHandle, value, nil); err != nil {
		logger.Warn(sm.prefix, "failed to clear CCC handle=0x%04x: %v", handles.CCCHandle, err)
	}
}

// Deregister drops local notification interest for a bare value handle,
// used during teardown when writing descriptors is pointless
func (sm *SubscriptionManager) Deregister(handle uint16) {
	if !gatt.HandleValid(handle) {
		return
	}
	if err := sm.transport.DeregisterForNotifications(sm.address, handle); err != nil {
		logger.Warn(sm.prefix, "failed to deregister handle=0x%04x: %v", handle, err)
	}
}

// PendingHandleSet tracks the handles whose subscription or initial read is
// still outstanding. The device becomes ready exactly when the set empties;
// membership only shrinks until the next Reset.
type PendingHandleSet struct {
	pending map[uint16]struct{}
}

// NewPendingHandleSet creates an empty pending set
func NewPendingHandleSet() *PendingHandleSet {
	return &PendingHandleSet{pending: make(map[uint16]struct{})}
}

// Add records a handle awaiting completion
func (p *PendingHandleSet) Add(handle uint16) {
	p.pending[handle] = struct{}{}
}

// Complete removes a handle from the set and reports whether the set is now
// empty (the readiness condition)
func (p *PendingHandleSet) Complete(handle uint16) bool {
	delete(p.pending, handle)
	return len(p.pending) == 0
}

// Len returns the number of outstanding handles
func (p *PendingHandleSet) Len() int {
	return len(p.pending)
}

// Reset clears the set for a fresh discovery pass
func (p *PendingHandleSet) Reset() {
	p.pending = make(map[uint16]struct{})
}
