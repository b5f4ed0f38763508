package profile

import "github.com/user/bluerange/gatt"

// ReadCallback delivers the result of a characteristic read. A nil err means
// value holds the characteristic content.
type ReadCallback func(connID uint16, handle uint16, value []byte, err error)

// WriteCallback delivers the completion of a characteristic or descriptor
// write
type WriteCallback func(connID uint16, handle uint16, err error)

// Transport is the GATT client collaborator the engine drives. It hides the
// attribute protocol transaction layer; every callback it invokes must be
// posted onto the engine's SerialQueue by the integration layer.
type Transport interface {
	// Connect initiates a connection to a remote device
	Connect(address string) error

	// Disconnect tears down the connection
	Disconnect(connID uint16) error

	// DiscoverServices returns the remote's service database for a live
	// connection
	DiscoverServices(connID uint16) ([]gatt.Service, error)

	// ReadCharacteristic issues an asynchronous read of a value handle
	ReadCharacteristic(connID uint16, handle uint16, cb ReadCallback) error

	// WriteCharacteristic issues an asynchronous write to a value handle
	WriteCharacteristic(connID uint16, handle uint16, value []byte, writeType gatt.WriteType, cb WriteCallback) error

	// WriteDescriptor issues an asynchronous write to a descriptor handle
	WriteDescriptor(connID uint16, handle uint16, value []byte, cb WriteCallback) error

	// RegisterForNotifications registers local interest in notifications
	// for a value handle. This does not touch the remote; enabling the
	// remote side is done by writing the CCC descriptor.
	RegisterForNotifications(address string, handle uint16) error

	// DeregisterForNotifications removes local notification interest
	DeregisterForNotifications(address string, handle uint16) error
}

// Callbacks is the upper-layer profile API collaborator. All methods are
// invoked on the engine's SerialQueue.
type Callbacks interface {
	// OnDeviceReady fires once per connection when all mandatory handles
	// are resolved and initial reads completed
	OnDeviceReady(address string, capabilitySummary string)

	// OnFieldChanged reports a semantic field update routed from a
	// notification or read response
	OnFieldChanged(address string, fieldID string, newValue []byte)

	// OnOperationTimeout reports a stalled transfer after its recovery
	// action ran; the link itself stays up
	OnOperationTimeout(address string)

	// OnWriteBatchComplete fires exactly once per vendor reply batch
	OnWriteBatchComplete(address string, allSucceeded bool)

	// OnDisconnected reports the session teardown for a device
	OnDisconnected(address string)
}
