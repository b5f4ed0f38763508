// Package gatt holds the client-side GATT data model shared by profile
// implementations: discovered services, characteristics and descriptors,
// characteristic properties, and CCC descriptor handling.
package gatt

// InvalidHandle is the sentinel for a missing or unresolved attribute handle.
// ATT handles are 1-based, 0x0000 is reserved.
const InvalidHandle uint16 = 0x0000

// HandleValid reports whether an attribute handle is usable
func HandleValid(handle uint16) bool {
	return handle != InvalidHandle
}

// Characteristic Properties (bitmask)
const (
	PropBroadcast                 = 0x01
	PropRead                      = 0x02
	PropWriteWithoutResponse      = 0x04
	PropWrite                     = 0x08
	PropNotify                    = 0x10
	PropIndicate                  = 0x20
	PropAuthenticatedSignedWrites = 0x40
	PropExtendedProperties        = 0x80
)

// WriteType selects how a characteristic write is performed
type WriteType int

const (
	WriteWithResponse WriteType = iota
	WriteNoResponse
)

// Descriptor is a discovered characteristic descriptor
type Descriptor struct {
	UUID   []byte // Descriptor UUID (2 or 16 bytes)
	Handle uint16
}

// Characteristic is a discovered GATT characteristic
type Characteristic struct {
	UUID        []byte // Characteristic UUID (2 or 16 bytes)
	ValueHandle uint16 // Handle used for read/write/notify
	Properties  uint8  // Property bitmask (read, write, notify, ...)
	Descriptors []Descriptor
}

// CCCHandle returns the handle of the Client Characteristic Configuration
// descriptor, or InvalidHandle if the characteristic has none. Absence is
// not an error; it just means the characteristic is not configurable.
func (c *Characteristic) CCCHandle() uint16 {
	for _, desc := range c.Descriptors {
		if Equal(desc.UUID, UUIDClientCharacteristicConfig) {
			return desc.Handle
		}
	}
	return InvalidHandle
}

// SupportsNotify reports whether the characteristic supports notifications
func (c *Characteristic) SupportsNotify() bool {
	return c.Properties&PropNotify != 0
}

// SupportsIndicate reports whether the characteristic supports indications
func (c *Characteristic) SupportsIndicate() bool {
	return c.Properties&PropIndicate != 0
}

// WritableNoResponse reports whether the characteristic accepts
// write-without-response commands
func (c *Characteristic) WritableNoResponse() bool {
	return c.Properties&PropWriteWithoutResponse != 0
}

// IncludedService is a reference to a secondary service included by a
// primary one
type IncludedService struct {
	UUID        []byte
	StartHandle uint16
}

// Service is a discovered GATT service instance
type Service struct {
	UUID             []byte // Service UUID (2 or 16 bytes)
	Handle           uint16 // Service declaration handle
	EndHandle        uint16 // Last handle belonging to the service
	Characteristics  []Characteristic
	IncludedServices []IncludedService
}

// FindCharacteristicByUUID returns the first characteristic with the given
// UUID, or nil if the service has none
func (s *Service) FindCharacteristicByUUID(uuid []byte) *Characteristic {
	for i := range s.Characteristics {
		if Equal(s.Characteristics[i].UUID, uuid) {
			return &s.Characteristics[i]
		}
	}
	return nil
}

// FindCharacteristicByHandle returns the characteristic whose value handle
// matches, or nil
func (s *Service) FindCharacteristicByHandle(handle uint16) *Characteristic {
	for i := range s.Characteristics {
		if s.Characteristics[i].ValueHandle == handle {
			return &s.Characteristics[i]
		}
	}
	return nil
}

// FindServiceByUUID returns the first service with the given UUID from a
// discovery result, or nil
func FindServiceByUUID(services []Service, uuid []byte) *Service {
	for i := range services {
		if Equal(services[i].UUID, uuid) {
			return &services[i]
		}
	}
	return nil
}

// FindServiceByHandle returns the service owning the given declaration
// handle, or nil
func FindServiceByHandle(services []Service, handle uint16) *Service {
	for i := range services {
		if services[i].Handle == handle {
			return &services[i]
		}
	}
	return nil
}
