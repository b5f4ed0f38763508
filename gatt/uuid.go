package gatt

import "fmt"

// Well-known GATT UUIDs (16-bit, little-endian)
var (
	UUIDPrimaryService             = UUID16(0x2800)
	UUIDSecondaryService           = UUID16(0x2801)
	UUIDInclude                    = UUID16(0x2802)
	UUIDCharacteristic             = UUID16(0x2803)
	UUIDClientCharacteristicConfig = UUID16(0x2902) // CCCD
)

// UUID16 creates a 16-bit UUID in little-endian format
func UUID16(val uint16) []byte {
	return []byte{byte(val), byte(val >> 8)}
}

// UUID128 creates a 128-bit UUID from the Bluetooth base UUID and a 16-bit
// short UUID. Base UUID: 00000000-0000-1000-8000-00805F9B34FB
func UUID128(shortUUID uint16) []byte {
	uuid := make([]byte, 16)
	uuid[0] = byte(shortUUID)
	uuid[1] = byte(shortUUID >> 8)
	uuid[4] = 0x10
	uuid[6] = 0x80
	uuid[9] = 0x80
	uuid[10] = 0x5F
	uuid[11] = 0x9B
	uuid[12] = 0x34
	uuid[13] = 0xFB
	return uuid
}

// As16Bit extracts the 16-bit short form of a UUID. Returns 0 for UUIDs
// that are not 2 bytes long.
func As16Bit(uuid []byte) uint16 {
	if len(uuid) != 2 {
		return 0
	}
	return uint16(uuid[0]) | uint16(uuid[1])<<8
}

// IsUUID16 checks if a UUID is 16-bit (2 bytes)
func IsUUID16(uuid []byte) bool {
	return len(uuid) == 2
}

// IsUUID128 checks if a UUID is 128-bit (16 bytes)
func IsUUID128(uuid []byte) bool {
	return len(uuid) == 16
}

// Equal compares two UUIDs for equality
func Equal(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Key converts a UUID to a string usable as a map key
func Key(uuid []byte) string {
	return fmt.Sprintf("%x", uuid)
}
