package profile

import "github.com/user/bluerange/logger"

// CachedDeviceData holds the static fields previously read from a remote so
// a reconnect can skip the redundant reads.
type CachedDeviceData struct {
	id       uint8
	Features uint32

	// VendorData maps a vendor characteristic UUID key to its last
	// observed payload
	VendorData map[string][]byte
}

// DeviceCache is a bounded per-address store of CachedDeviceData. When full,
// inserting a new address evicts the entry with the oldest insertion id.
// Ids increase monotonically and wrap inside [0, 256-capacity) so a uint8
// never collides with a live entry.
type DeviceCache struct {
	capacity int
	entries  map[string]*CachedDeviceData
	prefix   string
}

// NewDeviceCache creates a cache holding at most capacity entries
func NewDeviceCache(capacity int, prefix string) *DeviceCache {
	return &DeviceCache{
		capacity: capacity,
		entries:  make(map[string]*CachedDeviceData, capacity),
		prefix:   prefix,
	}
}

// Lookup returns the cached data for an address
func (dc *DeviceCache) Lookup(address string) (*CachedDeviceData, bool) {
	data, ok := dc.entries[address]
	return data, ok
}

// Store records the static fields for an address. An existing entry is left
// untouched; the values were read from the same remote and are already
// current.
func (dc *DeviceCache) Store(address string, features uint32, vendorData map[string][]byte) {
	if _, ok := dc.entries[address]; ok {
		return
	}

	// Next id follows the current maximum; Invalidate can leave gaps, so
	// counting entries would hand out an id that is still live
	nextID := uint8(0)
	for _, e := range dc.entries {
		if e.id >= nextID {
			nextID = e.id + 1
		}
	}
	if len(dc.entries) >= dc.capacity {
		oldest := dc.oldestAddress()
		logger.Debug(dc.prefix, "cache full, evicting %s", oldest)
		delete(dc.entries, oldest)
	}

	logger.Debug(dc.prefix, "create cached data for %s", address)
	entry := &CachedDeviceData{
		id:         nextID,
		Features:   features,
		VendorData: make(map[string][]byte, len(vendorData)),
	}
	for uuid, value := range vendorData {
		entry.VendorData[uuid] = append([]byte{}, value...)
	}
	dc.entries[address] = entry

	// Keep ids inside the valid range before the next insertion overflows
	if entry.id == 255 {
		for _, e := range dc.entries {
			e.id %= uint8(256 - dc.capacity)
		}
	}
}

// Invalidate drops the cached entry for an address, forcing a full read on
// the next connection
func (dc *DeviceCache) Invalidate(address string) {
	delete(dc.entries, address)
}

// Len returns the number of cached entries
func (dc *DeviceCache) Len() int {
	return len(dc.entries)
}

func (dc *DeviceCache) oldestAddress() string {
	var oldest string
	first := true
	for address, entry := range dc.entries {
		if first || entry.id < dc.entries[oldest].id {
			oldest = address
			first = false
		}
	}
	return oldest
}
