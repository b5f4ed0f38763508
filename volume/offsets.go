package volume

import (
	"github.com/user/bluerange/gatt"
	"github.com/user/bluerange/profile"
)

// VolumeOffset is one resolved Volume Offset Control Service instance. IDs
// are 1-based and assigned in discovery order.
type VolumeOffset struct {
	ID            uint8
	ServiceHandle uint16
	Table         *profile.AttributeTable

	Offset        int16
	ChangeCounter uint8
	Location      uint32
	Description   string

	// DescriptionWritable is set when the audio output description accepts
	// write-without-response
	DescriptionWritable bool
}

var offsetFieldSpecs = []profile.FieldSpec{
	{Name: fieldOffsetState, UUID: UUIDOffsetState, Mandatory: true, Configurable: true, RequireCCC: true},
	{Name: fieldAudioLocation, UUID: UUIDAudioLocation, Configurable: true},
	{Name: fieldOffsetControlPoint, UUID: UUIDOffsetControlPoint, Mandatory: true},
	{Name: fieldOutputDescription, UUID: UUIDAudioOutputDescription, Configurable: true},
}

// VolumeOffsets is the set of offset instances of one device
type VolumeOffsets struct {
	offsets []*VolumeOffset
}

// Add resolves a service instance into the set. Adding a service handle that
// is already present is a no-op, so repeated discovery passes stay stable.
func (vo *VolumeOffsets) Add(prefix string, svc *gatt.Service) {
	if vo.FindByServiceHandle(svc.Handle) != nil {
		return
	}
	table, ok := profile.BuildAttributeTable(prefix, svc, offsetFieldSpecs)
	if !ok {
		return
	}
	offset := &VolumeOffset{
		ID:            uint8(len(vo.offsets) + 1),
		ServiceHandle: svc.Handle,
		Table:         table,
	}
	if handles, ok := table.Field(fieldOutputDescription); ok {
		offset.DescriptionWritable = handles.Writable
	}
	vo.offsets = append(vo.offsets, offset)
}

// FindByID returns the offset instance with the given 1-based id, or nil
func (vo *VolumeOffsets) FindByID(id uint8) *VolumeOffset {
	for _, offset := range vo.offsets {
		if offset.ID == id {
			return offset
		}
	}
	return nil
}

// FindByServiceHandle returns the instance owning the service handle, or nil
func (vo *VolumeOffsets) FindByServiceHandle(handle uint16) *VolumeOffset {
	for _, offset := range vo.offsets {
		if offset.ServiceHandle == handle {
			return offset
		}
	}
	return nil
}

// FindByValueHandle returns the instance owning a characteristic value
// handle along with the field name, or nil
func (vo *VolumeOffsets) FindByValueHandle(handle uint16) (*VolumeOffset, string) {
	for _, offset := range vo.offsets {
		if name, _, ok := offset.Table.FieldByHandle(handle); ok {
			return offset, name
		}
	}
	return nil, ""
}

// Remove drops the instance owning the service handle. Removing an unknown
// handle is a no-op.
func (vo *VolumeOffsets) Remove(handle uint16) {
	for i, offset := range vo.offsets {
		if offset.ServiceHandle == handle {
			vo.offsets = append(vo.offsets[:i], vo.offsets[i+1:]...)
			return
		}
	}
}

// Clear empties the set
func (vo *VolumeOffsets) Clear() {
	vo.offsets = nil
}

// Size returns the number of resolved instances
func (vo *VolumeOffsets) Size() int {
	return len(vo.offsets)
}

// Each visits every instance in discovery order
func (vo *VolumeOffsets) Each(fn func(*VolumeOffset)) {
	for _, offset := range vo.offsets {
		fn(offset)
	}
}
