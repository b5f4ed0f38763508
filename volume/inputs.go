package volume

import (
	"github.com/user/bluerange/gatt"
	"github.com/user/bluerange/profile"
)

// VolumeAudioInput is one resolved Audio Input Control Service instance.
// IDs are 0-based and assigned in discovery order.
type VolumeAudioInput struct {
	ID            uint8
	ServiceHandle uint16
	Table         *profile.AttributeTable

	GainSetting   int8
	Mute          uint8
	GainMode      uint8
	ChangeCounter uint8
	Type          uint8
	Status        uint8
	Description   string

	// DescriptionWritable is set when the audio input description accepts
	// write-without-response
	DescriptionWritable bool
}

var inputFieldSpecs = []profile.FieldSpec{
	{Name: fieldInputState, UUID: UUIDInputState, Mandatory: true, Configurable: true, RequireCCC: true},
	{Name: fieldGainProperties, UUID: UUIDGainSettingProperties, Mandatory: true},
	{Name: fieldInputType, UUID: UUIDInputType, Mandatory: true},
	{Name: fieldInputStatus, UUID: UUIDInputStatus, Mandatory: true, Configurable: true},
	{Name: fieldInputControlPoint, UUID: UUIDInputControlPoint, Mandatory: true},
	{Name: fieldInputDescription, UUID: UUIDAudioInputDescription, Configurable: true},
}

// VolumeAudioInputs is the set of audio input instances of one device
type VolumeAudioInputs struct {
	inputs []*VolumeAudioInput
}

// Add resolves a service instance into the set. Adding a service handle that
// is already present is a no-op.
func (vi *VolumeAudioInputs) Add(prefix string, svc *gatt.Service) {
	if vi.FindByServiceHandle(svc.Handle) != nil {
		return
	}
	table, ok := profile.BuildAttributeTable(prefix, svc, inputFieldSpecs)
	if !ok {
		return
	}
	input := &VolumeAudioInput{
		ID:            uint8(len(vi.inputs)),
		ServiceHandle: svc.Handle,
		Table:         table,
	}
	if handles, ok := table.Field(fieldInputDescription); ok {
		input.DescriptionWritable = handles.Writable
	}
	vi.inputs = append(vi.inputs, input)
}

// FindByID returns the input instance with the given 0-based id, or nil
func (vi *VolumeAudioInputs) FindByID(id uint8) *VolumeAudioInput {
	for _, input := range vi.inputs {
		if input.ID == id {
			return input
		}
	}
	return nil
}

// FindByServiceHandle returns the instance owning the service handle, or nil
func (vi *VolumeAudioInputs) FindByServiceHandle(handle uint16) *VolumeAudioInput {
	for _, input := range vi.inputs {
		if input.ServiceHandle == handle {
			return input
		}
	}
	return nil
}

// FindByValueHandle returns the instance owning a characteristic value
// handle along with the field name, or nil
func (vi *VolumeAudioInputs) FindByValueHandle(handle uint16) (*VolumeAudioInput, string) {
	for _, input := range vi.inputs {
		if name, _, ok := input.Table.FieldByHandle(handle); ok {
			return input, name
		}
	}
	return nil, ""
}

// Remove drops the instance owning the service handle. Removing an unknown
// handle is a no-op.
func (vi *VolumeAudioInputs) Remove(handle uint16) {
	for i, input := range vi.inputs {
		if input.ServiceHandle == handle {
			vi.inputs = append(vi.inputs[:i], vi.inputs[i+1:]...)
			return
		}
	}
}

// Clear empties the set
func (vi *VolumeAudioInputs) Clear() {
	vi.inputs = nil
}

// Size returns the number of resolved instances
func (vi *VolumeAudioInputs) Size() int {
	return len(vi.inputs)
}

// Each visits every instance in discovery order
func (vi *VolumeAudioInputs) Each(fn func(*VolumeAudioInput)) {
	for _, input := range vi.inputs {
		fn(input)
	}
}
