package volume

import (
	"encoding/binary"
	"fmt"

	"github.com/user/bluerange/gatt"
	"github.com/user/bluerange/logger"
	"github.com/user/bluerange/profile"
)

var volumeFieldSpecs = []profile.FieldSpec{
	{Name: fieldVolumeState, UUID: UUIDVolumeState, Mandatory: true, Configurable: true, RequireCCC: true},
	{Name: fieldControlPoint, UUID: UUIDVolumeControlPoint, Mandatory: true},
	{Name: fieldVolumeFlags, UUID: UUIDVolumeFlags, Configurable: true},
}

// Device is the per-remote volume control state plugged into the generic
// session as its Hooks implementation. Readiness is gated on the pending
// handle set: the device reports ready exactly when every initial read
// completed.
type Device struct {
	client *Client
	s      *profile.Session
	table  *profile.AttributeTable

	state VolumeState
	flags uint8

	// initDone flips when the initial reads drained the pending set; the
	// remaining bulk reads are issued exactly once
	initDone bool

	offsets VolumeOffsets
	inputs  VolumeAudioInputs
}

func newDevice(c *Client, s *profile.Session) *Device {
	d := &Device{client: c, s: s}
	c.devices[s.Address()] = d
	return d
}

func (d *Device) ServiceUUID() []byte { return UUIDVolumeControlService }

// OnServiceResolved rebuilds every handle record from scratch: the primary
// service table plus one record per included offset and audio input service.
// A partial rebuild after a changed database is never attempted.
func (d *Device) OnServiceResolved(svc *gatt.Service) bool {
	d.offsets.Clear()
	d.inputs.Clear()

	table, ok := profile.BuildAttributeTable(d.s.Prefix(), svc, volumeFieldSpecs)
	if !ok {
		return false
	}
	d.table = table

	for _, included := range svc.IncludedServices {
		instance := gatt.FindServiceByHandle(d.s.AllServices(), included.StartHandle)
		if instance == nil {
			logger.Warn(d.s.Prefix(), "included service handle=0x%04x not in discovery result",
				included.StartHandle)
			continue
		}
		switch {
		case gatt.Equal(included.UUID, UUIDVolumeOffsetService):
			d.offsets.Add(d.s.Prefix(), instance)
		case gatt.Equal(included.UUID, UUIDAudioInputService):
			d.inputs.Add(d.s.Prefix(), instance)
		default:
			logger.Debug(d.s.Prefix(), "ignoring included service %s", gatt.Key(included.UUID))
		}
	}

	logger.Info(d.s.Prefix(), "resolved %d offset and %d audio input instances",
		d.offsets.Size(), d.inputs.Size())
	return true
}

// UseCachedData always declines: volume state is live data, every connect
// re-reads it
func (d *Device) UseCachedData(_ *profile.CachedDeviceData) bool {
	return false
}

// StartInit issues the initial requests: subscribe and read the primary
// service state and flags. Each read's value handle enters the pending set
// first; readiness fires when the set drains, and only then the remaining
// offset and input attributes are bulk-read.
func (d *Device) StartInit(_ bool) {
	d.subscribeAndRead(d.table, fieldVolumeState, true)
	d.subscribeAndRead(d.table, fieldVolumeFlags, true)
}

// enqueueRemainingRequests reads everything the readiness gate does not
// depend on: the offset and audio input attributes
func (d *Device) enqueueRemainingRequests() {
	d.offsets.Each(func(offset *VolumeOffset) {
		d.subscribeAndRead(offset.Table, fieldOffsetState, false)
		d.subscribeAndRead(offset.Table, fieldAudioLocation, false)
		d.subscribeAndRead(offset.Table, fieldOutputDescription, false)
	})
	d.inputs.Each(func(input *VolumeAudioInput) {
		d.subscribeAndRead(input.Table, fieldInputState, false)
		d.readField(input.Table, fieldGainProperties)
		d.readField(input.Table, fieldInputType)
		d.subscribeAndRead(input.Table, fieldInputStatus, false)
		d.subscribeAndRead(input.Table, fieldInputDescription, false)
	})
}

// subscribeAndRead enables notifications where the field has a CCC, then
// reads the current value. Missing optional fields are skipped silently.
func (d *Device) subscribeAndRead(table *profile.AttributeTable, name string, gated bool) {
	handles, ok := table.Field(name)
	if !ok {
		return
	}
	if gatt.HandleValid(handles.CCCHandle) {
		d.s.Subscriptions().Subscribe(handles, nil)
	}
	d.read(handles.ValueHandle, gated)
}

func (d *Device) readField(table *profile.AttributeTable, name string) {
	handles, ok := table.Field(name)
	if !ok {
		return
	}
	d.read(handles.ValueHandle, false)
}

func (d *Device) read(handle uint16, gated bool) {
	if gated {
		d.s.Pending().Add(handle)
	}
	err := d.s.Transport().ReadCharacteristic(d.s.ConnID(), handle,
		func(_ uint16, handle uint16, value []byte, err error) {
			d.onReadComplete(handle, value, err)
		})
	if err != nil {
		logger.Error(d.s.Prefix(), "read handle=0x%04x failed: %v", handle, err)
		if gated {
			d.retirePending(handle)
		}
	}
}

// onReadComplete applies a read response and retires its handle from the
// pending set. A failed read still retires the handle so a flaky optional
// field cannot wedge the session short of ready.
func (d *Device) onReadComplete(handle uint16, value []byte, err error) {
	if err != nil {
		logger.Error(d.s.Prefix(), "read handle=0x%04x failed: %v", handle, err)
	} else {
		d.applyValue(handle, value, false)
	}
	d.retirePending(handle)
}

func (d *Device) retirePending(handle uint16) {
	if !d.s.Pending().Complete(handle) || d.initDone {
		return
	}
	d.initDone = true
	d.s.MarkReady()
	d.enqueueRemainingRequests()
}

func (d *Device) OnNotification(handle uint16, value []byte) {
	d.applyValue(handle, value, true)
}

// applyValue routes a read response or notification by value handle, first
// against the primary service table, then against the offset and input
// instances.
func (d *Device) applyValue(handle uint16, value []byte, notify bool) {
	if d.table == nil {
		logger.Warn(d.s.Prefix(), "value for handle=0x%04x before handles resolved", handle)
		return
	}
	if name, _, ok := d.table.FieldByHandle(handle); ok {
		d.applyVolumeField(name, value)
		return
	}
	if offset, name := d.offsets.FindByValueHandle(handle); offset != nil {
		d.applyOffsetField(offset, name, value)
		return
	}
	if input, name := d.inputs.FindByValueHandle(handle); input != nil {
		d.applyInputField(input, name, value)
		return
	}
	if notify {
		logger.Warn(d.s.Prefix(), "notification for unknown handle=0x%04x", handle)
	} else {
		logger.Warn(d.s.Prefix(), "read response for unknown handle=0x%04x", handle)
	}
}

func (d *Device) applyVolumeField(name string, value []byte) {
	switch name {
	case fieldVolumeState:
		state, ok := ParseVolumeState(value)
		if !ok {
			logger.Error(d.s.Prefix(), "invalid length %d for volume state", len(value))
			return
		}
		d.state = state
		logger.Info(d.s.Prefix(), "volume %d mute %d counter %d",
			state.Volume, state.Mute, state.ChangeCounter)
		d.client.callbacks.OnVolumeStateChanged(d.s.Address(), state.Volume, state.Mute)
	case fieldVolumeFlags:
		if len(value) != 1 {
			logger.Error(d.s.Prefix(), "invalid length %d for volume flags", len(value))
			return
		}
		d.flags = value[0]
		d.client.callbacks.OnFieldChanged(d.s.Address(), fieldVolumeFlags, value)
	default:
		logger.Warn(d.s.Prefix(), "unexpected field %s", name)
	}
}

func (d *Device) applyOffsetField(offset *VolumeOffset, name string, value []byte) {
	switch name {
	case fieldOffsetState:
		state, ok := ParseOffsetState(value)
		if !ok {
			logger.Error(d.s.Prefix(), "invalid length %d for offset state", len(value))
			return
		}
		offset.Offset = state.Offset
		offset.ChangeCounter = state.ChangeCounter
		d.client.callbacks.OnVolumeOffsetChanged(d.s.Address(), offset.ID, state.Offset)
	case fieldAudioLocation:
		if len(value) != 4 {
			logger.Error(d.s.Prefix(), "invalid length %d for audio location", len(value))
			return
		}
		offset.Location = binary.LittleEndian.Uint32(value)
		d.client.callbacks.OnFieldChanged(d.s.Address(),
			fmt.Sprintf("%s/%d", fieldAudioLocation, offset.ID), value)
	case fieldOutputDescription:
		offset.Description = string(value)
		d.client.callbacks.OnFieldChanged(d.s.Address(),
			fmt.Sprintf("%s/%d", fieldOutputDescription, offset.ID), value)
	default:
		logger.Warn(d.s.Prefix(), "unexpected offset field %s", name)
	}
}

func (d *Device) applyInputField(input *VolumeAudioInput, name string, value []byte) {
	switch name {
	case fieldInputState:
		state, ok := ParseInputState(value)
		if !ok {
			logger.Error(d.s.Prefix(), "invalid length %d for input state", len(value))
			return
		}
		input.GainSetting = state.GainSetting
		input.Mute = state.Mute
		input.GainMode = state.GainMode
		input.ChangeCounter = state.ChangeCounter
		d.client.callbacks.OnAudioInputChanged(d.s.Address(), input.ID, state)
	case fieldGainProperties, fieldInputType, fieldInputStatus:
		if name == fieldInputType && len(value) == 1 {
			input.Type = value[0]
		}
		if name == fieldInputStatus && len(value) == 1 {
			input.Status = value[0]
		}
		d.client.callbacks.OnFieldChanged(d.s.Address(),
			fmt.Sprintf("%s/%d", name, input.ID), value)
	case fieldInputDescription:
		input.Description = string(value)
		d.client.callbacks.OnFieldChanged(d.s.Address(),
			fmt.Sprintf("%s/%d", fieldInputDescription, input.ID), value)
	default:
		logger.Warn(d.s.Prefix(), "unexpected input field %s", name)
	}
}

func (d *Device) Capabilities() string {
	return fmt.Sprintf("%d offsets|%d audio inputs", d.offsets.Size(), d.inputs.Size())
}

// OnReconnectRequest re-reports the current state; the session never went
// down so no re-initialization is needed
func (d *Device) OnReconnectRequest() {
	if d.s.Ready() {
		d.client.callbacks.OnVolumeStateChanged(d.s.Address(), d.state.Volume, d.state.Mute)
	}
}

// OnRelease deregisters every notification this device registered and
// forgets it
func (d *Device) OnRelease() {
	delete(d.client.devices, d.s.Address())
	if d.table == nil {
		return
	}
	d.deregisterField(d.table, fieldVolumeState)
	d.deregisterField(d.table, fieldVolumeFlags)
	d.offsets.Each(func(offset *VolumeOffset) {
		d.deregisterField(offset.Table, fieldOffsetState)
		d.deregisterField(offset.Table, fieldAudioLocation)
		d.deregisterField(offset.Table, fieldOutputDescription)
	})
	d.inputs.Each(func(input *VolumeAudioInput) {
		d.deregisterField(input.Table, fieldInputState)
		d.deregisterField(input.Table, fieldInputStatus)
		d.deregisterField(input.Table, fieldInputDescription)
	})
	d.offsets.Clear()
	d.inputs.Clear()
}

func (d *Device) deregisterField(table *profile.AttributeTable, name string) {
	if handles, ok := table.Field(name); ok && gatt.HandleValid(handles.CCCHandle) {
		d.s.Subscriptions().Deregister(handles.ValueHandle)
	}
}

// controlPointOperation writes the volume control point: opcode, the change
// counter from the last observed state, then the arguments
func (d *Device) controlPointOperation(opcode uint8, args ...byte) {
	if !d.s.Ready() {
		logger.Warn(d.s.Prefix(), "control point operation 0x%02x before ready", opcode)
		return
	}
	handles, _ := d.table.Field(fieldControlPoint)
	payload := ControlPointPayload(opcode, d.state.ChangeCounter, args...)
	d.writeControlPoint(handles.ValueHandle, payload)
}

func (d *Device) writeControlPoint(handle uint16, payload []byte) {
	err := d.s.Transport().WriteCharacteristic(d.s.ConnID(), handle, payload,
		gatt.WriteWithResponse, func(_ uint16, handle uint16, err error) {
			if err != nil {
				logger.Error(d.s.Prefix(), "control point write handle=0x%04x failed: %v",
					handle, err)
			}
		})
	if err != nil {
		logger.Error(d.s.Prefix(), "control point write failed: %v", err)
	}
}

func (d *Device) setVolumeOffset(id uint8, value int16) {
	offset := d.offsets.FindByID(id)
	if offset == nil {
		logger.Warn(d.s.Prefix(), "no offset instance with id %d", id)
		return
	}
	handles, _ := offset.Table.Field(fieldOffsetControlPoint)
	payload := ControlPointPayload(OpcodeSetVolumeOffset, offset.ChangeCounter,
		byte(uint16(value)&0xFF), byte(uint16(value)>>8))
	d.writeControlPoint(handles.ValueHandle, payload)
}

func (d *Device) setOutputDescription(id uint8, description string) {
	offset := d.offsets.FindByID(id)
	if offset == nil {
		logger.Warn(d.s.Prefix(), "no offset instance with id %d", id)
		return
	}
	if !offset.DescriptionWritable {
		logger.Warn(d.s.Prefix(), "output description of offset %d is not writable", id)
		return
	}
	handles, _ := offset.Table.Field(fieldOutputDescription)
	err := d.s.Transport().WriteCharacteristic(d.s.ConnID(), handles.ValueHandle,
		[]byte(description), gatt.WriteNoResponse, nil)
	if err != nil {
		logger.Error(d.s.Prefix(), "output description write failed: %v", err)
	}
}

func (d *Device) inputControlPointOperation(id uint8, opcode uint8, args ...byte) {
	input := d.inputs.FindByID(id)
	if input == nil {
		logger.Warn(d.s.Prefix(), "no audio input instance with id %d", id)
		return
	}
	handles, _ := input.Table.Field(fieldInputControlPoint)
	payload := ControlPointPayload(opcode, input.ChangeCounter, args...)
	d.writeControlPoint(handles.ValueHandle, payload)
}

func (d *Device) setInputDescription(id uint8, description string) {
	input := d.inputs.FindByID(id)
	if input == nil {
		logger.Warn(d.s.Prefix(), "no audio input instance with id %d", id)
		return
	}
	if !input.DescriptionWritable {
		logger.Warn(d.s.Prefix(), "input description of input %d is not writable", id)
		return
	}
	handles, _ := input.Table.Field(fieldInputDescription)
	err := d.s.Transport().WriteCharacteristic(d.s.ConnID(), handles.ValueHandle,
		[]byte(description), gatt.WriteNoResponse, nil)
	if err != nil {
		logger.Error(d.s.Prefix(), "input description write failed: %v", err)
	}
}
