// Package volume implements a Volume Control style client profile on top of
// the profile engine: the volume state machine with its change counter,
// plus included volume offset and audio input services.
package volume

import (
	"github.com/user/bluerange/gatt"
)

// Volume Control Service UUIDs (16-bit assigned numbers)
var (
	UUIDVolumeControlService = gatt.UUID16(0x1844)
	UUIDVolumeState          = gatt.UUID16(0x2B7D)
	UUIDVolumeControlPoint   = gatt.UUID16(0x2B7E)
	UUIDVolumeFlags          = gatt.UUID16(0x2B7F)
)

// Volume Offset Control Service UUIDs
var (
	UUIDVolumeOffsetService    = gatt.UUID16(0x1845)
	UUIDOffsetState            = gatt.UUID16(0x2B80)
	UUIDAudioLocation          = gatt.UUID16(0x2B81)
	UUIDOffsetControlPoint     = gatt.UUID16(0x2B82)
	UUIDAudioOutputDescription = gatt.UUID16(0x2B83)
)

// Audio Input Control Service UUIDs
var (
	UUIDAudioInputService     = gatt.UUID16(0x1843)
	UUIDInputState            = gatt.UUID16(0x2B77)
	UUIDGainSettingProperties = gatt.UUID16(0x2B78)
	UUIDInputType             = gatt.UUID16(0x2B79)
	UUIDInputStatus           = gatt.UUID16(0x2B7A)
	UUIDInputControlPoint     = gatt.UUID16(0x2B7B)
	UUIDAudioInputDescription = gatt.UUID16(0x2B7C)
)

// Volume control point opcodes
const (
	OpcodeVolumeDown        = 0x00
	OpcodeVolumeUp          = 0x01
	OpcodeUnmuteVolumeDown  = 0x02
	OpcodeUnmuteVolumeUp    = 0x03
	OpcodeSetAbsoluteVolume = 0x04
	OpcodeUnmute            = 0x05
	OpcodeMute              = 0x06
)

// Offset control point opcodes
const (
	OpcodeSetVolumeOffset = 0x01
)

// Input control point opcodes
const (
	OpcodeSetGainSetting   = 0x01
	OpcodeUnmuteInput      = 0x02
	OpcodeMuteInput        = 0x03
	OpcodeSetManualGain    = 0x04
	OpcodeSetAutomaticGain = 0x05
)

// Semantic field names of the primary service attribute table
const (
	fieldVolumeState  = "volume_state"
	fieldControlPoint = "volume_control_point"
	fieldVolumeFlags  = "volume_flags"
)

// Semantic field names of offset service instances
const (
	fieldOffsetState        = "offset_state"
	fieldAudioLocation      = "audio_location"
	fieldOffsetControlPoint = "offset_control_point"
	fieldOutputDescription  = "output_description"
)

// Semantic field names of audio input service instances
const (
	fieldInputState        = "input_state"
	fieldGainProperties    = "gain_properties"
	fieldInputType         = "input_type"
	fieldInputStatus       = "input_status"
	fieldInputControlPoint = "input_control_point"
	fieldInputDescription  = "input_description"
)

const (
	volumeStateSize = 3
	offsetStateSize = 3
	inputStateSize  = 4
)

// VolumeState is the parsed Volume State characteristic value
type VolumeState struct {
	Volume        uint8
	Mute          uint8
	ChangeCounter uint8
}

// ParseVolumeState decodes a Volume State value, false on bad length
func ParseVolumeState(value []byte) (VolumeState, bool) {
	if len(value) != volumeStateSize {
		return VolumeState{}, false
	}
	return VolumeState{Volume: value[0], Mute: value[1], ChangeCounter: value[2]}, true
}

// OffsetState is the parsed Offset State characteristic value
type OffsetState struct {
	Offset        int16
	ChangeCounter uint8
}

// ParseOffsetState decodes an Offset State value, false on bad length
func ParseOffsetState(value []byte) (OffsetState, bool) {
	if len(value) != offsetStateSize {
		return OffsetState{}, false
	}
	return OffsetState{
		Offset:        int16(uint16(value[0]) | uint16(value[1])<<8),
		ChangeCounter: value[2],
	}, true
}

// InputState is the parsed Audio Input State characteristic value
type InputState struct {
	GainSetting   int8
	Mute          uint8
	GainMode      uint8
	ChangeCounter uint8
}

// ParseInputState decodes an Audio Input State value, false on bad length
func ParseInputState(value []byte) (InputState, bool) {
	if len(value) != inputStateSize {
		return InputState{}, false
	}
	return InputState{
		GainSetting:   int8(value[0]),
		Mute:          value[1],
		GainMode:      value[2],
		ChangeCounter: value[3],
	}, true
}

// ControlPointPayload builds a control point write: opcode, the change
// counter the remote last announced, then the operation arguments
func ControlPointPayload(opcode uint8, changeCounter uint8, args ...byte) []byte {
	payload := make([]byte, 0, 2+len(args))
	payload = append(payload, opcode, changeCounter)
	return append(payload, args...)
}
