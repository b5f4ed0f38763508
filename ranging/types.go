// Package ranging implements a Ranging Service style client profile on top
// of the profile engine: feature discovery, real-time or on-demand
// segmented ranging data transfer, and vendor-specific characteristic
// handling.
package ranging

import (
	"fmt"
	"strings"

	"github.com/user/bluerange/gatt"
)

// Ranging Service UUIDs (16-bit assigned numbers)
var (
	UUIDRangingService         = gatt.UUID16(0x185B)
	UUIDFeatures               = gatt.UUID16(0x2C14)
	UUIDRealTimeRangingData    = gatt.UUID16(0x2C15)
	UUIDOnDemandRangingData    = gatt.UUID16(0x2C16)
	UUIDControlPoint           = gatt.UUID16(0x2C17)
	UUIDRangingDataReady       = gatt.UUID16(0x2C18)
	UUIDRangingDataOverwritten = gatt.UUID16(0x2C19)
)

// Remote feature bits (Features characteristic, little-endian uint32)
const (
	FeatureRealTimeRangingData      = 1 << 0
	FeatureRetrieveLostDataSegments = 1 << 1
	FeatureAbortOperation           = 1 << 2
	FeatureFilterRangingData        = 1 << 3
)

// Control point opcodes
const (
	OpcodeGetRangingData       = 0x00
	OpcodeAckRangingData       = 0x01
	OpcodeRetrieveLostSegments = 0x02
	OpcodeAbortOperation       = 0x03
	OpcodeSetFilter            = 0x04
)

// Control point event codes (first byte of a control point notification)
const (
	EventCompleteRangingDataResponse = 0x00
	EventCompleteLostSegmentResponse = 0x01
	EventResponseCode                = 0x02
)

const (
	// featureSize is the length of the Features characteristic value
	featureSize = 4
	// rangingCounterSize is the length of a data-ready notification
	rangingCounterSize = 2
)

// Semantic field names used in the attribute table
const (
	fieldFeatures        = "features"
	fieldControlPoint    = "control_point"
	fieldRealTimeData    = "real_time_data"
	fieldOnDemandData    = "on_demand_data"
	fieldDataReady       = "data_ready"
	fieldDataOverwritten = "data_overwritten"
)

// VendorSpecificCharacteristic is a characteristic inside the ranging
// service that is not part of the service definition. Its value is read at
// init time and replied to on request of the upper layer.
type VendorSpecificCharacteristic struct {
	UUID  []byte
	Value []byte
}

// SegmentIsFirst reports whether a data segment header marks the first
// segment of a transfer
func SegmentIsFirst(header byte) bool {
	return header&0x01 != 0
}

// SegmentIsLast reports whether a data segment header marks the final
// segment of a transfer
func SegmentIsLast(header byte) bool {
	return (header>>1)&0x01 != 0
}

// ControlPointValue builds a control point payload: opcode followed by the
// little-endian 16-bit ranging counter
func ControlPointValue(opcode uint8, rangingCounter uint16) []byte {
	return []byte{opcode, byte(rangingCounter & 0xFF), byte(rangingCounter >> 8)}
}

// FeaturesString renders remote feature bits for logging
func FeaturesString(value uint32) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d", value)
	if value == 0 {
		sb.WriteString("|No feature supported")
		return sb.String()
	}
	if value&FeatureRealTimeRangingData != 0 {
		sb.WriteString("|Real-time Ranging Data")
	}
	if value&FeatureRetrieveLostDataSegments != 0 {
		sb.WriteString("|Retrieve Lost Ranging Data Segments")
	}
	if value&FeatureAbortOperation != 0 {
		sb.WriteString("|Abort Operation")
	}
	if value&FeatureFilterRangingData != 0 {
		sb.WriteString("|Filter Ranging Data")
	}
	return sb.String()
}
