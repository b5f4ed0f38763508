package gatt

import "encoding/binary"

// CCCD (Client Characteristic Configuration Descriptor) values, written by
// clients to enable/disable notifications and indications
const (
	CCCDNotificationsDisabled = 0x0000
	CCCDNotificationsEnabled  = 0x0001
	CCCDIndicationsEnabled    = 0x0002
	CCCDBothEnabled           = 0x0003
)

// EncodeCCCDValue converts subscription flags to CCCD value bytes
// (little-endian)
func EncodeCCCDValue(notifyEnabled, indicateEnabled bool) []byte {
	var value uint16
	if notifyEnabled {
		value |= CCCDNotificationsEnabled
	}
	if indicateEnabled {
		value |= CCCDIndicationsEnabled
	}

	cccdValue := make([]byte, 2)
	binary.LittleEndian.PutUint16(cccdValue, value)
	return cccdValue
}

// DecodeCCCDValue parses CCCD value bytes to notification/indication flags
func DecodeCCCDValue(cccdValue []byte) (notifyEnabled, indicateEnabled bool, err error) {
	if len(cccdValue) != 2 {
		return false, false, ErrInvalidAttributeValueLength
	}

	value := binary.LittleEndian.Uint16(cccdValue)
	notifyEnabled = (value & CCCDNotificationsEnabled) != 0
	indicateEnabled = (value & CCCDIndicationsEnabled) != 0

	return notifyEnabled, indicateEnabled, nil
}

// Error represents a GATT/ATT protocol error
type Error struct {
	Code        uint8
	Description string
}

func (e *Error) Error() string {
	return e.Description
}

// ATT error codes surfaced by this layer
var (
	ErrInvalidHandle               = &Error{Code: 0x01, Description: "Invalid Handle"}
	ErrInvalidAttributeValueLength = &Error{Code: 0x0D, Description: "Invalid Attribute Value Length"}
)
