package volume

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/bluerange/gatt"
)

func offsetService(handle uint16) *gatt.Service {
	base := handle + 2
	return &gatt.Service{
		UUID:   UUIDVolumeOffsetService,
		Handle: handle,
		Characteristics: []gatt.Characteristic{
			{UUID: UUIDOffsetState, ValueHandle: base,
				Properties: gatt.PropRead | gatt.PropNotify,
				Descriptors: []gatt.Descriptor{
					{UUID: gatt.UUIDClientCharacteristicConfig, Handle: base + 1},
				}},
			{UUID: UUIDOffsetControlPoint, ValueHandle: base + 3, Properties: gatt.PropWrite},
			{UUID: UUIDAudioOutputDescription, ValueHandle: base + 5,
				Properties: gatt.PropRead | gatt.PropWriteWithoutResponse},
		},
	}
}

func inputService(handle uint16) *gatt.Service {
	base := handle + 2
	return &gatt.Service{
		UUID:   UUIDAudioInputService,
		Handle: handle,
		Characteristics: []gatt.Characteristic{
			{UUID: UUIDInputState, ValueHandle: base,
				Properties: gatt.PropRead | gatt.PropNotify,
				Descriptors: []gatt.Descriptor{
					{UUID: gatt.UUIDClientCharacteristicConfig, Handle: base + 1},
				}},
			{UUID: UUIDGainSettingProperties, ValueHandle: base + 3, Properties: gatt.PropRead},
			{UUID: UUIDInputType, ValueHandle: base + 5, Properties: gatt.PropRead},
			{UUID: UUIDInputStatus, ValueHandle: base + 7, Properties: gatt.PropRead},
			{UUID: UUIDInputControlPoint, ValueHandle: base + 9, Properties: gatt.PropWrite},
		},
	}
}

func TestVolumeOffsetsIDsAreOneBased(t *testing.T) {
	var vo VolumeOffsets
	vo.Add("test", offsetService(0x0040))
	vo.Add("test", offsetService(0x0050))

	require.Equal(t, 2, vo.Size())
	assert.NotNil(t, vo.FindByID(1))
	assert.NotNil(t, vo.FindByID(2))
	assert.Nil(t, vo.FindByID(0))
}

func TestVolumeOffsetsAddIsIdempotent(t *testing.T) {
	var vo VolumeOffsets
	vo.Add("test", offsetService(0x0040))
	vo.Add("test", offsetService(0x0040))

	assert.Equal(t, 1, vo.Size())
}

func TestVolumeOffsetsRemoveUnknownIsNoop(t *testing.T) {
	var vo VolumeOffsets
	vo.Add("test", offsetService(0x0040))

	vo.Remove(0x9999)
	assert.Equal(t, 1, vo.Size())
	vo.Remove(0x0040)
	assert.Equal(t, 0, vo.Size())
	vo.Remove(0x0040)
	assert.Equal(t, 0, vo.Size())
}

func TestVolumeOffsetsRejectsInstanceMissingMandatory(t *testing.T) {
	svc := offsetService(0x0040)
	svc.Characteristics = svc.Characteristics[:1] // drop the control point

	var vo VolumeOffsets
	vo.Add("test", svc)
	assert.Equal(t, 0, vo.Size())
}

func TestVolumeOffsetsFindByValueHandle(t *testing.T) {
	var vo VolumeOffsets
	vo.Add("test", offsetService(0x0040))

	offset, name := vo.FindByValueHandle(0x0042)
	require.NotNil(t, offset)
	assert.Equal(t, fieldOffsetState, name)
	assert.Equal(t, uint8(1), offset.ID)
	assert.True(t, offset.DescriptionWritable)

	offset, _ = vo.FindByValueHandle(0x9999)
	assert.Nil(t, offset)
}

func TestVolumeAudioInputsIDsAreZeroBased(t *testing.T) {
	var vi VolumeAudioInputs
	vi.Add("test", inputService(0x0050))
	vi.Add("test", inputService(0x0060))

	require.Equal(t, 2, vi.Size())
	assert.NotNil(t, vi.FindByID(0))
	assert.NotNil(t, vi.FindByID(1))
	assert.Nil(t, vi.FindByID(2))
}

func TestVolumeAudioInputsAddIsIdempotent(t *testing.T) {
	var vi VolumeAudioInputs
	vi.Add("test", inputService(0x0050))
	vi.Add("test", inputService(0x0050))

	assert.Equal(t, 1, vi.Size())
	assert.Equal(t, uint16(0x0050), vi.FindByID(0).ServiceHandle)
}

func TestVolumeAudioInputsClear(t *testing.T) {
	var vi VolumeAudioInputs
	vi.Add("test", inputService(0x0050))
	vi.Clear()
	assert.Equal(t, 0, vi.Size())
	assert.Nil(t, vi.FindByServiceHandle(0x0050))
}
