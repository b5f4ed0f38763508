package profile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/bluerange/gatt"
)

var (
	testServiceUUID = gatt.UUID16(0x1800)
	testStateUUID   = gatt.UUID16(0x2A00)
	testCPUUID      = gatt.UUID16(0x2A01)
	testExtraUUID   = gatt.UUID16(0x2A02)
)

func testSpecs() []FieldSpec {
	return []FieldSpec{
		{Name: "state", UUID: testStateUUID, Mandatory: true, Configurable: true, RequireCCC: true},
		{Name: "control_point", UUID: testCPUUID, Mandatory: true},
		{Name: "extra", UUID: testExtraUUID, Configurable: true},
	}
}

func testService() *gatt.Service {
	return &gatt.Service{
		UUID:   testServiceUUID,
		Handle: 0x0010,
		Characteristics: []gatt.Characteristic{
			{UUID: testStateUUID, ValueHandle: 0x0012,
				Properties: gatt.PropRead | gatt.PropNotify,
				Descriptors: []gatt.Descriptor{
					{UUID: gatt.UUIDClientCharacteristicConfig, Handle: 0x0013},
				}},
			{UUID: testCPUUID, ValueHandle: 0x0015,
				Properties: gatt.PropWriteWithoutResponse},
		},
	}
}

func TestBuildAttributeTableResolvesFields(t *testing.T) {
	table, ok := BuildAttributeTable("test", testService(), testSpecs())
	require.True(t, ok)
	require.NotNil(t, table)
	assert.Equal(t, uint16(0x0010), table.ServiceHandle)

	state, found := table.Field("state")
	require.True(t, found)
	assert.Equal(t, uint16(0x0012), state.ValueHandle)
	assert.Equal(t, uint16(0x0013), state.CCCHandle)
	assert.False(t, state.Writable)

	cp, found := table.Field("control_point")
	require.True(t, found)
	assert.Equal(t, uint16(0x0015), cp.ValueHandle)
	assert.True(t, cp.Writable)

	// Optional field absent: table still valid
	assert.Equal(t, gatt.InvalidHandle, table.ValueHandle("extra"))
	assert.Equal(t, 2, table.Len())
}

func TestBuildAttributeTableMissingMandatoryField(t *testing.T) {
	svc := testService()
	svc.Characteristics = svc.Characteristics[:1] // drop the control point

	table, ok := BuildAttributeTable("test", svc, testSpecs())
	assert.False(t, ok)
	assert.Nil(t, table)
}

func TestBuildAttributeTableMissingMandatoryCCC(t *testing.T) {
	svc := testService()
	svc.Characteristics[0].Descriptors = nil

	table, ok := BuildAttributeTable("test", svc, testSpecs())
	assert.False(t, ok)
	assert.Nil(t, table)
}

func TestBuildAttributeTableIgnoresUnknownCharacteristics(t *testing.T) {
	svc := testService()
	svc.Characteristics = append(svc.Characteristics, gatt.Characteristic{
		UUID: gatt.UUID16(0x2AFF), ValueHandle: 0x0020, Properties: gatt.PropRead,
	})

	table, ok := BuildAttributeTable("test", svc, testSpecs())
	require.True(t, ok)
	assert.Equal(t, 2, table.Len())

	_, _, found := table.FieldByHandle(0x0020)
	assert.False(t, found)
}

func TestFieldByHandleRoutesBack(t *testing.T) {
	table, ok := BuildAttributeTable("test", testService(), testSpecs())
	require.True(t, ok)

	name, handles, found := table.FieldByHandle(0x0012)
	require.True(t, found)
	assert.Equal(t, "state", name)
	assert.Equal(t, uint16(0x0013), handles.CCCHandle)

	_, _, found = table.FieldByHandle(0x9999)
	assert.False(t, found)
}
