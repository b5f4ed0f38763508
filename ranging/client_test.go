package ranging_test

import (
	"encoding/binary"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/bluerange/config"
	"github.com/user/bluerange/fakegatt"
	"github.com/user/bluerange/gatt"
	"github.com/user/bluerange/profile"
	"github.com/user/bluerange/ranging"
)

const (
	peerAddress = "AA:BB:CC:DD:EE:01"

	featuresHandle     = 0x0012
	controlPointHandle = 0x0014
	controlPointCCC    = 0x0015
	realTimeHandle     = 0x0017
	realTimeCCC        = 0x0018
	onDemandHandle     = 0x001A
	onDemandCCC        = 0x001B
	dataReadyHandle    = 0x001D
	dataReadyCCC       = 0x001E
	overwrittenHandle  = 0x0020
	overwrittenCCC     = 0x0021
	vendorHandle       = 0x0023
)

var vendorUUID = gatt.UUID128(0xFF01)

type connectedEvent struct {
	realTimeHandle uint16
	vendorChars    []ranging.VendorSpecificCharacteristic
	connInterval   uint16
}

type recorder struct {
	mu        sync.Mutex
	ready     []string
	connected []connectedEvent
	data      [][]byte
	timeouts  int
	batches   []bool
	dropped   []string
}

func (r *recorder) OnDeviceReady(address, _ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ready = append(r.ready, address)
}

func (r *recorder) OnFieldChanged(string, string, []byte) {}

func (r *recorder) OnOperationTimeout(string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.timeouts++
}

func (r *recorder) OnWriteBatchComplete(_ string, allSucceeded bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, allSucceeded)
}

func (r *recorder) OnDisconnected(address string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dropped = append(r.dropped, address)
}

func (r *recorder) OnConnected(_ string, realTimeAttHandle uint16,
	vendorChars []ranging.VendorSpecificCharacteristic, connInterval uint16) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connected = append(r.connected, connectedEvent{
		realTimeHandle: realTimeAttHandle,
		vendorChars:    vendorChars,
		connInterval:   connInterval,
	})
}

func (r *recorder) OnRemoteData(_ string, data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data = append(r.data, append([]byte{}, data...))
}

func (r *recorder) timeoutCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.timeouts
}

func ccc(handle uint16) []gatt.Descriptor {
	return []gatt.Descriptor{{UUID: gatt.UUIDClientCharacteristicConfig, Handle: handle}}
}

func peerServices(withRealTime bool) []gatt.Service {
	chars := []gatt.Characteristic{
		{UUID: ranging.UUIDFeatures, ValueHandle: featuresHandle, Properties: gatt.PropRead},
		{UUID: ranging.UUIDControlPoint, ValueHandle: controlPointHandle,
			Properties:  gatt.PropWriteWithoutResponse | gatt.PropIndicate,
			Descriptors: ccc(controlPointCCC)},
		{UUID: ranging.UUIDOnDemandRangingData, ValueHandle: onDemandHandle,
			Properties: gatt.PropNotify, Descriptors: ccc(onDemandCCC)},
		{UUID: ranging.UUIDRangingDataReady, ValueHandle: dataReadyHandle,
			Properties: gatt.PropNotify, Descriptors: ccc(dataReadyCCC)},
		{UUID: ranging.UUIDRangingDataOverwritten, ValueHandle: overwrittenHandle,
			Properties: gatt.PropNotify, Descriptors: ccc(overwrittenCCC)},
		{UUID: vendorUUID, ValueHandle: vendorHandle,
			Properties: gatt.PropRead | gatt.PropWriteWithoutResponse},
	}
	if withRealTime {
		chars = append(chars, gatt.Characteristic{
			UUID: ranging.UUIDRealTimeRangingData, ValueHandle: realTimeHandle,
			Properties: gatt.PropNotify, Descriptors: ccc(realTimeCCC),
		})
	}
	return []gatt.Service{{
		UUID: ranging.UUIDRangingService, Handle: 0x0010, EndHandle: 0x002F,
		Characteristics: chars,
	}}
}

func featuresValue(bits uint32) []byte {
	value := make([]byte, 4)
	binary.LittleEndian.PutUint32(value, bits)
	return value
}

func newPeer(t *testing.T, cfg *config.Config, features uint32, withRealTime bool) (*fakegatt.Transport, *ranging.Client, *recorder) {
	t.Helper()
	transport := fakegatt.New()
	rec := &recorder{}
	client := ranging.NewClient(transport, rec, cfg)
	t.Cleanup(client.Stop)
	transport.Bind(client)

	transport.SetServices(peerAddress, peerServices(withRealTime))
	transport.SetValue(peerAddress, featuresHandle, featuresValue(features))
	transport.SetValue(peerAddress, vendorHandle, []byte{0xCA, 0xFE})
	return transport, client, rec
}

func drain(c *ranging.Client) {
	c.Engine().Queue().Sync(func() {})
}

func TestOnDemandConnectBecomesReady(t *testing.T) {
	transport, client, rec := newPeer(t, config.Default(), ranging.FeatureAbortOperation, false)

	require.NoError(t, client.Connect(peerAddress))
	drain(client)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.ready, 1)
	require.Len(t, rec.connected, 1)
	assert.Equal(t, gatt.InvalidHandle, rec.connected[0].realTimeHandle)
	require.Len(t, rec.connected[0].vendorChars, 1)
	assert.Equal(t, []byte{0xCA, 0xFE}, rec.connected[0].vendorChars[0].Value)

	// Subscribed to the on-demand stream plus the control point
	assert.True(t, transport.Registered(peerAddress, controlPointHandle))
	assert.True(t, transport.Registered(peerAddress, onDemandHandle))
	assert.True(t, transport.Registered(peerAddress, dataReadyHandle))
	assert.True(t, transport.Registered(peerAddress, overwrittenHandle))
}

func TestControlPointCCCSelectsIndications(t *testing.T) {
	transport, client, _ := newPeer(t, config.Default(), 0, false)

	require.NoError(t, client.Connect(peerAddress))
	drain(client)

	var cpValue, odValue []byte
	for _, w := range transport.DescriptorWrites() {
		switch w.Handle {
		case controlPointCCC:
			cpValue = w.Value
		case onDemandCCC:
			odValue = w.Value
		}
	}
	assert.Equal(t, gatt.EncodeCCCDValue(false, true), cpValue,
		"control point supports only indications")
	assert.Equal(t, gatt.EncodeCCCDValue(true, false), odValue)
}

func TestGetRangingDataControlPointPayload(t *testing.T) {
	transport, client, _ := newPeer(t, config.Default(), 0, false)

	require.NoError(t, client.Connect(peerAddress))
	require.NoError(t, transport.Notify(peerAddress, dataReadyHandle, []byte{0x02, 0x01}))
	drain(client)

	writes := transport.WritesTo(controlPointHandle)
	require.Len(t, writes, 1)
	assert.Equal(t, []byte{ranging.OpcodeGetRangingData, 0x02, 0x01}, writes[0].Value)
	assert.Equal(t, gatt.WriteNoResponse, writes[0].WriteType)
}

func TestSegmentedTransferDeliversDataAndAcks(t *testing.T) {
	transport, client, rec := newPeer(t, config.Default(), 0, false)

	require.NoError(t, client.Connect(peerAddress))
	transport.Notify(peerAddress, dataReadyHandle, []byte{0x42, 0x00})
	transport.Notify(peerAddress, onDemandHandle, []byte{0x01, 0xDE, 0xAD}) // first
	transport.Notify(peerAddress, onDemandHandle, []byte{0x00, 0xFE, 0xED}) // middle
	transport.Notify(peerAddress, onDemandHandle, []byte{0x02, 0xBE, 0xEF}) // last
	transport.Notify(peerAddress, controlPointHandle,
		[]byte{ranging.EventCompleteRangingDataResponse, 0x42, 0x00})
	drain(client)

	rec.mu.Lock()
	require.Len(t, rec.data, 3)
	assert.Equal(t, []byte{0x01, 0xDE, 0xAD}, rec.data[0])
	assert.Equal(t, []byte{0x02, 0xBE, 0xEF}, rec.data[2])
	rec.mu.Unlock()

	writes := transport.WritesTo(controlPointHandle)
	require.Len(t, writes, 2)
	assert.Equal(t, []byte{ranging.OpcodeGetRangingData, 0x42, 0x00}, writes[0].Value)
	assert.Equal(t, []byte{ranging.OpcodeAckRangingData, 0x42, 0x00}, writes[1].Value)

	// Transfer complete, nothing left armed
	assert.Equal(t, 0, client.Engine().Queue().PendingAlarms())
}

func TestAckRequestsNewerCounter(t *testing.T) {
	transport, client, _ := newPeer(t, config.Default(), 0, false)

	require.NoError(t, client.Connect(peerAddress))
	transport.Notify(peerAddress, dataReadyHandle, []byte{0x01, 0x00})
	// A newer counter arrives while the first transfer is in flight; the
	// in-flight guard must swallow it until the ack
	transport.Notify(peerAddress, dataReadyHandle, []byte{0x02, 0x00})
	transport.Notify(peerAddress, onDemandHandle, []byte{0x03, 0xAA})
	transport.Notify(peerAddress, controlPointHandle,
		[]byte{ranging.EventCompleteRangingDataResponse, 0x01, 0x00})
	drain(client)

	writes := transport.WritesTo(controlPointHandle)
	require.Len(t, writes, 3)
	assert.Equal(t, []byte{ranging.OpcodeGetRangingData, 0x01, 0x00}, writes[0].Value)
	assert.Equal(t, []byte{ranging.OpcodeAckRangingData, 0x01, 0x00}, writes[1].Value)
	assert.Equal(t, []byte{ranging.OpcodeGetRangingData, 0x02, 0x00}, writes[2].Value)
}

func TestFirstSegmentTimeoutAbortsOnDemand(t *testing.T) {
	cfg := config.Default()
	cfg.FirstSegmentTimeoutMs = 10
	transport, client, rec := newPeer(t, cfg, 0, false)

	require.NoError(t, client.Connect(peerAddress))
	transport.Notify(peerAddress, dataReadyHandle, []byte{0x42, 0x00})
	drain(client)

	require.Eventually(t, func() bool { return rec.timeoutCount() == 1 },
		time.Second, 5*time.Millisecond)
	drain(client)

	writes := transport.WritesTo(controlPointHandle)
	require.Len(t, writes, 2)
	assert.Equal(t, []byte{ranging.OpcodeAbortOperation}, writes[1].Value)
	assert.Equal(t, 0, client.Engine().Queue().PendingAlarms())

	// A later data-ready still starts a fresh procedure
	transport.Notify(peerAddress, dataReadyHandle, []byte{0x43, 0x00})
	transport.Notify(peerAddress, onDemandHandle, []byte{0x03, 0x11})
	drain(client)
	rec.mu.Lock()
	assert.Len(t, rec.data, 1)
	rec.mu.Unlock()
}

func TestRealTimeModeSubscribesAndRecoversFromTimeout(t *testing.T) {
	cfg := config.Default()
	cfg.FirstSegmentTimeoutMs = 10
	transport, client, rec := newPeer(t, cfg, ranging.FeatureRealTimeRangingData, true)

	require.NoError(t, client.Connect(peerAddress))
	drain(client)

	rec.mu.Lock()
	require.Len(t, rec.connected, 1)
	assert.Equal(t, uint16(realTimeHandle), rec.connected[0].realTimeHandle)
	rec.mu.Unlock()
	assert.True(t, transport.Registered(peerAddress, realTimeHandle))

	// No segment arrives: the stream is given up, not the link
	require.Eventually(t, func() bool { return rec.timeoutCount() == 1 },
		time.Second, 5*time.Millisecond)
	drain(client)
	assert.False(t, transport.Registered(peerAddress, realTimeHandle))
	assert.Equal(t, 0, client.Engine().Queue().PendingAlarms())
	rec.mu.Lock()
	assert.Empty(t, rec.dropped)
	rec.mu.Unlock()

	// Connecting again against the live session re-subscribes the stream
	require.NoError(t, client.Connect(peerAddress))
	drain(client)
	assert.True(t, transport.Registered(peerAddress, realTimeHandle))
	rec.mu.Lock()
	assert.Len(t, rec.connected, 2)
	rec.mu.Unlock()

	transport.Notify(peerAddress, realTimeHandle, []byte{0x03, 0x55})
	drain(client)
	rec.mu.Lock()
	require.Len(t, rec.data, 1)
	assert.Equal(t, []byte{0x03, 0x55}, rec.data[0])
	rec.mu.Unlock()
}

func TestReconnectUsesCachedVendorData(t *testing.T) {
	transport, client, rec := newPeer(t, config.Default(), 0, false)

	require.NoError(t, client.Connect(peerAddress))
	drain(client)
	client.Disconnect(peerAddress)
	drain(client)

	// Change the remote's value; a cached reconnect must report the value
	// read on the first connection, proving no re-read happened
	transport.SetValue(peerAddress, vendorHandle, []byte{0x99, 0x99})
	require.NoError(t, client.Connect(peerAddress))
	drain(client)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.connected, 2)
	assert.Equal(t, []byte{0xCA, 0xFE}, rec.connected[1].vendorChars[0].Value)
}

func TestVendorReplyBatchCompletion(t *testing.T) {
	transport, client, rec := newPeer(t, config.Default(), 0, false)

	require.NoError(t, client.Connect(peerAddress))
	client.SendVendorSpecificReply(peerAddress, []ranging.VendorSpecificCharacteristic{
		{UUID: vendorUUID, Value: []byte{0x00, 0x01}},
	})
	drain(client)

	rec.mu.Lock()
	require.Equal(t, []bool{true}, rec.batches)
	rec.mu.Unlock()

	writes := transport.WritesTo(vendorHandle)
	require.Len(t, writes, 1)
	assert.Equal(t, []byte{0x00, 0x01}, writes[0].Value)
}

func TestVendorReplyBatchReportsFailure(t *testing.T) {
	transport, client, rec := newPeer(t, config.Default(), 0, false)
	transport.FailWrite(vendorHandle, errors.New("congested"))

	require.NoError(t, client.Connect(peerAddress))
	client.SendVendorSpecificReply(peerAddress, []ranging.VendorSpecificCharacteristic{
		{UUID: vendorUUID, Value: []byte{0x00}},
	})
	drain(client)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, []bool{false}, rec.batches)
}

func TestVendorReplyAfterFailedConnectIsDropped(t *testing.T) {
	transport, client, rec := newPeer(t, config.Default(), 0, false)
	transport.FailConnect(peerAddress, errors.New("page timeout"))

	require.NoError(t, client.Connect(peerAddress))
	drain(client)

	rec.mu.Lock()
	assert.Equal(t, []string{peerAddress}, rec.dropped)
	rec.mu.Unlock()
	assert.Equal(t, profile.StateDisconnected, client.Engine().State(peerAddress))

	// The failed attempt left no device state behind for the reply to trip
	// over; it is dropped, not crashed on
	client.SendVendorSpecificReply(peerAddress, []ranging.VendorSpecificCharacteristic{
		{UUID: vendorUUID, Value: []byte{0x00}},
	})
	drain(client)

	assert.Empty(t, transport.WritesTo(vendorHandle))
	rec.mu.Lock()
	assert.Empty(t, rec.batches)
	rec.mu.Unlock()
}

func TestVendorReplyBeforeReadyIsDropped(t *testing.T) {
	transport := fakegatt.New()
	rec := &recorder{}
	client := ranging.NewClient(transport, rec, config.Default())
	t.Cleanup(client.Stop)
	transport.Bind(client)

	// No scripted features value: the device hangs in initializing
	transport.SetServices(peerAddress, peerServices(false))
	transport.SetValue(peerAddress, vendorHandle, []byte{0x01})

	require.NoError(t, client.Connect(peerAddress))
	drain(client)
	require.Equal(t, profile.StateInitializing, client.Engine().State(peerAddress))
	transport.ClearWrites()

	client.SendVendorSpecificReply(peerAddress, []ranging.VendorSpecificCharacteristic{
		{UUID: vendorUUID, Value: []byte{0x00}},
	})
	drain(client)

	assert.Empty(t, transport.WritesTo(vendorHandle))
	rec.mu.Lock()
	assert.Empty(t, rec.batches)
	rec.mu.Unlock()
}

func TestMissingFeaturesReadKeepsDeviceNotReady(t *testing.T) {
	transport := fakegatt.New()
	rec := &recorder{}
	client := ranging.NewClient(transport, rec, config.Default())
	t.Cleanup(client.Stop)
	transport.Bind(client)

	// No scripted features value: the read fails like an invalid handle
	transport.SetServices(peerAddress, peerServices(false))
	transport.SetValue(peerAddress, vendorHandle, []byte{0x01})

	require.NoError(t, client.Connect(peerAddress))
	drain(client)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Empty(t, rec.ready)
	assert.Empty(t, rec.connected)
	assert.Equal(t, profile.StateInitializing, client.Engine().State(peerAddress))
}

func TestDisconnectCancelsTimersAndReleases(t *testing.T) {
	transport, client, rec := newPeer(t, config.Default(), 0, false)

	require.NoError(t, client.Connect(peerAddress))
	transport.Notify(peerAddress, dataReadyHandle, []byte{0x42, 0x00})
	drain(client)
	// A get-data procedure is outstanding with its first-segment alarm armed
	assert.Equal(t, 1, client.Engine().Queue().PendingAlarms())

	client.Disconnect(peerAddress)
	drain(client)

	assert.Equal(t, 0, client.Engine().Queue().PendingAlarms())
	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, []string{peerAddress}, rec.dropped)
}
