package ranging

import (
	"encoding/binary"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/user/bluerange/config"
	"github.com/user/bluerange/gatt"
	"github.com/user/bluerange/logger"
	"github.com/user/bluerange/profile"
)

// Callbacks extends the generic profile callbacks with the ranging data
// stream. All methods run on the engine queue.
type Callbacks interface {
	profile.Callbacks

	// OnConnected fires when the remote is ready for ranging; the real-time
	// attribute handle is InvalidHandle when the remote has no real-time
	// characteristic
	OnConnected(address string, realTimeAttHandle uint16,
		vendorChars []VendorSpecificCharacteristic, connInterval uint16)

	// OnRemoteData delivers one raw ranging data segment
	OnRemoteData(address string, data []byte)
}

// Client is the ranging profile client. One instance serves all remote
// devices; per-device state lives in device sessions created on connect.
type Client struct {
	engine    *profile.Client
	callbacks Callbacks
	cfg       *config.Config
	registry  *profile.CommandRegistry
	devices   map[string]*deviceSession // owned by the engine queue
}

// NewClient creates a ranging client over the given transport
func NewClient(transport profile.Transport, callbacks Callbacks, cfg *config.Config) *Client {
	c := &Client{
		callbacks: callbacks,
		cfg:       cfg,
		registry:  profile.NewCommandRegistry(),
		devices:   make(map[string]*deviceSession),
	}
	c.engine = profile.NewClient("RAS", transport, callbacks, cfg,
		func(s *profile.Session) profile.Hooks {
			return newDeviceSession(c, s)
		})
	return c
}

// Engine exposes the underlying profile client for transport integration
// and tests
func (c *Client) Engine() *profile.Client { return c.engine }

// Connect initiates a ranging connection to the given address
func (c *Client) Connect(address string) error { return c.engine.Connect(address) }

// Disconnect tears down the ranging connection
func (c *Client) Disconnect(address string) { c.engine.Disconnect(address) }

// Stop releases all sessions and stops the engine
func (c *Client) Stop() { c.engine.Stop() }

// HandleConnected forwards a transport connect confirmation
func (c *Client) HandleConnected(address string, connID uint16, err error) {
	c.engine.HandleConnected(address, connID, err)
}

// HandleDisconnected forwards a transport link loss
func (c *Client) HandleDisconnected(connID uint16) {
	c.engine.HandleDisconnected(connID)
}

// HandleNotification forwards an incoming notification
func (c *Client) HandleNotification(connID uint16, handle uint16, value []byte) {
	c.engine.HandleNotification(connID, handle, value)
}

// HandleConnIntervalUpdated forwards a connection parameter update
func (c *Client) HandleConnIntervalUpdated(connID uint16, interval uint16) {
	c.engine.HandleConnIntervalUpdated(connID, interval)
}

// SendVendorSpecificReply writes the given vendor characteristic values to
// the remote. The batch completion is reported once via
// OnWriteBatchComplete with an all-succeeded flag.
func (c *Client) SendVendorSpecificReply(address string, replies []VendorSpecificCharacteristic) {
	c.engine.Queue().Post(func() {
		device, ok := c.devices[address]
		if !ok {
			logger.Warn("RAS", "vendor reply for unknown device %s", address)
			return
		}
		device.sendVendorSpecificReply(replies)
	})
}

// deviceSession is the per-remote ranging state plugged into the generic
// session as its Hooks implementation.
type deviceSession struct {
	client      *Client
	s           *profile.Session
	table       *profile.AttributeTable
	vendorChars []VendorSpecificCharacteristic
	features    uint32
}

var rangingFieldSpecs = []profile.FieldSpec{
	{Name: fieldFeatures, UUID: UUIDFeatures, Mandatory: true},
	{Name: fieldControlPoint, UUID: UUIDControlPoint, Mandatory: true, Configurable: true, RequireCCC: true},
	{Name: fieldRealTimeData, UUID: UUIDRealTimeRangingData, Configurable: true},
	{Name: fieldOnDemandData, UUID: UUIDOnDemandRangingData, Configurable: true},
	{Name: fieldDataReady, UUID: UUIDRangingDataReady, Configurable: true},
	{Name: fieldDataOverwritten, UUID: UUIDRangingDataOverwritten, Configurable: true},
}

func newDeviceSession(c *Client, s *profile.Session) *deviceSession {
	d := &deviceSession{client: c, s: s}
	c.devices[s.Address()] = d
	return d
}

func (d *deviceSession) ServiceUUID() []byte { return UUIDRangingService }

func (d *deviceSession) OnServiceResolved(svc *gatt.Service) bool {
	table, ok := profile.BuildAttributeTable(d.s.Prefix(), svc, rangingFieldSpecs)
	if !ok {
		return false
	}
	d.table = table
	d.listVendorCharacteristics(svc)
	return true
}

// listVendorCharacteristics enumerates every characteristic of the service
// that is not part of the ranging service definition. Rebuilt wholesale per
// discovery pass.
func (d *deviceSession) listVendorCharacteristics(svc *gatt.Service) {
	d.vendorChars = d.vendorChars[:0]
	for i := range svc.Characteristics {
		chrc := &svc.Characteristics[i]
		if isRangingServiceCharacteristic(chrc.UUID) {
			continue
		}
		logger.Info(d.s.Prefix(), "vendor specific characteristic uuid=%s handle=0x%04x",
			gatt.Key(chrc.UUID), chrc.ValueHandle)
		d.vendorChars = append(d.vendorChars, VendorSpecificCharacteristic{
			UUID: append([]byte{}, chrc.UUID...),
		})
	}
}

func isRangingServiceCharacteristic(uuid []byte) bool {
	for _, known := range [][]byte{
		UUIDFeatures, UUIDRealTimeRangingData, UUIDOnDemandRangingData,
		UUIDControlPoint, UUIDRangingDataReady, UUIDRangingDataOverwritten,
	} {
		if gatt.Equal(uuid, known) {
			return true
		}
	}
	return false
}

// UseCachedData loads features and vendor values from a cache entry when it
// covers every vendor characteristic of this remote.
func (d *deviceSession) UseCachedData(data *profile.CachedDeviceData) bool {
	for i := range d.vendorChars {
		value, ok := data.VendorData[gatt.Key(d.vendorChars[i].UUID)]
		if !ok {
			return false
		}
		d.vendorChars[i].Value = append([]byte{}, value...)
	}
	d.features = data.Features
	return true
}

// StartInit subscribes the control point and, unless the cached fast path
// applies, reads every vendor characteristic followed by the features
// characteristic. The features read carries the is-last marker; its
// completion drives the transition to ready.
func (d *deviceSession) StartInit(fastPath bool) {
	cp, _ := d.table.Field(fieldControlPoint)
	d.s.Subscriptions().Subscribe(cp, nil)

	if fastPath {
		d.allReadsComplete()
		return
	}

	for i := range d.vendorChars {
		chrc := d.s.Service().FindCharacteristicByUUID(d.vendorChars[i].UUID)
		logger.Debug(d.s.Prefix(), "read vendor specific characteristic uuid=%s",
			gatt.Key(d.vendorChars[i].UUID))
		d.readCharacteristic(chrc.ValueHandle, false)
	}

	logger.Info(d.s.Prefix(), "read ranging features")
	features, _ := d.table.Field(fieldFeatures)
	d.readCharacteristic(features.ValueHandle, true)
}

func (d *deviceSession) readCharacteristic(handle uint16, isLast bool) {
	err := d.s.Transport().ReadCharacteristic(d.s.ConnID(), handle,
		func(_ uint16, handle uint16, value []byte, err error) {
			d.onReadComplete(handle, value, err, isLast)
		})
	if err != nil {
		logger.Error(d.s.Prefix(), "read handle=0x%04x failed: %v", handle, err)
	}
}

func (d *deviceSession) onReadComplete(handle uint16, value []byte, err error, isLast bool) {
	if err != nil {
		logger.Error(d.s.Prefix(), "read handle=0x%04x failed: %v", handle, err)
		return
	}

	chrc := d.s.Service().FindCharacteristicByHandle(handle)
	if chrc == nil {
		logger.Warn(d.s.Prefix(), "read response for unknown handle=0x%04x", handle)
		return
	}

	if vendor := d.findVendorCharacteristic(chrc.UUID); vendor != nil {
		logger.Info(d.s.Prefix(), "update vendor specific data uuid=%s", gatt.Key(chrc.UUID))
		vendor.Value = append([]byte{}, value...)
	} else if gatt.Equal(chrc.UUID, UUIDFeatures) {
		if len(value) != featureSize {
			logger.Error(d.s.Prefix(), "invalid length %d for ranging features", len(value))
			return
		}
		d.features = binary.LittleEndian.Uint32(value)
		logger.Info(d.s.Prefix(), "remote supported features: %s", FeaturesString(d.features))
	} else {
		logger.Warn(d.s.Prefix(), "unexpected read response uuid=%s", gatt.Key(chrc.UUID))
	}

	if isLast {
		d.storeCachedData()
		d.allReadsComplete()
	}
}

func (d *deviceSession) findVendorCharacteristic(uuid []byte) *VendorSpecificCharacteristic {
	for i := range d.vendorChars {
		if gatt.Equal(d.vendorChars[i].UUID, uuid) {
			return &d.vendorChars[i]
		}
	}
	return nil
}

func (d *deviceSession) storeCachedData() {
	vendorData := make(map[string][]byte, len(d.vendorChars))
	for i := range d.vendorChars {
		vendorData[gatt.Key(d.vendorChars[i].UUID)] = d.vendorChars[i].Value
	}
	d.s.Cache().Store(d.s.Address(), d.features, vendorData)
}

// allReadsComplete chooses the transfer mode from the remote feature bits,
// subscribes the mode-specific characteristics and arms the first timeout.
func (d *deviceSession) allReadsComplete() {
	tracker := d.s.Tracker()
	cfg := d.client.cfg

	if d.features&FeatureRealTimeRangingData != 0 {
		logger.Info(d.s.Prefix(), "subscribe real-time ranging data")
		tracker.SetMode(profile.ModeRealTime)
		d.subscribeField(fieldRealTimeData)
		tracker.ArmTimeout(profile.TimeoutFirstSegment, cfg.FirstSegmentTimeout(), d.onTimeout)
	} else {
		logger.Info(d.s.Prefix(), "subscribe on-demand ranging data")
		tracker.SetMode(profile.ModeOnDemand)
		d.subscribeField(fieldOnDemandData)
		d.subscribeField(fieldDataReady)
		d.subscribeField(fieldDataOverwritten)
		tracker.ArmTimeout(profile.TimeoutDataReady, cfg.DataReadyTimeout(), d.onTimeout)
	}

	if snapshot, err := structpb.NewStruct(map[string]interface{}{
		"features":     FeaturesString(d.features),
		"vendor_chars": len(d.vendorChars),
		"real_time":    d.features&FeatureRealTimeRangingData != 0,
	}); err == nil {
		logger.DebugJSON(d.s.Prefix(), "ranging session", snapshot)
	}

	d.client.callbacks.OnConnected(d.s.Address(), d.realTimeHandle(), d.vendorChars,
		d.s.ConnInterval())
	d.s.MarkReady()
}

func (d *deviceSession) subscribeField(name string) {
	handles, ok := d.table.Field(name)
	if !ok || !gatt.HandleValid(handles.CCCHandle) {
		logger.Warn(d.s.Prefix(), "cannot subscribe %s, missing handle or CCC", name)
		return
	}
	d.s.Subscriptions().Subscribe(handles, nil)
}

func (d *deviceSession) realTimeHandle() uint16 {
	return d.table.ValueHandle(fieldRealTimeData)
}

func (d *deviceSession) OnNotification(handle uint16, value []byte) {
	if d.table == nil {
		logger.Warn(d.s.Prefix(), "notification before handles resolved, handle=0x%04x", handle)
		return
	}
	name, _, ok := d.table.FieldByHandle(handle)
	if !ok {
		logger.Warn(d.s.Prefix(), "notification for unknown handle=0x%04x", handle)
		return
	}
	logger.Debug(d.s.Prefix(), "notification %s, size %d", name, len(value))

	switch name {
	case fieldRealTimeData, fieldOnDemandData:
		d.onRemoteData(value)
	case fieldControlPoint:
		d.onControlPointEvent(value)
	case fieldDataReady:
		d.onDataReady(value)
	case fieldDataOverwritten:
		logger.Debug(d.s.Prefix(), "ranging data overwritten")
	default:
		logger.Warn(d.s.Prefix(), "unexpected notification field %s", name)
	}
}

// onRemoteData handles one data segment: cancel the running timeout and
// re-arm the shorter following-segment timeout unless the segment carries
// the last marker.
func (d *deviceSession) onRemoteData(value []byte) {
	if len(value) == 0 {
		logger.Warn(d.s.Prefix(), "empty ranging data segment")
		return
	}

	tracker := d.s.Tracker()
	tracker.CancelTimeout()
	if !SegmentIsLast(value[0]) {
		tracker.ArmTimeout(profile.TimeoutFollowingSegment,
			d.client.cfg.FollowingSegmentTimeout(), d.onTimeout)
	}
	d.client.callbacks.OnRemoteData(d.s.Address(), value)
}

func (d *deviceSession) onControlPointEvent(value []byte) {
	if len(value) == 0 {
		return
	}
	switch value[0] {
	case EventCompleteRangingDataResponse:
		if len(value) < 3 {
			logger.Error(d.s.Prefix(), "short complete-data response")
			return
		}
		counter := binary.LittleEndian.Uint16(value[1:3])
		logger.Debug(d.s.Prefix(), "complete ranging data response, counter %d", counter)
		d.ackRangingData(counter)
	case EventResponseCode:
		d.s.Tracker().SetBusy(false)
		if len(value) >= 2 {
			logger.Debug(d.s.Prefix(), "response code 0x%02x", value[1])
		}
	default:
		logger.Warn(d.s.Prefix(), "unexpected event code 0x%02x", value[0])
	}
}

func (d *deviceSession) onDataReady(value []byte) {
	if len(value) != rangingCounterSize {
		logger.Error(d.s.Prefix(), "invalid length for ranging data ready")
		return
	}
	counter := binary.LittleEndian.Uint16(value)
	logger.Debug(d.s.Prefix(), "ranging data ready, counter %d", counter)

	tracker := d.s.Tracker()
	tracker.SetLatestCounter(counter)
	if tracker.TimeoutKind() == profile.TimeoutDataReady {
		tracker.CancelTimeout()
	}
	d.getRangingData(counter)
}

func (d *deviceSession) getRangingData(counter uint16) {
	tracker := d.s.Tracker()
	if tracker.Busy() {
		logger.Warn(d.s.Prefix(), "handling other procedure, skip")
		return
	}

	cp, _ := d.table.Field(fieldControlPoint)
	tracker.SetBusy(true)
	d.writeControlPoint(cp.ValueHandle, ControlPointValue(OpcodeGetRangingData, counter))
	tracker.ArmTimeout(profile.TimeoutFirstSegment,
		d.client.cfg.FirstSegmentTimeout(), d.onTimeout)
}

// ackRangingData acknowledges a completed transfer. When a newer counter
// arrived mid-transfer, a get-data request for it goes out immediately so
// the update is not lost.
func (d *deviceSession) ackRangingData(counter uint16) {
	tracker := d.s.Tracker()
	cp, _ := d.table.Field(fieldControlPoint)

	tracker.SetBusy(false)
	d.writeControlPoint(cp.ValueHandle, ControlPointValue(OpcodeAckRangingData, counter))
	if counter != tracker.LatestCounter() {
		d.getRangingData(tracker.LatestCounter())
	}
}

func (d *deviceSession) abortOperation() {
	cp, _ := d.table.Field(fieldControlPoint)
	d.s.Tracker().SetBusy(false)
	d.writeControlPoint(cp.ValueHandle, []byte{OpcodeAbortOperation})
}

func (d *deviceSession) writeControlPoint(handle uint16, value []byte) {
	err := d.s.Transport().WriteCharacteristic(d.s.ConnID(), handle, value,
		gatt.WriteNoResponse, func(_ uint16, handle uint16, err error) {
			if err != nil {
				logger.Error(d.s.Prefix(), "control point write handle=0x%04x failed: %v",
					handle, err)
				d.s.Tracker().SetBusy(false)
			}
		})
	if err != nil {
		logger.Error(d.s.Prefix(), "control point write failed: %v", err)
		d.s.Tracker().SetBusy(false)
	}
}

// onTimeout runs the recovery action for a stalled transfer: real-time mode
// gives up its stream, on-demand mode aborts the procedure. The link stays
// up; the upper layer is told either way.
func (d *deviceSession) onTimeout(kind profile.TimeoutKind) {
	tracker := d.s.Tracker()

	switch kind {
	case profile.TimeoutFirstSegment, profile.TimeoutFollowingSegment:
		if tracker.Mode() == profile.ModeRealTime {
			logger.Error(d.s.Prefix(), "timeout waiting for %s of real-time ranging data", kind)
			if handles, ok := d.table.Field(fieldRealTimeData); ok {
				d.s.Subscriptions().Unsubscribe(handles)
			}
			tracker.SetMode(profile.ModeNone)
		} else {
			logger.Error(d.s.Prefix(), "timeout waiting for %s of on-demand ranging data", kind)
			d.abortOperation()
		}
	case profile.TimeoutDataReady:
		logger.Error(d.s.Prefix(), "timeout waiting for ranging data ready")
	default:
		logger.Error(d.s.Prefix(), "unexpected timeout kind %d", kind)
		return
	}

	d.client.callbacks.OnOperationTimeout(d.s.Address())
}

func (d *deviceSession) Capabilities() string {
	return FeaturesString(d.features)
}

// OnReconnectRequest re-subscribes the real-time stream when a previous
// timeout reset the mode, then reports the live connection upward.
func (d *deviceSession) OnReconnectRequest() {
	if d.table == nil {
		return
	}
	tracker := d.s.Tracker()
	if handles, ok := d.table.Field(fieldRealTimeData); ok && tracker.Mode() == profile.ModeNone {
		tracker.SetMode(profile.ModeRealTime)
		d.s.Subscriptions().Subscribe(handles, nil)
		tracker.ArmTimeout(profile.TimeoutFirstSegment,
			d.client.cfg.FirstSegmentTimeout(), d.onTimeout)
	}
	d.client.callbacks.OnConnected(d.s.Address(), d.realTimeHandle(), d.vendorChars,
		d.s.ConnInterval())
}

// OnRelease deregisters every notification this session registered and
// forgets the device. Alarms were already cancelled by the session.
func (d *deviceSession) OnRelease() {
	delete(d.client.devices, d.s.Address())
	if d.table == nil {
		return
	}
	for _, name := range []string{
		fieldControlPoint, fieldRealTimeData, fieldOnDemandData,
		fieldDataReady, fieldDataOverwritten,
	} {
		if handles, ok := d.table.Field(name); ok {
			d.s.Subscriptions().Deregister(handles.ValueHandle)
		}
	}
}

// sendVendorSpecificReply writes each reply and accounts completions; the
// batch result fires once when every expected completion arrived, in any
// order.
func (d *deviceSession) sendVendorSpecificReply(replies []VendorSpecificCharacteristic) {
	if !d.s.Ready() {
		logger.Warn(d.s.Prefix(), "vendor reply before device ready, dropped")
		return
	}
	total := len(d.vendorChars)

	for _, reply := range replies {
		chrc := d.s.Service().FindCharacteristicByUUID(reply.UUID)
		if chrc == nil {
			logger.Warn(d.s.Prefix(), "cannot find characteristic uuid=%s", gatt.Key(reply.UUID))
			return
		}

		identity := gatt.Key(reply.UUID)
		token := d.client.registry.Register(identity, func(_ []byte, err error) {
			if err != nil {
				logger.Error(d.s.Prefix(), "vendor reply write uuid=%s failed: %v", identity, err)
			}
			done, allSucceeded := d.s.Tracker().ReplyCompleted(err == nil, total)
			if done {
				logger.Info(d.s.Prefix(), "all vendor replies complete, success=%v", allSucceeded)
				d.client.callbacks.OnWriteBatchComplete(d.s.Address(), allSucceeded)
			}
		})

		logger.Debug(d.s.Prefix(), "write vendor reply uuid=%s len=%d", identity, len(reply.Value))
		err := d.s.Transport().WriteCharacteristic(d.s.ConnID(), chrc.ValueHandle, reply.Value,
			gatt.WriteNoResponse, func(_ uint16, _ uint16, err error) {
				reg, ok := d.client.registry.ResolveToken(token)
				if !ok {
					return
				}
				d.client.registry.Unregister(reg.Identity)
				reg.Callback(nil, err)
			})
		if err != nil {
			logger.Error(d.s.Prefix(), "vendor reply write failed: %v", err)
		}
	}
}
