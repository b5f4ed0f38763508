package volume

import (
	"github.com/user/bluerange/config"
	"github.com/user/bluerange/logger"
	"github.com/user/bluerange/profile"
)

// Callbacks extends the generic profile callbacks with the volume state
// stream. All methods run on the engine queue.
type Callbacks interface {
	profile.Callbacks

	// OnVolumeStateChanged reports the remote's volume and mute state
	OnVolumeStateChanged(address string, volume uint8, mute uint8)

	// OnVolumeOffsetChanged reports an offset instance update
	OnVolumeOffsetChanged(address string, id uint8, offset int16)

	// OnAudioInputChanged reports an audio input instance update
	OnAudioInputChanged(address string, id uint8, state InputState)
}

// Client is the volume control profile client. One instance serves all
// remote devices.
type Client struct {
	engine    *profile.Client
	callbacks Callbacks
	devices   map[string]*Device // owned by the engine queue
}

// NewClient creates a volume control client over the given transport
func NewClient(transport profile.Transport, callbacks Callbacks, cfg *config.Config) *Client {
	c := &Client{
		callbacks: callbacks,
		devices:   make(map[string]*Device),
	}
	c.engine = profile.NewClient("VC", transport, callbacks, cfg,
		func(s *profile.Session) profile.Hooks {
			return newDevice(c, s)
		})
	return c
}

// Engine exposes the underlying profile client for transport integration
// and tests
func (c *Client) Engine() *profile.Client { return c.engine }

// Connect initiates a volume control connection to the given address
func (c *Client) Connect(address string) error { return c.engine.Connect(address) }

// Disconnect tears down the volume control connection
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

// withDevice runs an operation against a connected device on the engine
// queue. Unknown addresses are logged and dropped.
func (c *Client) withDevice(address string, fn func(*Device)) {
	c.engine.Queue().Post(func() {
		device, ok := c.devices[address]
		if !ok {
			logger.Warn("VC", "operation for unknown device %s", address)
			return
		}
		fn(device)
	})
}

// SetVolume writes an absolute volume level
func (c *Client) SetVolume(address string, volume uint8) {
	c.withDevice(address, func(d *Device) {
		d.controlPointOperation(OpcodeSetAbsoluteVolume, volume)
	})
}

// VolumeUp steps the volume up by the remote's step size
func (c *Client) VolumeUp(address string) {
	c.withDevice(address, func(d *Device) {
		d.controlPointOperation(OpcodeVolumeUp)
	})
}

// VolumeDown steps the volume down by the remote's step size
func (c *Client) VolumeDown(address string) {
	c.withDevice(address, func(d *Device) {
		d.controlPointOperation(OpcodeVolumeDown)
	})
}

// Mute mutes the remote
func (c *Client) Mute(address string) {
	c.withDevice(address, func(d *Device) {
		d.controlPointOperation(OpcodeMute)
	})
}

// Unmute unmutes the remote
func (c *Client) Unmute(address string) {
	c.withDevice(address, func(d *Device) {
		d.controlPointOperation(OpcodeUnmute)
	})
}

// SetVolumeOffset writes an offset value to an offset instance
func (c *Client) SetVolumeOffset(address string, id uint8, offset int16) {
	c.withDevice(address, func(d *Device) {
		d.setVolumeOffset(id, offset)
	})
}

// SetOutputDescription writes the audio output description of an offset
// instance; refused when the remote marked it read-only
func (c *Client) SetOutputDescription(address string, id uint8, description string) {
	c.withDevice(address, func(d *Device) {
		d.setOutputDescription(id, description)
	})
}

// SetGainSetting writes a gain value to an audio input instance
func (c *Client) SetGainSetting(address string, id uint8, gain int8) {
	c.withDevice(address, func(d *Device) {
		d.inputControlPointOperation(id, OpcodeSetGainSetting, byte(gain))
	})
}

// MuteInput mutes an audio input instance
func (c *Client) MuteInput(address string, id uint8) {
	c.withDevice(address, func(d *Device) {
		d.inputControlPointOperation(id, OpcodeMuteInput)
	})
}

// UnmuteInput unmutes an audio input instance
func (c *Client) UnmuteInput(address string, id uint8) {
	c.withDevice(address, func(d *Device) {
		d.inputControlPointOperation(id, OpcodeUnmuteInput)
	})
}

// SetManualGainMode switches an audio input instance to manual gain
func (c *Client) SetManualGainMode(address string, id uint8) {
	c.withDevice(address, func(d *Device) {
		d.inputControlPointOperation(id, OpcodeSetManualGain)
	})
}

// SetAutomaticGainMode switches an audio input instance to automatic gain
func (c *Client) SetAutomaticGainMode(address string, id uint8) {
	c.withDevice(address, func(d *Device) {
		d.inputControlPointOperation(id, OpcodeSetAutomaticGain)
	})
}

// SetInputDescription writes the audio input description of an input
// instance; refused when the remote marked it read-only
func (c *Client) SetInputDescription(address string, id uint8, description string) {
	c.withDevice(address, func(d *Device) {
		d.setInputDescription(id, description)
	})
}
