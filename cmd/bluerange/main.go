// Command bluerange runs the profile engine against an in-memory GATT peer
// so the connection, subscription and transfer flows can be exercised
// without radio hardware.
package main

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/user/bluerange/config"
	"github.com/user/bluerange/fakegatt"
	"github.com/user/bluerange/gatt"
	"github.com/user/bluerange/logger"
	"github.com/user/bluerange/profile"
	"github.com/user/bluerange/ranging"
	"github.com/user/bluerange/volume"
)

var (
	flagConfig   string
	flagLogLevel string
)

func main() {
	root := &cobra.Command{
		Use:   "bluerange",
		Short: "GATT profile client engine demos",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger.SetLevel(logger.ParseLevel(flagLogLevel))
		},
	}
	root.PersistentFlags().StringVar(&flagConfig, "config", "bluerange.yaml", "config file path")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "INFO", "log level (TRACE..ERROR)")

	root.AddCommand(rangingDemoCmd())
	root.AddCommand(volumeDemoCmd())

	if err := root.Execute(); err != nil {
		color.Red("error: %v", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// rangingCallbacks prints the ranging event stream
type rangingCallbacks struct{}

func (rangingCallbacks) OnDeviceReady(address, capabilitySummary string) {
	color.Green("ready %s (%s)", address, capabilitySummary)
}

func (rangingCallbacks) OnFieldChanged(address, fieldID string, newValue []byte) {
	color.Cyan("field %s changed on %s: %x", fieldID, address, newValue)
}

func (rangingCallbacks) OnOperationTimeout(address string) {
	color.Red("operation timed out on %s", address)
}

func (rangingCallbacks) OnWriteBatchComplete(address string, allSucceeded bool) {
	color.Cyan("vendor reply batch complete on %s, success=%v", address, allSucceeded)
}

func (rangingCallbacks) OnDisconnected(address string) {
	color.Yellow("disconnected %s", address)
}

func (rangingCallbacks) OnConnected(address string, realTimeAttHandle uint16,
	vendorChars []ranging.VendorSpecificCharacteristic, connInterval uint16) {
	color.Green("connected %s, real-time handle 0x%04x, %d vendor characteristics, interval %d",
		address, realTimeAttHandle, len(vendorChars), connInterval)
}

func (rangingCallbacks) OnRemoteData(address string, data []byte) {
	color.Cyan("ranging data segment from %s: %x", address, data)
}

// Handle layout of the fake ranging peer
const (
	rasServiceHandle      = 0x0010
	rasFeaturesHandle     = 0x0012
	rasControlPointHandle = 0x0014
	rasControlPointCCC    = 0x0015
	rasOnDemandHandle     = 0x0017
	rasOnDemandCCC        = 0x0018
	rasDataReadyHandle    = 0x001A
	rasDataReadyCCC       = 0x001B
	rasOverwrittenHandle  = 0x001D
	rasOverwrittenCCC     = 0x001E
	rasVendorHandle       = 0x0020
)

var vendorUUID = gatt.UUID128(0xFF01)

func rangingPeerServices() []gatt.Service {
	return []gatt.Service{{
		UUID:      ranging.UUIDRangingService,
		Handle:    rasServiceHandle,
		EndHandle: 0x002F,
		Characteristics: []gatt.Characteristic{
			{UUID: ranging.UUIDFeatures, ValueHandle: rasFeaturesHandle, Properties: gatt.PropRead},
			{UUID: ranging.UUIDControlPoint, ValueHandle: rasControlPointHandle,
				Properties: gatt.PropWriteWithoutResponse | gatt.PropIndicate,
				Descriptors: []gatt.Descriptor{
					{UUID: gatt.UUIDClientCharacteristicConfig, Handle: rasControlPointCCC},
				}},
			{UUID: ranging.UUIDOnDemandRangingData, ValueHandle: rasOnDemandHandle,
				Properties: gatt.PropNotify,
				Descriptors: []gatt.Descriptor{
					{UUID: gatt.UUIDClientCharacteristicConfig, Handle: rasOnDemandCCC},
				}},
			{UUID: ranging.UUIDRangingDataReady, ValueHandle: rasDataReadyHandle,
				Properties: gatt.PropNotify,
				Descriptors: []gatt.Descriptor{
					{UUID: gatt.UUIDClientCharacteristicConfig, Handle: rasDataReadyCCC},
				}},
			{UUID: ranging.UUIDRangingDataOverwritten, ValueHandle: rasOverwrittenHandle,
				Properties: gatt.PropNotify,
				Descriptors: []gatt.Descriptor{
					{UUID: gatt.UUIDClientCharacteristicConfig, Handle: rasOverwrittenCCC},
				}},
			{UUID: vendorUUID, ValueHandle: rasVendorHandle,
				Properties: gatt.PropRead | gatt.PropWriteWithoutResponse},
		},
	}}
}

func rangingDemoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ranging-demo",
		Short: "Run an on-demand ranging transfer against a fake peer",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			const address = "AA:BB:CC:DD:EE:01"
			transport := fakegatt.New()
			client := ranging.NewClient(transport, rangingCallbacks{}, cfg)
			defer client.Stop()
			transport.Bind(client)

			transport.SetServices(address, rangingPeerServices())
			features := make([]byte, 4)
			binary.LittleEndian.PutUint32(features, ranging.FeatureAbortOperation)
			transport.SetValue(address, rasFeaturesHandle, features)
			transport.SetValue(address, rasVendorHandle, []byte{0xCA, 0xFE})

			if err := client.Connect(address); err != nil {
				return err
			}

			// One on-demand transfer: data ready, two segments, completion
			counter := []byte{0x42, 0x00}
			if err := transport.Notify(address, rasDataReadyHandle, counter); err != nil {
				return err
			}
			transport.Notify(address, rasOnDemandHandle, []byte{0x01, 0xDE, 0xAD})
			transport.Notify(address, rasOnDemandHandle, []byte{0x02, 0xBE, 0xEF})
			transport.Notify(address, rasControlPointHandle,
				[]byte{ranging.EventCompleteRangingDataResponse, 0x42, 0x00})

			client.SendVendorSpecificReply(address, []ranging.VendorSpecificCharacteristic{
				{UUID: vendorUUID, Value: []byte{0x00, 0x01}},
			})

			drain(client.Engine())

			fmt.Println("control point writes observed:")
			for _, w := range transport.WritesTo(rasControlPointHandle) {
				fmt.Printf("  %x\n", w.Value)
			}

			client.Disconnect(address)
			drain(client.Engine())
			return nil
		},
	}
}

// volumeCallbacks prints the volume event stream
type volumeCallbacks struct{}

func (volumeCallbacks) OnDeviceReady(address, capabilitySummary string) {
	color.Green("ready %s (%s)", address, capabilitySummary)
}

func (volumeCallbacks) OnFieldChanged(address, fieldID string, newValue []byte) {
	color.Cyan("field %s changed on %s: %x", fieldID, address, newValue)
}

func (volumeCallbacks) OnOperationTimeout(address string) {
	color.Red("operation timed out on %s", address)
}

func (volumeCallbacks) OnWriteBatchComplete(address string, allSucceeded bool) {
	color.Cyan("write batch complete on %s, success=%v", address, allSucceeded)
}

func (volumeCallbacks) OnDisconnected(address string) {
	color.Yellow("disconnected %s", address)
}

func (volumeCallbacks) OnVolumeStateChanged(address string, vol uint8, mute uint8) {
	color.Green("volume on %s: %d mute=%d", address, vol, mute)
}

func (volumeCallbacks) OnVolumeOffsetChanged(address string, id uint8, offset int16) {
	color.Cyan("offset %d on %s: %d", id, address, offset)
}

func (volumeCallbacks) OnAudioInputChanged(address string, id uint8, state volume.InputState) {
	color.Cyan("input %d on %s: gain=%d mute=%d", id, address, state.GainSetting, state.Mute)
}

// Handle layout of the fake volume peer
const (
	vcsServiceHandle      = 0x0030
	vcsStateHandle        = 0x0032
	vcsStateCCC           = 0x0033
	vcsControlPointHandle = 0x0035
	vcsFlagsHandle        = 0x0037
	vcsFlagsCCC           = 0x0038
	vocsServiceHandle     = 0x0040
	vocsStateHandle       = 0x0042
	vocsStateCCC          = 0x0043
	vocsLocationHandle    = 0x0045
	vocsCPHandle          = 0x0047
	vocsDescHandle        = 0x0049
)

func volumePeerServices() []gatt.Service {
	return []gatt.Service{
		{
			UUID:      volume.UUIDVolumeControlService,
			Handle:    vcsServiceHandle,
			EndHandle: 0x003F,
			Characteristics: []gatt.Characteristic{
				{UUID: volume.UUIDVolumeState, ValueHandle: vcsStateHandle,
					Properties: gatt.PropRead | gatt.PropNotify,
					Descriptors: []gatt.Descriptor{
						{UUID: gatt.UUIDClientCharacteristicConfig, Handle: vcsStateCCC},
					}},
				{UUID: volume.UUIDVolumeControlPoint, ValueHandle: vcsControlPointHandle,
					Properties: gatt.PropWrite},
				{UUID: volume.UUIDVolumeFlags, ValueHandle: vcsFlagsHandle,
					Properties: gatt.PropRead | gatt.PropNotify,
					Descriptors: []gatt.Descriptor{
						{UUID: gatt.UUIDClientCharacteristicConfig, Handle: vcsFlagsCCC},
					}},
			},
			IncludedServices: []gatt.IncludedService{
				{UUID: volume.UUIDVolumeOffsetService, StartHandle: vocsServiceHandle},
			},
		},
		{
			UUID:      volume.UUIDVolumeOffsetService,
			Handle:    vocsServiceHandle,
			EndHandle: 0x004F,
			Characteristics: []gatt.Characteristic{
				{UUID: volume.UUIDOffsetState, ValueHandle: vocsStateHandle,
					Properties: gatt.PropRead | gatt.PropNotify,
					Descriptors: []gatt.Descriptor{
						{UUID: gatt.UUIDClientCharacteristicConfig, Handle: vocsStateCCC},
					}},
				{UUID: volume.UUIDAudioLocation, ValueHandle: vocsLocationHandle,
					Properties: gatt.PropRead},
				{UUID: volume.UUIDOffsetControlPoint, ValueHandle: vocsCPHandle,
					Properties: gatt.PropWrite},
				{UUID: volume.UUIDAudioOutputDescription, ValueHandle: vocsDescHandle,
					Properties: gatt.PropRead | gatt.PropWriteWithoutResponse},
			},
		},
	}
}

func volumeDemoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "volume-demo",
		Short: "Run volume control operations against a fake peer",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			const address = "AA:BB:CC:DD:EE:02"
			transport := fakegatt.New()
			client := volume.NewClient(transport, volumeCallbacks{}, cfg)
			defer client.Stop()
			transport.Bind(client)

			transport.SetServices(address, volumePeerServices())
			transport.SetValue(address, vcsStateHandle, []byte{0x40, 0x00, 0x05})
			transport.SetValue(address, vcsFlagsHandle, []byte{0x01})
			transport.SetValue(address, vocsStateHandle, []byte{0xF6, 0xFF, 0x02})
			transport.SetValue(address, vocsLocationHandle, []byte{0x01, 0x00, 0x00, 0x00})
			transport.SetValue(address, vocsDescHandle, []byte("Left Speaker"))

			if err := client.Connect(address); err != nil {
				return err
			}

			client.SetVolume(address, 0x80)
			client.Mute(address)
			client.SetVolumeOffset(address, 1, -20)
			drain(client.Engine())

			// Remote confirms the volume change with a notification
			transport.Notify(address, vcsStateHandle, []byte{0x80, 0x00, 0x06})
			drain(client.Engine())

			fmt.Println("control point writes observed:")
			for _, w := range transport.Writes() {
				if w.Handle == vcsControlPointHandle || w.Handle == vocsCPHandle {
					fmt.Printf("  handle=0x%04x %x\n", w.Handle, w.Value)
				}
			}

			client.Disconnect(address)
			drain(client.Engine())
			return nil
		},
	}
}

// drain waits for everything queued so far to run
func drain(engine *profile.Client) {
	engine.Queue().Sync(func() {})
}
