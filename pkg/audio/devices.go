package audio

import (
	"fmt"

	"github.com/gen2brain/malgo"
)

// DeviceInfo is a minimal, loggable description of an enumerated device, for
// --list-devices.
type DeviceInfo struct {
	Index     int
	Name      string
	IsDefault bool
	Loopback  bool
}

// ListDevices enumerates both capture and loopback-capable playback devices
// without binding a stream, for the --list-devices CLI flag.
func ListDevices() ([]DeviceInfo, error) {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("audio: init malgo context: %w", err)
	}
	defer mctx.Uninit()

	var out []DeviceInfo

	captures, err := mctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("audio: enumerate capture devices: %w", err)
	}
	for i, d := range captures {
		out = append(out, DeviceInfo{Index: i, Name: d.Name(), IsDefault: d.IsDefault != 0})
	}

	playbacks, err := mctx.Devices(malgo.Playback)
	if err != nil {
		return nil, fmt.Errorf("audio: enumerate playback devices: %w", err)
	}
	for i, d := range playbacks {
		out = append(out, DeviceInfo{Index: i, Name: d.Name(), IsDefault: d.IsDefault != 0, Loopback: true})
	}

	return out, nil
}
