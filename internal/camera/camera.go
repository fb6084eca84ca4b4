// Package camera provides the capture devices the detection loop reads
// frames from.
package camera

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kozaktomas/face-attendance/internal/facematch"
)

// ErrNoDevice is returned when no capture device is configured.
var ErrNoDevice = errors.New("no capture device available")

// Hints are the preferred stream parameters. Devices treat them as upper
// bounds: frames larger than Width x Height are downscaled and frames are
// not fetched more often than FrameRate per second. Zero means no limit.
type Hints struct {
	Width     int
	Height    int
	FrameRate int
}

// DefaultHints match the resolution the check-in kiosk renders at.
var DefaultHints = Hints{Width: 720, Height: 560, FrameRate: 30}

// Frame is one captured image, encoded, ready for the face engine.
type Frame struct {
	Data       []byte
	Info       facematch.FrameInfo
	CapturedAt time.Time
}

// Stream yields frames until closed.
type Stream interface {
	Frame(ctx context.Context) (Frame, error)
	Close() error
}

// Device is one video input.
type Device interface {
	ID() string
	Label() string
	Open(ctx context.Context, hints Hints) (Stream, error)
}

// Lister enumerates video inputs. The first device is the system default.
type Lister interface {
	Devices(ctx context.Context) ([]Device, error)
}

// StaticLister returns a fixed list of devices.
type StaticLister []Device

// Devices implements Lister.
func (l StaticLister) Devices(context.Context) ([]Device, error) {
	return l, nil
}

// SelectDevice picks the device to use. With more than one device the last
// one is preferred, which is the external camera on kiosks with a built-in
// one listed first.
func SelectDevice(devices []Device) (Device, error) {
	switch len(devices) {
	case 0:
		return nil, ErrNoDevice
	case 1:
		return devices[0], nil
	default:
		return devices[len(devices)-1], nil
	}
}

// OpenPreferred enumerates devices, selects one and opens it.
func OpenPreferred(ctx context.Context, lister Lister, hints Hints) (Stream, Device, error) {
	devices, err := lister.Devices(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("enumerate devices: %w", err)
	}
	device, err := SelectDevice(devices)
	if err != nil {
		return nil, nil, err
	}
	stream, err := device.Open(ctx, hints)
	if err != nil {
		return nil, nil, fmt.Errorf("open device %s: %w", device.Label(), err)
	}
	return stream, device, nil
}
