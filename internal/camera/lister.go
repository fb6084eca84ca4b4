package camera

import (
	"fmt"
	"net/http"

	"github.com/kozaktomas/face-attendance/internal/config"
)

// NewLister builds the device list from configuration: one snapshot
// device per URL in order, then the replay directory if set.
func NewLister(cfg config.CameraConfig, client *http.Client) StaticLister {
	var devices StaticLister
	for i, url := range cfg.URLs {
		devices = append(devices, NewSnapshotDevice(url, fmt.Sprintf("camera %d", i+1), client))
	}
	if cfg.Dir != "" {
		devices = append(devices, NewReplayDevice(cfg.Dir))
	}
	return devices
}
