package manager

import (
	"sync"

	"github.com/Wuchinator/analytics-sdk-core/internal/message"
)

// AppInfo describes the host application.
type AppInfo struct {
	Package string
	Version string
}

type DeviceInfo struct {
	Model     string
	OSVersion string
}

// Device serves the app and device documents stored with every session.
type Device struct {
	app    AppInfo
	device DeviceInfo

	mu       sync.Mutex
	referrer string
	cached   *message.Message
}

func NewDevice(app AppInfo, device DeviceInfo) *Device {
	return &Device{app: app, device: device}
}

func (d *Device) SetInstallReferrer(referrer string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.referrer = referrer
}

// AppInfo returns the cached document unless refresh is set.
func (d *Device) AppInfo(refresh bool) *message.Message {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cached == nil || refresh {
		info := message.New().
			Put("apn", d.app.Package).
			Put("av", d.app.Version)
		if d.referrer != "" {
			info.Put(message.KeyInstallReferrer, d.referrer)
		}
		d.cached = info
	}
	return d.cached.Clone()
}

func (d *Device) DeviceInfo() *message.Message {
	return message.New().
		Put("dma", d.device.Model).
		Put("dosv", d.device.OSVersion)
}
