package applogger

import (
	"os"
	"runtime"
	"sync"

	"github.com/shirou/gopsutil/v3/host"
)

// DeviceDescriptor is static metadata about the machine the client runs on.
type DeviceDescriptor struct {
	DeviceID        string `json:"deviceId" yaml:"device_id"`
	Hostname        string `json:"hostname,omitempty" yaml:"hostname"`
	OS              string `json:"os" yaml:"os"`
	Platform        string `json:"platform,omitempty" yaml:"platform"`
	PlatformVersion string `json:"platformVersion,omitempty" yaml:"platform_version"`
	KernelVersion   string `json:"kernelVersion,omitempty" yaml:"kernel_version"`
	Architecture    string `json:"architecture" yaml:"architecture"`
	Virtualization  string `json:"virtualization,omitempty" yaml:"virtualization"`
	NumCPU          int    `json:"numCpu" yaml:"num_cpu"`
	Runtime         string `json:"runtime" yaml:"runtime"`
}

// DeviceProvider supplies the device descriptor. Implementations must be safe
// for concurrent use.
type DeviceProvider interface {
	Descriptor() DeviceDescriptor
}

// StaticDevice is a DeviceProvider returning a fixed descriptor.
type StaticDevice DeviceDescriptor

func (d StaticDevice) Descriptor() DeviceDescriptor {
	return DeviceDescriptor(d)
}

// HostDeviceProvider reads host information once and caches it.
type HostDeviceProvider struct {
	once       sync.Once
	descriptor DeviceDescriptor
}

func NewHostDeviceProvider() *HostDeviceProvider {
	return &HostDeviceProvider{}
}

func (p *HostDeviceProvider) Descriptor() DeviceDescriptor {
	p.once.Do(func() {
		p.descriptor = readHostDescriptor()
	})
	return p.descriptor
}

func readHostDescriptor() DeviceDescriptor {
	d := DeviceDescriptor{
		OS:           runtime.GOOS,
		Architecture: runtime.GOARCH,
		NumCPU:       runtime.NumCPU(),
		Runtime:      runtime.Version(),
	}

	hostname, err := os.Hostname()
	if err == nil {
		d.Hostname = hostname
	}

	// host.Info can fail on restricted systems; keep what the runtime knows.
	info, err := host.Info()
	if err != nil || info == nil {
		d.DeviceID = d.Hostname
		return d
	}

	d.DeviceID = info.HostID
	d.Platform = info.Platform
	d.PlatformVersion = info.PlatformVersion
	d.KernelVersion = info.KernelVersion
	d.Virtualization = info.VirtualizationSystem
	if d.DeviceID == "" {
		d.DeviceID = d.Hostname
	}
	if d.Hostname == "" {
		d.Hostname = info.Hostname
	}
	return d
}
