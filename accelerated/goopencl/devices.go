// Package goopencl enumerates OpenCL devices with the attributes shown to the
// user when choosing an accelerator. Device indexes match the order used by
// the blackcl backend: platforms in driver order, devices within each.
package goopencl

import (
	"errors"
	"fmt"

	"github.com/haormj/daitcore/accelerated"
	"github.com/passkeyra/go-opencl/opencl"
	"gitlab.com/microo8/blackcl"
)

// Devices returns every available OpenCL device on every platform. Index is
// the position in driver order, so unavailable devices leave gaps rather than
// shifting the numbering blackcl.New expects.
func Devices() ([]accelerated.DeviceInfo, error) {
	platforms, err := opencl.GetPlatforms()
	if err != nil {
		return nil, fmt.Errorf("accelerated/goopencl: failed to get platforms: %w", err)
	}

	names, err := deviceNames()
	if err != nil {
		return nil, err
	}

	var (
		out   []accelerated.DeviceInfo
		index int
	)

	for _, platform := range platforms {
		devices, err := platform.GetDevices(opencl.DeviceTypeAll)
		if err != nil {
			return nil, fmt.Errorf("accelerated/goopencl: failed to get devices: %w", err)
		}

		for _, device := range devices {
			var name string
			if index < len(names) {
				name = names[index]
			}

			if info, ok := describe(device, index, name); ok {
				out = append(out, info)
			}

			index++
		}
	}

	return out, nil
}

// deviceNames reads CL_DEVICE_NAME through blackcl; go-opencl has no query
// for it. Enumeration failures leave names empty.
func deviceNames() ([]string, error) {
	devices, err := blackcl.GetDevices(blackcl.DeviceTypeAll)
	if err != nil {
		return nil, nil
	}

	names := make([]string, len(devices))

	var errs []error

	for i, d := range devices {
		names[i] = d.Name()

		if err := d.Release(); err != nil {
			errs = append(errs, err)
		}
	}

	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("accelerated/goopencl: failed to release device: %w", err)
	}

	return names, nil
}

type infoGetter interface {
	GetInfo(name opencl.DeviceInfo, output interface{}) error
}

// describe maps the go-opencl device queries onto a DeviceInfo. It reports
// false for devices that are not available, the same filter used when
// picking a device to run on. Failed queries leave their field zero.
func describe(device infoGetter, index int, name string) (accelerated.DeviceInfo, bool) {
	var available bool
	if err := device.GetInfo(opencl.DeviceAvailable, &available); err != nil || !available {
		return accelerated.DeviceInfo{}, false
	}

	info := accelerated.DeviceInfo{Index: index, Kind: "OpenCL", Name: name}

	var (
		vendor   string
		driver   string
		kind     opencl.DeviceType
		bits     uint32
		compiler bool
		builtins []string
	)

	if err := device.GetInfo(opencl.DeviceVendor, &vendor); err == nil {
		info.Vendor = vendor
	}

	if info.Name == "" {
		info.Name = info.Vendor
	}

	if err := device.GetInfo(opencl.DeviceInfoType, &kind); err == nil {
		info.Type = typeName(kind)
	}

	if err := device.GetInfo(opencl.DriverVersion, &driver); err == nil {
		info.Driver = driver
	}

	if err := device.GetInfo(opencl.DeviceAddressBits, &bits); err == nil {
		info.AddressBits = bits
	}

	if err := device.GetInfo(opencl.DeviceCompilerAvailable, &compiler); err == nil && compiler {
		info.Features = append(info.Features, "compiler")
	}

	if err := device.GetInfo(opencl.DeviceBuiltInKernels, &builtins); err == nil {
		for _, k := range builtins {
			if k != "" {
				info.Features = append(info.Features, k)
			}
		}
	}

	return info, true
}

func typeName(kind opencl.DeviceType) string {
	switch {
	case kind&opencl.DeviceTypeGPU != 0:
		return "GPU"
	case kind&opencl.DeviceTypeCPU != 0:
		return "CPU"
	case kind&opencl.DeviceTypeAccelerator != 0:
		return "Accelerator"
	case kind&opencl.DeviceTypeCustom != 0:
		return "Custom"
	default:
		return ""
	}
}
