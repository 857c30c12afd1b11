package accelerated

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAttributesSkipUnknown(t *testing.T) {
	d := DeviceInfo{Name: "gfx1030", MemorySize: 8 << 30, MaxGridSize: []uint64{1024, 1024, 64}}

	assert.Equal(t, []Attribute{
		{"Name", "gfx1030"},
		{"MemorySize", "8589934592"},
		{"MaxGridSize", "1024x1024x64"},
	}, d.Attributes())
}

func TestAttributesOpenCLOrder(t *testing.T) {
	d := DeviceInfo{Name: "gfx1030", Vendor: "AMD", Type: "GPU", Driver: "3614.0", AddressBits: 64, Features: []string{"compiler"}}

	assert.Equal(t, []Attribute{
		{"Name", "gfx1030"},
		{"Vendor", "AMD"},
		{"Type", "GPU"},
		{"DriverVersion", "3614.0"},
		{"AddressBits", "64"},
		{"Features", "compiler"},
	}, d.Attributes())
}

func TestDescribe(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Describe(&buf, []DeviceInfo{
		{Index: 0, Kind: "OpenCL", Name: "gfx1030", WarpSize: 32},
		{Index: 1, Kind: "CPU", Name: "linux/amd64 host"},
	}))

	assert.Equal(t, "Accelerator: [0]: OpenCL, gfx1030\n"+
		"  Name: gfx1030\n"+
		"  WarpSize: 32\n"+
		"\n"+
		"Accelerator: [1]: CPU, linux/amd64 host\n"+
		"  Name: linux/amd64 host\n"+
		"\n", buf.String())
}

func TestDeviceError(t *testing.T) {
	cause := errors.New("CL_OUT_OF_RESOURCES")
	err := error(&DeviceError{Op: "alloc", Err: cause})

	assert.ErrorIs(t, err, ErrDevice)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "accelerated: alloc: CL_OUT_OF_RESOURCES", err.Error())
}
