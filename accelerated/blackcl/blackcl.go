package blackcl

import (
	_ "embed"
	"errors"
	"fmt"

	"github.com/haormj/daitcore/accelerated"
	"github.com/samber/lo"
	"gitlab.com/microo8/blackcl"
)

//go:embed matmul.cl
var matmulSrc string

var localGroupSizes = []int{16, 8, 4, 2}

// maxGroupSize bounds the work items per group. Drivers reject larger groups
// with CL_INVALID_WORK_GROUP_SIZE and 64 is accepted by every device we run on.
const maxGroupSize = 64

var (
	ErrReleased      = errors.New("accelerated/blackcl: buffer released")
	ErrForeignBuffer = errors.New("accelerated/blackcl: buffer belongs to another device")
)

// OpenCL runs the matmul kernel through blackcl. Kernel runs are queued
// asynchronously; ReadBack waits for them before reading device memory.
type OpenCL struct {
	index  int
	device *blackcl.Device
	kernel *blackcl.Kernel

	pending []<-chan error
	live    int
}

// New returns a backend bound to the index-th OpenCL device. A negative
// index selects the platform default device.
func New(index int) *OpenCL {
	return &OpenCL{index: index}
}

// SetupContext implements accelerated.Backend.
func (o *OpenCL) SetupContext() error {
	var err error

	if o.index < 0 {
		o.device, err = blackcl.GetDefaultDevice()
		if err != nil {
			return fmt.Errorf("accelerated/blackcl: failed to get default device: %w", err)
		}
	} else {
		devices, err := blackcl.GetDevices(blackcl.DeviceTypeAll)
		if err != nil {
			return fmt.Errorf("accelerated/blackcl: failed to list devices: %w", err)
		}

		if o.index >= len(devices) {
			return errors.Join(
				fmt.Errorf("accelerated/blackcl: device index %d out of range, %d devices", o.index, len(devices)),
				releaseDevices(devices))
		}

		others := lo.Filter(devices, func(_ *blackcl.Device, i int) bool {
			return i != o.index
		})
		if err := releaseDevices(others); err != nil {
			return errors.Join(err, releaseDevices(devices[o.index:o.index+1]))
		}

		o.device = devices[o.index]
	}

	o.device.AddProgram(matmulSrc)
	o.kernel = o.device.Kernel("matmul")

	return nil
}

// Release implements accelerated.Backend.
func (o *OpenCL) Release() error {
	if o.device == nil {
		return nil
	}

	waitErr := o.wait()

	if err := o.device.Release(); err != nil {
		return fmt.Errorf("accelerated/blackcl: failed to release device: %w", err)
	}

	o.device = nil

	return waitErr
}

// Info implements accelerated.Backend.
func (o *OpenCL) Info() accelerated.DeviceInfo {
	info := accelerated.DeviceInfo{Index: o.index, Kind: "OpenCL"}
	if o.device != nil {
		info.Name = o.device.Name()
	}

	return info
}

// Live returns the number of allocated, unreleased buffers.
func (o *OpenCL) Live() int {
	return o.live
}

type vector struct {
	owner    *OpenCL
	vec      *blackcl.Vector
	release  func() error
	size     int
	released bool
}

// Alloc implements accelerated.Backend.
func (o *OpenCL) Alloc(size int) (accelerated.Buffer, error) {
	if o.device == nil {
		return nil, errors.New("accelerated/blackcl: context not set up")
	}

	vec, err := o.device.NewVector(size)
	if err != nil {
		return nil, fmt.Errorf("accelerated/blackcl: failed to create buffer: %w", err)
	}

	o.live++

	return &vector{owner: o, vec: vec, release: vec.Release, size: size}, nil
}

func (v *vector) Len() int {
	return v.size
}

func (v *vector) Write(data []float32) error {
	if v.released {
		return ErrReleased
	}

	if len(data) != v.size {
		return fmt.Errorf("accelerated/blackcl: write of %d values into buffer of %d", len(data), v.size)
	}

	if err := <-v.vec.Copy(data); err != nil {
		return fmt.Errorf("accelerated/blackcl: failed to copy buffer: %w", err)
	}

	return nil
}

func (v *vector) ReadBack() ([]float32, error) {
	if v.released {
		return nil, ErrReleased
	}

	if err := v.owner.wait(); err != nil {
		return nil, err
	}

	data, err := v.vec.Data()
	if err != nil {
		return nil, fmt.Errorf("accelerated/blackcl: failed to read buffer: %w", err)
	}

	return data, nil
}

func (v *vector) Release() error {
	if v.released {
		return nil
	}

	v.released = true
	v.owner.live--

	if err := v.release(); err != nil {
		return fmt.Errorf("accelerated/blackcl: failed to release buffer: %w", err)
	}

	return nil
}

func releaseDevices[D interface{ Release() error }](devices []D) error {
	var errs []error

	for _, d := range devices {
		if err := d.Release(); err != nil {
			errs = append(errs, err)
		}
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("accelerated/blackcl: failed to release device: %w", err)
	}

	return nil
}

func (o *OpenCL) wait() error {
	pending := o.pending
	o.pending = nil

	var first error

	for _, ch := range pending {
		if err := <-ch; err != nil && first == nil {
			first = fmt.Errorf("accelerated/blackcl: failed to run kernel: %w", err)
		}
	}

	return first
}

func (o *OpenCL) own(b accelerated.Buffer) (*vector, error) {
	v, ok := b.(*vector)
	if !ok || v.owner != o {
		return nil, ErrForeignBuffer
	}

	if v.released {
		return nil, ErrReleased
	}

	return v, nil
}

// localSize picks the largest work-group edge that divides global, falling
// back to 1.
func localSize(global int) int {
	for _, size := range localGroupSizes {
		if global%size == 0 {
			return size
		}
	}

	return 1
}

// localSizes picks the work-group shape for an m x n range, halving the
// larger edge until the group fits in limit work items. Edges stay powers of
// two, so they still divide the global sizes.
func localSizes(m, n, limit int) (int, int) {
	lm, ln := localSize(m), localSize(n)

	for lm*ln > limit {
		if lm >= ln {
			lm /= 2
		} else {
			ln /= 2
		}
	}

	return lm, ln
}

// MatMul implements accelerated.Backend.
func (o *OpenCL) MatMul(c, a, b accelerated.Buffer, m, k, n int) error {
	cDev, err := o.own(c)
	if err != nil {
		return err
	}

	aDev, err := o.own(a)
	if err != nil {
		return err
	}

	bDev, err := o.own(b)
	if err != nil {
		return err
	}

	if aDev.size != m*k || bDev.size != k*n || cDev.size != m*n {
		return fmt.Errorf("accelerated/blackcl: buffers %d/%d/%d do not fit %dx%d * %dx%d",
			aDev.size, bDev.size, cDev.size, m, k, k, n)
	}

	lm, ln := localSizes(m, n, maxGroupSize)

	run := o.kernel.Global(m, n).Local(lm, ln).
		Run(cDev.vec, aDev.vec, bDev.vec, uint32(k), uint32(n))

	o.pending = append(o.pending, run)

	return nil
}

var _ accelerated.Backend = &OpenCL{}
