// Package accelerated defines the device abstraction the offload engine runs
// matrix products on. Concrete backends live in the sub-packages.
package accelerated

import (
	"errors"
	"fmt"
)

// Backend is an opened compute device. A Backend is owned by a single
// goroutine and is not safe for concurrent use.
type Backend interface {
	SetupContext() error

	// Alloc reserves a device buffer holding size float32 values.
	Alloc(size int) (Buffer, error)

	// MatMul queues C = A*B where A is m x k and B is k x n, one work item
	// per output cell. It may return before the kernel has finished; the
	// result becomes visible through c.ReadBack.
	MatMul(c, a, b Buffer, m, k, n int) error

	Info() DeviceInfo
	Release() error
}

// Buffer is device memory scoped to one offload cycle.
type Buffer interface {
	Len() int

	// Write copies host data to the device. The host slice is not retained.
	Write(data []float32) error

	// ReadBack blocks until every transfer and kernel queued against the
	// device has completed, then copies the buffer to host memory.
	ReadBack() ([]float32, error)

	Release() error
}

// DeviceInfo describes a device for selection. Zero fields are unknown.
type DeviceInfo struct {
	Index              int
	Kind               string
	Name               string
	Vendor             string
	Type               string
	Driver             string
	AddressBits        uint32
	MemorySize         uint64
	MaxThreadsPerGroup uint64
	MaxSharedMemory    uint64
	MaxGridSize        []uint64
	MaxConstantMemory  uint64
	WarpSize           uint32
	NumMultiprocessors uint32
	Features           []string
}

// ErrDevice is matched by every DeviceError.
var ErrDevice = errors.New("accelerated: device error")

// DeviceError wraps a backend failure with the step that raised it.
type DeviceError struct {
	Op  string
	Err error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("accelerated: %s: %v", e.Op, e.Err)
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}

func (e *DeviceError) Is(target error) bool {
	return target == ErrDevice
}
