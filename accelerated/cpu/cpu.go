package cpu

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/haormj/daitcore/accelerated"
	"golang.org/x/sync/errgroup"
	syscpu "golang.org/x/sys/cpu"
)

var (
	ErrReleased      = errors.New("accelerated/cpu: buffer released")
	ErrForeignBuffer = errors.New("accelerated/cpu: buffer belongs to another backend")
)

// CPU runs the kernel on host cores. Buffers are plain host slices, but the
// lifecycle mirrors a device: MatMul only queues the kernel and ReadBack is
// the synchronization point.
type CPU struct {
	workers int

	mu      sync.Mutex
	pending []<-chan error
	live    atomic.Int64
}

// New returns a CPU backend using up to workers goroutines per kernel.
// workers <= 0 means GOMAXPROCS.
func New(workers int) *CPU {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	return &CPU{workers: workers}
}

// SetupContext implements accelerated.Backend.
func (*CPU) SetupContext() error {
	return nil
}

// Release implements accelerated.Backend.
func (c *CPU) Release() error {
	return c.wait()
}

// Live returns the number of allocated, unreleased buffers.
func (c *CPU) Live() int {
	return int(c.live.Load())
}

// Info implements accelerated.Backend.
func (c *CPU) Info() accelerated.DeviceInfo {
	return accelerated.DeviceInfo{
		Kind:               "CPU",
		Name:               fmt.Sprintf("%s/%s host", runtime.GOOS, runtime.GOARCH),
		MaxThreadsPerGroup: uint64(c.workers),
		NumMultiprocessors: uint32(runtime.NumCPU()),
		WarpSize:           1,
		Features:           features(),
	}
}

func features() []string {
	var out []string

	switch runtime.GOARCH {
	case "amd64":
		if syscpu.X86.HasAVX2 {
			out = append(out, "avx2")
		}
		if syscpu.X86.HasFMA {
			out = append(out, "fma")
		}
		if syscpu.X86.HasAVX512F {
			out = append(out, "avx512f")
		}
	case "arm64":
		if syscpu.ARM64.HasASIMD {
			out = append(out, "asimd")
		}
		if syscpu.ARM64.HasSVE {
			out = append(out, "sve")
		}
	}

	return out
}

type buffer struct {
	owner    *CPU
	data     []float32
	released bool
}

// Alloc implements accelerated.Backend.
func (c *CPU) Alloc(size int) (accelerated.Buffer, error) {
	if size < 0 {
		return nil, fmt.Errorf("accelerated/cpu: negative buffer size %d", size)
	}

	c.live.Add(1)

	return &buffer{owner: c, data: make([]float32, size)}, nil
}

func (b *buffer) Len() int {
	return len(b.data)
}

func (b *buffer) Write(data []float32) error {
	if b.released {
		return ErrReleased
	}

	if len(data) != len(b.data) {
		return fmt.Errorf("accelerated/cpu: write of %d values into buffer of %d", len(data), len(b.data))
	}

	if err := b.owner.wait(); err != nil {
		return err
	}

	copy(b.data, data)

	return nil
}

func (b *buffer) ReadBack() ([]float32, error) {
	if b.released {
		return nil, ErrReleased
	}

	if err := b.owner.wait(); err != nil {
		return nil, fmt.Errorf("accelerated/cpu: kernel failed: %w", err)
	}

	out := make([]float32, len(b.data))
	copy(out, b.data)

	return out, nil
}

func (b *buffer) Release() error {
	if b.released {
		return nil
	}

	b.released = true
	b.owner.live.Add(-1)

	return nil
}

// wait drains every queued kernel and returns the first failure.
func (c *CPU) wait() error {
	c.mu.Lock()
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()

	var first error

	for _, ch := range pending {
		if err := <-ch; err != nil && first == nil {
			first = err
		}
	}

	return first
}

func (c *CPU) own(bufs ...accelerated.Buffer) ([]*buffer, error) {
	out := make([]*buffer, len(bufs))

	for i, b := range bufs {
		hb, ok := b.(*buffer)
		if !ok || hb.owner != c {
			return nil, ErrForeignBuffer
		}

		if hb.released {
			return nil, ErrReleased
		}

		out[i] = hb
	}

	return out, nil
}

// MatMul implements accelerated.Backend.
func (c *CPU) MatMul(out, a, b accelerated.Buffer, m, k, n int) error {
	bufs, err := c.own(out, a, b)
	if err != nil {
		return err
	}

	cDev, aDev, bDev := bufs[0], bufs[1], bufs[2]

	if aDev.Len() != m*k || bDev.Len() != k*n || cDev.Len() != m*n {
		return fmt.Errorf("accelerated/cpu: buffers %d/%d/%d do not fit %dx%d * %dx%d",
			aDev.Len(), bDev.Len(), cDev.Len(), m, k, k, n)
	}

	done := make(chan error, 1)

	c.mu.Lock()
	c.pending = append(c.pending, done)
	c.mu.Unlock()

	go func() {
		done <- c.run(cDev.data, aDev.data, bDev.data, m, k, n)
		close(done)
	}()

	return nil
}

// run splits the output rows into contiguous chunks, one per worker.
func (c *CPU) run(out, a, b []float32, m, k, n int) error {
	if m == 0 || n == 0 {
		return nil
	}

	workers := min(c.workers, m)
	chunk := (m + workers - 1) / workers

	var g errgroup.Group
	g.SetLimit(workers)

	for start := 0; start < m; start += chunk {
		start := start
		end := min(start+chunk, m)

		g.Go(func() error {
			for x := start; x < end; x++ {
				for y := 0; y < n; y++ {
					out[x*n+y] = Cell(a, b, k, n, x, y)
				}
			}

			return nil
		})
	}

	return g.Wait()
}

// Cell computes C[x][y] of a row-major m x k by k x n product. The sum runs
// over i in ascending order so results are reproducible across backends.
func Cell(a, b []float32, k, n, x, y int) float32 {
	var sum float32

	for i := 0; i < k; i++ {
		sum += a[x*k+i] * b[i*n+y]
	}

	return sum
}

var _ accelerated.Backend = &CPU{}
