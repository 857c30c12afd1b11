// Package offload runs one matrix product on an accelerated.Backend: it
// allocates device buffers, transfers the operands, dispatches the kernel,
// reads the result back and releases the buffers on every exit path.
package offload

import (
	"log/slog"
	"time"

	"github.com/haormj/daitcore/accelerated"
	"github.com/haormj/daitcore/matrix"
)

// Engine multiplies matrices on a backend it does not own.
type Engine struct {
	backend accelerated.Backend
	logger  *slog.Logger
}

func New(backend accelerated.Backend, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{backend: backend, logger: logger}
}

// Multiply computes a*b on the engine's backend.
func (e *Engine) Multiply(a, b matrix.Matrix) (matrix.Matrix, error) {
	start := time.Now()

	c, err := Multiply(e.backend, a, b)
	if err != nil {
		return matrix.Matrix{}, err
	}

	e.logger.Debug("multiply finished",
		slog.String("a", a.Shape()),
		slog.String("b", b.Shape()),
		slog.Duration("elapsed", time.Since(start)))

	return c, nil
}

// Multiply computes a*b on backend.
//
// Shape errors are returned before anything is allocated. Backend failures
// are returned as *accelerated.DeviceError; buffers are released either way.
// Products with a zero dimension never touch the device.
func Multiply(backend accelerated.Backend, a, b matrix.Matrix) (c matrix.Matrix, err error) {
	if err := matrix.CheckMultiply(a, b); err != nil {
		return matrix.Matrix{}, err
	}

	m, k, n := a.Rows, a.Cols, b.Cols

	if m == 0 || k == 0 || n == 0 {
		return matrix.New(m, n), nil
	}

	var buffers []accelerated.Buffer

	defer func() {
		for _, buf := range buffers {
			if relErr := buf.Release(); relErr != nil && err == nil {
				c, err = matrix.Matrix{}, &accelerated.DeviceError{Op: "release", Err: relErr}
			}
		}
	}()

	alloc := func(size int) (accelerated.Buffer, error) {
		buf, err := backend.Alloc(size)
		if err != nil {
			return nil, &accelerated.DeviceError{Op: "alloc", Err: err}
		}

		buffers = append(buffers, buf)

		return buf, nil
	}

	aDev, err := alloc(m * k)
	if err != nil {
		return matrix.Matrix{}, err
	}

	bDev, err := alloc(k * n)
	if err != nil {
		return matrix.Matrix{}, err
	}

	cDev, err := alloc(m * n)
	if err != nil {
		return matrix.Matrix{}, err
	}

	if err := aDev.Write(a.Data); err != nil {
		return matrix.Matrix{}, &accelerated.DeviceError{Op: "upload a", Err: err}
	}

	if err := bDev.Write(b.Data); err != nil {
		return matrix.Matrix{}, &accelerated.DeviceError{Op: "upload b", Err: err}
	}

	if err := backend.MatMul(cDev, aDev, bDev, m, k, n); err != nil {
		return matrix.Matrix{}, &accelerated.DeviceError{Op: "dispatch", Err: err}
	}

	out, err := cDev.ReadBack()
	if err != nil {
		return matrix.Matrix{}, &accelerated.DeviceError{Op: "readback", Err: err}
	}

	c, err = matrix.FromFlat(out, m, n)
	if err != nil {
		return matrix.Matrix{}, &accelerated.DeviceError{Op: "readback", Err: err}
	}

	return c, nil
}
