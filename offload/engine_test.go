package offload

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/haormj/daitcore/accelerated"
	"github.com/haormj/daitcore/accelerated/cpu"
	"github.com/haormj/daitcore/matrix"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errInjected = errors.New("injected failure")

// faulty wraps the CPU backend and fails the named step.
type faulty struct {
	*cpu.CPU
	failOn string
	allocs int
	failAt int
}

type faultyBuffer struct {
	accelerated.Buffer
	owner *faulty
}

func (f *faulty) Alloc(size int) (accelerated.Buffer, error) {
	f.allocs++
	if f.failOn == "alloc" && f.allocs == f.failAt {
		return nil, errInjected
	}

	buf, err := f.CPU.Alloc(size)
	if err != nil {
		return nil, err
	}

	return &faultyBuffer{Buffer: buf, owner: f}, nil
}

func (f *faulty) MatMul(c, a, b accelerated.Buffer, m, k, n int) error {
	if f.failOn == "dispatch" {
		return errInjected
	}

	return f.CPU.MatMul(c.(*faultyBuffer).Buffer, a.(*faultyBuffer).Buffer, b.(*faultyBuffer).Buffer, m, k, n)
}

func (b *faultyBuffer) Write(data []float32) error {
	if b.owner.failOn == "upload" {
		return errInjected
	}

	return b.Buffer.Write(data)
}

func (b *faultyBuffer) ReadBack() ([]float32, error) {
	if b.owner.failOn == "readback" {
		return nil, errInjected
	}

	return b.Buffer.ReadBack()
}

func mustFlat(t *testing.T, data []float32, rows, cols int) matrix.Matrix {
	t.Helper()

	m, err := matrix.FromFlat(data, rows, cols)
	require.NoError(t, err)

	return m
}

func TestMultiply2x2(t *testing.T) {
	backend := cpu.New(2)

	a := mustFlat(t, []float32{1, 2, 3, 4}, 2, 2)
	b := mustFlat(t, []float32{5, 6, 7, 8}, 2, 2)

	c, err := Multiply(backend, a, b)
	require.NoError(t, err)
	assert.Equal(t, 2, c.Rows)
	assert.Equal(t, 2, c.Cols)
	assert.Equal(t, [][]float32{{19, 22}, {43, 50}}, c.Grid())
	assert.Equal(t, 0, backend.Live())

	assert.Equal(t, []float32{1, 2, 3, 4}, a.Data)
	assert.Equal(t, []float32{5, 6, 7, 8}, b.Data)
}

func TestMultiplyAgainstDefinition(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	backend := cpu.New(0)

	for _, s := range [][3]int{{1, 1, 1}, {2, 3, 4}, {9, 1, 5}, {31, 17, 13}} {
		m, k, n := s[0], s[1], s[2]
		a, b := matrix.New(m, k), matrix.New(k, n)
		for i := range a.Data {
			a.Data[i] = r.Float32()
		}
		for i := range b.Data {
			b.Data[i] = r.Float32()
		}

		c, err := Multiply(backend, a, b)
		require.NoError(t, err)
		require.Equal(t, m, c.Rows)
		require.Equal(t, n, c.Cols)

		for x := 0; x < m; x++ {
			for y := 0; y < n; y++ {
				var want float64
				for i := 0; i < k; i++ {
					want += float64(a.At(x, i)) * float64(b.At(i, y))
				}
				assert.InDelta(t, want, float64(c.At(x, y)), 1e-4*math.Max(1, math.Abs(want)))
			}
		}
	}

	assert.Equal(t, 0, backend.Live())
}

func TestMultiplyDimensionMismatch(t *testing.T) {
	f := &faulty{CPU: cpu.New(1)}

	_, err := Multiply(f, matrix.New(1, 2), matrix.New(3, 1))
	require.ErrorIs(t, err, matrix.ErrDimensionMismatch)
	assert.NotErrorIs(t, err, accelerated.ErrDevice)
	assert.Zero(t, f.allocs)
}

func TestMultiplyDegenerate(t *testing.T) {
	f := &faulty{CPU: cpu.New(1)}

	c, err := Multiply(f, matrix.New(0, 0), matrix.New(0, 0))
	require.NoError(t, err)
	assert.Equal(t, 0, c.Rows)
	assert.Equal(t, 0, c.Cols)
	assert.Empty(t, c.Data)
	assert.Zero(t, f.allocs)

	c, err = Multiply(f, matrix.New(2, 0), matrix.New(0, 3))
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 0, 0, 0, 0, 0}, c.Data)
}

func TestMultiplyDeviceErrorsReleaseBuffers(t *testing.T) {
	cases := []struct {
		failOn string
		failAt int
		op     string
	}{
		{"alloc", 1, "alloc"},
		{"alloc", 2, "alloc"},
		{"alloc", 3, "alloc"},
		{"upload", 0, "upload a"},
		{"dispatch", 0, "dispatch"},
		{"readback", 0, "readback"},
	}

	for _, tc := range cases {
		t.Run(tc.op, func(t *testing.T) {
			f := &faulty{CPU: cpu.New(1), failOn: tc.failOn, failAt: tc.failAt}
			before := f.Live()

			_, err := Multiply(f, matrix.New(2, 2), matrix.New(2, 2))
			require.ErrorIs(t, err, accelerated.ErrDevice)
			require.ErrorIs(t, err, errInjected)

			var devErr *accelerated.DeviceError
			require.True(t, errors.As(err, &devErr))
			assert.Equal(t, tc.op, devErr.Op)

			assert.Equal(t, before, f.Live())
		})
	}
}

func TestEngineReusesBackend(t *testing.T) {
	backend := cpu.New(2)
	engine := New(backend, nil)

	for i := 0; i < 3; i++ {
		c, err := engine.Multiply(matrix.New(3, 3), matrix.New(3, 3))
		require.NoError(t, err)
		assert.Equal(t, 9, c.Len())
	}

	assert.Equal(t, 0, backend.Live())
}
