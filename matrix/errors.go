package matrix

import "fmt"

// DimensionError is returned when A.Cols != B.Rows for a product A*B.
type DimensionError struct {
	A, B string
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("matrix: cannot multiply %s matrix by %s matrix", e.A, e.B)
}

func (e *DimensionError) Is(target error) bool {
	return target == ErrDimensionMismatch
}

// CheckMultiply validates the operands of A*B. Malformed storage is reported
// as ErrShape, non-conforming inner dimensions as a *DimensionError.
func CheckMultiply(a, b Matrix) error {
	if !a.Valid() {
		return fmt.Errorf("%w: left operand %s holds %d values", ErrShape, a.Shape(), len(a.Data))
	}

	if !b.Valid() {
		return fmt.Errorf("%w: right operand %s holds %d values", ErrShape, b.Shape(), len(b.Data))
	}

	if a.Cols != b.Rows {
		return &DimensionError{A: a.Shape(), B: b.Shape()}
	}

	return nil
}
