package tensor

import (
	"errors"
	"math/rand"

	"github.com/s4sarath/rosetta/pkg/bundle"
)

var (
	ErrNegativeDim      = errors.New("tensor: negative matrix dimension")
	ErrUnsupportedDType = errors.New("tensor: unsupported dtype")
	ErrSizeMismatch     = errors.New("tensor: data length mismatch")
)

// Mat is a dense row-major matrix of float32 values.
//
// R and C are the number of rows and columns. Stride is the number of
// elements between the starts of two consecutive rows; for row-major
// matrices this equals C. Data holds the flattened values.
//
// For f32 weights Data is populated for direct access. For f16 weights
// Raw holds the encoded bytes and rows are decoded inline in MatVec and
// RowTo to reduce memory bandwidth pressure.
type Mat struct {
	R, C   int
	Stride int

	DType bundle.DType
	Data  []float32
	Raw   []byte
}

// NewMat allocates a zero-initialised f32 matrix with the given shape.
func NewMat(r, c int) Mat {
	if r < 0 || c < 0 {
		panic("tensor: negative dimension for matrix")
	}
	return Mat{
		R:      r,
		C:      c,
		Stride: c,
		DType:  bundle.DTypeF32,
		Data:   make([]float32, r*c),
	}
}

// NewMatFromData wraps existing f32 data as an r by c matrix.
func NewMatFromData(r, c int, data []float32) (Mat, error) {
	if r < 0 || c < 0 {
		return Mat{}, ErrNegativeDim
	}
	if r*c != len(data) {
		return Mat{}, ErrSizeMismatch
	}
	return Mat{
		R:      r,
		C:      c,
		Stride: c,
		DType:  bundle.DTypeF32,
		Data:   data,
	}, nil
}

// NewMatFromRaw wraps raw bytes in the given dtype as an r by c matrix.
// The raw slice must contain exactly r*c elements in row-major layout.
func NewMatFromRaw(r, c int, dtype bundle.DType, raw []byte) (Mat, error) {
	if r < 0 || c < 0 {
		return Mat{}, ErrNegativeDim
	}
	elemSize, ok := dtype.ElemSize()
	if !ok {
		return Mat{}, ErrUnsupportedDType
	}
	want := r * c
	if r != 0 && want/r != c {
		return Mat{}, ErrSizeMismatch
	}
	wantBytes := want * elemSize
	if want != 0 && wantBytes/want != elemSize {
		return Mat{}, ErrSizeMismatch
	}
	if len(raw) != wantBytes {
		return Mat{}, ErrSizeMismatch
	}
	if dtype == bundle.DTypeF32 {
		data, err := F32FromRaw(raw)
		if err != nil {
			return Mat{}, err
		}
		return Mat{R: r, C: c, Stride: c, DType: dtype, Data: data}, nil
	}
	return Mat{
		R:      r,
		C:      c,
		Stride: c,
		DType:  dtype,
		Raw:    raw,
	}, nil
}

// Row returns the i-th row. For f32 matrices the returned slice is a
// view into the underlying data; for f16 matrices it is a freshly
// decoded copy.
func (m *Mat) Row(i int) []float32 {
	if i < 0 || i >= m.R {
		panic("tensor: row index out of range")
	}
	if m.Raw == nil || m.DType == bundle.DTypeF32 {
		start := i * m.Stride
		return m.Data[start : start+m.C]
	}
	row := make([]float32, m.C)
	m.RowTo(row, i)
	return row
}

// RowTo decodes the i-th row into dst. dst must have length >= C.
func (m *Mat) RowTo(dst []float32, i int) {
	if i < 0 || i >= m.R {
		panic("tensor: row index out of range")
	}
	if len(dst) < m.C {
		panic("tensor: row buffer too small")
	}
	if m.Raw == nil || m.DType == bundle.DTypeF32 {
		start := i * m.Stride
		copy(dst[:m.C], m.Data[start:start+m.C])
		return
	}
	if m.DType != bundle.DTypeF16 {
		panic("tensor: unsupported dtype for row decode")
	}
	off := i * m.Stride * 2
	for j := 0; j < m.C; j++ {
		dst[j] = fp16ToF32Table(u16le(m.Raw, off+j*2))
	}
}

// FillRand fills an f32 matrix with reproducible pseudo-random values in
// a small range around zero. The same seed always produces the same
// matrix.
func FillRand(m *Mat, seed int64) {
	if m.Raw != nil && m.DType != bundle.DTypeF32 {
		panic("tensor: FillRand only supports f32 mats")
	}
	rng := rand.New(rand.NewSource(seed))
	for i := range m.Data {
		m.Data[i] = (rng.Float32() - 0.5) * 0.02
	}
}
