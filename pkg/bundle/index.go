package bundle

import (
	"fmt"
	"math"

	"github.com/goccy/go-json"
)

// DType names a tensor element encoding.
type DType string

const (
	DTypeF32 DType = "f32"
	DTypeF16 DType = "f16"
)

// ElemSize returns the byte width of one element, and whether the dtype
// is known.
func (d DType) ElemSize() (int, bool) {
	switch d {
	case DTypeF32:
		return 4, true
	case DTypeF16:
		return 2, true
	default:
		return 0, false
	}
}

// tensorAlign keeps every tensor payload aligned within the tensor-data
// section so mapped f32 data can be cast without copying.
const tensorAlign = 8

// TensorInfo locates one tensor inside the tensor-data section. Offset is
// section-relative.
type TensorInfo struct {
	Name   string `json:"name"`
	DType  DType  `json:"dtype"`
	Shape  []int  `json:"shape"`
	Offset uint64 `json:"offset"`
	Size   uint64 `json:"size"`
}

// NumElements returns the element count implied by Shape, guarding
// against overflow.
func (t *TensorInfo) NumElements() (int, error) {
	n := 1
	for _, d := range t.Shape {
		if d <= 0 {
			return 0, fmt.Errorf("%w: tensor %q has non-positive dim %d", ErrCorruptFile, t.Name, d)
		}
		if n > math.MaxInt/d {
			return 0, fmt.Errorf("%w: tensor %q shape overflows", ErrCorruptFile, t.Name)
		}
		n *= d
	}
	return n, nil
}

// TensorIndex is the JSON payload of the tensor-index section.
type TensorIndex struct {
	Tensors []TensorInfo `json:"tensors"`

	byName map[string]int
}

// EncodeTensorIndex serialises an index for WriteSection.
func EncodeTensorIndex(tensors []TensorInfo) ([]byte, error) {
	return json.Marshal(&TensorIndex{Tensors: tensors})
}

// ParseTensorIndex decodes and validates a tensor index against the size
// of the tensor-data section.
func ParseTensorIndex(data []byte, dataSize uint64) (*TensorIndex, error) {
	var ix TensorIndex
	if err := json.Unmarshal(data, &ix); err != nil {
		return nil, fmt.Errorf("%w: tensor index: %v", ErrCorruptFile, err)
	}
	ix.byName = make(map[string]int, len(ix.Tensors))

	for i := range ix.Tensors {
		t := &ix.Tensors[i]
		if t.Name == "" {
			return nil, fmt.Errorf("%w: tensor %d has no name", ErrCorruptFile, i)
		}
		if _, dup := ix.byName[t.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate tensor %q", ErrCorruptFile, t.Name)
		}
		elemSize, ok := t.DType.ElemSize()
		if !ok {
			return nil, fmt.Errorf("%w: tensor %q has unknown dtype %q", ErrCorruptFile, t.Name, t.DType)
		}
		if len(t.Shape) == 0 {
			return nil, fmt.Errorf("%w: tensor %q has no shape", ErrCorruptFile, t.Name)
		}
		n, err := t.NumElements()
		if err != nil {
			return nil, err
		}
		if n > math.MaxInt/elemSize {
			return nil, fmt.Errorf("%w: tensor %q byte size overflows", ErrCorruptFile, t.Name)
		}
		if uint64(n*elemSize) != t.Size {
			return nil, fmt.Errorf("%w: tensor %q size %d does not match shape %v (%s)",
				ErrCorruptFile, t.Name, t.Size, t.Shape, t.DType)
		}
		end := t.Offset + t.Size
		if end < t.Offset || end > dataSize {
			return nil, fmt.Errorf("%w: tensor %q extends past tensor data", ErrCorruptFile, t.Name)
		}
		ix.byName[t.Name] = i
	}
	return &ix, nil
}

// Lookup returns the tensor with the given name.
func (ix *TensorIndex) Lookup(name string) (*TensorInfo, bool) {
	i, ok := ix.byName[name]
	if !ok {
		return nil, false
	}
	return &ix.Tensors[i], true
}
