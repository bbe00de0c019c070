package tensor

import (
	"fmt"

	"github.com/s4sarath/rosetta/pkg/bundle"
)

// LoadMat loads a 2D tensor from a bundle tensor-data payload. For f32
// tensors the matrix aliases the payload where the host allows it; f16
// tensors keep their raw bytes and decode on access.
func LoadMat(ix *bundle.TensorIndex, data []byte, name string) (*Mat, error) {
	info, raw, err := tensorPayload(ix, data, name)
	if err != nil {
		return nil, err
	}
	if len(info.Shape) != 2 {
		return nil, fmt.Errorf("tensor %s: expected 2D shape, got %v", name, info.Shape)
	}
	m, err := NewMatFromRaw(info.Shape[0], info.Shape[1], info.DType, raw)
	if err != nil {
		return nil, fmt.Errorf("tensor %s: %w", name, err)
	}
	return &m, nil
}

// LoadVec loads a 1D tensor as a float32 slice, decoding f16 payloads.
func LoadVec(ix *bundle.TensorIndex, data []byte, name string) ([]float32, error) {
	info, raw, err := tensorPayload(ix, data, name)
	if err != nil {
		return nil, err
	}
	if len(info.Shape) != 1 {
		return nil, fmt.Errorf("tensor %s: expected 1D shape, got %v", name, info.Shape)
	}
	switch info.DType {
	case bundle.DTypeF32:
		v, err := F32FromRaw(raw)
		if err != nil {
			return nil, fmt.Errorf("tensor %s: %w", name, err)
		}
		return v, nil
	case bundle.DTypeF16:
		v, err := F16FromRaw(raw)
		if err != nil {
			return nil, fmt.Errorf("tensor %s: %w", name, err)
		}
		return v, nil
	default:
		return nil, fmt.Errorf("tensor %s: %w", name, ErrUnsupportedDType)
	}
}

func tensorPayload(ix *bundle.TensorIndex, data []byte, name string) (*bundle.TensorInfo, []byte, error) {
	info, ok := ix.Lookup(name)
	if !ok {
		return nil, nil, fmt.Errorf("tensor %s: not present in bundle", name)
	}
	end := info.Offset + info.Size
	if end < info.Offset || end > uint64(len(data)) {
		return nil, nil, fmt.Errorf("tensor %s: payload out of bounds", name)
	}
	return info, data[info.Offset:end], nil
}
