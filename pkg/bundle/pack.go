package bundle

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"
)

// Manifest file names inside a pack input directory.
const (
	ManifestModelInfo   = "model.json"
	ManifestSourceVocab = "vocab.src.json"
	ManifestTargetVocab = "vocab.tgt.json"
	ManifestTensors     = "tensors.json"
)

const (
	modelInfoVersion   uint32 = 1
	vocabVersion       uint32 = 1
	tensorIndexVersion uint32 = 1
	tensorDataVersion  uint32 = 1
)

// PackManifest is the tensors.json payload: the tensor list of a bundle
// under construction. Each entry names the raw little-endian f32 file
// holding its data, relative to the manifest directory unless absolute.
type PackManifest struct {
	Tensors []PackTensor `json:"tensors"`
}

type PackTensor struct {
	Name  string `json:"name"`
	Shape []int  `json:"shape"`
	File  string `json:"file"`
}

type PackOptions struct {
	// InputDir is the manifest directory holding model.json,
	// vocab.src.json, vocab.tgt.json, tensors.json and the raw tensor
	// files.
	InputDir string

	// OutputPath is the .rtb file to create.
	OutputPath string

	// DType selects the stored weight encoding. Empty keeps f32.
	DType DType
}

// PackResult reports what Pack wrote.
type PackResult struct {
	Tensors     int
	Reused      int
	TensorBytes uint64
	FileSize    uint64
}

// Pack assembles an .rtb bundle from a manifest directory. Tensor
// payloads are deduplicated, so tied matrices listed twice are stored
// once.
func Pack(opts PackOptions) (*PackResult, error) {
	if opts.InputDir == "" {
		return nil, errors.New("bundle: pack: InputDir required")
	}
	if opts.OutputPath == "" {
		return nil, errors.New("bundle: pack: OutputPath required")
	}
	switch opts.DType {
	case "":
		opts.DType = DTypeF32
	case DTypeF32, DTypeF16:
	default:
		return nil, fmt.Errorf("bundle: pack: unsupported dtype %q (use f32 or f16)", opts.DType)
	}

	manifest, err := readPackManifest(filepath.Join(opts.InputDir, ManifestTensors))
	if err != nil {
		return nil, err
	}
	if len(manifest.Tensors) == 0 {
		return nil, errors.New("bundle: pack: manifest lists no tensors")
	}

	outF, err := os.Create(opts.OutputPath)
	if err != nil {
		return nil, err
	}
	defer func() { _ = outF.Close() }()

	w, err := NewWriter(outF)
	if err != nil {
		return nil, err
	}

	if err := writeJSONFileSection(w, SectionModelInfo, modelInfoVersion, filepath.Join(opts.InputDir, ManifestModelInfo)); err != nil {
		return nil, err
	}
	if err := writeJSONFileSection(w, SectionSourceVocab, vocabVersion, filepath.Join(opts.InputDir, ManifestSourceVocab)); err != nil {
		return nil, err
	}
	if err := writeJSONFileSection(w, SectionTargetVocab, vocabVersion, filepath.Join(opts.InputDir, ManifestTargetVocab)); err != nil {
		return nil, err
	}

	td, err := w.BeginSection(SectionTensorData, tensorDataVersion)
	if err != nil {
		return nil, err
	}

	res := &PackResult{}
	dedup := NewDeduper(td)
	infos := make([]TensorInfo, 0, len(manifest.Tensors))
	for i := range manifest.Tensors {
		info, reused, err := packTensor(dedup, &opts, &manifest.Tensors[i])
		if err != nil {
			return nil, err
		}
		if reused {
			res.Reused++
		} else {
			res.TensorBytes += info.Size
		}
		infos = append(infos, *info)
	}
	res.Tensors = len(infos)

	if err := td.End(); err != nil {
		return nil, err
	}

	idxBytes, err := EncodeTensorIndex(infos)
	if err != nil {
		return nil, err
	}
	if err := w.WriteSection(SectionTensorIndex, tensorIndexVersion, idxBytes); err != nil {
		return nil, err
	}

	if err := w.Finalise(); err != nil {
		return nil, err
	}
	if st, err := outF.Stat(); err == nil {
		res.FileSize = uint64(st.Size())
	}
	return res, nil
}

func readPackManifest(path string) (*PackManifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("bundle: pack: %w", err)
	}
	var m PackManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("bundle: pack: parse %s: %w", filepath.Base(path), err)
	}
	return &m, nil
}

// writeJSONFileSection embeds a manifest JSON file as a section after a
// well-formedness check. Pack does not interpret the payload; readers
// validate the content.
func writeJSONFileSection(w *Writer, typ SectionType, version uint32, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("bundle: pack: %s: %w", typ, err)
	}
	if !json.Valid(data) {
		return fmt.Errorf("bundle: pack: %s: %s is not valid JSON", typ, filepath.Base(path))
	}
	return w.WriteSection(typ, version, data)
}

func packTensor(d *Deduper, opts *PackOptions, mt *PackTensor) (*TensorInfo, bool, error) {
	if mt.Name == "" {
		return nil, false, errors.New("bundle: pack: tensor with no name")
	}
	if mt.File == "" {
		return nil, false, fmt.Errorf("bundle: pack: tensor %q has no file", mt.Name)
	}

	info := TensorInfo{Name: mt.Name, DType: opts.DType, Shape: mt.Shape}
	n, err := info.NumElements()
	if err != nil {
		return nil, false, err
	}

	path := mt.File
	if !filepath.IsAbs(path) {
		path = filepath.Join(opts.InputDir, path)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, false, fmt.Errorf("bundle: pack: tensor %q: %w", mt.Name, err)
	}
	if len(raw) != n*4 {
		return nil, false, fmt.Errorf("bundle: pack: tensor %q: file %s holds %d bytes, shape %v needs %d",
			mt.Name, mt.File, len(raw), mt.Shape, n*4)
	}

	payload := raw
	if opts.DType == DTypeF16 {
		payload = f32RawToF16Raw(raw)
	}

	off, reused, err := d.WriteTensor(payload)
	if err != nil {
		return nil, false, fmt.Errorf("bundle: pack: tensor %q: %w", mt.Name, err)
	}
	info.Offset = off
	info.Size = uint64(len(payload))
	return &info, reused, nil
}

// f32RawToF16Raw narrows little-endian f32 bytes to binary16 with
// nearest-even rounding.
func f32RawToF16Raw(raw []byte) []byte {
	out := make([]byte, len(raw)/2)
	for i := 0; i < len(raw); i += 4 {
		f := math.Float32frombits(binary.LittleEndian.Uint32(raw[i:]))
		u := packFP16Bits(f)
		out[i/2] = byte(u)
		out[i/2+1] = byte(u >> 8)
	}
	return out
}

func packFP16Bits(f float32) uint16 {
	u := math.Float32bits(f)
	sign := (u >> 31) & 0x1
	exp := int((u >> 23) & 0xFF)
	frac := u & 0x7FFFFF

	if exp == 0xFF {
		// Inf/NaN
		if frac != 0 {
			return uint16((sign << 15) | 0x7C00 | (frac >> 13) | 1)
		}
		return uint16((sign << 15) | 0x7C00)
	}

	e := exp - 127
	if e > 15 {
		// overflow -> inf
		return uint16((sign << 15) | 0x7C00)
	}
	if e < -14 {
		// subnormal or zero
		if e < -25 {
			return uint16(sign << 15)
		}
		frac |= 0x800000
		shift := uint32(-1 - e)
		rnd := uint32(1)<<(shift-1) - 1 + ((frac >> shift) & 1)
		return uint16((sign << 15) | ((frac + rnd) >> shift))
	}

	exp16 := uint32(e + 15)
	rnd := uint32(0xFFF + ((frac >> 13) & 1))
	frac = frac + rnd
	if (frac & 0x800000) != 0 {
		// carry into exponent
		exp16++
		frac = 0
		if exp16 >= 0x1F {
			return uint16((sign << 15) | 0x7C00)
		}
	}
	return uint16((sign << 15) | (exp16 << 10) | (frac >> 13))
}
