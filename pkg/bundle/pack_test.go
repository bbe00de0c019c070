package bundle

import (
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"
)

func f32le(vals ...float32) []byte {
	raw := make([]byte, len(vals)*4)
	for i, v := range vals {
		binary.LittleEndian.PutUint32(raw[i*4:], math.Float32bits(v))
	}
	return raw
}

// writeManifestDir lays out a minimal pack input: three tensors, two of
// them byte-identical so dedup has something to collapse.
func writeManifestDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	files := map[string][]byte{
		ManifestModelInfo:   []byte(`{"arch":"gru_seq2seq","d_model":3,"hidden":3,"layers":1,"src_vocab":2,"tgt_vocab":2}`),
		ManifestSourceVocab: []byte(`{"tokens":["<pad>","<unk>"],"pad_token_id":0,"unk_token_id":1,"bos_token_id":0,"eos_token_id":1}`),
		ManifestTargetVocab: []byte(`{"tokens":["<pad>","<unk>"],"pad_token_id":0,"unk_token_id":1,"bos_token_id":0,"eos_token_id":1}`),
		ManifestTensors: []byte(`{"tensors":[
			{"name":"enc.w","shape":[2,3],"file":"enc.w.f32"},
			{"name":"dec.w","shape":[2,3],"file":"dec.w.f32"},
			{"name":"proj.b","shape":[4],"file":"proj.b.f32"}
		]}`),
		"enc.w.f32":  f32le(0.5, 1, 1.5, -2, 0.25, 4),
		"dec.w.f32":  f32le(0.5, 1, 1.5, -2, 0.25, 4),
		"proj.b.f32": f32le(1, 0.5, -0.5, 0),
	}
	for name, data := range files {
		if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	return dir
}

func TestPackRoundTrip(t *testing.T) {
	t.Parallel()

	dir := writeManifestDir(t)
	outPath := filepath.Join(t.TempDir(), "model.rtb")

	res, err := Pack(PackOptions{InputDir: dir, OutputPath: outPath})
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	if res.Tensors != 3 {
		t.Fatalf("unexpected tensor count: %d", res.Tensors)
	}
	if res.Reused != 1 {
		t.Fatalf("expected one deduplicated tensor, got %d", res.Reused)
	}
	if want := uint64(6*4 + 4*4); res.TensorBytes != want {
		t.Fatalf("unexpected tensor bytes: got %d want %d", res.TensorBytes, want)
	}

	bf, err := Open(outPath)
	if err != nil {
		t.Fatalf("open packed bundle: %v", err)
	}
	defer func() { _ = bf.Close() }()

	info := bf.SectionData(bf.Section(SectionModelInfo))
	if len(info) == 0 {
		t.Fatalf("missing model info section")
	}
	if bf.SectionData(bf.Section(SectionSourceVocab)) == nil || bf.SectionData(bf.Section(SectionTargetVocab)) == nil {
		t.Fatalf("missing vocab sections")
	}

	dataSec := bf.Section(SectionTensorData)
	if dataSec == nil {
		t.Fatalf("missing tensor data section")
	}
	ix, err := ParseTensorIndex(bf.SectionData(bf.Section(SectionTensorIndex)), dataSec.Size)
	if err != nil {
		t.Fatalf("parse tensor index: %v", err)
	}
	if len(ix.Tensors) != 3 {
		t.Fatalf("unexpected index size: %d", len(ix.Tensors))
	}

	enc, ok := ix.Lookup("enc.w")
	if !ok {
		t.Fatalf("enc.w missing from index")
	}
	dec, ok := ix.Lookup("dec.w")
	if !ok {
		t.Fatalf("dec.w missing from index")
	}
	if enc.Offset != dec.Offset {
		t.Fatalf("tied tensors not deduplicated: %d vs %d", enc.Offset, dec.Offset)
	}
	if enc.DType != DTypeF32 {
		t.Fatalf("unexpected dtype: %s", enc.DType)
	}

	data := bf.SectionData(dataSec)
	got := data[enc.Offset : enc.Offset+enc.Size]
	want := f32le(0.5, 1, 1.5, -2, 0.25, 4)
	if string(got) != string(want) {
		t.Fatalf("tensor payload mismatch")
	}
}

func TestPackF16Converts(t *testing.T) {
	t.Parallel()

	dir := writeManifestDir(t)
	outPath := filepath.Join(t.TempDir(), "model.rtb")

	if _, err := Pack(PackOptions{InputDir: dir, OutputPath: outPath, DType: DTypeF16}); err != nil {
		t.Fatalf("pack: %v", err)
	}

	bf, err := Open(outPath)
	if err != nil {
		t.Fatalf("open packed bundle: %v", err)
	}
	defer func() { _ = bf.Close() }()

	dataSec := bf.Section(SectionTensorData)
	ix, err := ParseTensorIndex(bf.SectionData(bf.Section(SectionTensorIndex)), dataSec.Size)
	if err != nil {
		t.Fatalf("parse tensor index: %v", err)
	}

	ti, ok := ix.Lookup("proj.b")
	if !ok {
		t.Fatalf("proj.b missing from index")
	}
	if ti.DType != DTypeF16 {
		t.Fatalf("unexpected dtype: %s", ti.DType)
	}
	if ti.Size != 4*2 {
		t.Fatalf("unexpected f16 size: %d", ti.Size)
	}

	// 1, 0.5, -0.5, 0 are exactly representable in binary16.
	wantBits := []uint16{0x3C00, 0x3800, 0xB800, 0x0000}
	payload := bf.SectionData(dataSec)[ti.Offset : ti.Offset+ti.Size]
	for i, want := range wantBits {
		got := uint16(payload[i*2]) | uint16(payload[i*2+1])<<8
		if got != want {
			t.Fatalf("element %d: got bits %04x want %04x", i, got, want)
		}
	}
}

func TestPackRejectsBadInput(t *testing.T) {
	t.Parallel()

	t.Run("missing manifest", func(t *testing.T) {
		t.Parallel()
		out := filepath.Join(t.TempDir(), "model.rtb")
		if _, err := Pack(PackOptions{InputDir: t.TempDir(), OutputPath: out}); err == nil {
			t.Fatalf("expected error for missing tensors.json")
		}
	})

	t.Run("unsupported dtype", func(t *testing.T) {
		t.Parallel()
		dir := writeManifestDir(t)
		out := filepath.Join(t.TempDir(), "model.rtb")
		if _, err := Pack(PackOptions{InputDir: dir, OutputPath: out, DType: DType("f64")}); err == nil {
			t.Fatalf("expected error for unsupported dtype")
		}
	})

	t.Run("tensor size mismatch", func(t *testing.T) {
		t.Parallel()
		dir := writeManifestDir(t)
		if err := os.WriteFile(filepath.Join(dir, "proj.b.f32"), f32le(1, 2), 0o644); err != nil {
			t.Fatalf("truncate tensor file: %v", err)
		}
		out := filepath.Join(t.TempDir(), "model.rtb")
		if _, err := Pack(PackOptions{InputDir: dir, OutputPath: out}); err == nil {
			t.Fatalf("expected error for short tensor file")
		}
	})

	t.Run("invalid vocab json", func(t *testing.T) {
		t.Parallel()
		dir := writeManifestDir(t)
		if err := os.WriteFile(filepath.Join(dir, ManifestSourceVocab), []byte("not json"), 0o644); err != nil {
			t.Fatalf("corrupt vocab file: %v", err)
		}
		out := filepath.Join(t.TempDir(), "model.rtb")
		if _, err := Pack(PackOptions{InputDir: dir, OutputPath: out}); err == nil {
			t.Fatalf("expected error for invalid vocab JSON")
		}
	})
}
