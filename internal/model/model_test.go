package model

import (
	"math"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/goccy/go-json"

	"github.com/s4sarath/rosetta/internal/tensor"
	"github.com/s4sarath/rosetta/pkg/bundle"
)

func mustMat(t *testing.T, r, c int, data []float32) *tensor.Mat {
	t.Helper()
	m, err := tensor.NewMatFromData(r, c, data)
	if err != nil {
		t.Fatalf("NewMatFromData: %v", err)
	}
	return &m
}

func genValues(n, seed int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(math.Sin(float64(seed*31+i*7))) * 0.5
	}
	return out
}

func randLayer(t *testing.T, in, hidden, seed int) Layer {
	t.Helper()
	return Layer{
		Wz: mustMat(t, hidden, in, genValues(hidden*in, seed+1)),
		Uz: mustMat(t, hidden, hidden, genValues(hidden*hidden, seed+2)),
		Bz: genValues(hidden, seed+3),
		Wr: mustMat(t, hidden, in, genValues(hidden*in, seed+4)),
		Ur: mustMat(t, hidden, hidden, genValues(hidden*hidden, seed+5)),
		Br: genValues(hidden, seed+6),
		Wh: mustMat(t, hidden, in, genValues(hidden*in, seed+7)),
		Uh: mustMat(t, hidden, hidden, genValues(hidden*hidden, seed+8)),
		Bh: genValues(hidden, seed+9),
	}
}

func newTestModel(t *testing.T) *Model {
	t.Helper()
	cfg := Config{
		Arch:     ArchGRUSeq2Seq,
		DModel:   3,
		Hidden:   4,
		Layers:   2,
		SrcVocab: 5,
		TgtVocab: 6,
	}
	m := &Model{
		Config:   cfg,
		SrcEmbed: mustMat(t, cfg.SrcVocab, cfg.DModel, genValues(cfg.SrcVocab*cfg.DModel, 100)),
		TgtEmbed: mustMat(t, cfg.TgtVocab, cfg.DModel, genValues(cfg.TgtVocab*cfg.DModel, 200)),
		ProjW:    mustMat(t, cfg.TgtVocab, cfg.Hidden, genValues(cfg.TgtVocab*cfg.Hidden, 300)),
		ProjB:    genValues(cfg.TgtVocab, 400),
	}
	for i := 0; i < cfg.Layers; i++ {
		in := cfg.DModel
		if i > 0 {
			in = cfg.Hidden
		}
		m.Encoder = append(m.Encoder, randLayer(t, in, cfg.Hidden, 1000+i*10))
		m.Decoder = append(m.Decoder, randLayer(t, in, cfg.Hidden, 2000+i*10))
	}
	return m
}

func TestGRUCellMatchesReference(t *testing.T) {
	l := Layer{
		Wz: mustMat(t, 2, 2, []float32{0.1, 0.2, 0.3, 0.4}),
		Uz: mustMat(t, 2, 2, []float32{0.5, -0.5, 0.25, 0.75}),
		Bz: []float32{0.1, -0.2},
		Wr: mustMat(t, 2, 2, []float32{-0.1, 0.6, 0.2, -0.3}),
		Ur: mustMat(t, 2, 2, []float32{0.4, 0.1, -0.2, 0.5}),
		Br: []float32{0.05, 0.15},
		Wh: mustMat(t, 2, 2, []float32{0.7, -0.4, 0.1, 0.9}),
		Uh: mustMat(t, 2, 2, []float32{0.3, 0.3, -0.6, 0.2}),
		Bh: []float32{-0.1, 0.2},
	}
	x := []float32{1, 0.5}
	h := []float32{0.2, -0.1}

	got := l.step(x, h, newGRUScratch(2))

	sigmoid := func(v float64) float64 { return 1 / (1 + math.Exp(-v)) }
	matvec := func(m *tensor.Mat, v []float32) []float64 {
		out := make([]float64, m.R)
		for i := 0; i < m.R; i++ {
			row := m.Row(i)
			for j := range row {
				out[i] += float64(row[j]) * float64(v[j])
			}
		}
		return out
	}
	wzx, uzh := matvec(l.Wz, x), matvec(l.Uz, h)
	wrx, urh := matvec(l.Wr, x), matvec(l.Ur, h)
	want := make([]float64, 2)
	rh := make([]float32, 2)
	for i := range rh {
		r := sigmoid(wrx[i] + urh[i] + float64(l.Br[i]))
		rh[i] = float32(r) * h[i]
	}
	whx, uhrh := matvec(l.Wh, x), matvec(l.Uh, rh)
	for i := range want {
		z := sigmoid(wzx[i] + uzh[i] + float64(l.Bz[i]))
		c := math.Tanh(whx[i] + uhrh[i] + float64(l.Bh[i]))
		want[i] = (1-z)*float64(h[i]) + z*c
	}

	for i := range want {
		if math.Abs(float64(got[i])-want[i]) > 1e-5 {
			t.Fatalf("hidden[%d] = %g, want %g", i, got[i], want[i])
		}
	}
	if h[0] != 0.2 || h[1] != -0.1 {
		t.Fatalf("input hidden vector was mutated: %v", h)
	}
}

func TestStepProbabilitiesNormalised(t *testing.T) {
	m := newTestModel(t)
	state, err := m.Encode([]int{0, 2, 4})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	probs, next, err := m.Step(1, state)
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if next == nil {
		t.Fatalf("Step returned nil state")
	}
	if len(probs) != m.Config.TgtVocab {
		t.Fatalf("got %d probabilities, want %d", len(probs), m.Config.TgtVocab)
	}
	var sum float64
	for i, p := range probs {
		if p < 0 || p > 1 {
			t.Fatalf("probs[%d] = %g out of range", i, p)
		}
		sum += float64(p)
	}
	if math.Abs(sum-1) > 1e-5 {
		t.Fatalf("probabilities sum to %g", sum)
	}
}

func TestStepIsPureOnItsState(t *testing.T) {
	m := newTestModel(t)
	state, err := m.Encode([]int{1, 3})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	snapshot := make([][]float32, len(state.(*decoderState).hidden))
	for i, h := range state.(*decoderState).hidden {
		snapshot[i] = append([]float32(nil), h...)
	}

	probsA, nextA, err := m.Step(2, state)
	if err != nil {
		t.Fatalf("first Step: %v", err)
	}
	probsB, nextB, err := m.Step(2, state)
	if err != nil {
		t.Fatalf("second Step: %v", err)
	}

	if !reflect.DeepEqual(probsA, probsB) {
		t.Fatalf("repeated Step from the same state diverged")
	}
	if !reflect.DeepEqual(nextA.(*decoderState).hidden, nextB.(*decoderState).hidden) {
		t.Fatalf("repeated Step produced different states")
	}
	if !reflect.DeepEqual(snapshot, state.(*decoderState).hidden) {
		t.Fatalf("Step mutated its input state")
	}
}

func TestStepRejectsBadInput(t *testing.T) {
	m := newTestModel(t)
	state, err := m.Encode(nil)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	if _, _, err := m.Step(-1, state); err == nil {
		t.Fatalf("expected error for negative token")
	}
	if _, _, err := m.Step(m.Config.TgtVocab, state); err == nil {
		t.Fatalf("expected error for out-of-range token")
	}
	if _, _, err := m.Step(0, "not a state"); err == nil {
		t.Fatalf("expected error for foreign state type")
	}
}

func TestEncodeRejectsOutOfRangeToken(t *testing.T) {
	m := newTestModel(t)
	if _, err := m.Encode([]int{0, m.Config.SrcVocab}); err == nil {
		t.Fatalf("expected error for out-of-range source token")
	}
}

func TestConfigValidate(t *testing.T) {
	good := Config{Arch: ArchGRUSeq2Seq, DModel: 2, Hidden: 2, Layers: 1, SrcVocab: 3, TgtVocab: 4}
	if err := good.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
	cases := []Config{
		{Arch: "transformer", DModel: 2, Hidden: 2, Layers: 1, SrcVocab: 3, TgtVocab: 4},
		{Arch: ArchGRUSeq2Seq, DModel: 0, Hidden: 2, Layers: 1, SrcVocab: 3, TgtVocab: 4},
		{Arch: ArchGRUSeq2Seq, DModel: 2, Hidden: 2, Layers: 0, SrcVocab: 3, TgtVocab: 4},
		{Arch: ArchGRUSeq2Seq, DModel: 2, Hidden: 2, Layers: 1, SrcVocab: 0, TgtVocab: 4},
	}
	for i, cfg := range cases {
		if err := cfg.Validate(); err == nil {
			t.Fatalf("case %d: invalid config accepted", i)
		}
	}
}

type testTensor struct {
	name string
	r, c int // c == 0 marks a vector
	data []float32
}

func modelTensors(cfg Config, seed int) []testTensor {
	var ts []testTensor
	ts = append(ts,
		testTensor{"src_embed", cfg.SrcVocab, cfg.DModel, genValues(cfg.SrcVocab*cfg.DModel, seed+1)},
		testTensor{"tgt_embed", cfg.TgtVocab, cfg.DModel, genValues(cfg.TgtVocab*cfg.DModel, seed+2)},
	)
	for _, prefix := range []string{"enc", "dec"} {
		for i := 0; i < cfg.Layers; i++ {
			in := cfg.DModel
			if i > 0 {
				in = cfg.Hidden
			}
			base := seed + 10*(i+1)
			if prefix == "dec" {
				base += 1000
			}
			for j, gate := range []string{"wz", "wr", "wh"} {
				ts = append(ts, testTensor{prefix + ".l" + itoa(i) + "." + gate, cfg.Hidden, in, genValues(cfg.Hidden*in, base+j)})
			}
			for j, gate := range []string{"uz", "ur", "uh"} {
				ts = append(ts, testTensor{prefix + ".l" + itoa(i) + "." + gate, cfg.Hidden, cfg.Hidden, genValues(cfg.Hidden*cfg.Hidden, base+3+j)})
			}
			for j, gate := range []string{"bz", "br", "bh"} {
				ts = append(ts, testTensor{prefix + ".l" + itoa(i) + "." + gate, cfg.Hidden, 0, genValues(cfg.Hidden, base+6+j)})
			}
		}
	}
	ts = append(ts,
		testTensor{"proj.w", cfg.TgtVocab, cfg.Hidden, genValues(cfg.TgtVocab*cfg.Hidden, seed+3)},
		testTensor{"proj.b", cfg.TgtVocab, 0, genValues(cfg.TgtVocab, seed+4)},
	)
	return ts
}

func itoa(i int) string {
	return string(rune('0' + i))
}

func writeModelBundle(t *testing.T, path string, cfg Config, tensors []testTensor) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	w, err := bundle.NewWriter(f)
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}

	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := w.WriteSection(bundle.SectionModelInfo, 1, cfgJSON); err != nil {
		t.Fatalf("write model info: %v", err)
	}

	sw, err := w.BeginSection(bundle.SectionTensorData, 1)
	if err != nil {
		t.Fatalf("begin tensor data: %v", err)
	}
	dd := bundle.NewDeduper(sw)
	var infos []bundle.TensorInfo
	for _, ts := range tensors {
		raw := tensor.EncodeF32Raw(ts.data)
		off, _, err := dd.WriteTensor(raw)
		if err != nil {
			t.Fatalf("write tensor %s: %v", ts.name, err)
		}
		shape := []int{ts.r}
		if ts.c > 0 {
			shape = []int{ts.r, ts.c}
		}
		infos = append(infos, bundle.TensorInfo{
			Name:   ts.name,
			DType:  bundle.DTypeF32,
			Shape:  shape,
			Offset: off,
			Size:   uint64(len(raw)),
		})
	}
	if err := sw.End(); err != nil {
		t.Fatalf("end tensor data: %v", err)
	}

	idxRaw, err := bundle.EncodeTensorIndex(infos)
	if err != nil {
		t.Fatalf("encode index: %v", err)
	}
	if err := w.WriteSection(bundle.SectionTensorIndex, 1, idxRaw); err != nil {
		t.Fatalf("write index: %v", err)
	}
	if err := w.Finalise(); err != nil {
		t.Fatalf("finalise: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestLoadFromBundle(t *testing.T) {
	cfg := Config{Arch: ArchGRUSeq2Seq, DModel: 2, Hidden: 3, Layers: 2, SrcVocab: 4, TgtVocab: 5}
	path := filepath.Join(t.TempDir(), "tiny.rtb")
	writeModelBundle(t, path, cfg, modelTensors(cfg, 7))

	bf, err := bundle.Open(path)
	if err != nil {
		t.Fatalf("open bundle: %v", err)
	}
	defer func() { _ = bf.Close() }()

	m, err := Load(bf)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.Config != cfg {
		t.Fatalf("config mismatch: got %+v", m.Config)
	}
	if len(m.Encoder) != 2 || len(m.Decoder) != 2 {
		t.Fatalf("layer count mismatch: %d/%d", len(m.Encoder), len(m.Decoder))
	}

	state, err := m.Encode([]int{0, 1, 3})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	probs, _, err := m.Step(2, state)
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	var sum float64
	for _, p := range probs {
		sum += float64(p)
	}
	if math.Abs(sum-1) > 1e-5 {
		t.Fatalf("probabilities sum to %g", sum)
	}
}

func TestLoadRejectsMissingTensor(t *testing.T) {
	cfg := Config{Arch: ArchGRUSeq2Seq, DModel: 2, Hidden: 3, Layers: 1, SrcVocab: 4, TgtVocab: 5}
	tensors := modelTensors(cfg, 7)
	// Drop the output bias.
	trimmed := tensors[:0]
	for _, ts := range tensors {
		if ts.name == "proj.b" {
			continue
		}
		trimmed = append(trimmed, ts)
	}
	path := filepath.Join(t.TempDir(), "broken.rtb")
	writeModelBundle(t, path, cfg, trimmed)

	bf, err := bundle.Open(path)
	if err != nil {
		t.Fatalf("open bundle: %v", err)
	}
	defer func() { _ = bf.Close() }()

	if _, err := Load(bf); err == nil {
		t.Fatalf("expected load failure for missing tensor")
	}
}

func TestLoadRejectsShapeMismatch(t *testing.T) {
	cfg := Config{Arch: ArchGRUSeq2Seq, DModel: 2, Hidden: 3, Layers: 1, SrcVocab: 4, TgtVocab: 5}
	tensors := modelTensors(cfg, 7)
	for i := range tensors {
		if tensors[i].name == "proj.w" {
			// Declare the transposed shape; element count still matches.
			tensors[i].r, tensors[i].c = cfg.Hidden, cfg.TgtVocab
		}
	}
	path := filepath.Join(t.TempDir(), "misshapen.rtb")
	writeModelBundle(t, path, cfg, tensors)

	bf, err := bundle.Open(path)
	if err != nil {
		t.Fatalf("open bundle: %v", err)
	}
	defer func() { _ = bf.Close() }()

	if _, err := Load(bf); err == nil {
		t.Fatalf("expected load failure for shape mismatch")
	}
}
