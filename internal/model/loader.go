package model

import (
	"errors"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/s4sarath/rosetta/internal/tensor"
	"github.com/s4sarath/rosetta/pkg/bundle"
)

// Load builds a Model from an open bundle. Weight matrices alias the
// bundle's data where possible, so the bundle must outlive the model.
func Load(bf *bundle.File) (*Model, error) {
	if bf == nil {
		return nil, errors.New("model: nil bundle")
	}

	infoSec := bf.Section(bundle.SectionModelInfo)
	if infoSec == nil {
		return nil, errors.New("model: bundle has no model-info section")
	}
	var cfg Config
	if err := json.Unmarshal(bf.SectionData(infoSec), &cfg); err != nil {
		return nil, fmt.Errorf("model: parse model info: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	idxSec := bf.Section(bundle.SectionTensorIndex)
	if idxSec == nil {
		return nil, errors.New("model: bundle has no tensor-index section")
	}
	dataSec := bf.Section(bundle.SectionTensorData)
	if dataSec == nil {
		return nil, errors.New("model: bundle has no tensor-data section")
	}
	ix, err := bundle.ParseTensorIndex(bf.SectionData(idxSec), dataSec.Size)
	if err != nil {
		return nil, fmt.Errorf("model: %w", err)
	}
	data := bf.SectionData(dataSec)

	m := &Model{Config: cfg}
	if m.SrcEmbed, err = loadMatShape(ix, data, "src_embed", cfg.SrcVocab, cfg.DModel); err != nil {
		return nil, err
	}
	if m.TgtEmbed, err = loadMatShape(ix, data, "tgt_embed", cfg.TgtVocab, cfg.DModel); err != nil {
		return nil, err
	}
	if m.Encoder, err = loadStack(ix, data, "enc", cfg); err != nil {
		return nil, err
	}
	if m.Decoder, err = loadStack(ix, data, "dec", cfg); err != nil {
		return nil, err
	}
	if m.ProjW, err = loadMatShape(ix, data, "proj.w", cfg.TgtVocab, cfg.Hidden); err != nil {
		return nil, err
	}
	if m.ProjB, err = loadVecLen(ix, data, "proj.b", cfg.TgtVocab); err != nil {
		return nil, err
	}
	return m, nil
}

// loadStack loads the GRU layers under prefix ("enc" or "dec"). Layer 0
// consumes embeddings, deeper layers consume the previous layer's
// hidden vector.
func loadStack(ix *bundle.TensorIndex, data []byte, prefix string, cfg Config) ([]Layer, error) {
	layers := make([]Layer, cfg.Layers)
	for i := range layers {
		in := cfg.DModel
		if i > 0 {
			in = cfg.Hidden
		}
		name := func(p string) string { return fmt.Sprintf("%s.l%d.%s", prefix, i, p) }

		var err error
		l := &layers[i]
		if l.Wz, err = loadMatShape(ix, data, name("wz"), cfg.Hidden, in); err != nil {
			return nil, err
		}
		if l.Uz, err = loadMatShape(ix, data, name("uz"), cfg.Hidden, cfg.Hidden); err != nil {
			return nil, err
		}
		if l.Bz, err = loadVecLen(ix, data, name("bz"), cfg.Hidden); err != nil {
			return nil, err
		}
		if l.Wr, err = loadMatShape(ix, data, name("wr"), cfg.Hidden, in); err != nil {
			return nil, err
		}
		if l.Ur, err = loadMatShape(ix, data, name("ur"), cfg.Hidden, cfg.Hidden); err != nil {
			return nil, err
		}
		if l.Br, err = loadVecLen(ix, data, name("br"), cfg.Hidden); err != nil {
			return nil, err
		}
		if l.Wh, err = loadMatShape(ix, data, name("wh"), cfg.Hidden, in); err != nil {
			return nil, err
		}
		if l.Uh, err = loadMatShape(ix, data, name("uh"), cfg.Hidden, cfg.Hidden); err != nil {
			return nil, err
		}
		if l.Bh, err = loadVecLen(ix, data, name("bh"), cfg.Hidden); err != nil {
			return nil, err
		}
	}
	return layers, nil
}

func loadMatShape(ix *bundle.TensorIndex, data []byte, name string, r, c int) (*tensor.Mat, error) {
	m, err := tensor.LoadMat(ix, data, name)
	if err != nil {
		return nil, fmt.Errorf("model: %w", err)
	}
	if m.R != r || m.C != c {
		return nil, fmt.Errorf("model: tensor %s has shape %dx%d, want %dx%d", name, m.R, m.C, r, c)
	}
	return m, nil
}

func loadVecLen(ix *bundle.TensorIndex, data []byte, name string, n int) ([]float32, error) {
	v, err := tensor.LoadVec(ix, data, name)
	if err != nil {
		return nil, fmt.Errorf("model: %w", err)
	}
	if len(v) != n {
		return nil, fmt.Errorf("model: tensor %s has %d elements, want %d", name, len(v), n)
	}
	return v, nil
}
