package translator

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/s4sarath/rosetta/internal/model"
	"github.com/s4sarath/rosetta/internal/vocab"
	"github.com/s4sarath/rosetta/pkg/bundle"
)

// Open loads a translator from a bundle file on disk. The translator
// owns the bundle mapping; callers must Close it when done.
func Open(path string, cfg Config) (*Translator, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("translator: model path is required")
	}

	bf, err := bundle.Open(path)
	if err != nil {
		return nil, fmt.Errorf("translator: open bundle: %w", err)
	}
	cleanup := func(err error) (*Translator, error) {
		_ = bf.Close()
		return nil, err
	}

	m, err := model.Load(bf)
	if err != nil {
		return cleanup(err)
	}

	src, err := loadVocabSection(bf, bundle.SectionSourceVocab)
	if err != nil {
		return cleanup(err)
	}
	tgt, err := loadVocabSection(bf, bundle.SectionTargetVocab)
	if err != nil {
		return cleanup(err)
	}

	if src.Size() != m.Config.SrcVocab {
		return cleanup(fmt.Errorf("translator: source vocabulary has %d tokens, model expects %d", src.Size(), m.Config.SrcVocab))
	}
	if tgt.Size() != m.Config.TgtVocab {
		return cleanup(fmt.Errorf("translator: target vocabulary has %d tokens, model expects %d", tgt.Size(), m.Config.TgtVocab))
	}

	t := New(m, src, tgt, cfg)
	t.closer = bf
	t.info = ModelInfo{
		Path:         path,
		Arch:         m.Config.Arch,
		DModel:       m.Config.DModel,
		Hidden:       m.Config.Hidden,
		Layers:       m.Config.Layers,
		SrcVocabSize: src.Size(),
		TgtVocabSize: tgt.Size(),
		FileSize:     int64(bf.Header.FileSize),
	}
	return t, nil
}

func loadVocabSection(bf *bundle.File, typ bundle.SectionType) (*vocab.Vocab, error) {
	sec := bf.Section(typ)
	if sec == nil {
		return nil, fmt.Errorf("translator: bundle has no %s section", typ)
	}
	v, err := vocab.Load(bytes.NewReader(bf.SectionData(sec)))
	if err != nil {
		return nil, fmt.Errorf("translator: %s: %w", typ, err)
	}
	return v, nil
}
