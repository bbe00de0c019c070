// Package model implements the recurrent encoder-decoder translation
// model that drives beam search. The encoder folds the source sentence
// into per-layer hidden vectors; the decoder advances one target token
// at a time and emits a probability distribution over the target
// vocabulary.
package model

import (
	"fmt"

	"github.com/s4sarath/rosetta/internal/beam"
	"github.com/s4sarath/rosetta/internal/tensor"
)

// ArchGRUSeq2Seq is the only architecture this runtime understands.
const ArchGRUSeq2Seq = "gru_seq2seq"

// Config mirrors the model-info JSON section of a bundle.
type Config struct {
	Arch     string `json:"arch"`
	DModel   int    `json:"d_model"`
	Hidden   int    `json:"hidden"`
	Layers   int    `json:"layers"`
	SrcVocab int    `json:"src_vocab"`
	TgtVocab int    `json:"tgt_vocab"`
}

func (c *Config) Validate() error {
	if c.Arch != ArchGRUSeq2Seq {
		return fmt.Errorf("model: unsupported arch %q", c.Arch)
	}
	if c.DModel <= 0 || c.Hidden <= 0 {
		return fmt.Errorf("model: d_model and hidden must be positive, got %d and %d", c.DModel, c.Hidden)
	}
	if c.Layers <= 0 {
		return fmt.Errorf("model: layers must be positive, got %d", c.Layers)
	}
	if c.SrcVocab <= 0 || c.TgtVocab <= 0 {
		return fmt.Errorf("model: vocab sizes must be positive, got %d and %d", c.SrcVocab, c.TgtVocab)
	}
	return nil
}

// Model holds the weights of a loaded translation model. Weights are
// read-only after loading, so a single Model may serve concurrent
// decodes.
type Model struct {
	Config Config

	SrcEmbed *tensor.Mat // [SrcVocab x DModel]
	TgtEmbed *tensor.Mat // [TgtVocab x DModel]
	Encoder  []Layer
	Decoder  []Layer
	ProjW    *tensor.Mat // [TgtVocab x Hidden]
	ProjB    []float32   // [TgtVocab]
}

var (
	_ beam.Encoder = (*Model)(nil)
	_ beam.Stepper = (*Model)(nil)
)

// decoderState carries the per-layer hidden vectors between decoder
// steps. A state is never mutated once created; Step reads its input
// state and returns a fresh one.
type decoderState struct {
	hidden [][]float32
}

// Encode folds the source token sequence into the decoder's initial
// state. An empty sequence yields the zero state.
func (m *Model) Encode(tokens []int) (beam.State, error) {
	hidden := make([][]float32, len(m.Encoder))
	for l := range hidden {
		hidden[l] = make([]float32, m.Config.Hidden)
	}
	x := make([]float32, m.Config.DModel)
	buf := newGRUScratch(m.Config.Hidden)
	for _, tok := range tokens {
		if tok < 0 || tok >= m.Config.SrcVocab {
			return nil, fmt.Errorf("model: source token %d out of range [0,%d)", tok, m.Config.SrcVocab)
		}
		m.SrcEmbed.RowTo(x, tok)
		in := x
		for l := range m.Encoder {
			hidden[l] = m.Encoder[l].step(in, hidden[l], buf)
			in = hidden[l]
		}
	}
	return &decoderState{hidden: hidden}, nil
}

// Step advances the decoder by one token. It returns the probability
// distribution over the target vocabulary and the successor state.
// Step is safe for concurrent use; all working buffers are per call.
func (m *Model) Step(prev int, state beam.State) ([]float32, beam.State, error) {
	st, ok := state.(*decoderState)
	if !ok {
		return nil, nil, fmt.Errorf("model: unexpected state type %T", state)
	}
	if len(st.hidden) != len(m.Decoder) {
		return nil, nil, fmt.Errorf("model: state has %d layers, decoder has %d", len(st.hidden), len(m.Decoder))
	}
	if prev < 0 || prev >= m.Config.TgtVocab {
		return nil, nil, fmt.Errorf("model: target token %d out of range [0,%d)", prev, m.Config.TgtVocab)
	}

	x := make([]float32, m.Config.DModel)
	m.TgtEmbed.RowTo(x, prev)
	buf := newGRUScratch(m.Config.Hidden)

	next := &decoderState{hidden: make([][]float32, len(m.Decoder))}
	in := x
	for l := range m.Decoder {
		next.hidden[l] = m.Decoder[l].step(in, st.hidden[l], buf)
		in = next.hidden[l]
	}

	probs := make([]float32, m.Config.TgtVocab)
	tensor.MatVec(probs, m.ProjW, in)
	tensor.Add(probs, m.ProjB)
	tensor.Softmax(probs)
	return probs, next, nil
}
