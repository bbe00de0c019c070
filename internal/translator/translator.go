// Package translator turns source-language text into target-language
// text by running the encoder-decoder model under beam search.
package translator

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/s4sarath/rosetta/internal/beam"
	"github.com/s4sarath/rosetta/internal/logger"
	"github.com/s4sarath/rosetta/internal/memory"
	"github.com/s4sarath/rosetta/internal/vocab"
)

// ErrEmptyInput is returned when the source text has no content.
var ErrEmptyInput = errors.New("translator: empty input text")

// Default decode parameters, used when neither the translator config
// nor the per-call options set them.
const (
	DefaultBeamWidth = 4
	DefaultMaxSteps  = 128
)

// Seq2Seq is the model surface the translator drives.
type Seq2Seq interface {
	beam.Encoder
	beam.Stepper
}

// Memory caches finished translations by exact source text. Lookup
// misses report ok == false with a nil error. *memory.Store satisfies
// this interface.
type Memory interface {
	Lookup(ctx context.Context, sourceText string) (memory.Record, bool, error)
	Put(ctx context.Context, rec memory.Record) error
}

// Config carries translator-wide decode defaults.
type Config struct {
	BeamWidth int
	MaxSteps  int
	// Parallel bounds concurrent decoder steps within one search round.
	Parallel int
	Logger   logger.Logger
	// Memory, when set, is consulted before decoding and updated with
	// every finished translation. Memory failures are logged, never
	// surfaced to callers.
	Memory Memory
}

// Options overrides decode parameters for a single call. Zero fields
// fall back to the translator defaults.
type Options struct {
	BeamWidth int
	MaxSteps  int
}

// Translation is the result of decoding one source sentence.
type Translation struct {
	SourceText string        `json:"source_text"`
	Text       string        `json:"text"`
	TokenIDs   []int         `json:"token_ids"`
	TokenCount int           `json:"token_count"`
	Score      float64       `json:"score"`
	AvgLogProb float64       `json:"avg_log_prob"`
	Finished   bool          `json:"finished"`
	Cached     bool          `json:"cached"`
	Steps      int           `json:"steps"`
	Duration   time.Duration `json:"duration"`
}

// Translator binds a model and its vocabularies to beam-search decoding.
// It is safe for concurrent use.
type Translator struct {
	model Seq2Seq
	src   *vocab.Vocab
	tgt   *vocab.Vocab
	cfg   Config
	log   logger.Logger
	mem   Memory

	closer interface{ Close() error }
	info   ModelInfo
}

// ModelInfo describes the loaded model for status surfaces.
type ModelInfo struct {
	Path         string `json:"path,omitempty"`
	Arch         string `json:"arch"`
	DModel       int    `json:"d_model"`
	Hidden       int    `json:"hidden"`
	Layers       int    `json:"layers"`
	SrcVocabSize int    `json:"src_vocab_size"`
	TgtVocabSize int    `json:"tgt_vocab_size"`
	FileSize     int64  `json:"file_size,omitempty"`
}

// New builds a Translator around an in-memory model and vocabularies.
func New(m Seq2Seq, src, tgt *vocab.Vocab, cfg Config) *Translator {
	if cfg.BeamWidth <= 0 {
		cfg.BeamWidth = DefaultBeamWidth
	}
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = DefaultMaxSteps
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Default()
	}
	return &Translator{
		model: m,
		src:   src,
		tgt:   tgt,
		cfg:   cfg,
		log:   cfg.Logger,
		mem:   cfg.Memory,
		info: ModelInfo{
			SrcVocabSize: src.Size(),
			TgtVocabSize: tgt.Size(),
		},
	}
}

// Info reports metadata about the loaded model.
func (t *Translator) Info() ModelInfo { return t.info }

// Close releases the underlying bundle, if the translator owns one.
func (t *Translator) Close() error {
	if t.closer == nil {
		return nil
	}
	return t.closer.Close()
}

// Translate decodes a single source sentence. Beam-search errors pass
// through unwrapped so callers can classify them.
func (t *Translator) Translate(ctx context.Context, text string, opts Options) (*Translation, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyInput
	}
	width := opts.BeamWidth
	if width <= 0 {
		width = t.cfg.BeamWidth
	}
	steps := opts.MaxSteps
	if steps <= 0 {
		steps = t.cfg.MaxSteps
	}

	started := time.Now()
	if t.mem != nil {
		if rec, ok, err := t.mem.Lookup(ctx, text); err != nil {
			t.log.Warn("translation memory lookup failed", "error", err)
		} else if ok {
			t.log.Debug("translation memory hit", "id", rec.ID)
			return &Translation{
				SourceText: text,
				Text:       rec.TargetText,
				TokenCount: rec.TokenCount,
				Score:      rec.Score,
				AvgLogProb: rec.AvgLogProb,
				Finished:   true,
				Cached:     true,
				Duration:   time.Since(started),
			}, nil
		}
	}

	srcTokens := t.src.Encode(text)
	srcTokens = append(srcTokens, t.src.EOS())

	state, err := t.model.Encode(srcTokens)
	if err != nil {
		return nil, fmt.Errorf("translator: encode source: %w", err)
	}

	search := beam.New(t.model, beam.Config{
		Start:    t.tgt.BOS(),
		Stop:     t.tgt.EOS(),
		Width:    width,
		MaxSteps: steps,
		Parallel: t.cfg.Parallel,
	})
	res, err := search.Decode(ctx, state)
	if err != nil {
		return nil, err
	}

	generated := len(res.Tokens) - 1
	if generated < 1 {
		generated = 1
	}
	tr := &Translation{
		SourceText: text,
		Text:       t.tgt.Decode(res.Tokens),
		TokenIDs:   res.Tokens,
		TokenCount: len(res.Tokens),
		Score:      res.Score,
		AvgLogProb: -res.Score / float64(generated),
		Finished:   res.Finished,
		Steps:      res.Steps,
		Duration:   time.Since(started),
	}

	// Truncated outputs are budget artifacts, not translations; only
	// finished hypotheses enter the memory.
	if t.mem != nil && tr.Finished {
		rec := memory.Record{
			SourceText: text,
			TargetText: tr.Text,
			Score:      tr.Score,
			AvgLogProb: tr.AvgLogProb,
			TokenCount: tr.TokenCount,
			Finished:   true,
			Model:      t.info.Path,
		}
		if err := t.mem.Put(ctx, rec); err != nil {
			t.log.Warn("translation memory store failed", "error", err)
		}
	}

	t.log.Debug("translated",
		"src_tokens", len(srcTokens),
		"out_tokens", tr.TokenCount,
		"steps", tr.Steps,
		"score", tr.Score,
		"duration", tr.Duration,
	)
	return tr, nil
}

// TranslateAll decodes texts with up to workers concurrent decodes.
// Results and errors are index-aligned with texts; a failed input
// leaves a nil result and a non-nil error at its index without
// stopping the rest of the batch. Once ctx is cancelled the remaining
// inputs are marked with the context error. progress, when non-nil, is
// called after every attempted input and must be safe for concurrent
// use.
func (t *Translator) TranslateAll(ctx context.Context, texts []string, opts Options, workers int, progress func()) ([]*Translation, []error) {
	out := make([]*Translation, len(texts))
	errs := make([]error, len(texts))
	if len(texts) == 0 {
		return out, errs
	}
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if workers > len(texts) {
		workers = len(texts)
	}

	run := func(start, stride int) {
		for i := start; i < len(texts); i += stride {
			if err := ctx.Err(); err != nil {
				errs[i] = err
				continue
			}
			tr, err := t.Translate(ctx, texts[i], opts)
			if err != nil {
				errs[i] = err
			} else {
				out[i] = tr
			}
			if progress != nil {
				progress()
			}
		}
	}

	if workers <= 1 {
		run(0, 1)
		return out, errs
	}

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(start int) {
			defer wg.Done()
			run(start, workers)
		}(w)
	}
	wg.Wait()
	return out, errs
}
