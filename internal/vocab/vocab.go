// Package vocab loads prebuilt translation vocabularies and maps between
// words and token ids. Vocabulary construction (subword models, frequency
// cuts) happens offline; this package only performs lookup.
package vocab

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/goccy/go-json"
)

var ErrInvalidVocab = errors.New("vocab: invalid vocabulary")

// File is the on-disk JSON shape: the id-ordered token list plus the
// fixed special token ids the decoding engine is configured with.
type File struct {
	Tokens     []string `json:"tokens"`
	PadTokenID int      `json:"pad_token_id"`
	UnkTokenID int      `json:"unk_token_id"`
	BosTokenID int      `json:"bos_token_id"`
	EosTokenID int      `json:"eos_token_id"`
}

// Vocab is an immutable token table. Safe for concurrent use.
type Vocab struct {
	tokens []string
	ids    map[string]int

	pad int
	unk int
	bos int
	eos int
}

// Load reads a vocabulary from JSON.
func Load(r io.Reader) (*Vocab, error) {
	var f File
	if err := json.NewDecoder(r).Decode(&f); err != nil {
		return nil, fmt.Errorf("vocab: decode: %w", err)
	}
	return FromFile(&f)
}

// LoadFile reads a vocabulary from a JSON file on disk.
func LoadFile(path string) (*Vocab, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return Load(f)
}

// FromFile validates a decoded vocabulary file and builds the lookup
// table.
func FromFile(f *File) (*Vocab, error) {
	if len(f.Tokens) == 0 {
		return nil, fmt.Errorf("%w: no tokens", ErrInvalidVocab)
	}
	for _, id := range []int{f.PadTokenID, f.UnkTokenID, f.BosTokenID, f.EosTokenID} {
		if id < 0 || id >= len(f.Tokens) {
			return nil, fmt.Errorf("%w: special id %d outside table of %d tokens", ErrInvalidVocab, id, len(f.Tokens))
		}
	}

	v := &Vocab{
		tokens: f.Tokens,
		ids:    make(map[string]int, len(f.Tokens)),
		pad:    f.PadTokenID,
		unk:    f.UnkTokenID,
		bos:    f.BosTokenID,
		eos:    f.EosTokenID,
	}
	for id, tok := range f.Tokens {
		if _, dup := v.ids[tok]; dup {
			return nil, fmt.Errorf("%w: duplicate token %q", ErrInvalidVocab, tok)
		}
		v.ids[tok] = id
	}
	return v, nil
}

func (v *Vocab) Size() int { return len(v.tokens) }

func (v *Vocab) Pad() int { return v.pad }
func (v *Vocab) Unk() int { return v.unk }
func (v *Vocab) BOS() int { return v.bos }
func (v *Vocab) EOS() int { return v.eos }

// ID returns the id for a token, falling back to the unknown id.
func (v *Vocab) ID(token string) int {
	if id, ok := v.ids[token]; ok {
		return id
	}
	return v.unk
}

// Token returns the surface form for an id, or the unknown token for ids
// outside the table.
func (v *Vocab) Token(id int) string {
	if id < 0 || id >= len(v.tokens) {
		return v.tokens[v.unk]
	}
	return v.tokens[id]
}

// Encode maps whitespace-separated words to token ids. It adds no
// delimiter tokens; callers wrap with BOS/EOS as their model expects.
func (v *Vocab) Encode(text string) []int {
	fields := strings.Fields(text)
	ids := make([]int, 0, len(fields))
	for _, w := range fields {
		ids = append(ids, v.ID(w))
	}
	return ids
}

// Decode renders token ids back to text, dropping delimiter and padding
// tokens.
func (v *Vocab) Decode(ids []int) string {
	var b strings.Builder
	for _, id := range ids {
		if id == v.pad || id == v.bos || id == v.eos {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(v.Token(id))
	}
	return b.String()
}
