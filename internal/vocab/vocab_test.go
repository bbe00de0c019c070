package vocab

import (
	"errors"
	"reflect"
	"strings"
	"testing"
)

func testVocab(t *testing.T) *Vocab {
	t.Helper()
	v, err := FromFile(&File{
		Tokens:     []string{"<pad>", "<unk>", "<s>", "</s>", "the", "cat", "sat"},
		PadTokenID: 0,
		UnkTokenID: 1,
		BosTokenID: 2,
		EosTokenID: 3,
	})
	if err != nil {
		t.Fatalf("FromFile returned error: %v", err)
	}
	return v
}

func TestLoadJSON(t *testing.T) {
	src := `{
		"tokens": ["<pad>", "<unk>", "<s>", "</s>", "hallo"],
		"pad_token_id": 0,
		"unk_token_id": 1,
		"bos_token_id": 2,
		"eos_token_id": 3
	}`
	v, err := Load(strings.NewReader(src))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if v.Size() != 5 {
		t.Fatalf("unexpected size: got %d want 5", v.Size())
	}
	if v.EOS() != 3 || v.BOS() != 2 {
		t.Fatalf("unexpected special ids: bos=%d eos=%d", v.BOS(), v.EOS())
	}
	if got := v.ID("hallo"); got != 4 {
		t.Fatalf("unexpected id for hallo: got %d want 4", got)
	}
}

func TestEncodeUnknownFallsBack(t *testing.T) {
	v := testVocab(t)
	got := v.Encode("the dog sat")
	want := []int{4, v.Unk(), 6}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected encoding: got %v want %v", got, want)
	}
}

func TestEncodeEmpty(t *testing.T) {
	v := testVocab(t)
	if got := v.Encode("   "); len(got) != 0 {
		t.Fatalf("expected no tokens for blank input, got %v", got)
	}
}

func TestDecodeSkipsSpecials(t *testing.T) {
	v := testVocab(t)
	got := v.Decode([]int{2, 4, 5, 6, 3, 0})
	if want := "the cat sat"; got != want {
		t.Fatalf("unexpected text: got %q want %q", got, want)
	}
}

func TestTokenOutOfRange(t *testing.T) {
	v := testVocab(t)
	if got := v.Token(99); got != "<unk>" {
		t.Fatalf("expected unknown token for out-of-range id, got %q", got)
	}
	if got := v.Token(-1); got != "<unk>" {
		t.Fatalf("expected unknown token for negative id, got %q", got)
	}
}

func TestFromFileRejectsBadInput(t *testing.T) {
	cases := []struct {
		name string
		file File
	}{
		{"empty table", File{}},
		{"special out of range", File{Tokens: []string{"a"}, EosTokenID: 5}},
		{"duplicate token", File{Tokens: []string{"a", "a"}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := FromFile(&tc.file); !errors.Is(err, ErrInvalidVocab) {
				t.Fatalf("expected ErrInvalidVocab, got %v", err)
			}
		})
	}
}

func TestLoadRejectsMalformedJSON(t *testing.T) {
	if _, err := Load(strings.NewReader("{not json")); err == nil {
		t.Fatalf("expected decode error")
	}
}
